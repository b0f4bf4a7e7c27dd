package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"aborted", ErrAbortedByUser, 2},
		{"wrapped aborted", fmt.Errorf("wipe: %w", ErrAbortedByUser), 2},
		{"coded", &exitCodeError{code: 3, msg: "operation failed"}, 3},
		{"plain", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestNormalizeJSONValue(t *testing.T) {
	t.Parallel()
	var nilSlice []string
	if got := normalizeJSONValue(nilSlice).([]string); got == nil || len(got) != 0 {
		t.Fatalf("nil slice not normalized: %#v", got)
	}
	var nilMap map[string]int
	if got := normalizeJSONValue(nilMap).(map[string]int); got == nil || len(got) != 0 {
		t.Fatalf("nil map not normalized: %#v", got)
	}
	if got := normalizeJSONValue(nil); got != nil {
		t.Fatalf("nil not preserved: %#v", got)
	}
	if got := normalizeJSONValue(42); got != 42 {
		t.Fatalf("scalar changed: %#v", got)
	}
}
