package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HLC is a hybrid logical clock producing lexicographically sortable
// timestamps. Catalog entries are stamped with HLC values so the order
// entries were appended can be checked independently of the log sequence.
type HLC struct {
	clock Clock

	mu           sync.Mutex
	lastPhysical int64
	logical      uint32
}

// NewHLC returns an HLC reading wall time from clk.
func NewHLC(clk Clock) *HLC {
	if clk == nil {
		clk = RealClock{}
	}
	return &HLC{clock: clk}
}

// Next returns the next timestamp. Timestamps are strictly increasing even
// when the wall clock stalls or steps backward.
func (h *HLC) Next() string {
	now := h.clock.Now().UnixNano()
	h.mu.Lock()
	if now > h.lastPhysical {
		h.lastPhysical = now
		h.logical = 0
	} else {
		h.logical++
	}
	physical := h.lastPhysical
	logical := h.logical
	h.mu.Unlock()
	return formatTimestamp(physical, logical)
}

// Observe advances the clock if ts is ahead of the local state. It reports
// whether the clock moved.
func (h *HLC) Observe(ts string) bool {
	physical, logical, ok := parseTimestamp(ts)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case physical > h.lastPhysical:
		h.lastPhysical = physical
		h.logical = logical
		return true
	case physical == h.lastPhysical && logical > h.logical:
		h.logical = logical
		return true
	}
	return false
}

// ValidTimestamp reports whether ts parses as an HLC timestamp.
func ValidTimestamp(ts string) bool {
	_, _, ok := parseTimestamp(ts)
	return ok
}

// TimestampTime returns the wall-clock component of ts.
func TimestampTime(ts string) (time.Time, bool) {
	physical, _, ok := parseTimestamp(ts)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, physical).UTC(), true
}

func parseTimestamp(ts string) (int64, uint32, bool) {
	parts := strings.SplitN(ts, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	physical, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	logical64, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return physical, uint32(logical64), true
}

func formatTimestamp(physical int64, logical uint32) string {
	return fmt.Sprintf("%019d-%010d", physical, logical)
}
