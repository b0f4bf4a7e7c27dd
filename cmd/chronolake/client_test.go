package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSubmittedRules(t *testing.T) {
	t.Parallel()

	submitted, err := loadSubmittedRules("", "tenant")
	if err != nil {
		t.Fatalf("loadSubmittedRules without file: %v", err)
	}
	if submitted.Name != "tenant" || submitted.ChunkCloseRows != 0 {
		t.Fatalf("expected bare rules for tenant, got %+v", submitted)
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "name: tenant\nchunk_close_rows: 500\nworker_concurrency: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	submitted, err = loadSubmittedRules(path, "tenant")
	if err != nil {
		t.Fatalf("loadSubmittedRules: %v", err)
	}
	if submitted.ChunkCloseRows != 500 || submitted.WorkerConcurrency != 2 {
		t.Fatalf("rules not read from file: %+v", submitted)
	}

	if _, err := loadSubmittedRules(path, "other"); err == nil {
		t.Fatalf("expected name mismatch error")
	}
}
