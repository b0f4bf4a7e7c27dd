package rules

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kk-code-lab/chronolake/internal/apierror"
)

func TestNewMergesDefaults(t *testing.T) {
	t.Parallel()
	provided, err := New(Rules{Name: "metrics"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	original := provided.Original()
	if original.PartitionTemplate != "" || original.ChunkCloseAge != 0 {
		t.Fatalf("original rules mutated: %+v", original)
	}
	active := provided.Active()
	if active.PartitionTemplate != DefaultPartitionTemplate {
		t.Fatalf("active template = %q", active.PartitionTemplate)
	}
	if active.MutableBufferBytes != DefaultMutableBufferBytes {
		t.Fatalf("active buffer bytes = %d", active.MutableBufferBytes)
	}
	if active.WorkerConcurrency != DefaultWorkerConcurrency {
		t.Fatalf("active concurrency = %d", active.WorkerConcurrency)
	}
}

func TestNewKeepsSubmittedValues(t *testing.T) {
	t.Parallel()
	provided, err := New(Rules{
		Name:          "metrics",
		ChunkCloseAge: time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if provided.Active().ChunkCloseAge != time.Minute {
		t.Fatalf("submitted value overridden: %v", provided.Active().ChunkCloseAge)
	}
	if provided.View(true).ChunkCloseAge != time.Minute {
		t.Fatalf("omit-defaults view lost submitted value")
	}
	if provided.View(false).PersistAge != DefaultPersistAge {
		t.Fatalf("merged view missing default")
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	valid := []string{"metrics", "a", "db-1", "Weather_2023", "x0123456789"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q): %v", name, err)
		}
	}
	invalid := []string{"", "-leading", "_leading", "has space", "has/slash", "dot.name", "naïve",
		"0123456789012345678901234567890123456789012345678901234567890123456789"}
	for _, name := range invalid {
		err := ValidateName(name)
		if err == nil {
			t.Fatalf("ValidateName(%q) accepted", name)
		}
		if apierror.KindOf(err) != apierror.KindInvalidArgument {
			t.Fatalf("ValidateName(%q) kind = %v", name, apierror.KindOf(err))
		}
	}
}

func TestValidateFields(t *testing.T) {
	t.Parallel()
	if _, err := New(Rules{Name: "m", ChunkCloseRows: -1}); err == nil {
		t.Fatal("negative chunk_close_rows accepted")
	}
	if _, err := New(Rules{Name: "m", PartitionTemplate: "static"}); err == nil {
		t.Fatal("constant partition template accepted")
	}
	if _, err := New(Rules{Name: "m", PartitionTemplate: "2006-01-02"}); err != nil {
		t.Fatalf("daily template rejected: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	provided, err := New(Rules{Name: "metrics", PersistAge: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := provided.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Original() != provided.Original() {
		t.Fatalf("round trip changed original: %+v vs %+v", loaded.Original(), provided.Original())
	}
	if loaded.Active().PersistAge != time.Hour {
		t.Fatalf("loaded active persist age = %v", loaded.Active().PersistAge)
	}
	if loaded.Active().ChunkCloseAge != DefaultChunkCloseAge {
		t.Fatalf("defaults not re-merged on load")
	}
}
