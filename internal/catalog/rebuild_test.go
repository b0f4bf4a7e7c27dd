package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kk-code-lab/chronolake/internal/storage/chunkfile"
)

func TestParseChunkFileName(t *testing.T) {
	t.Parallel()
	table, partition, id, ok := parseChunkFileName("cpu_2023-01-01T00_00000003.clc")
	if !ok || table != "cpu" || partition != "2023-01-01T00" || id != 3 {
		t.Fatalf("got %q %q %d %v", table, partition, id, ok)
	}
	// Partition keys may contain underscores; the table never does, so the
	// key is everything between the first and last separator.
	table, partition, id, ok = parseChunkFileName("disk_io_east_2023_00000000.clc")
	if !ok || table != "disk" || partition != "io_east_2023" || id != 0 {
		t.Fatalf("got %q %q %d %v", table, partition, id, ok)
	}
	for _, bad := range []string{"cpu.clc", "cpu_p_x.clc", "cpu_p_1.dat", "_p_1.clc", "cpu__1.clc", "cpu_1.clc"} {
		if _, _, _, ok := parseChunkFileName(bad); ok {
			t.Fatalf("parseChunkFileName(%q) accepted", bad)
		}
	}
}

func TestRebuildDiscoversDurableChunks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	good := filepath.Join(dir, "cpu_2023-01-01T00_00000000.clc")
	if _, err := chunkfile.Write(good, 1, 42, []byte("rows")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// A torn file must be skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "cpu_2023-01-01T00_00000001.clc"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat := NewMem()
	// Pre-existing state must be discarded by the rebuild.
	if _, err := cat.Append(ctx, Entry{Kind: KindChunkCreated, Table: "old", Partition: "p", ChunkID: 7}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result, err := Rebuild(ctx, cat, testHLC(), dir)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if result.Discovered != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v", result)
	}

	entries := cat.Entries()
	if len(entries) != 1 {
		t.Fatalf("catalog holds %d entries after rebuild", len(entries))
	}
	entry := entries[0]
	if entry.Kind != KindChunkPersisted || entry.Table != "cpu" || entry.ChunkID != 0 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Payload.Rows != 42 || entry.Payload.Path != good {
		t.Fatalf("unexpected payload: %+v", entry.Payload)
	}
}

func TestRebuildEmptyDir(t *testing.T) {
	t.Parallel()
	cat := NewMem()
	result, err := Rebuild(context.Background(), cat, testHLC(), filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if result.Discovered != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v", result)
	}
}
