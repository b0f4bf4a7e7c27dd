package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kk-code-lab/chronolake/internal/clock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testHLC() *clock.HLC {
	return clock.NewHLC(&clock.FakeClock{Time: time.Unix(1000, 0)})
}

func TestStoreAppendReplayOrder(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	hlc := testHLC()
	ctx := context.Background()

	appended := []Entry{
		{HLC: hlc.Next(), Kind: KindPartitionCreated, Table: "cpu", Partition: "2023-01-01T00"},
		{HLC: hlc.Next(), Kind: KindChunkCreated, Table: "cpu", Partition: "2023-01-01T00", ChunkID: 0},
		{HLC: hlc.Next(), Kind: KindChunkPersisted, Table: "cpu", Partition: "2023-01-01T00", ChunkID: 0,
			Payload: Payload{Rows: 10, SizeBytes: 512, Path: "/x/cpu_2023-01-01T00_00000000.clc", Checksum: "ab"}},
		{HLC: hlc.Next(), Kind: KindChunkDropped, Table: "cpu", Partition: "2023-01-01T00", ChunkID: 0},
	}
	var seqs []int64
	for _, entry := range appended {
		seq, err := store.Append(ctx, entry)
		if err != nil {
			t.Fatalf("Append(%s): %v", entry.Kind, err)
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence not increasing: %v", seqs)
		}
	}

	var replayed []Entry
	if err := store.Replay(ctx, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != len(appended) {
		t.Fatalf("replayed %d entries, want %d", len(replayed), len(appended))
	}
	for i, entry := range replayed {
		if entry.Kind != appended[i].Kind || entry.ChunkID != appended[i].ChunkID {
			t.Fatalf("entry %d out of order: %+v", i, entry)
		}
		if entry.Payload != appended[i].Payload {
			t.Fatalf("entry %d payload mismatch: %+v vs %+v", i, entry.Payload, appended[i].Payload)
		}
	}
}

func TestStoreReplaySurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	ctx := context.Background()
	hlc := testHLC()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Append(ctx, Entry{HLC: hlc.Next(), Kind: KindChunkCreated, Table: "cpu", Partition: "p", ChunkID: 3}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	var count int
	if err := reopened.Replay(ctx, func(e Entry) error {
		count++
		if e.ChunkID != 3 {
			t.Fatalf("chunk id = %d", e.ChunkID)
		}
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 1 {
		t.Fatalf("replayed %d entries", count)
	}
}

func TestStoreReplayDetectsTampering(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.Append(ctx, Entry{HLC: testHLC().Next(), Kind: KindChunkCreated, Table: "cpu", Partition: "p", ChunkID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "UPDATE catalog_log SET chunk_id = 9"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	err := store.Replay(ctx, func(Entry) error { return nil })
	if err == nil {
		t.Fatal("Replay accepted tampered entry")
	}
}

func TestStoreWipeResetsSequence(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	hlc := testHLC()
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, Entry{HLC: hlc.Next(), Kind: KindChunkCreated, Table: "cpu", Partition: "p", ChunkID: uint32(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Wipe(ctx); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	n, err := store.Len(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Len after wipe = %d, %v", n, err)
	}
	seq, err := store.Append(ctx, Entry{HLC: hlc.Next(), Kind: KindChunkCreated, Table: "cpu", Partition: "p", ChunkID: 0})
	if err != nil {
		t.Fatalf("Append after wipe: %v", err)
	}
	if seq != 1 {
		t.Fatalf("sequence after wipe = %d, want 1", seq)
	}
}
