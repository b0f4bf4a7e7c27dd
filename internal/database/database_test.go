package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

func createTestDatabase(t *testing.T, layout fs.Layout, name string) *Database {
	t.Helper()
	db, err := Create(Options{Name: name, Layout: layout, ServerID: "srv-1"}, rules.Rules{Name: name})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })
	db.Initialize(context.Background())
	if st := db.Status(); st.State != StateInitialized {
		t.Fatalf("state after init = %s (err=%s)", st.State, st.Error)
	}
	return db
}

func TestCreateInitializeLifecycle(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db := createTestDatabase(t, layout, "orders")

	st := db.Status()
	if st.Name != "orders" || st.ID == "" || st.Error != "" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if _, err := os.Stat(layout.RulesPath("orders")); err != nil {
		t.Fatalf("rules file: %v", err)
	}
	if _, err := os.Stat(layout.OwnershipPath("orders")); err != nil {
		t.Fatalf("ownership file: %v", err)
	}
}

func TestEngineUnavailableBeforeInitialize(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db, err := Create(Options{Name: "pending", Layout: layout}, rules.Rules{Name: "pending"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer db.Close()

	if _, err := db.Engine(); apierror.KindOf(err) != apierror.KindUnavailable {
		t.Fatalf("expected unavailable before init, got %v", err)
	}
}

func TestRestartReplaysDurableState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	layout := fs.NewLayout(t.TempDir())

	db := createTestDatabase(t, layout, "metrics")
	eng, err := db.Engine()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := eng.Write(ctx, "cpu", "p1", 7, []byte("seven rows")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := eng.Rollover(ctx, "cpu", "p1"); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if _, err := eng.PersistPartition(ctx, "cpu", "p1", false); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := Open(Options{Name: "metrics", Layout: layout, ServerID: "srv-2"})
	defer reopened.Close()
	reopened.Initialize(ctx)
	st := reopened.Status()
	if st.State != StateInitialized {
		t.Fatalf("state after restart = %s (err=%s)", st.State, st.Error)
	}
	if st.ID != db.ID().String() {
		t.Fatalf("identifier changed across restart: %s != %s", st.ID, db.ID())
	}

	eng2, err := reopened.Engine()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	chunks, err := eng2.PartitionChunks("cpu", "p1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Rows != 7 {
		t.Fatalf("replayed chunks: %+v", chunks)
	}
}

func TestReplayFailureIsolatesAndSkipReplayRecovers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	layout := fs.NewLayout(t.TempDir())

	db := createTestDatabase(t, layout, "billing")
	eng, err := db.Engine()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := eng.Write(ctx, "invoices", "p1", 2, []byte("rows")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := eng.Rollover(ctx, "invoices", "p1"); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if _, err := eng.PersistPartition(ctx, "invoices", "p1", false); err != nil {
		t.Fatalf("persist: %v", err)
	}
	chunks, err := eng.PartitionChunks("invoices", "p1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	db.Close()

	// Damage the durable artifact so replay trips on its entry.
	raw, err := os.ReadFile(chunks[0].Path)
	if err != nil {
		t.Fatalf("read chunk file: %v", err)
	}
	raw[len(raw)/2] ^= 0xff
	if err := os.WriteFile(chunks[0].Path, raw, 0o644); err != nil {
		t.Fatalf("write chunk file: %v", err)
	}

	reopened := Open(Options{Name: "billing", Layout: layout})
	defer reopened.Close()
	reopened.Initialize(ctx)
	st := reopened.Status()
	if st.State != StateReplayError {
		t.Fatalf("state = %s, want %s", st.State, StateReplayError)
	}
	if !strings.Contains(st.Error, "chunk-persisted") {
		t.Fatalf("error does not name the failing entry: %s", st.Error)
	}

	if err := reopened.SkipReplay(); err != nil {
		t.Fatalf("skip replay: %v", err)
	}
	st = reopened.Status()
	if st.State != StateInitialized || st.Warning == "" || st.Error != "" {
		t.Fatalf("status after skip: %+v", st)
	}
	// Skip-replay is one-shot: the database is initialized now.
	if err := reopened.SkipReplay(); !apierror.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestSkipReplayRejectedWhenHealthy(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db := createTestDatabase(t, layout, "healthy")
	if err := db.SkipReplay(); !apierror.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestReleaseAndClaim(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db := createTestDatabase(t, layout, "tenant")

	wrong := uuid.New()
	if _, err := db.Release(&wrong); !apierror.IsAlreadyExists(err) {
		t.Fatalf("expected identifier conflict, got %v", err)
	}

	id, err := db.Release(nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if st := db.Status(); st.State != StateReleased {
		t.Fatalf("state = %s, want %s", st.State, StateReleased)
	}
	marker, err := ReadOwnership(layout.OwnershipPath("tenant"))
	if err != nil {
		t.Fatalf("read ownership: %v", err)
	}
	if !marker.Released || marker.ID != id {
		t.Fatalf("marker = %+v", marker)
	}

	// Released databases reject lifecycle and data-path calls.
	if _, err := db.Release(nil); !apierror.IsInvalidState(err) {
		t.Fatalf("double release: %v", err)
	}
	if _, err := db.Engine(); err == nil {
		t.Fatal("engine served while released")
	}

	if err := db.Claim(uuid.New()); !apierror.IsNotFound(err) {
		t.Fatalf("claim with wrong id: %v", err)
	}
	if err := db.Claim(id); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if st := db.Status(); st.State != StateInitialized {
		t.Fatalf("state after claim = %s", st.State)
	}
}

func TestReleasedSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	layout := fs.NewLayout(t.TempDir())

	db := createTestDatabase(t, layout, "drifting")
	id, err := db.Release(nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	db.Close()

	reopened := Open(Options{Name: "drifting", Layout: layout})
	defer reopened.Close()
	reopened.Initialize(ctx)
	if st := reopened.Status(); st.State != StateReleased {
		t.Fatalf("state after restart = %s, want %s", st.State, StateReleased)
	}
	if err := reopened.Claim(id); err != nil {
		t.Fatalf("claim after restart: %v", err)
	}
}

func TestUpdateRulesRequiresInitialized(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db := createTestDatabase(t, layout, "tuned")

	updated, err := db.UpdateRules(rules.Rules{Name: "tuned", ChunkCloseRows: 500})
	if err != nil {
		t.Fatalf("update rules: %v", err)
	}
	if updated.Active().ChunkCloseRows != 500 {
		t.Fatalf("active close rows = %d", updated.Active().ChunkCloseRows)
	}
	// The submitted document keeps only what the tenant provided.
	if v := updated.View(true); v.MutableBufferBytes != 0 {
		t.Fatalf("omit-defaults view carries defaults: %+v", v)
	}

	if _, err := db.UpdateRules(rules.Rules{Name: "other"}); err == nil {
		t.Fatal("expected name mismatch to fail")
	}

	if _, err := db.Release(nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := db.UpdateRules(rules.Rules{Name: "tuned"}); !apierror.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestWipeCatalogRejectsMidCreation(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())
	db, err := Create(Options{Name: "raw", Layout: layout}, rules.Rules{Name: "raw"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer db.Close()
	// Not initialized: still mid-creation.
	if _, err := db.WipeCatalog(context.Background()); !apierror.IsAlreadyExists(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestWipeCatalogRebuildsFromDurableFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	layout := fs.NewLayout(t.TempDir())

	db := createTestDatabase(t, layout, "repairme")
	eng, err := db.Engine()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := eng.Write(ctx, "cpu", "p1", 3, []byte("durable rows")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := eng.Rollover(ctx, "cpu", "p1"); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if _, err := eng.PersistPartition(ctx, "cpu", "p1", false); err != nil {
		t.Fatalf("persist: %v", err)
	}
	// A second partition that never persisted: its metadata exists only in
	// the catalog and will not survive the wipe.
	if _, err := eng.Write(ctx, "cpu", "p2", 1, []byte("volatile")); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := db.WipeCatalog(ctx)
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if res.Discovered != 1 {
		t.Fatalf("discovered = %d, want 1", res.Discovered)
	}

	eng, err = db.Engine()
	if err != nil {
		t.Fatalf("engine after wipe: %v", err)
	}
	parts := eng.PartitionKeys()
	if len(parts) != 1 || parts[0].Key != "p1" {
		t.Fatalf("partitions after wipe: %+v", parts)
	}
	got, err := eng.ReadChunk(ctx, "cpu", "p1", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "durable rows" {
		t.Fatalf("read %q", got)
	}
}
