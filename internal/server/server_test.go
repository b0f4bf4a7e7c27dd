package server

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/database"
	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/engine"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Options{ID: "srv-test", Layout: fs.NewLayout(t.TempDir())})
}

// createAndWait creates a database and blocks until initialization settles.
func createAndWait(t *testing.T, s *Server, name string) {
	t.Helper()
	_, op, err := s.CreateDatabase(context.Background(), rules.Rules{Name: name})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	op.Wait()
	db, err := s.GetDatabase(name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	if st := db.Status(); st.State != database.StateInitialized {
		t.Fatalf("%s state = %s (err=%s)", name, st.State, st.Error)
	}
}

func TestCreateDatabaseAndDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createAndWait(t, s, "orders")

	if _, _, err := s.CreateDatabase(context.Background(), rules.Rules{Name: "orders"}); !apierror.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, _, err := s.CreateDatabase(context.Background(), rules.Rules{Name: "-bad-name"}); apierror.KindOf(err) != apierror.KindInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestListDatabasesViews(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_, op, err := s.CreateDatabase(context.Background(), rules.Rules{Name: "tuned", ChunkCloseRows: 123})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	op.Wait()
	createAndWait(t, s, "bare")

	submitted, err := s.ListDatabases(true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(submitted) != 2 || submitted[0].Name != "bare" || submitted[1].Name != "tuned" {
		t.Fatalf("unexpected listing: %+v", submitted)
	}
	// Omit-defaults returns exactly what the tenant sent.
	if submitted[0].ChunkCloseRows != 0 || submitted[1].ChunkCloseRows != 123 {
		t.Fatalf("submitted views carry defaults: %+v", submitted)
	}

	active, err := s.ListDatabases(false)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if active[0].ChunkCloseRows != rules.DefaultChunkCloseRows || active[1].ChunkCloseRows != 123 {
		t.Fatalf("active views: %+v", active)
	}
}

func TestUpdateDatabaseRules(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createAndWait(t, s, "tunable")

	active, err := s.UpdateDatabaseRules(rules.Rules{Name: "tunable", WorkerConcurrency: 8})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if active.WorkerConcurrency != 8 {
		t.Fatalf("active concurrency = %d", active.WorkerConcurrency)
	}
	if _, err := s.UpdateDatabaseRules(rules.Rules{Name: "nope"}); !apierror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReleaseAndClaimThroughRegistry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createAndWait(t, s, "tenant")

	id, err := s.ReleaseDatabase("tenant", nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	// Released databases are detached from the serving set.
	if _, err := s.GetDatabase("tenant"); !apierror.IsNotFound(err) {
		t.Fatalf("expected not found after release, got %v", err)
	}
	// The name stays taken while the released database sits on disk.
	if _, _, err := s.CreateDatabase(context.Background(), rules.Rules{Name: "tenant"}); !apierror.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}

	if _, err := s.ClaimDatabase(uuid.New()); !apierror.IsNotFound(err) {
		t.Fatalf("claim with unknown id: %v", err)
	}
	name, err := s.ClaimDatabase(id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if name != "tenant" {
		t.Fatalf("claimed name = %s", name)
	}
	if _, err := s.GetDatabase("tenant"); err != nil {
		t.Fatalf("get after claim: %v", err)
	}
}

func TestBootstrapDiscoversAndSortsStatus(t *testing.T) {
	t.Parallel()
	layout := fs.NewLayout(t.TempDir())

	first := New(Options{ID: "srv-a", Layout: layout})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, op, err := first.CreateDatabase(context.Background(), rules.Rules{Name: name})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		op.Wait()
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		db, err := first.GetDatabase(name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		db.Close()
	}

	second := New(Options{ID: "srv-b", Layout: layout})
	spawned, err := second.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(spawned) != 3 {
		t.Fatalf("discovered %d databases, want 3", len(spawned))
	}
	for _, op := range spawned {
		op.Wait()
	}

	st := second.GetServerStatus()
	if len(st.Databases) != 3 {
		t.Fatalf("status lists %d databases", len(st.Databases))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if st.Databases[i].Name != want {
			t.Fatalf("status[%d] = %s, want %s", i, st.Databases[i].Name, want)
		}
		if st.Databases[i].State != database.StateInitialized {
			t.Fatalf("%s state = %s", want, st.Databases[i].State)
		}
	}
}

func TestChunkPassthroughsRequireInitialized(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	if _, err := s.ListPartitions("ghost"); !apierror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	createAndWait(t, s, "live")
	ctx := context.Background()
	if _, err := s.WriteChunkData(ctx, "live", "cpu", "p1", 5, []byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	parts, err := s.ListPartitions("live")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(parts) != 1 || parts[0].Key != "p1" {
		t.Fatalf("partitions: %+v", parts)
	}
	chunks, err := s.ListPartitionChunks("live", "cpu", "p1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Rows != 5 {
		t.Fatalf("chunks: %+v", chunks)
	}
}

func TestNewPartitionChunkTracksFreeze(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createAndWait(t, s, "live")
	ctx := context.Background()

	if _, err := s.WriteChunkData(ctx, "live", "cpu", "p1", 1, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	open, op, err := s.NewPartitionChunk(ctx, "live", "cpu", "p1")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if open.ID != 1 {
		t.Fatalf("new open chunk id = %d", open.ID)
	}
	if op == nil {
		t.Fatal("expected a freeze-and-move operation")
	}
	op.Wait()
	if sum := op.Summary(); sum.Status != ops.StatusSuccess {
		t.Fatalf("freeze op: %+v", sum)
	}
	chunks, err := s.ListPartitionChunks("live", "cpu", "p1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if chunks[0].State != engine.ChunkReadBuffer {
		t.Fatalf("chunk 0 state = %s", chunks[0].State)
	}
}

func TestPersistPartitionReturnsOperation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createAndWait(t, s, "live")
	ctx := context.Background()

	if _, err := s.WriteChunkData(ctx, "live", "cpu", "p1", 2, []byte("ab")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.NewPartitionChunk(ctx, "live", "cpu", "p1"); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if _, err := s.PersistPartition("live", "cpu", "missing", false); !apierror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	op, err := s.PersistPartition("live", "cpu", "p1", false)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	op.Wait()
	sum := op.Summary()
	if sum.Status != ops.StatusSuccess {
		t.Fatalf("persist op failed: %+v", sum)
	}
	chunks, err := s.ListPartitionChunks("live", "cpu", "p1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if chunks[0].State != engine.ChunkPersisted {
		t.Fatalf("chunk 0 state = %s", chunks[0].State)
	}
}

func TestWipePreservedCatalogViaRegistry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	if _, err := s.WipePreservedCatalog("ghost"); !apierror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	createAndWait(t, s, "repairme")
	op, err := s.WipePreservedCatalog("repairme")
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	op.Wait()
	if sum := op.Summary(); sum.Status != ops.StatusSuccess {
		t.Fatalf("wipe op: %+v", sum)
	}
}

func TestDummyJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	op, err := s.CreateDummyJob("10ms")
	if err != nil {
		t.Fatalf("dummy job: %v", err)
	}
	op.Wait()
	if sum := op.Summary(); sum.Status != ops.StatusSuccess {
		t.Fatalf("dummy job: %+v", sum)
	}
	if _, err := s.CreateDummyJob("not-a-duration"); apierror.KindOf(err) != apierror.KindInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
