// Package server is the registry and control surface over all databases of
// one serving instance. It validates names, routes calls to the right
// database, and shapes responses; lifecycle logic lives in
// internal/database and chunk logic in internal/storage/engine.
package server

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/clock"
	"github.com/kk-code-lab/chronolake/internal/database"
	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

// Options configures a server.
type Options struct {
	ID      string
	Layout  fs.Layout
	Clock   clock.Clock
	Tracker *ops.Tracker
}

// Server owns the database registry. Serving databases live in databases;
// released ones are detached into released, keyed by identifier, until
// claimed back.
type Server struct {
	id      string
	layout  fs.Layout
	clk     clock.Clock
	tracker *ops.Tracker

	mu          sync.Mutex
	databases   map[string]*database.Database
	released    map[uuid.UUID]*database.Database
	initialized bool
	initErr     error
}

// ServerStatus is the global bootstrap view.
type ServerStatus struct {
	Initialized bool              `json:"initialized"`
	Error       string            `json:"error,omitempty"`
	Databases   []database.Status `json:"databases"`
}

// New builds a registry. Call Bootstrap to discover databases on disk.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Tracker == nil {
		opts.Tracker = ops.NewTracker(opts.Clock)
	}
	return &Server{
		id:        opts.ID,
		layout:    opts.Layout,
		clk:       opts.Clock,
		tracker:   opts.Tracker,
		databases: make(map[string]*database.Database),
		released:  make(map[uuid.UUID]*database.Database),
	}
}

// Tracker exposes the operation tracker for the transport layer.
func (s *Server) Tracker() *ops.Tracker { return s.tracker }

// Bootstrap scans the data directory, registers every database directory
// found, and begins initializing them concurrently through the tracker.
// The server reports initialized once every discovered database has left
// its transient states. The returned operations let callers observe the
// individual initializations.
func (s *Server) Bootstrap(ctx context.Context) ([]*ops.Operation, error) {
	names, err := s.layout.ListDatabaseDirs()
	if err != nil {
		s.mu.Lock()
		s.initErr = err
		s.mu.Unlock()
		return nil, apierror.Internal("server", s.id, err)
	}

	var spawned []*ops.Operation
	s.mu.Lock()
	for _, name := range names {
		if _, ok := s.databases[name]; ok {
			continue
		}
		db := database.Open(database.Options{
			Name:     name,
			Layout:   s.layout,
			Clock:    s.clk,
			ServerID: s.id,
		})
		s.databases[name] = db
		spawned = append(spawned, s.spawnInitialize(db))
	}
	s.mu.Unlock()

	go func() {
		for _, op := range spawned {
			op.Wait()
		}
		s.mu.Lock()
		s.sweepReleasedLocked()
		s.initialized = true
		s.mu.Unlock()
		log.Printf("server=%s bootstrap complete databases=%d", s.id, len(spawned))
	}()
	return spawned, nil
}

func (s *Server) spawnInitialize(db *database.Database) *ops.Operation {
	return s.tracker.Spawn(fmt.Sprintf("initialize database %s", db.Name()), func(ctx context.Context) (any, error) {
		db.Initialize(ctx)
		st := db.Status()
		if st.Error != "" {
			return st, fmt.Errorf("database %s: %s", st.Name, st.Error)
		}
		return st, nil
	})
}

// sweepReleasedLocked detaches databases that came up Released from disk.
func (s *Server) sweepReleasedLocked() {
	for name, db := range s.databases {
		if db.Status().State == database.StateReleased {
			delete(s.databases, name)
			s.released[db.ID()] = db
		}
	}
}

// CreateDatabase registers a new database and begins initializing it. The
// name must be unused, including by released databases still on disk.
func (s *Server) CreateDatabase(ctx context.Context, submitted rules.Rules) (database.Status, *ops.Operation, error) {
	if err := rules.ValidateName(submitted.Name); err != nil {
		return database.Status{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[submitted.Name]; ok {
		return database.Status{}, nil, apierror.AlreadyExists("database", submitted.Name)
	}
	for _, db := range s.released {
		if db.Name() == submitted.Name {
			return database.Status{}, nil, apierror.AlreadyExistsf("database", submitted.Name, "a released database holds this name")
		}
	}
	db, err := database.Create(database.Options{
		Name:     submitted.Name,
		Layout:   s.layout,
		Clock:    s.clk,
		ServerID: s.id,
	}, submitted)
	if err != nil {
		return database.Status{}, nil, err
	}
	s.databases[submitted.Name] = db
	op := s.spawnInitialize(db)
	log.Printf("server=%s db=%s created id=%s", s.id, db.Name(), db.ID())
	return db.Status(), op, nil
}

// GetDatabase returns the named serving database. Released databases are
// detached and report NotFound.
func (s *Server) GetDatabase(name string) (*database.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[name]
	if !ok {
		return nil, apierror.NotFound("database", name)
	}
	return db, nil
}

// UpdateDatabaseRules replaces the named database's rules and returns the
// merged active set.
func (s *Server) UpdateDatabaseRules(submitted rules.Rules) (rules.Rules, error) {
	db, err := s.GetDatabase(submitted.Name)
	if err != nil {
		return rules.Rules{}, err
	}
	provided, err := db.UpdateRules(submitted)
	if err != nil {
		return rules.Rules{}, err
	}
	return provided.Active(), nil
}

// ListDatabases returns the rules of every serving database, sorted by
// name. With omitDefaults the view is exactly what each tenant submitted;
// otherwise it is the merged active configuration.
func (s *Server) ListDatabases(omitDefaults bool) ([]rules.Rules, error) {
	s.mu.Lock()
	dbs := make([]*database.Database, 0, len(s.databases))
	for _, db := range s.databases {
		dbs = append(dbs, db)
	}
	s.mu.Unlock()

	out := make([]rules.Rules, 0, len(dbs))
	for _, db := range dbs {
		provided, err := db.Rules()
		if err != nil {
			// Databases stuck before rules load have nothing to show.
			continue
		}
		out = append(out, provided.View(omitDefaults))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListDetailedDatabases returns state, error, and identifier for every
// known database, sorted by name.
func (s *Server) ListDetailedDatabases() []database.Status {
	s.mu.Lock()
	dbs := make([]*database.Database, 0, len(s.databases))
	for _, db := range s.databases {
		dbs = append(dbs, db)
	}
	s.mu.Unlock()

	out := make([]database.Status, 0, len(dbs))
	for _, db := range dbs {
		out = append(out, db.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReleaseDatabase detaches the named database, returning its identifier
// for a later claim.
func (s *Server) ReleaseDatabase(name string, expected *uuid.UUID) (uuid.UUID, error) {
	db, err := s.GetDatabase(name)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := db.Release(expected)
	if err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	delete(s.databases, name)
	s.released[id] = db
	s.mu.Unlock()
	return id, nil
}

// ClaimDatabase re-attaches the released database carrying the identifier.
func (s *Server) ClaimDatabase(id uuid.UUID) (string, error) {
	s.mu.Lock()
	db, ok := s.released[id]
	s.mu.Unlock()
	if !ok {
		return "", apierror.NotFound("database", id.String())
	}
	if err := db.Claim(id); err != nil {
		return "", err
	}
	s.mu.Lock()
	delete(s.released, id)
	s.databases[db.Name()] = db
	s.mu.Unlock()
	return db.Name(), nil
}

// SkipReplay abandons a failed replay on the named database.
func (s *Server) SkipReplay(name string) error {
	db, err := s.GetDatabase(name)
	if err != nil {
		return err
	}
	return db.SkipReplay()
}

// WipePreservedCatalog rebuilds the named database's catalog from durable
// artifacts. The mid-creation check runs synchronously; the destructive
// rebuild itself is tracked.
func (s *Server) WipePreservedCatalog(name string) (*ops.Operation, error) {
	db, err := s.GetDatabase(name)
	if err != nil {
		return nil, err
	}
	switch db.Status().State {
	case database.StateKnown, database.StateRulesLoaded, database.StateReplaying:
		return nil, apierror.AlreadyExistsf("database", name, "creation in progress, wipe would race the initial catalog write")
	}
	op := s.tracker.Spawn(fmt.Sprintf("wipe preserved catalog of %s", name), func(ctx context.Context) (any, error) {
		return db.WipeCatalog(ctx)
	})
	return op, nil
}

// GetServerStatus reports bootstrap progress and every database's status,
// sorted by name for deterministic output.
func (s *Server) GetServerStatus() ServerStatus {
	s.mu.Lock()
	initialized, initErr := s.initialized, s.initErr
	s.mu.Unlock()

	st := ServerStatus{Initialized: initialized, Databases: s.ListDetailedDatabases()}
	if initErr != nil {
		st.Error = initErr.Error()
	}
	return st
}

// CreateDummyJob spawns a no-op tracked operation that sleeps for the
// given duration, for exercising the tracker end to end.
func (s *Server) CreateDummyJob(d string) (*ops.Operation, error) {
	dur, err := parseDuration(d)
	if err != nil {
		return nil, apierror.InvalidArgumentf("operation", "dummy", "bad duration %q: %v", d, err)
	}
	op := s.tracker.Spawn(fmt.Sprintf("dummy job (%s)", dur), func(ctx context.Context) (any, error) {
		return sleepCtx(ctx, dur)
	})
	return op, nil
}
