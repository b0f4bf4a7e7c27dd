// Package database implements the per-database lifecycle state machine:
// rules loading, catalog replay, release/claim ownership transfer, and the
// repair paths (skip-replay, catalog wipe-and-rebuild).
package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/catalog"
	"github.com/kk-code-lab/chronolake/internal/clock"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/engine"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

// State identifies where a database sits in its lifecycle.
type State string

const (
	// StateKnown: name registered, rules not yet loaded.
	StateKnown State = "known"
	// StateRulesLoaded: rules parsed and validated, replay not started.
	StateRulesLoaded State = "rules_loaded"
	// StateReplaying: catalog replay in progress.
	StateReplaying State = "replaying"
	// StateInitialized: serving.
	StateInitialized State = "initialized"
	// StateRulesLoadError: rules could not be loaded; terminal until repair.
	StateRulesLoadError State = "rules_load_error"
	// StateReplayError: replay failed; terminal until skip-replay or wipe.
	StateReplayError State = "replay_error"
	// StateReleased: detached from its owner, claimable by identifier.
	StateReleased State = "released"
)

// Options configures a database handle.
type Options struct {
	Name     string
	Layout   fs.Layout
	Clock    clock.Clock
	ServerID string
}

// Database is one tenant database. Lifecycle transitions are serialized by
// its mutex; a transition that is illegal in the current state fails
// immediately instead of queueing.
type Database struct {
	name     string
	layout   fs.Layout
	clk      clock.Clock
	hlc      *clock.HLC
	serverID string

	mu       sync.Mutex
	state    State
	initErr  error
	warning  string
	id       uuid.UUID
	provided *rules.Provided
	cat      *catalog.Store
	eng      *engine.Engine
}

// Status is the externally visible snapshot of a database's lifecycle.
type Status struct {
	Name    string `json:"name"`
	State   State  `json:"state"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Create lays down a fresh database directory: merged rules, an ownership
// marker with a newly allocated identifier, and an empty catalog. The
// returned database sits in Known; run Initialize to bring it up.
func Create(opts Options, submitted rules.Rules) (*Database, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	provided, err := rules.New(submitted)
	if err != nil {
		return nil, err
	}
	name := provided.Name()
	if err := opts.Layout.EnsureDatabaseDirs(name); err != nil {
		return nil, apierror.Internal("database", name, err)
	}
	if err := provided.Save(opts.Layout.RulesPath(name)); err != nil {
		return nil, apierror.Internal("database", name, err)
	}
	marker := Ownership{
		ID:        uuid.New(),
		ServerID:  opts.ServerID,
		UpdatedAt: opts.Clock.Now(),
	}
	if err := writeOwnership(opts.Layout.OwnershipPath(name), marker); err != nil {
		return nil, apierror.Internal("database", name, err)
	}
	return &Database{
		name:     name,
		layout:   opts.Layout,
		clk:      opts.Clock,
		hlc:      clock.NewHLC(opts.Clock),
		serverID: opts.ServerID,
		state:    StateKnown,
		id:       marker.ID,
	}, nil
}

// Open wraps an existing database directory discovered at bootstrap. Rules
// and ownership are read during Initialize, matching the lifecycle of a
// freshly created database.
func Open(opts Options) *Database {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Database{
		name:     opts.Name,
		layout:   opts.Layout,
		clk:      opts.Clock,
		hlc:      clock.NewHLC(opts.Clock),
		serverID: opts.ServerID,
		state:    StateKnown,
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Initialize runs the full startup pipeline: load rules, open the catalog,
// replay every entry. Failures park the database in the matching error
// state instead of propagating; callers inspect Status. Initialize is only
// legal from Known.
func (d *Database) Initialize(ctx context.Context) {
	d.mu.Lock()
	if d.state != StateKnown {
		d.mu.Unlock()
		log.Printf("db=%s init skipped state=%s", d.name, d.state)
		return
	}

	if err := d.loadRulesLocked(); err != nil {
		d.state = StateRulesLoadError
		d.initErr = err
		d.mu.Unlock()
		log.Printf("db=%s state=%s err=%q", d.name, StateRulesLoadError, err)
		return
	}
	d.state = StateRulesLoaded

	if err := d.openCatalogLocked(); err != nil {
		d.state = StateRulesLoadError
		d.initErr = err
		d.mu.Unlock()
		log.Printf("db=%s state=%s err=%q", d.name, StateRulesLoadError, err)
		return
	}

	d.state = StateReplaying
	cat, eng := d.cat, d.eng
	d.mu.Unlock()

	// Replay runs without the lock: control-surface reads stay responsive
	// and observe Replaying. Transitions out of Replaying only happen here.
	start := d.clk.Now()
	var entries int64
	err := cat.Replay(ctx, func(entry catalog.Entry) error {
		entries++
		d.hlc.Observe(entry.HLC)
		return eng.ApplyCatalogEntry(entry)
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = StateReplayError
		d.initErr = fmt.Errorf("replay: %w", err)
		log.Printf("db=%s state=%s entries=%d err=%q", d.name, StateReplayError, entries, err)
		return
	}
	if d.releasedOnDisk() {
		d.state = StateReleased
	} else {
		d.state = StateInitialized
	}
	log.Printf("db=%s state=%s entries=%d elapsed=%s", d.name, d.state, entries, time.Since(start).Round(time.Millisecond))
}

func (d *Database) loadRulesLocked() error {
	provided, err := rules.Load(d.layout.RulesPath(d.name))
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if provided.Name() != d.name {
		return fmt.Errorf("rules: file names database %q, directory is %q", provided.Name(), d.name)
	}
	marker, err := ReadOwnership(d.layout.OwnershipPath(d.name))
	if err != nil {
		return fmt.Errorf("ownership: %w", err)
	}
	d.provided = provided
	d.id = marker.ID
	return nil
}

func (d *Database) releasedOnDisk() bool {
	marker, err := ReadOwnership(d.layout.OwnershipPath(d.name))
	return err == nil && marker.Released
}

func (d *Database) openCatalogLocked() error {
	cat, err := catalog.Open(d.layout.CatalogPath(d.name))
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	eng, err := engine.New(engine.Options{
		Database: d.name,
		Layout:   d.layout,
		Catalog:  cat,
		HLC:      d.hlc,
		Clock:    d.clk,
		Rules:    d.provided.Active(),
	})
	if err != nil {
		cat.Close()
		return err
	}
	d.cat = cat
	d.eng = eng
	return nil
}

// Status returns the current lifecycle snapshot.
func (d *Database) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Name: d.name, State: d.state, Warning: d.warning}
	if d.id != uuid.Nil {
		st.ID = d.id.String()
	}
	if d.initErr != nil {
		st.Error = d.initErr.Error()
	}
	return st
}

// ID returns the database identifier, or uuid.Nil before rules load.
func (d *Database) ID() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Rules returns the provided/active rules pair. Fails until rules are
// loaded.
func (d *Database) Rules() (*rules.Provided, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.provided == nil {
		return nil, apierror.Unavailablef("database", d.name, "rules not loaded (state %s)", d.state)
	}
	return d.provided, nil
}

// UpdateRules replaces the database's rules. Only legal once Initialized.
// The merged active rules take effect immediately.
func (d *Database) UpdateRules(submitted rules.Rules) (*rules.Provided, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInitialized {
		return nil, apierror.InvalidStatef("database", d.name, "rules update requires an initialized database, state is %s", d.state)
	}
	if submitted.Name != d.name {
		return nil, apierror.InvalidArgumentf("database", d.name, "rules name %q does not match database", submitted.Name)
	}
	provided, err := rules.New(submitted)
	if err != nil {
		return nil, err
	}
	if err := provided.Save(d.layout.RulesPath(d.name)); err != nil {
		return nil, apierror.Internal("database", d.name, err)
	}
	d.provided = provided
	d.eng.SetRules(provided.Active())
	return provided, nil
}

// Engine returns the chunk/partition engine. Partition and chunk calls are
// only legal once the database is Initialized.
func (d *Database) Engine() (*engine.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInitialized {
		return nil, apierror.Unavailablef("database", d.name, "not initialized (state %s)", d.state)
	}
	return d.eng, nil
}

// Release detaches the database from this server. Only legal from
// Initialized. A supplied identifier must match the current one; the
// returned identifier lets the caller claim the database back later.
func (d *Database) Release(expected *uuid.UUID) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInitialized {
		return uuid.Nil, apierror.InvalidStatef("database", d.name, "release requires an initialized database, state is %s", d.state)
	}
	if expected != nil && *expected != d.id {
		return uuid.Nil, apierror.AlreadyExistsf("database", d.name,
			"identifier mismatch: database carries %s, request named %s", d.id, *expected)
	}
	marker := Ownership{ID: d.id, Released: true, UpdatedAt: d.clk.Now()}
	if err := writeOwnership(d.layout.OwnershipPath(d.name), marker); err != nil {
		return uuid.Nil, apierror.Internal("database", d.name, err)
	}
	d.state = StateReleased
	log.Printf("db=%s released id=%s", d.name, d.id)
	return d.id, nil
}

// Claim re-attaches a released database. The identifier must match; the
// database returns to Initialized without re-running replay since its
// catalog state never left memory.
func (d *Database) Claim(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReleased {
		return apierror.InvalidStatef("database", d.name, "claim requires a released database, state is %s", d.state)
	}
	if id != d.id {
		return apierror.NotFound("database", id.String())
	}
	marker := Ownership{ID: d.id, ServerID: d.serverID, UpdatedAt: d.clk.Now()}
	if err := writeOwnership(d.layout.OwnershipPath(d.name), marker); err != nil {
		return apierror.Internal("database", d.name, err)
	}
	d.state = StateInitialized
	log.Printf("db=%s claimed id=%s", d.name, d.id)
	return nil
}

// SkipReplay abandons a failed replay and forces the database into service
// with whatever state replayed before the failure. Only legal from
// ReplayError.
func (d *Database) SkipReplay() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReplayError {
		return apierror.InvalidStatef("database", d.name, "skip-replay requires state %s, state is %s", StateReplayError, d.state)
	}
	d.warning = fmt.Sprintf("replay skipped, durable state may be missing: %v", d.initErr)
	d.initErr = nil
	d.state = StateInitialized
	log.Printf("db=%s replay skipped", d.name)
	return nil
}

// WipeCatalog discards the preserved catalog and rebuilds it from the
// durable chunk artifacts still discoverable on disk, then replays the
// rebuilt catalog into a clean engine. It refuses to run while the database
// is mid-creation (Known, RulesLoaded, or Replaying) to avoid racing the
// initial catalog writes.
func (d *Database) WipeCatalog(ctx context.Context) (*catalog.RebuildResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateKnown, StateRulesLoaded, StateReplaying:
		return nil, apierror.AlreadyExistsf("database", d.name,
			"creation in progress (state %s), wipe would race the initial catalog write", d.state)
	}
	if d.cat == nil {
		if err := d.loadRulesLocked(); err != nil {
			return nil, apierror.Internal("database", d.name, err)
		}
		if err := d.openCatalogLocked(); err != nil {
			return nil, apierror.Internal("database", d.name, err)
		}
	}

	res, err := catalog.Rebuild(ctx, d.cat, d.hlc, d.layout.ChunksDir(d.name))
	if err != nil {
		return nil, apierror.Internal("catalog", d.name, err)
	}
	d.eng.Reset()
	err = d.cat.Replay(ctx, func(entry catalog.Entry) error {
		d.hlc.Observe(entry.HLC)
		return d.eng.ApplyCatalogEntry(entry)
	})
	if err != nil {
		d.state = StateReplayError
		d.initErr = fmt.Errorf("replay after wipe: %w", err)
		return res, apierror.Internal("database", d.name, err)
	}
	d.initErr = nil
	d.warning = ""
	if d.state != StateReleased {
		d.state = StateInitialized
	}
	log.Printf("db=%s catalog wiped discovered=%d skipped=%d", d.name, res.Discovered, res.Skipped)
	return res, nil
}

// Close releases the catalog handle.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cat != nil {
		return d.cat.Close()
	}
	return nil
}
