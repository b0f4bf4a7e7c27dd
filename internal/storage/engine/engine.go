// Package engine owns the open/closing/persisting/dropping lifecycle of
// chunks within the partitions of one database. Every transition that
// changes durable state appends exactly one catalog entry before the
// in-memory transition commits.
package engine

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/catalog"
	"github.com/kk-code-lab/chronolake/internal/clock"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/chunkfile"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

// Options configures an engine instance.
type Options struct {
	Database string
	Layout   fs.Layout
	Catalog  catalog.Catalog
	HLC      *clock.HLC
	Clock    clock.Clock
	Rules    rules.Rules
}

// Engine manages partitions and chunks for one database.
type Engine struct {
	db      string
	layout  fs.Layout
	catalog catalog.Catalog
	hlc     *clock.HLC
	clk     clock.Clock

	mu         sync.RWMutex
	active     rules.Rules
	partitions map[string]*Partition
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Database == "" {
		return nil, errors.New("engine: database name required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog required")
	}
	if opts.HLC == nil {
		opts.HLC = clock.NewHLC(opts.Clock)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Engine{
		db:         opts.Database,
		layout:     opts.Layout,
		catalog:    opts.Catalog,
		hlc:        opts.HLC,
		clk:        opts.Clock,
		active:     opts.Rules,
		partitions: make(map[string]*Partition),
	}, nil
}

// SetRules swaps the active lifecycle policy.
func (e *Engine) SetRules(active rules.Rules) {
	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
}

func (e *Engine) rulesSnapshot() rules.Rules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func partitionMapKey(table, key string) string {
	return table + "\x00" + key
}

func (e *Engine) lookupPartition(table, key string) *Partition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.partitions[partitionMapKey(table, key)]
}

// getOrCreatePartition returns the partition, creating it (and recording
// partition-created) on first use of a new key.
func (e *Engine) getOrCreatePartition(ctx context.Context, table, key string) (*Partition, error) {
	if table == "" || key == "" {
		return nil, apierror.InvalidArgumentf("partition", table+"/"+key, "table and partition key required")
	}
	if p := e.lookupPartition(table, key); p != nil {
		return p, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.partitions[partitionMapKey(table, key)]; ok {
		return p, nil
	}
	_, err := e.catalog.Append(ctx, catalog.Entry{
		HLC:       e.hlc.Next(),
		Kind:      catalog.KindPartitionCreated,
		Table:     table,
		Partition: key,
	})
	if err != nil {
		return nil, apierror.Internal("catalog", e.db, err)
	}
	p := newPartition(table, key)
	e.partitions[partitionMapKey(table, key)] = p
	return p, nil
}

// createOpenChunk records chunk-created and adds the chunk. Callers hold p.mu.
func (e *Engine) createOpenChunk(ctx context.Context, p *Partition) (*Chunk, error) {
	_, err := e.catalog.Append(ctx, catalog.Entry{
		HLC:       e.hlc.Next(),
		Kind:      catalog.KindChunkCreated,
		Table:     p.Table,
		Partition: p.Key,
		ChunkID:   p.nextChunkID,
	})
	if err != nil {
		return nil, apierror.Internal("catalog", e.db, err)
	}
	return p.addChunk(ChunkOpen, e.clk.Now()), nil
}

// Write appends rows to the partition's open chunk, creating the partition
// and an open chunk id 0 on first write to a new key. When the open chunk
// crosses the active close thresholds it is frozen; the next write opens a
// fresh chunk.
func (e *Engine) Write(ctx context.Context, table, key string, rowCount uint64, block []byte) (ChunkSummary, error) {
	if err := validateTableName(table); err != nil {
		return ChunkSummary{}, err
	}
	if err := validatePartitionKey(key); err != nil {
		return ChunkSummary{}, err
	}
	p, err := e.getOrCreatePartition(ctx, table, key)
	if err != nil {
		return ChunkSummary{}, err
	}
	active := e.rulesSnapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	open := p.openChunk()
	if open == nil {
		open, err = e.createOpenChunk(ctx, p)
		if err != nil {
			return ChunkSummary{}, err
		}
	}
	open.Rows += rowCount
	open.SizeBytes += int64(len(block))
	open.buffer = append(open.buffer, block...)

	if (active.ChunkCloseRows > 0 && open.Rows >= uint64(active.ChunkCloseRows)) ||
		(active.MutableBufferBytes > 0 && open.SizeBytes >= active.MutableBufferBytes) {
		open.ClosedAt = e.clk.Now()
		_ = open.transition(chunkName(table, key, open.ID), ChunkClosing)
	}
	return open.summary(table, key), nil
}

// Rollover freezes the current open chunk (if it holds rows) and creates a
// new empty open chunk. Partitions are created on demand. It returns the id
// of the frozen chunk, if any, and the new open chunk.
func (e *Engine) Rollover(ctx context.Context, table, key string) (frozen *uint32, open ChunkSummary, err error) {
	p, err := e.getOrCreatePartition(ctx, table, key)
	if err != nil {
		return nil, ChunkSummary{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if current := p.openChunk(); current != nil {
		if current.Rows == 0 {
			// Nothing to freeze; the empty open chunk is the rollover target.
			return nil, current.summary(table, key), nil
		}
		current.ClosedAt = e.clk.Now()
		if err := current.transition(chunkName(table, key, current.ID), ChunkClosing); err != nil {
			return nil, ChunkSummary{}, err
		}
		id := current.ID
		frozen = &id
	}
	chunk, err := e.createOpenChunk(ctx, p)
	if err != nil {
		// Roll the freeze back so the call leaves no half-applied state.
		if frozen != nil {
			p.findChunk(*frozen).State = ChunkOpen
		}
		return nil, ChunkSummary{}, err
	}
	return frozen, chunk.summary(table, key), nil
}

// CloseChunk freezes the chunk with the given id. Closing an already
// immutable chunk is a no-op; a dropped or unknown chunk is NotFound.
func (e *Engine) CloseChunk(ctx context.Context, table, key string, chunkID uint32) (ChunkSummary, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return ChunkSummary{}, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findChunk(chunkID)
	if c == nil || c.State == ChunkDropped {
		return ChunkSummary{}, apierror.NotFound("chunk", chunkName(table, key, chunkID))
	}
	if c.State == ChunkOpen {
		c.ClosedAt = e.clk.Now()
		if err := c.transition(chunkName(table, key, chunkID), ChunkClosing); err != nil {
			return ChunkSummary{}, err
		}
	}
	return c.summary(table, key), nil
}

// MoveChunkToReadBuffer moves a frozen chunk out of the mutable buffer into
// its immutable in-memory representation. This is the asynchronous half of a
// rollover and is typically run through the operation tracker.
func (e *Engine) MoveChunkToReadBuffer(ctx context.Context, table, key string, chunkID uint32) (ChunkSummary, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return ChunkSummary{}, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findChunk(chunkID)
	if c == nil || c.State == ChunkDropped {
		return ChunkSummary{}, apierror.NotFound("chunk", chunkName(table, key, chunkID))
	}
	if err := c.transition(chunkName(table, key, chunkID), ChunkReadBuffer); err != nil {
		return ChunkSummary{}, err
	}
	return c.summary(table, key), nil
}

// UnloadReadBuffer drops the in-memory representation of a persisted chunk,
// keeping the catalog pointing at durable storage. Unloading a chunk that
// was never persisted would lose data and fails with a conflict.
func (e *Engine) UnloadReadBuffer(ctx context.Context, table, key string, chunkID uint32) (ChunkSummary, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return ChunkSummary{}, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findChunk(chunkID)
	if c == nil || c.State == ChunkDropped {
		return ChunkSummary{}, apierror.NotFound("chunk", chunkName(table, key, chunkID))
	}
	if c.State != ChunkPersisted {
		return ChunkSummary{}, apierror.InvalidStatef("chunk", chunkName(table, key, chunkID),
			"cannot unload chunk in state %s: only persisted chunks may drop their in-memory copy", c.State)
	}
	if err := c.transition(chunkName(table, key, chunkID), ChunkUnloaded); err != nil {
		return ChunkSummary{}, err
	}
	c.buffer = nil
	return c.summary(table, key), nil
}

// DropChunk removes one chunk's metadata and schedules deletion of its
// durable artifact. An open chunk must be closed first.
func (e *Engine) DropChunk(ctx context.Context, table, key string, chunkID uint32) error {
	p := e.lookupPartition(table, key)
	if p == nil {
		return apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.dropChunkLocked(ctx, p, chunkID)
}

func (e *Engine) dropChunkLocked(ctx context.Context, p *Partition, chunkID uint32) error {
	c := p.findChunk(chunkID)
	if c == nil || c.State == ChunkDropped {
		return apierror.NotFound("chunk", chunkName(p.Table, p.Key, chunkID))
	}
	if c.State == ChunkOpen {
		return apierror.InvalidStatef("chunk", chunkName(p.Table, p.Key, chunkID), "open chunk must be closed before dropping")
	}
	_, err := e.catalog.Append(ctx, catalog.Entry{
		HLC:       e.hlc.Next(),
		Kind:      catalog.KindChunkDropped,
		Table:     p.Table,
		Partition: p.Key,
		ChunkID:   chunkID,
	})
	if err != nil {
		return apierror.Internal("catalog", e.db, err)
	}
	c.State = ChunkDropped
	c.buffer = nil
	if c.Path != "" {
		_ = os.Remove(c.Path)
	}
	return nil
}

// DropPartition drops every chunk in the partition and then the partition
// itself. The open chunk, if any, is frozen first so the cascade only ever
// drops immutable chunks.
func (e *Engine) DropPartition(ctx context.Context, table, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.partitions[partitionMapKey(table, key)]
	if !ok {
		return apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if open := p.openChunk(); open != nil {
		open.ClosedAt = e.clk.Now()
		if err := open.transition(chunkName(table, key, open.ID), ChunkClosing); err != nil {
			return err
		}
	}
	for _, c := range p.chunks {
		if c.State == ChunkDropped {
			continue
		}
		if err := e.dropChunkLocked(ctx, p, c.ID); err != nil {
			return err
		}
	}
	_, err := e.catalog.Append(ctx, catalog.Entry{
		HLC:       e.hlc.Next(),
		Kind:      catalog.KindPartitionDropped,
		Table:     table,
		Partition: key,
	})
	if err != nil {
		return apierror.Internal("catalog", e.db, err)
	}
	delete(e.partitions, partitionMapKey(table, key))
	return nil
}

// ReadChunk returns the chunk's rows, falling back to durable storage when
// the in-memory representation has been unloaded.
func (e *Engine) ReadChunk(ctx context.Context, table, key string, chunkID uint32) ([]byte, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return nil, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findChunk(chunkID)
	if c == nil || c.State == ChunkDropped {
		return nil, apierror.NotFound("chunk", chunkName(table, key, chunkID))
	}
	if c.buffer != nil {
		return append([]byte(nil), c.buffer...), nil
	}
	if c.Path != "" {
		block, _, err := chunkfile.Read(c.Path)
		if err != nil {
			return nil, apierror.Internal("chunk", chunkName(table, key, chunkID), err)
		}
		return block, nil
	}
	return nil, nil
}

// PartitionKeys returns all partition identifiers sorted for deterministic
// output.
func (e *Engine) PartitionKeys() []PartitionSummary {
	e.mu.RLock()
	parts := make([]*Partition, 0, len(e.partitions))
	for _, p := range e.partitions {
		parts = append(parts, p)
	}
	e.mu.RUnlock()

	out := make([]PartitionSummary, 0, len(parts))
	for _, p := range parts {
		p.mu.Lock()
		n := 0
		for _, c := range p.chunks {
			if c.State != ChunkDropped {
				n++
			}
		}
		p.mu.Unlock()
		out = append(out, PartitionSummary{Table: p.Table, Key: p.Key, Chunks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// GetPartition returns one partition's summary.
func (e *Engine) GetPartition(table, key string) (PartitionSummary, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return PartitionSummary{}, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.chunks {
		if c.State != ChunkDropped {
			n++
		}
	}
	return PartitionSummary{Table: p.Table, Key: p.Key, Chunks: n}, nil
}

// PartitionChunks returns the chunk summaries of one partition in creation
// order.
func (e *Engine) PartitionChunks(table, key string) ([]ChunkSummary, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return nil, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summaries(), nil
}

// ChunkSummaries returns every chunk across all partitions, sorted by table,
// partition key, and chunk id.
func (e *Engine) ChunkSummaries() []ChunkSummary {
	e.mu.RLock()
	parts := make([]*Partition, 0, len(e.partitions))
	for _, p := range e.partitions {
		parts = append(parts, p)
	}
	e.mu.RUnlock()

	var out []ChunkSummary
	for _, p := range parts {
		p.mu.Lock()
		out = append(out, p.summaries()...)
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		if out[i].Partition != out[j].Partition {
			return out[i].Partition < out[j].Partition
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset discards all in-memory partition state, e.g. before a catalog
// replay.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.partitions = make(map[string]*Partition)
	e.mu.Unlock()
}
