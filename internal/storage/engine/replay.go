package engine

import (
	"fmt"

	"github.com/kk-code-lab/chronolake/internal/catalog"
	"github.com/kk-code-lab/chronolake/internal/storage/chunkfile"
)

// ApplyCatalogEntry folds one preserved catalog entry into the in-memory
// state during replay. Entries arrive in append order; no catalog writes
// happen here. Replayed chunks carry no row buffer: reads on them fall
// through to durable storage, and chunks restored as open start empty.
func (e *Engine) ApplyCatalogEntry(entry catalog.Entry) error {
	switch entry.Kind {
	case catalog.KindPartitionCreated:
		e.restorePartition(entry.Table, entry.Partition)
		return nil

	case catalog.KindChunkCreated:
		p := e.restorePartition(entry.Table, entry.Partition)
		p.mu.Lock()
		// A chunk is only ever created after its predecessor froze, so an
		// earlier chunk still marked open must have been closing when the
		// entry was written. Restoring it as such keeps the one-open-chunk
		// invariant across restarts.
		if prev := p.openChunk(); prev != nil {
			prev.State = ChunkClosing
			prev.ClosedAt = e.clk.Now()
		}
		p.restoreChunk(entry.ChunkID, ChunkOpen, e.clk.Now())
		p.mu.Unlock()
		return nil

	case catalog.KindChunkPersisted:
		if entry.Payload.Path != "" {
			footer, err := chunkfile.Verify(entry.Payload.Path)
			if err != nil {
				return fmt.Errorf("%s: durable artifact failed verification: %w", entry.Describe(), err)
			}
			if entry.Payload.Checksum != "" && catalog.ChecksumString(footer.Checksum) != entry.Payload.Checksum {
				return fmt.Errorf("%s: durable artifact checksum %s does not match recorded %s",
					entry.Describe(), catalog.ChecksumString(footer.Checksum), entry.Payload.Checksum)
			}
		}
		p := e.restorePartition(entry.Table, entry.Partition)
		p.mu.Lock()
		c := p.findChunk(entry.ChunkID)
		if c == nil {
			c = p.restoreChunk(entry.ChunkID, ChunkPersisted, e.clk.Now())
		}
		c.State = ChunkPersisted
		c.Rows = entry.Payload.Rows
		c.SizeBytes = entry.Payload.SizeBytes
		c.Path = entry.Payload.Path
		c.Checksum = entry.Payload.Checksum
		c.buffer = nil
		p.mu.Unlock()
		return nil

	case catalog.KindChunkDropped:
		p := e.restorePartition(entry.Table, entry.Partition)
		p.mu.Lock()
		c := p.findChunk(entry.ChunkID)
		if c == nil {
			// Keep the tombstone so chunk ids stay monotonic across restarts.
			c = p.restoreChunk(entry.ChunkID, ChunkDropped, e.clk.Now())
		}
		c.State = ChunkDropped
		c.buffer = nil
		p.mu.Unlock()
		return nil

	case catalog.KindPartitionDropped:
		e.mu.Lock()
		delete(e.partitions, partitionMapKey(entry.Table, entry.Partition))
		e.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("%s: unknown entry kind", entry.Describe())
	}
}

// restorePartition is getOrCreatePartition without the catalog write, for
// replay only.
func (e *Engine) restorePartition(table, key string) *Partition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.partitions[partitionMapKey(table, key)]; ok {
		return p
	}
	p := newPartition(table, key)
	e.partitions[partitionMapKey(table, key)] = p
	return p
}
