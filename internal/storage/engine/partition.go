package engine

import (
	"fmt"
	"sync"
	"time"
)

// Partition owns the ordered chunks for one table and partition key. All
// chunk mutations within a partition are serialized by its mutex; distinct
// partitions proceed concurrently.
type Partition struct {
	Table string
	Key   string

	mu          sync.Mutex
	chunks      []*Chunk // creation order, dropped chunks kept as tombstones
	nextChunkID uint32
}

func newPartition(table, key string) *Partition {
	return &Partition{Table: table, Key: key}
}

func (p *Partition) name() string {
	return p.Table + "/" + p.Key
}

func chunkName(table, key string, id uint32) string {
	return fmt.Sprintf("%s/%s/%d", table, key, id)
}

// openChunk returns the single mutable chunk, or nil. Callers hold p.mu.
func (p *Partition) openChunk() *Chunk {
	for i := len(p.chunks) - 1; i >= 0; i-- {
		if p.chunks[i].State == ChunkOpen {
			return p.chunks[i]
		}
	}
	return nil
}

// findChunk returns the chunk with the given id, dropped tombstones included.
// Callers hold p.mu.
func (p *Partition) findChunk(id uint32) *Chunk {
	for _, c := range p.chunks {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// addChunk appends a chunk in the given state and advances the id sequence.
// Callers hold p.mu and have already recorded the catalog entry.
func (p *Partition) addChunk(state ChunkState, now time.Time) *Chunk {
	c := &Chunk{
		ID:        p.nextChunkID,
		State:     state,
		CreatedAt: now,
	}
	p.nextChunkID++
	p.chunks = append(p.chunks, c)
	return c
}

// restoreChunk re-creates a chunk during catalog replay, keeping the id
// sequence monotonic past the restored id.
func (p *Partition) restoreChunk(id uint32, state ChunkState, now time.Time) *Chunk {
	c := &Chunk{
		ID:        id,
		State:     state,
		CreatedAt: now,
	}
	p.chunks = append(p.chunks, c)
	if id >= p.nextChunkID {
		p.nextChunkID = id + 1
	}
	return c
}

// summaries renders all non-dropped chunks in creation order. Callers hold p.mu.
func (p *Partition) summaries() []ChunkSummary {
	out := make([]ChunkSummary, 0, len(p.chunks))
	for _, c := range p.chunks {
		if c.State == ChunkDropped {
			continue
		}
		out = append(out, c.summary(p.Table, p.Key))
	}
	return out
}

// PartitionSummary is the externally visible view of a partition.
type PartitionSummary struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Chunks int    `json:"chunks"`
}
