package engine

import (
	"time"

	"github.com/kk-code-lab/chronolake/internal/apierror"
)

// ChunkState is a chunk's lifecycle state. States only move forward:
// Open → Closing → ReadBuffer → Persisting → Persisted → Unloaded, with
// Dropped reachable from every non-terminal state except Open.
type ChunkState string

const (
	ChunkOpen       ChunkState = "Open"
	ChunkClosing    ChunkState = "Closing"
	ChunkReadBuffer ChunkState = "ReadBuffer"
	ChunkPersisting ChunkState = "Persisting"
	ChunkPersisted  ChunkState = "Persisted"
	ChunkUnloaded   ChunkState = "Unloaded"
	ChunkDropped    ChunkState = "Dropped"
)

var chunkTransitions = map[ChunkState][]ChunkState{
	ChunkOpen:       {ChunkClosing},
	ChunkClosing:    {ChunkReadBuffer, ChunkPersisting, ChunkDropped},
	ChunkReadBuffer: {ChunkPersisting, ChunkDropped},
	ChunkPersisting: {ChunkPersisted, ChunkDropped},
	ChunkPersisted:  {ChunkUnloaded, ChunkPersisting, ChunkDropped},
	ChunkUnloaded:   {ChunkDropped},
	ChunkDropped:    nil,
}

func canTransition(from, to ChunkState) bool {
	for _, next := range chunkTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Chunk is one partition-scoped unit of rows. Ids are monotonic within a
// partition and never reused.
type Chunk struct {
	ID        uint32
	State     ChunkState
	Rows      uint64
	SizeBytes int64

	// Path and Checksum locate the durable copy once persisted.
	Path     string
	Checksum string

	CreatedAt time.Time
	ClosedAt  time.Time

	// buffer holds the in-memory row block. nil once unloaded or when the
	// chunk was reconstructed from the catalog.
	buffer []byte
}

func (c *Chunk) transition(name string, to ChunkState) error {
	if !canTransition(c.State, to) {
		return apierror.InvalidStatef("chunk", name, "cannot move from %s to %s", c.State, to)
	}
	c.State = to
	return nil
}

// mutable reports whether the chunk still accepts writes.
func (c *Chunk) mutable() bool {
	return c.State == ChunkOpen
}

// durable reports whether a verified copy exists in durable storage.
func (c *Chunk) durable() bool {
	switch c.State {
	case ChunkPersisted, ChunkUnloaded:
		return true
	}
	return false
}

// ChunkSummary is the externally visible view of a chunk.
type ChunkSummary struct {
	Table     string     `json:"table"`
	Partition string     `json:"partition"`
	ID        uint32     `json:"id"`
	State     ChunkState `json:"state"`
	Rows      uint64     `json:"rows"`
	SizeBytes int64      `json:"size_bytes"`
	Path      string     `json:"path,omitempty"`
}

func (c *Chunk) summary(table, partition string) ChunkSummary {
	return ChunkSummary{
		Table:     table,
		Partition: partition,
		ID:        c.ID,
		State:     c.State,
		Rows:      c.Rows,
		SizeBytes: c.SizeBytes,
		Path:      c.Path,
	}
}
