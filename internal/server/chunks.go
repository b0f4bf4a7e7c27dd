package server

import (
	"context"
	"fmt"
	"time"

	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/storage/engine"
)

// Partition and chunk calls route through the owning database's engine and
// are only legal once that database is initialized. Bounded in-memory
// mutations run inline; persistence and freeze-and-move go through the
// tracker.

func (s *Server) engineFor(name string) (*engine.Engine, error) {
	db, err := s.GetDatabase(name)
	if err != nil {
		return nil, err
	}
	return db.Engine()
}

// ListPartitions returns every partition of the named database.
func (s *Server) ListPartitions(name string) ([]engine.PartitionSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return nil, err
	}
	return eng.PartitionKeys(), nil
}

// GetPartition returns one partition's summary.
func (s *Server) GetPartition(name, table, key string) (engine.PartitionSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return engine.PartitionSummary{}, err
	}
	return eng.GetPartition(table, key)
}

// ListChunks returns every chunk across the named database.
func (s *Server) ListChunks(name string) ([]engine.ChunkSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return nil, err
	}
	return eng.ChunkSummaries(), nil
}

// ListPartitionChunks returns the chunks of one partition.
func (s *Server) ListPartitionChunks(name, table, key string) ([]engine.ChunkSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return nil, err
	}
	return eng.PartitionChunks(table, key)
}

// WriteChunkData appends rows to the partition's open chunk.
func (s *Server) WriteChunkData(ctx context.Context, name, table, key string, rows uint64, block []byte) (engine.ChunkSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return engine.ChunkSummary{}, err
	}
	return eng.Write(ctx, table, key, rows, block)
}

// NewPartitionChunk rolls the partition's open chunk over. The freeze of
// the previous open chunk is moved out of the mutable buffer
// asynchronously; the returned operation is nil when nothing was frozen.
func (s *Server) NewPartitionChunk(ctx context.Context, name, table, key string) (engine.ChunkSummary, *ops.Operation, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return engine.ChunkSummary{}, nil, err
	}
	frozen, open, err := eng.Rollover(ctx, table, key)
	if err != nil {
		return engine.ChunkSummary{}, nil, err
	}
	if frozen == nil {
		return open, nil, nil
	}
	id := *frozen
	op := s.tracker.Spawn(fmt.Sprintf("move chunk %s/%s/%d to read buffer", table, key, id), func(ctx context.Context) (any, error) {
		return eng.MoveChunkToReadBuffer(ctx, table, key, id)
	})
	return open, op, nil
}

// CloseChunk freezes one chunk by id.
func (s *Server) CloseChunk(ctx context.Context, name, table, key string, chunkID uint32) (engine.ChunkSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return engine.ChunkSummary{}, err
	}
	return eng.CloseChunk(ctx, table, key, chunkID)
}

// UnloadChunk drops a persisted chunk's in-memory copy.
func (s *Server) UnloadChunk(ctx context.Context, name, table, key string, chunkID uint32) (engine.ChunkSummary, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return engine.ChunkSummary{}, err
	}
	return eng.UnloadReadBuffer(ctx, table, key, chunkID)
}

// PersistPartition schedules a persist pass over the partition and returns
// the tracking handle once the work is spawned, not once complete.
func (s *Server) PersistPartition(name, table, key string, force bool) (*ops.Operation, error) {
	eng, err := s.engineFor(name)
	if err != nil {
		return nil, err
	}
	// The partition must exist before we promise an operation handle.
	if _, err := eng.GetPartition(table, key); err != nil {
		return nil, err
	}
	op := s.tracker.Spawn(fmt.Sprintf("persist partition %s/%s (force=%t)", table, key, force), func(ctx context.Context) (any, error) {
		return eng.PersistPartition(ctx, table, key, force)
	})
	return op, nil
}

// DropPartition drops the partition and all its chunks.
func (s *Server) DropPartition(ctx context.Context, name, table, key string) error {
	eng, err := s.engineFor(name)
	if err != nil {
		return err
	}
	return eng.DropPartition(ctx, table, key)
}

func parseDuration(d string) (time.Duration, error) {
	if d == "" {
		return time.Second, nil
	}
	return time.ParseDuration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) (any, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]string{"slept": d.String()}, nil
	}
}
