package engine

import (
	"context"
	"os"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/catalog"
	"github.com/kk-code-lab/chronolake/internal/storage/chunkfile"
)

const chunkFormatVersion = 1

// PersistResult reports which chunks a persist pass wrote.
type PersistResult struct {
	Table     string   `json:"table"`
	Partition string   `json:"partition"`
	Persisted []uint32 `json:"persisted"`
	Skipped   []uint32 `json:"skipped"`
	Bytes     int64    `json:"bytes"`
}

// PersistPartition writes eligible chunks to durable storage. With
// force=false only frozen chunks (closing or read buffer) that are not yet
// durable are written. With force=true the open chunk is frozen first if it
// holds rows, and persisted chunks whose durable artifact fails
// verification are written again.
//
// The mutation law applies per chunk: the catalog records chunk-persisted
// before the in-memory state moves to persisted, and a failed append rolls
// the chunk back and removes the half-written file.
func (e *Engine) PersistPartition(ctx context.Context, table, key string, force bool) (*PersistResult, error) {
	p := e.lookupPartition(table, key)
	if p == nil {
		return nil, apierror.NotFound("partition", table+"/"+key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if force {
		if open := p.openChunk(); open != nil && open.Rows > 0 {
			open.ClosedAt = e.clk.Now()
			if err := open.transition(chunkName(table, key, open.ID), ChunkClosing); err != nil {
				return nil, err
			}
		}
	}

	res := &PersistResult{Table: table, Partition: key, Persisted: []uint32{}, Skipped: []uint32{}}
	for _, c := range p.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !persistEligible(c, force) {
			if c.State != ChunkDropped {
				res.Skipped = append(res.Skipped, c.ID)
			}
			continue
		}
		size, err := e.persistChunk(ctx, p, c)
		if err != nil {
			return nil, err
		}
		res.Persisted = append(res.Persisted, c.ID)
		res.Bytes += size
	}
	return res, nil
}

func persistEligible(c *Chunk, force bool) bool {
	switch c.State {
	case ChunkClosing, ChunkReadBuffer:
		return true
	case ChunkPersisted:
		if !force || c.Path == "" {
			return false
		}
		// Re-persist only a chunk whose durable artifact fails verification.
		_, err := chunkfile.Verify(c.Path)
		return err != nil
	default:
		return false
	}
}

// persistChunk writes one chunk's block to its durable path, records
// chunk-persisted, and commits the in-memory transition. Callers hold p.mu.
func (e *Engine) persistChunk(ctx context.Context, p *Partition, c *Chunk) (int64, error) {
	name := chunkName(p.Table, p.Key, c.ID)
	prev := c.State
	if err := c.transition(name, ChunkPersisting); err != nil {
		return 0, err
	}
	path := e.layout.ChunkFilePath(e.db, p.Table, p.Key, c.ID)
	footer, err := chunkfile.Write(path, chunkFormatVersion, c.Rows, c.buffer)
	if err != nil {
		c.State = prev
		return 0, apierror.Internal("chunk", name, err)
	}
	_, err = e.catalog.Append(ctx, catalog.Entry{
		HLC:       e.hlc.Next(),
		Kind:      catalog.KindChunkPersisted,
		Table:     p.Table,
		Partition: p.Key,
		ChunkID:   c.ID,
		Payload: catalog.Payload{
			Rows:      c.Rows,
			SizeBytes: int64(footer.BlockLen),
			Path:      path,
			Checksum:  catalog.ChecksumString(footer.Checksum),
		},
	})
	if err != nil {
		c.State = prev
		_ = os.Remove(path)
		return 0, apierror.Internal("catalog", e.db, err)
	}
	c.State = ChunkPersisted
	c.Path = path
	c.Checksum = catalog.ChecksumString(footer.Checksum)
	return int64(footer.BlockLen), nil
}
