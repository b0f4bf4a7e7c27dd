package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kk-code-lab/chronolake/internal/clock"
	"github.com/kk-code-lab/chronolake/internal/storage/chunkfile"
)

// RebuildResult summarizes a wipe-and-rebuild run.
type RebuildResult struct {
	Discovered  int      `json:"discovered"`
	Skipped     int      `json:"skipped"`
	ErrorSample []string `json:"error_sample,omitempty"`
}

// Rebuild discards the catalog and reconstructs it from whatever durable
// chunk files can still be discovered and verified under chunksDir. Only
// chunk-persisted entries are written: rebuild cannot know about state that
// never reached durable storage.
func Rebuild(ctx context.Context, cat Catalog, hlc *clock.HLC, chunksDir string) (*RebuildResult, error) {
	if err := cat.Wipe(ctx); err != nil {
		return nil, err
	}
	result := &RebuildResult{}
	addError := func(err error) {
		result.Skipped++
		if len(result.ErrorSample) < 5 {
			result.ErrorSample = append(result.ErrorSample, err.Error())
		}
	}

	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, dirEntry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		table, partition, chunkID, ok := parseChunkFileName(name)
		if !ok {
			addError(fmt.Errorf("unrecognized chunk file name %q", name))
			continue
		}
		path := filepath.Join(chunksDir, name)
		footer, err := chunkfile.Verify(path)
		if err != nil {
			addError(fmt.Errorf("chunk file %s: %v", name, err))
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			addError(err)
			continue
		}
		_, err = cat.Append(ctx, Entry{
			HLC:       hlc.Next(),
			Kind:      KindChunkPersisted,
			Table:     table,
			Partition: partition,
			ChunkID:   chunkID,
			Payload: Payload{
				Rows:      footer.Rows,
				SizeBytes: info.Size(),
				Path:      path,
				Checksum:  ChecksumString(footer.Checksum),
				Note:      "rebuilt from durable storage",
			},
		})
		if err != nil {
			return nil, err
		}
		result.Discovered++
	}
	return result, nil
}

// parseChunkFileName splits "<table>_<partition>_<chunkid>.clc". Table
// names never contain underscores but partition keys may, so the table is
// taken from the left and the chunk id from the right; everything between
// is the partition key.
func parseChunkFileName(name string) (table, partition string, chunkID uint32, ok bool) {
	base, found := strings.CutSuffix(name, ".clc")
	if !found {
		return "", "", 0, false
	}
	tableSep := strings.IndexByte(base, '_')
	if tableSep <= 0 {
		return "", "", 0, false
	}
	idSep := strings.LastIndexByte(base, '_')
	if idSep <= tableSep {
		return "", "", 0, false
	}
	id, err := strconv.ParseUint(base[idSep+1:], 10, 32)
	if err != nil {
		return "", "", 0, false
	}
	partition = base[tableSep+1 : idSep]
	if partition == "" {
		return "", "", 0, false
	}
	return base[:tableSep], partition, uint32(id), true
}
