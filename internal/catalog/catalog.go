// Package catalog implements the preserved catalog: an append-only, durable
// record of partition and chunk metadata mutations. Replaying the log from
// empty reconstructs the partition and chunk state that was live before the
// last catalog-affecting mutation.
package catalog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Kind identifies a metadata mutation.
type Kind string

const (
	KindPartitionCreated Kind = "partition-created"
	KindChunkCreated     Kind = "chunk-created"
	KindChunkPersisted   Kind = "chunk-persisted"
	KindChunkDropped     Kind = "chunk-dropped"
	KindPartitionDropped Kind = "partition-dropped"
)

// Payload carries the mutation details recorded with an entry.
type Payload struct {
	Rows      uint64 `json:"rows,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	// Path and Checksum of the durable chunk file, set for chunk-persisted.
	Path     string `json:"path,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Entry is one immutable metadata mutation. Seq is assigned by the catalog on
// append and is strictly increasing.
type Entry struct {
	Seq       int64
	HLC       string
	Kind      Kind
	Table     string
	Partition string
	ChunkID   uint32
	Payload   Payload
}

// Describe renders the entry for diagnostics, e.g. in replay errors.
func (e Entry) Describe() string {
	switch e.Kind {
	case KindPartitionCreated, KindPartitionDropped:
		return fmt.Sprintf("%s table=%s partition=%s (seq %d)", e.Kind, e.Table, e.Partition, e.Seq)
	default:
		return fmt.Sprintf("%s table=%s partition=%s chunk=%d (seq %d)", e.Kind, e.Table, e.Partition, e.ChunkID, e.Seq)
	}
}

// Catalog is an ordered, durable log of entries.
type Catalog interface {
	// Append durably records one entry and returns its sequence number.
	Append(ctx context.Context, entry Entry) (int64, error)
	// Replay calls fn for every entry in append order. A non-nil error from
	// fn stops the scan and is returned.
	Replay(ctx context.Context, fn func(Entry) error) error
	// Wipe destructively discards all entries.
	Wipe(ctx context.Context) error
	Close() error
}

// entryDigest covers every field that replay depends on. A stored entry whose
// digest no longer matches is treated as catalog corruption.
func entryDigest(e Entry, payload []byte) [32]byte {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|", e.HLC, e.Kind, e.Table, e.Partition, e.ChunkID)
	_, _ = h.Write(payload)
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

func encodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("catalog: encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("catalog: decode payload: %w", err)
	}
	return p, nil
}

// ChecksumString renders a chunk file checksum for storage in a payload.
func ChecksumString(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}

// MemCatalog is an in-memory catalog for tests. It honors the same ordering
// contract as the durable store and can inject append failures to exercise
// rollback paths.
type MemCatalog struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq int64

	// AppendErr, when set, fails the next Append without recording the entry.
	AppendErr error
}

// NewMem returns an empty in-memory catalog.
func NewMem() *MemCatalog {
	return &MemCatalog{nextSeq: 1}
}

func (m *MemCatalog) Append(_ context.Context, entry Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		err := m.AppendErr
		m.AppendErr = nil
		return 0, err
	}
	entry.Seq = m.nextSeq
	m.nextSeq++
	m.entries = append(m.entries, entry)
	return entry.Seq, nil
}

func (m *MemCatalog) Replay(_ context.Context, fn func(Entry) error) error {
	m.mu.Lock()
	snapshot := append([]Entry(nil), m.entries...)
	m.mu.Unlock()
	for _, entry := range snapshot {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemCatalog) Wipe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.nextSeq = 1
	return nil
}

func (m *MemCatalog) Close() error { return nil }

// Entries returns a copy of the recorded entries, for assertions.
func (m *MemCatalog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
