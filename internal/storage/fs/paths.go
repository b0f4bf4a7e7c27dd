package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout defines the on-disk directory layout for server data. Each database
// owns a directory under Root holding its preserved catalog, its rules
// document, its ownership marker, and its persisted chunk files.
type Layout struct {
	Root string
}

// NewLayout builds a layout rooted at the given directory.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// DatabaseDir is the directory owning all durable state of one database.
func (l Layout) DatabaseDir(name string) string {
	return filepath.Join(l.Root, "dbs", name)
}

// CatalogPath is the preserved catalog database file.
func (l Layout) CatalogPath(name string) string {
	return filepath.Join(l.DatabaseDir(name), "catalog.db")
}

// RulesPath is the stored rules document, exactly as submitted.
func (l Layout) RulesPath(name string) string {
	return filepath.Join(l.DatabaseDir(name), "rules.yaml")
}

// OwnershipPath is the ownership marker recording the database identifier and
// whether the database is currently released.
func (l Layout) OwnershipPath(name string) string {
	return filepath.Join(l.DatabaseDir(name), "ownership.json")
}

// ChunksDir holds persisted chunk files for one database.
func (l Layout) ChunksDir(name string) string {
	return filepath.Join(l.DatabaseDir(name), "chunks")
}

// ChunkFilePath is the persisted location of one chunk.
func (l Layout) ChunkFilePath(db, table, partitionKey string, chunkID uint32) string {
	return filepath.Join(l.ChunksDir(db), fmt.Sprintf("%s_%s_%08d.clc", table, partitionKey, chunkID))
}

// EnsureDatabaseDirs creates the directories for one database.
func (l Layout) EnsureDatabaseDirs(name string) error {
	return os.MkdirAll(l.ChunksDir(name), 0o755)
}

// ListDatabaseDirs returns the names of databases discovered under Root.
func (l Layout) ListDatabaseDirs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root, "dbs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
