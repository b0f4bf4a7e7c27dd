package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable, SQLite-backed catalog. One store file exists per
// database; appends within it are linearizable.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Flush forces a WAL checkpoint to durably persist changes.
func (s *Store) Flush() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if err = applyV1(ctx, tx); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS catalog_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			hlc_ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			table_name TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			chunk_id INTEGER NOT NULL,
			payload TEXT NOT NULL,
			digest BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS catalog_log_partition_idx ON catalog_log(table_name, partition_key)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append durably records one entry. The entry's digest is stored alongside it
// and re-verified on replay.
func (s *Store) Append(ctx context.Context, entry Entry) (int64, error) {
	if entry.Kind == "" {
		return 0, errors.New("catalog: entry kind required")
	}
	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return 0, err
	}
	digest := entryDigest(entry, payload)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO catalog_log(hlc_ts, kind, table_name, partition_key, chunk_id, payload, digest)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.HLC, string(entry.Kind), entry.Table, entry.Partition, entry.ChunkID, string(payload), digest[:])
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Replay scans entries in append order, verifying each stored digest. Rows
// are streamed rather than loaded at once so large catalogs replay lazily.
func (s *Store) Replay(ctx context.Context, fn func(Entry) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, hlc_ts, kind, table_name, partition_key, chunk_id, payload, digest
FROM catalog_log
ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry   Entry
			kind    string
			payload string
			digest  []byte
		)
		if err := rows.Scan(&entry.Seq, &entry.HLC, &kind, &entry.Table, &entry.Partition, &entry.ChunkID, &payload, &digest); err != nil {
			return err
		}
		entry.Kind = Kind(kind)
		want := entryDigest(entry, []byte(payload))
		if len(digest) != len(want) || string(digest) != string(want[:]) {
			return fmt.Errorf("catalog: digest mismatch at seq %d", entry.Seq)
		}
		entry.Payload, err = decodePayload([]byte(payload))
		if err != nil {
			return fmt.Errorf("catalog: seq %d: %w", entry.Seq, err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Wipe discards every entry and resets the sequence. Used only by the
// wipe-and-rebuild repair path.
func (s *Store) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, "DELETE FROM catalog_log"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name='catalog_log'"); err != nil {
		return err
	}
	return tx.Commit()
}

// Len returns the number of recorded entries.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_log").Scan(&n)
	return n, err
}
