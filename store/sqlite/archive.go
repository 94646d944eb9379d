// Package sqlite implements core.Archive on SQLite via the pure-Go
// modernc.org/sqlite driver, so agent history survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/aegis/core"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive_records (
	collection TEXT NOT NULL,
	record_key TEXT NOT NULL,
	data TEXT NOT NULL,
	archived_at INTEGER NOT NULL,
	PRIMARY KEY (collection, record_key)
);
CREATE INDEX IF NOT EXISTS idx_archive_records_recent ON archive_records(collection, archived_at DESC);
`

var _ core.Archive = (*Archive)(nil)

// Archive is a SQLite-backed core.Archive.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath. Use ":memory:" for tests.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}
	return &Archive{db: db}, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Migrate creates the schema if needed.
func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Put implements core.Archive.
func (a *Archive) Put(ctx context.Context, rec core.Record) error {
	if rec.Collection == "" || rec.Key == "" {
		return fmt.Errorf("archive: collection and key are required")
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", rec.Collection, rec.Key, err)
	}

	_, err = a.db.ExecContext(
		ctx,
		`INSERT INTO archive_records(collection, record_key, data, archived_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(collection, record_key) DO UPDATE SET data = excluded.data, archived_at = excluded.archived_at`,
		rec.Collection, rec.Key, string(data), rec.ArchivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Get implements core.Archive.
func (a *Archive) Get(ctx context.Context, collection, key string) (core.Record, error) {
	row := a.db.QueryRowContext(
		ctx,
		`SELECT collection, record_key, data, archived_at FROM archive_records WHERE collection = ? AND record_key = ?`,
		collection, key,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, fmt.Errorf("%w: %s/%s", core.ErrRecordNotFound, collection, key)
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List implements core.Archive.
func (a *Archive) List(ctx context.Context, collection string, limit int) ([]core.Record, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := a.db.QueryContext(
		ctx,
		`SELECT collection, record_key, data, archived_at FROM archive_records
		WHERE collection = ? ORDER BY archived_at DESC, record_key DESC LIMIT ?`,
		collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Count implements core.Archive.
func (a *Archive) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_records WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (core.Record, error) {
	var (
		rec  core.Record
		data string
		at   int64
	)
	if err := s.Scan(&rec.Collection, &rec.Key, &data, &at); err != nil {
		return core.Record{}, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return core.Record{}, fmt.Errorf("decode record %s/%s: %w", rec.Collection, rec.Key, err)
	}
	rec.ArchivedAt = time.Unix(0, at).UTC()
	return rec, nil
}
