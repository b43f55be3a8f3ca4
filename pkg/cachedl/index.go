package cachedl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key          TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	etag         TEXT NOT NULL DEFAULT '',
	fetched_at   INTEGER NOT NULL
)`

// Index is the SQLite-backed metadata store of a Cache.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the index database at path.
// The path can be ":memory:" for a throwaway index.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open cache index: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error: cannot initialise cache index: %w", err)
	}
	return &Index{db: db}, nil
}

// Get returns the entry recorded for key, or ErrNotCached.
func (x *Index) Get(ctx context.Context, key string) (Entry, error) {
	row := x.db.QueryRowContext(ctx, `
        SELECT key, path, size, content_type, etag, fetched_at
        FROM entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotCached
	}
	if err != nil {
		return Entry{}, fmt.Errorf("error: failed to read cache index: %w", err)
	}
	return e, nil
}

// Put records e, replacing any previous entry for the same key.
func (x *Index) Put(ctx context.Context, e Entry) error {
	_, err := x.db.ExecContext(ctx, `
        INSERT INTO entries (key, path, size, content_type, etag, fetched_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            path = excluded.path,
            size = excluded.size,
            content_type = excluded.content_type,
            etag = excluded.etag,
            fetched_at = excluded.fetched_at`,
		e.Key, e.Path, e.Size, e.ContentType, e.ETag, e.FetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("error: failed to write cache index: %w", err)
	}
	return nil
}

// List returns every entry, most recently fetched first.
func (x *Index) List(ctx context.Context) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx, `
        SELECT key, path, size, content_type, etag, fetched_at
        FROM entries
        ORDER BY fetched_at DESC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query cache index: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error: failed to scan cache index row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate cache index rows: %w", err)
	}
	return entries, nil
}

// Delete removes the entry for key. Deleting an unknown key is not an error.
func (x *Index) Delete(ctx context.Context, key string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("error: failed to delete cache index entry: %w", err)
	}
	return nil
}

// Flush removes every entry and returns how many were removed.
func (x *Index) Flush(ctx context.Context) (int64, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("error: failed to flush cache index: %w", err)
	}
	return res.RowsAffected()
}

// Totals returns the entry count and the sum of their sizes.
func (x *Index) Totals(ctx context.Context) (count int, bytes int64, err error) {
	err = x.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("error: failed to total cache index: %w", err)
	}
	return count, bytes, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		fetchedAt int64
	)
	if err := s.Scan(&e.Key, &e.Path, &e.Size, &e.ContentType, &e.ETag, &fetchedAt); err != nil {
		return Entry{}, err
	}
	e.FetchedAt = time.UnixMilli(fetchedAt)
	return e, nil
}
