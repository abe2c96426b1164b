// Package cache persists normalized URL → media handle mappings in a
// single SQLite table so repeated links are served without re-downloading.
// Writes are upserts committed before returning; there is no expiry.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"mediarelay/internal/media"
)

const schema = `CREATE TABLE IF NOT EXISTS media_cache (
	normalized_url TEXT PRIMARY KEY,
	video_handle   TEXT,
	audio_handle   TEXT
)`

// Store is a durable key-value table of media handles. It is safe for
// concurrent use by multiple request handlers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

// dsn enables WAL with a synced commit and a busy timeout so a writer waits a bounded time
// for a competing connection instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)"
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the entry for a normalized URL. A missing entry is reported
// with ok=false and a nil error.
func (s *Store) Get(ctx context.Context, key string) (media.Entry, bool, error) {
	var video, audio sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT video_handle, audio_handle FROM media_cache WHERE normalized_url = ?`, key,
	).Scan(&video, &audio)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Entry{}, false, nil
	}
	if err != nil {
		return media.Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}

	return media.Entry{
		URL:   key,
		Video: media.Handle(video.String),
		Audio: media.Handle(audio.String),
	}, true, nil
}

// Put inserts or replaces the entry for e.URL. The last committed write wins.
func (s *Store) Put(ctx context.Context, e media.Entry) error {
	if e.URL == "" {
		return fmt.Errorf("cache entry has empty URL")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_cache (normalized_url, video_handle, audio_handle) VALUES (?, ?, ?)
		 ON CONFLICT(normalized_url) DO UPDATE SET
		   video_handle = excluded.video_handle,
		   audio_handle = excluded.audio_handle`,
		e.URL, nullable(e.Video), nullable(e.Audio),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key and reports whether one existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_cache WHERE normalized_url = ?`, key)
	if err != nil {
		return false, fmt.Errorf("deleting cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting cache entry: %w", err)
	}
	return n > 0, nil
}

// List returns up to limit entries ordered by URL. A limit <= 0 returns all entries.
func (s *Store) List(ctx context.Context, limit int) ([]media.Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT normalized_url, video_handle, audio_handle FROM media_cache
		 ORDER BY normalized_url LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	defer rows.Close()

	var entries []media.Entry
	for rows.Next() {
		var key string
		var video, audio sql.NullString
		if err := rows.Scan(&key, &video, &audio); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		entries = append(entries, media.Entry{
			URL:   key,
			Video: media.Handle(video.String),
			Audio: media.Handle(audio.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	return entries, nil
}

// Count returns the number of cached entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache: %w", err)
	}
	return n, nil
}

func nullable(h media.Handle) sql.NullString {
	return sql.NullString{String: string(h), Valid: h != ""}
}
