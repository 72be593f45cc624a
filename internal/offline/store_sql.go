package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type entryMeta struct {
	ContentType string    `json:"contentType"`
	Status      int       `json:"status"`
	Generation  string    `json:"generation"`
	Digest      string    `json:"digest"`
	StoredAt    time.Time `json:"storedAt"`
}

// SQLStore keeps entries in a libSQL table: the body as a blob, everything
// else as a JSONB document.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore expects the cache_entries table created by the migrations.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	rows, err := db.QueryContext(ctx, `SELECT 1 FROM cache_entries LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("checking cache_entries table: %w", err)
	}
	rows.Close()
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, cache, key string) (Entry, error) {
	var (
		body []byte
		data string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, json(data) FROM cache_entries WHERE cache = ? AND key = ?`, cache, key,
	).Scan(&body, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	var m entryMeta
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Entry{}, fmt.Errorf("decoding entry %s: %w", key, err)
	}
	return Entry{
		Key:         key,
		Body:        body,
		ContentType: m.ContentType,
		Status:      m.Status,
		Generation:  m.Generation,
		Digest:      m.Digest,
		StoredAt:    m.StoredAt,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putEntry(ctx context.Context, db execer, cache string, e Entry) error {
	data, err := json.Marshal(entryMeta{
		ContentType: e.ContentType,
		Status:      e.Status,
		Generation:  e.Generation,
		Digest:      e.Digest,
		StoredAt:    e.StoredAt,
	})
	if err != nil {
		return err
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache, key, body, data) VALUES (?, ?, ?, jsonb(?))
		 ON CONFLICT(cache, key) DO UPDATE SET body = excluded.body, data = excluded.data`,
		cache, e.Key, body, string(data),
	)
	return err
}

func (s *SQLStore) Put(ctx context.Context, cache string, e Entry) error {
	return putEntry(ctx, s.db, cache, e)
}

// PutAll replaces the contents of cache inside a single transaction.
func (s *SQLStore) PutAll(ctx context.Context, cache string, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache = ?`, cache); err != nil {
		return fmt.Errorf("clearing %s: %w", cache, err)
	}
	for _, e := range entries {
		if err := putEntry(ctx, tx, cache, e); err != nil {
			return fmt.Errorf("writing %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Caches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cache FROM cache_entries ORDER BY cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, cache string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache = ?`, cache)
	return err
}

func (s *SQLStore) Count(ctx context.Context, cache string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE cache = ?`, cache).Scan(&n)
	return n, err
}

// Ping lets the store double as a health check.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
