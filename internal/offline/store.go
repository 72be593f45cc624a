package offline

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrMiss is returned by a Store when a key is not cached.
var ErrMiss = errors.New("cache miss")

// Entry is one cached response under a cache name.
type Entry struct {
	Key         string    `json:"key"`
	Body        []byte    `json:"body"`
	ContentType string    `json:"contentType"`
	Status      int       `json:"status"`
	Generation  string    `json:"generation"`
	Digest      string    `json:"digest"`
	StoredAt    time.Time `json:"storedAt"`
}

// Digest returns the hex blake2b-256 of body.
func Digest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Store persists entries grouped by cache name. Writing the same key twice
// is harmless. PutAll replaces the whole cache in one atomic step.
type Store interface {
	Get(ctx context.Context, cache, key string) (Entry, error)
	Put(ctx context.Context, cache string, e Entry) error
	PutAll(ctx context.Context, cache string, entries []Entry) error
	Caches(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, cache string) error
	Count(ctx context.Context, cache string) (int, error)
}
