package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each cache in a hash so several edge nodes can share
// one cache. A set indexes the known cache names.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "triage:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(name string) string { return s.prefix + "cache:" + name }
func (s *RedisStore) index() string          { return s.prefix + "caches" }

func (s *RedisStore) Get(ctx context.Context, name, key string) (Entry, error) {
	data, err := s.rdb.HGet(ctx, s.key(name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decoding entry %s: %w", key, err)
	}
	return e, nil
}

func (s *RedisStore) Put(ctx context.Context, name string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(name), e.Key, data)
		p.SAdd(ctx, s.index(), name)
		return nil
	})
	return err
}

// PutAll replaces the hash in one MULTI/EXEC block.
func (s *RedisStore) PutAll(ctx context.Context, name string, entries []Entry) error {
	fields := make([]any, 0, 2*len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		fields = append(fields, e.Key, data)
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(name))
		if len(fields) > 0 {
			p.HSet(ctx, s.key(name), fields...)
		}
		p.SAdd(ctx, s.index(), name)
		return nil
	})
	return err
}

func (s *RedisStore) Caches(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.index()).Result()
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(name))
		p.SRem(ctx, s.index(), name)
		return nil
	})
	return err
}

func (s *RedisStore) Count(ctx context.Context, name string) (int, error) {
	n, err := s.rdb.HLen(ctx, s.key(name)).Result()
	return int(n), err
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
