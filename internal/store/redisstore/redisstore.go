// Package redisstore keeps response caches in Redis so several proxy
// instances can share one warm cache. Entries are msgpack-encoded.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/valhallatattoo/sitecache/internal/store"
	"github.com/vmihailenco/msgpack/v5"
)

var _ store.CacheStore = (*Store)(nil)

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "sitecache"

// Store implements store.CacheStore on a Redis hash per cache.
//
// Layout:
//
//	{prefix}:caches         SET of cache names
//	{prefix}:cache:{name}   HASH of "METHOD URL" -> msgpack(CachedResponse)
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(rdb, opts...), nil
}

func (s *Store) setKey() string { return s.prefix + ":caches" }

func (s *Store) cacheKey(name string) string { return s.prefix + ":cache:" + name }

func (s *Store) CreateCache(ctx context.Context, name string) error {
	if err := s.rdb.SAdd(ctx, s.setKey(), name).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) ListCaches(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, wrap(err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteCache(ctx context.Context, name string) error {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.setKey(), name)
		p.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	if removed.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Match(ctx context.Context, cacheName string, key store.RequestKey) (*store.CachedResponse, error) {
	data, err := s.rdb.HGet(ctx, s.cacheKey(cacheName), key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	var resp store.CachedResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	return &resp, nil
}

func (s *Store) Put(ctx context.Context, cacheName string, key store.RequestKey, resp *store.CachedResponse) error {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.setKey(), cacheName)
		p.HSet(ctx, s.cacheKey(cacheName), key.String(), data)
		return nil
	})
	return wrap(err)
}

func (s *Store) DeleteEntry(ctx context.Context, cacheName string, key store.RequestKey) error {
	n, err := s.rdb.HDel(ctx, s.cacheKey(cacheName), key.String()).Result()
	if err != nil {
		return wrap(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountEntries(ctx context.Context, cacheName string) (int, error) {
	ok, err := s.rdb.SIsMember(ctx, s.setKey(), cacheName).Result()
	if err != nil {
		return 0, wrap(err)
	}
	if !ok {
		return 0, store.ErrNotFound
	}
	n, err := s.rdb.HLen(ctx, s.cacheKey(cacheName)).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return int(n), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.rdb.Ping(ctx).Err())
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
