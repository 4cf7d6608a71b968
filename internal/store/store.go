package store

import (
	"context"
	"time"
)

// Store is the composite interface for all persistent data.
type Store interface {
	CacheStore
	QueueStore
	Ping(ctx context.Context) error
	Close() error
}

// CacheStore manages named, versioned response caches. Entries never
// expire on their own; a cache is dropped as a whole when its name is
// retired.
type CacheStore interface {
	CreateCache(ctx context.Context, name string) error
	ListCaches(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, name string) error
	Match(ctx context.Context, cacheName string, key RequestKey) (*CachedResponse, error)
	Put(ctx context.Context, cacheName string, key RequestKey, resp *CachedResponse) error
	DeleteEntry(ctx context.Context, cacheName string, key RequestKey) error
	CountEntries(ctx context.Context, cacheName string) (int, error)
}

// QueueStore is the durable append-only queue backing background sync.
type QueueStore interface {
	Enqueue(ctx context.Context, s *Submission) error
	ListPending(ctx context.Context, tag string) ([]Submission, error)
	RemoveSubmission(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, at time.Time, lastErr string) error
}
