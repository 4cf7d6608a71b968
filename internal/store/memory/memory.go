// Package memory provides an in-process store.Store used by tests and by
// the "memory" store driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valhallatattoo/sitecache/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps caches and the sync queue in maps guarded by one mutex.
type Store struct {
	mu     sync.RWMutex
	caches map[string]map[store.RequestKey]*store.CachedResponse
	queue  []store.Submission
}

// New returns an empty store.
func New() *Store {
	return &Store{
		caches: make(map[string]map[store.RequestKey]*store.CachedResponse),
	}
}

func (s *Store) CreateCache(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		s.caches[name] = make(map[store.RequestKey]*store.CachedResponse)
	}
	return nil
}

func (s *Store) ListCaches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteCache(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.caches, name)
	return nil
}

func (s *Store) Match(_ context.Context, cacheName string, key store.RequestKey) (*store.CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.caches[cacheName][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry.Clone(), nil
}

func (s *Store) Put(_ context.Context, cacheName string, key store.RequestKey, resp *store.CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cacheName]
	if !ok {
		c = make(map[store.RequestKey]*store.CachedResponse)
		s.caches[cacheName] = c
	}
	c[key] = resp.Clone()
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, cacheName string, key store.RequestKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cacheName]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := c[key]; !ok {
		return store.ErrNotFound
	}
	delete(c, key)
	return nil
}

func (s *Store) CountEntries(_ context.Context, cacheName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[cacheName]
	if !ok {
		return 0, store.ErrNotFound
	}
	return len(c), nil
}

func (s *Store) Enqueue(_ context.Context, sub *store.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	cp := *sub
	cp.Payload = append([]byte(nil), sub.Payload...)

	s.mu.Lock()
	s.queue = append(s.queue, cp)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListPending(_ context.Context, tag string) ([]store.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Submission
	for _, sub := range s.queue {
		if tag != "" && sub.Tag != tag {
			continue
		}
		cp := sub
		cp.Payload = append([]byte(nil), sub.Payload...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) RemoveSubmission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) RecordAttempt(_ context.Context, id string, at time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].Attempts++
			s.queue[i].LastError = lastErr
			t := at.UTC()
			s.queue[i].LastAttempt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
