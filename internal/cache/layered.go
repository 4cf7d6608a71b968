package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/valhallatattoo/sitecache/internal/store"
)

var _ store.CacheStore = (*Layered)(nil)

// DefaultMaxBody is the largest body kept in the hot layer.
const DefaultMaxBody = 1 << 20

type layeredKey struct {
	cache string
	key   store.RequestKey
}

// Layered is a store.CacheStore that answers reads from an in-memory LRU
// and falls back to a persistent store. Writes go to the persistent store
// first; the hot copy is only updated once that succeeds.
//
// Each cache name carries a generation that every write bumps before and
// after touching the persistent store. A cold read only warms the hot
// layer if the generation it started under is still current.
type Layered struct {
	cold    store.CacheStore
	hot     *Cache[layeredKey, *store.CachedResponse]
	maxBody int
	skipped atomic.Int64

	wmu  sync.Mutex // serializes writes
	mu   sync.Mutex // guards gens and generation-checked hot writes
	gens map[string]uint64
}

// NewLayered wraps cold with a hot LRU of maxEntries responses. Bodies
// larger than maxBody bytes are never held in memory.
func NewLayered(cold store.CacheStore, maxEntries, maxBody int) *Layered {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Layered{
		cold:    cold,
		hot:     New[layeredKey, *store.CachedResponse](maxEntries),
		maxBody: maxBody,
		gens:    make(map[string]uint64),
	}
}

func (l *Layered) CreateCache(ctx context.Context, name string) error {
	return l.cold.CreateCache(ctx, name)
}

func (l *Layered) ListCaches(ctx context.Context) ([]string, error) {
	return l.cold.ListCaches(ctx)
}

func (l *Layered) DeleteCache(ctx context.Context, name string) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	drop := func(k layeredKey) bool { return k.cache == name }
	l.bump(name, func() { l.hot.InvalidateFunc(drop) })
	err := l.cold.DeleteCache(ctx, name)
	l.bump(name, func() { l.hot.InvalidateFunc(drop) })
	return err
}

func (l *Layered) Match(ctx context.Context, cacheName string, key store.RequestKey) (*store.CachedResponse, error) {
	lk := layeredKey{cache: cacheName, key: key}
	if resp, ok := l.hot.Get(lk); ok {
		return resp.Clone(), nil
	}
	gen := l.generation(cacheName)
	resp, err := l.cold.Match(ctx, cacheName, key)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.gens[cacheName] == gen {
		l.remember(lk, resp)
	}
	l.mu.Unlock()
	return resp, nil
}

func (l *Layered) Put(ctx context.Context, cacheName string, key store.RequestKey, resp *store.CachedResponse) error {
	lk := layeredKey{cache: cacheName, key: key}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.bump(cacheName, func() { l.hot.Invalidate(lk) })
	if err := l.cold.Put(ctx, cacheName, key, resp); err != nil {
		l.bump(cacheName, func() { l.hot.Invalidate(lk) })
		return err
	}
	l.bump(cacheName, func() { l.remember(lk, resp) })
	return nil
}

func (l *Layered) DeleteEntry(ctx context.Context, cacheName string, key store.RequestKey) error {
	lk := layeredKey{cache: cacheName, key: key}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.bump(cacheName, func() { l.hot.Invalidate(lk) })
	err := l.cold.DeleteEntry(ctx, cacheName, key)
	l.bump(cacheName, func() { l.hot.Invalidate(lk) })
	return err
}

func (l *Layered) CountEntries(ctx context.Context, cacheName string) (int, error) {
	return l.cold.CountEntries(ctx, cacheName)
}

// Stats reports hot-layer statistics.
func (l *Layered) Stats() LayerStats {
	return LayerStats{Hot: l.hot.Stats(), Skipped: l.skipped.Load()}
}

func (l *Layered) generation(name string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[name]
}

// bump advances the generation of name and runs fn under the same lock.
func (l *Layered) bump(name string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[name]++
	fn()
}

func (l *Layered) remember(lk layeredKey, resp *store.CachedResponse) {
	if len(resp.Body) > l.maxBody {
		l.skipped.Add(1)
		l.hot.Invalidate(lk)
		return
	}
	l.hot.Set(lk, resp.Clone())
}
