// Package router implements the offline cache router: a versioned
// request handler that classifies each request into a caching strategy,
// executes it against a named cache store and falls back to canned
// offline responses.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/routing"
	"github.com/valhallatattoo/sitecache/internal/store"
	"github.com/valhallatattoo/sitecache/internal/tasks"
)

// Router is one installed version of the cache router.
type Router struct {
	cfg      Config
	engine   *routing.Engine
	store    store.CacheStore
	fetcher  fetch.Fetcher
	spawner  tasks.Spawner
	logger   *slog.Logger
	metrics  *metrics.Metrics
	syncer   Syncer
	notifier Notifier

	flight singleflight.Group

	mu            sync.RWMutex
	state         State
	skipWaiting   bool
	claimed       bool
	onSkipWaiting func(ctx context.Context, r *Router) error
}

// New builds a router version in the uninstalled state.
func New(cfg Config, deps Deps) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("router config: %w", err)
	}
	if err := deps.defaults(); err != nil {
		return nil, fmt.Errorf("router deps: %w", err)
	}
	if cfg.InstallConcurrency <= 0 {
		cfg.InstallConcurrency = 6
	}
	cfg.Precache = append([]string(nil), cfg.Precache...)

	r := &Router{
		cfg:      cfg,
		engine:   routing.NewEngine(cfg.Rules),
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		spawner:  deps.Spawner,
		logger:   deps.Logger.With("version", cfg.Version),
		metrics:  deps.Metrics,
		syncer:   deps.Syncer,
		notifier: deps.Notifier,
		state:    StateUninstalled,
	}
	r.skipWaiting = cfg.SkipWaiting
	r.metrics.SetLifecycle(cfg.Version, int(StateUninstalled))
	return r, nil
}

// Version returns the version string.
func (r *Router) Version() string { return r.cfg.Version }

// CacheName returns the name of the cache store this version owns.
func (r *Router) CacheName() string { return r.cfg.CacheName }

// Config returns the configuration the router was built with.
func (r *Router) Config() Config { return r.cfg }

// Engine returns the classification engine.
func (r *Router) Engine() *routing.Engine { return r.engine }

// State returns the current lifecycle state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Handle is the fetch handler. It returns false when the request must
// pass through to the network untouched.
func (r *Router) Handle(ctx context.Context, req *fetch.Request) (*fetch.Response, bool) {
	if r.State() != StateActive {
		return nil, false
	}
	if !r.engine.InScope(req.URL, r.cfg.Origin) {
		return nil, false
	}
	strategy, ok := r.engine.Classify(req)
	if !ok || strategy == routing.NetworkOnly {
		return nil, false
	}
	return r.Execute(ctx, strategy, req), true
}

// Execute runs a specific strategy for req. NetworkOnly is executed as a
// plain network fetch with the offline fallback on failure.
func (r *Router) Execute(ctx context.Context, strategy routing.Strategy, req *fetch.Request) *fetch.Response {
	var resp *fetch.Response
	switch strategy {
	case routing.CacheFirst:
		resp = r.CacheFirst(ctx, req)
	case routing.NetworkFirst:
		resp = r.NetworkFirst(ctx, req)
	case routing.CacheOnly:
		resp = r.CacheOnly(ctx, req)
	case routing.NetworkOnly:
		resp = r.networkOnly(ctx, req)
	default:
		resp = r.StaleWhileRevalidate(ctx, req)
	}
	resp.Strategy = string(strategy)
	r.metrics.ObserveResponse(string(strategy), string(resp.Source))
	return resp
}

// Info describes the version for status reporting.
type Info struct {
	Version        string `json:"version"`
	CacheName      string `json:"cache_name"`
	State          State  `json:"state"`
	SkipWaiting    bool   `json:"skip_waiting"`
	ClientsClaimed bool   `json:"clients_claimed"`
}

// Info returns a snapshot of the version.
func (r *Router) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Info{
		Version:        r.cfg.Version,
		CacheName:      r.cfg.CacheName,
		State:          r.state,
		SkipWaiting:    r.skipWaiting,
		ClientsClaimed: r.claimed,
	}
}

// match reads the current cache. Store failures are logged and reported
// as a miss.
func (r *Router) match(ctx context.Context, key store.RequestKey) (*store.CachedResponse, bool) {
	cached, err := r.store.Match(ctx, r.cfg.CacheName, key)
	if err == nil {
		return cached, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("cache read failed", "url", key.URL, "error", err)
		r.metrics.AddStoreError("match")
	}
	return nil, false
}

// put writes a successful response. Store failures are logged and skipped.
func (r *Router) put(ctx context.Context, req *fetch.Request, resp *fetch.Response) {
	if req.Method != http.MethodGet || !resp.OK() {
		return
	}
	if err := r.store.Put(ctx, r.cfg.CacheName, req.Key(), resp.ToCached()); err != nil {
		r.logger.Warn("cache write failed", "url", req.URL.String(), "error", err)
		r.metrics.AddStoreError("put")
	}
}

func (r *Router) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		return r.cfg.Origin.ResolveReference(&url.URL{Path: path})
	}
	return r.cfg.Origin.ResolveReference(ref)
}
