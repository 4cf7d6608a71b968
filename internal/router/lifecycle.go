package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/store"
)

// transition moves from one of the allowed states to next.
func (r *Router) transition(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.logger.Debug("lifecycle transition", "from", r.state, "to", next)
	r.state = next
	r.metrics.SetLifecycle(r.cfg.Version, int(next))
	return nil
}

// Install precaches the manifest into the version's cache store. Every
// entry must fetch with a 2xx status; otherwise nothing is stored, the
// version becomes redundant and ErrInstallFailed is returned. A cache of
// the same name left by an earlier run that already holds every manifest
// entry is adopted instead, so a restart while offline still installs.
func (r *Router) Install(ctx context.Context) error {
	if err := r.transition(StateInstalling); err != nil {
		return err
	}
	r.logger.Info("installing", "cache", r.cfg.CacheName, "resources", len(r.cfg.Precache))

	// An unreadable store counts as holding the cache so a failed
	// install never deletes it.
	existed := true
	if names, err := r.store.ListCaches(ctx); err != nil {
		r.logger.Warn("list caches during install", "error", err)
		r.metrics.AddStoreError("list")
	} else {
		existed = slices.Contains(names, r.cfg.CacheName)
	}

	if err := r.precache(ctx); err != nil {
		if existed && r.holdsManifest(ctx) {
			r.logger.Warn("install fetch failed, adopting existing cache",
				"cache", r.cfg.CacheName, "error", err)
			return r.transition(StateWaiting)
		}
		r.logger.Error("install failed", "error", err)
		if !existed {
			if derr := r.store.DeleteCache(ctx, r.cfg.CacheName); derr != nil && !errors.Is(derr, store.ErrNotFound) {
				r.logger.Warn("discard partial cache", "cache", r.cfg.CacheName, "error", derr)
			}
		}
		_ = r.transition(StateRedundant)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	r.logger.Info("static resources cached", "cache", r.cfg.CacheName)
	return r.transition(StateWaiting)
}

// holdsManifest reports whether the version's cache has an entry for
// every precache path.
func (r *Router) holdsManifest(ctx context.Context) bool {
	for _, p := range r.cfg.Precache {
		req := &fetch.Request{Method: http.MethodGet, URL: r.resolve(p)}
		if _, err := r.store.Match(ctx, r.cfg.CacheName, req.Key()); err != nil {
			return false
		}
	}
	return true
}

func (r *Router) precache(ctx context.Context) error {
	if err := r.store.CreateCache(ctx, r.cfg.CacheName); err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	reqs := make([]*fetch.Request, len(r.cfg.Precache))
	resps := make([]*fetch.Response, len(r.cfg.Precache))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.InstallConcurrency)
	for i, p := range r.cfg.Precache {
		req := &fetch.Request{
			Method:      http.MethodGet,
			URL:         r.resolve(p),
			Destination: destinationForPath(p),
		}
		reqs[i] = req
		g.Go(func() error {
			resp, err := r.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			if !resp.OK() {
				return fmt.Errorf("precache %s: status %d", p, resp.Status)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, req := range reqs {
		if err := r.store.Put(ctx, r.cfg.CacheName, req.Key(), resps[i].ToCached()); err != nil {
			return fmt.Errorf("store %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

// Activate deletes every cache store not owned by this version, claims
// clients when configured and starts serving.
func (r *Router) Activate(ctx context.Context) error {
	if err := r.transition(StateActivating); err != nil {
		return err
	}

	names, err := r.store.ListCaches(ctx)
	if err != nil {
		r.logger.Warn("list caches during activation", "error", err)
		r.metrics.AddStoreError("list")
	}
	for _, name := range names {
		if name == r.cfg.CacheName {
			continue
		}
		r.logger.Info("deleting old cache", "cache", name)
		if err := r.store.DeleteCache(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("delete old cache", "cache", name, "error", err)
			r.metrics.AddStoreError("delete")
		}
	}

	r.mu.Lock()
	r.claimed = r.cfg.ClaimClients
	r.mu.Unlock()

	if err := r.transition(StateActive); err != nil {
		return err
	}
	r.logger.Info("activated", "cache", r.cfg.CacheName, "clients_claimed", r.cfg.ClaimClients)
	return nil
}

// SkipWaiting asks for this version to activate without waiting for the
// current one to let go.
func (r *Router) SkipWaiting(ctx context.Context) error {
	r.mu.Lock()
	r.skipWaiting = true
	hook := r.onSkipWaiting
	r.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(ctx, r)
}

func (r *Router) skipRequested() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skipWaiting
}

// retire marks the version redundant regardless of its current state.
func (r *Router) retire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRedundant {
		return
	}
	r.logger.Info("version retired", "from", r.state)
	r.state = StateRedundant
	r.metrics.SetLifecycle(r.cfg.Version, int(StateRedundant))
}

func destinationForPath(p string) fetch.Destination {
	clean := p
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	switch strings.ToLower(path.Ext(clean)) {
	case "", ".html", ".htm":
		return fetch.DestDocument
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".svg", ".ico":
		return fetch.DestImage
	case ".css":
		return fetch.DestStyle
	case ".js", ".mjs":
		return fetch.DestScript
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return fetch.DestFont
	}
	return fetch.DestOther
}
