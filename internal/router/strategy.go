package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valhallatattoo/sitecache/internal/fetch"
)

// errUpstream marks a 5xx answer, which counts as a network failure.
var errUpstream = errors.New("upstream server error")

// CacheFirst serves a cached entry without touching the network, and
// otherwise fetches and stores.
func (r *Router) CacheFirst(ctx context.Context, req *fetch.Request) *fetch.Response {
	if cached, ok := r.match(ctx, req.Key()); ok {
		return fetch.FromCached(cached)
	}
	resp, err := r.network(ctx, req)
	if err != nil {
		r.logger.Debug("cache-first network failed", "url", req.URL.String(), "error", err)
		return r.OfflineFallback(ctx, req)
	}
	return resp
}

// NetworkFirst prefers a fresh network answer and degrades to the cache,
// then to the offline fallback.
func (r *Router) NetworkFirst(ctx context.Context, req *fetch.Request) *fetch.Response {
	resp, err := r.network(ctx, req)
	if err == nil {
		return resp
	}
	r.logger.Debug("network failed, trying cache", "url", req.URL.String(), "error", err)
	if cached, ok := r.match(ctx, req.Key()); ok {
		return fetch.FromCached(cached)
	}
	return r.OfflineFallback(ctx, req)
}

// StaleWhileRevalidate serves a cached entry immediately and refreshes it
// in the background. On a miss it waits for the network.
func (r *Router) StaleWhileRevalidate(ctx context.Context, req *fetch.Request) *fetch.Response {
	if cached, ok := r.match(ctx, req.Key()); ok {
		r.revalidate(req)
		return fetch.FromCached(cached)
	}
	resp, err := r.network(ctx, req)
	if err != nil {
		r.logger.Debug("stale-while-revalidate network failed", "url", req.URL.String(), "error", err)
		return r.OfflineFallback(ctx, req)
	}
	return resp
}

// CacheOnly never touches the network.
func (r *Router) CacheOnly(ctx context.Context, req *fetch.Request) *fetch.Response {
	if cached, ok := r.match(ctx, req.Key()); ok {
		return fetch.FromCached(cached)
	}
	return r.OfflineFallback(ctx, req)
}

func (r *Router) networkOnly(ctx context.Context, req *fetch.Request) *fetch.Response {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return r.OfflineFallback(ctx, req)
	}
	return resp
}

func (r *Router) revalidate(req *fetch.Request) {
	bg := &fetch.Request{
		Method:      req.Method,
		URL:         req.URL,
		Destination: req.Destination,
		Header:      req.Header.Clone(),
	}
	r.spawner.Go("revalidate "+req.URL.String(), func(ctx context.Context) error {
		_, err := r.network(ctx, bg)
		r.metrics.AddRevalidation(err == nil)
		if err != nil {
			return fmt.Errorf("revalidate %s: %w", bg.URL.Redacted(), err)
		}
		return nil
	})
}

// network fetches req, storing a successful answer before returning it.
// Concurrent calls for the same key share one upstream request. The fetch
// is detached from ctx cancellation so the write completes even when the
// caller goes away.
func (r *Router) network(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, shared := r.flight.Do(req.Key().String(), func() (any, error) {
		start := time.Now()
		resp, err := r.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", errUpstream, resp.Status)
		}
		r.put(ctx, req, resp)
		r.logger.Debug("fetched",
			"url", req.URL.String(),
			"status", resp.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, nil
	})
	if shared {
		r.metrics.AddCoalesced()
	}
	if err != nil {
		return nil, err
	}
	resp := v.(*fetch.Response).Clone()
	resp.Source = fetch.SourceNetwork
	return resp, nil
}
