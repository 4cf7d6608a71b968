package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/store"
)

// Control message types.
const (
	MsgSkipWaiting = "SKIP_WAITING"
	MsgGetVersion  = "GET_VERSION"
	MsgClearCache  = "CLEAR_CACHE"
)

// SuccessReply answers SKIP_WAITING and CLEAR_CACHE.
type SuccessReply struct {
	Success bool `json:"success"`
}

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string `json:"version"`
}

// HandleMessage executes a control message and returns its reply.
func (r *Router) HandleMessage(ctx context.Context, msg events.Message) (any, error) {
	switch msg.Type {
	case MsgSkipWaiting:
		if err := r.SkipWaiting(ctx); err != nil {
			return SuccessReply{Success: false}, err
		}
		return SuccessReply{Success: true}, nil

	case MsgGetVersion:
		return VersionReply{Version: r.cfg.Version}, nil

	case MsgClearCache:
		if err := r.clearCaches(ctx); err != nil {
			return SuccessReply{Success: false}, err
		}
		return SuccessReply{Success: true}, nil

	default:
		r.logger.Warn("ignoring control message", "type", msg.Type)
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// clearCaches deletes every cache store, including the current one.
func (r *Router) clearCaches(ctx context.Context) error {
	names, err := r.store.ListCaches(ctx)
	if err != nil {
		r.metrics.AddStoreError("list")
		return fmt.Errorf("list caches: %w", err)
	}
	var errs []error
	for _, name := range names {
		if err := r.store.DeleteCache(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.metrics.AddStoreError("delete")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	r.logger.Info("caches cleared", "count", len(names))
	return errors.Join(errs...)
}

// CacheInfo summarises one cache store.
type CacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Caches lists every cache store with its entry count.
func (r *Router) Caches(ctx context.Context) ([]CacheInfo, error) {
	names, err := r.store.ListCaches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	out := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		n, err := r.store.CountEntries(ctx, name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out = append(out, CacheInfo{Name: name, Entries: n, Current: name == r.cfg.CacheName})
	}
	return out, nil
}
