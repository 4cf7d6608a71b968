package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/routing"
	"github.com/valhallatattoo/sitecache/internal/store"
	"github.com/valhallatattoo/sitecache/internal/tasks"
)

// Config describes one router version.
type Config struct {
	Version   string
	CacheName string
	// Origin is the site origin; precache paths and same-origin checks
	// are resolved against it.
	Origin   *url.URL
	Precache []string
	Rules    routing.Rules

	// SkipWaiting activates the version as soon as it installs.
	SkipWaiting bool
	// ClaimClients takes control of existing clients on activation.
	ClaimClients bool

	// InstallConcurrency bounds parallel precache fetches.
	InstallConcurrency int
}

func (c Config) validate() error {
	var errs []error
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.CacheName == "" {
		errs = append(errs, errors.New("cache name is required"))
	}
	if c.Origin == nil || !c.Origin.IsAbs() || c.Origin.Host == "" {
		errs = append(errs, errors.New("origin must be an absolute URL"))
	}
	return errors.Join(errs...)
}

// Syncer replays deferred submissions for a sync tag.
type Syncer interface {
	Sync(ctx context.Context, tag string) (bgsync.Result, error)
}

// Notifier shows push notifications and reacts to clicks on them.
type Notifier interface {
	Push(ctx context.Context, data []byte) (*notify.Notification, error)
	Click(ctx context.Context, action, tag string) notify.ClickResult
}

// Deps are the collaborators a router version uses.
type Deps struct {
	Store   store.CacheStore
	Fetcher fetch.Fetcher
	// Spawner runs stale-while-revalidate refreshes. Defaults to inline.
	Spawner  tasks.Spawner
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Syncer   Syncer
	Notifier Notifier
}

func (d *Deps) defaults() error {
	if d.Store == nil {
		return fmt.Errorf("store is required")
	}
	if d.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if d.Spawner == nil {
		d.Spawner = tasks.Inline{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}
