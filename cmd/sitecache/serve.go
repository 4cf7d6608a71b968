package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/valhallatattoo/sitecache/internal/api"
	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/config"
	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/tasks"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy in front of the site origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.env.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default $SITECACHE_ADDR)")
	return cmd
}

// versionBuilder turns a site config into an installable router version.
type versionBuilder struct {
	stores   *stores
	upstream fetch.Fetcher
	pool     *tasks.Pool
	replayer *bgsync.Replayer
	bus      *notify.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func (b *versionBuilder) build(cfg *config.Config) (*router.Router, error) {
	rc, err := cfg.RouterConfig()
	if err != nil {
		return nil, err
	}
	return router.New(rc, router.Deps{
		Store:    b.stores.caches,
		Fetcher:  b.upstream,
		Spawner:  b.pool,
		Logger:   b.logger.With("version", rc.Version),
		Metrics:  b.metrics,
		Syncer:   b.replayer,
		Notifier: notify.NewService(cfg.NotifyOptions(), b.bus, b.metrics, b.logger),
	})
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := a.siteConfig()
	if err != nil {
		return err
	}
	origin, err := cfg.OriginURL()
	if err != nil {
		return err
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	m := metrics.Nop()
	if a.env.Metrics {
		m = metrics.NewPrometheus()
	}

	replayer, err := a.replayer(cfg, st, m)
	if err != nil {
		return err
	}

	pool := tasks.NewPool(a.env.Workers, 0, a.logger)
	defer pool.Close()

	bus := notify.NewBus()
	builder := &versionBuilder{
		stores:   st,
		upstream: fetch.NewHTTPFetcher(fetch.WithUserAgent("sitecache/" + version)),
		pool:     pool,
		replayer: replayer,
		bus:      bus,
		metrics:  m,
		logger:   a.logger,
	}

	reg := router.NewRegistration(a.logger)
	if _, err := builder.build(cfg); err != nil {
		return err
	}
	inst := &installer{
		reg:    reg,
		build:  func() (*router.Router, error) { return builder.build(cfg) },
		logger: a.logger,
	}
	if err := inst.ensure(ctx); err != nil {
		a.logger.Warn("no active version, passing requests through until the origin is back", "error", err)
	}

	monitor := bgsync.NewMonitor(origin.String(), a.env.ProbeInterval, a.logger,
		bgsync.WithStateChange(reg.SetOnline),
		bgsync.WithReconnect(func(context.Context) {
			pool.Go("reconnect", func(ctx context.Context) error {
				if err := inst.ensure(ctx); err != nil {
					return err
				}
				for _, tag := range replayer.Tags() {
					pool.Go("sync "+tag, func(ctx context.Context) error {
						return reg.Dispatch(ctx, events.SyncEvent{Tag: tag})
					})
				}
				return nil
			})
		}),
	)

	handler := api.NewHandler(api.Deps{
		Registration: reg,
		Upstream:     builder.upstream,
		Origin:       origin,
		Version:      version,
		Replayer:     replayer,
		Monitor:      monitor,
		Bus:          bus,
		Store:        st,
		Hot:          st.hot,
		Metrics:      m,
		Logger:       a.logger,
		MetricsOff:   !a.env.Metrics,
	})

	srv := &http.Server{
		Addr:              a.env.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("proxy listening", "addr", a.env.Addr, "url", listenURL(a.env.Addr), "origin", origin.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	if a.env.Watch && a.env.ConfigFile != "" {
		w, err := config.NewWatcher(a.env.ConfigFile, cfg, a.reloader(reg, builder, cfg), a.logger)
		if err != nil {
			a.logger.Warn("config watch disabled", "file", a.env.ConfigFile, "error", err)
		} else {
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	return g.Wait()
}

// reloader installs a new router version for every changed config. The
// origin and sync endpoints are fixed for the life of the process.
func (a *app) reloader(reg *router.Registration, b *versionBuilder, initial *config.Config) config.ReloadFunc {
	return func(ctx context.Context, next *config.Config) error {
		if a.env.Origin != "" {
			var err error
			if next, err = next.WithOrigin(a.env.Origin); err != nil {
				return err
			}
		}
		if next.Origin != initial.Origin {
			a.logger.Warn("origin change needs a restart, keeping current origin",
				"current", initial.Origin, "configured", next.Origin)
			next, _ = next.WithOrigin(initial.Origin)
		}
		r, err := b.build(next)
		if err != nil {
			return err
		}
		if err := reg.Update(ctx, r); err != nil {
			return fmt.Errorf("install version %s: %w", next.Version, err)
		}
		a.logger.Info("config reloaded", "version", next.Version, "cache", next.CacheName)
		return nil
	}
}
