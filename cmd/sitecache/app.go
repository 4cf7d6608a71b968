package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valhallatattoo/sitecache/internal/api"
	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/cache"
	"github.com/valhallatattoo/sitecache/internal/config"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/secrets"
	"github.com/valhallatattoo/sitecache/internal/store"
	"github.com/valhallatattoo/sitecache/internal/store/redisstore"
	"github.com/valhallatattoo/sitecache/internal/store/sqlite"
)

// app carries what every subcommand needs.
type app struct {
	env    *Env
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sitecache",
		Short:         "Offline cache router for the studio website",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(nil)
			if err != nil {
				return err
			}
			if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
				e.ConfigFile = f.Value.String()
			}
			if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
				e.DBPath = f.Value.String()
			}
			a.env = e
			a.logger = newLogger(os.Stderr, e.LogLevel, e.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "site config file (.yaml, or a legacy worker .js)")
	root.PersistentFlags().String("db", "", "SQLite database path")

	root.AddCommand(
		newServeCmd(a),
		newClassifyCmd(a),
		newImportCmd(a),
		newPurgeCmd(a),
		newQueueCmd(a),
		newSyncCmd(a),
		newVersionCmd(),
	)
	return root
}

// siteConfig loads the config file, or the built-in defaults when the
// file does not exist. SITECACHE_ORIGIN overrides the file's origin.
func (a *app) siteConfig() (*config.Config, error) {
	cfg := config.Default()
	if a.env.ConfigFile != "" {
		if _, err := os.Stat(a.env.ConfigFile); err == nil {
			loaded, err := config.Load(a.env.ConfigFile)
			if err != nil {
				return nil, err
			}
			cfg = loaded
			a.logger.Info("loaded config", "file", a.env.ConfigFile, "version", cfg.Version)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}
	if a.env.Origin != "" {
		return cfg.WithOrigin(a.env.Origin)
	}
	return cfg, nil
}

// stores is the opened persistence layer. The queue always lives in
// SQLite; caches move to Redis when SITECACHE_REDIS_ADDR is set.
type stores struct {
	db     *sqlite.DB
	redis  *redisstore.Store
	caches store.CacheStore
	hot    *cache.Layered
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	if err := os.MkdirAll(filepath.Dir(a.env.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.New(ctx, a.env.DBPath)
	if err != nil {
		return nil, err
	}
	s := &stores{db: db, caches: db}

	if a.env.RedisAddr != "" {
		rs, err := redisstore.Dial(ctx, a.env.RedisAddr, redisstore.WithPrefix(a.env.RedisPrefix))
		if err != nil {
			db.Close()
			return nil, err
		}
		s.redis = rs
		s.caches = rs
		a.logger.Info("using redis cache store", "addr", a.env.RedisAddr)
	}
	if a.env.HotEntries > 0 {
		s.hot = cache.NewLayered(s.caches, a.env.HotEntries, a.env.HotMaxBody)
		s.caches = s.hot
	}
	return s, nil
}

// Ping checks every backend.
func (s *stores) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

var _ api.Pinger = (*stores)(nil)

// replayer builds the sync replayer over the sealed queue. An unwritable
// key path falls back to an in-memory key; queued payloads then cannot be
// read after a restart.
func (a *app) replayer(cfg *config.Config, s *stores, m *metrics.Metrics) (*bgsync.Replayer, error) {
	path := a.env.keyPath()
	enc, err := secrets.EnsureKeyFile(path)
	if err != nil {
		a.logger.Warn("failed to load queue key, falling back to ephemeral", "path", path, "error", err)
		if enc, err = secrets.NewEphemeralEncryptor(); err != nil {
			return nil, fmt.Errorf("create queue key: %w", err)
		}
	}
	sc, err := cfg.SyncConfig()
	if err != nil {
		return nil, err
	}
	return bgsync.NewReplayer(bgsync.NewSealedQueue(s.db, enc, a.logger), sc, a.logger, m), nil
}
