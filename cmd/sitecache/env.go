package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mattn/go-isatty"
)

// Env holds process configuration loaded from environment variables.
// Site behaviour (precache, rules, version) lives in the YAML config file.
type Env struct {
	Addr        string `env:"SITECACHE_ADDR" envDefault:"127.0.0.1:8080"`
	ConfigFile  string `env:"SITECACHE_CONFIG"`
	DBPath      string `env:"SITECACHE_DB"`
	RedisAddr   string `env:"SITECACHE_REDIS_ADDR"`
	RedisPrefix string `env:"SITECACHE_REDIS_PREFIX" envDefault:"sitecache"`
	Origin      string `env:"SITECACHE_ORIGIN"`
	AgeKeyPath  string `env:"SITECACHE_AGE_KEY"`
	LogLevel    string `env:"SITECACHE_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"SITECACHE_LOG_FORMAT"` // "json", "text" or empty to detect

	HotEntries    int           `env:"SITECACHE_HOT_ENTRIES" envDefault:"512"`
	HotMaxBody    int           `env:"SITECACHE_HOT_MAX_BODY" envDefault:"262144"`
	Workers       int           `env:"SITECACHE_WORKERS" envDefault:"4"`
	ProbeInterval time.Duration `env:"SITECACHE_PROBE_INTERVAL" envDefault:"30s"`
	Watch         bool          `env:"SITECACHE_WATCH" envDefault:"true"`
	Metrics       bool          `env:"SITECACHE_METRICS" envDefault:"true"`
}

// defaultDataPath returns ~/.sitecache/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".sitecache", filename)
}

// loadEnv parses environ, or the process environment when environ is nil.
func loadEnv(environ map[string]string) (*Env, error) {
	cfg := &Env{
		ConfigFile: defaultDataPath("sitecache.yaml"),
		DBPath:     defaultDataPath("sitecache.db"),
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		return nil, fmt.Errorf("SITECACHE_LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// keyPath is where the queue encryption key lives.
func (e *Env) keyPath() string {
	if e.AgeKeyPath != "" {
		return e.AgeKeyPath
	}
	return e.DBPath + ".age"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text to terminals and JSON everywhere else unless the
// format is forced.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
