package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitecache.yaml")
	if err := os.WriteFile(path, []byte("version: 1.0.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	current, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, current, func(_ context.Context, cfg *Config) error {
		reloaded <- cfg
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("version: 1.1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Version != "1.1.0" {
			t.Errorf("version = %q, want 1.1.0", cfg.Version)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after change")
	}

	// A broken file keeps the current configuration.
	if err := os.WriteFile(path, []byte("version: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloaded:
		t.Fatalf("reloaded invalid config %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
