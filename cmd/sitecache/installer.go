package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valhallatattoo/sitecache/internal/router"
)

// installer brings up the configured version. When the first install
// fails the proxy keeps running as a pass-through and ensure is called
// again once the origin is reachable.
type installer struct {
	reg    *router.Registration
	build  func() (*router.Router, error)
	logger *slog.Logger

	mu sync.Mutex
}

// ensure installs a version unless one is already active.
func (in *installer) ensure(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.reg.Active() != nil {
		return nil
	}
	r, err := in.build()
	if err != nil {
		return err
	}
	if err := in.reg.Update(ctx, r); err != nil {
		return fmt.Errorf("install version %s: %w", r.Version(), err)
	}
	in.logger.Info("version installed", "version", r.Version(), "cache", r.CacheName())
	return nil
}
