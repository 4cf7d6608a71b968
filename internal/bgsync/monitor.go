package bgsync

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Monitor probes the site origin and reports connectivity changes. On an
// offline to online transition it calls the reconnect hook, which is
// where sync events are fired.
type Monitor struct {
	probeURL  string
	interval  time.Duration
	client    *http.Client
	logger    *slog.Logger
	online    atomic.Bool
	reconnect func(ctx context.Context)
	onChange  func(online bool)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithReconnect sets the hook run when connectivity comes back.
func WithReconnect(fn func(ctx context.Context)) MonitorOption {
	return func(m *Monitor) { m.reconnect = fn }
}

// WithStateChange sets a hook run on every transition.
func WithStateChange(fn func(online bool)) MonitorOption {
	return func(m *Monitor) { m.onChange = fn }
}

// WithProbeClient replaces the probe HTTP client.
func WithProbeClient(c *http.Client) MonitorOption {
	return func(m *Monitor) { m.client = c }
}

// NewMonitor creates a monitor that assumes the origin starts online.
func NewMonitor(probeURL string, interval time.Duration, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
	m.online.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// Check probes once and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	up := m.probe(ctx)
	m.Observe(ctx, up)
	return up
}

// Observe records an externally observed state, such as a failed
// upstream fetch.
func (m *Monitor) Observe(ctx context.Context, up bool) {
	was := m.online.Swap(up)
	if was == up {
		return
	}
	if up {
		m.logger.Info("origin reachable again")
	} else {
		m.logger.Warn("origin unreachable")
	}
	if m.onChange != nil {
		m.onChange(up)
	}
	if up && m.reconnect != nil {
		m.reconnect(ctx)
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
