// Package metrics holds the proxy's Prometheus instruments. A nil or Nop
// *Metrics discards everything, so components never check for it.
package metrics

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprom "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace        = "sitecache"
	RouterSubsystem  = "router"
	StoreSubsystem   = "store"
	SyncSubsystem    = "sync"
	APISubsystem     = "api"
	NotifySubsystem  = "notify"
	LifecycleVersion = "version"
)

// Metrics groups every instrument.
type Metrics struct {
	Responses         metrics.Counter // strategy, source
	StoreErrors       metrics.Counter // op
	Revalidations     metrics.Counter // result
	CoalescedFetches  metrics.Counter
	LifecycleState    metrics.Gauge // version
	SyncResults       metrics.Counter // tag, result
	Notifications     metrics.Counter // event
	RequestsTotal     metrics.Counter // method, code
	RequestDurationMs metrics.Histogram
}

// NewPrometheus registers instruments with the default registry. Call it
// once per process.
func NewPrometheus() *Metrics {
	return &Metrics{
		Responses: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RouterSubsystem,
			Name:      "responses_total",
			Help:      "Responses produced by the router, by strategy and source.",
		}, []string{"strategy", "source"}),
		StoreErrors: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: StoreSubsystem,
			Name:      "errors_total",
			Help:      "Cache store failures that were logged and skipped.",
		}, []string{"op"}),
		Revalidations: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RouterSubsystem,
			Name:      "revalidations_total",
			Help:      "Background revalidations, by result.",
		}, []string{"result"}),
		CoalescedFetches: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RouterSubsystem,
			Name:      "coalesced_fetches_total",
			Help:      "Upstream fetches shared with a concurrent identical request.",
		}, []string{}),
		LifecycleState: kitprom.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: RouterSubsystem,
			Name:      "lifecycle_state",
			Help:      "Lifecycle state of each router version (0 uninstalled .. 5 redundant).",
		}, []string{LifecycleVersion}),
		SyncResults: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SyncSubsystem,
			Name:      "submissions_total",
			Help:      "Replayed submissions, by tag and result.",
		}, []string{"tag", "result"}),
		Notifications: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: NotifySubsystem,
			Name:      "events_total",
			Help:      "Push and notification click events.",
		}, []string{"event"}),
		RequestsTotal: kitprom.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: APISubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "code"}),
		RequestDurationMs: kitprom.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: APISubsystem,
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"method"}),
	}
}

// Nop returns instruments that discard all observations.
func Nop() *Metrics {
	return &Metrics{
		Responses:         discard.NewCounter(),
		StoreErrors:       discard.NewCounter(),
		Revalidations:     discard.NewCounter(),
		CoalescedFetches:  discard.NewCounter(),
		LifecycleState:    discard.NewGauge(),
		SyncResults:       discard.NewCounter(),
		Notifications:     discard.NewCounter(),
		RequestsTotal:     discard.NewCounter(),
		RequestDurationMs: discard.NewHistogram(),
	}
}

func (m *Metrics) ObserveResponse(strategy, source string) {
	if m == nil {
		return
	}
	m.Responses.With("strategy", strategy, "source", source).Add(1)
}

func (m *Metrics) AddStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.With("op", op).Add(1)
}

func (m *Metrics) AddRevalidation(ok bool) {
	if m == nil {
		return
	}
	m.Revalidations.With("result", result(ok)).Add(1)
}

func (m *Metrics) AddCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedFetches.Add(1)
}

func (m *Metrics) SetLifecycle(version string, state int) {
	if m == nil {
		return
	}
	m.LifecycleState.With(LifecycleVersion, version).Set(float64(state))
}

func (m *Metrics) AddSyncResult(tag string, ok bool) {
	if m == nil {
		return
	}
	m.SyncResults.With("tag", tag, "result", result(ok)).Add(1)
}

func (m *Metrics) AddNotification(event string) {
	if m == nil {
		return
	}
	m.Notifications.With("event", event).Add(1)
}

func (m *Metrics) ObserveRequest(method, code string, begin time.Time) {
	if m == nil {
		return
	}
	m.RequestsTotal.With("method", method, "code", code).Add(1)
	m.RequestDurationMs.With("method", method).Observe(float64(time.Since(begin).Milliseconds()))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
