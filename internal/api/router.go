// Package api exposes the cache router over HTTP: a caching proxy for
// the site and a small control API under /_sitecache/v1/.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/cache"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/router"
)

// ControlPrefix is where the control API is mounted.
const ControlPrefix = "/_sitecache/"

// Response headers naming how a proxied response was produced.
const (
	headerStrategy = "X-Sitecache-Strategy"
	headerSource   = "X-Sitecache-Source"
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Registration *router.Registration
	// Upstream serves pass-through requests.
	Upstream fetch.Fetcher
	// Origin resolves origin-form request targets.
	Origin  *url.URL
	Version string

	Replayer *bgsync.Replayer // optional; enables queueing and sync
	Monitor  *bgsync.Monitor  // optional; fed by pass-through outcomes
	Bus      *notify.Bus      // optional; enables the notification stream
	Store    Pinger           // optional; checked by health
	Hot      *cache.Layered   // optional; hot layer stats
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger     // optional

	// MetricsOff hides the Prometheus endpoint at ControlPrefix + "metrics".
	MetricsOff bool
}

// NewHandler creates the http.Handler for the proxy and control API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	control := http.NewServeMux()

	msg := &messageHandler{reg: deps.Registration}
	control.HandleFunc("POST /_sitecache/v1/message", msg.post)

	st := &statusHandler{
		reg:     deps.Registration,
		store:   deps.Store,
		hot:     deps.Hot,
		version: deps.Version,
	}
	control.HandleFunc("GET /_sitecache/v1/status", st.status)
	control.HandleFunc("GET /_sitecache/v1/health", st.health)
	control.HandleFunc("GET /_sitecache/v1/stats", st.stats)

	cl := &classifyHandler{reg: deps.Registration, origin: deps.Origin}
	control.HandleFunc("POST /_sitecache/v1/classify", cl.classify)

	sh := &syncHandler{reg: deps.Registration, replayer: deps.Replayer}
	control.HandleFunc("POST /_sitecache/v1/sync/{tag}", sh.trigger)
	control.HandleFunc("GET /_sitecache/v1/sync/{tag}/queue", sh.list)
	control.HandleFunc("POST /_sitecache/v1/sync/{tag}/queue", sh.enqueue)

	nh := &notifyHandler{reg: deps.Registration}
	control.HandleFunc("POST /_sitecache/v1/push", nh.push)
	control.HandleFunc("POST /_sitecache/v1/notifications/click", nh.click)
	if deps.Bus != nil {
		sse := &notifySSEHandler{bus: deps.Bus}
		control.HandleFunc("GET /_sitecache/v1/notifications/stream", sse.stream)
	}

	control.HandleFunc(ControlPrefix, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	var controlHandler http.Handler = control
	controlHandler = requireJSONContentTypeMiddleware(controlHandler)
	controlHandler = browserOriginProtectionMiddleware(controlHandler)
	controlHandler = securityHeadersMiddleware(controlHandler)
	controlHandler = corsMiddleware(controlHandler)

	px := &proxyHandler{
		reg:      deps.Registration,
		upstream: deps.Upstream,
		origin:   deps.Origin,
		replayer: deps.Replayer,
		monitor:  deps.Monitor,
		logger:   deps.Logger,
	}

	mux := http.NewServeMux()
	mux.Handle(ControlPrefix, controlHandler)
	if !deps.MetricsOff {
		mux.Handle("GET "+ControlPrefix+"metrics", promhttp.Handler())
	}
	mux.Handle("/", px)

	// Apply middleware chain: RequestID -> Recovery -> Logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(deps.Logger, deps.Metrics)(handler)
	handler = recoveryMiddleware(deps.Logger)(handler)
	handler = requestIDMiddleware(handler)

	return handler
}
