package routing

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/valhallatattoo/sitecache/internal/fetch"
)

// Engine classifies requests into caching strategies.
type Engine struct {
	rules   Rules
	exts    map[string]struct{}
	trusted map[string]struct{}

	counts   map[Strategy]*atomic.Int64
	passThru atomic.Int64
}

// NewEngine creates an engine over a private copy of rules.
func NewEngine(rules Rules) *Engine {
	e := &Engine{
		rules:   rules.Clone(),
		exts:    make(map[string]struct{}, len(rules.StaticExtensions)),
		trusted: make(map[string]struct{}, len(rules.TrustedOrigins)),
		counts:  make(map[Strategy]*atomic.Int64, len(Strategies)),
	}
	for _, ext := range rules.StaticExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		e.exts[ext] = struct{}{}
	}
	for _, o := range rules.TrustedOrigins {
		e.trusted[normalizeOrigin(o)] = struct{}{}
	}
	for _, s := range Strategies {
		e.counts[s] = new(atomic.Int64)
	}
	return e
}

// Rules returns a copy of the engine's rule tables.
func (e *Engine) Rules() Rules {
	return e.rules.Clone()
}

// Classify picks the strategy for req. The second result is false for
// requests that are not classified at all (non-GET), which must pass
// through untouched.
func (e *Engine) Classify(req *fetch.Request) (Strategy, bool) {
	m, ok := e.Explain(req)
	if !ok {
		e.passThru.Add(1)
		return "", false
	}
	e.counts[m.Strategy].Add(1)
	return m.Strategy, true
}

// Explain is Classify without bookkeeping, also naming the rule that
// matched.
func (e *Engine) Explain(req *fetch.Request) (Match, bool) {
	if req.Method != http.MethodGet {
		return Match{}, false
	}
	raw := req.URL.String()

	if m, ok := firstMarker(raw, e.rules.NetworkOnly); ok {
		return Match{Strategy: NetworkOnly, Table: TableNetworkOnly, Marker: m}, true
	}
	if m, ok := firstMarker(raw, e.rules.NetworkFirst); ok {
		return Match{Strategy: NetworkFirst, Table: TableNetworkFirst, Marker: m}, true
	}
	if m, ok := firstMarker(raw, e.rules.StaleWhileRevalidate); ok {
		return Match{Strategy: StaleWhileRevalidate, Table: TableStaleWhileRevalidate, Marker: m}, true
	}
	if ext := strings.ToLower(path.Ext(req.URL.Path)); ext != "" {
		if _, ok := e.exts[ext]; ok {
			return Match{Strategy: CacheFirst, Table: TableStaticExtensions, Marker: ext}, true
		}
	}
	switch req.Destination {
	case fetch.DestDocument:
		return Match{Strategy: NetworkFirst, Table: TableDocument}, true
	case fetch.DestImage:
		return Match{Strategy: StaleWhileRevalidate, Table: TableImage}, true
	}
	return Match{Strategy: StaleWhileRevalidate, Table: TableDefault}, true
}

// InScope reports whether u may be handled by the router: same origin as
// site, or one of the trusted cross-origin hosts.
func (e *Engine) InScope(u *url.URL, site *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	origin := originOf(u)
	if site != nil && origin == originOf(site) {
		return true
	}
	_, ok := e.trusted[origin]
	return ok
}

// Stats is a snapshot of classification counters.
type Stats struct {
	ByStrategy  map[Strategy]int64 `json:"by_strategy"`
	PassThrough int64              `json:"pass_through"`
}

// Stats returns classification counts since the engine was built.
func (e *Engine) Stats() Stats {
	s := Stats{
		ByStrategy:  make(map[Strategy]int64, len(e.counts)),
		PassThrough: e.passThru.Load(),
	}
	for st, c := range e.counts {
		s.ByStrategy[st] = c.Load()
	}
	return s
}
