package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/routing"
	"github.com/valhallatattoo/sitecache/internal/store/memory"
)

// site is a test origin that can be taken offline.
type site struct {
	srv      *httptest.Server
	origin   *url.URL
	down     atomic.Bool
	upstream fetch.Fetcher

	mu       sync.Mutex
	received map[string][]string
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{received: make(map[string][]string)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.received[r.Method+" "+r.URL.Path] = append(s.received[r.Method+" "+r.URL.Path], string(body))
		s.mu.Unlock()

		switch r.URL.Path {
		case "/", "/offline.html", "/admin", "/metrics":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<h1>"+r.URL.Path+"</h1>")
		case "/css/main.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{}")
		case "/contact", "/newsletter":
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.srv.Close)

	u, err := url.Parse(s.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	s.origin = u
	hf := fetch.NewHTTPFetcher()
	s.upstream = fetch.FetcherFunc(func(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
		if s.down.Load() {
			return nil, errors.New("connection refused")
		}
		return hf.Fetch(ctx, req)
	})
	return s
}

func (s *site) hits(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received[key]...)
}

type testEnv struct {
	site     *site
	reg      *router.Registration
	replayer *bgsync.Replayer
	bus      *notify.Bus
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := newSite(t)
	st := memory.New()
	m := metrics.Nop()
	bus := notify.NewBus()

	replayer := bgsync.NewReplayer(st, bgsync.Config{
		Origin:     s.origin,
		MaxRetries: 1,
		Backoff:    func(int) time.Duration { return 0 },
	}, nil, m)

	r, err := router.New(router.Config{
		Version:   "v1",
		CacheName: "valhalla-v1",
		Origin:    s.origin,
		Precache:  []string{"/", "/offline.html", "/css/main.css"},
		Rules:     routing.DefaultRules(),
	}, router.Deps{
		Store:    st,
		Fetcher:  s.upstream,
		Metrics:  m,
		Syncer:   replayer,
		Notifier: notify.NewService(notify.DefaultOptions(), bus, m, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := router.NewRegistration(nil)
	if err := reg.Update(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		site:     s,
		reg:      reg,
		replayer: replayer,
		bus:      bus,
		handler: NewHandler(Deps{
			Registration: reg,
			Upstream:     s.upstream,
			Origin:       s.origin,
			Version:      "test",
			Replayer:     replayer,
			Bus:          bus,
			Store:        st,
			Metrics:      m,
			MetricsOff:   true,
		}),
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestProxyServesFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.site.down.Store(true)

	rr := env.do(t, http.MethodGet, "/css/main.css", "", map[string]string{"Sec-Fetch-Dest": "style"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get(headerStrategy); got != string(routing.CacheFirst) {
		t.Errorf("strategy = %q", got)
	}
	if got := rr.Header().Get(headerSource); got != string(fetch.SourceCache) {
		t.Errorf("source = %q", got)
	}
	if rr.Body.String() != "body{}" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestProxyOfflineDocument(t *testing.T) {
	env := newTestEnv(t)
	env.site.down.Store(true)

	rr := env.do(t, http.MethodGet, "/gallery", "", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get(headerSource); got != string(fetch.SourceFallback) {
		t.Errorf("source = %q", got)
	}
	if rr.Body.String() != "<h1>/offline.html</h1>" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestProxyPassThrough(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/admin", "", map[string]string{"Sec-Fetch-Dest": "document"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get(headerSource); got != string(fetch.SourcePassThrough) {
		t.Errorf("source = %q", got)
	}
	if got := rr.Header().Get(headerStrategy); got != "" {
		t.Errorf("strategy header on pass-through: %q", got)
	}

	env.site.down.Store(true)
	rr = env.do(t, http.MethodGet, "/admin", "", nil)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("offline pass-through status = %d, want 502", rr.Code)
	}
}

func TestProxyRejectsUntrustedAbsoluteForm(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "http://tracker.example/pixel.gif", "", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestOfflineSubmissionQueuedAndReplayed(t *testing.T) {
	env := newTestEnv(t)
	env.site.down.Store(true)

	rr := env.do(t, http.MethodPost, "/contact", `{"name":"Ragnar"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	q := decodeBody[queuedResponse](t, rr)
	if !q.Queued || q.ID == "" || q.Tag != bgsync.TagContactForm {
		t.Errorf("queued = %+v", q)
	}

	rr = env.do(t, http.MethodGet, "/_sitecache/v1/sync/contact-form-sync/queue", "", nil)
	list := decodeBody[queueListResponse](t, rr)
	if len(list.Submissions) != 1 || list.Submissions[0].ID != q.ID {
		t.Fatalf("queue = %+v", list)
	}

	env.site.down.Store(false)
	rr = env.do(t, http.MethodPost, "/_sitecache/v1/sync/contact-form-sync", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", rr.Code, rr.Body.String())
	}
	if diff := cmp.Diff(syncResponse{Tag: bgsync.TagContactForm, Dispatched: true}, decodeBody[syncResponse](t, rr)); diff != "" {
		t.Errorf("sync mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`{"name":"Ragnar"}`}, env.site.hits("POST /contact")); diff != "" {
		t.Errorf("replayed bodies mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/_sitecache/v1/sync/unknown-sync", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown tag status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/_sitecache/v1/sync/newsletter-sync/queue", `{"email":"a@b.c"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/_sitecache/v1/sync/newsletter-sync/queue", `not json`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid payload status = %d", rr.Code)
	}
}

func TestMessageEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/_sitecache/v1/message", `{"type":"GET_VERSION"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeBody[router.VersionReply](t, rr); got.Version != "v1" {
		t.Errorf("version = %q", got.Version)
	}

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"skip waiting with nothing waiting", "/_sitecache/v1/message", `{"type":"SKIP_WAITING"}`, http.StatusNotFound},
		{"skip waiting on active", "/_sitecache/v1/message?target=active", `{"type":"SKIP_WAITING"}`, http.StatusOK},
		{"unknown type", "/_sitecache/v1/message", `{"type":"PING"}`, http.StatusBadRequest},
		{"missing type", "/_sitecache/v1/message", `{}`, http.StatusBadRequest},
		{"unknown field", "/_sitecache/v1/message", `{"type":"GET_VERSION","x":1}`, http.StatusBadRequest},
		{"bad target", "/_sitecache/v1/message?target=all", `{"type":"GET_VERSION"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.target, tt.body, nil)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.status, rr.Body.String())
			}
		})
	}
}

func TestStatusHealthStats(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/_sitecache/v1/status", "", nil)
	st := decodeBody[router.Status](t, rr)
	if !st.Registered || st.Active == nil || st.Active.Version != "v1" || st.UpdateAvailable {
		t.Errorf("status = %+v", st)
	}

	rr = env.do(t, http.MethodGet, "/_sitecache/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	h := decodeBody[healthResponse](t, rr)
	if h.Status != "ok" || h.Active != "v1" || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("control response missing security headers")
	}

	env.do(t, http.MethodGet, "/css/main.css", "", nil)
	rr = env.do(t, http.MethodGet, "/_sitecache/v1/stats", "", nil)
	stats := decodeBody[statsResponse](t, rr)
	if stats.Classification == nil || stats.Classification.ByStrategy[routing.CacheFirst] != 1 {
		t.Errorf("classification = %+v", stats.Classification)
	}
	if len(stats.Caches) != 1 || stats.Caches[0].Entries != 3 || !stats.Caches[0].Current {
		t.Errorf("caches = %+v", stats.Caches)
	}

	rr = env.do(t, http.MethodGet, "/_sitecache/v1/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown control path status = %d", rr.Code)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		body     string
		strategy routing.Strategy
		pass     bool
	}{
		{`{"url":"/images/portfolio/a.jpg","destination":"image"}`, routing.StaleWhileRevalidate, false},
		{`{"url":"/about","destination":"document"}`, routing.NetworkFirst, false},
		{`{"url":"/admin"}`, routing.NetworkOnly, true},
		{`{"url":"https://fonts.gstatic.com/s/a.woff2"}`, routing.CacheFirst, false},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodPost, "/_sitecache/v1/classify", tt.body, nil)
		got := decodeBody[classifyResponse](t, rr)
		if got.Match == nil || got.Match.Strategy != tt.strategy || got.PassThrough != tt.pass {
			t.Errorf("%s: got %+v", tt.body, got)
		}
	}

	rr := env.do(t, http.MethodPost, "/_sitecache/v1/classify", `{"url":"/contact","method":"post"}`, nil)
	got := decodeBody[classifyResponse](t, rr)
	if got.Match != nil || !got.PassThrough {
		t.Errorf("POST classified: %+v", got)
	}
}

func TestPushAndClick(t *testing.T) {
	env := newTestEnv(t)
	ch := env.bus.Subscribe()
	defer env.bus.Unsubscribe(ch)

	rr := env.do(t, http.MethodPost, "/_sitecache/v1/push", `{"title":"Flash day","body":"Walk-ins welcome"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("push status = %d", rr.Code)
	}
	select {
	case evt := <-ch:
		if evt.Type != notify.EventShown || evt.Notification.Title != "Flash day" || evt.Notification.Tag != notify.DefaultTag {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification published")
	}

	rr = env.do(t, http.MethodPost, "/_sitecache/v1/push", `{"body":"no title"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed push status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/_sitecache/v1/notifications/click", `{"action":"view"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("click status = %d", rr.Code)
	}
	select {
	case evt := <-ch:
		if evt.Click == nil || evt.Click.OpenURL != notify.DefaultOpenURL {
			t.Errorf("click event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no click published")
	}
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/_sitecache/v1/notifications/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.bus.Publish(notify.Event{Type: notify.EventShown, Notification: &notify.Notification{Title: "Hi"}})

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); !strings.Contains(got, "event: shown") || !strings.Contains(got, `"title":"Hi"`) {
		t.Errorf("stream chunk = %q", got)
	}
}

func TestMetricsDoNotShadowSitePages(t *testing.T) {
	env := newTestEnv(t)
	env.handler = NewHandler(Deps{
		Registration: env.reg,
		Upstream:     env.site.upstream,
		Origin:       env.site.origin,
		Version:      "test",
		Replayer:     env.replayer,
	})

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h1>/metrics</h1>") {
		t.Fatalf("site page: status %d body %q", rec.Code, rec.Body.String())
	}
	if got := len(env.site.hits("GET /metrics")); got != 1 {
		t.Errorf("origin hits = %d, want 1", got)
	}

	rec = env.do(t, http.MethodGet, ControlPrefix+"metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics body missing go collector output")
	}
}
