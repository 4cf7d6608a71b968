package routing

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/valhallatattoo/sitecache/internal/fetch"
)

const site = "https://valhallatattoo.example"

func req(t *testing.T, method, rawURL string, dest fetch.Destination) *fetch.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	return &fetch.Request{Method: method, URL: u, Destination: dest, Header: http.Header{}}
}

func TestClassify(t *testing.T) {
	e := NewEngine(DefaultRules())

	tests := []struct {
		name  string
		url   string
		dest  fetch.Destination
		want  Strategy
		table string
	}{
		{"stylesheet", site + "/assets/css/main.css", fetch.DestStyle, CacheFirst, TableStaticExtensions},
		{"module script", site + "/js/modules/portfolio.mjs", fetch.DestScript, CacheFirst, TableStaticExtensions},
		{"font uppercase ext", site + "/fonts/Norse.WOFF2", fetch.DestFont, CacheFirst, TableStaticExtensions},
		{"home document", site + "/", fetch.DestDocument, NetworkFirst, TableDocument},
		{"portfolio page", site + "/portfolio/jimmy.html", fetch.DestDocument, NetworkFirst, TableDocument},
		{"portfolio image", site + "/images/portfolio/jimmy/photo1.jpg", fetch.DestImage, StaleWhileRevalidate, TableStaleWhileRevalidate},
		{"gallery image", site + "/images/gallery/1.jpg", fetch.DestImage, StaleWhileRevalidate, TableImage},
		{"api", site + "/api/contact", fetch.DestOther, NetworkFirst, TableNetworkFirst},
		{"newsletter", site + "/newsletter", fetch.DestOther, NetworkFirst, TableNetworkFirst},
		{"analytics", site + "/analytics/collect", fetch.DestOther, NetworkOnly, TableNetworkOnly},
		{"admin beats extension", site + "/admin/app.js", fetch.DestScript, NetworkOnly, TableNetworkOnly},
		{"api beats extension", site + "/api/config.js", fetch.DestScript, NetworkFirst, TableNetworkFirst},
		{"swr beats extension", site + "/images/blog/embed.css", fetch.DestStyle, StaleWhileRevalidate, TableStaleWhileRevalidate},
		{"live beats document", site + "/live", fetch.DestDocument, NetworkOnly, TableNetworkOnly},
		{"query string marker", site + "/search?next=/admin", fetch.DestOther, NetworkOnly, TableNetworkOnly},
		{"extension ignores query", site + "/manifest.json?v=.css", fetch.DestOther, StaleWhileRevalidate, TableDefault},
		{"cdn font css", "https://fonts.googleapis.com/css2?family=Cinzel", fetch.DestStyle, StaleWhileRevalidate, TableDefault},
		{"cdn script", "https://unpkg.com/lib@1/dist/lib.js", fetch.DestScript, CacheFirst, TableStaticExtensions},
		{"default", site + "/robots.txt", fetch.DestOther, StaleWhileRevalidate, TableDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := e.Explain(req(t, http.MethodGet, tt.url, tt.dest))
			if !ok {
				t.Fatal("expected GET to be classified")
			}
			if m.Strategy != tt.want {
				t.Fatalf("strategy = %s, want %s", m.Strategy, tt.want)
			}
			if m.Table != tt.table {
				t.Fatalf("table = %s, want %s", m.Table, tt.table)
			}
		})
	}
}

func TestClassify_NonGET(t *testing.T) {
	e := NewEngine(DefaultRules())
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		if s, ok := e.Classify(req(t, method, site+"/assets/css/main.css", fetch.DestStyle)); ok {
			t.Fatalf("%s classified as %s", method, s)
		}
	}
	if got := e.Stats().PassThrough; got != 4 {
		t.Fatalf("pass-through count = %d, want 4", got)
	}
}

func TestClassify_NeverCacheOnly(t *testing.T) {
	e := NewEngine(DefaultRules())
	for _, u := range []string{"/admin", "/live", "/", "/x.css", "/images/studio/a.png"} {
		for _, d := range []fetch.Destination{fetch.DestDocument, fetch.DestImage, fetch.DestOther} {
			s, _ := e.Classify(req(t, http.MethodGet, site+u, d))
			if s == CacheOnly {
				t.Fatalf("%s (%q) classified cache-only", u, d)
			}
		}
	}
}

func TestClassify_Stats(t *testing.T) {
	e := NewEngine(DefaultRules())
	e.Classify(req(t, http.MethodGet, site+"/a.css", fetch.DestStyle))
	e.Classify(req(t, http.MethodGet, site+"/b.css", fetch.DestStyle))
	e.Classify(req(t, http.MethodGet, site+"/", fetch.DestDocument))

	s := e.Stats()
	if s.ByStrategy[CacheFirst] != 2 || s.ByStrategy[NetworkFirst] != 1 {
		t.Fatalf("stats = %+v", s.ByStrategy)
	}
}

func TestEngine_CopiesRules(t *testing.T) {
	rules := DefaultRules()
	e := NewEngine(rules)
	rules.NetworkOnly[0] = "/changed"

	if got := e.Rules().NetworkOnly[0]; got != "/analytics" {
		t.Fatalf("engine rules mutated: %q", got)
	}
}

func TestInScope(t *testing.T) {
	e := NewEngine(DefaultRules())
	siteURL, _ := url.Parse(site)

	tests := []struct {
		url  string
		want bool
	}{
		{site + "/portfolio/kason.html", true},
		{"https://VALHALLATATTOO.example:443/", true},
		{"/relative/path", true},
		{"https://fonts.gstatic.com/s/cinzel.woff2", true},
		{"https://graph.instagram.com/me/media", true},
		{"http://fonts.gstatic.com/s/cinzel.woff2", false},
		{"https://evil.example/x.js", false},
		{"https://unpkg.com.evil.example/x.js", false},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.url)
		if got := e.InScope(u, siteURL); got != tt.want {
			t.Errorf("InScope(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStrategy(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStrategy("cache-maybe"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
