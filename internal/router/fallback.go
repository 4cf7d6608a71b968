package router

import (
	"context"
	_ "embed"
	"net/http"
	"strings"

	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/store"
)

// OfflinePagePath is looked up in the current cache before the built-in
// offline page is used.
const OfflinePagePath = "/offline.html"

var (
	//go:embed assets/offline.html
	offlineHTML []byte

	//go:embed assets/placeholder.svg
	placeholderSVG []byte

	offlineJSON = []byte(`{"error":"Offline","message":"This feature requires an internet connection"}`)
	offlineText = []byte("Offline")
)

// OfflineFallback returns the canned response for a request that neither
// the cache nor the network could satisfy. It never fails.
func (r *Router) OfflineFallback(ctx context.Context, req *fetch.Request) *fetch.Response {
	switch {
	case req.Destination == fetch.DestDocument:
		if page, ok := r.offlinePage(ctx); ok {
			return page
		}
		return canned(http.StatusOK, "text/html; charset=utf-8", offlineHTML)
	case req.Destination == fetch.DestImage:
		return canned(http.StatusOK, "image/svg+xml", placeholderSVG)
	case strings.HasPrefix(req.URL.Path, "/api/"):
		return canned(http.StatusServiceUnavailable, "application/json", offlineJSON)
	default:
		return canned(http.StatusServiceUnavailable, "text/plain; charset=utf-8", offlineText)
	}
}

func (r *Router) offlinePage(ctx context.Context) (*fetch.Response, bool) {
	cached, ok := r.match(ctx, store.GetKey(r.resolve(OfflinePagePath).String()))
	if !ok {
		return nil, false
	}
	resp := fetch.FromCached(cached)
	resp.Status = http.StatusOK
	resp.Source = fetch.SourceFallback
	return resp, true
}

func canned(status int, contentType string, body []byte) *fetch.Response {
	return &fetch.Response{
		Status: status,
		Header: http.Header{
			"Content-Type":  {contentType},
			"Cache-Control": {"no-store"},
		},
		Body:   append([]byte(nil), body...),
		Source: fetch.SourceFallback,
	}
}
