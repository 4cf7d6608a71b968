package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/router"
)

// maxRequestBody bounds buffered request bodies.
const maxRequestBody = 10 << 20

var errBodyTooLarge = errors.New("request body too large")

type proxyHandler struct {
	reg      *router.Registration
	upstream fetch.Fetcher
	origin   *url.URL
	replayer *bgsync.Replayer
	monitor  *bgsync.Monitor
	logger   *slog.Logger
}

type queuedResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
	Tag    string `json:"tag"`
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	ctx := r.Context()

	if resp, ok := h.reg.Handle(ctx, req); ok {
		writeResponse(w, r, resp)
		return
	}

	if !h.forwardable(req.URL) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	h.passThrough(w, r, req)
}

// passThrough forwards req upstream without touching the cache.
func (h *proxyHandler) passThrough(w http.ResponseWriter, r *http.Request, req *fetch.Request) {
	ctx := r.Context()
	resp, err := h.upstream.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.observe(ctx, req.URL, false)
		if sub, tag, ok := h.queue(ctx, req); ok {
			w.Header().Set(headerSource, string(fetch.SourceQueued))
			writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, ID: sub, Tag: tag})
			return
		}
		h.logger.Warn("pass-through failed", "url", req.URL.Redacted(), "error", err)
		writeErrorDetail(w, http.StatusBadGateway, "upstream unavailable", err.Error())
		return
	}
	h.observe(ctx, req.URL, resp.Status < http.StatusInternalServerError)
	resp.Source = fetch.SourcePassThrough
	writeResponse(w, r, resp)
}

// queue stores a failed POST to a background-sync endpoint for replay.
func (h *proxyHandler) queue(ctx context.Context, req *fetch.Request) (id, tag string, ok bool) {
	if h.replayer == nil || req.Method != http.MethodPost || !h.sameOrigin(req.URL) {
		return "", "", false
	}
	tag, ok = h.replayer.TagFor(req.URL.Path)
	if !ok {
		return "", "", false
	}
	sub, err := h.replayer.Enqueue(context.WithoutCancel(ctx), tag, req.Body, req.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Error("queue submission", "tag", tag, "error", err)
		return "", "", false
	}
	return sub.ID, tag, true
}

func (h *proxyHandler) observe(ctx context.Context, u *url.URL, up bool) {
	if h.monitor == nil || !h.sameOrigin(u) {
		return
	}
	h.monitor.Observe(ctx, up)
}

func (h *proxyHandler) buildRequest(r *http.Request) (*fetch.Request, error) {
	target := *r.URL
	if !target.IsAbs() {
		target = *h.origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}
	target.Fragment = ""

	header := r.Header.Clone()
	fetch.StripHopHeaders(header)

	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(data) > maxRequestBody {
			return nil, errBodyTooLarge
		}
		body = data
	}

	return &fetch.Request{
		Method:      r.Method,
		URL:         &target,
		Destination: fetch.DestinationFromHeader(r.Header),
		Header:      header,
		Body:        body,
	}, nil
}

// forwardable limits pass-through to the site origin and the trusted
// cross-origin hosts, so the proxy is not an open relay.
func (h *proxyHandler) forwardable(u *url.URL) bool {
	if h.sameOrigin(u) {
		return true
	}
	if active := h.reg.Active(); active != nil {
		return active.Engine().InScope(u, h.origin)
	}
	return false
}

func (h *proxyHandler) sameOrigin(u *url.URL) bool {
	return u.Scheme == h.origin.Scheme && u.Host == h.origin.Host
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *fetch.Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if resp.Strategy != "" {
		h.Set(headerStrategy, resp.Strategy)
	}
	h.Set(headerSource, string(resp.Source))
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(resp.Body)
}
