package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/routing"
)

type classifyHandler struct {
	reg    *router.Registration
	origin *url.URL
}

type classifyRequest struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
}

type classifyResponse struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Destination fetch.Destination `json:"destination"`
	InScope     bool              `json:"in_scope"`
	PassThrough bool              `json:"pass_through"`
	Match       *routing.Match    `json:"match,omitempty"`
}

// classify reports which strategy the active version would pick for a
// request, without fetching anything.
func (h *classifyHandler) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	active := h.reg.Active()
	if active == nil {
		writeError(w, http.StatusNotFound, router.ErrNoActiveVersion.Error())
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid url", err.Error())
		return
	}
	u = h.origin.ResolveReference(u)

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	freq := &fetch.Request{
		Method:      method,
		URL:         u,
		Destination: fetch.Destination(strings.ToLower(req.Destination)),
		Header:      http.Header{},
	}

	engine := active.Engine()
	resp := classifyResponse{
		URL:         u.String(),
		Method:      method,
		Destination: freq.Destination,
		InScope:     engine.InScope(u, h.origin),
	}
	m, ok := engine.Explain(freq)
	if ok {
		resp.Match = &m
	}
	resp.PassThrough = !resp.InScope || !ok || m.Strategy == routing.NetworkOnly
	writeJSON(w, http.StatusOK, resp)
}
