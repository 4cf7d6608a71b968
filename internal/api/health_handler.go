package api

import (
	"context"
	"net/http"
	"time"

	"github.com/valhallatattoo/sitecache/internal/cache"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/routing"
)

var startTime = time.Now()

type statusHandler struct {
	reg     *router.Registration
	store   Pinger
	hot     *cache.Layered
	version string
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Active        string `json:"active_version,omitempty"`
	Store         string `json:"store"`
	Online        bool   `json:"online"`
}

func (h *statusHandler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int(time.Since(startTime).Seconds()),
		Store:         "ok",
		Online:        h.reg.Status().Online,
	}
	if active := h.reg.Active(); active != nil {
		resp.Active = active.Version()
	}

	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *statusHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Status())
}

type statsResponse struct {
	Classification *routing.Stats     `json:"classification,omitempty"`
	Caches         []router.CacheInfo `json:"caches"`
	Hot            *cache.LayerStats  `json:"hot,omitempty"`
}

func (h *statusHandler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Caches: []router.CacheInfo{}}
	if active := h.reg.Active(); active != nil {
		st := active.Engine().Stats()
		resp.Classification = &st
		caches, err := active.Caches(r.Context())
		if err != nil {
			writeErrorDetail(w, http.StatusServiceUnavailable, "cache store unavailable", err.Error())
			return
		}
		resp.Caches = caches
	}
	if h.hot != nil {
		hs := h.hot.Stats()
		resp.Hot = &hs
	}
	writeJSON(w, http.StatusOK, resp)
}
