package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/store"
)

type syncHandler struct {
	reg      *router.Registration
	replayer *bgsync.Replayer
}

type syncResponse struct {
	Tag        string `json:"tag"`
	Dispatched bool   `json:"dispatched"`
	Pending    int    `json:"pending"`
}

type queueListResponse struct {
	Tag         string             `json:"tag"`
	Submissions []store.Submission `json:"submissions"`
}

// tag resolves the {tag} path value, writing an error when sync is off
// or the tag is unknown.
func (h *syncHandler) tag(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.replayer == nil {
		writeError(w, http.StatusServiceUnavailable, "background sync disabled")
		return "", false
	}
	tag := r.PathValue("tag")
	if _, ok := h.replayer.Endpoint(tag); !ok {
		writeError(w, http.StatusNotFound, "unknown sync tag")
		return "", false
	}
	return tag, true
}

// trigger fires a sync event for the tag. With no active version the
// queue is replayed directly.
func (h *syncHandler) trigger(w http.ResponseWriter, r *http.Request) {
	tag, ok := h.tag(w, r)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(r.Context())

	resp := syncResponse{Tag: tag, Dispatched: true}
	err := h.reg.Dispatch(ctx, events.SyncEvent{Tag: tag})
	if errors.Is(err, router.ErrNoActiveVersion) {
		resp.Dispatched = false
		_, err = h.replayer.Sync(ctx, tag)
	}
	if err != nil {
		writeErrorDetail(w, http.StatusBadGateway, "sync failed", err.Error())
		return
	}

	pending, err := h.replayer.Pending(ctx, tag)
	if err != nil {
		writeErrorDetail(w, http.StatusInternalServerError, "list queue", err.Error())
		return
	}
	resp.Pending = len(pending)
	writeJSON(w, http.StatusOK, resp)
}

func (h *syncHandler) list(w http.ResponseWriter, r *http.Request) {
	tag, ok := h.tag(w, r)
	if !ok {
		return
	}
	subs, err := h.replayer.Pending(r.Context(), tag)
	if err != nil {
		writeErrorDetail(w, http.StatusInternalServerError, "list queue", err.Error())
		return
	}
	if subs == nil {
		subs = []store.Submission{}
	}
	writeJSON(w, http.StatusOK, queueListResponse{Tag: tag, Submissions: subs})
}

// enqueue stores a JSON payload for later replay.
func (h *syncHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	tag, ok := h.tag(w, r)
	if !ok {
		return
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be a JSON document")
		return
	}
	sub, err := h.replayer.Enqueue(r.Context(), tag, body, "application/json")
	if err != nil {
		writeErrorDetail(w, http.StatusInternalServerError, "enqueue failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, ID: sub.ID, Tag: tag})
}
