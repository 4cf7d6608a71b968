package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/router"
)

type notifyHandler struct {
	reg *router.Registration
}

type dispatchResponse struct {
	Dispatched bool `json:"dispatched"`
}

type clickRequest struct {
	Action string `json:"action"`
	Tag    string `json:"tag"`
}

// push delivers a raw push payload to the active version.
func (h *notifyHandler) push(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	h.dispatch(w, r, events.PushEvent{Data: data})
}

func (h *notifyHandler) click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	h.dispatch(w, r, events.NotificationClickEvent{Action: req.Action, Tag: req.Tag})
}

func (h *notifyHandler) dispatch(w http.ResponseWriter, r *http.Request, ev events.Event) {
	err := h.reg.Dispatch(r.Context(), ev)
	switch {
	case errors.Is(err, router.ErrNoActiveVersion):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notify.ErrMalformed):
		writeErrorDetail(w, http.StatusBadRequest, "malformed push payload", err.Error())
	case err != nil:
		writeErrorDetail(w, http.StatusInternalServerError, "dispatch failed", err.Error())
	default:
		writeJSON(w, http.StatusAccepted, dispatchResponse{Dispatched: true})
	}
}

type notifySSEHandler struct {
	bus *notify.Bus
}

func (h *notifySSEHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		}
	}
}
