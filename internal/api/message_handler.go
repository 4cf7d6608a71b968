package api

import (
	"errors"
	"net/http"

	"github.com/valhallatattoo/sitecache/internal/events"
	"github.com/valhallatattoo/sitecache/internal/router"
)

type messageHandler struct {
	reg *router.Registration
}

// post delivers a control message. SKIP_WAITING goes to the waiting
// version unless ?target says otherwise; everything else goes to the
// active one.
func (h *messageHandler) post(w http.ResponseWriter, r *http.Request) {
	var msg events.Message
	if err := decodeJSON(r, &msg); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	target := router.Target(r.URL.Query().Get("target"))
	if target == "" {
		target = router.TargetActive
		if msg.Type == router.MsgSkipWaiting {
			target = router.TargetWaiting
		}
	}
	if target != router.TargetActive && target != router.TargetWaiting {
		writeError(w, http.StatusBadRequest, "target must be active or waiting")
		return
	}

	reply, err := h.reg.PostMessage(r.Context(), target, msg)
	switch {
	case errors.Is(err, router.ErrNoActiveVersion), errors.Is(err, router.ErrNoWaitingVersion):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrUnknownMessage):
		writeError(w, http.StatusBadRequest, "unknown message type")
	case err != nil:
		writeErrorDetail(w, http.StatusInternalServerError, "message failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}
