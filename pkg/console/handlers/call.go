package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/leadline/pkg/console/lifecycle"
	"github.com/vango-go/leadline/pkg/core"
	"github.com/vango-go/leadline/pkg/live/session"
	"github.com/vango-go/leadline/pkg/live/state"
)

const maxCallBodyBytes = 4 << 10

type callRequest struct {
	CallerID string `json:"caller_id"`
}

type callResponse struct {
	CallID string         `json:"call_id,omitempty"`
	State  state.Snapshot `json:"state"`
}

// CallHandler starts (POST) and ends (DELETE) the call.
type CallHandler struct {
	Calls     Calls
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.start(w, r)
	case http.MethodDelete:
		h.end(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeCoreError(w, r, http.StatusMethodNotAllowed, core.NewInvalidRequestError("method not allowed"))
	}
}

func (h CallHandler) start(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeCoreError(w, r, http.StatusServiceUnavailable, core.NewUnavailableError("console is shutting down"))
		return
	}

	var req callRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBodyBytes+1))
	if err != nil {
		writeCoreError(w, r, http.StatusBadRequest, core.NewInvalidRequestError("read request body"))
		return
	}
	if len(body) > maxCallBodyBytes {
		writeCoreError(w, r, http.StatusRequestEntityTooLarge, core.NewInvalidRequestError("request body too large"))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeCoreError(w, r, http.StatusBadRequest, core.NewInvalidRequestError("invalid JSON body"))
			return
		}
	}

	s, err := h.Calls.Connect(r.Context(), session.Options{CallerID: strings.TrimSpace(req.CallerID)})
	if err != nil {
		if h.Logger != nil && !errors.Is(err, session.ErrSessionActive) {
			h.Logger.Warn("call setup failed", "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, callResponse{CallID: s.ID(), State: h.Calls.Snapshot()})
}

func (h CallHandler) end(w http.ResponseWriter, r *http.Request) {
	if err := h.Calls.Disconnect(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callResponse{State: h.Calls.Snapshot()})
}
