package handlers

import (
	"net/http"
	"strconv"

	"github.com/vango-go/leadline/pkg/core"
	"github.com/vango-go/leadline/pkg/live/eventlog"
)

type StateHandler struct {
	Calls Calls
}

func (h StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Calls.Snapshot())
}

// LogsHandler returns the event log newest first. ?limit=N keeps the N most
// recent entries.
type LogsHandler struct {
	Calls Calls
}

func (h LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entries := h.Calls.Log().Entries()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeCoreError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("limit must be a non-negative integer", "limit"))
			return
		}
		if n < len(entries) {
			entries = entries[:n]
		}
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
