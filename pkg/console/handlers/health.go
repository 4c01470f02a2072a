package handlers

import (
	"net/http"

	"github.com/vango-go/leadline/pkg/console/lifecycle"
	"github.com/vango-go/leadline/pkg/live/state"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Calls     Calls

	// APIKeyConfigured reports whether a speech service key is available.
	APIKeyConfigured bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK         bool            `json:"ok"`
		Draining   bool            `json:"draining"`
		Connection state.ConnState `json:"connection"`
		Issues     []string        `json:"issues,omitempty"`
	}

	var issues []string
	if !h.APIKeyConfigured {
		issues = append(issues, "speech service api key not configured")
	}

	draining := h.Lifecycle.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:         !draining,
		Draining:   draining,
		Connection: h.Calls.Snapshot().Conn,
		Issues:     issues,
	})
}
