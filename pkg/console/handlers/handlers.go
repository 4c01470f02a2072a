// Package handlers implements the operator console HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vango-go/leadline/pkg/console/apierror"
	"github.com/vango-go/leadline/pkg/console/mw"
	"github.com/vango-go/leadline/pkg/core"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/session"
	"github.com/vango-go/leadline/pkg/live/state"
)

// Calls is the call controller as seen by the console.
type Calls interface {
	Connect(ctx context.Context, opts session.Options) (*session.Session, error)
	Disconnect() error
	Snapshot() state.Snapshot
	Log() *eventlog.Log
	State() *state.Store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	mw.WriteJSONError(w, status, coreErr)
}

func writeCoreError(w http.ResponseWriter, r *http.Request, status int, coreErr *core.Error) {
	if coreErr.RequestID == "" {
		coreErr.RequestID, _ = mw.RequestIDFrom(r.Context())
	}
	mw.WriteJSONError(w, status, coreErr)
}
