package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/leadline/pkg/core"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/session"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps an error from the call controller to the console error
// envelope and HTTP status.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	switch {
	case errors.Is(err, session.ErrSessionActive):
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   "a call is already active",
			Code:      "call_active",
			RequestID: requestID,
		}, http.StatusConflict
	case errors.Is(err, session.ErrNoSession):
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "no active call",
			Code:      "no_call",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	var setupErr *session.SetupError
	if errors.As(err, &setupErr) {
		code := setupErr.Stage
		if errors.Is(err, channel.ErrMissingAPIKey) {
			code = "missing_api_key"
		}
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   setupErr.Error(),
			Code:      code,
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrUpstream:
		return http.StatusBadGateway
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
