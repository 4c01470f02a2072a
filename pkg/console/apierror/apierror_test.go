package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/leadline/pkg/core"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/session"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != http.StatusRequestTimeout {
		t.Fatalf("status=%d", status)
	}
	if ce.Code != "cancelled" || ce.RequestID != "req_test" {
		t.Fatalf("error=%+v", ce)
	}
}

func TestFromError_SessionSentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    core.ErrorType
	}{
		{session.ErrSessionActive, http.StatusConflict, core.ErrConflict},
		{fmt.Errorf("connect: %w", session.ErrSessionActive), http.StatusConflict, core.ErrConflict},
		{session.ErrNoSession, http.StatusNotFound, core.ErrNotFound},
		{core.NewInvalidRequestError("bad body"), http.StatusBadRequest, core.ErrInvalidRequest},
		{core.NewUnavailableError("draining"), http.StatusServiceUnavailable, core.ErrUnavailable},
	}
	for _, tt := range tests {
		ce, status := FromError(tt.err, "req_test")
		if status != tt.status || ce.Type != tt.typ {
			t.Fatalf("FromError(%v) = %+v/%d, want %s/%d", tt.err, ce, status, tt.typ, tt.status)
		}
	}
}

func TestFromError_SetupFailureIs502(t *testing.T) {
	ce, status := FromError(&session.SetupError{Stage: session.StageMicrophone, Err: errors.New("permission denied")}, "req_test")
	if status != http.StatusBadGateway || ce.Type != core.ErrUpstream || ce.Code != "microphone" {
		t.Fatalf("error=%+v status=%d", ce, status)
	}

	ce, _ = FromError(&session.SetupError{Stage: session.StageSpeechService, Err: channel.ErrMissingAPIKey}, "req_test")
	if ce.Code != "missing_api_key" {
		t.Fatalf("code=%q, want missing_api_key", ce.Code)
	}
}

func TestFromError_UnknownDoesNotLeak(t *testing.T) {
	ce, status := FromError(errors.New("secret detail"), "req_test")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("error=%+v status=%d", ce, status)
	}
}
