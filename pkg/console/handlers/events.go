package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/leadline/pkg/console/lifecycle"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/state"
)

// Event is one frame on the /v1/events websocket.
type Event struct {
	Type  string          `json:"type"`
	State *state.Snapshot `json:"state,omitempty"`
	Entry *eventlog.Entry `json:"entry,omitempty"`
}

// EventsHandler streams state snapshots and log entries over a websocket.
// The first frame is always the current state.
type EventsHandler struct {
	Calls        Calls
	Lifecycle    *lifecycle.Lifecycle
	Logger       *slog.Logger
	PingInterval time.Duration
	WriteTimeout time.Duration

	// CheckOrigin defaults to same-origin.
	CheckOrigin func(r *http.Request) bool
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pingInterval := h.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := h.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}
	defer conn.Close()

	untrack := h.Lifecycle.TrackStream()
	defer untrack()

	// Subscribe before the first snapshot so no change is missed.
	states, cancelStates := h.Calls.State().Subscribe()
	defer cancelStates()
	entries, cancelEntries := h.Calls.Log().Subscribe()
	defer cancelEntries()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	snap := h.Calls.Snapshot()
	if err := write(Event{Type: "state", State: &snap}); err != nil {
		logger.Debug("events: initial write failed", "error", err)
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-h.Lifecycle.Draining():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("events: ping failed", "error", err)
				return
			}
		case snap, ok := <-states:
			if !ok {
				return
			}
			if err := write(Event{Type: "state", State: &snap}); err != nil {
				logger.Debug("events: write failed", "error", err)
				return
			}
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := write(Event{Type: "log", Entry: &entry}); err != nil {
				logger.Debug("events: write failed", "error", err)
				return
			}
		}
	}
}
