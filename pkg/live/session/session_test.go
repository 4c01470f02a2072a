package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/leadline/pkg/agent"
	"github.com/vango-go/leadline/pkg/core/audio"
	"github.com/vango-go/leadline/pkg/core/audio/device"
	"github.com/vango-go/leadline/pkg/crm"
	"github.com/vango-go/leadline/pkg/live/capture"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/channel/channeltest"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/state"
	"github.com/vango-go/leadline/pkg/live/tools"
)

type fakeSource struct {
	mu       sync.Mutex
	push     func([]float32)
	startErr error
	closed   bool
}

func (f *fakeSource) SampleRateHz() int { return audio.InputSampleRateHz }

func (f *fakeSource) Start(_ context.Context, onSamples func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.push = onSamples
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSource) emit(n int) {
	f.mu.Lock()
	push, closed := f.push, f.closed
	f.mu.Unlock()
	if push != nil && !closed {
		push(make([]float32, n))
	}
}

type fakeDevices struct {
	src    *fakeSource
	out    *device.Output
	inErr  error
	outErr error
}

func (d *fakeDevices) OpenInput(context.Context) (capture.Source, error) {
	if d.inErr != nil {
		return nil, d.inErr
	}
	return d.src, nil
}

func (d *fakeDevices) OpenOutput(context.Context) (*device.Output, error) {
	if d.outErr != nil {
		return nil, d.outErr
	}
	return d.out, nil
}

type harness struct {
	ctrl    *Controller
	ch      *channeltest.Channel
	dialer  *channeltest.Dialer
	devices *fakeDevices
	log     *eventlog.Log
	state   *state.Store
}

func newHarness(t *testing.T, crmURL string, recordDir string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ch := channeltest.New()
	h := &harness{
		ch:      ch,
		dialer:  &channeltest.Dialer{Channel: ch},
		devices: &fakeDevices{src: &fakeSource{}, out: device.NewManualOutput(audio.OutputSampleRateHz)},
		log:     eventlog.New(logger),
		state:   state.NewStore(agent.DefaultCallerID),
	}
	if crmURL == "" {
		crmURL = "http://127.0.0.1:1"
	}
	h.ctrl = NewController(Config{
		Dialer:      h.dialer,
		Devices:     h.devices,
		CRM:         crm.NewClient(crmURL, nil),
		Log:         h.log,
		State:       h.state,
		Logger:      logger,
		ToolTimeout: 5 * time.Second,
		RecordDir:   recordDir,
	})
	t.Cleanup(func() { _ = h.ctrl.Disconnect() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) connect(t *testing.T) *Session {
	t.Helper()
	s, err := h.ctrl.Connect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return h.state.Snapshot().Conn == state.Connected })
	return s
}

func hasEntry(log *eventlog.Log, kind eventlog.Kind, msg string) bool {
	for _, e := range log.Entries() {
		if e.Kind == kind && e.Message == msg {
			return true
		}
	}
	return false
}

func pcmChunk(d time.Duration) []byte {
	return make([]byte, audio.DurationBytes(d, audio.OutputSampleRateHz))
}

func TestConnect_ArmsMicrophoneAndSendsSetup(t *testing.T) {
	h := newHarness(t, "", "")
	s := h.connect(t)

	if h.ctrl.Active() != s {
		t.Fatalf("active session mismatch")
	}
	setups := h.dialer.Setups()
	if len(setups) != 1 {
		t.Fatalf("setups=%d, want 1", len(setups))
	}
	if setups[0].InputSampleRateHz != audio.InputSampleRateHz || len(setups[0].Tools) != 4 {
		t.Fatalf("setup=%+v", setups[0])
	}
	if !strings.Contains(setups[0].SystemInstruction, "Caller ID: "+agent.DefaultCallerID) {
		t.Fatalf("instruction missing caller id")
	}
	if st := h.state.Snapshot(); st.CallID != s.ID() {
		t.Fatalf("call id=%q, want %q", st.CallID, s.ID())
	}

	h.devices.src.emit(audio.InputFrameSamples)
	waitFor(t, "one frame sent", func() bool { return h.ch.AudioFrames() == 1 })
}

func TestConnect_SecondCallRejected(t *testing.T) {
	h := newHarness(t, "", "")
	h.connect(t)

	if _, err := h.ctrl.Connect(context.Background(), Options{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err=%v, want ErrSessionActive", err)
	}
}

func TestSession_AudioSchedulesBackToBackAndIdles(t *testing.T) {
	h := newHarness(t, "", "")
	s := h.connect(t)

	h.ch.Deliver(&channel.Message{Audio: [][]byte{pcmChunk(100 * time.Millisecond), pcmChunk(50 * time.Millisecond)}})
	waitFor(t, "both chunks scheduled", func() bool { return s.sched.NextStartTime() == 150*time.Millisecond })
	if !h.state.Snapshot().AgentSpeaking {
		t.Fatalf("agent_speaking=false, want true")
	}
	if got := s.sched.Active(); got != 2 {
		t.Fatalf("active=%d, want 2", got)
	}

	h.devices.out.Advance(200 * time.Millisecond)
	waitFor(t, "speaking cleared", func() bool { return !h.state.Snapshot().AgentSpeaking })
}

func TestSession_TurnCompleteFlushesTranscript(t *testing.T) {
	h := newHarness(t, "", "")
	h.connect(t)

	h.ch.Deliver(&channel.Message{InputTranscript: "Buongiorno, "})
	h.ch.Deliver(&channel.Message{InputTranscript: "cerco casa"})
	h.ch.Deliver(&channel.Message{OutputTranscript: "Certo!"})
	h.ch.Deliver(&channel.Message{TurnComplete: true})
	h.ch.Deliver(&channel.Message{TurnComplete: true})

	waitFor(t, "transcript entries", func() bool {
		return hasEntry(h.log, eventlog.KindTranscript, "Agente: Certo!")
	})
	// Entries are newest first: the agent line directly follows the user line.
	entries := h.log.Entries()
	agentAt := -1
	for i, e := range entries {
		if e.Kind == eventlog.KindTranscript && e.Message == "Agente: Certo!" {
			agentAt = i
			break
		}
	}
	if agentAt < 0 || agentAt+1 >= len(entries) {
		t.Fatalf("agent transcript has no predecessor: %+v", entries)
	}
	if prev := entries[agentAt+1]; prev.Kind != eventlog.KindTranscript || prev.Message != "Utente: Buongiorno, cerco casa" {
		t.Fatalf("entry before agent=%+v, want user transcript", prev)
	}

	// Let the second, empty turn complete be processed.
	h.ch.Deliver(&channel.Message{InputTranscript: "x"})
	time.Sleep(50 * time.Millisecond)
	n := 0
	for _, e := range h.log.Entries() {
		if e.Kind == eventlog.KindTranscript {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("transcript entries=%d, want 2", n)
	}
}

func TestSession_InterruptionStopsPlayback(t *testing.T) {
	h := newHarness(t, "", "")
	s := h.connect(t)

	h.ch.Deliver(&channel.Message{Audio: [][]byte{pcmChunk(time.Second)}})
	waitFor(t, "chunk scheduled", func() bool { return s.sched.Active() == 1 })
	h.devices.out.Advance(100 * time.Millisecond)

	h.ch.Deliver(&channel.Message{Interrupted: true})
	waitFor(t, "interruption logged", func() bool { return hasEntry(h.log, eventlog.KindInfo, "interruption detected") })
	if got := s.sched.Active(); got != 0 {
		t.Fatalf("active=%d, want 0", got)
	}
	if got := s.sched.NextStartTime(); got != 100*time.Millisecond {
		t.Fatalf("next start=%v, want 100ms", got)
	}
	waitFor(t, "speaking cleared", func() bool { return !h.state.Snapshot().AgentSpeaking })
}

func TestSession_ToolCallsAnsweredInOrder(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ts.Close)

	h := newHarness(t, ts.URL, "")
	h.connect(t)

	h.ch.Deliver(&channel.Message{ToolCalls: []channel.FunctionCall{
		{ID: "a", Name: tools.SaveLeadData, Args: map[string]any{
			"session_id": "S-1",
			"lead_data":  map[string]any{"full_name": "Mario Rossi", "request_type": "buyer"},
		}},
		{ID: "b", Name: tools.HandleContactRefusal, Args: map[string]any{"session_id": "S-1"}},
		{ID: "c", Name: tools.HandleContactRefusal, Args: map[string]any{"session_id": "S-1"}},
	}})

	waitFor(t, "three responses", func() bool { return len(h.ch.Responses()) == 3 })
	resps := h.ch.Responses()
	for i, id := range []string{"a", "b", "c"} {
		if resps[i].ID != id {
			t.Fatalf("response %d id=%q, want %q", i, resps[i].ID, id)
		}
	}
	mu.Lock()
	got := strings.Join(paths, ",")
	mu.Unlock()
	if got != "/save,/refusal,/refusal" {
		t.Fatalf("paths=%s", got)
	}
	lead := h.state.Snapshot().Lead
	if lead.FullName != "Mario Rossi" || lead.RequestType != crm.RequestBuyer {
		t.Fatalf("lead=%+v", lead)
	}
}

func TestSession_ToolCallQueuedBeforeConnectIsAnswered(t *testing.T) {
	h := newHarness(t, "", "")
	h.ch.Deliver(&channel.Message{ToolCalls: []channel.FunctionCall{
		{ID: "early", Name: "not_a_tool"},
	}})
	h.ch.Deliver(&channel.Message{OutputTranscript: "Pronto?"})
	h.ch.Deliver(&channel.Message{TurnComplete: true})

	h.connect(t)

	waitFor(t, "early tool response", func() bool { return len(h.ch.Responses()) == 1 })
	if resp := h.ch.Responses()[0]; resp.ID != "early" {
		t.Fatalf("response id=%q, want early", resp.ID)
	}
	waitFor(t, "early transcript", func() bool {
		return hasEntry(h.log, eventlog.KindTranscript, "Agente: Pronto?")
	})
}

func TestSession_RemoteCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, "", "")
	s := h.connect(t)

	h.ch.RemoteClose()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
	if s.Reason() != ReasonRemoteClose || s.Err() != nil {
		t.Fatalf("reason=%q err=%v", s.Reason(), s.Err())
	}
	if !h.ch.Closed() || !h.devices.src.isClosed() {
		t.Fatalf("channel closed=%v source closed=%v", h.ch.Closed(), h.devices.src.isClosed())
	}
	if h.ctrl.Active() != nil {
		t.Fatalf("session still active")
	}
	if st := h.state.Snapshot(); st.Conn != state.Disconnected {
		t.Fatalf("conn=%s", st.Conn)
	}

	// A new call can start afterwards.
	h.ch = channeltest.New()
	h.dialer.Channel = h.ch
	h.devices.src = &fakeSource{}
	h.devices.out = device.NewManualOutput(audio.OutputSampleRateHz)
	h.connect(t)
}

func TestSession_ChannelErrorEndsCall(t *testing.T) {
	h := newHarness(t, "", "")
	s := h.connect(t)

	h.ch.Fail(errors.New("boom"))
	<-s.Done()
	if s.Reason() != ReasonError || s.Err() == nil {
		t.Fatalf("reason=%q err=%v", s.Reason(), s.Err())
	}
	if !hasEntry(h.log, eventlog.KindError, "speech channel error") {
		t.Fatalf("error entry missing")
	}
}

func TestSession_DisconnectSavesRecordings(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, "", dir)
	s := h.connect(t)

	h.devices.src.emit(audio.InputFrameSamples)
	h.ch.Deliver(&channel.Message{Audio: [][]byte{pcmChunk(50 * time.Millisecond)}})
	waitFor(t, "chunk scheduled", func() bool { return s.sched.Active() == 1 })
	h.devices.out.Advance(50 * time.Millisecond)

	if err := h.ctrl.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.Reason() != ReasonDisconnect {
		t.Fatalf("reason=%q", s.Reason())
	}
	for _, name := range []string{s.ID() + "-caller.wav", s.ID() + "-agent.wav"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("recording %s: %v", name, err)
		}
	}
	if err := h.ctrl.Disconnect(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err=%v, want ErrNoSession", err)
	}
}

func TestConnect_SetupFailuresLeaveNothingOpen(t *testing.T) {
	t.Run("dial", func(t *testing.T) {
		h := newHarness(t, "", "")
		h.dialer.Err = errors.New("unauthorized")
		_, err := h.ctrl.Connect(context.Background(), Options{})
		var serr *SetupError
		if !errors.As(err, &serr) || serr.Stage != StageSpeechService {
			t.Fatalf("err=%v, want speech service SetupError", err)
		}
		if !h.devices.src.isClosed() {
			t.Fatalf("microphone left open")
		}
		if h.ctrl.Active() != nil || h.state.Snapshot().Conn != state.Disconnected {
			t.Fatalf("session left behind")
		}
		if !hasEntry(h.log, eventlog.KindError, "call setup failed: speech service unavailable") {
			t.Fatalf("error entry missing: %+v", h.log.Entries())
		}
	})

	t.Run("microphone", func(t *testing.T) {
		h := newHarness(t, "", "")
		h.devices.inErr = errors.New("permission denied")
		if _, err := h.ctrl.Connect(context.Background(), Options{}); err == nil {
			t.Fatal("expected error")
		}
		if len(h.dialer.Setups()) != 0 {
			t.Fatalf("dialed despite microphone failure")
		}
		if h.state.Snapshot().Conn != state.Disconnected {
			t.Fatalf("conn=%s", h.state.Snapshot().Conn)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		h := newHarness(t, "", "")
		h.ctrl.cfg.Dialer = channel.DialerFunc(func(context.Context, channel.Setup) (channel.Channel, error) {
			return nil, channel.ErrMissingAPIKey
		})
		_, err := h.ctrl.Connect(context.Background(), Options{})
		if !errors.Is(err, channel.ErrMissingAPIKey) {
			t.Fatalf("err=%v, want ErrMissingAPIKey", err)
		}
	})
}
