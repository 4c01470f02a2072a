// Package session runs a voice call: it opens the audio devices and the
// speech channel, streams the microphone, plays the agent, keeps the
// transcript and hands tool calls to the CRM dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/leadline/pkg/agent"
	"github.com/vango-go/leadline/pkg/core/audio"
	"github.com/vango-go/leadline/pkg/core/audio/device"
	"github.com/vango-go/leadline/pkg/live/capture"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/playback"
	"github.com/vango-go/leadline/pkg/live/state"
	"github.com/vango-go/leadline/pkg/live/tools"
	"github.com/vango-go/leadline/pkg/metrics"
)

var (
	ErrSessionActive = errors.New("session: a call is already active")
	ErrNoSession     = errors.New("session: no active call")
)

// Devices opens the per-call audio endpoints.
type Devices interface {
	OpenInput(ctx context.Context) (capture.Source, error)
	OpenOutput(ctx context.Context) (*device.Output, error)
}

type Config struct {
	Dialer  channel.Dialer
	Devices Devices
	CRM     tools.CRM
	Profile *agent.Profile

	Log     *eventlog.Log
	State   *state.Store
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger

	DecodeWorkers int
	ToolTimeout   time.Duration

	// RecordDir, if set, receives <call id>-caller.wav and <call id>-agent.wav.
	RecordDir string
}

// Options are per-call parameters.
type Options struct {
	CallerID string
}

// Controller owns at most one active Session.
type Controller struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *tools.Dispatcher

	mu         sync.Mutex
	current    *Session
	connecting bool
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Profile == nil {
		cfg.Profile = agent.DefaultProfile()
	}
	if cfg.Log == nil {
		cfg.Log = eventlog.New(cfg.Logger)
	}
	if cfg.State == nil {
		cfg.State = state.NewStore(cfg.Profile.CallerID)
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		dispatcher: tools.NewDispatcher(cfg.CRM, tools.Config{
			Log:     cfg.Log,
			State:   cfg.State,
			Metrics: cfg.Metrics,
			Tracer:  cfg.Tracer,
			Logger:  cfg.Logger,
			Timeout: cfg.ToolTimeout,
		}),
	}
}

func (c *Controller) Log() *eventlog.Log       { return c.cfg.Log }
func (c *Controller) State() *state.Store      { return c.cfg.State }
func (c *Controller) Snapshot() state.Snapshot { return c.cfg.State.Snapshot() }

// Active returns the running session, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Done returns a channel closed when the active session ends. With no active
// session the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	if s := c.Active(); s != nil {
		return s.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Disconnect ends the active session and waits for its teardown.
func (c *Controller) Disconnect() error {
	s := c.Active()
	if s == nil {
		return ErrNoSession
	}
	s.Disconnect()
	return nil
}

// Setup stages reported by SetupError.
const (
	StageMicrophone    = "microphone"
	StageSpeaker       = "speaker"
	StageSpeechService = "speech_service"
)

// SetupError is returned by Connect when a device or the speech channel could
// not be opened.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.reason(), e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (e *SetupError) reason() string {
	return strings.ReplaceAll(e.Stage, "_", " ") + " unavailable"
}

// setupError records a failed connect attempt.
func (c *Controller) setupError(stage string, err error) error {
	serr := &SetupError{Stage: stage, Err: err}
	c.cfg.Metrics.RecordSetupFailure(stage)
	c.cfg.Log.Error("call setup failed: "+serr.reason(), map[string]any{"message": err.Error()})
	c.cfg.State.EndCall()
	return serr
}

// Connect opens the devices and the speech channel and starts a call. On any
// failure everything opened so far is released and no session remains.
func (c *Controller) Connect(ctx context.Context, opts Options) (*Session, error) {
	c.mu.Lock()
	if c.current != nil || c.connecting {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.connecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	callerID := opts.CallerID
	if callerID == "" {
		callerID = c.cfg.Profile.CallerID
	}
	id := uuid.NewString()
	c.cfg.State.BeginCall(id, callerID)
	c.cfg.Log.Info("connecting to the speech service")

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:         id,
		callerID:   callerID,
		ctrl:       c,
		logger:     c.logger.With("call_id", id),
		log:        c.cfg.Log,
		state:      c.cfg.State,
		metrics:    c.cfg.Metrics,
		dispatcher: c.dispatcher,
		ctx:        sctx,
		cancel:     cancel,
		events:     make(chan event, 64),
		idle:       make(chan struct{}, 1),
		toolCalls:  make(chan []channel.FunctionCall, 16),
		done:       make(chan struct{}),
		status:     StatusConnecting,
	}

	var cleanup []func()
	fail := func(stage string, err error) (*Session, error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		cancel()
		return nil, c.setupError(stage, err)
	}

	src, err := c.cfg.Devices.OpenInput(ctx)
	if err != nil {
		return fail(StageMicrophone, err)
	}
	if c.cfg.RecordDir != "" {
		s.callerRec = audio.NewWAVRecorder(filepath.Join(c.cfg.RecordDir, id+"-caller.wav"), src.SampleRateHz())
	}
	s.pipeline = capture.NewPipeline(src, capture.Config{
		FrameSamples: audio.InputFrameSamples,
		Logger:       s.logger,
		Metrics:      c.cfg.Metrics,
		Tap:          func(f audio.Frame) { s.callerRec.WriteSamples(f.Samples) },
	})
	if err := s.pipeline.Start(sctx); err != nil {
		_ = s.pipeline.Stop()
		return fail(StageMicrophone, err)
	}
	cleanup = append(cleanup, func() { _ = s.pipeline.Stop() })

	out, err := c.cfg.Devices.OpenOutput(ctx)
	if err != nil {
		return fail(StageSpeaker, err)
	}
	s.out = out
	cleanup = append(cleanup, func() { _ = out.Close() })
	if c.cfg.RecordDir != "" {
		s.agentRec = audio.NewWAVRecorder(filepath.Join(c.cfg.RecordDir, id+"-agent.wav"), out.SampleRateHz())
		out.SetTap(s.agentRec.WritePCM16)
	}

	ch, err := c.cfg.Dialer.Dial(ctx, channel.Setup{
		Model:             c.cfg.Profile.Model,
		SystemInstruction: c.cfg.Profile.Instruction(callerID),
		Voice:             c.cfg.Profile.Voice,
		Tools:             tools.Declarations(),
		InputSampleRateHz: src.SampleRateHz(),
	})
	if err != nil {
		return fail(StageSpeechService, err)
	}
	s.ch = ch

	s.sched = playback.NewScheduler(out, s.onIdle)
	s.queue = playback.NewQueue(s.sched, playback.PCMDecoder{SampleRateHz: out.SampleRateHz(), Channels: 1}, playback.QueueConfig{
		Workers: c.cfg.DecodeWorkers,
		Logger:  s.logger,
		OnScheduled: func(seq uint64, start time.Duration, buf *audio.Buffer) {
			c.cfg.Metrics.RecordPlaybackChunk("scheduled")
		},
	})

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	s.start()
	return s, nil
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}
