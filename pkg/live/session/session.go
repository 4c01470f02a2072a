package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
	"github.com/vango-go/leadline/pkg/core/audio/device"
	"github.com/vango-go/leadline/pkg/live/capture"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/playback"
	"github.com/vango-go/leadline/pkg/live/state"
	"github.com/vango-go/leadline/pkg/live/tools"
	"github.com/vango-go/leadline/pkg/live/transcript"
	"github.com/vango-go/leadline/pkg/metrics"
)

// Status is the lifecycle position of a Session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// End reasons reported by Session.Reason.
const (
	ReasonDisconnect  = "disconnect"
	ReasonRemoteClose = "remote_close"
	ReasonError       = "error"
)

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evClosed
	evFailed
	evDisconnect
)

type event struct {
	kind eventKind
	msg  *channel.Message
	err  error
}

// Session is one call. All state transitions and inbound demultiplexing
// happen on its event loop goroutine.
type Session struct {
	id       string
	callerID string
	ctrl     *Controller
	logger   *slog.Logger
	log      *eventlog.Log
	state    *state.Store
	metrics  *metrics.Metrics

	ch         channel.Channel
	pipeline   *capture.Pipeline
	out        *device.Output
	sched      *playback.Scheduler
	queue      *playback.Queue
	dispatcher *tools.Dispatcher
	callerRec  *audio.WAVRecorder
	agentRec   *audio.WAVRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events    chan event
	idle      chan struct{}
	toolCalls chan []channel.FunctionCall
	done      chan struct{}

	// Owned by the event loop.
	status      Status
	acc         transcript.Accumulator
	connectedAt time.Time

	endMu  sync.Mutex
	reason string
	err    error
}

func (s *Session) ID() string       { return s.id }
func (s *Session) CallerID() string { return s.callerID }

// Done is closed once the session has released every resource.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason returns why the session ended, or "" while it is running.
func (s *Session) Reason() string {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	return s.reason
}

// Err returns the channel error that ended the session, if any.
func (s *Session) Err() error {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	return s.err
}

// Disconnect tears the session down and waits until it is closed.
func (s *Session) Disconnect() {
	s.post(event{kind: evDisconnect})
	<-s.done
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// onIdle runs on the audio render goroutine or inside Interrupt; it must not
// block.
func (s *Session) onIdle() {
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

// start queues evOpen before receive runs so it precedes every message.
func (s *Session) start() {
	s.events <- event{kind: evOpen}
	s.wg.Add(2)
	go s.receive()
	go s.runTools()
	go s.loop()
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		case <-s.idle:
			if s.sched.Active() == 0 && s.queue.Pending() == 0 {
				s.state.SetAgentSpeaking(false)
			}
		}
	}
}

// handle applies one event and reports whether the session reached Closed.
func (s *Session) handle(ev event) bool {
	switch ev.kind {
	case evOpen:
		if s.status != StatusConnecting {
			return false
		}
		s.status = StatusConnected
		s.connectedAt = time.Now()
		s.pipeline.Arm(s.ch)
		s.state.SetConn(state.Connected)
		s.metrics.RecordCallStart()
		s.log.Info("connected, microphone streaming")
		s.logger.Info("call connected", "call_id", s.id, "caller_id", s.callerID)
		return false

	case evMessage:
		if s.status != StatusConnected {
			s.logger.Warn("message received while not connected", "status", s.status.String())
			return false
		}
		s.demux(ev.msg)
		return false

	case evClosed:
		s.log.Info("connection closed by the speech service")
		s.teardown(ReasonRemoteClose, nil)
		return true

	case evFailed:
		s.log.Error("speech channel error", map[string]any{"message": ev.err.Error()})
		s.teardown(ReasonError, ev.err)
		return true

	case evDisconnect:
		s.log.Info("call ended")
		s.teardown(ReasonDisconnect, nil)
		return true
	}
	return false
}

func (s *Session) demux(m *channel.Message) {
	if m.GoAway {
		s.log.Info(fmt.Sprintf("speech service will disconnect in %s", m.GoAwayLeft))
	}

	if len(m.Audio) > 0 {
		for _, chunk := range m.Audio {
			s.queue.Enqueue(chunk)
			s.metrics.RecordAudio("out", len(chunk))
		}
		s.state.Update(func(st *state.Snapshot) {
			st.AgentSpeaking = true
			st.Thinking = false
		})
	}

	if m.InputTranscript != "" {
		s.acc.AppendUser(m.InputTranscript)
	}
	if m.OutputTranscript != "" {
		s.acc.AppendAgent(m.OutputTranscript)
	}
	if m.TurnComplete {
		for _, e := range s.acc.Flush() {
			s.log.Transcript(e.String())
		}
	}

	if len(m.ToolCalls) > 0 {
		s.state.SetThinking(true)
		select {
		case s.toolCalls <- m.ToolCalls:
		case <-s.ctx.Done():
		}
	}
	if len(m.CancelledToolCalls) > 0 {
		s.logger.Debug("tool calls cancelled by the model", "ids", m.CancelledToolCalls)
	}

	if m.Interrupted {
		s.queue.Interrupt()
		s.acc.ClearAgent()
		s.metrics.RecordInterruption()
		s.log.Info("interruption detected")
	}
}

func (s *Session) receive() {
	defer s.wg.Done()
	for {
		msg, err := s.ch.Receive(s.ctx)
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
			case errors.Is(err, channel.ErrClosed):
				s.post(event{kind: evClosed})
			default:
				s.post(event{kind: evFailed, err: err})
			}
			return
		}
		s.post(event{kind: evMessage, msg: msg})
	}
}

// runTools dispatches tool calls one at a time in arrival order.
func (s *Session) runTools() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case batch := <-s.toolCalls:
			for _, call := range batch {
				if s.ctx.Err() != nil {
					return
				}
				resp := s.dispatcher.Dispatch(s.ctx, call)
				if err := s.ch.SendToolResponses(s.ctx, []channel.ToolResponse{resp}); err != nil {
					s.logger.Warn("send tool response failed", "tool", call.Name, "call_id", call.ID, "error", err)
				}
			}
		}
	}
}

// teardown releases everything. It runs on the event loop exactly once.
func (s *Session) teardown(reason string, err error) {
	wasConnected := s.status == StatusConnected
	s.status = StatusClosed
	s.cancel()

	if perr := s.pipeline.Stop(); perr != nil {
		s.logger.Debug("stop capture", "error", perr)
	}
	if cerr := s.ch.Close(); cerr != nil {
		s.logger.Debug("close channel", "error", cerr)
	}
	s.queue.Close()
	if oerr := s.out.Close(); oerr != nil {
		s.logger.Debug("close output", "error", oerr)
	}
	s.wg.Wait()
	s.closeRecordings()

	s.state.EndCall()
	if wasConnected {
		s.metrics.RecordCallEnd(reason, time.Since(s.connectedAt))
	}

	s.endMu.Lock()
	s.reason = reason
	s.err = err
	s.endMu.Unlock()

	s.logger.Info("call closed", "call_id", s.id, "reason", reason)
	s.ctrl.release(s)
}

func (s *Session) closeRecordings() {
	for _, rec := range []*audio.WAVRecorder{s.callerRec, s.agentRec} {
		if rec == nil {
			continue
		}
		if err := rec.Close(); err != nil {
			s.log.Error("recording not saved", map[string]any{"message": err.Error()})
		}
	}
	if s.callerRec != nil {
		s.log.Info("call recording saved")
	}
}
