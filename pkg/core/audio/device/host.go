// Package device opens the per-call audio endpoints: a microphone or a WAV
// file on the way in, a speaker or a headless clock on the way out.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/vango-go/leadline/pkg/core/audio"
	"github.com/vango-go/leadline/pkg/live/capture"
)

var ErrClosed = errors.New("device: host closed")

type Config struct {
	// InputWAV replaces the microphone with a WAV file replayed in real time.
	InputWAV string
	// Headless replaces the speaker with a wall-clock driven timeline.
	Headless bool

	InputSampleRateHz  int
	OutputSampleRateHz int

	// SpeakerBuffer is the oto player buffer; smaller means lower latency.
	SpeakerBuffer time.Duration
}

// Host owns the process-wide audio backends. oto allows a single context per
// process, so it is created on first use and shared by every call.
type Host struct {
	cfg    Config
	logger *slog.Logger

	malgoOnce sync.Once
	malgoCtx  *malgo.AllocatedContext
	malgoErr  error

	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error

	mu     sync.Mutex
	closed bool
}

func NewHost(cfg Config, logger *slog.Logger) *Host {
	if cfg.InputSampleRateHz <= 0 {
		cfg.InputSampleRateHz = audio.InputSampleRateHz
	}
	if cfg.OutputSampleRateHz <= 0 {
		cfg.OutputSampleRateHz = audio.OutputSampleRateHz
	}
	if cfg.SpeakerBuffer <= 0 {
		cfg.SpeakerBuffer = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{cfg: cfg, logger: logger}
}

// OpenInput returns an unstarted capture source.
func (h *Host) OpenInput(_ context.Context) (capture.Source, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	if h.cfg.InputWAV != "" {
		return capture.NewWAVSource(h.cfg.InputWAV, h.cfg.InputSampleRateHz)
	}

	h.malgoOnce.Do(func() {
		h.malgoCtx, h.malgoErr = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if h.malgoErr != nil {
		return nil, fmt.Errorf("device: init capture backend: %w", h.malgoErr)
	}
	return newMicrophone(h.malgoCtx.Context, h.cfg.InputSampleRateHz, h.logger), nil
}

// OpenOutput returns a running output endpoint for one call.
func (h *Host) OpenOutput(_ context.Context) (*Output, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	if h.cfg.Headless {
		return NewHeadlessOutput(h.cfg.OutputSampleRateHz, 20*time.Millisecond), nil
	}

	h.otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   h.cfg.OutputSampleRateHz,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   h.cfg.SpeakerBuffer,
		})
		if err != nil {
			h.otoErr = err
			return
		}
		<-ready
		h.otoCtx = ctx
	})
	if h.otoErr != nil {
		return nil, fmt.Errorf("device: init speaker: %w", h.otoErr)
	}
	if err := h.otoCtx.Err(); err != nil {
		return nil, fmt.Errorf("device: speaker: %w", err)
	}

	out := NewManualOutput(h.cfg.OutputSampleRateHz)
	player := h.otoCtx.NewPlayer(out.Timeline)
	player.SetBufferSize(audio.DurationBytes(h.cfg.SpeakerBuffer, h.cfg.OutputSampleRateHz))
	player.Play()
	out.close = func() error {
		player.Pause()
		return player.Close()
	}
	return out, nil
}

// Close releases the capture backend. The speaker context lives until the
// process exits.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if h.malgoCtx != nil {
		err := h.malgoCtx.Uninit()
		h.malgoCtx.Free()
		return err
	}
	return nil
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
