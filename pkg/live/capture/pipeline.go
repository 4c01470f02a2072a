// Package capture turns microphone callbacks into fixed-size PCM16 frames and
// streams them to the speech service as they are produced.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-go/leadline/pkg/core/audio"
	"github.com/vango-go/leadline/pkg/metrics"
)

var ErrStopped = errors.New("capture: pipeline stopped")

// Source produces mono float samples at a fixed rate. onSamples may be called
// with arbitrary slice lengths; the slice is only valid during the call.
type Source interface {
	SampleRateHz() int
	Start(ctx context.Context, onSamples func([]float32)) error
	Close() error
}

// Sender delivers an encoded frame to the speech service.
type Sender interface {
	SendAudio(ctx context.Context, pcm []byte) error
}

// Framer re-slices arbitrary sample runs into frames of exactly size samples.
// It is not safe for concurrent use.
type Framer struct {
	size int
	rate int
	buf  []float32
}

func NewFramer(size, sampleRateHz int) *Framer {
	if size <= 0 {
		size = audio.InputFrameSamples
	}
	return &Framer{size: size, rate: sampleRateHz, buf: make([]float32, 0, size)}
}

// Push appends samples and calls emit for every complete frame.
func (f *Framer) Push(samples []float32, emit func(audio.Frame)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.buf)
			f.buf = f.buf[:0]
			emit(audio.Frame{SampleRateHz: f.rate, Samples: frame})
		}
	}
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }

type Config struct {
	FrameSamples int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics

	// Tap, if set, receives every completed frame whether or not it is sent.
	Tap func(audio.Frame)
}

// Pipeline frames a Source and sends each frame as soon as it completes.
// There is no queue: frames completed before Arm, or whose send fails, are
// dropped.
type Pipeline struct {
	src     Source
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	framer  *Framer
	sender  Sender
	ctx     context.Context
	stopped bool
	sent    int
	dropped int
}

func NewPipeline(src Source, cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		src:     src,
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		framer:  NewFramer(cfg.FrameSamples, src.SampleRateHz()),
	}
}

// Start opens the source. Frames are dropped until Arm is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.ctx = ctx
	p.mu.Unlock()
	return p.src.Start(ctx, p.onSamples)
}

// Arm starts forwarding frames to sender.
func (p *Pipeline) Arm(sender Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.sender = sender
}

// Stop closes the source. A stopped pipeline cannot be restarted.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.sender = nil
	p.mu.Unlock()
	return p.src.Close()
}

// Stats returns the number of frames sent and dropped so far.
func (p *Pipeline) Stats() (sent, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}

func (p *Pipeline) onSamples(samples []float32) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	var frames []audio.Frame
	p.framer.Push(samples, func(f audio.Frame) { frames = append(frames, f) })
	sender, ctx := p.sender, p.ctx
	p.mu.Unlock()

	for _, f := range frames {
		p.deliver(ctx, sender, f)
	}
}

func (p *Pipeline) deliver(ctx context.Context, sender Sender, f audio.Frame) {
	if p.cfg.Tap != nil {
		p.cfg.Tap(f)
	}
	if sender == nil {
		p.drop("not_ready")
		return
	}
	pcm := audio.EncodePCM16(f.Samples)
	if err := sender.SendAudio(ctx, pcm); err != nil {
		p.logger.Debug("dropping captured frame", "error", err)
		p.drop("send_failed")
		return
	}
	p.metrics.RecordAudio("in", len(pcm))
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
}

func (p *Pipeline) drop(reason string) {
	p.metrics.RecordDroppedFrame(reason)
	p.mu.Lock()
	p.dropped++
	p.mu.Unlock()
}
