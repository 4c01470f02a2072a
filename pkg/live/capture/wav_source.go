package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
)

const defaultWAVChunk = 20 * time.Millisecond

// WAVSource replays a WAV file as if it were a microphone: samples are
// delivered in real time, then silence follows until the source is closed.
type WAVSource struct {
	samples []float32
	rate    int
	chunk   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWAVSource loads path. The file must already be at sampleRateHz; no
// resampling is done.
func NewWAVSource(path string, sampleRateHz int) (*WAVSource, error) {
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	if rate != sampleRateHz {
		return nil, fmt.Errorf("capture: %s is %d Hz, want %d Hz", path, rate, sampleRateHz)
	}
	return NewSampleSource(samples, rate, defaultWAVChunk), nil
}

// NewSampleSource replays samples paced at one chunk per chunk interval.
func NewSampleSource(samples []float32, sampleRateHz int, chunk time.Duration) *WAVSource {
	if chunk <= 0 {
		chunk = defaultWAVChunk
	}
	return &WAVSource{samples: samples, rate: sampleRateHz, chunk: chunk}
}

func (s *WAVSource) SampleRateHz() int { return s.rate }

func (s *WAVSource) Start(ctx context.Context, onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("capture: wav source already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, onSamples)
	return nil
}

func (s *WAVSource) run(ctx context.Context, onSamples func([]float32)) {
	defer close(s.done)

	per := max(1, int(int64(s.chunk)*int64(s.rate)/int64(time.Second)))
	silence := make([]float32, per)
	ticker := time.NewTicker(s.chunk)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if pos < len(s.samples) {
			end := min(pos+per, len(s.samples))
			onSamples(s.samples[pos:end])
			pos = end
			continue
		}
		onSamples(silence)
	}
}

// Close stops delivery and waits for the pacing goroutine to exit.
func (s *WAVSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
