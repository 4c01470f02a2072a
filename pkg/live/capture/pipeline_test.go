package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
)

type manualSource struct {
	rate      int
	onSamples func([]float32)
	closed    bool
}

func (s *manualSource) SampleRateHz() int { return s.rate }

func (s *manualSource) Start(_ context.Context, fn func([]float32)) error {
	s.onSamples = fn
	return nil
}

func (s *manualSource) Close() error {
	s.closed = true
	return nil
}

func (s *manualSource) push(n int) {
	s.onSamples(make([]float32, n))
}

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recordingSender) SendAudio(_ context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, pcm)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestFramer_EmitsFixedSizeFrames(t *testing.T) {
	f := NewFramer(4, 16000)
	var got []audio.Frame
	emit := func(fr audio.Frame) { got = append(got, fr) }

	f.Push([]float32{1, 2, 3}, emit)
	if len(got) != 0 || f.Buffered() != 3 {
		t.Fatalf("frames=%d buffered=%d", len(got), f.Buffered())
	}
	f.Push([]float32{4, 5, 6, 7, 8, 9, 10}, emit)
	if len(got) != 2 {
		t.Fatalf("frames=%d, want 2", len(got))
	}
	if got[1].Samples[0] != 5 || got[1].Samples[3] != 8 {
		t.Fatalf("second frame=%v", got[1].Samples)
	}
	if f.Buffered() != 2 {
		t.Fatalf("buffered=%d, want 2", f.Buffered())
	}
	if got[0].SampleRateHz != 16000 {
		t.Fatalf("rate=%d", got[0].SampleRateHz)
	}
}

func TestPipeline_DropsUntilArmed(t *testing.T) {
	src := &manualSource{rate: 16000}
	var tapped int
	p := NewPipeline(src, Config{FrameSamples: 4096, Tap: func(audio.Frame) { tapped++ }})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.push(4096)
	sender := &recordingSender{}
	p.Arm(sender)
	src.push(4096 * 2)

	sent, dropped := p.Stats()
	if sent != 2 || dropped != 1 {
		t.Fatalf("sent=%d dropped=%d, want 2/1", sent, dropped)
	}
	if sender.count() != 2 {
		t.Fatalf("sender got %d frames", sender.count())
	}
	if len(sender.frames[0]) != 4096*2 {
		t.Fatalf("frame bytes=%d, want %d", len(sender.frames[0]), 4096*2)
	}
	if tapped != 3 {
		t.Fatalf("tapped=%d, want 3", tapped)
	}
}

func TestPipeline_SendFailureDropsFrame(t *testing.T) {
	src := &manualSource{rate: 16000}
	p := NewPipeline(src, Config{FrameSamples: 10})
	_ = p.Start(context.Background())
	p.Arm(&recordingSender{err: errors.New("socket closed")})
	src.push(25)

	sent, dropped := p.Stats()
	if sent != 0 || dropped != 2 {
		t.Fatalf("sent=%d dropped=%d, want 0/2", sent, dropped)
	}
}

func TestPipeline_StopIsIrreversible(t *testing.T) {
	src := &manualSource{rate: 16000}
	sender := &recordingSender{}
	p := NewPipeline(src, Config{FrameSamples: 10})
	_ = p.Start(context.Background())
	p.Arm(sender)

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if !src.closed {
		t.Fatalf("source not closed")
	}
	src.push(100)
	p.Arm(sender)
	src.push(100)
	if sender.count() != 0 {
		t.Fatalf("frames sent after stop: %d", sender.count())
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart err=%v, want ErrStopped", err)
	}
}

func TestSampleSource_ReplaysThenPadsWithSilence(t *testing.T) {
	samples := make([]float32, 32)
	for i := range samples {
		samples[i] = 0.5
	}
	src := NewSampleSource(samples, 16000, time.Millisecond) // 16 samples per tick

	var mu sync.Mutex
	var got []float32
	enough := make(chan struct{})
	var once sync.Once
	err := src.Start(context.Background(), func(s []float32) {
		mu.Lock()
		got = append(got, s...)
		n := len(got)
		mu.Unlock()
		if n >= 64 {
			once.Do(func() { close(enough) })
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-enough:
	case <-time.After(2 * time.Second):
		t.Fatalf("source did not deliver enough samples")
	}
	_ = src.Close()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 32; i++ {
		if got[i] != 0.5 {
			t.Fatalf("sample %d=%v, want file audio", i, got[i])
		}
	}
	for i := 32; i < 64; i++ {
		if got[i] != 0 {
			t.Fatalf("sample %d=%v, want silence", i, got[i])
		}
	}
}
