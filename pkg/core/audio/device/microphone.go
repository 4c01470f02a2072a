package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Microphone captures mono float32 samples from the default input device.
type Microphone struct {
	ctx    malgo.Context
	rate   int
	logger *slog.Logger

	mu     sync.Mutex
	device *malgo.Device
	chunks chan []float32
	stop   chan struct{}
	done   chan struct{}
}

func newMicrophone(ctx malgo.Context, sampleRateHz int, logger *slog.Logger) *Microphone {
	return &Microphone{ctx: ctx, rate: sampleRateHz, logger: logger}
}

func (m *Microphone) SampleRateHz() int { return m.rate }

// Start opens the capture device. Samples are handed to onSamples from a
// separate goroutine so a slow consumer never blocks the audio thread; if it
// falls behind, callbacks are dropped.
func (m *Microphone) Start(ctx context.Context, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return fmt.Errorf("device: microphone already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.Alsa.NoMMap = 1

	chunks := make(chan []float32, 64)
	onRecv := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		n := min(int(framecount), len(pSample)/4)
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
		}
		select {
		case chunks <- samples:
		default:
		}
	}

	dev, err := malgo.InitDevice(m.ctx, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("device: open microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("device: start microphone: %w", err)
	}

	m.device = dev
	m.chunks = chunks
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.forward(ctx, onSamples)
	return nil
}

func (m *Microphone) forward(ctx context.Context, onSamples func([]float32)) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case s := <-m.chunks:
			onSamples(s)
		}
	}
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	dev := m.device
	m.device = nil
	stop, done := m.stop, m.done
	m.mu.Unlock()
	if dev == nil {
		return nil
	}

	err := dev.Stop()
	dev.Uninit()
	close(stop)
	<-done
	if err != nil {
		m.logger.Debug("microphone stop", "error", err)
	}
	return nil
}
