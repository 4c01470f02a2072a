package audio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/youpy/go-wav"
)

// ReadWAV loads a mono or stereo WAV file and returns mono float samples.
// Stereo input is downmixed by averaging channels.
func ReadWAV(path string) (samples []float32, sampleRateHz int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("wav format: %w", err)
	}
	sampleRateHz = int(format.SampleRate)
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, 0, fmt.Errorf("wav: only mono or stereo supported, got %d channels", channels)
	}

	for {
		read, err := reader.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading wav samples: %w", err)
		}
		for _, s := range read {
			v := reader.FloatValue(s, 0)
			if channels == 2 {
				v = (v + reader.FloatValue(s, 1)) / 2
			}
			samples = append(samples, float32(v))
		}
	}
	return samples, sampleRateHz, nil
}

// WAVRecorder collects PCM16 mono audio and writes it as a 16-bit WAV file on
// Close. go-wav needs the sample count up front, so audio is held in memory.
type WAVRecorder struct {
	path         string
	sampleRateHz int

	mu      sync.Mutex
	samples []wav.Sample
	closed  bool
}

func NewWAVRecorder(path string, sampleRateHz int) *WAVRecorder {
	return &WAVRecorder{path: path, sampleRateHz: sampleRateHz}
}

// WritePCM16 appends little-endian PCM16 mono audio.
func (r *WAVRecorder) WritePCM16(pcm []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += bytesPerSample {
		v := int16(pcm[i]) | int16(pcm[i+1])<<8
		r.samples = append(r.samples, wav.Sample{Values: [2]int{int(v), 0}})
	}
}

// WriteSamples appends float samples.
func (r *WAVRecorder) WriteSamples(samples []float32) {
	r.WritePCM16(EncodePCM16(samples))
}

// Len returns the number of recorded samples.
func (r *WAVRecorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Close writes the file. Further writes are ignored.
func (r *WAVRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	f, err := os.Create(r.path)
	if err != nil {
		return err
	}
	defer f.Close()
	writer := wav.NewWriter(f, uint32(len(samples)), 1, uint32(r.sampleRateHz), 16)
	if err := writer.WriteSamples(samples); err != nil {
		return fmt.Errorf("write wav %s: %w", r.path, err)
	}
	return nil
}
