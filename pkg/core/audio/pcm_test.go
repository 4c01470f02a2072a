package audio

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"
)

const quantizationTolerance = 2.0 / 32768.0

func TestEncodeDecodePCM16_RoundTripWithinQuantization(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float32, 2048)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0], samples[1], samples[2] = -1, 0, 1

	buf := DecodePCM16(EncodePCM16(samples), InputSampleRateHz, 1)
	got := buf.Mono()
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if diff := math.Abs(float64(got[i] - samples[i])); diff > quantizationTolerance {
			t.Fatalf("sample %d: got %v want %v (diff %v)", i, got[i], samples[i], diff)
		}
	}
}

func TestEncodePCM16_ClampsOutOfRange(t *testing.T) {
	pcm := EncodePCM16([]float32{2, -3})
	if v := int16(uint16(pcm[0]) | uint16(pcm[1])<<8); v != 32767 {
		t.Fatalf("clamped +2 => %d, want 32767", v)
	}
	if v := int16(uint16(pcm[2]) | uint16(pcm[3])<<8); v != -32768 {
		t.Fatalf("clamped -3 => %d, want -32768", v)
	}
}

func TestDecodePCM16_OddLengthTruncates(t *testing.T) {
	pcm := append(EncodePCM16([]float32{0.25, -0.25}), 0x7f)
	buf := DecodePCM16(pcm, OutputSampleRateHz, 1)
	if buf.Frames() != 2 {
		t.Fatalf("frames=%d, want 2", buf.Frames())
	}
	if buf.SampleRateHz != OutputSampleRateHz {
		t.Fatalf("rate=%d", buf.SampleRateHz)
	}
}

func TestDecodePCM16_DeinterleavesChannels(t *testing.T) {
	pcm := EncodePCM16([]float32{0.5, -0.5, 0.25, -0.25})
	buf := DecodePCM16(pcm, OutputSampleRateHz, 2)
	if len(buf.Channels) != 2 || buf.Frames() != 2 {
		t.Fatalf("channels=%d frames=%d", len(buf.Channels), buf.Frames())
	}
	if buf.Channels[0][1] <= 0 || buf.Channels[1][1] >= 0 {
		t.Fatalf("unexpected channel layout: %#v", buf.Channels)
	}
}

func TestBufferDuration(t *testing.T) {
	buf := DecodePCM16(make([]byte, OutputSampleRateHz*2), OutputSampleRateHz, 1)
	if got := buf.Duration(); got != time.Second {
		t.Fatalf("duration=%v, want 1s", got)
	}
	if got := DurationBytes(20*time.Millisecond, OutputSampleRateHz); got != 960 {
		t.Fatalf("DurationBytes(20ms)=%d, want 960", got)
	}
	if got := PCMMIMEType(InputSampleRateHz); got != "audio/pcm;rate=16000" {
		t.Fatalf("mime=%q", got)
	}
}

func TestWAVRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.wav")
	rec := NewWAVRecorder(path, InputSampleRateHz)
	rec.WriteSamples([]float32{0, 0.5, -0.5, 0.25})
	if rec.Len() != 4 {
		t.Fatalf("len=%d, want 4", rec.Len())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec.WriteSamples([]float32{1})

	samples, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != InputSampleRateHz {
		t.Fatalf("rate=%d", rate)
	}
	if len(samples) != 4 {
		t.Fatalf("samples=%d, want 4", len(samples))
	}
	if math.Abs(float64(samples[1]-0.5)) > 0.001 {
		t.Fatalf("samples[1]=%v, want ~0.5", samples[1])
	}
}
