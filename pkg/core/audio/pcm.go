// Package audio holds the PCM16 wire codec and the frame/buffer types shared by
// the capture and playback paths.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// InputSampleRateHz is the microphone rate expected by the speech service.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the rate of synthesized audio returned by the speech service.
	OutputSampleRateHz = 24000
	// InputFrameSamples is the fixed capture window size.
	InputFrameSamples = 4096

	bytesPerSample = 2
)

// Frame is a fixed-size window of mono samples. Frames are not modified after
// they are produced.
type Frame struct {
	SampleRateHz int
	Samples      []float32
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRateHz)
}

// Buffer is decoded audio, one slice per channel.
type Buffer struct {
	SampleRateHz int
	Channels     [][]float32
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer at its own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b == nil {
		return 0
	}
	return samplesDuration(b.Frames(), b.SampleRateHz)
}

// Mono returns the first channel, or nil for an empty buffer.
func (b *Buffer) Mono() []float32 {
	if b == nil || len(b.Channels) == 0 {
		return nil
	}
	return b.Channels[0]
}

// EncodePCM16 clamps samples to [-1, 1] and serializes them as signed 16-bit
// little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts interleaved signed 16-bit little-endian PCM to float
// samples in [-1, 1). A trailing odd byte is ignored, as is a trailing partial
// frame when channels > 1. No resampling is done: the returned buffer carries
// sampleRateHz and must be played on an output running at that rate.
func DecodePCM16(data []byte, sampleRateHz, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	total := len(data) / bytesPerSample
	frames := total / channels

	buf := &Buffer{
		SampleRateHz: sampleRateHz,
		Channels:     make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(v) / 32768.0
		}
	}
	return buf
}

// PCMMIMEType is the transport mime type for raw PCM16 at the given rate.
func PCMMIMEType(sampleRateHz int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRateHz)
}

// DurationBytes returns the PCM16 mono byte length of d at the given rate.
func DurationBytes(d time.Duration, sampleRateHz int) int {
	if d <= 0 || sampleRateHz <= 0 {
		return 0
	}
	return int(int64(d)*int64(sampleRateHz)/int64(time.Second)) * bytesPerSample
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func samplesDuration(n, sampleRateHz int) time.Duration {
	if n <= 0 || sampleRateHz <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRateHz))
}
