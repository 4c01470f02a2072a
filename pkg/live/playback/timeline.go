package playback

import (
	"io"
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
)

// Voice is one buffer started on an Output.
type Voice interface {
	// Stop silences the voice immediately. The end callback is not invoked for
	// a stopped voice.
	Stop()
}

// Output is an audio output context: a monotonically advancing clock plus the
// ability to start a buffer at a point on that clock.
type Output interface {
	SampleRateHz() int
	Now() time.Duration
	Start(buf *audio.Buffer, at time.Duration, onEnded func()) Voice
}

// Timeline is a sample-accurate software mixer implementing Output. Its clock
// is the number of frames rendered so far; it advances only when a consumer
// pulls audio through Read (a speaker) or Advance (headless operation).
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*timelineVoice
	tap    func(pcm []byte)
	closed bool
}

type timelineVoice struct {
	t       *Timeline
	start   int64
	samples []float32
	onEnded func()
}

func NewTimeline(sampleRateHz int) *Timeline {
	if sampleRateHz <= 0 {
		sampleRateHz = audio.OutputSampleRateHz
	}
	return &Timeline{rate: sampleRateHz}
}

func (t *Timeline) SampleRateHz() int { return t.rate }

// SetTap registers a function receiving every rendered PCM16 block, silence
// included. Used for call recording.
func (t *Timeline) SetTap(fn func(pcm []byte)) {
	t.mu.Lock()
	t.tap = fn
	t.mu.Unlock()
}

func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framesToDuration(t.pos)
}

// Start schedules buf to begin at the given clock time. Times in the past
// start at the current position.
func (t *Timeline) Start(buf *audio.Buffer, at time.Duration, onEnded func()) Voice {
	v := &timelineVoice{t: t, samples: buf.Mono(), onEnded: onEnded}

	t.mu.Lock()
	defer t.mu.Unlock()
	v.start = t.durationToFrames(at)
	if v.start < t.pos {
		v.start = t.pos
	}
	if !t.closed {
		t.voices = append(t.voices, v)
	}
	return v
}

func (v *timelineVoice) Stop() {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(v)
}

// Active returns the number of voices not yet finished or stopped.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Read renders PCM16 mono audio into p. It never blocks: with nothing
// scheduled it produces silence, which keeps the clock in step with the
// device consuming it.
func (t *Timeline) Read(p []byte) (int, error) {
	frames := len(p) / 2
	if frames == 0 {
		return 0, nil
	}
	mix, ended, tap, ok := t.render(frames)
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, audio.EncodePCM16(mix))
	if tap != nil {
		tap(p[:n])
	}
	fireEnded(ended)
	return n, nil
}

// Advance renders d worth of audio and discards it.
func (t *Timeline) Advance(d time.Duration) {
	frames := int(t.durationToFrames(d))
	if frames <= 0 {
		return
	}
	mix, ended, tap, ok := t.render(frames)
	if !ok {
		return
	}
	if tap != nil {
		tap(audio.EncodePCM16(mix))
	}
	fireEnded(ended)
}

// Close drops all voices without invoking their end callbacks and makes Read
// return io.EOF.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	return nil
}

func (t *Timeline) render(frames int) ([]float32, []func(), func([]byte), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, nil, false
	}

	mix := make([]float32, frames)
	from := t.pos
	to := t.pos + int64(frames)
	var ended []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))
		lo := max(from, v.start)
		hi := min(to, end)
		for i := lo; i < hi; i++ {
			mix[i-from] += v.samples[i-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.pos = to
	return mix, ended, t.tap, true
}

func (t *Timeline) removeLocked(v *timelineVoice) {
	for i, cur := range t.voices {
		if cur == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

func (t *Timeline) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(t.rate))
}

func (t *Timeline) durationToFrames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	// Round so that durations derived from whole frames map back exactly.
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func fireEnded(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
