// Package playback schedules decoded model audio on an output clock so that
// consecutive chunks play back-to-back without gaps or overlap, and cancels
// everything at once when the user barges in.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/vango-go/leadline/pkg/core/audio"
)

var ErrClosed = errors.New("playback: scheduler is closed")

// Scheduler places buffers contiguously on an Output clock. Buffer n+1 starts
// no earlier than the end of buffer n and never in the past.
type Scheduler struct {
	out    Output
	onIdle func()

	mu        sync.Mutex
	nextStart time.Duration
	active    map[*scheduled]struct{}
	closed    bool
}

type scheduled struct {
	voice Voice
	start time.Duration
	dur   time.Duration
}

// NewScheduler returns a scheduler on out. onIdle is called, outside the
// scheduler lock, whenever the set of playing buffers becomes empty (natural
// end of the last buffer, or an interruption).
func NewScheduler(out Output, onIdle func()) *Scheduler {
	return &Scheduler{
		out:       out,
		onIdle:    onIdle,
		nextStart: out.Now(),
		active:    make(map[*scheduled]struct{}),
	}
}

// Schedule starts buf at max(nextStart, now) and returns that start time.
func (s *Scheduler) Schedule(buf *audio.Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.nextStart, s.out.Now())
	entry := &scheduled{start: start, dur: buf.Duration()}
	s.active[entry] = struct{}{}
	entry.voice = s.out.Start(buf, start, func() { s.ended(entry) })
	s.nextStart = start + entry.dur
	return start, nil
}

// Interrupt stops and discards every scheduled buffer and rewinds nextStart
// to the current clock time so the next buffer plays immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopAllLocked()
	s.nextStart = s.out.Now()
	s.mu.Unlock()

	if s.onIdle != nil {
		s.onIdle()
	}
}

// Close stops everything. The scheduler rejects buffers afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopAllLocked()
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime is the earliest clock time the next buffer may start at.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) ended(entry *scheduled) {
	s.mu.Lock()
	if _, ok := s.active[entry]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, entry)
	idle := len(s.active) == 0 && !s.closed
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

// notifyIfIdle calls onIdle if nothing is scheduled or playing.
func (s *Scheduler) notifyIfIdle() {
	s.mu.Lock()
	idle := len(s.active) == 0 && !s.closed
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

func (s *Scheduler) stopAllLocked() {
	for entry := range s.active {
		if entry.voice != nil {
			entry.voice.Stop()
		}
		delete(s.active, entry)
	}
}
