package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Lifecycle is shared across console handlers. Draining flips readiness, makes
// new calls fail and tells open event streams to close.
type Lifecycle struct {
	draining atomic.Bool

	once    sync.Once
	drainCh chan struct{}
	streams sync.WaitGroup
}

func New() *Lifecycle {
	return &Lifecycle{drainCh: make(chan struct{})}
}

// StartDraining is irreversible.
func (l *Lifecycle) StartDraining() {
	if l == nil {
		return
	}
	l.draining.Store(true)
	l.once.Do(func() { close(l.drainCh) })
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Draining is closed once StartDraining has been called. A nil Lifecycle
// never drains.
func (l *Lifecycle) Draining() <-chan struct{} {
	if l == nil {
		return nil
	}
	return l.drainCh
}

// TrackStream registers an open event stream; call the returned func when it
// ends.
func (l *Lifecycle) TrackStream() func() {
	if l == nil {
		return func() {}
	}
	l.streams.Add(1)
	var once sync.Once
	return func() { once.Do(l.streams.Done) }
}

// WaitStreams blocks until every tracked stream ended or done is closed. It
// reports whether all streams ended.
func (l *Lifecycle) WaitStreams(done <-chan struct{}) bool {
	if l == nil {
		return true
	}
	finished := make(chan struct{})
	go func() {
		l.streams.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-done:
		return false
	}
}
