// Package eventlog is the append-only call log shown to operators.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindInfo         Kind = "info"
	KindToolCall     Kind = "tool_call"
	KindToolResponse Kind = "tool_response"
	KindError        Kind = "error"
	KindTranscript   Kind = "transcript"
)

// Entry is immutable once appended.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"type"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

const defaultSubscriberBuffer = 64

// Log stores entries and fans new ones out to subscribers. Entries are also
// written to the slog logger.
type Log struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
	subs    map[chan Entry]struct{}
}

func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger: logger,
		now:    time.Now,
		subs:   make(map[chan Entry]struct{}),
	}
}

func (l *Log) Info(msg string) { l.Append(KindInfo, msg, nil) }
func (l *Log) Error(msg string, data any) { l.Append(KindError, msg, data) }
func (l *Log) Transcript(msg string) { l.Append(KindTranscript, msg, nil) }
func (l *Log) ToolCall(name string, args any) { l.Append(KindToolCall, name, args) }
func (l *Log) ToolResponse(name string, r any) { l.Append(KindToolResponse, name, r) }

// Append records an entry and returns it.
func (l *Log) Append(kind Kind, message string, data any) Entry {
	l.mu.Lock()
	l.nextSeq++
	e := Entry{
		Seq:       l.nextSeq,
		Timestamp: l.now(),
		Kind:      kind,
		Message:   message,
		Data:      data,
	}
	l.entries = append(l.entries, e)
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()

	level := slog.LevelInfo
	if kind == KindError {
		level = slog.LevelError
	}
	attrs := []any{"kind", string(kind)}
	if data != nil {
		attrs = append(attrs, "data", data)
	}
	l.logger.Log(context.Background(), level, message, attrs...)
	return e
}

// Entries returns all entries, newest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a channel receiving every entry appended afterwards and a
// cancel function. A subscriber that falls behind misses entries.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, defaultSubscriberBuffer)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}
