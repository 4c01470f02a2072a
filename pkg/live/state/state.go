// Package state holds the observable state of the current call: connection
// status, CRM session, speaking/thinking flags and the CRM lead snapshot.
package state

import (
	"sync"

	"github.com/vango-go/leadline/pkg/crm"
)

type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Conn          ConnState    `json:"connection"`
	CallID        string       `json:"call_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	AgentSpeaking bool         `json:"agent_speaking"`
	Thinking      bool         `json:"thinking"`
	CallerID      string       `json:"caller_id"`
	Lead          crm.LeadData `json:"lead"`
}

// Store is safe for concurrent use. Every mutation notifies subscribers with
// the resulting snapshot.
type Store struct {
	mu   sync.Mutex
	s    Snapshot
	subs map[chan Snapshot]struct{}
}

func NewStore(callerID string) *Store {
	return &Store{
		s:    Snapshot{Conn: Disconnected, CallerID: callerID},
		subs: make(map[chan Snapshot]struct{}),
	}
}

func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Update applies fn to the state under the lock and publishes the result if
// anything changed.
func (st *Store) Update(fn func(s *Snapshot)) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	before := st.s
	fn(&st.s)
	if st.s != before {
		st.publishLocked()
	}
	return st.s
}

func (st *Store) SetConn(c ConnState) {
	st.Update(func(s *Snapshot) { s.Conn = c })
}

func (st *Store) SetSessionID(id string) {
	st.Update(func(s *Snapshot) { s.SessionID = id })
}

func (st *Store) SetAgentSpeaking(v bool) {
	st.Update(func(s *Snapshot) { s.AgentSpeaking = v })
}

func (st *Store) SetThinking(v bool) {
	st.Update(func(s *Snapshot) { s.Thinking = v })
}

func (st *Store) SetCallerID(id string) {
	st.Update(func(s *Snapshot) { s.CallerID = id })
}

// MergeLead merges update into the CRM snapshot.
func (st *Store) MergeLead(update crm.LeadData) crm.LeadData {
	return st.Update(func(s *Snapshot) { s.Lead.Merge(update) }).Lead
}

// BeginCall resets the per-call fields for a new call.
func (st *Store) BeginCall(callID, callerID string) {
	st.Update(func(s *Snapshot) {
		*s = Snapshot{Conn: Connecting, CallID: callID, CallerID: callerID}
	})
}

// EndCall marks the call disconnected and clears the transient flags. The CRM
// snapshot and session id stay visible until the next call.
func (st *Store) EndCall() {
	st.Update(func(s *Snapshot) {
		s.Conn = Disconnected
		s.AgentSpeaking = false
		s.Thinking = false
	})
}

// Subscribe returns a channel receiving snapshots after each change and a
// cancel function. Only the latest snapshot is kept for a slow subscriber.
func (st *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	st.mu.Lock()
	st.subs[ch] = struct{}{}
	st.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, ch)
			st.mu.Unlock()
			close(ch)
		})
	}
}

func (st *Store) publishLocked() {
	for ch := range st.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.s:
		default:
		}
	}
}
