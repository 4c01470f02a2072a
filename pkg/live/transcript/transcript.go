// Package transcript accumulates streamed transcription fragments for the
// current turn.
package transcript

import "strings"

// Speaker labels used when a turn is flushed.
const (
	UserLabel  = "Utente"
	AgentLabel = "Agente"
)

// Entry is one flushed side of a completed turn.
type Entry struct {
	Speaker string
	Text    string
}

func (e Entry) String() string { return e.Speaker + ": " + e.Text }

// Accumulator holds the user and agent text of the turn in progress. It is
// owned by the session event loop and is not safe for concurrent use.
type Accumulator struct {
	user  strings.Builder
	agent strings.Builder
}

func (a *Accumulator) AppendUser(fragment string) { a.user.WriteString(fragment) }
func (a *Accumulator) AppendAgent(fragment string) { a.agent.WriteString(fragment) }

// Flush returns the non-empty sides, user first, and resets both.
func (a *Accumulator) Flush() []Entry {
	var out []Entry
	if s := a.user.String(); s != "" {
		out = append(out, Entry{Speaker: UserLabel, Text: s})
	}
	if s := a.agent.String(); s != "" {
		out = append(out, Entry{Speaker: AgentLabel, Text: s})
	}
	a.user.Reset()
	a.agent.Reset()
	return out
}

// ClearAgent discards the agent side without flushing it. Used when the
// caller interrupts the agent mid-sentence.
func (a *Accumulator) ClearAgent() { a.agent.Reset() }

// Pending returns the current contents of both sides.
func (a *Accumulator) Pending() (user, agent string) {
	return a.user.String(), a.agent.String()
}
