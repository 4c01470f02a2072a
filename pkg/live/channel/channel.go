// Package channel defines the bidirectional message channel to the speech
// service and its Gemini Live implementation.
package channel

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"
)

var (
	// ErrClosed is returned by Receive once the channel has been closed, by
	// either side, without an error.
	ErrClosed = errors.New("channel: closed")

	ErrMissingAPIKey = errors.New("channel: missing API key")
)

// Setup is the session configuration sent when the channel opens.
type Setup struct {
	Model             string
	SystemInstruction string
	Voice             string
	Tools             []*genai.FunctionDeclaration

	// InputSampleRateHz is the rate of the PCM16 sent through SendAudio.
	InputSampleRateHz int
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a FunctionCall. Result is any JSON-serializable value
// and is delivered to the model as {"result": Result}.
type ToolResponse struct {
	ID     string
	Name   string
	Result any
}

// Message is one inbound server message with the fields the session acts on.
// A single message may carry several of them at once.
type Message struct {
	SetupComplete bool

	// Audio holds the inline audio payloads of the model turn, in order.
	Audio [][]byte

	InputTranscript  string
	OutputTranscript string

	TurnComplete bool
	Interrupted  bool

	ToolCalls          []FunctionCall
	CancelledToolCalls []string

	// GoAway is set when the server announced it will disconnect soon.
	GoAway     bool
	GoAwayLeft time.Duration
}

// Channel is an open connection to the speech service. SendAudio and
// SendToolResponses may be called concurrently with Receive; Receive must be
// called from a single goroutine.
type Channel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, setup Setup) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, setup Setup) (Channel, error) { return f(ctx, setup) }
