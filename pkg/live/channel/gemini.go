package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/leadline/pkg/core/audio"
)

// GeminiDialer opens Gemini Live sessions.
type GeminiDialer struct {
	client *genai.Client
	logger *slog.Logger
}

func NewGeminiDialer(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiDialer, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("channel: create genai client: %w", err)
	}
	return &GeminiDialer{client: client, logger: logger}, nil
}

func (d *GeminiDialer) Dial(ctx context.Context, setup Setup) (Channel, error) {
	if setup.InputSampleRateHz <= 0 {
		setup.InputSampleRateHz = audio.InputSampleRateHz
	}
	session, err := d.client.Live.Connect(ctx, setup.Model, LiveConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("channel: connect %s: %w", setup.Model, err)
	}
	d.logger.Debug("gemini live session opened", "model", setup.Model, "voice", setup.Voice)
	return &geminiChannel{
		session: session,
		mime:    audio.PCMMIMEType(setup.InputSampleRateHz),
	}, nil
}

// LiveConfig builds the Live API connect configuration: audio responses, the
// system instruction, a prebuilt voice, transcription of both directions and
// the tool declarations.
func LiveConfig(setup Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(setup.SystemInstruction, genai.RoleUser)
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if len(setup.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: setup.Tools}}
	}
	return cfg
}

type geminiChannel struct {
	session *genai.Session
	mime    string

	// The underlying websocket allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (c *geminiChannel) SendAudio(_ context.Context, pcm []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: c.mime},
	})
}

func (c *geminiChannel) SendToolResponses(_ context.Context, responses []ToolResponse) error {
	if c.isClosed() {
		return ErrClosed
	}
	frs := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		frs = append(frs, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs})
}

func (c *geminiChannel) Receive(_ context.Context) (*Message, error) {
	msg, err := c.session.Receive()
	if err != nil {
		return nil, c.classify(err)
	}
	return ConvertMessage(msg), nil
}

func (c *geminiChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.session.Close()
	})
	return err
}

func (c *geminiChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// classify maps transport errors to ErrClosed when the channel ended without
// a failure: a local Close, or a normal close frame from the server.
func (c *geminiChannel) classify(err error) error {
	if c.isClosed() && errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return ClassifyReceiveError(err)
}

// ClassifyReceiveError wraps ErrClosed for normal websocket closures and
// returns other errors unchanged.
func ClassifyReceiveError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			if ce.Text != "" {
				return fmt.Errorf("%w: %s", ErrClosed, ce.Text)
			}
			return ErrClosed
		default:
			return fmt.Errorf("channel: closed by server (code %d): %s", ce.Code, ce.Text)
		}
	}
	return err
}

// ConvertMessage extracts the fields the session uses from a Live API
// server message.
func ConvertMessage(m *genai.LiveServerMessage) *Message {
	out := &Message{}
	if m == nil {
		return out
	}
	out.SetupComplete = m.SetupComplete != nil

	if sc := m.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
					out.Audio = append(out.Audio, p.InlineData.Data)
				}
			}
		}
		if sc.InputTranscription != nil {
			out.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputTranscript = sc.OutputTranscription.Text
		}
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
	}

	if tc := m.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if m.ToolCallCancellation != nil {
		out.CancelledToolCalls = m.ToolCallCancellation.IDs
	}
	if m.GoAway != nil {
		out.GoAway = true
		out.GoAwayLeft = m.GoAway.TimeLeft
	}
	return out
}
