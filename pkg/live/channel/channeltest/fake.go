// Package channeltest provides an in-memory channel.Channel for tests.
package channeltest

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/leadline/pkg/live/channel"
)

// Channel is a scripted channel. Tests push server messages with Deliver and
// inspect what the client sent.
type Channel struct {
	inbound chan *channel.Message
	failed  chan error
	done    chan struct{}

	mu        sync.Mutex
	audio     [][]byte
	responses []channel.ToolResponse
	sendErr   error
	closed    bool
	notify    chan struct{}
}

func New() *Channel {
	return &Channel{
		inbound: make(chan *channel.Message, 64),
		failed:  make(chan error, 1),
		done:    make(chan struct{}),
		notify:  make(chan struct{}, 64),
	}
}

// Deliver queues a server message.
func (c *Channel) Deliver(m *channel.Message) {
	select {
	case c.inbound <- m:
	case <-c.done:
	}
}

// Fail makes the next Receive return err.
func (c *Channel) Fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// RemoteClose simulates the server closing the connection normally.
func (c *Channel) RemoteClose() { c.Fail(channel.ErrClosed) }

// SetSendError makes every subsequent send fail with err.
func (c *Channel) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Channel) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.audio = append(c.audio, pcm)
	return nil
}

func (c *Channel) SendToolResponses(_ context.Context, responses []channel.ToolResponse) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrClosed
	}
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	c.responses = append(c.responses, responses...)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Channel) Receive(ctx context.Context) (*channel.Message, error) {
	// Queued messages are delivered before a pending failure.
	select {
	case m := <-c.inbound:
		return m, nil
	default:
	}
	select {
	case m := <-c.inbound:
		return m, nil
	case err := <-c.failed:
		return nil, err
	case <-c.done:
		return nil, channel.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AudioFrames returns the number of audio frames sent.
func (c *Channel) AudioFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

// Responses returns the tool responses sent so far.
func (c *Channel) Responses() []channel.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.ToolResponse(nil), c.responses...)
}

// ResponseSent returns a channel signalled after each SendToolResponses.
func (c *Channel) ResponseSent() <-chan struct{} { return c.notify }

// Dialer returns a fixed Channel, or Err if set.
type Dialer struct {
	Channel *Channel
	Err     error

	mu     sync.Mutex
	setups []channel.Setup
}

func (d *Dialer) Dial(_ context.Context, setup channel.Setup) (channel.Channel, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Channel == nil {
		return nil, errors.New("channeltest: no channel configured")
	}
	return d.Channel, nil
}

// Setups returns every Setup passed to Dial.
func (d *Dialer) Setups() []channel.Setup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]channel.Setup(nil), d.setups...)
}
