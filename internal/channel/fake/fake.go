// Package fake provides an in-memory control channel for tests and local runs.
package fake

import (
	"context"
	"sync"

	"github.com/robot-control/rcp/internal/channel"
)

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	messages []channel.Message
	err      error
	closed   bool

	// OnPublish, when set, runs before the message is recorded.
	OnPublish func(msg channel.Message)
}

// Compile-time assertion
var _ channel.Publisher = (*Publisher)(nil)

// New creates a fake publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records msg, or fails with the configured error.
func (p *Publisher) Publish(ctx context.Context, msg channel.Message) error {
	select {
	case <-ctx.Done():
		return channel.Normalize(ctx.Err())
	default:
	}

	if p.OnPublish != nil {
		p.OnPublish(msg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return channel.ErrUnavailable
	}
	if p.err != nil {
		return channel.Normalize(p.err)
	}
	p.messages = append(p.messages, msg)
	return nil
}

// SetError makes later publishes fail with err; nil restores success.
func (p *Publisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Messages returns a copy of the recorded messages.
func (p *Publisher) Messages() []channel.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]channel.Message(nil), p.messages...)
}

// Close marks the publisher closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
