// Package session carries session lifecycle events to the components that hold
// per-user resources.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultReason is used when an Ended event carries no reason.
const DefaultReason = "session end"

// Ended reports that a user's session is over (logout, expiry or admin kick).
type Ended struct {
	UserID string
	Reason string
	At     time.Time
}

// Handler consumes an Ended event.
type Handler func(ctx context.Context, event Ended) error

// Releaser drops every lease a user holds.
type Releaser interface {
	ReleaseUser(ctx context.Context, userID, reason string) error
}

// Bus delivers Ended events to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	now      func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers h for every later event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// End publishes an Ended event for userID. Every handler runs even if an earlier
// one fails; the failures are joined.
func (b *Bus) End(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return errors.New("session end requires a user")
	}
	if reason == "" {
		reason = DefaultReason
	}
	event := Ended{UserID: userID, Reason: reason, At: b.now().UTC()}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			log.Printf("session: handler failed for user %s: %v", userID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseOnEnd returns a handler that force-releases the user's leases.
func ReleaseOnEnd(r Releaser) Handler {
	return func(ctx context.Context, event Ended) error {
		return r.ReleaseUser(ctx, event.UserID, event.Reason)
	}
}
