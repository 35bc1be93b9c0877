// Package events provides a small in-process event bus for decoupling
// account lifecycle events from their subscribers.
package events

import (
	"context"
	"sync"

	"github.com/know-me-server/internal/logging"
)

// EmailVerified fires when an email address completes verification
type EmailVerified struct {
	UserID string
	Email  string
}

// UserRegistered fires when a new user account is created
type UserRegistered struct {
	UserID string
}

// EmailVerifiedHandler consumes EmailVerified events
type EmailVerifiedHandler func(ctx context.Context, event EmailVerified)

// UserRegisteredHandler consumes UserRegistered events
type UserRegisteredHandler func(ctx context.Context, event UserRegistered)

// Bus dispatches events synchronously to registered handlers. Handler panics
// and errors never propagate to the publisher: a broken subscriber must not
// fail the request that triggered the event.
type Bus struct {
	mu             sync.RWMutex
	emailVerified  []EmailVerifiedHandler
	userRegistered []UserRegisteredHandler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// OnEmailVerified registers a handler for EmailVerified events
func (b *Bus) OnEmailVerified(handler EmailVerifiedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emailVerified = append(b.emailVerified, handler)
}

// OnUserRegistered registers a handler for UserRegistered events
func (b *Bus) OnUserRegistered(handler UserRegisteredHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userRegistered = append(b.userRegistered, handler)
}

// PublishEmailVerified dispatches an EmailVerified event to all handlers
func (b *Bus) PublishEmailVerified(ctx context.Context, event EmailVerified) {
	b.mu.RLock()
	handlers := make([]EmailVerifiedHandler, len(b.emailVerified))
	copy(handlers, b.emailVerified)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, "email_verified", func() { handler(ctx, event) })
	}
}

// PublishUserRegistered dispatches a UserRegistered event to all handlers
func (b *Bus) PublishUserRegistered(ctx context.Context, event UserRegistered) {
	b.mu.RLock()
	handlers := make([]UserRegisteredHandler, len(b.userRegistered))
	copy(handlers, b.userRegistered)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, "user_registered", func() { handler(ctx, event) })
	}
}

// dispatch runs one handler, containing panics
func (b *Bus) dispatch(ctx context.Context, event string, run func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).
				WithField("event", event).
				WithField("panic", r).
				Error("event handler panicked")
		}
	}()
	run()
}
