// Package notify carries the "a change happened, resync" signal between
// devices. The transport is opaque to the engine: receipt of a signal is
// the sole trigger for unsolicited resync, and the payload names only the
// suite that changed and the device that changed it.
package notify

import (
	"context"
	"sync"
	"time"
)

// Signal announces that a suite's remote records changed.
type Signal struct {
	SuiteID string    `json:"suiteId"`
	Origin  string    `json:"origin"` // device identity of the writer
	At      time.Time `json:"at"`
}

// Publisher emits change signals after successful remote mutations.
type Publisher interface {
	Publish(ctx context.Context, sig Signal) error
}

// Subscriber delivers change signals from other devices. Handlers run on
// the subscriber's goroutine and must not block.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Signal)) error
	Close() error
}

// Loopback is an in-process Publisher/Subscriber pair used by tests and
// single-process setups. Signals published are delivered to all
// subscribed handlers synchronously.
type Loopback struct {
	mu       sync.Mutex
	handlers []func(Signal)
	closed   bool
}

// NewLoopback creates an in-process notifier.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Publish delivers the signal to every registered handler.
func (l *Loopback) Publish(ctx context.Context, sig Signal) error {
	l.mu.Lock()
	handlers := append([]func(Signal){}, l.handlers...)
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return nil
	}
	for _, h := range handlers {
		h(sig)
	}
	return nil
}

// Subscribe registers a handler for future signals.
func (l *Loopback) Subscribe(ctx context.Context, handler func(Signal)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
	return nil
}

// Close drops all handlers.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}
