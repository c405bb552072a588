package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrLifecycleStarted is returned by a second call to Lifecycle.Start.
var ErrLifecycleStarted = errors.New("lifecycle already started")

type callback struct {
	name string
	fn   func(context.Context) error
}

// Lifecycle runs named startup steps in order and stop callbacks in reverse.
type Lifecycle struct {
	mu sync.Mutex

	startCallbacks []callback
	stopCallbacks  []callback

	started bool
	stopped bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		startCallbacks: make([]callback, 0),
		stopCallbacks:  make([]callback, 0),
	}
}

// OnStart registers a startup step. Steps run in registration order.
func (l *Lifecycle) OnStart(name string, fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startCallbacks = append(l.startCallbacks, callback{name: name, fn: fn})
}

// OnStop registers a callback to run on shutdown. Callbacks run in reverse
// registration order and must tolerate a component that never started.
func (l *Lifecycle) OnStop(name string, fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopCallbacks = append(l.stopCallbacks, callback{name: name, fn: fn})
}

// Start runs every step in order. Each step starts only after the previous
// one returned. The first failure stops the sequence, runs the stop
// callbacks, and is returned wrapped with the step name.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.stopped {
		return ErrLifecycleStarted
	}

	for _, cb := range l.startCallbacks {
		if err := cb.fn(ctx); err != nil {
			l.rollback(ctx)
			return fmt.Errorf("%s: %w", cb.name, err)
		}
	}

	l.started = true
	return nil
}

// rollback runs the stop callbacks after a failed start.
func (l *Lifecycle) rollback(ctx context.Context) {
	for i := len(l.stopCallbacks) - 1; i >= 0; i-- {
		cb := l.stopCallbacks[i]
		if err := cb.fn(ctx); err != nil {
			slog.Warn("lifecycle rollback: stop callback failed",
				"callback", cb.name, "error", err)
		}
	}
	l.stopped = true
}

// Stop runs all stop callbacks in reverse order, once.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}

	var errs []error
	for i := len(l.stopCallbacks) - 1; i >= 0; i-- {
		cb := l.stopCallbacks[i]
		if err := cb.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
		}
	}

	l.started = false
	l.stopped = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}

// Closer is a component released on shutdown, such as a session store.
type Closer interface {
	Close() error
}

// RegisterCloser registers c to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c Closer) {
	l.OnStop(name, func(_ context.Context) error {
		return c.Close()
	})
}
