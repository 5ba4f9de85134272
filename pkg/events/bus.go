package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/palisade/pkg/async"
)

// Bus dispatches envelopes to every subscribed handler. Publish blocks when
// the buffer is full rather than dropping, preserving at-least-once
// delivery. A failing handler is retried with a fixed delay and then logged
// and skipped; it never blocks the other handlers.
type Bus struct {
	ch          chan Envelope
	handlers    []Handler
	log         logrus.FieldLogger
	maxAttempts int
	retryDelay  time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMaxAttempts sets how many times a failing handler is tried per event.
func WithMaxAttempts(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between handler attempts.
func WithRetryDelay(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int, log logrus.FieldLogger, opts ...BusOption) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Bus{
		ch:          make(chan Envelope, buffer),
		log:         log,
		maxAttempts: 3,
		retryDelay:  100 * time.Millisecond,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler. Must be called before Start.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("events: Subscribe after Start")
	}
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event. It blocks until the buffer has room, the
// context is cancelled, or the bus is closed.
func (b *Bus) Publish(ctx context.Context, payload interface{}) (err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("events: bus closed")
	}
	b.mu.Unlock()

	// Close may win the race between the check above and the send below.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: bus closed")
		}
	}()

	ev := NewEnvelope(payload)
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the dispatch loop with the given number of workers. Events
// are processed concurrently across workers; each event still runs its
// handlers sequentially so per-event ordering of side effects is stable.
func (b *Bus) Start(ctx context.Context, workers int) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	if workers <= 0 {
		workers = 4
	}
	pool := async.NewWorkerPool(ctx, workers, "event dispatch", 30*time.Second)

	go func() {
		defer close(b.done)
		defer pool.Shutdown(10 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-b.ch:
				if !ok {
					return
				}
				if err := pool.Submit(func(taskCtx context.Context) error {
					b.dispatch(taskCtx, ev)
					return nil
				}); err != nil {
					b.log.WithError(err).WithField("event", ev.Name()).
						Error("failed to submit event for dispatch")
					return
				}
			}
		}
	}()
}

// dispatch runs every handler for one envelope, retrying failures and
// isolating handler errors from each other.
func (b *Bus) dispatch(ctx context.Context, ev Envelope) {
	for i, h := range b.handlers {
		log := b.log.WithFields(logrus.Fields{
			"event":    ev.Name(),
			"event_id": ev.ID,
			"handler":  i,
		})

		var err error
		for attempt := 1; attempt <= b.maxAttempts; attempt++ {
			if err = b.handleSafely(ctx, h, ev); err == nil {
				break
			}
			if attempt < b.maxAttempts {
				select {
				case <-time.After(b.retryDelay):
				case <-ctx.Done():
					log.WithError(ctx.Err()).Warn("event dispatch cancelled")
					return
				}
			}
		}
		if err != nil {
			log.WithError(err).Error("event handler failed after retries")
		}
	}
}

// handleSafely converts a handler panic into an error so one bad handler
// cannot take down the dispatch loop.
func (b *Bus) handleSafely(ctx context.Context, h Handler, ev Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

// Close stops accepting events and waits for the dispatch loop to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	close(b.ch)
	if started {
		<-b.done
	}
}
