package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"

	"context"

	"github.com/procurio/approval-engine/internal/domain/event"
	"go.uber.org/zap"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

type registration struct {
	name    string
	handler Handler
}

// Dispatcher routes domain events to registered handlers. Dispatch is
// synchronous and stops at the first handler error; DispatchAsync fires and
// forgets, logging handler errors.
type Dispatcher interface {
	// Subscribe registers a named handler for an event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// Dispatch sends the event to all handlers in registration order
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync sends the event to handlers without waiting for them
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close stops accepting events and waits for in-flight async handlers
	Close() error
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]registration
	logger   *zap.Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a new event dispatcher
func New(logger *zap.Logger) Dispatcher {
	return &eventDispatcher{
		handlers: make(map[event.Type][]registration),
		logger:   logger,
	}
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], registration{name: name, handler: handler})
	d.logger.Debug("Event handler registered",
		zap.String("event_type", eventType.String()),
		zap.String("handler", name))
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	for _, reg := range handlers {
		if err := d.run(ctx, evt, reg); err != nil {
			return fmt.Errorf("handler %s failed: %w", reg.name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.logger.Warn("Dropping event, dispatcher is closed",
			zap.String("event_type", evt.Type.String()),
			zap.String("event_id", evt.ID))
		return
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	for _, reg := range handlers {
		d.wg.Add(1)
		go func(r registration) {
			defer d.wg.Done()
			if err := d.run(ctx, evt, r); err != nil {
				d.logger.Error("Async event handler failed",
					zap.String("event_type", evt.Type.String()),
					zap.String("event_id", evt.ID),
					zap.String("handler", r.name),
					zap.Error(err))
			}
		}(reg)
	}
}

// run executes a handler, converting panics into errors so one bad handler
// cannot take the process down.
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, reg registration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler %s panicked: %v", reg.name, p)
		}
	}()
	return reg.handler(ctx, evt)
}

func (d *eventDispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.wg.Wait()
	return nil
}
