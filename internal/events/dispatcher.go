package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoHandler is returned when nothing is registered for an event kind.
var ErrNoHandler = errors.New("no handler registered")

// Handler reacts to one event.
type Handler func(ctx context.Context, ev Event) error

// Source is where handlers are registered.
type Source interface {
	On(kind Kind, h Handler)
}

// Dispatcher is an in-process Source that delivers events synchronously
// to handlers in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind][]Handler)}
}

func (d *Dispatcher) On(kind Kind, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], h)
	d.mu.Unlock()
}

// Has reports whether any handler is registered for kind.
func (d *Dispatcher) Has(kind Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind]) > 0
}

// Dispatch runs every handler for ev's kind. A fetch event stops at the
// first handler that responds. Handler errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[ev.Kind()]...)
	d.mu.RUnlock()

	if len(hs) == 0 {
		return fmt.Errorf("%s: %w", ev.Kind(), ErrNoHandler)
	}

	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
		if fe, ok := ev.(*FetchEvent); ok {
			if _, done := fe.Response(); done {
				break
			}
		}
	}
	return errors.Join(errs...)
}
