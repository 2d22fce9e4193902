// Package dispatch fans decoded envelopes out to the consumers that
// registered for their kind.
package dispatch

import (
	"fmt"
	"log"
	"sync"

	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Handler consumes one envelope. A returned error is logged and does not stop
// delivery to the remaining handlers.
type Handler func(protocol.Envelope) error

// Subscription identifies one registration. Go funcs cannot be compared, so
// Off takes the token On returned instead of the handler itself.
type Subscription uint64

type registration struct {
	id      Subscription
	handler Handler
}

// Dispatcher is an in-process publish/subscribe bus keyed by kind.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   Subscription
	handlers map[protocol.Kind][]registration
	logf     func(string, ...any)
}

// New creates a dispatcher. A nil logf logs through the standard logger.
func New(logf func(string, ...any)) *Dispatcher {
	if logf == nil {
		logf = log.Printf
	}
	return &Dispatcher{
		handlers: make(map[protocol.Kind][]registration),
		logf:     logf,
	}
}

// On registers handler under kind. Handlers for a kind run in registration
// order.
func (d *Dispatcher) On(kind protocol.Kind, handler Handler) Subscription {
	if handler == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[kind] = append(d.handlers[kind], registration{id: d.nextID, handler: handler})
	return d.nextID
}

// Off removes the registration sub under kind. Unknown subscriptions are a
// no-op.
func (d *Dispatcher) Off(kind protocol.Kind, sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[kind]
	for i, reg := range regs {
		if reg.id != sub {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, kind)
		} else {
			d.handlers[kind] = next
		}
		return
	}
}

// Emit delivers env to every handler registered for kind. The handler list
// is snapshotted first, so handlers may call On or Off without deadlocking.
func (d *Dispatcher) Emit(kind protocol.Kind, env protocol.Envelope) {
	d.mu.RLock()
	regs := d.handlers[kind]
	d.mu.RUnlock()

	for _, reg := range regs {
		if !d.registered(kind, reg.id) {
			continue
		}
		if err := d.invoke(reg.handler, env); err != nil {
			d.logf("realtime: %s handler failed: %v", kind, err)
		}
	}
}

// registered reports whether sub is still live, so a handler removed by an
// earlier handler in the same emit does not run.
func (d *Dispatcher) registered(kind protocol.Kind, sub Subscription) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, reg := range d.handlers[kind] {
		if reg.id == sub {
			return true
		}
	}
	return false
}

func (d *Dispatcher) invoke(handler Handler, env protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(env)
}

// Clear drops every registration.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[protocol.Kind][]registration)
	d.mu.Unlock()
}

// Len returns the number of live registrations across all kinds.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, regs := range d.handlers {
		total += len(regs)
	}
	return total
}
