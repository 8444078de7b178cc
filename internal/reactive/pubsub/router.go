// Package pubsub is the trivial ~10% of the core (§2): it maintains the
// subscriber set for one publishing cell and forwards PropChange messages
// FIFO per (publisher, subscriber) pair, with no ordering guarantee across
// subscribers. It is deliberately dumb — Src and Drv cells own one Router
// each and call Publish from inside their own actor loop, never concurrently
// with their own state mutation, per the "never hold a mutex around a send"
// rule in §5.
package pubsub

import (
	"log/slog"
	"sync"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// Router fans out PropChange messages to a set of subscriber sinks. Each
// sink is a buffered channel sized so that a correctly operating subscriber
// never fills it (§5's bounded-mailbox model); a full sink means that
// invariant already broke; per §7 item 6 ("mailbox overflow must not happen
// silently") Publish treats it as fatal rather than dropping the PropChange.
type Router struct {
	mu     sync.RWMutex
	subs   map[reactive.Address]chan<- message.PropChange
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		subs:   make(map[reactive.Address]chan<- message.PropChange),
		logger: logger,
	}
}

// Subscribe registers sink under subscriber. Re-subscribing the same address
// replaces its sink (idempotent from the caller's point of view).
func (r *Router) Subscribe(subscriber reactive.Address, sink chan<- message.PropChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[subscriber] = sink
}

func (r *Router) Unsubscribe(subscriber reactive.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, subscriber)
}

// Publish dispatches pc to every current subscriber. Delivery per
// subscriber is FIFO because each subscriber has exactly one sink channel
// and Publish is only ever called from the single actor goroutine that owns
// this Router.
func (r *Router) Publish(pc message.PropChange) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for addr, sink := range r.subs {
		select {
		case sink <- pc:
		default:
			// A subscriber's mailbox is a derived cell's own buffered input
			// channel; it drains fast because Drv actors never block
			// mid-handler, so a full sink here means that guarantee already
			// broke — a dropped PropChange would let the subscriber wedge
			// forever waiting for a generation it will never see. §7 item 6
			// requires this to surface as fatal, not a dropped log line.
			r.logger.Error("MAILBOX_OVERFLOW", "subscriber", addr.String())
			panic("pubsub: MAILBOX_OVERFLOW: subscriber " + addr.String() + " mailbox is full")
		}
	}
}

// Len reports the current subscriber count, used by tests and diagnostics.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
