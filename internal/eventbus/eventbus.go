// Package eventbus is cortex's synchronous in-process publish/subscribe
// (C2). Unlike the queue (C1, which crosses process boundaries via Redis),
// the bus exists purely to decouple the digest pipeline from the
// memory-chunker enqueue call within one process — spec.md §4.2 describes
// exactly one event, encode_event, with exactly one subscriber.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// EncodeEvent carries one half of an exchange (user or assistant) to the
// memory-chunker enqueue subscriber. PromptMessage is empty for the
// assistant half; ResponseMessage is empty for the user half.
type EncodeEvent struct {
	Topic           string
	ExchangeID      string
	ThreadID        string
	PromptMessage   string
	ResponseMessage string
	Metadata        map[string]any
}

// Handler reacts to an EncodeEvent. Handlers run synchronously and in
// publish order on the publishing goroutine — the digest pipeline commits
// phases in order (§5) and the bus must not introduce reordering.
type Handler func(EncodeEvent)

// Bus is a minimal synchronous pub/sub for EncodeEvent. The zero value is
// ready to use; New returns an empty bus.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers h to be called on every future Publish. Subscription
// is not expected to be dynamic in steady state: the digest worker
// subscribes the memory-chunker enqueue handler once at startup.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish calls every subscribed handler in registration order,
// synchronously, on the calling goroutine. A panicking handler is
// recovered and logged so one bad subscriber cannot crash the digest
// pipeline mid-phase.
func (b *Bus) Publish(evt EncodeEvent) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, evt)
	}
}

func (b *Bus) safeCall(h Handler, evt EncodeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", evt.Topic).Str("exchange_id", evt.ExchangeID).
				Msg("eventbus: handler panicked, recovered")
		}
	}()
	h(evt)
}
