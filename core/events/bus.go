// Package events provides the publish/subscribe bus actions report their
// invocations on. Topics are built from ids joined with Separator, e.g.
// "increment" and "increment:completed".
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Separator joins topic parts. Registered ids may not contain it.
const Separator = ":"

// Wildcard matches every topic, or every sub-topic when used as the last
// part ("increment:*").
const Wildcard = "*"

// Topic joins parts into a topic name.
func Topic(parts ...string) string {
	return strings.Join(parts, Separator)
}

// Event represents a published event.
type Event struct {
	// Topic is the topic the event was emitted on.
	Topic string

	// Payload is whatever the emitter attached.
	Payload any
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Subscription identifies a registered handler for Unsubscribe.
type Subscription struct {
	topic string
	id    uint64
}

// Topic returns the subscribed topic pattern.
func (s Subscription) Topic() string { return s.topic }

type subscriber struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscriber
	nextID   uint64
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscriber),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic.
// Supports wildcard subscriptions:
//   - "increment" - exact match
//   - "increment:*" - the topic and all its sub-topics
//   - "*" - all events
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	return b.subscribe(topic, handler, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(topic string, handler Handler) Subscription {
	return b.subscribe(topic, handler, true)
}

func (b *Bus) subscribe(topic string, handler Handler, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscriber{id: b.nextID, handler: handler, once: once})
	return Subscription{topic: topic, id: b.nextID}
}

// Unsubscribe removes a handler. Returns false if it was not registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(sub)
}

func (b *Bus) remove(sub Subscription) bool {
	subs := b.handlers[sub.topic]
	for i, s := range subs {
		if s.id != sub.id {
			continue
		}
		rest := make([]subscriber, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.handlers, sub.topic)
		} else {
			b.handlers[sub.topic] = rest
		}
		return true
	}
	return false
}

// Emit publishes payload on topic to all matching handlers.
// Handlers are called synchronously, exact matches first, then wildcards.
// If any handler returns an error, delivery continues but errors are logged.
// Handlers may subscribe or unsubscribe while being called.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.Lock()
	matched := b.match(topic)
	for _, m := range matched {
		if m.sub.once {
			b.remove(Subscription{topic: m.pattern, id: m.sub.id})
		}
	}
	b.mu.Unlock()

	b.logger.Debug().
		Str("topic", topic).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, m := range matched {
		if err := m.sub.handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("topic", topic).
				Msg("event handler error")
		}
	}
}

type match struct {
	pattern string
	sub     subscriber
}

// match collects handlers for topic. Caller holds the lock.
func (b *Bus) match(topic string) []match {
	var matched []match
	add := func(pattern string) {
		for _, s := range b.handlers[pattern] {
			matched = append(matched, match{pattern: pattern, sub: s})
		}
	}

	add(topic)

	// Prefix wildcards, e.g. "increment:*" for "increment:completed"
	parts := strings.Split(topic, Separator)
	for i := len(parts); i >= 1; i-- {
		add(Topic(append(parts[:i:i], Wildcard)...))
	}

	if topic != Wildcard {
		add(Wildcard)
	}
	return matched
}

// HasSubscribers checks if any handlers would receive an event on topic.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.match(topic)) > 0
}
