package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SubscriberQueueSize bounds the events waiting for one subscriber.
const SubscriberQueueSize = 1024

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is the publish-subscribe hub between the update loop and its
// observers (websocket feed, console, MQTT, history store).
//
// A subscriber is identified by name and may listen to several event
// types. Each subscriber has one queue and one worker, so it sees events
// in the order they were emitted regardless of type. Emit never blocks
// the caller: when a subscriber's queue is full the event is dropped for
// that subscriber.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	order       []string
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
	dropped     atomic.Uint64
}

type delivery struct {
	ctx     context.Context
	event   Event
	handler HandlerFunc
}

type subscriber struct {
	name     string
	handlers map[EventType]HandlerFunc
	queue    chan delivery
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]*subscriber),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers handler for eventType under name. Subscribing the
// same name to the same type again replaces the handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub, ok := eb.subscribers[name]
	if !ok {
		sub = &subscriber{
			name:     name,
			handlers: make(map[EventType]HandlerFunc),
			queue:    make(chan delivery, SubscriberQueueSize),
		}
		eb.subscribers[name] = sub
		eb.order = append(eb.order, name)
		eb.wg.Add(1)
		go eb.run(sub)
	}
	sub.handlers[eventType] = handler

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes name's handler for eventType. A subscriber left
// with no event types is shut down after its queue drains.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[name]
	if !ok {
		return
	}
	delete(sub.handlers, eventType)
	if len(sub.handlers) == 0 && !eb.stopped {
		eb.remove(name)
		close(sub.queue)
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// remove drops name from the subscriber set. Caller holds mu.
func (eb *EventBus) remove(name string) {
	delete(eb.subscribers, name)
	for i, n := range eb.order {
		if n == name {
			eb.order = append(eb.order[:i], eb.order[i+1:]...)
			break
		}
	}
}

func (eb *EventBus) run(sub *subscriber) {
	defer eb.wg.Done()
	for d := range sub.queue {
		eb.invoke(sub.name, d)
	}
}

func (eb *EventBus) invoke(name string, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(d.event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = d.handler(d.ctx, d.event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(d.event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Emit queues the event for every subscriber of its type and returns
// without waiting for them.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, name := range eb.order {
		sub := eb.subscribers[name]
		handler, ok := sub.handlers[event.Type]
		if !ok {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: event, handler: handler}:
		default:
			eb.dropped.Add(1)
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", name).
				Msg("subscriber queue full, event dropped")
		}
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Msg("emitted event")
}

// EmitSync runs every handler of the event's type on the calling
// goroutine, in subscription order, bypassing the queues. It returns the
// first error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	type target struct {
		name    string
		handler HandlerFunc
	}
	var targets []target
	for _, name := range eb.order {
		if handler, ok := eb.subscribers[name].handlers[event.Type]; ok {
			targets = append(targets, target{name: name, handler: handler})
		}
	}
	eb.mu.RUnlock()

	var firstErr error
	for _, t := range targets {
		err := eb.invoke(t.name, delivery{ctx: ctx, event: event, handler: t.handler})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop rejects further events, lets every subscriber drain its queue and
// waits for the workers to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, sub := range eb.subscribers {
		close(sub.queue)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Uint64("dropped", eb.dropped.Load()).Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// Stopped reports whether Stop has been called.
func (eb *EventBus) Stopped() bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.stopped
}

// Dropped returns how many deliveries were lost to full queues.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// HandlerCount returns the number of subscribers for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := 0
	for _, sub := range eb.subscribers {
		if _, ok := sub.handlers[eventType]; ok {
			n++
		}
	}
	return n
}
