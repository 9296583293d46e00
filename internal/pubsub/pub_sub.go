// Package pubsub implements a small, type-safe, in-process publish/subscribe
// broker. FLE and its surrounding harness use it to announce lifecycle
// events (an election starting, a leader being decided, a peer shutting
// down) without the announcing code needing to know who, if anyone, is
// listening.
package pubsub

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventType identifies a class of event on the bus.
type EventType int

// SubscriptionOptions configures delivery behavior for one subscription.
type SubscriptionOptions struct {
	// IsBlocking, when true, makes the broker block until the subscriber's
	// channel accepts the event. Guarantees delivery at the cost of being
	// able to stall the whole bus behind one slow reader. Leave false
	// unless a subscriber must never miss an event.
	IsBlocking bool
}

// SubscriberID identifies one subscription, returned from Subscribe and
// required by Unsubscribe.
type SubscriberID uint64

var nextSubscriberID uint64

// Event carries a typed payload for one occurrence of EventType.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// NewEvent builds an Event for Publish.
func NewEvent[T any](t EventType, payload T) *Event[T] {
	return &Event[T]{Type: t, Payload: payload}
}

// subscriber is the type-erased registry entry: dispatch and teardown are
// captured as closures over the caller's concrete channel type, so a single
// map can hold subscribers for Event[Vote], Event[struct{}], Event[string],
// and so on.
type subscriber struct {
	dispatch func(t EventType, payload any) bool
	teardown func()

	opts       SubscriptionOptions
	numDropped uint64
}

// Client is a thread-safe publish/subscribe broker.
type Client struct {
	mu sync.RWMutex
	wg sync.WaitGroup

	registry map[EventType]map[SubscriberID]*subscriber

	inbox chan published

	closed atomic.Bool
}

type published struct {
	eventType EventType
	payload   any
}

// New starts a Client and its dispatch loop.
func New() *Client {
	c := &Client{
		registry: make(map[EventType]map[SubscriberID]*subscriber),
		inbox:    make(chan published, 100),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Subscribe registers ch to receive every Event[T] published under
// eventType. Go does not allow a generic method on a non-generic receiver,
// so this is a free function parameterized over the payload type, the same
// shape as slices.Sort(s) in the standard library.
func Subscribe[T any](c *Client, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := SubscriberID(atomic.AddUint64(&nextSubscriberID, 1))

	sub := &subscriber{
		opts: opts,
		dispatch: func(t EventType, payload any) bool {
			typed, ok := payload.(T)
			if !ok {
				log.Printf("[pubsub] type mismatch for event %v: expected %T, got %T", t, *new(T), payload)
				return false
			}
			evt := &Event[T]{Type: t, Payload: typed}
			if opts.IsBlocking {
				ch <- evt
				return true
			}
			select {
			case ch <- evt:
				return true
			default:
				return false
			}
		},
		teardown: func() { close(ch) },
	}

	if c.registry[eventType] == nil {
		c.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	c.registry[eventType][id] = sub
	return id
}

// Unsubscribe removes and tears down a subscription.
func (c *Client) Unsubscribe(eventType EventType, id SubscriberID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs, ok := c.registry[eventType]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	sub.teardown()
	if len(subs) == 0 {
		delete(c.registry, eventType)
	}
}

// Publish broadcasts event to every current subscriber of its type.
func Publish[T any](c *Client, event *Event[T]) {
	// Holding the read lock across the send prevents a shutdown from
	// closing c.inbox between the closed-check and the send: a shutdown
	// needs the write lock, which cannot be acquired while any RLock is
	// outstanding.
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed.Load() {
		log.Printf("[pubsub] dropping %v: client is shut down", event.Type)
		return
	}
	c.inbox <- published{eventType: event.Type, payload: event.Payload}
}

// Shutdown stops accepting new publishes, drains what's already queued, and
// waits for the dispatch loop to exit.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed.Store(true)
	close(c.inbox)
	c.mu.Unlock()

	c.wg.Wait()
}

// DroppedCount reports how many non-blocking deliveries have been dropped
// across all subscribers of eventType, useful for an operator dashboard.
func (c *Client) DroppedCount(eventType EventType) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total uint64
	for _, sub := range c.registry[eventType] {
		total += atomic.LoadUint64(&sub.numDropped)
	}
	return total
}

func (c *Client) loop() {
	defer c.wg.Done()

	for msg := range c.inbox {
		c.mu.RLock()
		for id, sub := range c.registry[msg.eventType] {
			if !sub.dispatch(msg.eventType, msg.payload) && !sub.opts.IsBlocking {
				atomic.AddUint64(&sub.numDropped, 1)
				log.Printf("[pubsub] dropped %v for subscriber %d (channel full)", msg.eventType, id)
			}
		}
		c.mu.RUnlock()
	}
}
