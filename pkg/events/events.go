package events

import (
	"slices"
	"sync"
	"time"

	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventEngineState  EventType = "engine.state"
	EventEngineFailed EventType = "engine.failed"
	EventCycleFailed  EventType = "cycle.failed"
	EventRolloverDone EventType = "rollover.done"
)

const (
	queueSize      = 100
	subscriberSize = 50
)

// Event is one lifecycle notification of a controller
type Event struct {
	ID         string
	Type       EventType
	Controller string
	Timestamp  time.Time
	Message    string
	Metadata   map[string]string
}

// Filter selects the events a subscriber receives. Empty lists match all.
type Filter struct {
	Controllers []string
	Types       []EventType
}

// Match reports whether ev passes the filter
func (f Filter) Match(ev *Event) bool {
	if len(f.Controllers) > 0 && !slices.Contains(f.Controllers, ev.Controller) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	return true
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans controller events out to filtered subscribers
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]Filter
	dropped     map[Subscriber]int

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]Filter),
		dropped:     make(map[Subscriber]int),
		eventCh:     make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Publish does not block after Stop.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving the events that match filter
func (b *Broker) Subscribe(filter Filter) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberSize)
	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		delete(b.dropped, sub)
		close(sub)
	}
}

// Publish queues an event for delivery
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, filter := range b.subscribers {
		if !filter.Match(event) {
			continue
		}
		select {
		case sub <- event:
		default:
			// A slow subscriber loses the event, the engine never waits
			b.dropped[sub]++
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// Dropped returns how many matching events sub missed because its buffer
// was full
func (b *Broker) Dropped(sub Subscriber) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[sub]
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
