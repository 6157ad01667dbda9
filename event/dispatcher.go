// Package event provides the typed publish/subscribe mechanism used to
// notify alarm session subscribers.
package event

import (
	"fmt"
	"sync"

	"github.com/nutechsoftware/alarmdecoder/internal/log"
)

// Topic names an event stream a subscriber can attach to.
type Topic string

const (
	// TopicMessage delivers every decoded *protocol.Message.
	TopicMessage Topic = "message"
	// TopicZoneFault and TopicZoneRestore deliver zonetracker.Zone snapshots.
	TopicZoneFault   Topic = "zone_fault"
	TopicZoneRestore Topic = "zone_restore"
	// TopicPanelState delivers an alarmdecoder.PanelState snapshot whenever
	// top-level panel state changes.
	TopicPanelState Topic = "panel_state"
	// TopicOpen and TopicClose bracket the transport's lifetime. TopicClose
	// carries the terminal error, or nil on a clean close.
	TopicOpen  Topic = "transport_open"
	TopicClose Topic = "transport_close"
	// TopicDecodeError delivers *alarmdecoder.DecodeError for lines that
	// could not be classified or framed.
	TopicDecodeError Topic = "decode_error"
	// TopicHandlerError delivers *HandlerError when a subscriber panics.
	TopicHandlerError Topic = "handler_error"
)

// Handler receives published events. Handlers run inline on the publishing
// goroutine, in subscription order; they must not block.
type Handler func(topic Topic, payload interface{})

// HandlerError is the payload delivered on TopicHandlerError when a
// subscriber callback panics.
type HandlerError struct {
	Topic     Topic
	Recovered interface{}
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("event: handler for %q panicked: %v", e.Topic, e.Recovered)
}

// Subscription is the handle returned by Subscribe, used for removal.
type Subscription struct {
	d     *Dispatcher
	topic Topic
	id    uint64
}

// Cancel removes the subscription. Safe to call more than once and from any
// goroutine.
func (s *Subscription) Cancel() {
	if s != nil && s.d != nil {
		s.d.unsubscribe(s)
	}
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Dispatcher routes published payloads to topic subscribers. Publish runs
// handlers synchronously so a state mutation and its notification keep a
// deterministic order; subscribe and unsubscribe are safe from any
// goroutine. A panicking handler is contained and reported on
// TopicHandlerError instead of propagating into the read loop.
type Dispatcher struct {
	log *log.Logger

	mu   sync.RWMutex
	subs map[Topic][]subscriber
	next uint64
}

// NewDispatcher creates a dispatcher. A nil logger disables logging.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		log:  logger,
		subs: make(map[Topic][]subscriber),
	}
}

// Subscribe registers a handler for a topic and returns its removal handle.
func (d *Dispatcher) Subscribe(topic Topic, h Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.subs[topic] = append(d.subs[topic], subscriber{id: d.next, handler: h})

	return &Subscription{d: d, topic: topic, id: d.next}
}

func (d *Dispatcher) unsubscribe(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subs[s.topic]
	for i := range list {
		if list[i].id == s.id {
			d.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every handler subscribed to topic, in
// subscription order, on the calling goroutine.
func (d *Dispatcher) Publish(topic Topic, payload interface{}) {
	d.mu.RLock()
	list := d.subs[topic]
	handlers := make([]Handler, len(list))
	for i := range list {
		handlers[i] = list[i].handler
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		d.dispatch(topic, payload, h)
	}
}

func (d *Dispatcher) dispatch(topic Topic, payload interface{}, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			herr := &HandlerError{Topic: topic, Recovered: r}
			d.log.Error("%v", herr)

			// Never recurse: a panic out of a handler-error handler is only
			// logged.
			if topic != TopicHandlerError {
				d.Publish(TopicHandlerError, herr)
			}
		}
	}()

	h(topic, payload)
}
