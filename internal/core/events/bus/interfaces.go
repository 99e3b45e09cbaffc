package bus

import "time"

// KindAny subscribes a handler to every event regardless of kind.
const KindAny = "*"

// Bus defines a thread-safe, in-process pub/sub fan-out for simulation
// notifications.
//
// Key characteristics:
// - Kind-based routing: handlers subscribe by Event.Kind() string.
// - Synchronous delivery: Publish calls handler callbacks in the caller goroutine,
//   so handlers must return quickly or hand work off to their own goroutine.
// - Error aggregation: multiple handler errors are joined and returned from Publish.
//
// All methods must be safe for concurrent use.
type Bus interface {
	// Publish delivers the event synchronously to all active subscribers of
	// event.Kind() plus all KindAny subscribers. If one or more handlers return
	// an error, a joined error is returned.
	Publish(event Event) error
	// PublishBatch publishes a set of events sequentially and aggregates errors
	// across them.
	PublishBatch(events ...Event) error

	// Subscribe registers a handler for a specific event kind and returns a
	// Subscription handle that can be used to cancel later.
	Subscribe(kind string, handler Handler) (Subscription, error)
	// SubscribeAll registers a handler for every event kind.
	SubscribeAll(handler Handler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// Metrics returns a snapshot of accumulated delivery counters.
	Metrics() Metrics
}

// Event is an immutable message transported by the Bus. Implementations should
// treat Event values as read-only.
type Event interface {
	Kind() string
	Source() string
	Timestamp() time.Time
}

// Handler is a user callback invoked per delivered event. If it returns an
// error, Publish aggregates and returns it.
type Handler func(event Event) error

// Subscription represents a registered handler bound to an event kind.
// Use Cancel or Bus.Unsubscribe to stop receiving events.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// Kind returns the event kind this subscription listens to.
	Kind() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// Metrics is a minimal set of delivery counters.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
