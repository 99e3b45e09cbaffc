package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscription implements Subscription.
type subscription struct {
	id      string
	kind    string
	handler Handler
	active  atomic.Bool
	cancel  func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Kind() string   { return s.kind }
func (s *subscription) IsActive() bool { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus is a thread-safe implementation of Bus.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: kind -> subID -> subscription
	handlers map[string]map[string]*subscription
	metrics  Metrics
}

// New creates a new Bus instance.
func New() Bus {
	return &inMemoryBus{
		handlers: make(map[string]map[string]*subscription),
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	return b.deliver(event)
}

func (b *inMemoryBus) PublishBatch(events ...Event) error {
	var all error
	for _, e := range events {
		if err := b.deliver(e); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *inMemoryBus) Subscribe(kind string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, kind: kind, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if mm, ok := b.handlers[kind]; ok {
			delete(mm, id)
		}
	}
	b.handlers[kind][id] = s
	return s, nil
}

func (b *inMemoryBus) SubscribeAll(handler Handler) (Subscription, error) {
	return b.Subscribe(KindAny, handler)
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.metrics
	var subs uint64
	for _, mm := range b.handlers {
		subs += uint64(len(mm))
	}
	m.SubscribersActive = subs
	return m
}

func (b *inMemoryBus) deliver(event Event) error {
	kind := event.Kind()
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[kind])+len(b.handlers[KindAny]))
	for _, s := range b.handlers[kind] {
		subs = append(subs, s)
	}
	if kind != KindAny {
		for _, s := range b.handlers[KindAny] {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	var all error
	delivered := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		delivered++
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	b.mu.Lock()
	b.metrics.Published++
	b.metrics.DeliveredHandlers += uint64(delivered)
	if all != nil {
		b.metrics.Errors++
	}
	b.mu.Unlock()
	return all
}
