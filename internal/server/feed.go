package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// Hub fans simulation notifications out to feed subscribers. Each event is
// marshaled once and handed to every subscriber's buffer; a subscriber that
// cannot keep up loses frames rather than stalling the tick, since the bus
// delivers synchronously from the simulation goroutine.
type Hub struct {
	log    log.Log
	buffer int

	mu     sync.Mutex
	subs   map[uint64]chan []byte
	nextID uint64

	sub bus.Subscription

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub attaches a hub to the bus.
func NewHub(b bus.Bus, buffer int, lg log.Log) (*Hub, error) {
	h := &Hub{
		log:    lg,
		buffer: buffer,
		subs:   make(map[uint64]chan []byte),
	}
	sub, err := b.SubscribeAll(h.fanout)
	if err != nil {
		return nil, err
	}
	h.sub = sub
	return h, nil
}

func (h *Hub) fanout(event bus.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("feed frame marshal failed",
			log.String("kind", event.Kind()),
			log.Error(err),
		)
		return nil
	}

	h.mu.Lock()
	for _, ch := range h.subs {
		select {
		case ch <- frame:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.Unlock()
	return nil
}

// Subscribe registers a feed consumer. The returned cancel func must be
// called exactly once; after it returns the channel is closed.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports the current consumer count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// FeedStats summarizes hub delivery.
type FeedStats struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() FeedStats {
	return FeedStats{
		Subscribers: h.Subscribers(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close detaches from the bus and closes every subscriber channel.
func (h *Hub) Close() {
	if h.sub != nil {
		_ = h.sub.Cancel()
	}
	h.mu.Lock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}
