// Package events fans supervisor and OTP engine state changes out to any
// number of dashboard subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
)

const defaultQueueSize = 64

// Subscriber is one registered observer.
//
// Design notes:
// - C is intentionally NOT closed by the hub to keep concurrent publishes
//   panic-safe; consumers select on Done instead.
// - Close is idempotent.
type Subscriber struct {
	ID string
	C  chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Done returns a channel closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals consumers to stop (idempotent). It does not close C.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// SnapshotFunc produces the point-in-time view delivered on subscribe.
type SnapshotFunc func() v1.SnapshotPayload

// Hub is the broadcast fan-out primitive.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent Publish.
// - Publish never blocks: a slow subscriber's events are dropped, not queued
//   indefinitely, and never delay the others.
// - Per-subscriber delivery preserves publish order for events that are not
//   dropped.
type Hub struct {
	log      *slog.Logger
	snapshot SnapshotFunc
	queue    int

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewHub constructs a Hub. snapshot may be nil until SetSnapshotFunc is called.
func NewHub(log *slog.Logger, snapshot SnapshotFunc, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		log:      log,
		snapshot: snapshot,
		queue:    queueSize,
		subs:     make(map[string]*Subscriber),
	}
}

// SetSnapshotFunc installs the snapshot source. Must be called before the
// first Subscribe; wiring order in app guarantees this.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe registers a new subscriber and returns it together with the
// initial snapshot envelope. Registration happens before snapshot capture so
// no event published after the snapshot can be missed.
func (h *Hub) Subscribe() (*Subscriber, v1.Envelope) {
	sub := &Subscriber{
		ID:   uuid.NewString(),
		C:    make(chan v1.Envelope, h.queue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	fn := h.snapshot
	h.mu.Unlock()

	var snap v1.SnapshotPayload
	if fn != nil {
		snap = fn()
	}

	h.log.Info("events.subscribe", "subscriber_id", sub.ID, "state", snap.State)
	return sub, NewEnvelope(v1.TypeSnapshot, snap)
}

// Unsubscribe removes a subscriber. Idempotent; safe after disconnect.
func (h *Hub) Unsubscribe(id string) {
	if id == "" {
		return
	}

	h.mu.Lock()
	sub := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	// Signal shutdown after removal so no publisher still delivering holds
	// a reference to a half-torn-down subscriber.
	if sub != nil {
		sub.Close()
		h.log.Info("events.unsubscribe", "subscriber_id", id)
	}
}

// Publish fans an envelope out to every registered subscriber.
// Fire-and-forget: full queues and closing subscribers are skipped.
func (h *Hub) Publish(env v1.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub == nil {
			continue
		}

		select {
		case <-sub.Done():
			continue
		default:
		}

		select {
		case sub.C <- env:
		default:
			// Drop rather than block the whole broadcast.
			h.log.Debug("events.publish.drop", "subscriber_id", sub.ID, "type", env.Type)
		}
	}
}

// Count returns the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
