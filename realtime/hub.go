// Package realtime fans seat events out to the viewers of a trip.
package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"trip_booking/model"
)

// Publisher delivers one seat event to the trip's topic.
type Publisher interface {
	Publish(ctx context.Context, ev model.SeatEvent) error
}

const DefaultBuffer = 64

// Hub keeps the in-process subscribers of every trip topic. Publish is
// synchronous and never reorders: a subscriber that cannot keep up is
// closed and must re-subscribe and fetch the seat map again.
type Hub struct {
	mu     sync.Mutex
	topics map[uint]map[*Subscription]struct{}
	buffer int
	log    *logrus.Entry
}

type Subscription struct {
	TripId uint
	ch     chan model.SeatEvent
	hub    *Hub
	closed bool
}

func NewHub(buffer int, log *logrus.Entry) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[uint]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

func (h *Hub) Subscribe(tripId uint) *Subscription {
	sub := &Subscription{TripId: tripId, ch: make(chan model.SeatEvent, h.buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[tripId] == nil {
		h.topics[tripId] = make(map[*Subscription]struct{})
	}
	h.topics[tripId][sub] = struct{}{}
	return sub
}

// Events is closed when the subscription ends, either by Close or because
// the subscriber fell behind.
func (s *Subscription) Events() <-chan model.SeatEvent {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.remove(s)
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if subs := h.topics[s.TripId]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, s.TripId)
		}
	}
}

func (h *Hub) Publish(_ context.Context, ev model.SeatEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.topics[ev.TripId] {
		select {
		case sub.ch <- ev:
		default:
			h.log.WithFields(logrus.Fields{"trip_id": ev.TripId, "seat_id": ev.SeatId}).
				Warn("subscriber too slow, closing")
			h.remove(sub)
		}
	}
	return nil
}

// Subscribers reports the live subscriptions of a trip.
func (h *Hub) Subscribers(tripId uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[tripId])
}
