// Package presence remembers which live connection locked which seats, so
// a dropped connection gives back exactly the seats it took.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

type Kind int

const (
	Connected Kind = iota + 1
	Locked
	Unlocked
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is one lifecycle signal from the transport.
type Event struct {
	Kind     Kind
	ConnID   string
	HolderID string
	TripID   uint
	SeatID   uint
}

// Sink accepts presence events.
type Sink interface {
	Emit(ev Event)
}

// Stream is a Sink backed by a channel that Tracker.Run drains.
type Stream chan Event

func (s Stream) Emit(ev Event) { s <- ev }

// Releaser frees seats still locked by holder.
type Releaser interface {
	ReleaseSeats(ctx context.Context, holder string, seatIDs []uint) (int, error)
}

type connection struct {
	holder string
	tripID uint
	seats  map[uint]struct{}
}

// Tracker is the ownership table conn -> seats. A seat is attributed to the
// connection that locked it last, so closing one tab never frees a seat the
// same holder re-locked from another tab.
type Tracker struct {
	mu       sync.Mutex
	conns    map[string]*connection
	owners   map[uint]string
	releaser Releaser
	log      *logrus.Entry
}

func NewTracker(releaser Releaser, log *logrus.Entry) *Tracker {
	return &Tracker{
		conns:    make(map[string]*connection),
		owners:   make(map[uint]string),
		releaser: releaser,
		log:      log,
	}
}

// Emit handles ev synchronously.
func (t *Tracker) Emit(ev Event) {
	_ = t.Handle(context.Background(), ev)
}

// Run consumes events until ctx is done or the stream is closed.
func (t *Tracker) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = t.Handle(ctx, ev)
		}
	}
}

func (t *Tracker) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Connected:
		t.mu.Lock()
		t.conn(ev)
		t.mu.Unlock()
	case Locked:
		t.mu.Lock()
		if prev, ok := t.owners[ev.SeatID]; ok && prev != ev.ConnID {
			if c := t.conns[prev]; c != nil {
				delete(c.seats, ev.SeatID)
			}
		}
		t.conn(ev).seats[ev.SeatID] = struct{}{}
		t.owners[ev.SeatID] = ev.ConnID
		t.mu.Unlock()
	case Unlocked:
		t.mu.Lock()
		if t.owners[ev.SeatID] == ev.ConnID {
			delete(t.owners, ev.SeatID)
			if c := t.conns[ev.ConnID]; c != nil {
				delete(c.seats, ev.SeatID)
			}
		}
		t.mu.Unlock()
	case Disconnected:
		return t.disconnect(ctx, ev.ConnID)
	}
	return nil
}

// conn must be called with t.mu held.
func (t *Tracker) conn(ev Event) *connection {
	c, ok := t.conns[ev.ConnID]
	if !ok {
		c = &connection{seats: make(map[uint]struct{})}
		t.conns[ev.ConnID] = c
	}
	if ev.HolderID != "" {
		c.holder = ev.HolderID
	}
	if ev.TripID != 0 {
		c.tripID = ev.TripID
	}
	return c
}

func (t *Tracker) disconnect(ctx context.Context, connID string) error {
	t.mu.Lock()
	c, ok := t.conns[connID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.conns, connID)
	seats := make([]uint, 0, len(c.seats))
	for id := range c.seats {
		if t.owners[id] == connID {
			delete(t.owners, id)
			seats = append(seats, id)
		}
	}
	t.mu.Unlock()

	if len(seats) == 0 {
		return nil
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i] < seats[j] })

	log := t.log.WithFields(logrus.Fields{"conn": connID, "holder": c.holder, "trip_id": c.tripID})
	released, err := t.releaser.ReleaseSeats(ctx, c.holder, seats)
	if err != nil {
		log.WithError(err).Error("release seats of closed connection")
		return err
	}
	log.WithField("released", released).Info("connection closed, seats released")
	return nil
}

// Seats lists the seats attributed to a connection.
func (t *Tracker) Seats(connID string) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[connID]
	if !ok {
		return nil
	}
	out := make([]uint, 0, len(c.seats))
	for id := range c.seats {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Tracker) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
