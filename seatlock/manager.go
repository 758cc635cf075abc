// Package seatlock owns every lock, unlock and expiry transition of a trip seat.
package seatlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trip_booking/model"
	"trip_booking/realtime"
	"trip_booking/utils"
)

const (
	DefaultTTL               = 10 * time.Minute
	DefaultMaxSeatsPerHolder = 8
)

type Options struct {
	TTL               time.Duration
	MaxSeatsPerHolder int
}

// Manager serializes seat mutations with a per-seat mutex held around a
// database transaction, and publishes the resulting events after commit
// while the mutex is still held.
type Manager struct {
	db       *gorm.DB
	pub      realtime.Publisher
	clock    clockwork.Clock
	log      *logrus.Entry
	seats    *utils.KeyedMutex[uint]
	bookings *utils.KeyedMutex[uint]
	opts     Options
}

func NewManager(db *gorm.DB, pub realtime.Publisher, clock clockwork.Clock, log *logrus.Entry, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSeatsPerHolder <= 0 {
		opts.MaxSeatsPerHolder = DefaultMaxSeatsPerHolder
	}
	return &Manager{
		db:       db,
		pub:      pub,
		clock:    clock,
		log:      log,
		seats:    utils.NewKeyedMutex[uint](),
		bookings: utils.NewKeyedMutex[uint](),
		opts:     opts,
	}
}

func (m *Manager) Clock() clockwork.Clock { return m.clock }

// Batch collects the events of one transaction.
type Batch struct {
	now    time.Time
	events []model.SeatEvent
}

func (b *Batch) Now() time.Time { return b.now }

func (b *Batch) Add(kind string, seat model.TripSeat) {
	b.events = append(b.events, model.NewSeatEvent(kind, seat, b.now))
}

func (b *Batch) Events() []model.SeatEvent { return b.events }

// WithSeats locks seatIDs in ascending order, runs fn in a transaction and,
// once it commits, publishes the batch before releasing the seats.
func (m *Manager) WithSeats(ctx context.Context, seatIDs []uint, fn func(tx *gorm.DB, b *Batch) error) error {
	unlock := utils.LockAll(m.seats, seatIDs)
	defer unlock()

	b := &Batch{now: m.clock.Now().UTC()}
	if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, b)
	}); err != nil {
		return err
	}
	m.flush(ctx, b)
	return nil
}

// LockBooking serializes work on one booking; it is always taken before any seat.
func (m *Manager) LockBooking(bookingId uint) func() {
	m.bookings.Lock(bookingId)
	return func() { m.bookings.Unlock(bookingId) }
}

func (m *Manager) flush(ctx context.Context, b *Batch) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range b.events {
		if err := m.pub.Publish(ctx, ev); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"trip_id": ev.TripId, "seat_id": ev.SeatId, "event": ev.Type,
			}).Warn("publish seat event")
		}
	}
}

// ForUpdate reads rows with an exclusive row lock where the dialect supports it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func internal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) ||
		errors.Is(err, model.ErrForbidden) || errors.Is(err, model.ErrBadRequest) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrInternal, err)
}

func loadSeat(tx *gorm.DB, tripId, seatId uint) (model.Trip, model.TripSeat, error) {
	var trip model.Trip
	var seat model.TripSeat
	if err := tx.First(&trip, tripId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return trip, seat, fmt.Errorf("%w: trip %d", model.ErrNotFound, tripId)
		}
		return trip, seat, err
	}
	if err := ForUpdate(tx).First(&seat, seatId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return trip, seat, fmt.Errorf("%w: seat %d", model.ErrNotFound, seatId)
		}
		return trip, seat, err
	}
	if seat.TripId != tripId {
		return trip, seat, fmt.Errorf("%w: seat %d is not on trip %d", model.ErrBadRequest, seatId, tripId)
	}
	return trip, seat, nil
}

// PinnedSeats returns the seats among ids that belong to a live HELD or
// PENDING booking of the seat's current holder. A booking whose hold has run
// out no longer pins a seat someone else has since locked.
func PinnedSeats(tx *gorm.DB, ids []uint, now time.Time) (map[uint]bool, error) {
	pinned := make(map[uint]bool)
	if len(ids) == 0 {
		return pinned, nil
	}
	var seatIds []uint
	err := tx.Model(&model.Ticket{}).
		Joins("JOIN bookings ON bookings.id = tickets.booking_id").
		Joins("JOIN trip_seats ON trip_seats.id = tickets.trip_seat_id AND trip_seats.held_by = bookings.holder_id").
		Where("tickets.trip_seat_id IN ? AND bookings.status IN ? AND bookings.hold_expires_at > ?",
			ids, model.ActiveBookingStatuses, now).
		Pluck("tickets.trip_seat_id", &seatIds).Error
	if err != nil {
		return nil, err
	}
	for _, id := range seatIds {
		pinned[id] = true
	}
	return pinned, nil
}

// casUpdate applies values only while the seat still has the status and
// holder it was read with.
func casUpdate(tx *gorm.DB, seat model.TripSeat, values map[string]any) (bool, error) {
	res := tx.Model(&model.TripSeat{}).
		Where("id = ? AND status = ? AND held_by = ?", seat.ID, seat.Status, seat.HeldBy).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func reload(tx *gorm.DB, id uint) (model.TripSeat, error) {
	var seat model.TripSeat
	err := tx.First(&seat, id).Error
	return seat, err
}

func availableValues(now time.Time) map[string]any {
	return map[string]any{
		"status":     model.SeatAvailable,
		"held_by":    "",
		"expired_at": nil,
		"updated_at": now,
	}
}
