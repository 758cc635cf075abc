// Package booking turns held seats into bookings and runs the booking
// lifecycle that does not depend on a payment outcome.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/helper"
	"trip_booking/model"
	"trip_booking/seatlock"
	"trip_booking/utils"
)

const DefaultHoldTTL = 15 * time.Minute

type Confirmer struct {
	db      *gorm.DB
	locks   *seatlock.Manager
	clock   clockwork.Clock
	log     *logrus.Entry
	holdTTL time.Duration
}

func NewConfirmer(db *gorm.DB, locks *seatlock.Manager, log *logrus.Entry, holdTTL time.Duration) *Confirmer {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &Confirmer{db: db, locks: locks, clock: locks.Clock(), log: log, holdTTL: holdTTL}
}

type ConfirmInput struct {
	TripId   uint
	SeatIds  []uint
	HolderId string
	Buyer    model.BuyerInfo
}

// Confirm creates a HELD booking with one UNCONFIRMED ticket per seat. Every
// seat must be locked by the holder; otherwise nothing is written. Seats
// stay LOCKED and their lock is stretched to the booking's hold deadline.
func (c *Confirmer) Confirm(ctx context.Context, in ConfirmInput) (model.Booking, error) {
	ids := utils.SortedUnique(in.SeatIds)
	if len(ids) == 0 || len(ids) != len(in.SeatIds) {
		return model.Booking{}, fmt.Errorf("%w: seat ids must be non-empty and distinct", model.ErrBadRequest)
	}
	if in.HolderId == "" {
		return model.Booking{}, fmt.Errorf("%w: holder is required", model.ErrBadRequest)
	}

	var booking model.Booking
	err := c.locks.WithSeats(ctx, ids, func(tx *gorm.DB, b *seatlock.Batch) error {
		now := b.Now()

		var seats []model.TripSeat
		if err := seatlock.ForUpdate(tx).Where("id IN ?", ids).Order("id").Find(&seats).Error; err != nil {
			return err
		}
		found := make(map[uint]model.TripSeat, len(seats))
		for _, s := range seats {
			found[s.ID] = s
		}
		for _, id := range ids {
			seat, ok := found[id]
			if !ok {
				return fmt.Errorf("%w: seat %d", model.ErrNotFound, id)
			}
			if seat.TripId != in.TripId {
				return fmt.Errorf("%w: seat %d is not on trip %d", model.ErrBadRequest, id, in.TripId)
			}
		}
		for _, seat := range seats {
			if !seat.LockedBy(in.HolderId, now) {
				return fmt.Errorf("%w: seat %s is no longer held by you", model.ErrConflict, seat.SeatNumber)
			}
		}

		pinned, err := seatlock.PinnedSeats(tx, ids, now)
		if err != nil {
			return err
		}
		var total int64
		tickets := make([]model.Ticket, 0, len(seats))
		for _, seat := range seats {
			if pinned[seat.ID] {
				return fmt.Errorf("%w: seat %s already belongs to a booking", model.ErrConflict, seat.SeatNumber)
			}
			total += seat.Price
			tickets = append(tickets, model.Ticket{
				TicketCode: helper.TicketCode(),
				TripSeatId: seat.ID,
				TripId:     seat.TripId,
				Price:      seat.Price,
				Status:     model.TicketUnconfirmed,
			})
		}

		booking = model.Booking{
			DTO:           model.DTO{CreatedAt: now, UpdatedAt: now},
			PublicCode:    helper.BookingCode(),
			TripId:        in.TripId,
			HolderId:      in.HolderId,
			TotalAmount:   total,
			Status:        model.BookingHeld,
			HoldExpiresAt: now.Add(c.holdTTL),
			Tickets:       tickets,
		}
		if err := copier.Copy(&booking, &in.Buyer); err != nil {
			return err
		}
		if err := tx.Create(&booking).Error; err != nil {
			return err
		}
		return ExtendHold(tx, b, in.HolderId, ids, booking.HoldExpiresAt)
	})
	if err != nil {
		return model.Booking{}, wrap(err)
	}

	c.log.WithFields(logrus.Fields{
		"booking": booking.PublicCode, "trip_id": booking.TripId, "holder": booking.HolderId, "seats": len(ids),
	}).Info("booking held")
	return booking, nil
}

// ExtendHold stretches the seat locks and tells viewers the new deadline.
func ExtendHold(tx *gorm.DB, b *seatlock.Batch, holder string, ids []uint, until time.Time) error {
	if err := seatlock.ExtendLocks(tx, holder, ids, until); err != nil {
		return err
	}
	var seats []model.TripSeat
	if err := tx.Where("id IN ?", ids).Order("id").Find(&seats).Error; err != nil {
		return err
	}
	for _, seat := range seats {
		b.Add(model.EventSeatLocked, seat)
	}
	return nil
}

// Get loads a booking with its tickets by public code.
func (c *Confirmer) Get(ctx context.Context, code string) (model.Booking, error) {
	booking, err := FindByCode(c.db.WithContext(ctx), code)
	if err != nil {
		return booking, wrap(err)
	}
	return booking, nil
}

func FindByCode(tx *gorm.DB, code string) (model.Booking, error) {
	var booking model.Booking
	err := tx.Preload("Tickets", func(db *gorm.DB) *gorm.DB { return db.Order("trip_seat_id") }).
		Where("public_code = ?", code).
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking, fmt.Errorf("%w: booking %s", model.ErrNotFound, code)
	}
	return booking, err
}

func wrap(err error) error {
	for _, known := range []error{model.ErrNotFound, model.ErrConflict, model.ErrForbidden, model.ErrBadRequest} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", model.ErrInternal, err)
}
