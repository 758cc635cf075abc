package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/model"
	"trip_booking/seatlock"
)

// LoadForUpdate re-reads a booking and its tickets inside tx with a row lock.
func LoadForUpdate(tx *gorm.DB, id uint) (model.Booking, error) {
	var booking model.Booking
	err := seatlock.ForUpdate(tx).
		Preload("Tickets", func(db *gorm.DB) *gorm.DB { return db.Order("trip_seat_id") }).
		First(&booking, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
	}
	return booking, err
}

// Close moves an active booking to a terminal status, cancels its
// unconfirmed tickets and frees the seats the holder still has locked.
// Seats that are already BOOKED are left alone.
func Close(tx *gorm.DB, b *seatlock.Batch, booking *model.Booking, status, event string) error {
	now := b.Now()
	res := tx.Model(&model.Booking{}).
		Where("id = ? AND status = ?", booking.ID, booking.Status).
		Updates(map[string]any{"status": status, "closed_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: booking %s changed concurrently", model.ErrConflict, booking.PublicCode)
	}

	if err := tx.Model(&model.Ticket{}).
		Where("booking_id = ? AND status = ?", booking.ID, model.TicketUnconfirmed).
		Update("status", model.TicketCancelled).Error; err != nil {
		return err
	}
	if _, err := seatlock.Release(tx, b, booking.HolderId, booking.SeatIds(), event); err != nil {
		return err
	}

	booking.Status = status
	booking.ClosedAt = &now
	for i := range booking.Tickets {
		if booking.Tickets[i].Status == model.TicketUnconfirmed {
			booking.Tickets[i].Status = model.TicketCancelled
		}
	}
	return nil
}

// Cancel lets the holder abandon a HELD booking. Once payment has started
// the booking is PENDING and only the provider outcome or the hold expiry
// can close it. Cancelling an already cancelled booking returns it unchanged.
func (c *Confirmer) Cancel(ctx context.Context, code, holderId string) (model.Booking, error) {
	booking, err := c.Get(ctx, code)
	if err != nil {
		return model.Booking{}, wrap(err)
	}
	if booking.HolderId != holderId {
		return model.Booking{}, fmt.Errorf("%w: booking %s belongs to someone else", model.ErrForbidden, code)
	}

	unlock := c.locks.LockBooking(booking.ID)
	defer unlock()

	err = c.locks.WithSeats(ctx, booking.SeatIds(), func(tx *gorm.DB, b *seatlock.Batch) error {
		current, err := LoadForUpdate(tx, booking.ID)
		if err != nil {
			return err
		}
		switch {
		case current.Status == model.BookingCancelled:
			booking = current
			return nil
		case current.Status == model.BookingPending:
			return fmt.Errorf("%w: booking %s is awaiting its payment result", model.ErrConflict, code)
		case current.Status != model.BookingHeld:
			return fmt.Errorf("%w: booking %s is %s", model.ErrConflict, code, current.Status)
		}
		if err := Close(tx, b, &current, model.BookingCancelled, model.EventSeatUnlocked); err != nil {
			return err
		}
		booking = current
		return nil
	})
	if err != nil {
		return model.Booking{}, wrap(err)
	}

	c.log.WithFields(logrus.Fields{"booking": code, "holder": holderId}).Info("booking cancelled")
	return booking, nil
}

// ExpireStale closes every HELD or PENDING booking whose hold has run out.
// One failing booking does not stop the pass.
func (c *Confirmer) ExpireStale(ctx context.Context) (int, error) {
	now := c.clock.Now().UTC()
	var ids []uint
	if err := c.db.WithContext(ctx).Model(&model.Booking{}).
		Where("status IN ? AND hold_expires_at <= ?", model.ActiveBookingStatuses, now).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return 0, wrap(err)
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		ok, err := c.expireOne(ctx, id)
		if err != nil {
			c.log.WithError(err).WithField("booking_id", id).Error("expire booking")
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		c.log.WithField("expired", expired).Info("stale bookings expired")
	}
	return expired, errors.Join(errs...)
}

func (c *Confirmer) expireOne(ctx context.Context, id uint) (bool, error) {
	unlock := c.locks.LockBooking(id)
	defer unlock()

	var booking model.Booking
	if err := c.db.WithContext(ctx).Preload("Tickets").First(&booking, id).Error; err != nil {
		return false, err
	}

	expired := false
	err := c.locks.WithSeats(ctx, booking.SeatIds(), func(tx *gorm.DB, b *seatlock.Batch) error {
		current, err := LoadForUpdate(tx, id)
		if err != nil {
			return err
		}
		if !current.Active() || current.HoldExpiresAt.After(b.Now()) {
			return nil
		}
		if err := Close(tx, b, &current, model.BookingExpired, model.EventSeatExpired); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

// Archive marks closed bookings older than retention as ARCHIVED.
func (c *Confirmer) Archive(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := c.clock.Now().UTC().Add(-retention)
	res := c.db.WithContext(ctx).Model(&model.Booking{}).
		Where("status IN ? AND closed_at <= ?", model.ClosedBookingStatuses, cutoff).
		Updates(map[string]any{"status": model.BookingArchived, "updated_at": c.clock.Now().UTC()})
	if res.Error != nil {
		return 0, wrap(res.Error)
	}
	if res.RowsAffected > 0 {
		c.log.WithField("archived", res.RowsAffected).Info("closed bookings archived")
	}
	return res.RowsAffected, nil
}
