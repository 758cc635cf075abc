package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/booking"
	"trip_booking/helper"
	"trip_booking/model"
	"trip_booking/notify"
	"trip_booking/seatlock"
)

const DefaultHoldTTL = 15 * time.Minute

// Settler owns the HELD -> PENDING -> PAID | PAYMENT_FAILED transitions.
type Settler struct {
	db       *gorm.DB
	locks    *seatlock.Manager
	provider Provider
	notifier notify.Notifier
	clock    clockwork.Clock
	log      *logrus.Entry
	holdTTL  time.Duration
	sending  sync.WaitGroup
}

func NewSettler(db *gorm.DB, locks *seatlock.Manager, provider Provider, notifier notify.Notifier,
	log *logrus.Entry, holdTTL time.Duration) *Settler {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Settler{
		db:       db,
		locks:    locks,
		provider: provider,
		notifier: notifier,
		clock:    locks.Clock(),
		log:      log,
		holdTTL:  holdTTL,
	}
}

// Outcome reports what a notification did. Duplicate is true when the
// booking had already reached the notified state and nothing changed.
type Outcome struct {
	Booking   model.Booking
	Duplicate bool
}

// InitiatePayment moves the holder's HELD booking to PENDING, stretches its
// hold and returns the provider session the buyer is redirected to.
func (s *Settler) InitiatePayment(ctx context.Context, code, holderId, clientIP string) (Session, error) {
	current, err := booking.FindByCode(s.db.WithContext(ctx), code)
	if err != nil {
		return Session{}, wrap(err)
	}
	if current.HolderId != holderId {
		return Session{}, fmt.Errorf("%w: booking %s belongs to someone else", model.ErrForbidden, code)
	}

	unlock := s.locks.LockBooking(current.ID)
	defer unlock()

	now := s.clock.Now().UTC()
	session, err := s.provider.CreateSession(ctx, SessionRequest{
		OrderRef:  current.PublicCode,
		Amount:    current.TotalAmount,
		OrderInfo: "Thanh toan ve " + current.PublicCode,
		ClientIP:  clientIP,
		CreatedAt: now,
		ExpiresAt: now.Add(s.holdTTL),
	})
	if err != nil {
		return Session{}, wrap(err)
	}

	err = s.locks.WithSeats(ctx, current.SeatIds(), func(tx *gorm.DB, b *seatlock.Batch) error {
		fresh, err := booking.LoadForUpdate(tx, current.ID)
		if err != nil {
			return err
		}
		if fresh.Status != model.BookingHeld {
			return fmt.Errorf("%w: booking %s is %s", model.ErrConflict, code, fresh.Status)
		}
		if !fresh.HoldExpiresAt.After(b.Now()) {
			return fmt.Errorf("%w: booking %s hold has expired", model.ErrConflict, code)
		}

		var seats []model.TripSeat
		if err := tx.Where("id IN ?", fresh.SeatIds()).Find(&seats).Error; err != nil {
			return err
		}
		for _, seat := range seats {
			if !seat.LockedBy(fresh.HolderId, b.Now()) {
				return fmt.Errorf("%w: seat %s is no longer held by you", model.ErrConflict, seat.SeatNumber)
			}
		}

		hold := session.ExpiresAt
		if fresh.HoldExpiresAt.After(hold) {
			hold = fresh.HoldExpiresAt
		}
		res := tx.Model(&model.Booking{}).
			Where("id = ? AND status = ?", fresh.ID, model.BookingHeld).
			Updates(map[string]any{
				"status":          model.BookingPending,
				"hold_expires_at": hold,
				"payment_method":  "VNPAY",
				"updated_at":      b.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: booking %s changed concurrently", model.ErrConflict, code)
		}

		if err := tx.Create(&model.Payment{
			DTO:         model.DTO{CreatedAt: b.Now(), UpdatedAt: b.Now()},
			BookingId:   fresh.ID,
			Amount:      fresh.TotalAmount,
			PaymentCode: fresh.PublicCode,
			Status:      model.PaymentPending,
			Method:      "VNPAY",
		}).Error; err != nil {
			return err
		}
		return booking.ExtendHold(tx, b, fresh.HolderId, fresh.SeatIds(), hold)
	})
	if err != nil {
		return Session{}, wrap(err)
	}

	s.log.WithFields(logrus.Fields{"booking": code, "holder": holderId}).Info("payment initiated")
	return session, nil
}

// HandleOutcomeNotification applies a provider outcome exactly once. It is
// safe to call again with the same notification, and a late failure never
// frees seats that a success already booked.
func (s *Settler) HandleOutcomeNotification(ctx context.Context, n model.PaymentNotification) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithFields(logrus.Fields{"booking": n.OrderRef, "response_code": n.ResponseCode})

	if err := s.provider.Verify(n); err != nil {
		log.WithError(err).Warn("rejected unverified payment notification")
		return Outcome{}, err
	}

	current, err := booking.FindByCode(s.db.WithContext(ctx), n.OrderRef)
	if err != nil {
		log.WithError(err).Warn("payment notification for unknown booking")
		return Outcome{}, wrap(err)
	}

	unlock := s.locks.LockBooking(current.ID)
	defer unlock()

	var out Outcome
	err = s.locks.WithSeats(ctx, current.SeatIds(), func(tx *gorm.DB, b *seatlock.Batch) error {
		fresh, err := booking.LoadForUpdate(tx, current.ID)
		if err != nil {
			return err
		}
		out.Booking = fresh

		switch {
		case fresh.Status == model.BookingPaid:
			out.Duplicate = true
			return nil
		case fresh.Status == model.BookingPaymentFailed && !n.Succeeded():
			out.Duplicate = true
			return nil
		case fresh.Status != model.BookingPending:
			return fmt.Errorf("%w: booking %s is %s", model.ErrConflict, fresh.PublicCode, fresh.Status)
		}
		if n.Amount != fresh.TotalAmount {
			return fmt.Errorf("%w: amount %d does not match booking total %d", model.ErrBadRequest, n.Amount, fresh.TotalAmount)
		}

		if n.Succeeded() {
			err = s.settlePaid(tx, b, &fresh, n)
		} else {
			err = s.settleFailed(tx, b, &fresh, n)
		}
		out.Booking = fresh
		return err
	})
	if err != nil {
		log.WithError(err).Warn("payment notification rejected")
		return Outcome{}, wrap(err)
	}

	if out.Duplicate {
		log.Info("duplicate payment notification ignored")
		return out, nil
	}
	log.WithField("status", out.Booking.Status).Info("payment settled")
	if out.Booking.Status == model.BookingPaid {
		s.notifyPaid(ctx, out.Booking, log)
	}
	return out, nil
}

// notifyPaid sends the paid notice off the request path; the provider must
// get its acknowledgement without waiting on SMTP or the broker.
func (s *Settler) notifyPaid(ctx context.Context, bk model.Booking, log *logrus.Entry) {
	s.sending.Add(1)
	go func() {
		defer s.sending.Done()
		if err := s.notifier.BookingPaid(ctx, bk); err != nil {
			log.WithError(err).Warn("booking paid notification failed")
		}
	}()
}

// Wait blocks until every paid notice already dispatched has been sent.
func (s *Settler) Wait() {
	s.sending.Wait()
}

func (s *Settler) settlePaid(tx *gorm.DB, b *seatlock.Batch, bk *model.Booking, n model.PaymentNotification) error {
	now := b.Now()
	var seats []model.TripSeat
	if err := seatlock.ForUpdate(tx).Where("id IN ?", bk.SeatIds()).Order("id").Find(&seats).Error; err != nil {
		return err
	}
	if len(seats) != len(bk.Tickets) {
		return fmt.Errorf("%w: booking %s references missing seats", model.ErrConflict, bk.PublicCode)
	}
	for _, seat := range seats {
		owned := seat.HeldBy == bk.HolderId &&
			(seat.Status == model.SeatLocked || seat.Status == model.SeatBooked)
		if !owned {
			return fmt.Errorf("%w: seat %s is no longer reserved for booking %s", model.ErrConflict, seat.SeatNumber, bk.PublicCode)
		}
	}

	res := tx.Model(&model.Booking{}).
		Where("id = ? AND status = ?", bk.ID, model.BookingPending).
		Updates(map[string]any{"status": model.BookingPaid, "paid_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: booking %s changed concurrently", model.ErrConflict, bk.PublicCode)
	}
	if err := tx.Model(&model.Ticket{}).
		Where("booking_id = ? AND status = ?", bk.ID, model.TicketUnconfirmed).
		Update("status", model.TicketConfirmed).Error; err != nil {
		return err
	}

	for _, seat := range seats {
		if seat.Status == model.SeatBooked {
			continue
		}
		res := tx.Model(&model.TripSeat{}).
			Where("id = ? AND status = ? AND held_by = ?", seat.ID, model.SeatLocked, bk.HolderId).
			Updates(map[string]any{"status": model.SeatBooked, "expired_at": nil, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: seat %s changed concurrently", model.ErrConflict, seat.SeatNumber)
		}
		seat.Status = model.SeatBooked
		seat.ExpiredAt = nil
		b.Add(model.EventSeatBooked, seat)
	}

	if err := s.closePayment(tx, bk, model.PaymentPaid, n); err != nil {
		return err
	}

	bk.Status = model.BookingPaid
	bk.PaidAt = &now
	for i := range bk.Tickets {
		if bk.Tickets[i].Status == model.TicketUnconfirmed {
			bk.Tickets[i].Status = model.TicketConfirmed
		}
	}
	return nil
}

func (s *Settler) settleFailed(tx *gorm.DB, b *seatlock.Batch, bk *model.Booking, n model.PaymentNotification) error {
	if err := booking.Close(tx, b, bk, model.BookingPaymentFailed, model.EventSeatUnlocked); err != nil {
		return err
	}
	return s.closePayment(tx, bk, model.PaymentFailed, n)
}

func (s *Settler) closePayment(tx *gorm.DB, bk *model.Booking, status string, n model.PaymentNotification) error {
	return tx.Model(&model.Payment{}).
		Where("booking_id = ? AND status = ?", bk.ID, model.PaymentPending).
		Updates(map[string]any{
			"status":         status,
			"transaction_no": n.TransactionNo,
			"response_code":  n.ResponseCode,
		}).Error
}

// Reconcile asks the provider about PENDING payments older than olderThan
// and settles the ones that have a final outcome. Errors are logged per
// payment and do not stop the pass.
func (s *Settler) Reconcile(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Joins("JOIN bookings ON bookings.id = payments.booking_id").
		Where("payments.status = ? AND bookings.status = ? AND payments.created_at <= ?",
			model.PaymentPending, model.BookingPending, cutoff).
		Order("payments.id").
		Find(&payments).Error
	if err != nil {
		return 0, wrap(err)
	}

	settled := 0
	var errs []error
	for _, p := range payments {
		n, err := s.provider.QueryStatus(ctx, QueryRequest{
			OrderRef:        p.PaymentCode,
			RequestID:       helper.RequestID(),
			TransactionDate: p.CreatedAt,
		})
		if errors.Is(err, ErrPending) {
			continue
		}
		if err != nil {
			s.log.WithError(err).WithField("booking", p.PaymentCode).Warn("query payment status")
			errs = append(errs, err)
			continue
		}
		n.Verified = true
		out, err := s.HandleOutcomeNotification(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !out.Duplicate {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

func wrap(err error) error {
	for _, known := range []error{model.ErrNotFound, model.ErrConflict, model.ErrForbidden,
		model.ErrBadRequest, model.ErrUnverified, model.ErrInternal} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", model.ErrInternal, err)
}
