package seatlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/model"
)

type matchFunc func(seat model.TripSeat, now time.Time) bool

// ReleaseExpired frees every LOCKED seat whose deadline has passed. Each
// seat is re-checked under its mutex before the write, so a lock renewed
// in the meantime survives. A failing seat does not stop the pass.
func (m *Manager) ReleaseExpired(ctx context.Context) (int, error) {
	now := m.clock.Now().UTC()
	var ids []uint
	err := m.db.WithContext(ctx).Model(&model.TripSeat{}).
		Where("status = ? AND (expired_at IS NULL OR expired_at <= ?)", model.SeatLocked, now).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, internal(err)
	}

	expired := func(seat model.TripSeat, now time.Time) bool { return seat.LockExpired(now) }
	return m.releaseEach(ctx, ids, expired, model.EventSeatExpired, false)
}

// ReleaseAllHeldBy frees every seat the holder has locked, except seats
// that already belong to an unpaid booking.
func (m *Manager) ReleaseAllHeldBy(ctx context.Context, holder string) (int, error) {
	var ids []uint
	err := m.db.WithContext(ctx).Model(&model.TripSeat{}).
		Where("status = ? AND held_by = ?", model.SeatLocked, holder).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, internal(err)
	}
	return m.releaseEach(ctx, ids, heldBy(holder), model.EventSeatUnlocked, true)
}

// ReleaseSeats frees the listed seats that are still locked by holder. It is
// what a closed connection triggers for the seats it locked.
func (m *Manager) ReleaseSeats(ctx context.Context, holder string, seatIDs []uint) (int, error) {
	return m.releaseEach(ctx, seatIDs, heldBy(holder), model.EventSeatUnlocked, true)
}

func heldBy(holder string) matchFunc {
	return func(seat model.TripSeat, _ time.Time) bool {
		return seat.Status == model.SeatLocked && seat.HeldBy == holder
	}
}

func (m *Manager) releaseEach(ctx context.Context, ids []uint, match matchFunc, kind string, skipPinned bool) (int, error) {
	released := 0
	var errs []error
	for _, id := range ids {
		ok, err := m.releaseOne(ctx, id, match, kind, skipPinned)
		if err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{"seat_id": id, "event": kind}).Error("release seat")
			errs = append(errs, fmt.Errorf("seat %d: %w", id, err))
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		m.log.WithFields(logrus.Fields{"released": released, "event": kind}).Info("seats released")
	}
	return released, internal(errors.Join(errs...))
}

func (m *Manager) releaseOne(ctx context.Context, seatId uint, match matchFunc, kind string, skipPinned bool) (bool, error) {
	released := false
	err := m.WithSeats(ctx, []uint{seatId}, func(tx *gorm.DB, b *Batch) error {
		var seat model.TripSeat
		if err := ForUpdate(tx).First(&seat, seatId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !match(seat, b.Now()) {
			return nil
		}
		if skipPinned {
			pinned, err := PinnedSeats(tx, []uint{seat.ID}, b.Now())
			if err != nil {
				return err
			}
			if pinned[seat.ID] {
				return nil
			}
		}

		ok, err := casUpdate(tx, seat, availableValues(b.Now()))
		if err != nil || !ok {
			return err
		}
		freed, err := reload(tx, seat.ID)
		if err != nil {
			return err
		}
		b.Add(kind, freed)
		released = true
		return nil
	})
	return released, err
}

// Release frees, inside an open WithSeats transaction, the seats among ids
// that are still LOCKED by holder. BOOKED seats are never touched.
func Release(tx *gorm.DB, b *Batch, holder string, ids []uint, kind string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var seats []model.TripSeat
	if err := ForUpdate(tx).Where("id IN ?", ids).Order("id").Find(&seats).Error; err != nil {
		return 0, err
	}
	released := 0
	for _, seat := range seats {
		if seat.Status != model.SeatLocked || seat.HeldBy != holder {
			continue
		}
		ok, err := casUpdate(tx, seat, availableValues(b.Now()))
		if err != nil {
			return released, err
		}
		if !ok {
			continue
		}
		freed, err := reload(tx, seat.ID)
		if err != nil {
			return released, err
		}
		b.Add(kind, freed)
		released++
	}
	return released, nil
}

// ExtendLocks pushes the lock deadline of holder's seats to at least until,
// so the seat sweep cannot free seats an unpaid booking still owns.
func ExtendLocks(tx *gorm.DB, holder string, ids []uint, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&model.TripSeat{}).
		Where("id IN ? AND status = ? AND held_by = ? AND expired_at < ?", ids, model.SeatLocked, holder, until).
		Update("expired_at", until).Error
}
