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

type LockRequest struct {
	TripId   uint
	SeatId   uint
	HolderId string
	TTL      time.Duration
}

type UnlockRequest struct {
	TripId   uint
	SeatId   uint
	HolderId string
}

// Lock claims a seat for the holder. A seat that is AVAILABLE, already
// locked by the same holder, or locked by someone whose lock has lapsed can
// be taken; anything else is a conflict.
func (m *Manager) Lock(ctx context.Context, req LockRequest) (model.TripSeat, error) {
	if req.HolderId == "" {
		return model.TripSeat{}, fmt.Errorf("%w: holder is required", model.ErrBadRequest)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.opts.TTL
	}

	var locked model.TripSeat
	err := m.WithSeats(ctx, []uint{req.SeatId}, func(tx *gorm.DB, b *Batch) error {
		now := b.Now()
		trip, seat, err := loadSeat(tx, req.TripId, req.SeatId)
		if err != nil {
			return err
		}
		if trip.Status != model.TripScheduled || !trip.DepartureTime.After(now) {
			return fmt.Errorf("%w: trip %d is not open for booking", model.ErrBadRequest, trip.ID)
		}

		switch {
		case seat.Status == model.SeatBooked:
			return fmt.Errorf("%w: seat %s no longer available", model.ErrConflict, seat.SeatNumber)
		case seat.Status == model.SeatLocked && seat.HeldBy != req.HolderId && !seat.LockExpired(now):
			return fmt.Errorf("%w: seat %s no longer available", model.ErrConflict, seat.SeatNumber)
		}

		expires := now.Add(ttl)
		if seat.LockedBy(req.HolderId, now) {
			if seat.ExpiredAt.After(expires) {
				expires = *seat.ExpiredAt
			}
		} else if err := m.checkHolderLimit(tx, seat, req.HolderId, now); err != nil {
			return err
		}

		ok, err := casUpdate(tx, seat, map[string]any{
			"status":     model.SeatLocked,
			"held_by":    req.HolderId,
			"expired_at": expires,
			"updated_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: seat %s no longer available", model.ErrConflict, seat.SeatNumber)
		}

		if locked, err = reload(tx, seat.ID); err != nil {
			return err
		}
		b.Add(model.EventSeatLocked, locked)
		return nil
	})
	if err != nil {
		return model.TripSeat{}, internal(err)
	}

	m.log.WithFields(logrus.Fields{
		"trip_id": req.TripId, "seat_id": req.SeatId, "holder": req.HolderId,
	}).Debug("seat locked")
	return locked, nil
}

func (m *Manager) checkHolderLimit(tx *gorm.DB, seat model.TripSeat, holder string, now time.Time) error {
	var held int64
	err := tx.Model(&model.TripSeat{}).
		Where("trip_id = ? AND status = ? AND held_by = ? AND expired_at > ? AND id <> ?",
			seat.TripId, model.SeatLocked, holder, now, seat.ID).
		Count(&held).Error
	if err != nil {
		return err
	}
	if int(held) >= m.opts.MaxSeatsPerHolder {
		return fmt.Errorf("%w: at most %d seats can be held per trip", model.ErrBadRequest, m.opts.MaxSeatsPerHolder)
	}
	return nil
}

// Unlock returns the holder's seat to AVAILABLE. Unlocking an AVAILABLE seat
// is a no-op; a seat that belongs to an active booking is released through
// the booking instead.
func (m *Manager) Unlock(ctx context.Context, req UnlockRequest) (model.TripSeat, error) {
	var result model.TripSeat
	err := m.WithSeats(ctx, []uint{req.SeatId}, func(tx *gorm.DB, b *Batch) error {
		now := b.Now()
		_, seat, err := loadSeat(tx, req.TripId, req.SeatId)
		if err != nil {
			return err
		}
		result = seat

		switch {
		case seat.Status == model.SeatAvailable:
			return nil
		case seat.Status == model.SeatBooked:
			return fmt.Errorf("%w: seat %s is already booked", model.ErrConflict, seat.SeatNumber)
		case seat.HeldBy != req.HolderId:
			if seat.LockExpired(now) {
				return nil
			}
			return fmt.Errorf("%w: seat %s is held by someone else", model.ErrForbidden, seat.SeatNumber)
		}

		pinned, err := PinnedSeats(tx, []uint{seat.ID}, now)
		if err != nil {
			return err
		}
		if pinned[seat.ID] {
			return fmt.Errorf("%w: seat %s belongs to an unpaid booking", model.ErrConflict, seat.SeatNumber)
		}

		ok, err := casUpdate(tx, seat, availableValues(now))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: seat %s changed concurrently", model.ErrConflict, seat.SeatNumber)
		}
		if result, err = reload(tx, seat.ID); err != nil {
			return err
		}
		b.Add(model.EventSeatUnlocked, result)
		return nil
	})
	if err != nil {
		return model.TripSeat{}, internal(err)
	}
	return result, nil
}

// SeatMap is the baseline a subscriber applies events on top of. Locks that
// have lapsed but were not swept yet are shown as AVAILABLE.
func (m *Manager) SeatMap(ctx context.Context, tripId uint) ([]model.SeatUI, error) {
	db := m.db.WithContext(ctx)
	var trip model.Trip
	if err := db.First(&trip, tripId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: trip %d", model.ErrNotFound, tripId)
		}
		return nil, internal(err)
	}

	var seats []model.TripSeat
	if err := db.Where("trip_id = ?", tripId).Order("floor, seat_number").Find(&seats).Error; err != nil {
		return nil, internal(err)
	}

	now := m.clock.Now().UTC()
	out := make([]model.SeatUI, 0, len(seats))
	for _, s := range seats {
		if s.LockExpired(now) {
			s.Status = model.SeatAvailable
			s.HeldBy = ""
			s.ExpiredAt = nil
		}
		out = append(out, s.UI())
	}
	return out, nil
}
