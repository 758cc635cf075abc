package model

import "time"

const (
	EventSeatLocked       = "SEAT_LOCKED"
	EventSeatUnlocked     = "SEAT_UNLOCKED"
	EventSeatBooked       = "SEAT_BOOKED"
	EventSeatExpired      = "SEAT_EXPIRED"
	EventSeatLockFailed   = "SEAT_LOCK_FAILED"
	EventSeatUnlockFailed = "SEAT_UNLOCK_FAILED"
)

// SeatEvent is published on a trip's seat topic once per seat state change.
type SeatEvent struct {
	Type       string     `json:"type"`
	TripId     uint       `json:"tripId"`
	SeatId     uint       `json:"seatId"`
	SeatNumber string     `json:"seatNumber"`
	Floor      int        `json:"floor"`
	Status     string     `json:"status"`
	HeldBy     *string    `json:"heldBy"`
	ExpiredAt  *time.Time `json:"expiredAt"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewSeatEvent snapshots seat into an event of type kind.
func NewSeatEvent(kind string, seat TripSeat, at time.Time) SeatEvent {
	ev := SeatEvent{
		Type:       kind,
		TripId:     seat.TripId,
		SeatId:     seat.ID,
		SeatNumber: seat.SeatNumber,
		Floor:      seat.Floor,
		Status:     seat.Status,
		ExpiredAt:  seat.ExpiredAt,
		Success:    true,
		Timestamp:  at,
	}
	if seat.HeldBy != "" {
		holder := seat.HeldBy
		ev.HeldBy = &holder
	}
	if seat.Status != SeatLocked {
		ev.ExpiredAt = nil
	}
	return ev
}

// FailedSeatEvent reports a rejected request back to the connection that made it.
func FailedSeatEvent(kind string, tripId, seatId uint, reason string, at time.Time) SeatEvent {
	return SeatEvent{
		Type:      kind,
		TripId:    tripId,
		SeatId:    seatId,
		Success:   false,
		Message:   reason,
		Timestamp: at,
	}
}
