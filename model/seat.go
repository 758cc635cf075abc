package model

import "time"

const (
	SeatAvailable = "AVAILABLE"
	SeatLocked    = "LOCKED"
	SeatBooked    = "BOOKED"
)

// TripSeat is one physical seat on one trip. HeldBy and ExpiredAt are set
// only while the seat is LOCKED; a BOOKED seat keeps HeldBy for audit.
type TripSeat struct {
	DTO
	TripId     uint       `gorm:"not null;uniqueIndex:idx_trip_seat_number;index" json:"tripId"`
	SeatNumber string     `gorm:"size:10;not null;uniqueIndex:idx_trip_seat_number" json:"seatNumber"`
	Floor      int        `gorm:"not null;default:1" json:"floor"`
	SeatClass  string     `gorm:"size:20;not null" json:"seatClass"`
	Price      int64      `gorm:"not null" json:"price"`
	Status     string     `gorm:"size:20;not null;default:AVAILABLE;index" json:"status"`
	HeldBy     string     `gorm:"size:64;index" json:"heldBy,omitempty"`
	ExpiredAt  *time.Time `gorm:"index" json:"expiredAt,omitempty"`
}

// LockedBy reports whether the seat is locked by holder and the lock is
// still valid at now.
func (s TripSeat) LockedBy(holder string, now time.Time) bool {
	return s.Status == SeatLocked && s.HeldBy == holder && s.ExpiredAt != nil && s.ExpiredAt.After(now)
}

// LockExpired reports whether the seat is locked and the lock deadline has passed.
func (s TripSeat) LockExpired(now time.Time) bool {
	return s.Status == SeatLocked && (s.ExpiredAt == nil || !s.ExpiredAt.After(now))
}

type SeatUI struct {
	Id         uint       `json:"id"`
	SeatNumber string     `json:"seatNumber"`
	Floor      int        `json:"floor"`
	SeatClass  string     `json:"seatClass"`
	Price      int64      `json:"price"`
	Status     string     `json:"status"`
	HeldBy     string     `json:"heldBy,omitempty"`
	ExpiredAt  *time.Time `json:"expiredAt,omitempty"`
}

func (s TripSeat) UI() SeatUI {
	return SeatUI{
		Id:         s.ID,
		SeatNumber: s.SeatNumber,
		Floor:      s.Floor,
		SeatClass:  s.SeatClass,
		Price:      s.Price,
		Status:     s.Status,
		HeldBy:     s.HeldBy,
		ExpiredAt:  s.ExpiredAt,
	}
}

type LockSeatInput struct {
	TTLSeconds int `json:"ttlSeconds" validate:"omitempty,min=30,max=3600"`
}

// SeatAction is a request sent over the trip websocket.
type SeatAction struct {
	Action string `json:"action" validate:"required,oneof=lock unlock"`
	SeatId uint   `json:"seatId" validate:"required,gt=0"`
}
