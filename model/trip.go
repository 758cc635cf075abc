package model

import "time"

const (
	TripScheduled = "SCHEDULED"
	TripDeparted  = "DEPARTED"
	TripCancelled = "CANCELLED"
)

// Trip is owned by the trip management service; the booking core only reads it.
type Trip struct {
	DTO
	PublicCode    string     `gorm:"size:64;uniqueIndex" json:"publicCode"`
	RouteName     string     `gorm:"not null" json:"routeName"`
	DepartureTime time.Time  `gorm:"not null" json:"departureTime"`
	BasePrice     int64      `gorm:"not null" json:"basePrice"`
	Status        string     `gorm:"size:20;default:SCHEDULED" json:"status"`
	Seats         []TripSeat `gorm:"foreignKey:TripId" json:"-"`
}

type SeatClass struct {
	DTO
	Type          string  `gorm:"size:20;uniqueIndex;not null" json:"type"` // NORMAL VIP SLEEPER
	PriceModifier float64 `json:"priceModifier"`
}

// SeatLayout describes one physical seat position used when generating trip seats.
type SeatLayout struct {
	SeatNumber string `json:"seatNumber" validate:"required"`
	Floor      int    `json:"floor" validate:"min=1,max=2"`
	SeatClass  string `json:"seatClass" validate:"required"`
}
