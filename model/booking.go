package model

import "time"

const (
	BookingHeld          = "HELD"
	BookingPending       = "PENDING"
	BookingPaid          = "PAID"
	BookingPaymentFailed = "PAYMENT_FAILED"
	BookingCancelled     = "CANCELLED"
	BookingExpired       = "EXPIRED"
	BookingArchived      = "ARCHIVED"
)

// ActiveBookingStatuses are the statuses whose seats must stay LOCKED by the holder.
var ActiveBookingStatuses = []string{BookingHeld, BookingPending}

// ClosedBookingStatuses are archived once the retention window has passed.
var ClosedBookingStatuses = []string{BookingPaymentFailed, BookingCancelled, BookingExpired}

// Booking groups the seats one holder buys on one trip. PublicCode is the
// order reference handed to the payment provider.
type Booking struct {
	DTO
	PublicCode    string     `gorm:"size:32;uniqueIndex;not null" json:"code"`
	TripId        uint       `gorm:"not null;index" json:"tripId"`
	HolderId      string     `gorm:"size:64;not null;index" json:"holderId"`
	CustomerName  string     `json:"customerName"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email"`
	TotalAmount   int64      `gorm:"not null" json:"totalAmount"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	HoldExpiresAt time.Time  `gorm:"index" json:"holdExpiresAt"`
	PaymentMethod string     `gorm:"size:20" json:"paymentMethod,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	ClosedAt      *time.Time `gorm:"index" json:"closedAt,omitempty"` // set on CANCELLED, EXPIRED and PAYMENT_FAILED
	Tickets       []Ticket   `gorm:"foreignKey:BookingId" json:"tickets,omitempty"`
}

func (b Booking) Active() bool {
	return b.Status == BookingHeld || b.Status == BookingPending
}

func (b Booking) SeatIds() []uint {
	ids := make([]uint, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		ids = append(ids, t.TripSeatId)
	}
	return ids
}

type BuyerInfo struct {
	CustomerName string `json:"customerName" validate:"required,max=100"`
	Phone        string `json:"phone" validate:"required,min=8,max=20"`
	Email        string `json:"email" validate:"omitempty,email"`
}

type ConfirmBookingInput struct {
	TripId  uint   `json:"tripId" validate:"required,gt=0"`
	SeatIds []uint `json:"seatIds" validate:"required,min=1,dive,gt=0"`
	BuyerInfo
}
