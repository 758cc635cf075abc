// Package notify tells the outside world that a booking has been paid.
package notify

import (
	"context"
	"errors"
	"time"

	"trip_booking/model"
)

// Notifier is informed once per booking that reaches PAID, after commit.
type Notifier interface {
	BookingPaid(ctx context.Context, booking model.Booking) error
}

type Noop struct{}

func (Noop) BookingPaid(context.Context, model.Booking) error { return nil }

// Multi informs every notifier and joins their errors.
type Multi []Notifier

func (m Multi) BookingPaid(ctx context.Context, booking model.Booking) error {
	var errs []error
	for _, n := range m {
		if err := n.BookingPaid(ctx, booking); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BookingPaidEvent is the message body published for downstream consumers.
type BookingPaidEvent struct {
	Code         string    `json:"code"`
	TripId       uint      `json:"tripId"`
	HolderId     string    `json:"holderId"`
	CustomerName string    `json:"customerName"`
	Email        string    `json:"email,omitempty"`
	TotalAmount  int64     `json:"totalAmount"`
	TicketCodes  []string  `json:"ticketCodes"`
	SeatIds      []uint    `json:"seatIds"`
	PaidAt       time.Time `json:"paidAt"`
}

func NewBookingPaidEvent(b model.Booking) BookingPaidEvent {
	ev := BookingPaidEvent{
		Code:         b.PublicCode,
		TripId:       b.TripId,
		HolderId:     b.HolderId,
		CustomerName: b.CustomerName,
		Email:        b.Email,
		TotalAmount:  b.TotalAmount,
		SeatIds:      b.SeatIds(),
	}
	for _, t := range b.Tickets {
		ev.TicketCodes = append(ev.TicketCodes, t.TicketCode)
	}
	if b.PaidAt != nil {
		ev.PaidAt = *b.PaidAt
	}
	return ev
}
