package model

const (
	TicketUnconfirmed = "UNCONFIRMED"
	TicketConfirmed   = "CONFIRMED"
	TicketUsed        = "USED"
	TicketCancelled   = "CANCELLED"
	TicketNoShow      = "NO_SHOW"
	TicketRescheduled = "RESCHEDULED"
)

type Ticket struct {
	DTO
	TicketCode string   `gorm:"size:20;uniqueIndex" json:"ticketCode"`
	BookingId  uint     `gorm:"not null;uniqueIndex:idx_ticket_booking_seat" json:"bookingId"`
	TripSeatId uint     `gorm:"not null;uniqueIndex:idx_ticket_booking_seat;index" json:"tripSeatId"`
	TripId     uint     `gorm:"not null" json:"tripId"`
	Price      int64    `gorm:"not null" json:"price"`
	Status     string   `gorm:"size:20;not null;default:UNCONFIRMED" json:"status"`
	TripSeat   TripSeat `gorm:"foreignKey:TripSeatId" json:"-"`
}
