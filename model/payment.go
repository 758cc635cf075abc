package model

import "net/url"

const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
	PaymentFailed  = "FAILED"
)

type Payment struct {
	DTO
	BookingId     uint   `gorm:"not null;index" json:"bookingId"`
	Amount        int64  `gorm:"not null" json:"amount"`
	PaymentCode   string `gorm:"size:32;uniqueIndex" json:"paymentCode"`
	TransactionNo string `gorm:"size:64" json:"transactionNo"`
	ResponseCode  string `gorm:"size:8" json:"responseCode"`
	Status        string `gorm:"size:20;default:PENDING" json:"status"`
	Method        string `gorm:"size:20" json:"method"` // VNPAY

	Booking Booking `gorm:"foreignKey:BookingId" json:"-"`
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	BaseURL    string
	ApiURL     string
	ReturnURL  string
	IPNURL     string
}

// PaymentNotification is a provider outcome for one order. Params keeps the
// signed payload so the signature can be checked later; Verified marks a
// notification derived internally from an already-authenticated query.
type PaymentNotification struct {
	OrderRef      string
	Amount        int64
	TransactionNo string
	ResponseCode  string
	Signature     string
	Params        url.Values
	Verified      bool
}

// Succeeded follows the provider convention: "00" is the only success code.
func (n PaymentNotification) Succeeded() bool {
	return n.ResponseCode == "00"
}
