// Package payment settles bookings against a payment provider.
package payment

import (
	"context"
	"errors"
	"time"

	"trip_booking/model"
)

// ErrPending is returned by QueryStatus while the provider has no final outcome.
var ErrPending = errors.New("payment not settled yet")

type SessionRequest struct {
	OrderRef  string
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Session struct {
	OrderRef    string    `json:"orderRef"`
	RedirectURL string    `json:"paymentUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type QueryRequest struct {
	OrderRef        string
	RequestID       string
	TransactionDate time.Time
	ClientIP        string
}

// Provider is the contract with an external payment gateway.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// QueryStatus returns an already-verified notification for a final
	// outcome, or ErrPending.
	QueryStatus(ctx context.Context, req QueryRequest) (model.PaymentNotification, error)
	Verify(n model.PaymentNotification) error
}
