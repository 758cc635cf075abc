package handler

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/booking"
	"trip_booking/model"
	"trip_booking/payment"
	"trip_booking/presence"
	"trip_booking/realtime"
	"trip_booking/seatlock"
	"trip_booking/utils"
)

// NotificationParser turns a provider callback query into a notification.
type NotificationParser interface {
	ParseNotification(query url.Values) (model.PaymentNotification, error)
}

type Handler struct {
	DB       *gorm.DB
	Locks    *seatlock.Manager
	Bookings *booking.Confirmer
	Payments *payment.Settler
	Parser   NotificationParser
	Hub      *realtime.Hub
	Presence presence.Sink
	Log      *logrus.Entry
	AppURL   string
}

func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "database unavailable", err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// userMessage is the text shown to the buyer for a rejected request.
func userMessage(err error, conflict string) string {
	switch {
	case errors.Is(err, model.ErrConflict):
		return conflict
	case errors.Is(err, model.ErrInternal):
		return "internal error"
	default:
		return err.Error()
	}
}
