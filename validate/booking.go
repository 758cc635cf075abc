package validate

import (
	"github.com/gofiber/fiber/v2"

	"trip_booking/model"
)

func ConfirmBooking() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return body[model.ConfirmBookingInput](c, false)
	}
}

// LockSeat accepts an empty body; the lock then gets the default TTL.
func LockSeat() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return body[model.LockSeatInput](c, true)
	}
}
