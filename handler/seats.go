package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"trip_booking/middleware"
	"trip_booking/model"
	"trip_booking/seatlock"
	"trip_booking/utils"
)

const seatTaken = "seat no longer available"

func (h *Handler) GetSeatMap(c *fiber.Ctx) error {
	tripId := c.Locals("tripId").(uint)

	seats, err := h.Locks.SeatMap(c.UserContext(), tripId)
	if err != nil {
		return utils.DomainError(c, userMessage(err, seatTaken), err)
	}
	return c.JSON(fiber.Map{
		"tripId": tripId,
		"seats":  seats,
	})
}

func (h *Handler) LockSeat(c *fiber.Ctx) error {
	tripId := c.Locals("tripId").(uint)
	seatId := c.Locals("seatId").(uint)
	input := c.Locals("input").(model.LockSeatInput)

	seat, err := h.Locks.Lock(c.UserContext(), seatlock.LockRequest{
		TripId:   tripId,
		SeatId:   seatId,
		HolderId: middleware.HolderID(c),
		TTL:      time.Duration(input.TTLSeconds) * time.Second,
	})
	if err != nil {
		return utils.DomainError(c, userMessage(err, seatTaken), err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, seat.UI())
}

func (h *Handler) UnlockSeat(c *fiber.Ctx) error {
	seat, err := h.Locks.Unlock(c.UserContext(), seatlock.UnlockRequest{
		TripId:   c.Locals("tripId").(uint),
		SeatId:   c.Locals("seatId").(uint),
		HolderId: middleware.HolderID(c),
	})
	if err != nil {
		return utils.DomainError(c, userMessage(err, "seat cannot be released"), err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, seat.UI())
}

// ReleaseMySeats gives back every seat the caller still has locked outside
// a booking, e.g. when leaving the seat picker.
func (h *Handler) ReleaseMySeats(c *fiber.Ctx) error {
	released, err := h.Locks.ReleaseAllHeldBy(c.UserContext(), middleware.HolderID(c))
	if err != nil {
		return utils.DomainError(c, "release seats failed", err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, fiber.Map{"released": released})
}
