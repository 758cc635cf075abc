package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"trip_booking/booking"
	"trip_booking/middleware"
	"trip_booking/model"
	"trip_booking/utils"
)

const seatsNotHeld = "one or more selected seats are no longer held by you"

func (h *Handler) ConfirmBooking(c *fiber.Ctx) error {
	input := c.Locals("input").(model.ConfirmBookingInput)

	b, err := h.Bookings.Confirm(c.UserContext(), booking.ConfirmInput{
		TripId:   input.TripId,
		SeatIds:  input.SeatIds,
		HolderId: middleware.HolderID(c),
		Buyer:    input.BuyerInfo,
	})
	if err != nil {
		return utils.DomainError(c, userMessage(err, seatsNotHeld), err)
	}
	return utils.SuccessResponse(c, fiber.StatusCreated, b)
}

func (h *Handler) GetBooking(c *fiber.Ctx) error {
	b, err := h.Bookings.Get(c.UserContext(), c.Params("code"))
	if err != nil {
		return utils.DomainError(c, "booking not found", err)
	}
	if b.HolderId != middleware.HolderID(c) {
		return utils.DomainError(c, "booking belongs to someone else",
			fmt.Errorf("%w: booking %s", model.ErrForbidden, b.PublicCode))
	}

	// QR một mã cho cả đơn, chỉ khi đã thanh toán
	qrCode := ""
	if b.Status == model.BookingPaid {
		if qrCode, err = utils.QRDataURI(b.PublicCode, 400); err != nil {
			h.Log.WithError(err).WithField("booking", b.PublicCode).Warn("booking qr code")
		}
	}

	return utils.SuccessResponse(c, fiber.StatusOK, fiber.Map{
		"booking": b,
		"qrCode":  qrCode,
	})
}

func (h *Handler) CancelBooking(c *fiber.Ctx) error {
	b, err := h.Bookings.Cancel(c.UserContext(), c.Params("code"), middleware.HolderID(c))
	if err != nil {
		return utils.DomainError(c, userMessage(err, "booking can no longer be cancelled"), err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, b)
}
