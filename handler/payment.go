package handler

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"trip_booking/middleware"
	"trip_booking/model"
	"trip_booking/payment"
	"trip_booking/utils"
)

func (h *Handler) InitiatePayment(c *fiber.Ctx) error {
	session, err := h.Payments.InitiatePayment(c.UserContext(), c.Params("code"), middleware.HolderID(c), c.IP())
	if err != nil {
		return utils.DomainError(c, userMessage(err, seatsNotHeld), err)
	}
	return c.JSON(fiber.Map{
		"message":    "Payment created",
		"paymentUrl": session.RedirectURL,
		"orderRef":   session.OrderRef,
		"expiresAt":  session.ExpiresAt,
	})
}

// ipnReply maps a settlement result to the RspCode VNPay expects.
func ipnReply(out payment.Outcome, err error) (int, string, string) {
	switch {
	case err == nil && out.Duplicate:
		return fiber.StatusOK, "02", "Order already confirmed"
	case err == nil:
		return fiber.StatusOK, "00", "Confirm Success"
	case errors.Is(err, model.ErrUnverified):
		return fiber.StatusBadRequest, "97", "Invalid signature"
	case errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound, "01", "Order not found"
	case errors.Is(err, model.ErrBadRequest):
		return fiber.StatusBadRequest, "04", "Invalid amount"
	case errors.Is(err, model.ErrConflict):
		return fiber.StatusConflict, "02", "Order already confirmed"
	default:
		return fiber.StatusInternalServerError, "99", "Unknown error"
	}
}

// callbackQuery returns the vnp_ parameters of a GET query or a form POST.
func callbackQuery(c *fiber.Ctx) (url.Values, error) {
	raw := string(c.Request().URI().QueryString())
	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
		raw = string(c.Body())
	}
	return url.ParseQuery(raw)
}

func (h *Handler) VNPayIPN(c *fiber.Ctx) error {
	query, err := callbackQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"RspCode": "99", "Message": "Malformed request"})
	}

	n, err := h.Parser.ParseNotification(query)
	if err != nil {
		h.Log.WithError(err).Warn("malformed payment notification")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"RspCode": "99", "Message": "Malformed request"})
	}

	out, err := h.Payments.HandleOutcomeNotification(c.UserContext(), n)
	status, code, message := ipnReply(out, err)
	return c.Status(status).JSON(fiber.Map{"RspCode": code, "Message": message})
}

// VNPayReturn settles from the browser redirect as well, so a missed IPN
// does not leave the buyer waiting; settlement is idempotent either way.
func (h *Handler) VNPayReturn(c *fiber.Ctx) error {
	query, err := callbackQuery(c)
	if err != nil {
		return c.Redirect(fmt.Sprintf("%s/payment-failed?reason=%s", h.AppURL, url.QueryEscape("malformed request")))
	}
	n, err := h.Parser.ParseNotification(query)
	if err != nil {
		return c.Redirect(fmt.Sprintf("%s/payment-failed?reason=%s", h.AppURL, url.QueryEscape("malformed request")))
	}

	out, err := h.Payments.HandleOutcomeNotification(c.UserContext(), n)
	if err != nil {
		h.Log.WithError(err).WithField("booking", n.OrderRef).Warn("payment return rejected")
		return c.Redirect(fmt.Sprintf("%s/payment-failed?code=%s&reason=%s", h.AppURL, url.QueryEscape(n.OrderRef), url.QueryEscape(userMessage(err, "booking is no longer payable"))))
	}
	if out.Booking.Status == model.BookingPaid {
		return c.Redirect(fmt.Sprintf("%s/success?code=%s", h.AppURL, url.QueryEscape(out.Booking.PublicCode)))
	}
	return c.Redirect(fmt.Sprintf("%s/payment-failed?code=%s&reason=%s", h.AppURL, url.QueryEscape(out.Booking.PublicCode), url.QueryEscape(out.Booking.Status)))
}
