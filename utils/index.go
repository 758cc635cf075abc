package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"trip_booking/model"
)

func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	var errMsg interface{}
	if err != nil {
		errMsg = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   errMsg,
	})
}

func SuccessResponse(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "success",
		"data":   data,
	})
}

// HTTPStatus maps a domain error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, model.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, model.ErrBadRequest), errors.Is(err, model.ErrUnverified):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// DomainError renders err with the status HTTPStatus picks for it.
func DomainError(c *fiber.Ctx, message string, err error) error {
	return ErrorResponse(c, HTTPStatus(err), message, err)
}
