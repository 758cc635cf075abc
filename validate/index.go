package validate

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"trip_booking/utils"
)

var validate = validator.New()

// Struct runs the validator tags of v.
func Struct(v any) error {
	return validate.Struct(v)
}

// GetById parses a positive numeric route param into Locals(key) as uint.
func GetById(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value, err := strconv.ParseUint(c.Params(key), 10, 64)
		if err != nil || value == 0 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid "+key, errors.New("params invalid"))
		}

		c.Locals(key, uint(value))
		return c.Next()
	}
}

// body parses and validates the request body into Locals("input").
func body[T any](c *fiber.Ctx, allowEmpty bool) error {
	var input T
	if len(c.Body()) > 0 || !allowEmpty {
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid input", err)
		}
	}
	if err := validate.Struct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), err)
	}

	c.Locals("input", input)
	return c.Next()
}
