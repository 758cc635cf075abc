package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"trip_booking/helper"
	"trip_booking/utils"
)

const (
	GuestHeader = "X-Guest-Session"
	GuestQuery  = "guestSessionId"
)

func bearer(c *fiber.Ctx) string {
	token := c.Cookies("access_token")
	if token == "" {
		auth := c.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return token
}

// OptionalJWT stores a valid token in Locals("user"); anything else is a guest.
func OptionalJWT(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", nil)
		token := bearer(c)
		if token == "" || len(secret) == 0 {
			return c.Next()
		}

		jwtToken, err := helper.ParseToken(secret, token)
		if err != nil || !jwtToken.Valid {
			return c.Next()
		}
		c.Locals("user", jwtToken)
		return c.Next()
	}
}

// Holder resolves who is acting: a signed-in customer, the guest session the
// client presents, or a fresh guest id echoed back in X-Guest-Session.
func Holder() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, _ := c.Locals("user").(*jwt.Token)
		if claim, ok := helper.ClaimFromToken(token); ok {
			c.Locals("customerId", claim.CustomerId)
			c.Locals("holderId", helper.CustomerHolder(claim.CustomerId))
			return c.Next()
		}

		guest := strings.TrimSpace(c.Get(GuestHeader))
		if guest == "" {
			guest = strings.TrimSpace(c.Query(GuestQuery))
		}
		if guest == "" {
			guest = helper.GuestHolder()
		}
		if len(guest) > 64 || strings.HasPrefix(guest, "USER_") {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid guest session", errors.New("malformed guest session id"))
		}
		c.Set(GuestHeader, guest)
		c.Locals("customerId", uint(0))
		c.Locals("holderId", guest)
		return c.Next()
	}
}

// HolderID reads the identity Holder stored.
func HolderID(c *fiber.Ctx) string {
	id, _ := c.Locals("holderId").(string)
	return id
}
