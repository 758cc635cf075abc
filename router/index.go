package router

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"trip_booking/handler"
	"trip_booking/middleware"
	"trip_booking/validate"
)

func SetupRoutes(app *fiber.App, h *handler.Handler, jwtSecret []byte) {
	app.Get("/healthz", h.Health)

	api := app.Group("/api", logger.New())
	v1 := api.Group("/v1")
	optionalJWT := middleware.OptionalJWT(jwtSecret)
	holder := middleware.Holder()
	tripId := validate.GetById("tripId")
	seatId := validate.GetById("seatId")

	trips := v1.Group("/trips")
	trips.Get("/:tripId/seats", tripId, h.GetSeatMap)
	trips.Post("/:tripId/seats/:seatId/lock", optionalJWT, holder, tripId, seatId, validate.LockSeat(), h.LockSeat)
	trips.Post("/:tripId/seats/:seatId/unlock", optionalJWT, holder, tripId, seatId, h.UnlockSeat)
	trips.Get("/:tripId/ws", optionalJWT, holder, tripId, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(h.SeatSocket))

	v1.Post("/seats/release", optionalJWT, holder, h.ReleaseMySeats)

	bookings := v1.Group("/bookings", optionalJWT, holder)
	bookings.Post("/", validate.ConfirmBooking(), h.ConfirmBooking)
	bookings.Get("/:code", h.GetBooking)
	bookings.Post("/:code/cancel", h.CancelBooking)
	bookings.Post("/:code/payments", h.InitiatePayment)

	// VNPay gọi lại: IPN (server-to-server) và return URL (trình duyệt)
	app.Get("/vnpay/ipn", h.VNPayIPN)
	app.Post("/vnpay/ipn", h.VNPayIPN)
	app.Get("/vnpay/return", h.VNPayReturn)
}
