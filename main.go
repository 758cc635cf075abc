package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trip_booking/booking"
	"trip_booking/config"
	"trip_booking/database"
	"trip_booking/handler"
	"trip_booking/model"
	"trip_booking/notify"
	"trip_booking/payment"
	"trip_booking/presence"
	"trip_booking/realtime"
	"trip_booking/router"
	"trip_booking/seatlock"
	"trip_booking/sweeper"
	"trip_booking/utils"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := utils.NewLogger(settings.Env)

	if err := run(settings, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(s *config.Settings, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(s, utils.Component(logger, "database"))
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()

	hub := realtime.NewHub(realtime.DefaultBuffer, utils.Component(logger, "realtime"))
	var publisher realtime.Publisher = hub
	if s.RedisAddr != "" {
		// Với Redis, mọi instance nhận sự kiện qua relay thay vì publish thẳng vào hub
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		publisher = realtime.NewRedisPublisher(client)
		relay := realtime.NewRelay(client, hub, utils.Component(logger, "redis-relay"))
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.WithError(err).Error("redis relay stopped")
			}
		}()
	}

	locks := seatlock.NewManager(db, publisher, clock, utils.Component(logger, "seatlock"), seatlock.Options{
		TTL:               s.SeatLockTTL,
		MaxSeatsPerHolder: s.MaxSeatsPerHolder,
	})
	bookings := booking.NewConfirmer(db, locks, utils.Component(logger, "booking"), s.BookingHoldTTL)

	vnpay := payment.NewVNPay(model.VNPayConfig{
		TmnCode:    s.VNPTmnCode,
		HashSecret: s.VNPHashSecret,
		BaseURL:    s.VNPURL,
		ApiURL:     s.VNPApiURL,
		ReturnURL:  s.AppURL + "/vnpay/return",
		IPNURL:     s.AppURL + "/vnpay/ipn",
	}, clock)
	settler := payment.NewSettler(db, locks, vnpay, notifiers(s, logger), utils.Component(logger, "payment"), s.PaymentHoldTTL)
	defer settler.Wait()

	tracker := presence.NewTracker(locks, utils.Component(logger, "presence"))
	stream := make(presence.Stream, 1024)
	go tracker.Run(ctx, stream)

	var reconciler sweeper.Reconciler
	if s.VNPTmnCode != "" && s.VNPApiURL != "" {
		reconciler = settler
	}
	sweeps := sweeper.New(locks, bookings, reconciler, clock, utils.Component(logger, "sweeper"), sweeper.Options{
		SeatInterval:      s.SweepInterval,
		BookingInterval:   s.BookingSweepInterval,
		ReconcileInterval: s.ReconcileInterval,
		ReconcileAfter:    s.ReconcileAfter,
		ArchiveSchedule:   s.ArchiveSchedule,
		ArchiveRetention:  s.ArchiveRetention,
	})
	if err := sweeps.Start(); err != nil {
		return err
	}
	defer func() {
		if err := sweeps.Stop(); err != nil {
			logger.WithError(err).Warn("stop sweeper")
		}
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return utils.ErrorResponse(c, code, "request failed", err)
		},
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.CORSOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Authorization, Accept, X-Guest-Session",
		AllowCredentials: !strings.Contains(s.CORSOrigins, "*"),
		ExposeHeaders:    "X-Guest-Session",
		MaxAge:           600,
	}))

	h := &handler.Handler{
		DB:       db,
		Locks:    locks,
		Bookings: bookings,
		Payments: settler,
		Parser:   vnpay,
		Hub:      hub,
		Presence: stream,
		Log:      utils.Component(logger, "http"),
		AppURL:   s.AppURL,
	}
	router.SetupRoutes(app, h, []byte(s.JWTSecret))

	errc := make(chan error, 1)
	go func() { errc <- app.Listen(":" + s.Port) }()
	logger.WithField("port", s.Port).Info("server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func notifiers(s *config.Settings, logger *logrus.Logger) notify.Notifier {
	var out notify.Multi
	if s.SMTPHost != "" {
		dialer := notify.NewDialer(s.SMTPHost, s.SMTPPort, s.SMTPUsername, s.SMTPPassword)
		out = append(out, notify.NewMailer(dialer, s.SMTPFrom, utils.Component(logger, "mail")))
	}
	if s.RabbitMQURL != "" {
		out = append(out, notify.NewAMQPPublisher(s.RabbitMQURL, utils.Component(logger, "amqp")))
	}
	if len(out) == 0 {
		return notify.Noop{}
	}
	return out
}
