package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trip_booking/config"
	"trip_booking/model"
)

func Connect(s *config.Settings, log *logrus.Entry) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.DBHost, s.DBPort, s.DBUser, s.DBPassword, s.DBName, s.DBSSLMode)

	level := logger.Warn
	if s.IsDev() {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("connection opened to database")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database migrated")

	if s.DBSeed {
		if err := SeedData(db, log); err != nil {
			log.WithError(err).Warn("seed data failed")
		}
	}
	return db, nil
}

// Migrate creates or updates every table the booking service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.SeatClass{},
		&model.Trip{},
		&model.TripSeat{},
		&model.Booking{},
		&model.Ticket{},
		&model.Payment{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
