package database

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"trip_booking/helper"
	"trip_booking/model"
)

var seatClasses = []model.SeatClass{
	{Type: "NORMAL", PriceModifier: 1},
	{Type: "VIP", PriceModifier: 1.2},
	{Type: "SLEEPER", PriceModifier: 1.5},
}

// SeedData inserts the seat classes and, when no trip exists yet, one demo trip.
func SeedData(db *gorm.DB, log *logrus.Entry) error {
	for _, class := range seatClasses {
		if err := db.Where(model.SeatClass{Type: class.Type}).FirstOrCreate(&class).Error; err != nil {
			log.WithError(err).WithField("seat_class", class.Type).Warn("failed to seed seat class")
		}
	}

	var count int64
	if err := db.Model(&model.Trip{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		trip := model.Trip{
			RouteName:     "Ha Noi - Sa Pa",
			DepartureTime: time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour),
			BasePrice:     100000,
			Status:        model.TripScheduled,
		}
		trip.PublicCode = helper.GenerateUniqueTripCode(tx, trip)
		if err := tx.Create(&trip).Error; err != nil {
			return err
		}
		if err := helper.CreateTripSeats(tx, trip, helper.SleeperLayout(10, "SLEEPER")); err != nil {
			return errors.Join(errors.New("seed trip seats"), err)
		}
		log.WithField("trip", trip.PublicCode).Info("seeded demo trip")
		return nil
	})
}
