package helper

import (
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"trip_booking/model"
)

// SeatPrice applies the class modifier to the trip fare, rounded to the nearest unit.
func SeatPrice(basePrice int64, class model.SeatClass) int64 {
	modifier := class.PriceModifier
	if modifier <= 0 {
		modifier = 1
	}
	return int64(math.Round(float64(basePrice) * modifier))
}

// CreateTripSeats inserts one AVAILABLE seat per layout position for trip.
func CreateTripSeats(tx *gorm.DB, trip model.Trip, layout []model.SeatLayout) error {
	if len(layout) == 0 {
		return errors.New("trip layout has no seats")
	}

	var classes []model.SeatClass
	if err := tx.Find(&classes).Error; err != nil {
		return err
	}
	byType := make(map[string]model.SeatClass, len(classes))
	for _, c := range classes {
		byType[c.Type] = c
	}

	seats := make([]model.TripSeat, 0, len(layout))
	for _, pos := range layout {
		class, ok := byType[pos.SeatClass]
		if !ok {
			return fmt.Errorf("%w: unknown seat class %q", model.ErrBadRequest, pos.SeatClass)
		}
		floor := pos.Floor
		if floor == 0 {
			floor = 1
		}
		seats = append(seats, model.TripSeat{
			TripId:     trip.ID,
			SeatNumber: pos.SeatNumber,
			Floor:      floor,
			SeatClass:  class.Type,
			Price:      SeatPrice(trip.BasePrice, class),
			Status:     model.SeatAvailable,
		})
	}

	return tx.Create(&seats).Error
}

// SleeperLayout builds the usual two-floor sleeper bus layout: rows A (floor 1) and B (floor 2).
func SleeperLayout(perFloor int, class string) []model.SeatLayout {
	layout := make([]model.SeatLayout, 0, perFloor*2)
	for floor, row := range []string{"A", "B"} {
		for i := 1; i <= perFloor; i++ {
			layout = append(layout, model.SeatLayout{
				SeatNumber: fmt.Sprintf("%s%02d", row, i),
				Floor:      floor + 1,
				SeatClass:  class,
			})
		}
	}
	return layout
}
