package helper

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"trip_booking/model"
)

// GenerateUniqueTripCode derives a readable public code from the route and
// departure date, suffixing a counter while the code is taken.
func GenerateUniqueTripCode(tx *gorm.DB, trip model.Trip) string {
	base := slug.Make(fmt.Sprintf("%s %s", trip.RouteName, trip.DepartureTime.Format("20060102 1504")))
	result := base
	i := 1

	for {
		var count int64
		tx.Model(&model.Trip{}).
			Where("public_code = ?", result).
			Count(&count)

		if count == 0 {
			break
		}
		result = fmt.Sprintf("%s-%d", base, i)
		i++
	}

	return result
}

func shortID(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:n])
}

// BookingCode doubles as the payment order reference, so it stays alphanumeric.
func BookingCode() string {
	return "BK" + shortID(10)
}

func TicketCode() string {
	return "TKT-" + shortID(10)
}

// RequestID identifies one call to the payment provider's query API.
func RequestID() string {
	return shortID(16)
}

func GuestHolder() string {
	return "GUEST_" + uuid.New().String()
}

func CustomerHolder(customerId uint) string {
	return fmt.Sprintf("USER_%d", customerId)
}
