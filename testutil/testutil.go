// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trip_booking/database"
	"trip_booking/helper"
	"trip_booking/model"
)

// Epoch is the start time of every fake clock in tests.
var Epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// FakeClock is the part of the clockwork fake clock tests drive.
type FakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func NewClock() FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// NewDB opens a private in-memory database with the schema migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Logger returns a discarding entry so tests stay quiet.
func Logger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// SeedTrip creates a scheduled trip departing a day after Epoch with n
// NORMAL seats priced at fare.
func SeedTrip(t testing.TB, db *gorm.DB, fare int64, n int) (model.Trip, []model.TripSeat) {
	t.Helper()
	require.NoError(t, db.Where(model.SeatClass{Type: "NORMAL"}).
		FirstOrCreate(&model.SeatClass{Type: "NORMAL", PriceModifier: 1}).Error)

	trip := model.Trip{
		RouteName:     "Ha Noi - Hai Phong",
		DepartureTime: Epoch.Add(24 * time.Hour),
		BasePrice:     fare,
		Status:        model.TripScheduled,
	}
	trip.PublicCode = helper.GenerateUniqueTripCode(db, trip)
	require.NoError(t, db.Create(&trip).Error)

	layout := make([]model.SeatLayout, 0, n)
	for i := 1; i <= n; i++ {
		layout = append(layout, model.SeatLayout{SeatNumber: fmt.Sprintf("S%d", i), Floor: 1, SeatClass: "NORMAL"})
	}
	require.NoError(t, helper.CreateTripSeats(db, trip, layout))

	var seats []model.TripSeat
	require.NoError(t, db.Where("trip_id = ?", trip.ID).Order("id").Find(&seats).Error)
	return trip, seats
}

// Seat reloads a seat row.
func Seat(t testing.TB, db *gorm.DB, id uint) model.TripSeat {
	t.Helper()
	var seat model.TripSeat
	require.NoError(t, db.First(&seat, id).Error)
	return seat
}

// Recorder is a publisher that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []model.SeatEvent
}

func (r *Recorder) Publish(_ context.Context, ev model.SeatEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []model.SeatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SeatEvent(nil), r.events...)
}

// OfType returns the recorded events of kind, in publication order.
func (r *Recorder) OfType(kind string) []model.SeatEvent {
	var out []model.SeatEvent
	for _, ev := range r.Events() {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
