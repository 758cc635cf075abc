package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip_booking/booking"
	"trip_booking/model"
	"trip_booking/seatlock"
	"trip_booking/testutil"
)

type counter struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *counter) ReleaseExpired(context.Context) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func (c *counter) ExpireStale(context.Context) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func (c *counter) Archive(context.Context, time.Duration) (int64, error) {
	c.calls.Add(1)
	return int64(c.n), c.err
}

func (c *counter) Reconcile(context.Context, time.Duration) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	seats := &counter{err: errors.New("db down")}
	bookings := &counter{n: 2}
	payments := &counter{n: 1}
	s := New(seats, bookings, payments, testutil.NewClock(), testutil.Logger(), Options{})

	report := s.RunOnce(context.Background())

	assert.Equal(t, Report{SeatsReleased: 0, BookingsExpired: 2, PaymentsReconciled: 1}, report)
	assert.EqualValues(t, 1, seats.calls.Load())
	assert.EqualValues(t, 1, payments.calls.Load())
}

func TestRunOnceWithoutReconciler(t *testing.T) {
	s := New(&counter{}, &counter{}, nil, testutil.NewClock(), testutil.Logger(), Options{})
	assert.Zero(t, s.RunOnce(context.Background()).PaymentsReconciled)
}

func TestScheduledSweepsFollowClock(t *testing.T) {
	clock := testutil.NewClock()
	seats := &counter{}
	bookings := &counter{}
	s := New(seats, bookings, nil, clock, testutil.Logger(), Options{
		SeatInterval:    30 * time.Second,
		BookingInterval: time.Minute,
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	assert.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return seats.calls.Load() > 0 && bookings.calls.Load() > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStartRejectsBadArchiveSchedule(t *testing.T) {
	s := New(&counter{}, &counter{}, nil, testutil.NewClock(), testutil.Logger(), Options{
		SeatInterval:    time.Second,
		ArchiveSchedule: "every tuesday",
	})
	assert.Error(t, s.Start())
}

func TestRunOnceReclaimsLapsedHolds(t *testing.T) {
	db := testutil.NewDB(t)
	trip, seats := testutil.SeedTrip(t, db, 100000, 3)
	clock := testutil.NewClock()
	locks := seatlock.NewManager(db, &testutil.Recorder{}, clock, testutil.Logger(), seatlock.Options{TTL: 5 * time.Minute})
	confirmer := booking.NewConfirmer(db, locks, testutil.Logger(), 15*time.Minute)
	ctx := context.Background()

	for _, seat := range seats[:2] {
		_, err := locks.Lock(ctx, seatlock.LockRequest{TripId: trip.ID, SeatId: seat.ID, HolderId: "u1"})
		require.NoError(t, err)
	}
	held, err := confirmer.Confirm(ctx, booking.ConfirmInput{
		TripId: trip.ID, SeatIds: []uint{seats[0].ID}, HolderId: "u1",
		Buyer: model.BuyerInfo{CustomerName: "Tran B", Phone: "0912345678", Email: "b@example.com"},
	})
	require.NoError(t, err)

	s := New(locks, confirmer, nil, clock, testutil.Logger(), Options{})

	clock.Advance(6 * time.Minute)
	report := s.RunOnce(ctx)
	assert.Equal(t, 1, report.SeatsReleased)
	assert.Zero(t, report.BookingsExpired)
	assert.Equal(t, model.SeatAvailable, testutil.Seat(t, db, seats[1].ID).Status)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, db, seats[0].ID).Status)

	clock.Advance(10 * time.Minute)
	report = s.RunOnce(ctx)
	assert.Equal(t, 1, report.BookingsExpired)
	assert.Equal(t, model.SeatAvailable, testutil.Seat(t, db, seats[0].ID).Status)

	got, err := confirmer.Get(ctx, held.PublicCode)
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, got.Status)
}
