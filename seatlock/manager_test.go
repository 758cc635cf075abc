package seatlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"trip_booking/model"
	"trip_booking/testutil"
)

type fixture struct {
	db    *gorm.DB
	clock testutil.FakeClock
	rec   *testutil.Recorder
	m     *Manager
	trip  model.Trip
	seats []model.TripSeat
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	trip, seats := testutil.SeedTrip(t, db, 100000, 4)
	clock := testutil.NewClock()
	rec := &testutil.Recorder{}
	return &fixture{
		db:    db,
		clock: clock,
		rec:   rec,
		m:     NewManager(db, rec, clock, testutil.Logger(), opts),
		trip:  trip,
		seats: seats,
	}
}

func (f *fixture) lock(t *testing.T, seat model.TripSeat, holder string, ttl time.Duration) model.TripSeat {
	t.Helper()
	locked, err := f.m.Lock(context.Background(), LockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: holder, TTL: ttl})
	require.NoError(t, err)
	return locked
}

func TestLockMutualExclusion(t *testing.T) {
	f := setup(t, Options{})
	seat := f.seats[0]

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			_, err := f.m.Lock(context.Background(), LockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: holder})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, holder)
			case errors.Is(err, model.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	stored := testutil.Seat(t, f.db, seat.ID)
	assert.Equal(t, model.SeatLocked, stored.Status)
	assert.Equal(t, winners[0], stored.HeldBy)
	assert.Len(t, f.rec.OfType(model.EventSeatLocked), 1)
}

func TestLockIsIdempotentForSameHolder(t *testing.T) {
	f := setup(t, Options{TTL: 10 * time.Minute})
	seat := f.seats[0]

	first := f.lock(t, seat, "u1", 0)
	f.clock.Advance(2 * time.Minute)
	second := f.lock(t, seat, "u1", 0)

	require.NotNil(t, first.ExpiredAt)
	require.NotNil(t, second.ExpiredAt)
	assert.True(t, second.ExpiredAt.After(*first.ExpiredAt))
	assert.WithinDuration(t, testutil.Epoch.Add(12*time.Minute), *second.ExpiredAt, time.Second)
	assert.Len(t, f.rec.OfType(model.EventSeatLocked), 2)
}

func TestRelockNeverShortensExpiry(t *testing.T) {
	f := setup(t, Options{})
	seat := f.seats[0]

	long := f.lock(t, seat, "u1", 15*time.Minute)
	short := f.lock(t, seat, "u1", time.Minute)

	assert.WithinDuration(t, *long.ExpiredAt, *short.ExpiredAt, time.Second)
}

func TestLockRejections(t *testing.T) {
	f := setup(t, Options{})
	otherTrip, otherSeats := testutil.SeedTrip(t, f.db, 50000, 1)
	f.lock(t, f.seats[1], "u1", 0)
	require.NoError(t, f.db.Model(&model.TripSeat{}).Where("id = ?", f.seats[2].ID).
		Updates(map[string]any{"status": model.SeatBooked, "held_by": "u9"}).Error)

	cases := []struct {
		name string
		req  LockRequest
		want error
	}{
		{"unknown trip", LockRequest{TripId: 999, SeatId: f.seats[0].ID, HolderId: "u2"}, model.ErrNotFound},
		{"unknown seat", LockRequest{TripId: f.trip.ID, SeatId: 999, HolderId: "u2"}, model.ErrNotFound},
		{"seat of another trip", LockRequest{TripId: f.trip.ID, SeatId: otherSeats[0].ID, HolderId: "u2"}, model.ErrBadRequest},
		{"missing holder", LockRequest{TripId: f.trip.ID, SeatId: f.seats[0].ID}, model.ErrBadRequest},
		{"held by another holder", LockRequest{TripId: f.trip.ID, SeatId: f.seats[1].ID, HolderId: "u2"}, model.ErrConflict},
		{"already booked", LockRequest{TripId: f.trip.ID, SeatId: f.seats[2].ID, HolderId: "u2"}, model.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.m.Lock(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.NotZero(t, otherTrip.ID)
}

func TestLockReclaimsLapsedLock(t *testing.T) {
	f := setup(t, Options{})
	seat := f.seats[0]

	f.lock(t, seat, "u1", time.Minute)
	_, err := f.m.Lock(context.Background(), LockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u2"})
	require.ErrorIs(t, err, model.ErrConflict)

	f.clock.Advance(time.Minute)
	taken := f.lock(t, seat, "u2", 0)

	assert.Equal(t, "u2", taken.HeldBy)
	events := f.rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventSeatLocked, events[1].Type)
	require.NotNil(t, events[1].HeldBy)
	assert.Equal(t, "u2", *events[1].HeldBy)
}

func TestLockHolderLimit(t *testing.T) {
	f := setup(t, Options{MaxSeatsPerHolder: 2})

	f.lock(t, f.seats[0], "u1", 0)
	f.lock(t, f.seats[1], "u1", 0)
	f.lock(t, f.seats[1], "u1", 0)

	_, err := f.m.Lock(context.Background(), LockRequest{TripId: f.trip.ID, SeatId: f.seats[2].ID, HolderId: "u1"})
	assert.ErrorIs(t, err, model.ErrBadRequest)
	f.lock(t, f.seats[2], "u2", 0)
}

func TestLockRejectsDepartedTrip(t *testing.T) {
	f := setup(t, Options{})
	f.clock.Advance(25 * time.Hour)

	_, err := f.m.Lock(context.Background(), LockRequest{TripId: f.trip.ID, SeatId: f.seats[0].ID, HolderId: "u1"})
	assert.ErrorIs(t, err, model.ErrBadRequest)
}

func TestUnlock(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()
	seat := f.seats[0]

	f.lock(t, seat, "u1", 0)

	_, err := f.m.Unlock(ctx, UnlockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u2"})
	assert.ErrorIs(t, err, model.ErrForbidden)

	freed, err := f.m.Unlock(ctx, UnlockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, freed.Status)
	assert.Empty(t, freed.HeldBy)
	assert.Nil(t, freed.ExpiredAt)

	again, err := f.m.Unlock(ctx, UnlockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, again.Status)

	unlocked := f.rec.OfType(model.EventSeatUnlocked)
	require.Len(t, unlocked, 1)
	assert.Nil(t, unlocked[0].HeldBy)
	assert.Nil(t, unlocked[0].ExpiredAt)
}

func pinSeat(t *testing.T, db *gorm.DB, trip model.Trip, seat model.TripSeat, holder string) model.Booking {
	t.Helper()
	b := model.Booking{
		PublicCode:    "BK" + fmt.Sprint(seat.ID),
		TripId:        trip.ID,
		HolderId:      holder,
		TotalAmount:   seat.Price,
		Status:        model.BookingHeld,
		HoldExpiresAt: testutil.Epoch.Add(15 * time.Minute),
		Tickets: []model.Ticket{{
			TicketCode: "TKT" + fmt.Sprint(seat.ID),
			TripSeatId: seat.ID,
			TripId:     trip.ID,
			Price:      seat.Price,
			Status:     model.TicketUnconfirmed,
		}},
	}
	require.NoError(t, db.Create(&b).Error)
	return b
}

func TestUnlockRefusesSeatOfUnpaidBooking(t *testing.T) {
	f := setup(t, Options{})
	seat := f.seats[0]
	f.lock(t, seat, "u1", 0)
	pinSeat(t, f.db, f.trip, seat, "u1")

	_, err := f.m.Unlock(context.Background(), UnlockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u1"})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, f.db, seat.ID).Status)
}

func TestReleaseExpired(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()
	short, long := f.seats[0], f.seats[1]

	f.lock(t, short, "u1", time.Minute)
	f.lock(t, long, "u2", 10*time.Minute)
	f.rec.Reset()

	f.clock.Advance(59 * time.Second)
	n, err := f.m.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, f.db, short.ID).Status)

	f.clock.Advance(time.Second)
	n, err = f.m.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.SeatAvailable, testutil.Seat(t, f.db, short.ID).Status)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, f.db, long.ID).Status)
	expired := f.rec.OfType(model.EventSeatExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].SeatId)
	assert.Equal(t, model.SeatAvailable, expired[0].Status)
}

func TestReleaseSeatsOnlyTouchesHolderSeats(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	f.lock(t, f.seats[0], "u1", 0)
	f.lock(t, f.seats[1], "u1", 0)
	f.lock(t, f.seats[2], "u2", 0)

	n, err := f.m.ReleaseSeats(ctx, "u1", []uint{f.seats[0].ID, f.seats[2].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.SeatAvailable, testutil.Seat(t, f.db, f.seats[0].ID).Status)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, f.db, f.seats[1].ID).Status)
	assert.Equal(t, "u2", testutil.Seat(t, f.db, f.seats[2].ID).HeldBy)
}

func TestReleaseAllHeldBySkipsPinnedSeats(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	f.lock(t, f.seats[0], "u1", 0)
	f.lock(t, f.seats[1], "u1", 0)
	pinSeat(t, f.db, f.trip, f.seats[1], "u1")

	n, err := f.m.ReleaseAllHeldBy(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.SeatAvailable, testutil.Seat(t, f.db, f.seats[0].ID).Status)
	assert.Equal(t, model.SeatLocked, testutil.Seat(t, f.db, f.seats[1].ID).Status)
}

func TestSeatMapShowsLapsedLocksAsAvailable(t *testing.T) {
	f := setup(t, Options{})
	f.lock(t, f.seats[0], "u1", time.Minute)
	f.lock(t, f.seats[1], "u2", time.Hour)
	f.clock.Advance(2 * time.Minute)

	seats, err := f.m.SeatMap(context.Background(), f.trip.ID)
	require.NoError(t, err)
	require.Len(t, seats, 4)

	byId := map[uint]model.SeatUI{}
	for _, s := range seats {
		byId[s.Id] = s
	}
	assert.Equal(t, model.SeatAvailable, byId[f.seats[0].ID].Status)
	assert.Equal(t, model.SeatLocked, byId[f.seats[1].ID].Status)

	_, err = f.m.SeatMap(context.Background(), 404)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEventsFollowTransitionOrderPerSeat(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()
	seat := f.seats[0]

	for i := 0; i < 3; i++ {
		f.lock(t, seat, "u1", 0)
		_, err := f.m.Unlock(ctx, UnlockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u1"})
		require.NoError(t, err)
	}

	var kinds []string
	for _, ev := range f.rec.Events() {
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []string{
		model.EventSeatLocked, model.EventSeatUnlocked,
		model.EventSeatLocked, model.EventSeatUnlocked,
		model.EventSeatLocked, model.EventSeatUnlocked,
	}, kinds)
}

func TestRenewRacingReleaseExpired(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := setup(t, Options{})
		ctx := context.Background()
		seat := f.seats[0]
		f.lock(t, seat, "u1", time.Minute)
		f.clock.Advance(time.Minute)
		f.rec.Reset()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.m.Lock(ctx, LockRequest{TripId: f.trip.ID, SeatId: seat.ID, HolderId: "u1", TTL: 5 * time.Minute})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.m.ReleaseExpired(ctx)
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored := testutil.Seat(t, f.db, seat.ID)
		require.Equal(t, model.SeatLocked, stored.Status, "round %d", i)
		assert.Equal(t, "u1", stored.HeldBy, "round %d", i)
		require.NotNil(t, stored.ExpiredAt)
		assert.WithinDuration(t, testutil.Epoch.Add(6*time.Minute), *stored.ExpiredAt, time.Second, "round %d", i)

		events := f.rec.Events()
		require.NotEmpty(t, events, "round %d", i)
		assert.Equal(t, model.EventSeatLocked, events[len(events)-1].Type, "round %d", i)
	}
}
