// Package sweeper runs the periodic cleanup jobs: lapsed seat locks, stale
// held bookings, unanswered payments and old closed bookings.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type SeatReleaser interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

type BookingExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
	Archive(ctx context.Context, retention time.Duration) (int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration) (int, error)
}

type Options struct {
	SeatInterval      time.Duration
	BookingInterval   time.Duration
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	ArchiveSchedule   string
	ArchiveRetention  time.Duration
}

// Report is the outcome of one pass over every sweep.
type Report struct {
	SeatsReleased      int
	BookingsExpired    int
	PaymentsReconciled int
}

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context)
}

type Sweeper struct {
	seats    SeatReleaser
	bookings BookingExpirer
	payments Reconciler
	clock    clockwork.Clock
	log      *logrus.Entry
	opts     Options

	ctx       context.Context
	cancel    context.CancelFunc
	scheduler gocron.Scheduler
	archive   *cron.Cron
}

// New wires the sweeps. payments may be nil when no provider is configured.
func New(seats SeatReleaser, bookings BookingExpirer, payments Reconciler, clock clockwork.Clock, log *logrus.Entry, opts Options) *Sweeper {
	return &Sweeper{
		seats:    seats,
		bookings: bookings,
		payments: payments,
		clock:    clock,
		log:      log,
		opts:     opts,
	}
}

// Start schedules the interval sweeps on gocron and the archive job on a
// cron spec. Every job runs in singleton mode: a slow pass is never
// overlapped by the next tick.
func (s *Sweeper) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	sched, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(time.UTC),
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []job{
		{"seat-locks", s.opts.SeatInterval, func(ctx context.Context) { s.SweepSeats(ctx) }},
		{"held-bookings", s.opts.BookingInterval, func(ctx context.Context) { s.SweepBookings(ctx) }},
	}
	if s.payments != nil {
		jobs = append(jobs, job{"payments", s.opts.ReconcileInterval, func(ctx context.Context) { s.ReconcilePayments(ctx) }})
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		run := j.run
		if _, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { run(s.ctx) }),
			gocron.WithName(j.name),
		); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	if s.opts.ArchiveSchedule != "" {
		if _, err := cron.ParseStandard(s.opts.ArchiveSchedule); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("archive schedule %q: %w", s.opts.ArchiveSchedule, err)
		}
		s.archive = cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
		)
		if _, err := s.archive.AddFunc(s.opts.ArchiveSchedule, func() { s.ArchiveBookings(s.ctx) }); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("schedule archive: %w", err)
		}
		s.archive.Start()
	}

	s.scheduler = sched
	sched.Start()
	s.log.WithFields(logrus.Fields{
		"seat_interval":    s.opts.SeatInterval,
		"booking_interval": s.opts.BookingInterval,
		"archive":          s.opts.ArchiveSchedule,
	}).Info("sweeper started")
	return nil
}

// Stop cancels in-flight passes and waits for the schedulers to drain.
func (s *Sweeper) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.archive != nil {
		<-s.archive.Stop().Done()
	}
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// RunOnce runs the seat, booking and payment sweeps back to back. A failing
// sweep is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) Report {
	return Report{
		SeatsReleased:      s.SweepSeats(ctx),
		BookingsExpired:    s.SweepBookings(ctx),
		PaymentsReconciled: s.ReconcilePayments(ctx),
	}
}

func (s *Sweeper) SweepSeats(ctx context.Context) int {
	n, err := s.seats.ReleaseExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep expired seat locks")
	}
	if n > 0 {
		s.log.WithField("released", n).Debug("expired seat locks released")
	}
	return n
}

func (s *Sweeper) SweepBookings(ctx context.Context) int {
	n, err := s.bookings.ExpireStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep stale bookings")
	}
	if n > 0 {
		s.log.WithField("expired", n).Debug("stale bookings expired")
	}
	return n
}

func (s *Sweeper) ReconcilePayments(ctx context.Context) int {
	if s.payments == nil {
		return 0
	}
	n, err := s.payments.Reconcile(ctx, s.opts.ReconcileAfter)
	if err != nil {
		s.log.WithError(err).Error("reconcile payments")
	}
	if n > 0 {
		s.log.WithField("settled", n).Debug("payments reconciled")
	}
	return n
}

func (s *Sweeper) ArchiveBookings(ctx context.Context) int64 {
	n, err := s.bookings.Archive(ctx, s.opts.ArchiveRetention)
	if err != nil {
		s.log.WithError(err).Error("archive closed bookings")
	}
	if n > 0 {
		s.log.WithField("archived", n).Debug("closed bookings archived")
	}
	return n
}
