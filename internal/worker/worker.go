// Package worker runs the periodic engine triggers: payment expiry,
// reminders, completion of finished bookings and payout processing.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
	"spacehire/internal/booking"
)

// Bookings is the part of the booking service the worker drives.
type Bookings interface {
	ExpirePaymentPending(ctx context.Context, now time.Time) (int, error)
	SendReminders(ctx context.Context, now time.Time) (int, error)
	DueForCompletion(ctx context.Context, now time.Time) ([]int64, error)
	CompleteBooking(ctx context.Context, bookingID int64, now time.Time) (*booking.Result, error)
}

type Payouts interface {
	ProcessPayouts(ctx context.Context) (int, error)
}

// Mirror receives payout changes after each run. Optional.
type Mirror interface {
	Sync(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	// Concurrency bounds parallel completions.
	Concurrency int
}

type Service struct {
	cfg      Config
	bookings Bookings
	payouts  Payouts
	mirror   Mirror
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewService(cfg Config, bookings Bookings, payouts Payouts, mirror Mirror, logger zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		cfg:      cfg,
		bookings: bookings,
		payouts:  payouts,
		mirror:   mirror,
		now:      time.Now,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Start runs the loop in the background until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("worker started")
}

// Stop waits for the current run to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info().Msg("worker stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stats counts what one run did.
type Stats struct {
	Expired   int
	Reminded  int
	Completed int
	Failed    int
	PaidOut   int
	Mirrored  int
}

// RunOnce performs a single pass. Each step runs even when an earlier one
// failed.
func (s *Service) RunOnce(ctx context.Context) Stats {
	started := time.Now()
	now := s.now()
	var st Stats

	expired, err := s.bookings.ExpirePaymentPending(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("expire payment-pending bookings")
	}
	st.Expired = expired

	reminded, err := s.bookings.SendReminders(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("send booking reminders")
	}
	st.Reminded = reminded

	st.Completed, st.Failed = s.completeDue(ctx, now)

	if s.payouts != nil {
		paid, err := s.payouts.ProcessPayouts(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("process payouts")
		}
		st.PaidOut = paid
	}

	if s.mirror != nil {
		n, err := s.mirror.Sync(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("payout mirror sync failed")
		}
		st.Mirrored = n
	}

	if st != (Stats{}) {
		s.logger.Info().Int("expired", st.Expired).Int("reminded", st.Reminded).Int("completed", st.Completed).Int("failed", st.Failed).
			Int("paid_out", st.PaidOut).Int("mirrored", st.Mirrored).Dur("took", time.Since(started)).
			Msg("worker run finished")
	}
	return st
}

// completeDue completes finished bookings with at most Concurrency in flight.
// A booking changed meanwhile is not an error.
func (s *Service) completeDue(ctx context.Context, now time.Time) (completed, failed int) {
	ids, err := s.bookings.DueForCompletion(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("list bookings due for completion")
		return 0, 0
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id int64) {
			defer func() {
				<-sem
				wg.Done()
			}()
			_, err := s.bookings.CompleteBooking(ctx, id, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case apperr.Is(err, apperr.KindInvalidTransition):
				s.logger.Debug().Int64("booking_id", id).Err(err).Msg("booking no longer due")
			default:
				failed++
				s.logger.Error().Err(err).Int64("booking_id", id).Msg("failed to complete booking")
			}
		}(id)
	}
	wg.Wait()
	return completed, failed
}
