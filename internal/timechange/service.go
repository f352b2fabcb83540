// Package timechange negotiates reschedules of existing bookings. One side
// proposes a new schedule, the other accepts or rejects it.
package timechange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/ledger"
	"spacehire/internal/locker"
	"spacehire/internal/metrics"
	"spacehire/internal/models"
	"spacehire/internal/slots"
)

type Service struct {
	db        *database.DB
	locks     locker.Locker
	ledger    *ledger.Ledger
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(db *database.DB, locks locker.Locker, led *ledger.Ledger, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		db:        db,
		locks:     locks,
		ledger:    led,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "timechange").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Propose stores a pending reschedule of a booking. The current schedule is
// snapshotted so a later accept can detect that the booking moved meanwhile.
func (s *Service) Propose(ctx context.Context, actor models.Actor, bookingID int64, start, end time.Time) (*models.TimeChange, error) {
	if start.IsZero() || end.IsZero() {
		return nil, apperr.Validation("start_at and end_at are required")
	}
	if !start.Before(end) {
		return nil, apperr.Validation("start_at must be before end_at")
	}
	if start.Before(s.now()) {
		return nil, apperr.Validation("a booking cannot be moved into the past")
	}
	next := models.Schedule{StartAt: start.UTC().Truncate(time.Second), EndAt: end.UTC().Truncate(time.Second)}

	var tc *models.TimeChange
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		if actor.PartyOf(b) == "" {
			return apperr.Forbidden("not a party to this booking")
		}
		if b.Status.IsTerminal() {
			return apperr.InvalidTransition("booking is %s", b.Status)
		}
		if next.Equal(b.Schedule()) {
			return apperr.Validation("proposed schedule equals the current one")
		}

		if _, err := r.GetPendingTimeChange(ctx, b.ID); err == nil {
			return apperr.Conflict(apperr.ReasonActiveTimeChange, "booking %d already has a pending time change", b.ID)
		} else if !errors.Is(err, database.ErrNotFound) {
			return apperr.Internal(err, "load time change")
		}

		tc = &models.TimeChange{
			BookingID:  b.ID,
			ProposedBy: actor.UserID,
			OldStartAt: b.StartAt,
			OldEndAt:   b.EndAt,
			NewStartAt: next.StartAt,
			NewEndAt:   next.EndAt,
			Status:     models.TimeChangePending,
		}
		err = r.InsertTimeChange(ctx, tc)
		if errors.Is(err, database.ErrDuplicate) {
			return apperr.Conflict(apperr.ReasonActiveTimeChange, "booking %d already has a pending time change", b.ID)
		}
		if err != nil {
			return apperr.Internal(err, "insert time change")
		}
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	metrics.IncTimeChange("proposed")
	s.logger.Info().Int64("time_change_id", tc.ID).Int64("booking_id", bookingID).
		Int64("actor_id", actor.UserID).Msg("time change proposed")
	s.emit(ctx, events.TimeChangeProposed, tc, actor)
	return tc, nil
}

// Respond accepts or rejects a pending proposal. Only the counterparty of the
// proposer answers; an admin may force either outcome.
func (s *Service) Respond(ctx context.Context, actor models.Actor, timeChangeID int64, accept bool) (*models.TimeChange, *models.Booking, error) {
	// Peek outside the transaction to know which days to lock.
	r := s.db.Repo()
	peek, err := loadTimeChange(ctx, r, timeChangeID)
	if err != nil {
		return nil, nil, err
	}
	b, err := loadBooking(ctx, r, peek.BookingID)
	if err != nil {
		return nil, nil, err
	}

	if accept {
		space, err := loadSpace(ctx, r, b.SpaceID)
		if err != nil {
			return nil, nil, err
		}
		var keys []string
		for _, sp := range []models.Schedule{b.Schedule(), peek.New()} {
			keys = append(keys, locker.SpaceDayKeys(space.ID, space.Location(), sp.StartAt, sp.EndAt)...)
		}
		unlock, err := s.locks.Lock(ctx, keys...)
		if err != nil {
			return nil, nil, apperr.Dependency(err, "space is busy, retry")
		}
		defer unlock()
	}

	var tc *models.TimeChange
	err = s.db.WithTx(ctx, func(r *database.Repo) error {
		var err error
		if tc, err = loadTimeChange(ctx, r, timeChangeID); err != nil {
			return err
		}
		if b, err = loadBooking(ctx, r, tc.BookingID); err != nil {
			return err
		}
		if err := checkResponder(actor, b, tc); err != nil {
			return err
		}
		if tc.Status != models.TimeChangePending {
			return apperr.InvalidTransition("time change is %s", tc.Status)
		}

		status := models.TimeChangeRejected
		if accept {
			status = models.TimeChangeAccepted
		}
		err = r.ResolveTimeChange(ctx, tc, status, actor.UserID)
		if errors.Is(err, database.ErrConcurrentModification) {
			return apperr.InvalidTransition("time change %d was already answered", tc.ID)
		}
		if err != nil {
			return apperr.Internal(err, "resolve time change")
		}
		if !accept {
			return nil
		}
		// Processor calls in apply come last so nothing after them can fail.
		return s.apply(ctx, r, b, tc)
	})
	if err != nil {
		s.observe(err)
		return nil, nil, err
	}

	metrics.IncTimeChange(string(tc.Status))
	s.logger.Info().Int64("time_change_id", tc.ID).Int64("booking_id", b.ID).
		Str("status", string(tc.Status)).Int64("actor_id", actor.UserID).Msg("time change answered")
	if accept {
		s.emit(ctx, events.TimeChangeAccepted, tc, actor)
	} else {
		s.emit(ctx, events.TimeChangeRejected, tc, actor)
	}
	return tc, b, nil
}

// apply moves the booking to the proposed schedule and reprices it.
func (s *Service) apply(ctx context.Context, r *database.Repo, b *models.Booking, tc *models.TimeChange) error {
	if b.Status.IsTerminal() {
		return apperr.InvalidTransition("booking is %s", b.Status)
	}
	if !tc.Old().Equal(b.Schedule()) {
		return apperr.Conflict(apperr.ReasonStaleProposal, "booking %d was rescheduled after the proposal", b.ID)
	}

	space, err := loadSpace(ctx, r, b.SpaceID)
	if err != nil {
		return err
	}
	next := tc.New()
	if err := slots.CheckSlot(ctx, r, space, next.StartAt, next.EndAt, b.ID); err != nil {
		return err
	}

	gross := space.Price(next.EndAt.Sub(next.StartAt))
	prev := *b
	day := next.StartAt.In(space.Location()).Format("2006-01-02")
	err = r.UpdateBookingSchedule(ctx, b, next, day, gross)
	if errors.Is(err, database.ErrConcurrentModification) {
		return apperr.Conflict(apperr.ReasonStaleProposal, "booking %d changed concurrently", b.ID)
	}
	if err != nil {
		return apperr.Internal(err, "update booking schedule")
	}
	return s.ledger.Reprice(ctx, r, &prev, space, gross)
}

// List returns the proposal history of a booking to its parties.
func (s *Service) List(ctx context.Context, actor models.Actor, bookingID int64) ([]models.TimeChange, error) {
	r := s.db.Repo()
	b, err := loadBooking(ctx, r, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.PartyOf(b) == "" {
		return nil, apperr.Forbidden("not a party to this booking")
	}
	out, err := r.ListTimeChanges(ctx, bookingID)
	if err != nil {
		return nil, apperr.Internal(err, "list time changes")
	}
	return out, nil
}

func checkResponder(actor models.Actor, b *models.Booking, tc *models.TimeChange) error {
	if actor.IsAdmin() {
		return nil
	}
	party := actor.PartyOf(b)
	if party == "" {
		return apperr.Forbidden("not a party to this booking")
	}
	if actor.UserID == tc.ProposedBy {
		return apperr.Forbidden("the proposer cannot answer their own time change")
	}
	return nil
}

func loadTimeChange(ctx context.Context, r *database.Repo, id int64) (*models.TimeChange, error) {
	tc, err := r.GetTimeChange(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("time change %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load time change")
	}
	return tc, nil
}

func loadBooking(ctx context.Context, r *database.Repo, id int64) (*models.Booking, error) {
	b, err := r.GetBooking(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("booking %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load booking")
	}
	return b, nil
}

// loadSpace accepts unpublished spaces: existing bookings may still move.
func loadSpace(ctx context.Context, r *database.Repo, id int64) (*models.Space, error) {
	space, err := r.GetSpaceAny(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("space %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load space")
	}
	return space, nil
}

func (s *Service) observe(err error) {
	if reason := apperr.ReasonOf(err); reason != "" {
		metrics.IncConflict(reason)
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error().Err(err).Msg("time change operation failed")
	}
}

func (s *Service) emit(ctx context.Context, t events.Type, tc *models.TimeChange, actor models.Actor) {
	s.publisher.Publish(ctx, events.Event{
		Type:      t,
		BookingID: tc.BookingID,
		ActorID:   actor.UserID,
		Payload: map[string]any{
			"time_change_id": tc.ID,
			"proposed_by":    tc.ProposedBy,
			"old_start_at":   tc.OldStartAt,
			"old_end_at":     tc.OldEndAt,
			"new_start_at":   tc.NewStartAt,
			"new_end_at":     tc.NewEndAt,
		},
		CreatedAt: s.now(),
	})
}
