package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
	"spacehire/internal/availability"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/ledger"
	"spacehire/internal/locker"
	"spacehire/internal/metrics"
	"spacehire/internal/models"
	"spacehire/internal/slots"
)

// Options tune booking rules.
type Options struct {
	MinAdvance        time.Duration
	MaxAdvance        time.Duration
	PaymentPendingTTL time.Duration
	Currency          string
	BatchSize         int
	// ReminderLead is how long before the start parties are reminded.
	ReminderLead time.Duration
}

// Result is a booking together with its current payment, if any.
type Result struct {
	Booking *models.Booking `json:"booking"`
	Payment *models.Payment `json:"payment,omitempty"`
}

// BlockChecker reports whether a user may not create bookings.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID int64) (bool, error)
}

type Service struct {
	db        *database.DB
	locks     locker.Locker
	ledger    *ledger.Ledger
	index     *availability.Index
	gen       *slots.Generator
	blocklist BlockChecker
	publisher events.Publisher
	fsm       *FSM
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(
	db *database.DB,
	locks locker.Locker,
	led *ledger.Ledger,
	index *availability.Index,
	blocklist BlockChecker,
	publisher events.Publisher,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.MaxAdvance <= 0 {
		opts.MaxAdvance = 180 * 24 * time.Hour
	}
	if opts.PaymentPendingTTL <= 0 {
		opts.PaymentPendingTTL = 30 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = 24 * time.Hour
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if index == nil {
		index = availability.NewIndex(nil)
	}
	return &Service{
		db:        db,
		locks:     locks,
		ledger:    led,
		index:     index,
		gen:       slots.NewGenerator(index),
		blocklist: blocklist,
		publisher: publisher,
		fsm:       NewFSM(),
		opts:      opts,
		now:       time.Now,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateRequest is the input of CreateBooking.
type CreateRequest struct {
	SpaceID      int64              `json:"space_id"`
	Type         models.BookingType `json:"type"`
	StartAt      time.Time          `json:"start_at"`
	EndAt        time.Time          `json:"end_at"`
	VehicleID    *int64             `json:"vehicle_id,omitempty"`
	LicensePlate string             `json:"license_plate,omitempty"`
}

func (req *CreateRequest) validate(now time.Time, opts Options) error {
	if req.SpaceID <= 0 {
		return apperr.Validation("space_id is required")
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() {
		return apperr.Validation("start_at and end_at are required")
	}
	if !req.StartAt.Before(req.EndAt) {
		return apperr.Validation("start_at must be before end_at")
	}
	if req.Type == "" {
		req.Type = models.TypeNormal
	}
	if !req.Type.Valid() {
		return apperr.Validation("invalid booking type %q", req.Type)
	}
	if req.StartAt.Before(now.Add(opts.MinAdvance)) {
		return apperr.Validation("bookings must start at least %s from now", opts.MinAdvance)
	}
	if req.StartAt.After(now.Add(opts.MaxAdvance)) {
		return apperr.Validation("bookings cannot start more than %s ahead", opts.MaxAdvance)
	}
	if len(req.LicensePlate) > 32 {
		return apperr.Validation("license_plate is too long")
	}
	return nil
}

// CreateBooking reserves a slot for the acting client. Normal bookings get a
// payment intent in the same transaction; custom ones wait for the host.
func (s *Service) CreateBooking(ctx context.Context, actor models.Actor, req CreateRequest) (*Result, error) {
	if actor.UserID <= 0 {
		return nil, apperr.Forbidden("identity required")
	}
	if err := req.validate(s.now(), s.opts); err != nil {
		return nil, err
	}
	req.StartAt, req.EndAt = req.StartAt.UTC().Truncate(time.Second), req.EndAt.UTC().Truncate(time.Second)

	if s.blocklist != nil {
		blocked, err := s.blocklist.IsBlocked(ctx, actor.UserID)
		if err != nil {
			return nil, apperr.Internal(err, "check blocklist")
		}
		if blocked {
			return nil, apperr.Forbidden("user %d is not allowed to book", actor.UserID)
		}
	}

	space, err := s.loadSpace(ctx, s.db.Repo(), req.SpaceID)
	if err != nil {
		return nil, err
	}
	if space.HostID == actor.UserID {
		return nil, apperr.Forbidden("hosts cannot book their own space")
	}
	if space.MinHours > 0 && req.EndAt.Sub(req.StartAt) < time.Duration(space.MinHours)*time.Hour {
		return nil, apperr.Validation("space %d requires at least %d hours", space.ID, space.MinHours)
	}

	unlock, err := s.lockSpan(ctx, space, models.Schedule{StartAt: req.StartAt, EndAt: req.EndAt})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res Result
	err = s.db.WithTx(ctx, func(r *database.Repo) error {
		// Re-read under the write lock; the space may have been unpublished.
		space, err = s.loadSpace(ctx, r, req.SpaceID)
		if err != nil {
			return err
		}
		if err := slots.CheckSlot(ctx, r, space, req.StartAt, req.EndAt, 0); err != nil {
			return err
		}

		b := &models.Booking{
			Ref:          uuid.NewString(),
			ClientID:     actor.UserID,
			HostID:       space.HostID,
			SpaceID:      space.ID,
			LicensePlate: req.LicensePlate,
			Day:          req.StartAt.In(space.Location()).Format("2006-01-02"),
			StartAt:      req.StartAt,
			EndAt:        req.EndAt,
			GrossAmount:  space.Price(req.EndAt.Sub(req.StartAt)),
			Currency:     s.opts.Currency,
			Status:       models.StatusRequestPending,
			Type:         req.Type,
		}
		if req.VehicleID != nil {
			b.VehicleID.Int64, b.VehicleID.Valid = *req.VehicleID, true
		}
		if req.Type == models.TypeNormal {
			b.Status = models.StatusPaymentPending
		}
		if err := r.InsertBooking(ctx, b); err != nil {
			return apperr.Internal(err, "insert booking")
		}
		res.Booking = b

		if b.Type == models.TypeNormal {
			p, err := s.ledger.Authorize(ctx, r, b, space, 1)
			if err != nil {
				return err
			}
			res.Payment = p
		}
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	b := res.Booking
	metrics.IncBookingCreated(string(b.Type))
	s.logger.Info().Int64("booking_id", b.ID).Str("ref", b.Ref).Int64("space_id", b.SpaceID).
		Int64("client_id", b.ClientID).Str("status", string(b.Status)).Msg("booking created")
	s.emit(ctx, events.BookingCreated, b, actor, map[string]any{
		"status": b.Status, "start_at": b.StartAt, "end_at": b.EndAt, "gross_amount": b.GrossAmount,
	})
	return &res, nil
}

// RespondToBooking lets the host accept or reject a custom booking request.
// Acceptance authorizes the payment; a processor failure undoes it.
func (s *Service) RespondToBooking(ctx context.Context, actor models.Actor, bookingID int64, accept bool) (*Result, error) {
	to := models.StatusRejected
	if accept {
		to = models.StatusAccepted
	}

	var res Result
	var from models.BookingStatus
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := s.loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		from = b.Status
		if err := s.fsm.Check(b.Status, to, actor.PartyOf(b)); err != nil {
			return err
		}
		if err := s.setStatus(ctx, r, b, to, ""); err != nil {
			return err
		}
		res.Booking = b

		if !accept {
			return nil
		}
		p, err := s.ledger.CurrentPayment(ctx, r, b.ID)
		if err != nil {
			return err
		}
		if p == nil {
			space, err := s.loadSpaceAny(ctx, r, b.SpaceID)
			if err != nil {
				return err
			}
			if p, err = s.ledger.Authorize(ctx, r, b, space, 1); err != nil {
				return err
			}
		}
		res.Payment = p
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	s.transitioned(ctx, res.Booking, from, actor, nil)
	return &res, nil
}

// CancelBooking cancels on behalf of the client, the host or an admin. A
// captured payment is refunded first; if the refund fails nothing changes.
func (s *Service) CancelBooking(ctx context.Context, actor models.Actor, bookingID int64) (*Result, error) {
	var res Result
	var from models.BookingStatus
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := s.loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		from = b.Status
		party := actor.PartyOf(b)
		if err := s.fsm.Check(b.Status, models.StatusCancelled, party); err != nil {
			return err
		}
		p, err := s.ledger.Release(ctx, r, b, b.Version)
		if err != nil {
			return err
		}
		if err := s.rejectPendingTimeChange(ctx, r, b, actor); err != nil {
			return err
		}
		if err := s.setStatus(ctx, r, b, models.StatusCancelled, party); err != nil {
			return err
		}
		res.Booking, res.Payment = b, p
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	payload := map[string]any{"canceled_by": res.Booking.CancelledBy()}
	if res.Payment != nil {
		payload["payment_status"] = res.Payment.Status
	}
	s.transitioned(ctx, res.Booking, from, actor, payload)
	return &res, nil
}

// CompleteBooking closes an accepted booking whose end has passed and
// accrues the host's earnings when the payment was captured.
func (s *Service) CompleteBooking(ctx context.Context, bookingID int64, now time.Time) (*Result, error) {
	var res Result
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := s.loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		if err := s.fsm.Check(b.Status, models.StatusCompleted, models.PartyAdmin); err != nil {
			return err
		}
		if b.EndAt.After(now) {
			return apperr.InvalidTransition("booking ends at %s", b.EndAt.Format(time.RFC3339))
		}
		if err := s.setStatus(ctx, r, b, models.StatusCompleted, ""); err != nil {
			return err
		}
		res.Booking = b

		p, err := s.ledger.CurrentPayment(ctx, r, b.ID)
		if err != nil {
			return err
		}
		res.Payment = p
		if p == nil || p.Status != models.PaymentSucceeded {
			s.logger.Warn().Int64("booking_id", b.ID).Msg("completed booking has no captured payment")
			return nil
		}
		space, err := s.loadSpaceAny(ctx, r, b.SpaceID)
		if err != nil {
			return err
		}
		_, err = s.ledger.Accrue(ctx, r, b, space)
		return err
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	s.transitioned(ctx, res.Booking, models.StatusAccepted, models.System, nil)
	return &res, nil
}

// RecordPaymentResult applies a processor result. Repeating a result is a
// no-op; success moves a payment-pending booking to accepted.
func (s *Service) RecordPaymentResult(ctx context.Context, intentID string, succeeded bool, stripeFee *int64) (*Result, error) {
	if intentID == "" {
		return nil, apperr.Validation("intent_id is required")
	}

	var res Result
	var outcome ledger.ResultOutcome
	var accepted bool
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		p, err := r.GetPaymentByIntent(ctx, intentID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("payment intent %s not found", intentID)
		}
		if err != nil {
			return apperr.Internal(err, "load payment")
		}
		b, err := s.loadBooking(ctx, r, p.BookingID)
		if err != nil {
			return err
		}
		res.Booking, res.Payment = b, p

		if outcome, err = s.ledger.ApplyResult(ctx, r, p, succeeded, stripeFee); err != nil {
			return err
		}
		if outcome == ledger.OutcomeSucceeded && b.Status == models.StatusPaymentPending {
			if err := s.fsm.Check(b.Status, models.StatusAccepted, models.PartyAdmin); err != nil {
				return err
			}
			if err := s.setStatus(ctx, r, b, models.StatusAccepted, ""); err != nil {
				return err
			}
			accepted = true
		}
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}

	b, p := res.Booking, res.Payment
	switch outcome {
	case ledger.OutcomeSucceeded:
		s.emit(ctx, events.PaymentSucceeded, b, models.System, map[string]any{"intent_id": intentID, "total": p.TotalAmount})
	case ledger.OutcomeFailed:
		s.emit(ctx, events.PaymentFailed, b, models.System, map[string]any{"intent_id": intentID, "attempt": p.Attempt})
	case ledger.OutcomeRefunded:
		s.logger.Warn().Int64("booking_id", b.ID).Str("intent_id", intentID).Msg("late payment refunded")
		s.emit(ctx, events.PaymentSucceeded, b, models.System, map[string]any{"intent_id": intentID, "refunded": true})
	}
	if accepted {
		s.transitioned(ctx, b, models.StatusPaymentPending, models.System, nil)
	}
	return &res, nil
}

// RetryPayment replaces a failed payment with a fresh intent.
func (s *Service) RetryPayment(ctx context.Context, actor models.Actor, bookingID int64) (*Result, error) {
	var res Result
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := s.loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		switch actor.PartyOf(b) {
		case models.PartyClient, models.PartyAdmin:
		default:
			return apperr.Forbidden("only the client can retry a payment")
		}
		if b.Status != models.StatusPaymentPending && b.Status != models.StatusAccepted {
			return apperr.InvalidTransition("booking is %s", b.Status)
		}

		p, err := s.ledger.CurrentPayment(ctx, r, b.ID)
		if err != nil {
			return err
		}
		attempt := 1
		if p != nil {
			if p.Status != models.PaymentFailed {
				return apperr.InvalidTransition("payment is %s", p.Status)
			}
			if err := r.SupersedePayment(ctx, p); err != nil {
				return apperr.Internal(err, "supersede payment")
			}
			attempt = p.Attempt + 1
		}
		space, err := s.loadSpaceAny(ctx, r, b.SpaceID)
		if err != nil {
			return err
		}
		if res.Payment, err = s.ledger.Authorize(ctx, r, b, space, attempt); err != nil {
			return err
		}
		res.Booking = b
		return nil
	})
	if err != nil {
		s.observe(err)
		return nil, err
	}
	s.logger.Info().Int64("booking_id", bookingID).Int("attempt", res.Payment.Attempt).Msg("payment retried")
	return &res, nil
}

// ExpirePaymentPending cancels payment-pending bookings older than the
// configured TTL. They carry no canceling party.
func (s *Service) ExpirePaymentPending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.opts.PaymentPendingTTL)
	stale, err := s.db.Repo().ListExpiredPaymentPending(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		var b *models.Booking
		err := s.db.WithTx(ctx, func(r *database.Repo) error {
			var err error
			if b, err = s.loadBooking(ctx, r, stale[i].ID); err != nil {
				return err
			}
			if b.Status != models.StatusPaymentPending || !b.CreatedAt.Before(cutoff) {
				b = nil
				return nil
			}
			if _, err := s.ledger.Release(ctx, r, b, b.Version); err != nil {
				return err
			}
			return s.setStatus(ctx, r, b, models.StatusCancelled, "")
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", stale[i].ID).Msg("failed to expire booking")
			continue
		}
		if b == nil {
			continue
		}
		expired++
		s.transitioned(ctx, b, models.StatusPaymentPending, models.System, map[string]any{"reason": "payment_expired"})
	}
	return expired, nil
}

// DueForCompletion returns ids of accepted bookings whose end has passed.
func (s *Service) DueForCompletion(ctx context.Context, now time.Time) ([]int64, error) {
	due, err := s.db.Repo().ListDueForCompletion(ctx, now, s.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(due))
	for i := range due {
		ids = append(ids, due[i].ID)
	}
	return ids, nil
}

// SendReminders announces accepted bookings starting within ReminderLead.
// Each booking is reminded once per schedule; a time change re-arms it.
func (s *Service) SendReminders(ctx context.Context, now time.Time) (int, error) {
	r := s.db.Repo()
	upcoming, err := r.ListUpcomingUnreminded(ctx, now, now.Add(s.opts.ReminderLead), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range upcoming {
		b := &upcoming[i]
		claimed, err := r.MarkReminded(ctx, b.ID, now)
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to mark reminder")
			continue
		}
		if !claimed {
			continue
		}
		sent++
		s.emit(ctx, events.BookingReminder, b, models.System, map[string]any{"start_at": b.StartAt, "end_at": b.EndAt})
	}
	return sent, nil
}

// GetBooking returns a booking to one of its parties. Hosts never see the
// client secret.
func (s *Service) GetBooking(ctx context.Context, actor models.Actor, bookingID int64) (*Result, error) {
	r := s.db.Repo()
	b, err := s.loadBooking(ctx, r, bookingID)
	if err != nil {
		return nil, err
	}
	party := actor.PartyOf(b)
	if party == "" {
		return nil, apperr.Forbidden("not a party to this booking")
	}
	p, err := s.ledger.CurrentPayment(ctx, r, b.ID)
	if err != nil {
		return nil, err
	}
	if p != nil && party == models.PartyHost {
		p.ClientSecret = ""
	}
	return &Result{Booking: b, Payment: p}, nil
}

// ListBookings returns bookings of a space touching [from, to). Only the
// host and admins see them.
func (s *Service) ListBookings(ctx context.Context, actor models.Actor, spaceID int64, from, to time.Time) ([]models.Booking, error) {
	if !from.Before(to) {
		return nil, apperr.Validation("from must be before to")
	}
	r := s.db.Repo()
	space, err := s.loadSpaceAny(ctx, r, spaceID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != space.HostID {
		return nil, apperr.Forbidden("only the host can list bookings")
	}
	out, err := r.ListBookingsBetween(ctx, spaceID, from, to)
	if err != nil {
		return nil, apperr.Internal(err, "list bookings")
	}
	return out, nil
}

func (s *Service) rejectPendingTimeChange(ctx context.Context, r *database.Repo, b *models.Booking, actor models.Actor) error {
	tc, err := r.GetPendingTimeChange(ctx, b.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err, "load time change")
	}
	if err := r.ResolveTimeChange(ctx, tc, models.TimeChangeRejected, actor.UserID); err != nil {
		return apperr.Internal(err, "reject time change")
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, r *database.Repo, b *models.Booking, to models.BookingStatus, by models.Party) error {
	err := r.UpdateBookingStatus(ctx, b, to, by)
	if errors.Is(err, database.ErrConcurrentModification) {
		return apperr.Conflict("", "booking %d changed concurrently", b.ID)
	}
	if err != nil {
		return apperr.Internal(err, "update booking")
	}
	return nil
}

func (s *Service) lockSpan(ctx context.Context, space *models.Space, spans ...models.Schedule) (func(), error) {
	var keys []string
	for _, sp := range spans {
		keys = append(keys, locker.SpaceDayKeys(space.ID, space.Location(), sp.StartAt, sp.EndAt)...)
	}
	unlock, err := s.locks.Lock(ctx, keys...)
	if err != nil {
		return nil, apperr.Dependency(err, "space is busy, retry")
	}
	return unlock, nil
}

func (s *Service) loadBooking(ctx context.Context, r *database.Repo, id int64) (*models.Booking, error) {
	b, err := r.GetBooking(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("booking %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load booking")
	}
	return b, nil
}

// loadSpace returns a bookable space.
func (s *Service) loadSpace(ctx context.Context, r *database.Repo, id int64) (*models.Space, error) {
	space, err := s.loadSpaceAny(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if space.Status != models.SpacePublished {
		return nil, apperr.Conflict(apperr.ReasonSpaceUnavailable, "space %d is not published", id)
	}
	return space, nil
}

func (s *Service) loadSpaceAny(ctx context.Context, r *database.Repo, id int64) (*models.Space, error) {
	space, err := r.GetSpace(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		// Bookings outlive their space's listing.
		space, err = r.GetSpaceAny(ctx, id)
	}
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
		s.logger.Error().Err(err).Msg("booking operation failed")
	}
}

func (s *Service) transitioned(ctx context.Context, b *models.Booking, from models.BookingStatus, actor models.Actor, payload map[string]any) {
	metrics.IncTransition(string(from), string(b.Status))
	s.logger.Info().Int64("booking_id", b.ID).Str("from", string(from)).Str("to", string(b.Status)).
		Int64("actor_id", actor.UserID).Msg("booking transitioned")

	var t events.Type
	switch b.Status {
	case models.StatusAccepted:
		t = events.BookingAccepted
	case models.StatusRejected:
		t = events.BookingRejected
	case models.StatusCancelled:
		t = events.BookingCancelled
	case models.StatusCompleted:
		t = events.BookingCompleted
	default:
		return
	}
	s.emit(ctx, t, b, actor, payload)
}

func (s *Service) emit(ctx context.Context, t events.Type, b *models.Booking, actor models.Actor, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ref"] = b.Ref
	payload["client_id"] = b.ClientID
	payload["host_id"] = b.HostID
	payload["space_id"] = b.SpaceID
	s.publisher.Publish(ctx, events.Event{
		Type:      t,
		BookingID: b.ID,
		ActorID:   actor.UserID,
		Payload:   payload,
		CreatedAt: s.now(),
	})
}
