// Package ledger owns the money side of a booking: payment intents, refunds,
// fees and host payouts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/metrics"
	"spacehire/internal/models"
	"spacehire/internal/payments"
)

// Options tune the ledger.
type Options struct {
	Fees              FeeSchedule
	ProcessorTimeout  time.Duration
	MaxPayoutAttempts int
	BatchSize         int
}

type Ledger struct {
	db        *database.DB
	proc      payments.Processor
	opts      Options
	publisher events.Publisher
	logger    zerolog.Logger
}

func New(db *database.DB, proc payments.Processor, opts Options, publisher events.Publisher, logger zerolog.Logger) *Ledger {
	if opts.ProcessorTimeout <= 0 {
		opts.ProcessorTimeout = 5 * time.Second
	}
	if opts.MaxPayoutAttempts <= 0 {
		opts.MaxPayoutAttempts = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Ledger{
		db:        db,
		proc:      proc,
		opts:      opts,
		publisher: publisher,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// Fees exposes the fee schedule.
func (l *Ledger) Fees() FeeSchedule { return l.opts.Fees }

func (l *Ledger) authorize(ctx context.Context, req payments.AuthorizeRequest) (*payments.Intent, error) {
	cctx, cancel := context.WithTimeout(ctx, l.opts.ProcessorTimeout)
	defer cancel()
	started := time.Now()
	in, err := l.proc.Authorize(cctx, req)
	metrics.ObserveProcessor("authorize", started, err)
	if err != nil {
		return nil, apperr.Dependency(err, "payment authorization failed")
	}
	return in, nil
}

func (l *Ledger) refund(ctx context.Context, intentID string, amount int64, key string) error {
	cctx, cancel := context.WithTimeout(ctx, l.opts.ProcessorTimeout)
	defer cancel()
	started := time.Now()
	err := l.proc.Refund(cctx, intentID, amount, key)
	metrics.ObserveProcessor("refund", started, err)
	if err != nil {
		return apperr.Dependency(err, "refund failed")
	}
	return nil
}

func (l *Ledger) transfer(ctx context.Context, p *models.Payout, key string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, l.opts.ProcessorTimeout)
	defer cancel()
	started := time.Now()
	id, err := l.proc.Transfer(cctx, p.AccountID, p.Amount, p.Currency, key)
	metrics.ObserveProcessor("transfer", started, err)
	return id, err
}

// Authorize creates a payment intent for the booking's gross amount and
// stores it as the current payment. It runs inside the caller's transaction
// so a failure rolls the booking change back.
func (l *Ledger) Authorize(ctx context.Context, r *database.Repo, b *models.Booking, space *models.Space, attempt int) (*models.Payment, error) {
	in, err := l.authorize(ctx, payments.AuthorizeRequest{
		Amount:   b.GrossAmount,
		Currency: b.Currency,
		Metadata: map[string]string{
			"booking_ref": b.Ref,
			"space_id":    fmt.Sprint(b.SpaceID),
		},
		IdempotencyKey: BookingKey(b.ID, "authorize", int64(attempt)),
	})
	if err != nil {
		return nil, err
	}

	fees := l.opts.Fees.Compute(b.GrossAmount, in.Fee, space.Jurisdiction)
	p := &models.Payment{
		BookingID:             b.ID,
		GrossAmount:           b.GrossAmount,
		StripeFee:             fees.StripeFee,
		PlatformFee:           fees.PlatformFee,
		TaxFee:                fees.TaxFee,
		TotalAmount:           Total(b.GrossAmount, fees),
		Currency:              b.Currency,
		StripePaymentIntentID: in.ID,
		ClientSecret:          in.ClientSecret,
		Status:                models.PaymentPending,
		Attempt:               attempt,
	}
	if err := r.InsertPayment(ctx, p); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("", "booking already has a current payment")
		}
		return nil, apperr.Internal(err, "store payment")
	}
	return p, nil
}

// CurrentPayment returns the booking's current payment or nil.
func (l *Ledger) CurrentPayment(ctx context.Context, r *database.Repo, bookingID int64) (*models.Payment, error) {
	p, err := r.GetCurrentPayment(ctx, bookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load payment")
	}
	return p, nil
}

// Release settles the money of a booking that is being cancelled: a
// captured payment is refunded, a pending one is cancelled. attempt feeds
// the idempotency key.
func (l *Ledger) Release(ctx context.Context, r *database.Repo, b *models.Booking, attempt int64) (*models.Payment, error) {
	p, err := l.CurrentPayment(ctx, r, b.ID)
	if err != nil || p == nil {
		return nil, err
	}
	switch p.Status {
	case models.PaymentSucceeded:
		if err := l.refund(ctx, p.StripePaymentIntentID, p.TotalAmount, BookingKey(b.ID, "refund", attempt)); err != nil {
			return nil, err
		}
		return p, l.transition(ctx, r, p, models.PaymentRefunded)
	case models.PaymentPending:
		return p, l.transition(ctx, r, p, models.PaymentCancelled)
	default:
		return p, nil
	}
}

func (l *Ledger) transition(ctx context.Context, r *database.Repo, p *models.Payment, to models.PaymentStatus) error {
	if !CanTransitionPayment(p.Status, to) {
		return apperr.InvalidTransition("payment %s cannot move to %s", p.Status, to)
	}
	if err := r.TransitionPayment(ctx, p, to); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return apperr.Conflict("", "payment changed concurrently")
		}
		return apperr.Internal(err, "update payment")
	}
	return nil
}

// ResultOutcome reports what ApplyResult did.
type ResultOutcome int

const (
	// OutcomeNoop means the result was already recorded.
	OutcomeNoop ResultOutcome = iota
	OutcomeSucceeded
	OutcomeFailed
	// OutcomeRefunded means money arrived for a cancelled payment and was
	// returned at once.
	OutcomeRefunded
)

// ApplyResult records a processor result on a payment. Repeating the same
// result is a no-op.
func (l *Ledger) ApplyResult(ctx context.Context, r *database.Repo, p *models.Payment, succeeded bool, stripeFee *int64) (ResultOutcome, error) {
	want := models.PaymentFailed
	if succeeded {
		want = models.PaymentSucceeded
	}

	switch {
	case p.Status == want:
		return OutcomeNoop, nil
	case succeeded && p.Status == models.PaymentRefunded:
		return OutcomeNoop, nil
	case succeeded && p.Status == models.PaymentCancelled:
		if err := l.refund(ctx, p.StripePaymentIntentID, p.TotalAmount, BookingKey(p.BookingID, "late-refund", int64(p.Attempt))); err != nil {
			return OutcomeNoop, err
		}
		if err := r.TransitionPayment(ctx, p, models.PaymentRefunded); err != nil {
			return OutcomeNoop, apperr.Internal(err, "update payment")
		}
		return OutcomeRefunded, nil
	case p.Status != models.PaymentPending:
		return OutcomeNoop, apperr.InvalidTransition("payment is %s", p.Status)
	}

	if stripeFee != nil && *stripeFee >= 0 && *stripeFee != p.StripeFee {
		if err := r.SetPaymentFee(ctx, p, *stripeFee); err != nil {
			return OutcomeNoop, apperr.Internal(err, "update payment fee")
		}
	}
	if err := l.transition(ctx, r, p, want); err != nil {
		return OutcomeNoop, err
	}
	if succeeded {
		return OutcomeSucceeded, nil
	}
	return OutcomeFailed, nil
}

// Reprice brings the money in line with a rescheduled booking whose gross
// changes from b.GrossAmount to newGross.
func (l *Ledger) Reprice(ctx context.Context, r *database.Repo, b *models.Booking, space *models.Space, newGross int64) error {
	if newGross == b.GrossAmount {
		return nil
	}

	item, err := r.GetPayoutItemByBooking(ctx, b.ID)
	switch {
	case err == nil:
		return l.repriceItem(ctx, r, item, space, newGross)
	case !errors.Is(err, database.ErrNotFound):
		return apperr.Internal(err, "load payout item")
	}

	p, err := l.CurrentPayment(ctx, r, b.ID)
	if err != nil || p == nil {
		return err
	}
	switch p.Status {
	case models.PaymentPending:
		in, err := l.authorize(ctx, payments.AuthorizeRequest{
			Amount:         newGross,
			Currency:       p.Currency,
			Metadata:       map[string]string{"booking_ref": b.Ref},
			IdempotencyKey: BookingKey(b.ID, "reauthorize", b.Version),
		})
		if err != nil {
			return err
		}
		fees := l.opts.Fees.Compute(newGross, in.Fee, space.Jurisdiction)
		p.GrossAmount = newGross
		p.StripeFee, p.PlatformFee, p.TaxFee = fees.StripeFee, fees.PlatformFee, fees.TaxFee
		p.TotalAmount = Total(newGross, fees)
		p.StripePaymentIntentID, p.ClientSecret = in.ID, in.ClientSecret
		if err := r.UpdatePaymentAmounts(ctx, p); err != nil {
			return apperr.Internal(err, "update payment")
		}
		return nil
	case models.PaymentSucceeded:
		if newGross > b.GrossAmount {
			return apperr.Conflict(apperr.ReasonPaymentCaptured, "payment already captured; a longer booking needs a new payment")
		}
		return l.refundDifference(ctx, r, b, p, space, newGross)
	default:
		// Failed or cancelled payments are replaced at the next attempt,
		// which uses the booking's new gross.
		return nil
	}
}

// refundDifference shrinks a captured payment to newGross and refunds the
// difference. The captured processor fee is kept. The row is updated before
// the refund so a declined refund rolls the whole reschedule back.
func (l *Ledger) refundDifference(ctx context.Context, r *database.Repo, b *models.Booking, p *models.Payment, space *models.Space, newGross int64) error {
	fees := l.opts.Fees.Compute(newGross, p.StripeFee, space.Jurisdiction)
	total := Total(newGross, fees)
	delta := p.TotalAmount - total
	p.GrossAmount = newGross
	p.PlatformFee, p.TaxFee = fees.PlatformFee, fees.TaxFee
	p.TotalAmount = total
	if err := r.UpdatePaymentAmounts(ctx, p); err != nil {
		return apperr.Internal(err, "update payment")
	}
	if delta <= 0 {
		return nil
	}
	return l.refund(ctx, p.StripePaymentIntentID, delta, BookingKey(b.ID, "reprice-refund", b.Version))
}

func (l *Ledger) repriceItem(ctx context.Context, r *database.Repo, item *models.PayoutItem, space *models.Space, newGross int64) error {
	payout, err := r.GetPayout(ctx, item.PayoutID)
	if err != nil {
		return apperr.Internal(err, "load payout")
	}
	if payout.Status != models.PayoutPending {
		return apperr.Conflict(apperr.ReasonPayoutFinalized, "payout %d is %s", payout.ID, payout.Status)
	}
	fees := l.opts.Fees.Compute(newGross, item.StripeFee, space.Jurisdiction)
	item.GrossAmount = newGross
	item.PlatformFee, item.TaxFee = fees.PlatformFee, fees.TaxFee
	if err := r.UpdatePayoutItem(ctx, payout, item, Net(newGross, fees)); err != nil {
		return apperr.Internal(err, "update payout item")
	}
	return nil
}
