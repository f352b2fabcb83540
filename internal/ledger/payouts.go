package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spacehire/internal/apperr"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/metrics"
	"spacehire/internal/models"
)

// payoutAccount is where a space's earnings go. Hosts without a configured
// account accrue to a per-host placeholder until one is set.
func payoutAccount(space *models.Space) string {
	if space.PayoutAccount != "" {
		return space.PayoutAccount
	}
	return fmt.Sprintf("host:%d", space.HostID)
}

// Accrue adds the booking's net earnings to its host's pending payout.
// An existing item makes it a no-op returning that item's payout.
func (l *Ledger) Accrue(ctx context.Context, r *database.Repo, b *models.Booking, space *models.Space) (*models.Payout, error) {
	if item, err := r.GetPayoutItemByBooking(ctx, b.ID); err == nil {
		p, err := r.GetPayout(ctx, item.PayoutID)
		if err != nil {
			return nil, apperr.Internal(err, "load payout")
		}
		return p, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err, "load payout item")
	}

	pay, err := l.CurrentPayment(ctx, r, b.ID)
	if err != nil {
		return nil, err
	}
	if pay == nil || pay.Status != models.PaymentSucceeded {
		return nil, apperr.InvalidTransition("booking %d has no captured payment", b.ID)
	}

	payout, err := r.OpenPayout(ctx, b.HostID, payoutAccount(space), pay.Currency)
	if err != nil {
		return nil, apperr.Internal(err, "open payout")
	}
	item := &models.PayoutItem{
		BookingID:   b.ID,
		GrossAmount: pay.GrossAmount,
		StripeFee:   pay.StripeFee,
		PlatformFee: pay.PlatformFee,
		TaxFee:      pay.TaxFee,
		NetAmount:   pay.NetAmount(),
	}
	if err := r.AddPayoutItem(ctx, payout, item); err != nil {
		return nil, apperr.Internal(err, "add payout item")
	}
	l.logger.Info().Int64("booking_id", b.ID).Int64("payout_id", payout.ID).Int64("net", item.NetAmount).
		Msg("booking accrued")
	return payout, nil
}

// AccrueBooking accrues a completed booking in its own transaction.
func (l *Ledger) AccrueBooking(ctx context.Context, bookingID int64) (*models.Payout, error) {
	var out *models.Payout
	err := l.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := r.GetBooking(ctx, bookingID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("booking %d not found", bookingID)
		}
		if err != nil {
			return apperr.Internal(err, "load booking")
		}
		if b.Status != models.StatusCompleted {
			return apperr.InvalidTransition("booking is %s, not completed", b.Status)
		}
		space, err := l.spaceOf(ctx, r, b.SpaceID)
		if err != nil {
			return err
		}
		out, err = l.Accrue(ctx, r, b, space)
		return err
	})
	return out, err
}

// spaceOf loads a space including soft-deleted ones; payouts outlive spaces.
func (l *Ledger) spaceOf(ctx context.Context, r *database.Repo, id int64) (*models.Space, error) {
	s, err := r.GetSpaceAny(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("space %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load space")
	}
	return s, nil
}

// GetPayout returns a payout with its items.
func (l *Ledger) GetPayout(ctx context.Context, id int64) (*models.Payout, []models.PayoutItem, error) {
	r := l.db.Repo()
	p, err := r.GetPayout(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, apperr.NotFound("payout %d not found", id)
	}
	if err != nil {
		return nil, nil, apperr.Internal(err, "load payout")
	}
	items, err := r.ListPayoutItems(ctx, id)
	if err != nil {
		return nil, nil, apperr.Internal(err, "load payout items")
	}
	return p, items, nil
}

// ProcessPayouts sends every pending payout with a positive amount, then
// re-queues failed payouts that still have attempts left. It returns how
// many payouts completed.
func (l *Ledger) ProcessPayouts(ctx context.Context) (int, error) {
	pending, err := l.db.Repo().ListPayoutsByStatus(ctx, models.PayoutPending, l.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending payouts: %w", err)
	}

	completed := 0
	for i := range pending {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		p := &pending[i]
		if p.Amount <= 0 {
			continue
		}
		ok, err := l.processOne(ctx, p)
		if err != nil {
			l.logger.Error().Err(err).Int64("payout_id", p.ID).Msg("payout processing failed")
			continue
		}
		if ok {
			completed++
		}
	}

	if err := l.RequeueFailed(ctx); err != nil {
		return completed, err
	}
	return completed, nil
}

// processOne claims a payout and transfers the amount stored at claim time.
// Items accrued after the claim open a new pending payout, so the transfer
// always matches the recorded total.
func (l *Ledger) processOne(ctx context.Context, p *models.Payout) (bool, error) {
	err := l.db.WithTx(ctx, func(r *database.Repo) error {
		if err := r.TransitionPayout(ctx, p, models.PayoutProcessing, "", "", 1); err != nil {
			return err
		}
		claimed, err := r.GetPayout(ctx, p.ID)
		if err != nil {
			return err
		}
		*p = *claimed
		return nil
	})
	if errors.Is(err, database.ErrConcurrentModification) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	transferID, terr := l.transfer(ctx, p, Key("payout", p.ID, "transfer", int64(p.Attempts)))

	to, lastErr := models.PayoutCompleted, ""
	if terr != nil {
		to, lastErr = models.PayoutFailed, terr.Error()
	}
	// Record the outcome even if the caller's context ended mid-transfer.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.db.WithTx(sctx, func(r *database.Repo) error {
		return r.TransitionPayout(sctx, p, to, transferID, lastErr, 0)
	}); err != nil {
		return false, err
	}

	metrics.IncPayout(string(to))
	ev := events.Event{
		Type: events.PayoutCompleted,
		Payload: map[string]any{
			"payout_id": p.ID, "host_id": p.HostID, "amount": p.Amount,
			"currency": p.Currency, "transfer_id": transferID,
		},
	}
	if terr != nil {
		ev.Type = events.PayoutFailed
		ev.Payload["error"] = lastErr
		ev.Payload["attempts"] = p.Attempts
		l.logger.Warn().Err(terr).Int64("payout_id", p.ID).Int("attempts", p.Attempts).Msg("payout transfer failed")
	} else {
		l.logger.Info().Int64("payout_id", p.ID).Str("transfer_id", transferID).Int64("amount", p.Amount).
			Msg("payout completed")
	}
	l.publisher.Publish(ctx, ev)
	return terr == nil, nil
}

// RequeueFailed moves failed payouts under the attempt limit back to pending.
func (l *Ledger) RequeueFailed(ctx context.Context) error {
	failed, err := l.db.Repo().ListPayoutsByStatus(ctx, models.PayoutFailed, l.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list failed payouts: %w", err)
	}
	for i := range failed {
		p := &failed[i]
		if p.Amount <= 0 || p.Attempts >= l.opts.MaxPayoutAttempts {
			continue
		}
		if err := l.db.WithTx(ctx, func(r *database.Repo) error { return l.requeue(ctx, r, p) }); err != nil {
			l.logger.Error().Err(err).Int64("payout_id", p.ID).Msg("payout requeue failed")
		}
	}
	return nil
}

// RetryPayout re-queues one failed payout regardless of its attempt count.
func (l *Ledger) RetryPayout(ctx context.Context, payoutID int64) (*models.Payout, error) {
	var out *models.Payout
	err := l.db.WithTx(ctx, func(r *database.Repo) error {
		p, err := r.GetPayout(ctx, payoutID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("payout %d not found", payoutID)
		}
		if err != nil {
			return apperr.Internal(err, "load payout")
		}
		if p.Status != models.PayoutFailed {
			return apperr.InvalidTransition("payout is %s", p.Status)
		}
		if err := l.requeue(ctx, r, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// requeue returns a failed payout to pending. When the account already has
// an open payout the items move there instead.
func (l *Ledger) requeue(ctx context.Context, r *database.Repo, p *models.Payout) error {
	err := r.TransitionPayout(ctx, p, models.PayoutPending, "", p.LastError, 0)
	if !errors.Is(err, database.ErrDuplicate) {
		return err
	}
	open, err := r.OpenPayout(ctx, p.HostID, p.AccountID, p.Currency)
	if err != nil {
		return err
	}
	if err := r.MovePayoutItems(ctx, p, open); err != nil {
		return err
	}
	*p = *open
	return nil
}
