package database

import (
	"context"
	"fmt"
	"time"

	"spacehire/internal/models"
)

const payoutColumns = `id, host_id, account_id, amount, currency, status, attempts, transfer_id, last_error,
	created_at, updated_at`

const payoutItemColumns = `id, payout_id, booking_id, gross_amount, stripe_fee, platform_fee, tax_fee,
	net_amount, created_at`

func (r *Repo) GetPayout(ctx context.Context, id int64) (*models.Payout, error) {
	var p models.Payout
	if err := r.q.GetContext(ctx, &p, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// OpenPayout returns the pending payout of an account, creating it if needed.
func (r *Repo) OpenPayout(ctx context.Context, hostID int64, accountID, currency string) (*models.Payout, error) {
	var p models.Payout
	err := r.q.GetContext(ctx, &p,
		`SELECT `+payoutColumns+` FROM payouts WHERE account_id = ? AND currency = ? AND status = ?`,
		accountID, currency, models.PayoutPending)
	if err == nil {
		return &p, nil
	}
	if notFound(err) != ErrNotFound {
		return nil, err
	}

	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payouts (host_id, account_id, amount, currency, status, attempts, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, 0, ?, ?)`,
		hostID, accountID, currency, models.PayoutPending, now, now)
	if err != nil {
		return nil, fmt.Errorf("open payout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Payout{
		ID: id, HostID: hostID, AccountID: accountID, Currency: currency,
		Status: models.PayoutPending, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetPayoutItemByBooking returns the line item of a booking.
func (r *Repo) GetPayoutItemByBooking(ctx context.Context, bookingID int64) (*models.PayoutItem, error) {
	var it models.PayoutItem
	err := r.q.GetContext(ctx, &it,
		`SELECT `+payoutItemColumns+` FROM payout_items WHERE booking_id = ?`, bookingID)
	if err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

// AddPayoutItem appends a line to a pending payout and bumps its amount.
func (r *Repo) AddPayoutItem(ctx context.Context, p *models.Payout, it *models.PayoutItem) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payout_items (payout_id, booking_id, gross_amount, stripe_fee, platform_fee, tax_fee,
			net_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, it.BookingID, it.GrossAmount, it.StripeFee, it.PlatformFee, it.TaxFee, it.NetAmount, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payout item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID, it.PayoutID, it.CreatedAt = id, p.ID, now
	return r.adjustPayoutAmount(ctx, p, it.NetAmount)
}

// UpdatePayoutItem rewrites a line of a pending payout and adjusts the sum.
func (r *Repo) UpdatePayoutItem(ctx context.Context, p *models.Payout, it *models.PayoutItem, newNet int64) error {
	delta := newNet - it.NetAmount
	_, err := r.q.ExecContext(ctx, `
		UPDATE payout_items SET gross_amount = ?, stripe_fee = ?, platform_fee = ?, tax_fee = ?, net_amount = ?
		WHERE id = ?`,
		it.GrossAmount, it.StripeFee, it.PlatformFee, it.TaxFee, newNet, it.ID)
	if err != nil {
		return fmt.Errorf("update payout item: %w", err)
	}
	it.NetAmount = newNet
	return r.adjustPayoutAmount(ctx, p, delta)
}

func (r *Repo) adjustPayoutAmount(ctx context.Context, p *models.Payout, delta int64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET amount = amount + ?, updated_at = ? WHERE id = ? AND status = ?`,
		delta, ts(time.Now()), p.ID, models.PayoutPending)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	p.Amount += delta
	return nil
}

// TransitionPayout moves a payout from its current status. transferID and
// lastErr are stored when non-empty; attempts grows by attemptDelta.
func (r *Repo) TransitionPayout(ctx context.Context, p *models.Payout, to models.PayoutStatus, transferID, lastErr string, attemptDelta int) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		UPDATE payouts SET status = ?, transfer_id = CASE WHEN ? != '' THEN ? ELSE transfer_id END,
			last_error = ?, attempts = attempts + ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, transferID, transferID, lastErr, attemptDelta, now, p.ID, p.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("transition payout: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	p.Status = to
	if transferID != "" {
		p.TransferID = transferID
	}
	p.LastError = lastErr
	p.Attempts += attemptDelta
	p.UpdatedAt = now
	return nil
}

// ListPayoutsByStatus returns payouts in the given status, oldest first.
func (r *Repo) ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus, limit int) ([]models.Payout, error) {
	var out []models.Payout
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+payoutColumns+` FROM payouts WHERE status = ? ORDER BY id LIMIT ?`, status, limit)
	return out, err
}

// ListPayoutsUpdatedSince feeds ledger exports and the sheets mirror.
func (r *Repo) ListPayoutsUpdatedSince(ctx context.Context, since time.Time) ([]models.Payout, error) {
	var out []models.Payout
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+payoutColumns+` FROM payouts WHERE updated_at >= ? ORDER BY id`, ts(since))
	return out, err
}

func (r *Repo) ListPayoutItems(ctx context.Context, payoutID int64) ([]models.PayoutItem, error) {
	var out []models.PayoutItem
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+payoutItemColumns+` FROM payout_items WHERE payout_id = ? ORDER BY id`, payoutID)
	return out, err
}

// MovePayoutItems re-homes every item of from onto the pending payout to.
// from keeps its status with a zero amount.
func (r *Repo) MovePayoutItems(ctx context.Context, from, to *models.Payout) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE payout_items SET payout_id = ? WHERE payout_id = ?`, to.ID, from.ID); err != nil {
		return fmt.Errorf("move payout items: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`UPDATE payouts SET amount = 0, updated_at = ? WHERE id = ?`, ts(time.Now()), from.ID); err != nil {
		return err
	}
	moved := from.Amount
	from.Amount = 0
	return r.adjustPayoutAmount(ctx, to, moved)
}
