package database

import (
	"context"
	"fmt"
	"time"

	"spacehire/internal/models"
)

const paymentColumns = `id, booking_id, gross_amount, stripe_fee, platform_fee, tax_fee, total_amount, currency,
	stripe_payment_intent_id, client_secret, status, attempt, superseded, created_at, updated_at`

// InsertPayment stores the current payment of a booking.
func (r *Repo) InsertPayment(ctx context.Context, p *models.Payment) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (booking_id, gross_amount, stripe_fee, platform_fee, tax_fee, total_amount, currency,
			stripe_payment_intent_id, client_secret, status, attempt, superseded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.BookingID, p.GrossAmount, p.StripeFee, p.PlatformFee, p.TaxFee, p.TotalAmount, p.Currency,
		p.StripePaymentIntentID, p.ClientSecret, p.Status, p.Attempt, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// GetCurrentPayment returns the non-superseded payment of a booking.
func (r *Repo) GetCurrentPayment(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var p models.Payment
	err := r.q.GetContext(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? AND superseded = 0`, bookingID)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.q.GetContext(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE stripe_payment_intent_id = ?`, intentID)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CountPayments returns how many payment rows a booking has, superseded included.
func (r *Repo) CountPayments(ctx context.Context, bookingID int64) (int, error) {
	var n int
	err := r.q.GetContext(ctx, &n, `SELECT COUNT(*) FROM payments WHERE booking_id = ?`, bookingID)
	return n, err
}

// TransitionPayment changes status only from the expected one.
func (r *Repo) TransitionPayment(ctx context.Context, p *models.Payment, to models.PaymentStatus) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, p.ID, p.Status)
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// UpdatePaymentAmounts rewrites amounts and intent of a payment, guarded on
// the status it was read with.
func (r *Repo) UpdatePaymentAmounts(ctx context.Context, p *models.Payment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE payments SET gross_amount = ?, stripe_fee = ?, platform_fee = ?, tax_fee = ?, total_amount = ?,
			stripe_payment_intent_id = ?, client_secret = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		p.GrossAmount, p.StripeFee, p.PlatformFee, p.TaxFee, p.TotalAmount,
		p.StripePaymentIntentID, p.ClientSecret, ts(time.Now()), p.ID, p.Status,
	)
	if err != nil {
		return fmt.Errorf("update payment amounts: %w", err)
	}
	return expectOne(res)
}

// SupersedePayment retires a failed payment so a new attempt can be stored.
func (r *Repo) SupersedePayment(ctx context.Context, p *models.Payment) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payments SET superseded = 1, updated_at = ? WHERE id = ? AND superseded = 0`,
		ts(time.Now()), p.ID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	p.Superseded = true
	return nil
}

// ListPaymentsUpdatedSince feeds ledger exports.
func (r *Repo) ListPaymentsUpdatedSince(ctx context.Context, since time.Time) ([]models.Payment, error) {
	var out []models.Payment
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+paymentColumns+` FROM payments WHERE updated_at >= ? ORDER BY id`, ts(since))
	return out, err
}

// SetPaymentFee stores the processor fee reported with a payment result.
func (r *Repo) SetPaymentFee(ctx context.Context, p *models.Payment, stripeFee int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE payments SET stripe_fee = ?, updated_at = ? WHERE id = ?`,
		stripeFee, ts(time.Now()), p.ID)
	if err != nil {
		return err
	}
	p.StripeFee = stripeFee
	return nil
}
