package database

import (
	"context"
	"fmt"
	"time"

	"spacehire/internal/models"
)

const timeChangeColumns = `id, booking_id, proposed_by, responded_by, old_start_at, old_end_at,
	new_start_at, new_end_at, status, created_at, updated_at`

// InsertTimeChange stores a pending proposal. A second pending proposal for
// the same booking violates a partial unique index and yields ErrDuplicate.
func (r *Repo) InsertTimeChange(ctx context.Context, tc *models.TimeChange) error {
	now := ts(time.Now())
	tc.OldStartAt, tc.OldEndAt = ts(tc.OldStartAt), ts(tc.OldEndAt)
	tc.NewStartAt, tc.NewEndAt = ts(tc.NewStartAt), ts(tc.NewEndAt)
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO time_changes (booking_id, proposed_by, old_start_at, old_end_at, new_start_at, new_end_at,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.BookingID, tc.ProposedBy, tc.OldStartAt, tc.OldEndAt, tc.NewStartAt, tc.NewEndAt,
		tc.Status, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert time change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tc.ID = id
	tc.CreatedAt, tc.UpdatedAt = now, now
	return nil
}

func (r *Repo) GetTimeChange(ctx context.Context, id int64) (*models.TimeChange, error) {
	var tc models.TimeChange
	if err := r.q.GetContext(ctx, &tc, `SELECT `+timeChangeColumns+` FROM time_changes WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &tc, nil
}

// GetPendingTimeChange returns the active proposal of a booking.
func (r *Repo) GetPendingTimeChange(ctx context.Context, bookingID int64) (*models.TimeChange, error) {
	var tc models.TimeChange
	err := r.q.GetContext(ctx, &tc,
		`SELECT `+timeChangeColumns+` FROM time_changes WHERE booking_id = ? AND status = ?`,
		bookingID, models.TimeChangePending)
	if err != nil {
		return nil, notFound(err)
	}
	return &tc, nil
}

// ResolveTimeChange moves a pending proposal to accepted or rejected.
func (r *Repo) ResolveTimeChange(ctx context.Context, tc *models.TimeChange, status models.TimeChangeStatus, responder int64) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		UPDATE time_changes SET status = ?, responded_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, responder, now, tc.ID, models.TimeChangePending,
	)
	if err != nil {
		return fmt.Errorf("resolve time change: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	tc.Status = status
	tc.RespondedBy = &responder
	tc.UpdatedAt = now
	return nil
}

// ListTimeChanges returns the proposal history of a booking, newest first.
func (r *Repo) ListTimeChanges(ctx context.Context, bookingID int64) ([]models.TimeChange, error) {
	var out []models.TimeChange
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+timeChangeColumns+` FROM time_changes WHERE booking_id = ? ORDER BY id DESC`, bookingID)
	return out, err
}
