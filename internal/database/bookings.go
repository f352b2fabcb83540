package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spacehire/internal/models"
)

const bookingColumns = `id, ref, client_id, host_id, space_id, vehicle_id, license_plate, day,
	start_at, end_at, gross_amount, currency, status, type, canceled_by, version, created_at, updated_at`

// InsertBooking stores a new booking and fills its id.
func (r *Repo) InsertBooking(ctx context.Context, b *models.Booking) error {
	now := ts(time.Now())
	b.StartAt, b.EndAt = ts(b.StartAt), ts(b.EndAt)
	b.Version = 1
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO bookings (ref, client_id, host_id, space_id, vehicle_id, license_plate, day,
			start_at, end_at, gross_amount, currency, status, type, canceled_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Ref, b.ClientID, b.HostID, b.SpaceID, b.VehicleID, b.LicensePlate, b.Day,
		b.StartAt, b.EndAt, b.GrossAmount, b.Currency, b.Status, b.Type, b.CanceledBy, b.Version, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

func (r *Repo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	if err := r.q.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *Repo) GetBookingByRef(ctx context.Context, ref string) (*models.Booking, error) {
	var b models.Booking
	if err := r.q.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE ref = ?`, ref); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking to status if its version still matches.
// On success b carries the new status and version.
func (r *Repo) UpdateBookingStatus(ctx context.Context, b *models.Booking, status models.BookingStatus, canceledBy models.Party) error {
	now := ts(time.Now())
	var cb sql.NullString
	if canceledBy != "" {
		cb = sql.NullString{String: string(canceledBy), Valid: true}
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE bookings SET status = ?, canceled_by = COALESCE(?, canceled_by), version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		status, cb, now, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	b.Status = status
	if cb.Valid {
		b.CanceledBy = cb
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}

// UpdateBookingSchedule rewrites the realized interval and gross amount under
// the optimistic version guard.
func (r *Repo) UpdateBookingSchedule(ctx context.Context, b *models.Booking, s models.Schedule, day string, gross int64) error {
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx, `
		UPDATE bookings SET start_at = ?, end_at = ?, day = ?, gross_amount = ?, reminded_at = NULL,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		ts(s.StartAt), ts(s.EndAt), day, gross, now, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking schedule: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	b.StartAt, b.EndAt, b.Day, b.GrossAmount = ts(s.StartAt), ts(s.EndAt), day, gross
	b.Version++
	b.UpdatedAt = now
	return nil
}

// ListBlockingBookings returns active bookings on the space overlapping
// [from, to), skipping excludeID.
func (r *Repo) ListBlockingBookings(ctx context.Context, spaceID int64, from, to time.Time, excludeID int64) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE space_id = ? AND id != ? AND status IN (?, ?, ?)
		  AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		spaceID, excludeID, models.StatusPaymentPending, models.StatusRequestPending, models.StatusAccepted,
		ts(to), ts(from),
	)
	return out, err
}

// ListBookingsBetween returns bookings of a space whose interval touches [from, to).
func (r *Repo) ListBookingsBetween(ctx context.Context, spaceID int64, from, to time.Time) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE space_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		spaceID, ts(to), ts(from),
	)
	return out, err
}

// ListExpiredPaymentPending returns payment-pending bookings created before cutoff.
func (r *Repo) ListExpiredPaymentPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND created_at < ?
		ORDER BY created_at LIMIT ?`,
		models.StatusPaymentPending, ts(cutoff), limit,
	)
	return out, err
}

// ListDueForCompletion returns accepted bookings that ended at or before now.
func (r *Repo) ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND end_at <= ?
		ORDER BY end_at LIMIT ?`,
		models.StatusAccepted, ts(now), limit,
	)
	return out, err
}

// ListUpcomingUnreminded returns accepted bookings starting in (from, to]
// that have not been reminded about.
func (r *Repo) ListUpcomingUnreminded(ctx context.Context, from, to time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND start_at > ? AND start_at <= ? AND reminded_at IS NULL
		ORDER BY start_at LIMIT ?`,
		models.StatusAccepted, ts(from), ts(to), limit,
	)
	return out, err
}

// MarkReminded claims the reminder of a booking. It reports false when the
// reminder was already claimed.
func (r *Repo) MarkReminded(ctx context.Context, bookingID int64, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE bookings SET reminded_at = ? WHERE id = ? AND reminded_at IS NULL`, ts(at), bookingID)
	if err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListBookingsUpdatedSince feeds ledger exports.
func (r *Repo) ListBookingsUpdatedSince(ctx context.Context, since time.Time) ([]models.Booking, error) {
	var out []models.Booking
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings WHERE updated_at >= ? ORDER BY id`, ts(since))
	return out, err
}

// GetBookingLog returns the check-in/out record, ErrNotFound if none.
func (r *Repo) GetBookingLog(ctx context.Context, bookingID int64) (*models.BookingLog, error) {
	var l models.BookingLog
	err := r.q.GetContext(ctx, &l,
		`SELECT id, booking_id, check_in_at, check_out_at FROM booking_logs WHERE booking_id = ?`, bookingID)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// RecordCheckIn creates the booking log with a check-in instant.
func (r *Repo) RecordCheckIn(ctx context.Context, bookingID int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO booking_logs (booking_id, check_in_at) VALUES (?, ?)
		ON CONFLICT(booking_id) DO UPDATE SET check_in_at = COALESCE(booking_logs.check_in_at, excluded.check_in_at)`,
		bookingID, ts(at))
	return err
}

// RecordCheckOut stamps check-out on an existing log.
func (r *Repo) RecordCheckOut(ctx context.Context, bookingID int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE booking_logs SET check_out_at = ? WHERE booking_id = ? AND check_in_at IS NOT NULL AND check_out_at IS NULL`,
		ts(at), bookingID)
	if err != nil {
		return err
	}
	return expectOne(res)
}
