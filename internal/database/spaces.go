package database

import (
	"context"
	"fmt"
	"time"

	"spacehire/internal/config"
	"spacehire/internal/models"
)

const spaceColumns = `id, host_id, name, rate_per_hour, min_hours, discount_hours, discount_percent,
	status, timezone, jurisdiction, payout_account, created_at, updated_at`

// GetSpace returns a non-deleted space.
func (r *Repo) GetSpace(ctx context.Context, id int64) (*models.Space, error) {
	var s models.Space
	err := r.q.GetContext(ctx, &s,
		`SELECT `+spaceColumns+` FROM spaces WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// GetSpaceAny also returns soft-deleted spaces; history and payouts need them.
func (r *Repo) GetSpaceAny(ctx context.Context, id int64) (*models.Space, error) {
	var s models.Space
	if err := r.q.GetContext(ctx, &s, `SELECT `+spaceColumns+` FROM spaces WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// UpsertSpace inserts or updates a space by id, preserving created_at.
func (r *Repo) UpsertSpace(ctx context.Context, s *models.Space) error {
	now := ts(time.Now())
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := models.ParseTimezone(s.Timezone); err != nil {
		return fmt.Errorf("upsert space %d: %w", s.ID, err)
	}
	if s.Status == "" {
		s.Status = models.SpaceDraft
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO spaces (id, host_id, name, rate_per_hour, min_hours, discount_hours, discount_percent,
			status, timezone, jurisdiction, payout_account, created_at, updated_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id = excluded.host_id,
			name = excluded.name,
			rate_per_hour = excluded.rate_per_hour,
			min_hours = excluded.min_hours,
			discount_hours = excluded.discount_hours,
			discount_percent = excluded.discount_percent,
			status = excluded.status,
			timezone = excluded.timezone,
			jurisdiction = excluded.jurisdiction,
			payout_account = excluded.payout_account,
			deleted_at = NULL,
			updated_at = excluded.updated_at`,
		s.ID, s.HostID, s.Name, s.RatePerHour, s.MinHours, s.DiscountHours, s.DiscountPercent,
		s.Status, s.Timezone, s.Jurisdiction, s.PayoutAccount, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert space: %w", err)
	}
	if s.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		s.ID = id
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return nil
}

// SetSpaceStatus switches a space between draft and published.
func (r *Repo) SetSpaceStatus(ctx context.Context, id int64, status models.SpaceStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE spaces SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		status, ts(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAvailability returns all availability rows of a space.
func (r *Repo) ListAvailability(ctx context.Context, spaceID int64) ([]models.Availability, error) {
	var rows []models.Availability
	err := r.q.SelectContext(ctx, &rows,
		`SELECT id, space_id, day, start_time, end_time FROM availability WHERE space_id = ? ORDER BY day, start_time`,
		spaceID)
	return rows, err
}

// ReplaceAvailability swaps all rows of a space for the given ones.
func (r *Repo) ReplaceAvailability(ctx context.Context, spaceID int64, rows []models.Availability) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM availability WHERE space_id = ?`, spaceID); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}
	for _, a := range rows {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO availability (space_id, day, start_time, end_time) VALUES (?, ?, ?, ?)`,
			spaceID, a.Day, a.StartTime, a.EndTime); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}
	return nil
}

// CountActiveBookings counts bookings that still hold a slot on the space.
func (r *Repo) CountActiveBookings(ctx context.Context, spaceID int64) (int, error) {
	var n int
	err := r.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bookings WHERE space_id = ? AND status IN (?, ?, ?)`,
		spaceID, models.StatusPaymentPending, models.StatusRequestPending, models.StatusAccepted)
	return n, err
}

// DeleteSpace drops the availability rows and hides the space. Booking
// history keeps its reference. Callers check active bookings first.
func (r *Repo) DeleteSpace(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM availability WHERE space_id = ?`, id); err != nil {
		return err
	}
	now := ts(time.Now())
	res, err := r.q.ExecContext(ctx,
		`UPDATE spaces SET deleted_at = ?, status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, models.SpaceDraft, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSpaceIDs returns ids of all non-deleted spaces.
func (r *Repo) ListSpaceIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.q.SelectContext(ctx, &ids, `SELECT id FROM spaces WHERE deleted_at IS NULL ORDER BY id`)
	return ids, err
}

// SyncSpacesFromConfig applies spaces.yaml: upserts spaces, replaces their
// availability and removes spaces that disappeared. A removed space that
// still has active bookings is demoted to draft instead. It returns the ids
// whose availability changed.
func (db *DB) SyncSpacesFromConfig(ctx context.Context, cfg *config.SpacesConfig) ([]int64, error) {
	if cfg == nil {
		return nil, fmt.Errorf("spaces config is nil")
	}

	var touched []int64
	err := db.WithTx(ctx, func(r *Repo) error {
		seen := make(map[int64]struct{})
		for i := range cfg.Spaces {
			sc := &cfg.Spaces[i]
			if err := r.UpsertSpace(ctx, sc.Model()); err != nil {
				return fmt.Errorf("sync space %d: %w", sc.ID, err)
			}
			if err := r.ReplaceAvailability(ctx, sc.ID, sc.Rows()); err != nil {
				return fmt.Errorf("sync space %d availability: %w", sc.ID, err)
			}
			seen[sc.ID] = struct{}{}
			touched = append(touched, sc.ID)
		}

		ids, err := r.ListSpaceIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			active, err := r.CountActiveBookings(ctx, id)
			if err != nil {
				return err
			}
			if active > 0 {
				if err := r.SetSpaceStatus(ctx, id, models.SpaceDraft); err != nil {
					return err
				}
				db.logger.Warn().Int64("space_id", id).Int("active_bookings", active).
					Msg("space removed from config but has active bookings; unpublished instead")
				continue
			}
			if err := r.DeleteSpace(ctx, id); err != nil {
				return fmt.Errorf("delete space %d: %w", id, err)
			}
			touched = append(touched, id)
		}
		return nil
	})
	return touched, err
}
