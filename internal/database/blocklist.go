package database

import (
	"context"
	"errors"
	"time"

	"spacehire/internal/models"
)

// IsBlocked checks if a user is blocked.
func (r *Repo) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := r.q.GetContext(ctx, &count, `SELECT COUNT(*) FROM blocked_users WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetBlockedUser returns blocked user details, nil when the user is not blocked.
func (r *Repo) GetBlockedUser(ctx context.Context, userID int64) (*models.BlockedUser, error) {
	var bu models.BlockedUser
	err := r.q.GetContext(ctx, &bu,
		`SELECT user_id, blocked_at, reason, blocked_by FROM blocked_users WHERE user_id = ?`, userID)
	if errors.Is(notFound(err), ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bu, nil
}

// BlockUser adds a user to the blocklist.
func (r *Repo) BlockUser(ctx context.Context, userID int64, reason string, blockedBy int64) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO blocked_users (user_id, blocked_at, reason, blocked_by)
		VALUES (?, ?, ?, ?)`,
		userID, ts(time.Now()), reason, blockedBy,
	)
	return err
}

// UnblockUser removes a user from the blocklist.
func (r *Repo) UnblockUser(ctx context.Context, userID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM blocked_users WHERE user_id = ?`, userID)
	return err
}

// ListBlockedUsers returns all blocked users.
func (r *Repo) ListBlockedUsers(ctx context.Context) ([]models.BlockedUser, error) {
	var users []models.BlockedUser
	err := r.q.SelectContext(ctx, &users,
		`SELECT user_id, blocked_at, reason, blocked_by FROM blocked_users ORDER BY blocked_at DESC`)
	return users, err
}
