// Package access manages the client blocklist.
package access

import (
	"context"

	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

// BlocklistRepository stores blocked users.
type BlocklistRepository interface {
	IsBlocked(ctx context.Context, userID int64) (bool, error)
	GetBlockedUser(ctx context.Context, userID int64) (*models.BlockedUser, error)
	BlockUser(ctx context.Context, userID int64, reason string, blockedBy int64) error
	UnblockUser(ctx context.Context, userID int64) error
	ListBlockedUsers(ctx context.Context) ([]models.BlockedUser, error)
}

// Service checks and edits the blocklist. Edits are admin-only.
type Service struct {
	blocklist BlocklistRepository
	logger    zerolog.Logger
}

func NewService(blocklist BlocklistRepository, logger zerolog.Logger) *Service {
	return &Service{
		blocklist: blocklist,
		logger:    logger.With().Str("component", "access").Logger(),
	}
}

// IsBlocked checks if a user is in the blocklist.
func (s *Service) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	return s.blocklist.IsBlocked(ctx, userID)
}

// GetBlockedUser returns blocked user details.
func (s *Service) GetBlockedUser(ctx context.Context, actor models.Actor, userID int64) (*models.BlockedUser, error) {
	if !actor.IsAdmin() && actor.UserID != userID {
		return nil, apperr.Forbidden("admin only")
	}
	bu, err := s.blocklist.GetBlockedUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "load blocked user")
	}
	if bu == nil {
		return nil, apperr.NotFound("user %d is not blocked", userID)
	}
	return bu, nil
}

// BlockUser adds a user to the blocklist.
func (s *Service) BlockUser(ctx context.Context, actor models.Actor, userID int64, reason string) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	if userID <= 0 {
		return apperr.Validation("user_id is required")
	}
	if userID == actor.UserID {
		return apperr.Validation("admins cannot block themselves")
	}
	if len(reason) > 500 {
		return apperr.Validation("reason is too long")
	}

	if err := s.blocklist.BlockUser(ctx, userID, reason, actor.UserID); err != nil {
		return apperr.Internal(err, "block user")
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int64("blocked_by", actor.UserID).
		Str("reason", reason).
		Msg("user blocked")

	return nil
}

// UnblockUser removes a user from the blocklist.
func (s *Service) UnblockUser(ctx context.Context, actor models.Actor, userID int64) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	if err := s.blocklist.UnblockUser(ctx, userID); err != nil {
		return apperr.Internal(err, "unblock user")
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int64("unblocked_by", actor.UserID).
		Msg("user unblocked")

	return nil
}

// ListBlockedUsers returns all blocked users.
func (s *Service) ListBlockedUsers(ctx context.Context, actor models.Actor) ([]models.BlockedUser, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	users, err := s.blocklist.ListBlockedUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list blocked users")
	}
	return users, nil
}
