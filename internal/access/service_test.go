package access

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

type mockBlocklist struct {
	mock.Mock
}

func (m *mockBlocklist) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBlocklist) GetBlockedUser(ctx context.Context, userID int64) (*models.BlockedUser, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockedUser), args.Error(1)
}

func (m *mockBlocklist) BlockUser(ctx context.Context, userID int64, reason string, blockedBy int64) error {
	return m.Called(ctx, userID, reason, blockedBy).Error(0)
}

func (m *mockBlocklist) UnblockUser(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockBlocklist) ListBlockedUsers(ctx context.Context) ([]models.BlockedUser, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlockedUser), args.Error(1)
}

var (
	admin = models.Actor{UserID: 1, Role: models.RoleAdmin}
	user  = models.Actor{UserID: 42, Role: models.RoleUser}
)

func TestBlockUser(t *testing.T) {
	ctx := context.Background()

	t.Run("admin blocks", func(t *testing.T) {
		repo := new(mockBlocklist)
		repo.On("BlockUser", ctx, int64(42), "no-show", int64(1)).Return(nil)
		svc := NewService(repo, zerolog.Nop())

		require.NoError(t, svc.BlockUser(ctx, admin, 42, "no-show"))
		repo.AssertExpectations(t)
	})

	t.Run("non admin refused", func(t *testing.T) {
		repo := new(mockBlocklist)
		svc := NewService(repo, zerolog.Nop())

		err := svc.BlockUser(ctx, user, 43, "")
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
		repo.AssertNotCalled(t, "BlockUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("self block refused", func(t *testing.T) {
		svc := NewService(new(mockBlocklist), zerolog.Nop())
		err := svc.BlockUser(ctx, admin, admin.UserID, "")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("storage failure is internal", func(t *testing.T) {
		repo := new(mockBlocklist)
		repo.On("BlockUser", ctx, int64(42), "", int64(1)).Return(errors.New("disk full"))
		svc := NewService(repo, zerolog.Nop())

		err := svc.BlockUser(ctx, admin, 42, "")
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	})
}

func TestUnblockAndList(t *testing.T) {
	ctx := context.Background()
	repo := new(mockBlocklist)
	repo.On("UnblockUser", ctx, int64(42)).Return(nil)
	repo.On("ListBlockedUsers", ctx).Return([]models.BlockedUser{{UserID: 7, Reason: "fraud"}}, nil)
	svc := NewService(repo, zerolog.Nop())

	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(svc.UnblockUser(ctx, user, 42)))
	require.NoError(t, svc.UnblockUser(ctx, admin, 42))

	_, err := svc.ListBlockedUsers(ctx, user)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	users, err := svc.ListBlockedUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	repo.AssertExpectations(t)
}

func TestGetBlockedUser(t *testing.T) {
	ctx := context.Background()
	repo := new(mockBlocklist)
	repo.On("GetBlockedUser", ctx, int64(42)).Return(&models.BlockedUser{UserID: 42, Reason: "spam"}, nil)
	repo.On("GetBlockedUser", ctx, int64(43)).Return(nil, nil)
	svc := NewService(repo, zerolog.Nop())

	bu, err := svc.GetBlockedUser(ctx, user, 42)
	require.NoError(t, err, "users may see their own entry")
	assert.Equal(t, "spam", bu.Reason)

	_, err = svc.GetBlockedUser(ctx, user, 43)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = svc.GetBlockedUser(ctx, admin, 43)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
