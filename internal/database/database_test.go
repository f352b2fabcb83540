package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacehire/internal/config"
	"spacehire/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), Options{}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSpace(t *testing.T, db *DB) *models.Space {
	t.Helper()
	s := &models.Space{
		ID: 1, HostID: 100, Name: "Loft", RatePerHour: 6000,
		Status: models.SpacePublished, Timezone: "UTC", PayoutAccount: "acct_1",
	}
	require.NoError(t, db.Repo().UpsertSpace(context.Background(), s))
	return s
}

func newBooking(spaceID int64, ref string, start time.Time, hours int) *models.Booking {
	return &models.Booking{
		Ref: ref, ClientID: 200, HostID: 100, SpaceID: spaceID,
		Day: start.Format("2006-01-02"), StartAt: start, EndAt: start.Add(time.Duration(hours) * time.Hour),
		GrossAmount: int64(hours) * 6000, Currency: "usd",
		Status: models.StatusPaymentPending, Type: models.TypeNormal,
	}
}

func TestBookingVersionGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)
	r := db.Repo()

	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	b := newBooking(1, "BK-1", start, 2)
	require.NoError(t, r.InsertBooking(ctx, b))
	require.NotZero(t, b.ID)
	assert.EqualValues(t, 1, b.Version)

	stale := *b
	require.NoError(t, r.UpdateBookingStatus(ctx, b, models.StatusAccepted, ""))
	assert.EqualValues(t, 2, b.Version)

	err := r.UpdateBookingStatus(ctx, &stale, models.StatusCancelled, models.PartyClient)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := r.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.True(t, got.StartAt.Equal(start))
	assert.Equal(t, models.Party(""), got.CancelledBy())

	_, err = r.GetBooking(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	dup := newBooking(1, "BK-1", start.Add(24*time.Hour), 1)
	assert.ErrorIs(t, r.InsertBooking(ctx, dup), ErrDuplicate)
}

func TestListBlockingBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)
	r := db.Repo()

	base := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	a := newBooking(1, "A", base, 2)
	b := newBooking(1, "B", base.Add(3*time.Hour), 1)
	c := newBooking(1, "C", base.Add(5*time.Hour), 1)
	for _, bk := range []*models.Booking{a, b, c} {
		require.NoError(t, r.InsertBooking(ctx, bk))
	}
	require.NoError(t, r.UpdateBookingStatus(ctx, c, models.StatusCancelled, models.PartyClient))

	tests := []struct {
		name    string
		from    time.Time
		to      time.Time
		exclude int64
		want    []string
	}{
		{"touching end is free", base.Add(2 * time.Hour), base.Add(3 * time.Hour), 0, nil},
		{"overlap first", base.Add(time.Hour), base.Add(150 * time.Minute), 0, []string{"A"}},
		{"spans both", base, base.Add(4 * time.Hour), 0, []string{"A", "B"}},
		{"excluded self", base, base.Add(2 * time.Hour), a.ID, nil},
		{"cancelled does not block", base.Add(5 * time.Hour), base.Add(6 * time.Hour), 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ListBlockingBookings(ctx, 1, tt.from, tt.to, tt.exclude)
			require.NoError(t, err)
			var refs []string
			for _, g := range got {
				refs = append(refs, g.Ref)
			}
			assert.Equal(t, tt.want, refs)
		})
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)

	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	err := db.WithTx(ctx, func(r *Repo) error {
		if err := r.InsertBooking(ctx, newBooking(1, "TX", start, 1)); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = db.Repo().GetBookingByRef(ctx, "TX")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTimeChangeOnePending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)
	r := db.Repo()

	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	b := newBooking(1, "TC", start, 2)
	require.NoError(t, r.InsertBooking(ctx, b))

	tc := &models.TimeChange{
		BookingID: b.ID, ProposedBy: b.ClientID,
		OldStartAt: b.StartAt, OldEndAt: b.EndAt,
		NewStartAt: start.Add(time.Hour), NewEndAt: start.Add(3 * time.Hour),
		Status: models.TimeChangePending,
	}
	require.NoError(t, r.InsertTimeChange(ctx, tc))

	second := *tc
	second.ID = 0
	assert.ErrorIs(t, r.InsertTimeChange(ctx, &second), ErrDuplicate)

	pending, err := r.GetPendingTimeChange(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, tc.ID, pending.ID)

	require.NoError(t, r.ResolveTimeChange(ctx, tc, models.TimeChangeRejected, b.HostID))
	assert.ErrorIs(t, r.ResolveTimeChange(ctx, pending, models.TimeChangeAccepted, b.HostID), ErrConcurrentModification)

	_, err = r.GetPendingTimeChange(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	second.ID = 0
	require.NoError(t, r.InsertTimeChange(ctx, &second))
	list, err := r.ListTimeChanges(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPaymentsAndPayouts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)
	r := db.Repo()

	b := newBooking(1, "PAY", time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC), 2)
	require.NoError(t, r.InsertBooking(ctx, b))

	p := &models.Payment{
		BookingID: b.ID, GrossAmount: 12000, StripeFee: 378, PlatformFee: 1200, TaxFee: 0,
		TotalAmount: 12000, Currency: "usd", StripePaymentIntentID: "pi_1",
		Status: models.PaymentPending, Attempt: 1,
	}
	require.NoError(t, r.InsertPayment(ctx, p))

	again := *p
	again.StripePaymentIntentID = "pi_2"
	assert.ErrorIs(t, r.InsertPayment(ctx, &again), ErrDuplicate, "one current payment per booking")

	require.NoError(t, r.TransitionPayment(ctx, p, models.PaymentFailed))
	require.NoError(t, r.SupersedePayment(ctx, p))
	again.Attempt = 2
	require.NoError(t, r.InsertPayment(ctx, &again))

	cur, err := r.GetCurrentPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_2", cur.StripePaymentIntentID)
	n, err := r.CountPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	po, err := r.OpenPayout(ctx, 100, "acct_1", "usd")
	require.NoError(t, err)
	it := &models.PayoutItem{BookingID: b.ID, GrossAmount: 12000, StripeFee: 378, PlatformFee: 1200, NetAmount: 10422}
	require.NoError(t, r.AddPayoutItem(ctx, po, it))
	assert.ErrorIs(t, r.AddPayoutItem(ctx, po, &models.PayoutItem{BookingID: b.ID}), ErrDuplicate)

	same, err := r.OpenPayout(ctx, 100, "acct_1", "usd")
	require.NoError(t, err)
	assert.Equal(t, po.ID, same.ID)
	assert.EqualValues(t, 10422, same.Amount)

	require.NoError(t, r.UpdatePayoutItem(ctx, po, it, 10000))
	got, err := r.GetPayout(ctx, po.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, got.Amount)

	require.NoError(t, r.TransitionPayout(ctx, got, models.PayoutProcessing, "", "", 1))
	require.NoError(t, r.TransitionPayout(ctx, got, models.PayoutCompleted, "tr_1", "", 0))
	assert.Equal(t, "tr_1", got.TransferID)
	assert.Equal(t, 1, got.Attempts)

	fresh, err := r.OpenPayout(ctx, 100, "acct_1", "usd")
	require.NoError(t, err)
	assert.NotEqual(t, po.ID, fresh.ID)
}

func TestSyncSpacesFromConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := &config.SpacesConfig{Spaces: []config.SpaceConfig{
		{ID: 1, HostID: 10, Name: "A", RatePerHour: 1000, Published: true, Timezone: "UTC",
			Availability: []config.WindowConfig{{Day: "monday", Start: "09:00", End: "17:00"}}},
		{ID: 2, HostID: 10, Name: "B", RatePerHour: 1000, Published: true, Timezone: "UTC",
			Availability: []config.WindowConfig{{Day: "daily", Start: "08:00", End: "12:00"}}},
	}}
	touched, err := db.SyncSpacesFromConfig(ctx, cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, touched)

	rows, err := db.Repo().ListAvailability(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 7)

	// Space 1 keeps an active booking, space 2 has none.
	require.NoError(t, db.Repo().InsertBooking(ctx, newBooking(1, "KEEP", time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC), 1)))
	cfg.Spaces = nil
	touched, err = db.SyncSpacesFromConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, touched)

	s1, err := db.Repo().GetSpace(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SpaceDraft, s1.Status)

	_, err = db.Repo().GetSpace(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSpaceRejectsUnknownTimezone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.Repo().UpsertSpace(ctx, &models.Space{ID: 7, HostID: 1, Name: "Moon", Timezone: "Mars/Base"})
	assert.ErrorContains(t, err, "Mars/Base")
	_, err = db.Repo().GetSpace(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	// An unvalidated config is refused as a whole.
	_, err = db.SyncSpacesFromConfig(ctx, &config.SpacesConfig{Spaces: []config.SpaceConfig{
		{ID: 8, HostID: 1, Name: "Ok", Timezone: "UTC"},
		{ID: 9, HostID: 1, Name: "Bad", Timezone: "Mars/Base"},
	}})
	assert.Error(t, err)
	_, err = db.Repo().GetSpace(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlocklist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := db.Repo()

	bu, err := r.GetBlockedUser(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, bu)

	require.NoError(t, r.BlockUser(ctx, 5, "chargebacks", 1))
	blocked, err := r.IsBlocked(ctx, 5)
	require.NoError(t, err)
	assert.True(t, blocked)

	list, err := r.ListBlockedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "chargebacks", list[0].Reason)

	require.NoError(t, r.UnblockUser(ctx, 5))
	blocked, err = r.IsBlocked(ctx, 5)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestGetTableData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedSpace(t, db)

	data, cols, err := db.GetTableData(ctx, "spaces")
	require.NoError(t, err)
	assert.Contains(t, cols, "rate_per_hour")
	require.Len(t, data, 1)
	assert.Equal(t, "Loft", data[0]["name"])

	_, _, err = db.GetTableData(ctx, "sqlite_master")
	assert.Error(t, err)
}

func TestBackup(t *testing.T) {
	db := newTestDB(t)
	seedSpace(t, db)
	logger := zerolog.Nop()
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, BackupOptions{Enabled: true, Dir: dir, RetentionDays: 1}, &logger)
	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	require.FileExists(t, path)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	svc.CleanupOldBackups()
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
