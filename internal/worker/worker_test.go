package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacehire/internal/apperr"
	"spacehire/internal/booking"
	"spacehire/internal/database"
	"spacehire/internal/ledger"
	"spacehire/internal/locker"
	"spacehire/internal/models"
	"spacehire/internal/payments"
)

type fakeBookings struct {
	due       []int64
	expireErr error
	fail      map[int64]error

	inFlight, peak atomic.Int32
	mu             sync.Mutex
	completed      []int64
}

func (f *fakeBookings) ExpirePaymentPending(context.Context, time.Time) (int, error) {
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	return 2, nil
}

func (f *fakeBookings) SendReminders(context.Context, time.Time) (int, error) {
	return len(f.due) / 4, nil
}

func (f *fakeBookings) DueForCompletion(context.Context, time.Time) ([]int64, error) {
	return f.due, nil
}

func (f *fakeBookings) CompleteBooking(_ context.Context, id int64, _ time.Time) (*booking.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.completed = append(f.completed, id)
	f.mu.Unlock()
	return &booking.Result{}, nil
}

type fakePayouts struct{ calls int }

func (f *fakePayouts) ProcessPayouts(context.Context) (int, error) {
	f.calls++
	return 1, nil
}

type fakeMirror struct{ err error }

func (f fakeMirror) Sync(context.Context) (int, error) { return 3, f.err }

func TestRunOnce(t *testing.T) {
	b := &fakeBookings{
		due: []int64{1, 2, 3, 4, 5, 6, 7, 8},
		fail: map[int64]error{
			3: apperr.InvalidTransition("booking is cancelled"),
			5: errors.New("disk I/O error"),
		},
	}
	p := &fakePayouts{}
	svc := NewService(Config{Concurrency: 2}, b, p, fakeMirror{}, zerolog.Nop())

	st := svc.RunOnce(context.Background())
	assert.Equal(t, Stats{Expired: 2, Reminded: 2, Completed: 6, Failed: 1, PaidOut: 1, Mirrored: 3}, st)
	assert.LessOrEqual(t, b.peak.Load(), int32(2))
	assert.ElementsMatch(t, []int64{1, 2, 4, 6, 7, 8}, b.completed)
}

func TestRunOnceContinuesAfterFailures(t *testing.T) {
	b := &fakeBookings{expireErr: errors.New("locked"), due: []int64{1}}
	p := &fakePayouts{}
	svc := NewService(Config{}, b, p, fakeMirror{err: errors.New("quota")}, zerolog.Nop())

	st := svc.RunOnce(context.Background())
	assert.Equal(t, 0, st.Expired)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, p.calls)
}

func TestStartStop(t *testing.T) {
	b := &fakeBookings{due: []int64{1}}
	svc := NewService(Config{Interval: 5 * time.Millisecond}, b, nil, nil, zerolog.Nop())
	svc.Start(context.Background())
	svc.Start(context.Background())

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.completed) > 0
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
}

func TestCompletesAndAccruesRealBookings(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), database.Options{}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := db.Repo()
	require.NoError(t, r.UpsertSpace(ctx, &models.Space{
		ID: 1, HostID: 100, Name: "Loft", RatePerHour: 6000,
		Status: models.SpacePublished, Timezone: "UTC", PayoutAccount: "acct_1",
	}))
	require.NoError(t, r.ReplaceAvailability(ctx, 1, []models.Availability{
		{Day: "monday", StartTime: "09:00", EndTime: "17:00"},
	}))

	sb := payments.NewSandbox()
	led := ledger.New(db, sb, ledger.Options{Fees: ledger.FeeSchedule{PlatformBps: 1000}}, nil, logger)
	bookings := booking.NewService(db, locker.NewLocal(), led, nil, nil, nil, booking.Options{}, logger)
	bookings.SetClock(func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) })

	client := models.Actor{UserID: 200, Role: models.RoleUser}
	res, err := bookings.CreateBooking(ctx, client, booking.CreateRequest{
		SpaceID: 1, StartAt: time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC), EndAt: time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = bookings.RecordPaymentResult(ctx, res.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)

	svc := NewService(Config{}, bookings, led, nil, logger)
	svc.now = func() time.Time { return time.Date(2030, 1, 7, 13, 0, 0, 0, time.UTC) }

	st := svc.RunOnce(ctx)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.PaidOut)

	got, err := r.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	item, err := r.GetPayoutItemByBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	payout, err := r.GetPayout(ctx, item.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, payout.Status)
	assert.Equal(t, int64(12000)-payments.SandboxFee(12000)-1200, payout.Amount)

	// A second run has nothing left to do.
	assert.Equal(t, Stats{}, svc.RunOnce(ctx))
}
