package booking

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacehire/internal/apperr"
	"spacehire/internal/database"
	"spacehire/internal/events"
	"spacehire/internal/ledger"
	"spacehire/internal/locker"
	"spacehire/internal/models"
	"spacehire/internal/payments"
)

var (
	client   = models.Actor{UserID: 200, Role: models.RoleUser}
	host     = models.Actor{UserID: 100, Role: models.RoleUser}
	admin    = models.Actor{UserID: 1, Role: models.RoleAdmin}
	stranger = models.Actor{UserID: 300, Role: models.RoleUser}
)

// 2030-01-07 is a Monday; the clock sits a week earlier.
func mon(h, m int) time.Time { return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC) }

var clock = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db  *database.DB
	svc *Service
	sb  *payments.Sandbox
	rec *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "booking.db"), database.Options{}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := db.Repo()
	require.NoError(t, r.UpsertSpace(ctx, &models.Space{
		ID: 1, HostID: host.UserID, Name: "Loft", RatePerHour: 6000,
		Status: models.SpacePublished, Timezone: "UTC", PayoutAccount: "acct_1",
	}))
	require.NoError(t, r.ReplaceAvailability(ctx, 1, []models.Availability{
		{Day: "monday", StartTime: "09:00", EndTime: "17:00"},
		{Day: "monday", StartTime: "22:00", EndTime: "24:00"},
		{Day: "tuesday", StartTime: "00:00", EndTime: "03:00"},
	}))
	require.NoError(t, r.UpsertSpace(ctx, &models.Space{
		ID: 2, HostID: host.UserID, Name: "Draft", RatePerHour: 1000, Status: models.SpaceDraft, Timezone: "UTC",
	}))

	sb := payments.NewSandbox()
	rec := &recorder{}
	led := ledger.New(db, sb, ledger.Options{Fees: ledger.FeeSchedule{PlatformBps: 1000}}, rec, logger)
	svc := NewService(db, locker.NewLocal(), led, nil, db.Repo(), rec, Options{}, logger)
	svc.SetClock(func() time.Time { return clock })
	return &fixture{db: db, svc: svc, sb: sb, rec: rec}
}

func (f *fixture) create(t *testing.T, typ models.BookingType, start, end time.Time) *Result {
	t.Helper()
	res, err := f.svc.CreateBooking(context.Background(), client, CreateRequest{
		SpaceID: 1, Type: typ, StartAt: start, EndAt: end,
	})
	require.NoError(t, err)
	return res
}

// paid returns an accepted booking with a captured payment.
func (f *fixture) paid(t *testing.T, start, end time.Time) *Result {
	t.Helper()
	res := f.create(t, models.TypeNormal, start, end)
	out, err := f.svc.RecordPaymentResult(context.Background(), res.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, out.Booking.Status)
	return out
}

func TestCreateBookingValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.db.Repo().BlockUser(ctx, 400, "chargebacks", admin.UserID))

	tests := []struct {
		name   string
		actor  models.Actor
		req    CreateRequest
		kind   apperr.Kind
		reason string
	}{
		{"missing interval", client, CreateRequest{SpaceID: 1}, apperr.KindValidation, ""},
		{"reversed", client, CreateRequest{SpaceID: 1, StartAt: mon(11, 0), EndAt: mon(10, 0)}, apperr.KindValidation, ""},
		{"bad type", client, CreateRequest{SpaceID: 1, Type: "vip", StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindValidation, ""},
		{"in the past", client, CreateRequest{SpaceID: 1, StartAt: clock.Add(-time.Hour), EndAt: clock}, apperr.KindValidation, ""},
		{"too far ahead", client, CreateRequest{SpaceID: 1, StartAt: mon(10, 0).AddDate(1, 0, 0), EndAt: mon(11, 0).AddDate(1, 0, 0)}, apperr.KindValidation, ""},
		{"anonymous", models.Actor{}, CreateRequest{SpaceID: 1, StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindForbidden, ""},
		{"blocked", models.Actor{UserID: 400}, CreateRequest{SpaceID: 1, StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindForbidden, ""},
		{"own space", host, CreateRequest{SpaceID: 1, StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindForbidden, ""},
		{"unknown space", client, CreateRequest{SpaceID: 9, StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindNotFound, ""},
		{"draft space", client, CreateRequest{SpaceID: 2, StartAt: mon(10, 0), EndAt: mon(11, 0)}, apperr.KindConflict, apperr.ReasonSpaceUnavailable},
		{"outside hours", client, CreateRequest{SpaceID: 1, StartAt: mon(8, 0), EndAt: mon(10, 0)}, apperr.KindConflict, apperr.ReasonOutsideAvailability},
		{"closed day", client, CreateRequest{SpaceID: 1, StartAt: mon(10, 0).AddDate(0, 0, 3), EndAt: mon(11, 0).AddDate(0, 0, 3)}, apperr.KindConflict, apperr.ReasonOutsideAvailability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tt.actor, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
		})
	}
	assert.Empty(t, f.rec.types())
}

func TestCreateNormalBooking(t *testing.T) {
	f := setup(t)
	res := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 30))

	b := res.Booking
	assert.Equal(t, models.StatusPaymentPending, b.Status)
	assert.NotEmpty(t, b.Ref)
	assert.Equal(t, "2030-01-07", b.Day)
	assert.EqualValues(t, 9000, b.GrossAmount)
	assert.Equal(t, host.UserID, b.HostID)

	require.NotNil(t, res.Payment)
	assert.Equal(t, models.PaymentPending, res.Payment.Status)
	assert.NotEmpty(t, res.Payment.ClientSecret)
	assert.Equal(t, res.Payment.GrossAmount+res.Payment.Fees().Sum(), res.Payment.TotalAmount)
	assert.Equal(t, []events.Type{events.BookingCreated}, f.rec.types())
}

func TestCreateAcrossMidnight(t *testing.T) {
	f := setup(t)
	res := f.create(t, models.TypeCustom, mon(23, 0), mon(26, 0))
	assert.Equal(t, models.StatusRequestPending, res.Booking.Status)
	assert.EqualValues(t, 18000, res.Booking.GrossAmount)

	_, err := f.svc.CreateBooking(context.Background(), client, CreateRequest{
		SpaceID: 1, Type: models.TypeCustom, StartAt: mon(23, 0), EndAt: mon(28, 0),
	})
	assert.Equal(t, apperr.ReasonOutsideAvailability, apperr.ReasonOf(err))
}

func TestCreateFailsWhenAuthorizationFails(t *testing.T) {
	f := setup(t)
	f.sb.SetFail(true, false, false)

	_, err := f.svc.CreateBooking(context.Background(), client, CreateRequest{
		SpaceID: 1, StartAt: mon(10, 0), EndAt: mon(11, 0),
	})
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))

	// Nothing was kept: the same slot is bookable once the processor is back.
	f.sb.SetFail(false, false, false)
	f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))
}

func TestCustomBookingScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res := f.create(t, models.TypeCustom, mon(10, 0), mon(11, 0))
	assert.Equal(t, models.StatusRequestPending, res.Booking.Status)
	assert.Nil(t, res.Payment)

	_, err := f.svc.CreateBooking(ctx, models.Actor{UserID: 201}, CreateRequest{
		SpaceID: 1, Type: models.TypeCustom, StartAt: mon(10, 30), EndAt: mon(11, 30),
	})
	assert.Equal(t, apperr.ReasonSlotTaken, apperr.ReasonOf(err))

	// Back to back is fine.
	f.create(t, models.TypeCustom, mon(11, 0), mon(12, 0))

	accepted, err := f.svc.RespondToBooking(ctx, host, res.Booking.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Booking.Status)
	require.NotNil(t, accepted.Payment)
	assert.Equal(t, models.PaymentPending, accepted.Payment.Status)

	paid, err := f.svc.RecordPaymentResult(ctx, accepted.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, paid.Payment.Status)
	assert.Equal(t, models.StatusAccepted, paid.Booking.Status)

	assert.Contains(t, f.rec.types(), events.BookingAccepted)
	assert.Contains(t, f.rec.types(), events.PaymentSucceeded)
}

func TestRespondToBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.create(t, models.TypeCustom, mon(10, 0), mon(11, 0))
	id := res.Booking.ID

	_, err := f.svc.RespondToBooking(ctx, client, id, true)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.RespondToBooking(ctx, stranger, id, true)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.RespondToBooking(ctx, host, 999, true)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	rejected, err := f.svc.RespondToBooking(ctx, host, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Booking.Status)

	_, err = f.svc.RespondToBooking(ctx, host, id, true)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	// A rejected booking no longer blocks the slot.
	f.create(t, models.TypeCustom, mon(10, 0), mon(11, 0))
}

func TestRespondRollsBackOnProcessorFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.create(t, models.TypeCustom, mon(10, 0), mon(11, 0))
	f.sb.SetFail(true, false, false)

	_, err := f.svc.RespondToBooking(ctx, host, res.Booking.ID, true)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))

	got, err := f.svc.GetBooking(ctx, host, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequestPending, got.Booking.Status)
	assert.Nil(t, got.Payment)
	assert.NotContains(t, f.rec.types(), events.BookingAccepted)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("client cancels paid booking", func(t *testing.T) {
		f := setup(t)
		res := f.paid(t, mon(10, 0), mon(11, 0))

		_, err := f.svc.CancelBooking(ctx, stranger, res.Booking.ID)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		out, err := f.svc.CancelBooking(ctx, client, res.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Booking.Status)
		assert.Equal(t, models.PartyClient, out.Booking.CancelledBy())
		assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
		amount, ok := f.sb.Refunded(res.Payment.StripePaymentIntentID)
		require.True(t, ok)
		assert.Equal(t, res.Payment.TotalAmount, amount)

		_, err = f.svc.CancelBooking(ctx, client, res.Booking.ID)
		assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

		f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))
	})

	t.Run("refund failure keeps the booking", func(t *testing.T) {
		f := setup(t)
		res := f.paid(t, mon(10, 0), mon(11, 0))
		f.sb.SetFail(false, true, false)

		_, err := f.svc.CancelBooking(ctx, host, res.Booking.ID)
		assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))

		got, err := f.svc.GetBooking(ctx, client, res.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, got.Booking.Status)
		assert.Equal(t, models.PaymentSucceeded, got.Payment.Status)
	})

	t.Run("unpaid booking needs an admin", func(t *testing.T) {
		f := setup(t)
		res := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))

		_, err := f.svc.CancelBooking(ctx, client, res.Booking.ID)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		out, err := f.svc.CancelBooking(ctx, admin, res.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PartyAdmin, out.Booking.CancelledBy())
		assert.Equal(t, models.PaymentCancelled, out.Payment.Status)
		assert.Contains(t, f.rec.types(), events.BookingCancelled)
	})
}

func TestRecordPaymentResult(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))
	intent := res.Payment.StripePaymentIntentID

	_, err := f.svc.RecordPaymentResult(ctx, "pi_unknown", true, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.svc.RecordPaymentResult(ctx, "", true, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	failed, err := f.svc.RecordPaymentResult(ctx, intent, false, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, failed.Booking.Status)
	assert.Equal(t, models.PaymentFailed, failed.Payment.Status)

	_, err = f.svc.RetryPayment(ctx, host, res.Booking.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	retried, err := f.svc.RetryPayment(ctx, client, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Payment.Attempt)
	assert.NotEqual(t, intent, retried.Payment.StripePaymentIntentID)

	_, err = f.svc.RetryPayment(ctx, client, res.Booking.ID)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err), "current payment is not failed")

	ok, err := f.svc.RecordPaymentResult(ctx, retried.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, ok.Booking.Status)
	version := ok.Booking.Version

	again, err := f.svc.RecordPaymentResult(ctx, retried.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, version, again.Booking.Version, "repeated result changes nothing")
}

func TestLatePaymentIsRefunded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))

	_, err := f.svc.CancelBooking(ctx, admin, res.Booking.ID)
	require.NoError(t, err)

	out, err := f.svc.RecordPaymentResult(ctx, res.Payment.StripePaymentIntentID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, out.Booking.Status)
	assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
	_, ok := f.sb.Refunded(res.Payment.StripePaymentIntentID)
	assert.True(t, ok)
}

func TestCompleteBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.paid(t, mon(10, 0), mon(11, 0))
	id := res.Booking.ID

	_, err := f.svc.CompleteBooking(ctx, id, mon(10, 30))
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	due, err := f.svc.DueForCompletion(ctx, mon(11, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, due)

	out, err := f.svc.CompleteBooking(ctx, id, mon(11, 0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Booking.Status)

	item, err := f.db.Repo().GetPayoutItemByBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.NetAmount(), item.NetAmount)

	_, err = f.svc.CompleteBooking(ctx, id, mon(12, 0))
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	due, err = f.svc.DueForCompletion(ctx, mon(12, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Contains(t, f.rec.types(), events.BookingCompleted)
}

func TestExpirePaymentPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	unpaid := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))
	custom := f.create(t, models.TypeCustom, mon(12, 0), mon(13, 0))

	n, err := f.svc.ExpirePaymentPending(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the TTL")

	n, err = f.svc.ExpirePaymentPending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetBooking(ctx, client, unpaid.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Booking.Status)
	assert.Equal(t, models.Party(""), got.Booking.CancelledBy())
	assert.Equal(t, models.PaymentCancelled, got.Payment.Status)

	other, err := f.svc.GetBooking(ctx, client, custom.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequestPending, other.Booking.Status)
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(ctx, models.Actor{UserID: int64(500 + i)}, CreateRequest{
				SpaceID: 1, Type: models.TypeCustom, StartAt: mon(14, 0), EndAt: mon(15, 0),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apperr.ReasonSlotTaken, apperr.ReasonOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestGetAndListBookings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.create(t, models.TypeNormal, mon(10, 0), mon(11, 0))

	asHost, err := f.svc.GetBooking(ctx, host, res.Booking.ID)
	require.NoError(t, err)
	assert.Empty(t, asHost.Payment.ClientSecret)

	asClient, err := f.svc.GetBooking(ctx, client, res.Booking.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, asClient.Payment.ClientSecret)

	_, err = f.svc.GetBooking(ctx, stranger, res.Booking.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	list, err := f.svc.ListBookings(ctx, host, 1, mon(0, 0), mon(24, 0))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListBookings(ctx, client, 1, mon(0, 0), mon(24, 0))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSpaces(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	view, err := f.svc.GetSpace(ctx, stranger, 1)
	require.NoError(t, err)
	assert.Len(t, view.Availability, 3)
	_, err = f.svc.GetSpace(ctx, stranger, 2)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "drafts are hidden")
	_, err = f.svc.GetSpace(ctx, host, 2)
	assert.NoError(t, err)

	res := f.create(t, models.TypeCustom, mon(10, 0), mon(11, 0))
	free, err := f.svc.FreeSlots(ctx, 1, "2030-01-07", time.Hour, false)
	require.NoError(t, err)
	require.NotEmpty(t, free)
	assert.Equal(t, "09:00", free[0].Start)
	assert.True(t, free[0].Available)
	assert.Equal(t, "10:00", free[1].Start)
	assert.False(t, free[1].Available)

	_, err = f.svc.FreeSlots(ctx, 1, "07.01.2030", time.Hour, false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = f.svc.DeleteSpace(ctx, stranger, 1)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	err = f.svc.DeleteSpace(ctx, host, 1)
	assert.Equal(t, apperr.ReasonSpaceHasActiveBooking, apperr.ReasonOf(err))

	_, err = f.svc.CancelBooking(ctx, admin, res.Booking.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteSpace(ctx, host, 1))

	_, err = f.svc.GetSpace(ctx, host, 1)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	got, err := f.svc.GetBooking(ctx, client, res.Booking.ID)
	require.NoError(t, err, "history survives the space")
	assert.Equal(t, models.StatusCancelled, got.Booking.Status)
}

func TestCheckInOut(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.paid(t, mon(10, 0), mon(11, 0))
	id := res.Booking.ID

	_, err := f.svc.CheckIn(ctx, stranger, id)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.CheckOut(ctx, client, id)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	in, err := f.svc.CheckIn(ctx, client, id)
	require.NoError(t, err)
	require.NotNil(t, in.CheckInAt)
	assert.Nil(t, in.CheckOutAt)

	out, err := f.svc.CheckOut(ctx, host, id)
	require.NoError(t, err)
	require.NotNil(t, out.CheckOutAt)

	_, err = f.svc.CheckOut(ctx, host, id)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestSendReminders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	soon := f.paid(t, mon(10, 0), mon(11, 0))
	f.create(t, models.TypeNormal, mon(12, 0), mon(13, 0))
	later := f.paid(t, time.Date(2030, 1, 14, 10, 0, 0, 0, time.UTC), time.Date(2030, 1, 14, 11, 0, 0, 0, time.UTC))

	now := mon(8, 0)
	n, err := f.svc.SendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unpaid and far bookings are skipped")

	var reminded []int64
	for _, e := range f.rec.events {
		if e.Type == events.BookingReminder {
			reminded = append(reminded, e.BookingID)
		}
	}
	assert.Equal(t, []int64{soon.Booking.ID}, reminded)

	n, err = f.svc.SendReminders(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Moving the booking re-arms its reminder.
	b, err := f.db.Repo().GetBooking(ctx, soon.Booking.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Repo().UpdateBookingSchedule(ctx, b,
		models.Schedule{StartAt: mon(14, 0), EndAt: mon(15, 0)}, b.Day, b.GrossAmount))
	n, err = f.svc.SendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.SendReminders(ctx, time.Date(2030, 1, 13, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, later.Booking.ID)
}
