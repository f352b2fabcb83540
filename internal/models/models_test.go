package models

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datetime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestBooking_OverlapsWith(t *testing.T) {
	existing := Booking{
		StartAt: datetime(2026, 1, 12, 10, 0),
		EndAt:   datetime(2026, 1, 12, 11, 0),
	}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"before", datetime(2026, 1, 12, 8, 0), datetime(2026, 1, 12, 9, 0), false},
		{"touching end", datetime(2026, 1, 12, 11, 0), datetime(2026, 1, 12, 12, 0), false},
		{"touching start", datetime(2026, 1, 12, 9, 0), datetime(2026, 1, 12, 10, 0), false},
		{"partial", datetime(2026, 1, 12, 10, 30), datetime(2026, 1, 12, 11, 30), true},
		{"inside", datetime(2026, 1, 12, 10, 15), datetime(2026, 1, 12, 10, 45), true},
		{"covering", datetime(2026, 1, 12, 9, 0), datetime(2026, 1, 12, 12, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := Booking{StartAt: tt.start, EndAt: tt.end}
			assert.Equal(t, tt.want, existing.OverlapsWith(&other))
			assert.Equal(t, tt.want, other.OverlapsWith(&existing))
		})
	}
}

func TestBookingStatus(t *testing.T) {
	for _, s := range []BookingStatus{StatusRejected, StatusCompleted, StatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	for _, s := range ActiveStatuses {
		assert.False(t, s.IsTerminal(), s)
		assert.True(t, s.IsActive(), s)
	}
}

func TestSpace_Price(t *testing.T) {
	s := Space{RatePerHour: 2000}
	assert.Equal(t, int64(2000), s.Price(time.Hour))
	assert.Equal(t, int64(3000), s.Price(90*time.Minute))

	s.DiscountHours = 4
	s.DiscountPercent = 25
	assert.Equal(t, int64(6000), s.Price(3*time.Hour))
	assert.Equal(t, int64(6000), s.Price(4*time.Hour))
}

func TestParseTimezone(t *testing.T) {
	tests := []struct {
		name    string
		zone    string
		want    string
		wantErr bool
	}{
		{name: "empty is utc", zone: "", want: "UTC"},
		{name: "iana zone", zone: "Europe/Berlin", want: "Europe/Berlin"},
		{name: "unknown zone", zone: "Mars/Base", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseTimezone(tt.zone)
			if tt.wantErr {
				assert.ErrorContains(t, err, tt.zone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc.String())
		})
	}
}

func TestSpace_LocationIsShared(t *testing.T) {
	a := &Space{Timezone: "America/New_York"}
	b := &Space{Timezone: "America/New_York"}
	assert.Same(t, a.Location(), b.Location(), "a zone is loaded once")
	assert.Same(t, time.UTC, (&Space{Timezone: "Mars/Base"}).Location())
}

func TestAvailability_Validate(t *testing.T) {
	tests := []struct {
		name    string
		a       Availability
		wantErr bool
	}{
		{"weekday", Availability{Day: "monday", StartTime: "09:00", EndTime: "17:00"}, false},
		{"dated", Availability{Day: "2026-01-12", StartTime: "09:00", EndTime: "24:00"}, false},
		{"bad day", Availability{Day: "funday", StartTime: "09:00", EndTime: "17:00"}, true},
		{"reversed", Availability{Day: "monday", StartTime: "17:00", EndTime: "09:00"}, true},
		{"empty", Availability{Day: "monday", StartTime: "09:00", EndTime: "09:00"}, true},
		{"bad clock", Availability{Day: "monday", StartTime: "9am", EndTime: "17:00"}, true},
		{"past midnight", Availability{Day: "monday", StartTime: "09:00", EndTime: "24:30"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActor_PartyOf(t *testing.T) {
	b := &Booking{ClientID: 1, HostID: 2}

	assert.Equal(t, PartyClient, Actor{UserID: 1, Role: RoleUser}.PartyOf(b))
	assert.Equal(t, PartyHost, Actor{UserID: 2, Role: RoleUser}.PartyOf(b))
	assert.Equal(t, PartyAdmin, Actor{UserID: 1, Role: RoleAdmin}.PartyOf(b))
	assert.Equal(t, Party(""), Actor{UserID: 3, Role: RoleUser}.PartyOf(b))
}

func TestPayment_NetAmount(t *testing.T) {
	p := Payment{GrossAmount: 10000, StripeFee: 320, PlatformFee: 1000, TaxFee: 500}
	assert.Equal(t, int64(8180), p.NetAmount())
	assert.Equal(t, int64(1820), p.Fees().Sum())
}

func TestBooking_CancelledBy(t *testing.T) {
	b := Booking{}
	assert.Equal(t, Party(""), b.CancelledBy())

	b.CanceledBy = sql.NullString{String: "host", Valid: true}
	assert.Equal(t, PartyHost, b.CancelledBy())
}
