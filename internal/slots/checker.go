// Package slots decides whether a requested interval can be booked and
// lists free slots for browsing.
package slots

import (
	"context"
	"time"

	"spacehire/internal/apperr"
	"spacehire/internal/availability"
	"spacehire/internal/models"
)

// Store is what the checker reads. Pass the transaction repo so reads and
// the following insert see the same snapshot.
type Store interface {
	availability.RowSource
	ListBlockingBookings(ctx context.Context, spaceID int64, from, to time.Time, excludeID int64) ([]models.Booking, error)
}

// CheckSlot returns nil when [start, end) lies inside the space's open hours
// and no active booking other than excludeID overlaps it.
func CheckSlot(ctx context.Context, st Store, space *models.Space, start, end time.Time, excludeID int64) error {
	if !start.Before(end) {
		return apperr.Validation("start must be before end")
	}

	rows, err := st.ListAvailability(ctx, space.ID)
	if err != nil {
		return apperr.Internal(err, "load availability")
	}
	open, err := openAcross(rows, space.Location(), start, end)
	if err != nil {
		return err
	}
	want := models.Interval{Start: start, End: end}
	if !containedIn(open, want) {
		return apperr.Conflict(apperr.ReasonOutsideAvailability,
			"%s - %s is outside the space's open hours", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	blocking, err := st.ListBlockingBookings(ctx, space.ID, start, end, excludeID)
	if err != nil {
		return apperr.Internal(err, "load bookings")
	}
	for i := range blocking {
		if blocking[i].Interval().Overlaps(want) {
			return apperr.Conflict(apperr.ReasonSlotTaken, "slot overlaps booking %s", blocking[i].Ref)
		}
	}
	return nil
}

// openAcross merges the open intervals of every local date touched by
// [start, end). Closed dates contribute nothing.
func openAcross(rows []models.Availability, loc *time.Location, start, end time.Time) ([]models.Interval, error) {
	var all []models.Interval
	for _, day := range localDates(loc, start, end) {
		ivs, err := availability.OpenIntervals(rows, loc, day)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return nil, err
		}
		all = append(all, ivs...)
	}
	return availability.Merge(all), nil
}

// localDates lists the midnights in loc of each date overlapping [start, end).
func localDates(loc *time.Location, start, end time.Time) []time.Time {
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	var out []time.Time
	for day.Before(end) {
		out = append(out, day)
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func containedIn(open []models.Interval, want models.Interval) bool {
	for _, iv := range open {
		if iv.Contains(want) {
			return true
		}
	}
	return false
}
