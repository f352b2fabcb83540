// Package availability turns a space's open-hours rows into absolute
// half-open intervals for a given local date.
package availability

import (
	"context"
	"sort"
	"strings"
	"time"

	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

// RowSource loads the availability rows of a space. Both the pool repo and
// a transaction repo satisfy it.
type RowSource interface {
	ListAvailability(ctx context.Context, spaceID int64) ([]models.Availability, error)
}

// Merge sorts intervals and joins those that overlap or touch. Empty
// intervals are dropped. The input is not modified.
func Merge(in []models.Interval) []models.Interval {
	ivs := make([]models.Interval, 0, len(in))
	for _, iv := range in {
		if iv.Start.Before(iv.End) {
			ivs = append(ivs, iv)
		}
	}
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	out := []models.Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// RowsForDate picks the rows that apply to date. Dated rows override the
// weekday rows of that date.
func RowsForDate(rows []models.Availability, date time.Time) []models.Availability {
	iso := date.Format("2006-01-02")
	weekday := models.WeekdayName(date.Weekday())

	var dated, recurring []models.Availability
	for _, r := range rows {
		switch {
		case r.Day == iso:
			dated = append(dated, r)
		case strings.EqualFold(r.Day, weekday):
			recurring = append(recurring, r)
		}
	}
	if len(dated) > 0 {
		return dated
	}
	return recurring
}

// Intervals converts rows into absolute intervals on date in loc. Only the
// year, month and day of date are used.
func Intervals(rows []models.Availability, loc *time.Location, date time.Time) ([]models.Interval, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	out := make([]models.Interval, 0, len(rows))
	for _, r := range rows {
		start, err := models.ClockMinutes(r.StartTime)
		if err != nil {
			return nil, apperr.Validation("availability %d: %v", r.ID, err)
		}
		end, err := models.ClockMinutes(r.EndTime)
		if err != nil {
			return nil, apperr.Validation("availability %d: %v", r.ID, err)
		}
		out = append(out, models.Interval{
			Start: time.Date(y, m, d, start/60, start%60, 0, 0, loc),
			End:   time.Date(y, m, d, end/60, end%60, 0, 0, loc),
		})
	}
	return Merge(out), nil
}

// OpenIntervals is the pure form of Index.OpenIntervals over preloaded rows.
func OpenIntervals(rows []models.Availability, loc *time.Location, date time.Time) ([]models.Interval, error) {
	picked := RowsForDate(rows, date)
	if len(picked) == 0 {
		return nil, apperr.NotFound("no availability on %s", date.Format("2006-01-02"))
	}
	ivs, err := Intervals(picked, loc, date)
	if err != nil {
		return nil, err
	}
	if len(ivs) == 0 {
		return nil, apperr.NotFound("no availability on %s", date.Format("2006-01-02"))
	}
	return ivs, nil
}

// Index answers open-interval queries, reading through an optional cache
// for browsing paths.
type Index struct {
	cache *Cache
}

func NewIndex(cache *Cache) *Index {
	return &Index{cache: cache}
}

// OpenIntervals reads the rows from src and returns the merged open
// intervals of space on date. It never uses the cache, so it is safe inside
// a write transaction.
func (ix *Index) OpenIntervals(ctx context.Context, src RowSource, space *models.Space, date time.Time) ([]models.Interval, error) {
	rows, err := src.ListAvailability(ctx, space.ID)
	if err != nil {
		return nil, apperr.Internal(err, "load availability")
	}
	return OpenIntervals(rows, space.Location(), date)
}

// Browse is like OpenIntervals but may serve rows from the cache.
func (ix *Index) Browse(ctx context.Context, src RowSource, space *models.Space, date time.Time) ([]models.Interval, error) {
	rows, ok := ix.cache.Get(ctx, space.ID)
	if !ok {
		var err error
		rows, err = src.ListAvailability(ctx, space.ID)
		if err != nil {
			return nil, apperr.Internal(err, "load availability")
		}
		ix.cache.Set(ctx, space.ID, rows)
	}
	return OpenIntervals(rows, space.Location(), date)
}

// Invalidate drops cached rows of the given spaces.
func (ix *Index) Invalidate(ctx context.Context, spaceIDs ...int64) {
	ix.cache.Delete(ctx, spaceIDs...)
}
