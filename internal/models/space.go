package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type SpaceStatus string

const (
	SpaceDraft     SpaceStatus = "draft"
	SpacePublished SpaceStatus = "published"
)

// Space is a bookable unit owned by a host.
type Space struct {
	ID              int64       `json:"id" db:"id"`
	HostID          int64       `json:"host_id" db:"host_id"`
	Name            string      `json:"name" db:"name"`
	RatePerHour     int64       `json:"rate_per_hour" db:"rate_per_hour"` // minor units
	MinHours        int         `json:"min_hours" db:"min_hours"`
	DiscountHours   int         `json:"discount_hours" db:"discount_hours"`
	DiscountPercent int         `json:"discount_percent" db:"discount_percent"`
	Status          SpaceStatus `json:"status" db:"status"`
	Timezone        string      `json:"timezone" db:"timezone"`
	Jurisdiction    string      `json:"jurisdiction" db:"jurisdiction"`
	PayoutAccount   string      `json:"payout_account" db:"payout_account"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

var zones sync.Map // zone name -> *time.Location

// ParseTimezone resolves an IANA zone name, "" meaning UTC. Each name is
// loaded from the zone database once per process.
func ParseTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	zones.Store(name, loc)
	return loc, nil
}

// Location returns the space time zone. Zones are checked when a space is
// stored, so the UTC fallback only covers rows written by hand.
func (s *Space) Location() *time.Location {
	loc, err := ParseTimezone(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Price computes the gross amount for a booking of duration d.
// Bookings of at least DiscountHours get DiscountPercent off.
func (s *Space) Price(d time.Duration) int64 {
	minutes := int64(d / time.Minute)
	gross := s.RatePerHour * minutes / 60
	if s.DiscountHours > 0 && s.DiscountPercent > 0 && d >= time.Duration(s.DiscountHours)*time.Hour {
		gross -= gross * int64(s.DiscountPercent) / 100
	}
	return gross
}

// Availability is a recurring (weekday) or dated open-hours window.
type Availability struct {
	ID        int64  `json:"id" db:"id"`
	SpaceID   int64  `json:"space_id" db:"space_id"`
	Day       string `json:"day" db:"day"`               // "monday".."sunday" or "2006-01-02"
	StartTime string `json:"start_time" db:"start_time"` // "09:00"
	EndTime   string `json:"end_time" db:"end_time"`     // "17:00", "24:00" allowed
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekdayName returns the lower-case weekday used in Availability.Day.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// IsDated reports whether the row applies to one concrete date.
func (a *Availability) IsDated() bool {
	_, err := time.Parse("2006-01-02", a.Day)
	return err == nil
}

// Validate checks the day and that start is before end.
func (a *Availability) Validate() error {
	if _, ok := weekdays[strings.ToLower(a.Day)]; !ok && !a.IsDated() {
		return fmt.Errorf("invalid day %q", a.Day)
	}
	start, err := ClockMinutes(a.StartTime)
	if err != nil {
		return err
	}
	end, err := ClockMinutes(a.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("start %s must be before end %s", a.StartTime, a.EndTime)
	}
	return nil
}

// ClockMinutes parses "HH:MM" into minutes after midnight. "24:00" is accepted.
func ClockMinutes(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}
