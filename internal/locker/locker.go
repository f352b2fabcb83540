// Package locker serializes writers that touch the same space on the same day.
package locker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrLockTimeout is returned when a lock could not be taken before ctx ended.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker takes a set of named locks at once. The returned unlock releases all
// of them and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// SpaceDayKey names the lock guarding one space on one local date.
func SpaceDayKey(spaceID int64, day string) string {
	return fmt.Sprintf("space:%d:%s", spaceID, day)
}

// SpaceDayKeys returns the keys for every local date in [start, end) of the
// space time zone. An end exactly at midnight does not lock the next day.
func SpaceDayKeys(spaceID int64, loc *time.Location, start, end time.Time) []string {
	if loc == nil {
		loc = time.UTC
	}
	s, e := start.In(loc), end.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	var keys []string
	for day.Before(e) {
		keys = append(keys, SpaceDayKey(spaceID, day.Format("2006-01-02")))
		day = day.AddDate(0, 0, 1)
	}
	if len(keys) == 0 {
		keys = append(keys, SpaceDayKey(spaceID, s.Format("2006-01-02")))
	}
	return keys
}

// normalize sorts and dedups keys so every caller acquires in the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chain takes the locks of each Locker in order and releases them in reverse.
type Chain []Locker

func (c Chain) Lock(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		if l == nil {
			continue
		}
		u, err := l.Lock(ctx, keys...)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return once(release), nil
}

func once(f func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		f()
	}
}
