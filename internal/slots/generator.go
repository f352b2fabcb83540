package slots

import (
	"context"
	"fmt"
	"time"

	"spacehire/internal/apperr"
	"spacehire/internal/availability"
	"spacehire/internal/models"
)

// Slot represents a time slot.
type Slot struct {
	StartTime time.Time `json:"start"`
	EndTime   time.Time `json:"end"`
	Available bool      `json:"available"`
}

// SlotInfo is a simplified representation for listings.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	Available bool   `json:"available"`
}

// Generator lists slots of a fixed length inside a day's open hours.
type Generator struct {
	index *availability.Index
	now   func() time.Time
}

// NewGenerator creates a new slot generator.
func NewGenerator(index *availability.Index) *Generator {
	return &Generator{index: index, now: time.Now}
}

// FreeSlots lays slotDuration slots back to back inside each open interval
// of date. Booked and past slots are returned with Available false.
// A closed day yields no slots and no error.
func (g *Generator) FreeSlots(ctx context.Context, src Store, space *models.Space, date time.Time, slotDuration time.Duration) ([]Slot, error) {
	if slotDuration <= 0 {
		slotDuration = 30 * time.Minute
	}
	if slotDuration%time.Minute != 0 {
		return nil, apperr.Validation("slot duration must be whole minutes")
	}

	open, err := g.index.Browse(ctx, src, space, date)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	from, to := open[0].Start, open[len(open)-1].End
	booked, err := src.ListBlockingBookings(ctx, space.ID, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	now := g.now()
	var slots []Slot
	for _, iv := range open {
		for cursor := iv.Start; !cursor.Add(slotDuration).After(iv.End); cursor = cursor.Add(slotDuration) {
			slot := models.Interval{Start: cursor, End: cursor.Add(slotDuration)}
			taken := false
			for i := range booked {
				if booked[i].Interval().Overlaps(slot) {
					taken = true
					break
				}
			}
			slots = append(slots, Slot{
				StartTime: slot.Start,
				EndTime:   slot.End,
				Available: !taken && !slot.Start.Before(now),
			})
		}
	}
	return slots, nil
}

// ToSlotInfo converts slots to SlotInfo in the space's local clock.
func ToSlotInfo(slots []Slot, loc *time.Location) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartTime.In(loc).Format("15:04"),
			End:       s.EndTime.In(loc).Format("15:04"),
			Available: s.Available,
		}
	}
	return result
}

// GetAvailableSlots returns only available slots.
func GetAvailableSlots(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}
