package models

import "time"

type TimeChangeStatus string

const (
	TimeChangePending  TimeChangeStatus = "pending"
	TimeChangeAccepted TimeChangeStatus = "accepted"
	TimeChangeRejected TimeChangeStatus = "rejected"
)

// TimeChange is a proposed reschedule of a booking. Old* is the booking
// schedule when the proposal was made.
type TimeChange struct {
	ID          int64            `json:"id" db:"id"`
	BookingID   int64            `json:"booking_id" db:"booking_id"`
	ProposedBy  int64            `json:"proposed_by" db:"proposed_by"`
	RespondedBy *int64           `json:"responded_by,omitempty" db:"responded_by"`
	OldStartAt  time.Time        `json:"old_start_at" db:"old_start_at"`
	OldEndAt    time.Time        `json:"old_end_at" db:"old_end_at"`
	NewStartAt  time.Time        `json:"new_start_at" db:"new_start_at"`
	NewEndAt    time.Time        `json:"new_end_at" db:"new_end_at"`
	Status      TimeChangeStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

func (tc *TimeChange) Old() Schedule {
	return Schedule{StartAt: tc.OldStartAt, EndAt: tc.OldEndAt}
}

func (tc *TimeChange) New() Schedule {
	return Schedule{StartAt: tc.NewStartAt, EndAt: tc.NewEndAt}
}
