package models

import (
	"database/sql"
	"time"
)

type BookingStatus string

const (
	StatusPaymentPending BookingStatus = "payment-pending"
	StatusRequestPending BookingStatus = "request-pending"
	StatusAccepted       BookingStatus = "accepted"
	StatusRejected       BookingStatus = "rejected"
	StatusCompleted      BookingStatus = "completed"
	StatusCancelled      BookingStatus = "cancelled"
)

// ActiveStatuses block a slot for other bookings.
var ActiveStatuses = []BookingStatus{StatusPaymentPending, StatusRequestPending, StatusAccepted}

func (s BookingStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

func (s BookingStatus) IsActive() bool {
	return s == StatusPaymentPending || s == StatusRequestPending || s == StatusAccepted
}

type BookingType string

const (
	TypeNormal BookingType = "normal"
	TypeCustom BookingType = "custom"
)

func (t BookingType) Valid() bool {
	return t == TypeNormal || t == TypeCustom
}

// Party names who cancelled a booking.
type Party string

const (
	PartyClient Party = "client"
	PartyHost   Party = "host"
	PartyAdmin  Party = "admin"
)

// Booking is a reservation of a space for a realized interval.
type Booking struct {
	ID           int64          `json:"id" db:"id"`
	Ref          string         `json:"ref" db:"ref"`
	ClientID     int64          `json:"client_id" db:"client_id"`
	HostID       int64          `json:"host_id" db:"host_id"`
	SpaceID      int64          `json:"space_id" db:"space_id"`
	VehicleID    sql.NullInt64  `json:"-" db:"vehicle_id"`
	LicensePlate string         `json:"license_plate,omitempty" db:"license_plate"`
	Day          string         `json:"day" db:"day"` // local start date, 2006-01-02
	StartAt      time.Time      `json:"start_at" db:"start_at"`
	EndAt        time.Time      `json:"end_at" db:"end_at"`
	GrossAmount  int64          `json:"gross_amount" db:"gross_amount"`
	Currency     string         `json:"currency" db:"currency"`
	Status       BookingStatus  `json:"status" db:"status"`
	Type         BookingType    `json:"type" db:"type"`
	CanceledBy   sql.NullString `json:"-" db:"canceled_by"`
	Version      int64          `json:"version" db:"version"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartAt, End: b.EndAt}
}

// OverlapsWith checks half-open overlap of the realized intervals.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.Interval().Overlaps(other.Interval())
}

// Schedule returns the booking's current schedule snapshot.
func (b *Booking) Schedule() Schedule {
	return Schedule{StartAt: b.StartAt, EndAt: b.EndAt}
}

// CancelledBy returns the cancelling party, empty when unset.
func (b *Booking) CancelledBy() Party {
	if !b.CanceledBy.Valid {
		return ""
	}
	return Party(b.CanceledBy.String)
}

// BookingLog is the check-in/check-out audit of a booking.
type BookingLog struct {
	ID         int64      `json:"id" db:"id"`
	BookingID  int64      `json:"booking_id" db:"booking_id"`
	CheckInAt  *time.Time `json:"check_in_at,omitempty" db:"check_in_at"`
	CheckOutAt *time.Time `json:"check_out_at,omitempty" db:"check_out_at"`
}

// Schedule is the start/end pair a time change compares and rewrites.
type Schedule struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

func (s Schedule) Equal(o Schedule) bool {
	return s.StartAt.Equal(o.StartAt) && s.EndAt.Equal(o.EndAt)
}

func (s Schedule) Interval() Interval {
	return Interval{Start: s.StartAt, End: s.EndAt}
}
