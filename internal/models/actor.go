package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// System is used for time-triggered transitions.
var System = Actor{UserID: 0, Role: RoleAdmin}

// PartyOf resolves which side of the booking the actor acts as.
// Admin wins over relation. Returns "" for strangers.
func (a Actor) PartyOf(b *Booking) Party {
	switch {
	case a.IsAdmin():
		return PartyAdmin
	case a.UserID == b.ClientID:
		return PartyClient
	case a.UserID == b.HostID:
		return PartyHost
	default:
		return ""
	}
}

// BlockedUser is a client barred from creating bookings.
type BlockedUser struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	BlockedAt time.Time `json:"blocked_at" db:"blocked_at"`
	Reason    string    `json:"reason" db:"reason"`
	BlockedBy int64     `json:"blocked_by" db:"blocked_by"`
}
