// Package booking drives a reservation through its lifecycle: creation,
// host response, cancellation, payment results and completion.
package booking

import (
	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

// Transition is one edge of the booking lifecycle.
type Transition struct {
	From models.BookingStatus
	To   models.BookingStatus
}

// FSM holds the allowed transitions and who may trigger each one.
type FSM struct {
	transitions map[models.BookingStatus][]models.BookingStatus
	actors      map[Transition][]models.Party
}

// NewFSM creates the booking lifecycle. Time- and payment-driven edges are
// triggered by the system actor, which acts as admin.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.BookingStatus][]models.BookingStatus{
			models.StatusPaymentPending: {models.StatusAccepted, models.StatusCancelled},
			models.StatusRequestPending: {models.StatusAccepted, models.StatusRejected, models.StatusCancelled},
			models.StatusAccepted:       {models.StatusCompleted, models.StatusCancelled},
		},
		actors: map[Transition][]models.Party{
			{models.StatusPaymentPending, models.StatusAccepted}:  {models.PartyAdmin},
			{models.StatusPaymentPending, models.StatusCancelled}: {models.PartyAdmin},
			{models.StatusRequestPending, models.StatusAccepted}:  {models.PartyHost, models.PartyAdmin},
			{models.StatusRequestPending, models.StatusRejected}:  {models.PartyHost, models.PartyAdmin},
			{models.StatusRequestPending, models.StatusCancelled}: {models.PartyAdmin},
			{models.StatusAccepted, models.StatusCompleted}:       {models.PartyAdmin},
			{models.StatusAccepted, models.StatusCancelled}:       {models.PartyClient, models.PartyHost, models.PartyAdmin},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.BookingStatus) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Check validates that party may move a booking from one status to another.
// Strangers are refused before the lifecycle is consulted.
func (f *FSM) Check(from, to models.BookingStatus, party models.Party) error {
	if party == "" {
		return apperr.Forbidden("not a party to this booking")
	}
	if from.IsTerminal() {
		return apperr.InvalidTransition("booking is %s", from)
	}
	if !f.CanTransition(from, to) {
		return apperr.InvalidTransition("cannot move booking from %s to %s", from, to)
	}
	for _, p := range f.actors[Transition{from, to}] {
		if p == party {
			return nil
		}
	}
	return apperr.Forbidden("%s cannot move booking from %s to %s", party, from, to)
}
