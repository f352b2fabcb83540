package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spacehire/internal/apperr"
	"spacehire/internal/models"
)

func TestFSM_CanTransition(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		from, to models.BookingStatus
		want     bool
	}{
		{models.StatusPaymentPending, models.StatusAccepted, true},
		{models.StatusPaymentPending, models.StatusRequestPending, false},
		{models.StatusPaymentPending, models.StatusRejected, false},
		{models.StatusRequestPending, models.StatusAccepted, true},
		{models.StatusRequestPending, models.StatusRejected, true},
		{models.StatusAccepted, models.StatusCompleted, true},
		{models.StatusAccepted, models.StatusCancelled, true},
		{models.StatusAccepted, models.StatusRejected, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusAccepted, false},
		{models.StatusRejected, models.StatusAccepted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, fsm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestFSM_Check(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		name  string
		from  models.BookingStatus
		to    models.BookingStatus
		party models.Party
		want  apperr.Kind
	}{
		{"host accepts request", models.StatusRequestPending, models.StatusAccepted, models.PartyHost, ""},
		{"client accepts request", models.StatusRequestPending, models.StatusAccepted, models.PartyClient, apperr.KindForbidden},
		{"admin rejects request", models.StatusRequestPending, models.StatusRejected, models.PartyAdmin, ""},
		{"client cancels accepted", models.StatusAccepted, models.StatusCancelled, models.PartyClient, ""},
		{"host cancels accepted", models.StatusAccepted, models.StatusCancelled, models.PartyHost, ""},
		{"client cancels unpaid", models.StatusPaymentPending, models.StatusCancelled, models.PartyClient, apperr.KindForbidden},
		{"admin cancels unpaid", models.StatusPaymentPending, models.StatusCancelled, models.PartyAdmin, ""},
		{"host cancels request", models.StatusRequestPending, models.StatusCancelled, models.PartyHost, apperr.KindForbidden},
		{"terminal", models.StatusCancelled, models.StatusCancelled, models.PartyAdmin, apperr.KindInvalidTransition},
		{"completed", models.StatusCompleted, models.StatusCancelled, models.PartyClient, apperr.KindInvalidTransition},
		{"not in table", models.StatusPaymentPending, models.StatusRejected, models.PartyAdmin, apperr.KindInvalidTransition},
		{"stranger", models.StatusAccepted, models.StatusCancelled, "", apperr.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fsm.Check(tt.from, tt.to, tt.party)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}
}
