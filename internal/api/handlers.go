package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"spacehire/internal/apperr"
	"spacehire/internal/booking"
	"spacehire/internal/models"
)

const webhookSecretHeader = "X-Webhook-Secret"

type respondRequest struct {
	Accept *bool `json:"accept"`
}

func (req respondRequest) value() (bool, error) {
	if req.Accept == nil {
		return false, apperr.Validation("accept is required")
	}
	return *req.Accept, nil
}

type timeChangeRequest struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type webhookRequest struct {
	IntentID  string `json:"intent_id"`
	Status    string `json:"status"`
	StripeFee *int64 `json:"stripe_fee,omitempty"`
}

type blockRequest struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

func requireAdmin(a models.Actor) error {
	if !a.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return nil
}

func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.svc.Bookings.GetSpace(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		s.fail(w, r, apperr.Validation("date is required"))
		return
	}
	minutes := 60
	if v := q.Get("minutes"); v != "" {
		minutes, err = strconv.Atoi(v)
		if err != nil || minutes <= 0 || minutes > 24*60 {
			s.fail(w, r, apperr.Validation("invalid minutes %q", v))
			return
		}
	}
	onlyAvailable := q.Get("available") == "true"

	list, err := s.svc.Bookings.FreeSlots(r.Context(), id, date, time.Duration(minutes)*time.Minute, onlyAvailable)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"space_id": id, "date": date, "slots": list})
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		s.fail(w, r, apperr.Validation("invalid from %q", q.Get("from")))
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		s.fail(w, r, apperr.Validation("invalid to %q", q.Get("to")))
		return
	}
	list, err := s.svc.Bookings.ListBookings(r.Context(), actorFrom(r.Context()), id, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Bookings.DeleteSpace(r.Context(), actorFrom(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req booking.CreateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Bookings.CreateBooking(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Bookings.GetBooking(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRespondBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req respondRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	accept, err := req.value()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Bookings.RespondToBooking(r.Context(), actorFrom(r.Context()), id, accept)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// bookingAction adapts the booking operations that take only an id.
func (s *Server) bookingAction(op func(r *http.Request, id int64) (any, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := pathID(ps, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out, err := op(r, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		return s.svc.Bookings.CancelBooking(r.Context(), actorFrom(r.Context()), id)
	})(w, r, ps)
}

func (s *Server) handleCompleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		if err := requireAdmin(actorFrom(r.Context())); err != nil {
			return nil, err
		}
		return s.svc.Bookings.CompleteBooking(r.Context(), id, s.now())
	})(w, r, ps)
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		return s.svc.Bookings.RetryPayment(r.Context(), actorFrom(r.Context()), id)
	})(w, r, ps)
}

func (s *Server) handleAccrueBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		if err := requireAdmin(actorFrom(r.Context())); err != nil {
			return nil, err
		}
		return s.svc.Ledger.AccrueBooking(r.Context(), id)
	})(w, r, ps)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		return s.svc.Bookings.CheckIn(r.Context(), actorFrom(r.Context()), id)
	})(w, r, ps)
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.bookingAction(func(r *http.Request, id int64) (any, error) {
		return s.svc.Bookings.CheckOut(r.Context(), actorFrom(r.Context()), id)
	})(w, r, ps)
}

func (s *Server) handleProposeTimeChange(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req timeChangeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tc, err := s.svc.TimeChanges.Propose(r.Context(), actorFrom(r.Context()), id, req.StartAt, req.EndAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (s *Server) handleListTimeChanges(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.svc.TimeChanges.List(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"time_changes": list})
}

func (s *Server) handleRespondTimeChange(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req respondRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	accept, err := req.value()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tc, b, err := s.svc.TimeChanges.Respond(r.Context(), actorFrom(r.Context()), id, accept)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"time_change": tc, "booking": b})
}

// handlePaymentWebhook records an asynchronous processor result. The caller
// proves itself with the shared secret, or as an admin when none is set.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			writeStatus(w, http.StatusUnauthorized, apperr.KindForbidden, "invalid webhook secret")
			return
		}
	} else {
		actor, err := s.auth.Actor(r)
		if err != nil || !actor.IsAdmin() {
			writeStatus(w, http.StatusUnauthorized, apperr.KindForbidden, "authentication required")
			return
		}
	}

	var req webhookRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.IntentID == "" {
		s.fail(w, r, apperr.Validation("intent_id is required"))
		return
	}
	var succeeded bool
	switch req.Status {
	case "succeeded":
		succeeded = true
	case "failed":
	default:
		s.fail(w, r, apperr.Validation("invalid status %q", req.Status))
		return
	}
	if req.StripeFee != nil && *req.StripeFee < 0 {
		s.fail(w, r, apperr.Validation("stripe_fee must not be negative"))
		return
	}

	res, err := s.svc.Bookings.RecordPaymentResult(r.Context(), req.IntentID, succeeded, req.StripeFee)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPayout(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, items, err := s.svc.Ledger.GetPayout(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if actor := actorFrom(r.Context()); !actor.IsAdmin() && actor.UserID != p.HostID {
		s.fail(w, r, apperr.NotFound("payout %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": p, "items": items})
}

func (s *Server) handleRetryPayout(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := requireAdmin(actorFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(ps, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Ledger.RetryPayout(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.svc.Access.ListBlockedUsers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": list})
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req blockRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Access.BlockUser(r.Context(), actorFrom(r.Context()), req.UserID, req.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnblockUser(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps, "userId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Access.UnblockUser(r.Context(), actorFrom(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
