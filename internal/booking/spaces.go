package booking

import (
	"context"
	"errors"
	"time"

	"spacehire/internal/apperr"
	"spacehire/internal/database"
	"spacehire/internal/models"
	"spacehire/internal/slots"
)

// SpaceView is a space with its availability rows.
type SpaceView struct {
	Space        *models.Space         `json:"space"`
	Availability []models.Availability `json:"availability"`
}

// GetSpace returns a published space to anyone, a draft only to its host.
func (s *Service) GetSpace(ctx context.Context, actor models.Actor, id int64) (*SpaceView, error) {
	r := s.db.Repo()
	space, err := r.GetSpace(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("space %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load space")
	}
	if space.Status != models.SpacePublished && !actor.IsAdmin() && actor.UserID != space.HostID {
		return nil, apperr.NotFound("space %d not found", id)
	}
	rows, err := r.ListAvailability(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err, "load availability")
	}
	return &SpaceView{Space: space, Availability: rows}, nil
}

// FreeSlots lists slots of the given length on a local date of the space.
func (s *Service) FreeSlots(ctx context.Context, spaceID int64, date string, slot time.Duration, onlyAvailable bool) ([]slots.SlotInfo, error) {
	r := s.db.Repo()
	space, err := s.loadSpace(ctx, r, spaceID)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, space.Location())
	if err != nil {
		return nil, apperr.Validation("invalid date %q", date)
	}
	list, err := s.gen.FreeSlots(ctx, r, space, day, slot)
	if err != nil {
		return nil, err
	}
	if onlyAvailable {
		list = slots.GetAvailableSlots(list)
	}
	return slots.ToSlotInfo(list, space.Location()), nil
}

// DeleteSpace removes a space and its availability. Spaces with bookings
// still holding a slot cannot be deleted.
func (s *Service) DeleteSpace(ctx context.Context, actor models.Actor, id int64) error {
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		space, err := r.GetSpace(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("space %d not found", id)
		}
		if err != nil {
			return apperr.Internal(err, "load space")
		}
		if !actor.IsAdmin() && actor.UserID != space.HostID {
			return apperr.Forbidden("only the host can delete a space")
		}
		n, err := r.CountActiveBookings(ctx, id)
		if err != nil {
			return apperr.Internal(err, "count bookings")
		}
		if n > 0 {
			return apperr.Conflict(apperr.ReasonSpaceHasActiveBooking, "space %d has %d active bookings", id, n)
		}
		if err := r.DeleteSpace(ctx, id); err != nil {
			return apperr.Internal(err, "delete space")
		}
		return nil
	})
	if err != nil {
		s.observe(err)
		return err
	}
	s.index.Invalidate(ctx, id)
	s.logger.Info().Int64("space_id", id).Int64("actor_id", actor.UserID).Msg("space deleted")
	return nil
}

// CheckIn stamps the arrival on an accepted booking.
func (s *Service) CheckIn(ctx context.Context, actor models.Actor, bookingID int64) (*models.BookingLog, error) {
	return s.stampLog(ctx, actor, bookingID, func(r *database.Repo, at time.Time) error {
		return r.RecordCheckIn(ctx, bookingID, at)
	})
}

// CheckOut stamps the departure. It requires a prior check-in.
func (s *Service) CheckOut(ctx context.Context, actor models.Actor, bookingID int64) (*models.BookingLog, error) {
	return s.stampLog(ctx, actor, bookingID, func(r *database.Repo, at time.Time) error {
		err := r.RecordCheckOut(ctx, bookingID, at)
		if errors.Is(err, database.ErrConcurrentModification) {
			return apperr.InvalidTransition("booking %d is not checked in", bookingID)
		}
		return err
	})
}

func (s *Service) stampLog(ctx context.Context, actor models.Actor, bookingID int64, stamp func(r *database.Repo, at time.Time) error) (*models.BookingLog, error) {
	var out *models.BookingLog
	err := s.db.WithTx(ctx, func(r *database.Repo) error {
		b, err := s.loadBooking(ctx, r, bookingID)
		if err != nil {
			return err
		}
		if actor.PartyOf(b) == "" {
			return apperr.Forbidden("not a party to this booking")
		}
		if b.Status != models.StatusAccepted {
			return apperr.InvalidTransition("booking is %s", b.Status)
		}
		if err := stamp(r, s.now()); err != nil {
			var tagged *apperr.Error
			if errors.As(err, &tagged) {
				return err
			}
			return apperr.Internal(err, "update booking log")
		}
		out, err = r.GetBookingLog(ctx, bookingID)
		if err != nil {
			return apperr.Internal(err, "load booking log")
		}
		return nil
	})
	return out, err
}
