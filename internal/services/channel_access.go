package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/saeid-a/CoachLedger/internal/models"
)

// ChannelAccess decides which realtime channels a user may subscribe to:
// their own user channel, and the channel of a session they take part in.
type ChannelAccess struct {
	uow UnitOfWork
}

func NewChannelAccess(uow UnitOfWork) *ChannelAccess {
	return &ChannelAccess{uow: uow}
}

func (a *ChannelAccess) CanSubscribe(ctx context.Context, actorID int64, role string, channel string) (bool, error) {
	kind, rawID, ok := strings.Cut(channel, ":")
	if !ok {
		return false, nil
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return false, nil
	}

	switch kind {
	case "user":
		return id == actorID, nil
	case "session":
		if role == models.RoleAdmin {
			return true, nil
		}
		stores := a.uow.Stores()
		session, err := stores.Sessions.GetByID(ctx, id)
		if err != nil {
			return false, ignoreNoRows(err)
		}
		booking, err := stores.Bookings.GetByID(ctx, session.BookingID)
		if err != nil {
			return false, ignoreNoRows(err)
		}
		if booking.UserID == actorID || booking.CoachID == actorID {
			return true, nil
		}
		attendee, found := booking.Attendee(actorID)
		return found && attendee.Status == models.AttendeeStatusConfirmed, nil
	default:
		return false, nil
	}
}
