package notify

import (
	"fmt"
	"time"

	"spacehire/internal/events"
)

const timeLayout = "Mon 02 Jan 15:04 MST"

// Format renders an event as a chat message. Unknown types render empty.
func Format(e events.Event) string {
	ref := payloadString(e.Payload, "ref")
	if ref == "" {
		ref = fmt.Sprintf("#%d", e.BookingID)
	}

	switch e.Type {
	case events.BookingCreated:
		return fmt.Sprintf("New booking %s: %s", ref, span(e.Payload, "start_at", "end_at"))
	case events.BookingAccepted:
		return fmt.Sprintf("Booking %s was accepted.", ref)
	case events.BookingRejected:
		return fmt.Sprintf("Booking %s was declined by the host.", ref)
	case events.BookingCancelled:
		if payloadString(e.Payload, "reason") == "payment_expired" {
			return fmt.Sprintf("Booking %s was cancelled: payment was not completed in time.", ref)
		}
		if by := payloadString(e.Payload, "canceled_by"); by != "" {
			return fmt.Sprintf("Booking %s was cancelled by the %s.", ref, by)
		}
		return fmt.Sprintf("Booking %s was cancelled.", ref)
	case events.BookingCompleted:
		return fmt.Sprintf("Booking %s is complete. Thanks!", ref)
	case events.BookingReminder:
		return fmt.Sprintf("Reminder: booking %s starts %s", ref, span(e.Payload, "start_at", "end_at"))
	case events.TimeChangeProposed:
		return fmt.Sprintf("A new time was proposed for booking %s: %s", ref, span(e.Payload, "new_start_at", "new_end_at"))
	case events.TimeChangeAccepted:
		return fmt.Sprintf("Booking %s moved to %s", ref, span(e.Payload, "new_start_at", "new_end_at"))
	case events.TimeChangeRejected:
		return fmt.Sprintf("The proposed time for booking %s was declined.", ref)
	case events.PaymentSucceeded:
		if refunded, _ := e.Payload["refunded"].(bool); refunded {
			return fmt.Sprintf("Payment for cancelled booking %s arrived late and was refunded.", ref)
		}
		return fmt.Sprintf("Payment for booking %s received.", ref)
	case events.PaymentFailed:
		return fmt.Sprintf("Payment for booking %s failed. Please retry.", ref)
	case events.PayoutCompleted:
		amount, _ := payloadInt(e.Payload, "amount")
		return fmt.Sprintf("Payout of %s %s sent.", money(amount), payloadString(e.Payload, "currency"))
	case events.PayoutFailed:
		id, _ := payloadInt(e.Payload, "payout_id")
		return fmt.Sprintf("Payout #%d failed: %s", id, payloadString(e.Payload, "error"))
	default:
		return ""
	}
}

func span(p map[string]any, startKey, endKey string) string {
	start, ok1 := p[startKey].(time.Time)
	end, ok2 := p[endKey].(time.Time)
	if !ok1 || !ok2 {
		return "time not set"
	}
	return start.Format(timeLayout) + " - " + end.Format("15:04")
}

func money(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func payloadString(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
