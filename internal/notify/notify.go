package notify

import (
	"context"
	"fmt"

	"github.com/Domenick1991/slotbooking/internal/events"
	"go.uber.org/zap"
)

// Sender relays booking changes to both parties. Delivery is best effort and only logged;
// a real channel plugs in behind the same method.
type Sender struct {
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger}
}

func (s *Sender) Send(_ context.Context, event events.BookingEvent) error {
	text, ok := message(event)
	if !ok {
		s.logger.Debug("no notification for event", zap.String("type", event.Type))
		return nil
	}
	for _, recipient := range []string{event.RequesterID, event.ResponderID} {
		s.logger.Info("notification",
			zap.String("to", recipient),
			zap.String("booking_id", event.BookingID),
			zap.String("type", event.Type),
			zap.String("text", text),
		)
	}
	return nil
}

func message(event events.BookingEvent) (string, bool) {
	when := event.StartAt.UTC().Format("Mon 2 Jan 15:04 MST")
	switch event.Type {
	case events.TypeBookingHeld:
		return fmt.Sprintf("Session on %s is on hold pending payment", when), true
	case events.TypeBookingConfirmed:
		return fmt.Sprintf("Session on %s is confirmed", when), true
	case events.TypeBookingFailed:
		return fmt.Sprintf("Payment for the session on %s failed: %s", when, event.Reason), true
	case events.TypeBookingExpired:
		return fmt.Sprintf("Hold for the session on %s expired", when), true
	case events.TypeBookingCancelled:
		if event.Reason != "" {
			return fmt.Sprintf("Session on %s was cancelled: %s", when, event.Reason), true
		}
		return fmt.Sprintf("Session on %s was cancelled", when), true
	case events.TypeBookingRescheduled:
		return fmt.Sprintf("Session moved to %s", when), true
	}
	return "", false
}
