package scanner

import (
	"context"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/pkg/events"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

var subjects = map[domain.Outcome]string{
	domain.OutcomeDecoded:      events.ScanDecoded,
	domain.OutcomeRejected:     events.ScanRejected,
	domain.OutcomeLoaded:       events.TicketLoaded,
	domain.OutcomeLoadFailed:   events.TicketLoadFailed,
	domain.OutcomeVerified:     events.TicketVerified,
	domain.OutcomeVerifyFailed: events.TicketVerifyError,
}

// EventObserver publishes scan outcomes to the event bus.
type EventObserver struct {
	pub events.Publisher
}

func NewEventObserver(pub events.Publisher) *EventObserver {
	return &EventObserver{pub: pub}
}

func (o *EventObserver) SessionChanged(ctx context.Context, prev domain.Mode, snap domain.Snapshot) {
	outcome, ok := domain.Classify(prev, snap)
	if !ok {
		return
	}
	subject, ok := subjects[outcome]
	if !ok {
		return
	}

	evt := events.ScanEvent{
		SessionID:  snap.ID,
		Kind:       string(snap.Kind),
		BookingID:  snap.BookingID(),
		Operator:   snap.Operator,
		Message:    snap.ErrorMessage,
		OccurredAt: snap.UpdatedAt,
	}
	if snap.SuccessMessage != "" {
		evt.Message = snap.SuccessMessage
	}
	if snap.Payload != nil {
		evt.ShowtimeID = snap.Payload.ShowtimeID
		evt.EventID = snap.Payload.EventID
	}

	if err := o.pub.Publish(ctx, subject, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to publish scan event", "subject", subject, "error", err)
	}
}
