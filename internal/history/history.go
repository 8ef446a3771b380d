package history

import (
	"context"
	"time"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

// Record is one scan outcome kept for the operator's recent history.
type Record struct {
	SessionID string            `json:"sessionId"`
	Operator  string            `json:"operator"`
	Kind      domain.TicketKind `json:"kind"`
	BookingID string            `json:"bookingId,omitempty"`
	Outcome   domain.Outcome    `json:"outcome"`
	Message   string            `json:"message,omitempty"`
	At        time.Time         `json:"at"`
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, operator string, limit int) ([]Record, error)
}

// AnonymousOperator keys the history of sessions opened with opaque tokens.
const AnonymousOperator = "anonymous"

func operatorKey(op string) string {
	if op == "" {
		return AnonymousOperator
	}
	return op
}

// Nop keeps nothing.
type Nop struct{}

func (Nop) Append(context.Context, Record) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Record, error) { return []Record{}, nil }

// Observer writes every recordable outcome to a Store. Decodes are not
// recorded; the load or rejection that follows says more.
type Observer struct {
	store Store
}

func NewObserver(store Store) *Observer {
	return &Observer{store: store}
}

func (o *Observer) SessionChanged(ctx context.Context, prev domain.Mode, snap domain.Snapshot) {
	outcome, ok := domain.Classify(prev, snap)
	if !ok || outcome == domain.OutcomeDecoded {
		return
	}

	msg := snap.ErrorMessage
	if snap.SuccessMessage != "" {
		msg = snap.SuccessMessage
	}
	rec := Record{
		SessionID: snap.ID,
		Operator:  operatorKey(snap.Operator),
		Kind:      snap.Kind,
		BookingID: snap.BookingID(),
		Outcome:   outcome,
		Message:   msg,
		At:        snap.UpdatedAt,
	}
	if err := o.store.Append(ctx, rec); err != nil {
		logger.ErrorContext(ctx, "Failed to record scan history", "outcome", outcome, "error", err)
	}
}
