package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/diagnosis/venue-scanner/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// Noop drops every event. Used when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) error { return nil }
func (Noop) Close() error                                       { return nil }

// Event subjects
const (
	ScanDecoded       = "scan.decoded"
	ScanRejected      = "scan.rejected"
	TicketLoaded      = "scan.ticket.loaded"
	TicketLoadFailed  = "scan.ticket.failed"
	TicketVerified    = "scan.ticket.verified"
	TicketVerifyError = "scan.ticket.verify_failed"
)

// ScanEvent is the payload for every scan subject.
type ScanEvent struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	BookingID  string    `json:"booking_id,omitempty"`
	ShowtimeID string    `json:"showtime_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Operator   string    `json:"operator,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
