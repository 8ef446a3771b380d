package scanner

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/venue-scanner/pkg/events"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	last     events.ScanEvent
}

func (c *capturePublisher) Publish(_ context.Context, subject string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.last = data.(events.ScanEvent)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestEventObserver(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSession(t, newFakeAPI(), nil, NewEventObserver(pub))

	require.NoError(t, s.ScanImage(context.Background(), bytesOf(t, validPayload)))
	require.NoError(t, s.Verify(context.Background()))
	require.NoError(t, s.Reset())

	assert.Equal(t, []string{events.ScanDecoded, events.TicketLoaded, events.TicketVerified}, pub.subjects)
	assert.Equal(t, "BK1001", pub.last.BookingID)
	assert.Equal(t, "S9", pub.last.ShowtimeID)
	assert.Equal(t, "Ticket verified successfully.", pub.last.Message)
}

func TestEventObserverRejected(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSession(t, newFakeAPI(), nil, NewEventObserver(pub))

	require.NoError(t, s.ScanImage(context.Background(), bytesOf(t, "garbage")))
	assert.Equal(t, []string{events.ScanRejected}, pub.subjects)
	assert.Empty(t, pub.last.BookingID)
}

func TestNoopPublisher(t *testing.T) {
	var pub events.Publisher = events.Noop{}
	assert.NoError(t, pub.Publish(context.Background(), events.ScanDecoded, events.ScanEvent{}))
	assert.NoError(t, pub.Close())
}
