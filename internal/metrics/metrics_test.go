package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

func TestObserverCountsOutcomes(t *testing.T) {
	o := NewObserver()
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 19, 0, 0, 0, time.UTC)

	verified := scanOutcomes.WithLabelValues("event", string(domain.OutcomeVerified))
	before := testutil.ToFloat64(verified)

	snap := domain.Snapshot{ID: "s1", Kind: domain.KindEvent}
	step := func(prev, next domain.Mode, offset time.Duration) {
		snap.Mode = next
		snap.UpdatedAt = start.Add(offset)
		o.SessionChanged(ctx, prev, snap)
	}
	step(domain.ModeIdle, domain.ModeDecoded, 0)
	step(domain.ModeDecoded, domain.ModeFetchingDetails, 0)
	step(domain.ModeFetchingDetails, domain.ModeReady, 200*time.Millisecond)
	step(domain.ModeReady, domain.ModeVerifying, time.Second)
	step(domain.ModeVerifying, domain.ModeVerified, 1500*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(verified))
	assert.Empty(t, o.started)
	assert.Equal(t, 2, testutil.CollectAndCount(backendDuration))
}

func TestObserverForgetsClosedSessions(t *testing.T) {
	o := NewObserver()
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 19, 0, 0, 0, time.UTC)

	o.SessionChanged(ctx, domain.ModeDecoded, domain.Snapshot{ID: "s2", Kind: domain.KindMovie, Mode: domain.ModeFetchingDetails, UpdatedAt: at})
	o.SessionChanged(ctx, domain.ModeReady, domain.Snapshot{ID: "s3", Kind: domain.KindMovie, Mode: domain.ModeVerifying, UpdatedAt: at})
	assert.Len(t, o.started, 2)

	o.SessionChanged(ctx, domain.ModeFetchingDetails, domain.Snapshot{ID: "s2", Kind: domain.KindMovie, Mode: domain.ModeIdle, UpdatedAt: at, Closed: true})
	o.SessionChanged(ctx, domain.ModeVerifying, domain.Snapshot{ID: "s3", Kind: domain.KindMovie, Mode: domain.ModeIdle, UpdatedAt: at, Closed: true})
	assert.Empty(t, o.started)
}

func TestDecodeFault(t *testing.T) {
	before := testutil.ToFloat64(decodeFaults)
	DecodeFault(errors.New("checksum"))
	assert.Equal(t, before+1, testutil.ToFloat64(decodeFaults))
}

func TestTrackSessions(t *testing.T) {
	gauge := TrackSessions(func() int { return 3 })
	assert.Equal(t, float64(3), testutil.ToFloat64(gauge))
}
