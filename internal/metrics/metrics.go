package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_outcomes_total",
			Help: "Scan session outcomes by ticket kind",
		},
		[]string{"kind", "outcome"},
	)

	decodeFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_decode_faults_total",
			Help: "Live frames the QR decoder failed on for reasons other than no code",
		},
	)

	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanner_backend_duration_seconds",
			Help:    "Time sessions spent waiting on the ticket backend",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind", "phase"},
	)
)

// TrackSessions exposes the number of open sessions as a gauge.
func TrackSessions(count func() int) prometheus.GaugeFunc {
	return promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scanner_open_sessions",
			Help: "Scan sessions currently held by the service",
		},
		func() float64 { return float64(count()) },
	)
}

// DecodeFault counts a decoder fault.
func DecodeFault(error) {
	decodeFaults.Inc()
}

// Observer records outcomes and backend wait times for sessions.
type Observer struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func NewObserver() *Observer {
	return &Observer{started: make(map[string]time.Time)}
}

func (o *Observer) SessionChanged(_ context.Context, prev domain.Mode, snap domain.Snapshot) {
	kind := string(snap.Kind)
	if outcome, ok := domain.Classify(prev, snap); ok {
		scanOutcomes.WithLabelValues(kind, string(outcome)).Inc()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if snap.Closed {
		delete(o.started, snap.ID)
		return
	}
	if phase, ok := waitPhase(prev); ok && prev != snap.Mode {
		if at, found := o.started[snap.ID]; found {
			backendDuration.WithLabelValues(kind, phase).Observe(snap.UpdatedAt.Sub(at).Seconds())
		}
		delete(o.started, snap.ID)
	}
	if _, ok := waitPhase(snap.Mode); ok {
		o.started[snap.ID] = snap.UpdatedAt
	}
}

func waitPhase(m domain.Mode) (string, bool) {
	switch m {
	case domain.ModeFetchingDetails:
		return "details", true
	case domain.ModeVerifying:
		return "verify", true
	}
	return "", false
}
