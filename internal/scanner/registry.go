package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/venue-scanner/internal/camera"
	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

type entry struct {
	session  *Session
	device   *camera.PushDevice
	lastSeen time.Time
}

// Registry keeps the open sessions of a scanner service. Sessions that have
// not been touched for ttl are disposed by Sweep.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

func (r *Registry) add(s *Session, device *camera.PushDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = &entry{session: s, device: device, lastSeen: r.now()}
}

// Get returns the session and the device its frames are pushed to.
func (r *Registry) Get(id string) (*Session, *camera.PushDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.session, e.device, nil
}

// Remove disposes the session and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.session.Dispose()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep disposes sessions idle since before now-ttl and returns how many
// were evicted.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	var expired []*entry
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.session.Dispose()
		logger.Info("Evicted idle scan session", "session_id", e.session.ID())
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.Sweep(t)
		}
	}
}

// Close disposes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.session.Dispose()
	}
}

// Options configures the sessions a Service opens.
type Options struct {
	API           TicketService
	Facings       []domain.Facing
	DefaultFacing domain.Facing
	FrameBuffer   int
	SessionTTL    time.Duration

	// MaxFramePixels bounds uploaded and pushed images; 0 means qr.DefaultMaxPixels.
	MaxFramePixels int

	// Identify validates a bearer token and names its operator.
	Identify  func(token string) (operator string, err error)
	Observers []Observer

	// ObserverTimeout bounds each observer call; 0 means DefaultObserverTimeout.
	ObserverTimeout time.Duration
	OnDecodeFault   func(err error)
}

// Service opens scan sessions backed by push cameras and tracks them.
type Service struct {
	opts     Options
	registry *Registry
}

func NewService(opts Options) *Service {
	if len(opts.Facings) == 0 {
		opts.Facings = []domain.Facing{domain.FacingEnvironment, domain.FacingUser}
	}
	return &Service{opts: opts, registry: NewRegistry(opts.SessionTTL)}
}

func (svc *Service) Registry() *Registry { return svc.registry }

// MaxFramePixels is the pixel limit applied to frames before decoding.
func (svc *Service) MaxFramePixels() int { return svc.opts.MaxFramePixels }

// Open creates a session for kind that calls the backend with token.
func (svc *Service) Open(ctx context.Context, kind domain.TicketKind, token string) *Session {
	device := camera.NewPushDevice(svc.opts.Facings, svc.opts.FrameBuffer)

	var operator string
	credential := func(string) error { return nil }
	if svc.opts.Identify != nil {
		if op, err := svc.opts.Identify(token); err == nil {
			operator = op
		}
		credential = func(t string) error {
			_, err := svc.opts.Identify(t)
			return err
		}
	} else if token == "" {
		credential = func(string) error { return domain.ErrUnauthenticated }
	}

	s := NewSession(Config{
		ID:              uuid.NewString(),
		Kind:            kind,
		Token:           token,
		Operator:        operator,
		API:             svc.opts.API,
		Device:          device,
		Credential:      credential,
		OnDecodeFault:   svc.opts.OnDecodeFault,
		DefaultFacing:   svc.opts.DefaultFacing,
		Observers:       svc.opts.Observers,
		ObserverTimeout: svc.opts.ObserverTimeout,
		MaxFramePixels:  svc.opts.MaxFramePixels,
	})
	svc.registry.add(s, device)

	logger.InfoContext(logger.WithSession(ctx, s.ID()), "Scan session opened", "kind", kind, "operator", operator)
	return s
}
