package scanner

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/venue-scanner/internal/camera"
	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/internal/qr"
	"github.com/diagnosis/venue-scanner/internal/ticketapi"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

// TicketService is the slice of the ticketing backend a session needs.
type TicketService interface {
	FetchTicketDetails(ctx context.Context, kind domain.TicketKind, bookingID, token string) (*domain.TicketDetail, error)
	FetchFoodItems(ctx context.Context, kind domain.TicketKind, bookingID, token string) ([]domain.FoodItem, error)
	VerifyTicket(ctx context.Context, kind domain.TicketKind, bookingID, token string) (string, error)
}

// Observer is told about every transition after it happens, in order.
// Implementations must not call back into the session's mutating methods.
type Observer interface {
	SessionChanged(ctx context.Context, prev domain.Mode, snap domain.Snapshot)
}

type ObserverFunc func(ctx context.Context, prev domain.Mode, snap domain.Snapshot)

func (f ObserverFunc) SessionChanged(ctx context.Context, prev domain.Mode, snap domain.Snapshot) {
	f(ctx, prev, snap)
}

type Config struct {
	ID       string
	Kind     domain.TicketKind
	Token    string
	Operator string

	API    TicketService
	Device camera.Device
	// Decode replaces the live frame decoder; nil uses qr.DecodeFrame.
	Decode qr.FrameDecoder
	// Credential rejects tokens that cannot succeed; nil only rejects empty tokens.
	Credential func(token string) error
	// OnDecodeFault receives decoder faults while the camera is scanning.
	OnDecodeFault func(err error)

	DefaultFacing domain.Facing
	Observers     []Observer
	Now           func() time.Time

	// ObserverTimeout bounds each observer call; 0 means DefaultObserverTimeout.
	ObserverTimeout time.Duration
	// MaxFramePixels bounds still images; 0 means qr.DefaultMaxPixels.
	MaxFramePixels int
}

// DefaultObserverTimeout is how long a single observer may take to handle
// one transition.
const DefaultObserverTimeout = 5 * time.Second

// Session is one scan attempt, from the first decode through verification.
// Rejected operations return an error and leave the state untouched; every
// other outcome, including failures, is reflected in the snapshot.
type Session struct {
	id         string
	kind       domain.TicketKind
	token      string
	operator   string
	api        TicketService
	cameras    *camera.Manager
	decoder    *qr.VideoDecoder
	credential func(string) error
	onFault    func(error)
	observers  []Observer
	obsTimeout time.Duration
	maxPixels  int
	now        func() time.Time
	baseCtx    context.Context

	mu           sync.Mutex
	mode         domain.Mode
	facing       domain.Facing
	payload      *domain.Payload
	ticket       *domain.TicketDetail
	food         []domain.FoodItem
	errMsg       string
	okMsg        string
	updatedAt    time.Time
	handle       *camera.Handle
	decoding     bool
	opening      bool
	lastRejected string
	gen          uint64
	cancel       context.CancelFunc
	closed       bool

	// notifyMu keeps observer callbacks in transition order.
	notifyMu sync.Mutex
}

func NewSession(cfg Config) *Session {
	kind := cfg.Kind
	if kind == "" {
		kind = domain.KindMovie
	}
	facing := cfg.DefaultFacing
	if facing == "" {
		facing = domain.FacingEnvironment
	}
	credential := cfg.Credential
	if credential == nil {
		credential = func(token string) error {
			if token == "" {
				return domain.ErrUnauthenticated
			}
			return nil
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	obsTimeout := cfg.ObserverTimeout
	if obsTimeout <= 0 {
		obsTimeout = DefaultObserverTimeout
	}

	s := &Session{
		id:         cfg.ID,
		kind:       kind,
		token:      cfg.Token,
		operator:   cfg.Operator,
		api:        cfg.API,
		cameras:    camera.NewManager(cfg.Device),
		decoder:    qr.NewVideoDecoder(cfg.Decode),
		credential: credential,
		onFault:    cfg.OnDecodeFault,
		observers:  cfg.Observers,
		obsTimeout: obsTimeout,
		maxPixels:  cfg.MaxFramePixels,
		now:        now,
		baseCtx:    logger.WithSession(context.Background(), cfg.ID),
		mode:       domain.ModeIdle,
		facing:     facing,
	}
	s.updatedAt = now()
	return s
}

func (s *Session) ID() string { return s.id }

// Owns reports whether token is the credential the session was opened with.
func (s *Session) Owns(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		ID:             s.id,
		Kind:           s.kind,
		Mode:           s.mode,
		Facing:         s.facing,
		ErrorMessage:   s.errMsg,
		SuccessMessage: s.okMsg,
		Operator:       s.operator,
		UpdatedAt:      s.updatedAt,
		FoodItems:      append([]domain.FoodItem{}, s.food...),
		Closed:         s.closed,
	}
	if s.payload != nil {
		p := *s.payload
		snap.Payload = &p
	}
	if s.ticket != nil {
		t := *s.ticket
		t.SeatNumbers = append([]string(nil), s.ticket.SeatNumbers...)
		snap.Ticket = &t
	}
	return snap
}

// unlockAndNotify publishes the state reached under s.mu and releases it.
// Observers run after the unlock but before any later transition is published.
func (s *Session) unlockAndNotify(prev domain.Mode) {
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	ctx := s.baseCtx
	if snap.Payload != nil {
		ctx = logger.WithBooking(ctx, snap.Payload.BookingID)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if prev != snap.Mode {
		logger.InfoContext(ctx, "Scan session transition", "from", prev, "to", snap.Mode)
	}
	for _, o := range s.observers {
		octx, cancel := context.WithTimeout(ctx, s.obsTimeout)
		o.SessionChanged(octx, prev, snap)
		cancel()
	}
}

func (s *Session) setError(msg string) {
	s.errMsg = msg
	s.okMsg = ""
}

func (s *Session) setSuccess(msg string) {
	s.okMsg = msg
	s.errMsg = ""
}

func (s *Session) clearMessages() {
	s.errMsg = ""
	s.okMsg = ""
}

// guardLocked applies the rules shared by every operation that starts work.
func (s *Session) guardLocked() error {
	switch {
	case s.closed:
		return domain.ErrSessionClosed
	case s.mode.Busy(), s.decoding, s.opening:
		return domain.ErrBusy
	}
	return nil
}

// StartCamera opens the camera with the given facing and begins live decoding.
// The device is opened without holding the session lock; a Reset or Dispose
// that lands meanwhile wins and the new stream is released.
func (s *Session) StartCamera(ctx context.Context, facing domain.Facing) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.mode != domain.ModeIdle {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if facing == "" {
		facing = s.facing
	}
	s.opening = true
	gen := s.gen
	s.mu.Unlock()

	h, err := s.cameras.Start(ctx, facing)

	s.mu.Lock()
	s.opening = false
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		s.discardHandle(h)
		return domain.ErrInvalidTransition
	}
	prev := s.mode
	if err != nil {
		s.cameraFailedLocked(ctx, err)
		s.unlockAndNotify(prev)
		return nil
	}

	s.facing = facing
	s.handle = h
	s.mode = domain.ModeCameraActive
	s.lastRejected = ""
	s.clearMessages()
	s.startDecoderLocked()
	s.unlockAndNotify(prev)
	return nil
}

// discardHandle releases a stream opened for a generation that is gone.
func (s *Session) discardHandle(h *camera.Handle) {
	if err := s.cameras.Stop(h); err != nil {
		logger.WarnContext(s.baseCtx, "Failed to release camera", "error", err)
	}
}

func (s *Session) cameraFailedLocked(ctx context.Context, err error) {
	logger.WarnContext(logger.WithSession(ctx, s.id), "Camera unavailable", "error", err)
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		s.mode = domain.ModeFailed
		s.setError(domain.MsgCameraDenied)
	case errors.Is(err, domain.ErrNoCamera):
		s.mode = domain.ModeFailed
		s.setError(domain.MsgNoCamera)
	default:
		s.mode = domain.ModeIdle
		s.setError(domain.MsgCameraFailed)
	}
}

func (s *Session) startDecoderLocked() {
	gen := s.gen
	s.decoder.Start(s.handle.Frames(),
		func(raw string) { go s.handleCameraResult(gen, raw) },
		func(err error) {
			logger.DebugContext(s.baseCtx, "Frame decode fault", "error", err)
			if s.onFault != nil {
				s.onFault(err)
			}
		},
	)
}

// releaseCameraLocked stops decoding and frees the camera.
func (s *Session) releaseCameraLocked() {
	s.decoder.Stop()
	if err := s.cameras.Stop(s.handle); err != nil {
		logger.WarnContext(s.baseCtx, "Failed to release camera", "error", err)
	}
	s.handle = nil
}

func (s *Session) handleCameraResult(gen uint64, raw string) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.mode != domain.ModeCameraActive {
		s.mu.Unlock()
		return
	}

	prev := s.mode
	payload, err := qr.ParsePayload(raw)
	if err != nil {
		if raw == s.lastRejected {
			s.mu.Unlock()
			return
		}
		s.lastRejected = raw
		s.setError(domain.MsgInvalidQR)
		s.unlockAndNotify(prev)
		return
	}

	s.releaseCameraLocked()
	s.mode = domain.ModeDecoded
	s.payload = &payload
	s.clearMessages()
	s.unlockAndNotify(prev)

	s.mu.Lock()
	s.fetchDetailsLocked(gen)
}

// ScanImage decodes a still image, such as a photo of the ticket, and on
// success loads the booking.
func (s *Session) ScanImage(ctx context.Context, r io.Reader) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.mode == domain.ModeCameraActive {
		s.mu.Unlock()
		return domain.ErrDecodeSourceBusy
	}
	if s.mode != domain.ModeIdle {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	s.decoding = true
	gen := s.gen
	s.mu.Unlock()

	raw, err := qr.DecodeImage(r, s.maxPixels)
	msg := domain.MsgImageUnreadable
	var payload domain.Payload
	if err == nil {
		msg = domain.MsgInvalidQR
		payload, err = qr.ParsePayload(raw)
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	s.decoding = false
	prev := s.mode
	if err != nil {
		logger.InfoContext(logger.WithSession(ctx, s.id), "Image scan rejected", "error", err)
		s.setError(msg)
		s.unlockAndNotify(prev)
		return nil
	}

	s.mode = domain.ModeDecoded
	s.payload = &payload
	s.clearMessages()
	s.unlockAndNotify(prev)

	s.mu.Lock()
	s.fetchDetailsLocked(gen)
	return nil
}

// fetchDetailsLocked moves decoded to fetchingDetails and loads the ticket
// and food order concurrently. Called with s.mu held; returns with it released.
// Nothing happens if the session moved on since generation gen.
func (s *Session) fetchDetailsLocked(gen uint64) {
	if s.closed || gen != s.gen || s.mode != domain.ModeDecoded {
		s.mu.Unlock()
		return
	}
	prev := s.mode
	if err := s.credential(s.token); err != nil {
		s.mode = domain.ModeFailed
		s.setError(domain.MsgUnauthenticated)
		s.unlockAndNotify(prev)
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	bookingID := s.payload.BookingID
	ctx = logger.WithBooking(ctx, bookingID)
	s.cancel = cancel
	s.mode = domain.ModeFetchingDetails
	s.clearMessages()
	s.unlockAndNotify(prev)
	defer cancel()

	var (
		ticket *domain.TicketDetail
		food   []domain.FoodItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.api.FetchTicketDetails(gctx, s.kind, bookingID, s.token)
		ticket = t
		return err
	})
	g.Go(func() error {
		items, err := s.api.FetchFoodItems(gctx, s.kind, bookingID, s.token)
		if err != nil {
			logger.InfoContext(ctx, "Food order unavailable", "error", err)
			return nil
		}
		food = items
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		logger.DebugContext(ctx, "Discarding details for replaced session")
		return
	}
	s.cancel = nil
	prev = s.mode
	if err != nil || ticket == nil {
		logger.WarnContext(ctx, "Ticket details failed", "error", err)
		s.mode = domain.ModeFailed
		s.setError(s.fetchFailureMessage(err))
		s.unlockAndNotify(prev)
		return
	}

	if food == nil {
		food = []domain.FoodItem{}
	}
	s.ticket = ticket
	s.food = food
	s.mode = domain.ModeReady
	s.unlockAndNotify(prev)
}

func (s *Session) fetchFailureMessage(err error) string {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return domain.MsgUnauthenticated
	}
	fallback := domain.MsgMovieLoadFailed
	if s.kind == domain.KindEvent {
		fallback = domain.MsgEventLoadFailed
	}
	return ticketapi.MessageOf(err, fallback)
}

// Verify asks the backend to mark the booking as checked in. A failed
// attempt returns to ready so the operator can try again.
func (s *Session) Verify(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.mode != domain.ModeReady {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}

	prev := s.mode
	if err := s.credential(s.token); err != nil {
		s.setError(domain.MsgUnauthenticated)
		s.unlockAndNotify(prev)
		return nil
	}

	callCtx, cancel := context.WithCancel(logger.WithBooking(s.baseCtx, s.payload.BookingID))
	defer cancel()
	gen := s.gen
	bookingID := s.payload.BookingID
	s.cancel = cancel
	s.mode = domain.ModeVerifying
	s.clearMessages()
	s.unlockAndNotify(prev)

	msg, err := s.api.VerifyTicket(callCtx, s.kind, bookingID, s.token)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.cancel = nil
	prev = s.mode
	if err != nil {
		logger.WarnContext(logger.WithSession(ctx, s.id), "Ticket verification failed", "booking_id", bookingID, "error", err)
		s.mode = domain.ModeReady
		if errors.Is(err, domain.ErrUnauthenticated) {
			s.setError(domain.MsgUnauthenticated)
		} else {
			s.setError(ticketapi.MessageOf(err, domain.MsgVerifyFailed))
		}
		s.unlockAndNotify(prev)
		return nil
	}

	if msg == "" {
		msg = domain.MsgVerifySucceeded
	}
	s.mode = domain.ModeVerified
	s.setSuccess(msg)
	s.unlockAndNotify(prev)
	return nil
}

// SwitchCamera flips between the environment and user cameras. The old
// stream is fully released before the new one is opened.
func (s *Session) SwitchCamera(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.opening {
		s.mu.Unlock()
		return domain.ErrBusy
	}
	if s.mode != domain.ModeCameraActive {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}

	// Codes read by the old stream are dropped from here on.
	s.gen++
	gen := s.gen
	s.decoder.Stop()
	old := s.handle
	s.handle = nil
	s.opening = true
	next := s.facing.Opposite()
	s.mu.Unlock()

	h, err := s.cameras.Switch(ctx, old, next)

	s.mu.Lock()
	s.opening = false
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		s.discardHandle(h)
		return domain.ErrInvalidTransition
	}
	prev := s.mode
	if err != nil {
		s.cameraFailedLocked(ctx, err)
		s.unlockAndNotify(prev)
		return nil
	}

	s.handle = h
	s.facing = next
	s.lastRejected = ""
	s.startDecoderLocked()
	s.unlockAndNotify(prev)
	return nil
}

// StopCamera is the operator's explicit stop; the session returns to idle.
func (s *Session) StopCamera() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.mode != domain.ModeCameraActive {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	prev := s.mode
	s.gen++
	s.releaseCameraLocked()
	s.mode = domain.ModeIdle
	s.clearMessages()
	s.unlockAndNotify(prev)
	return nil
}

// Reset returns the session to idle from any state, releasing the camera and
// discarding the results of any call still in flight.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	prev := s.mode
	s.resetLocked()
	s.unlockAndNotify(prev)
	return nil
}

func (s *Session) resetLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.releaseCameraLocked()
	s.mode = domain.ModeIdle
	s.payload = nil
	s.ticket = nil
	s.food = nil
	s.decoding = false
	s.lastRejected = ""
	s.clearMessages()
}

// Dispose tears the session down for good. It is safe to call more than once.
// Observers see one last transition with Closed set.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.mode
	s.resetLocked()
	s.closed = true
	logger.DebugContext(s.baseCtx, "Scan session disposed")
	s.unlockAndNotify(prev)
}

// CameraActive reports whether the session currently holds a camera.
func (s *Session) CameraActive() bool {
	return s.cameras.Active() != nil
}
