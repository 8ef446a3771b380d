package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

var (
	ErrCameraAccessDenied = fmt.Errorf("%w: host refused camera access", domain.ErrPermissionDenied)
	ErrNoCameraAvailable  = fmt.Errorf("%w: no device for requested facing", domain.ErrNoCamera)
	ErrCameraBusy         = errors.New("camera already active")
)

// Device is a source of camera streams.
type Device interface {
	Open(ctx context.Context, facing domain.Facing) (Stream, error)
}

// Stream is an open camera. Close must release the underlying tracks and
// close the Frames channel.
type Stream interface {
	Frames() <-chan image.Image
	Close() error
}

// Handle is the caller's reference to an acquired stream.
type Handle struct {
	facing domain.Facing
	stream Stream

	once    sync.Once
	stopped chan struct{}
	err     error
}

func (h *Handle) Facing() domain.Facing { return h.facing }

func (h *Handle) Frames() <-chan image.Image { return h.stream.Frames() }

// Stopped reports whether the handle has been released.
func (h *Handle) Stopped() bool {
	select {
	case <-h.stopped:
		return true
	default:
		return false
	}
}

func (h *Handle) release() error {
	h.once.Do(func() {
		h.err = h.stream.Close()
		close(h.stopped)
	})
	return h.err
}

// Manager owns at most one active camera handle at a time.
type Manager struct {
	device Device

	mu     sync.Mutex
	active *Handle
}

func NewManager(device Device) *Manager {
	return &Manager{device: device}
}

// Start opens a stream for facing. It refuses to open a second stream while
// one is active.
func (m *Manager) Start(ctx context.Context, facing domain.Facing) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Stopped() {
		return nil, ErrCameraBusy
	}
	return m.open(ctx, facing)
}

func (m *Manager) open(ctx context.Context, facing domain.Facing) (*Handle, error) {
	stream, err := m.device.Open(ctx, facing)
	if err != nil {
		if stream != nil {
			stream.Close()
		}
		return nil, classify(err)
	}

	h := &Handle{facing: facing, stream: stream, stopped: make(chan struct{})}
	m.active = h
	return h, nil
}

// Switch releases h completely and then opens facing.
func (m *Manager) Switch(ctx context.Context, h *Handle, facing domain.Facing) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h != nil {
		h.release()
	}
	if m.active != nil && m.active != h {
		m.active.release()
	}
	m.active = nil
	return m.open(ctx, facing)
}

// Stop releases h. Nil and already stopped handles are fine.
func (m *Manager) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := h.release()
	if m.active == h {
		m.active = nil
	}
	return err
}

// Active returns the currently held handle, if any.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Stopped() {
		return nil
	}
	return m.active
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrNoCamera):
		return err
	default:
		return fmt.Errorf("open camera: %w", err)
	}
}
