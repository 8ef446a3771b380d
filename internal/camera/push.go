package camera

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

var ErrNoActiveStream = errors.New("camera is not streaming")

// PushDevice is a camera whose frames are delivered by the operator's
// device over HTTP rather than captured locally.
type PushDevice struct {
	facings map[domain.Facing]bool
	buffer  int

	mu     sync.Mutex
	denied bool
	stream *pushStream
}

func NewPushDevice(facings []domain.Facing, buffer int) *PushDevice {
	if buffer < 1 {
		buffer = 1
	}
	set := make(map[domain.Facing]bool, len(facings))
	for _, f := range facings {
		set[f] = true
	}
	return &PushDevice{facings: set, buffer: buffer}
}

// SetDenied simulates the host revoking (or restoring) camera permission.
func (d *PushDevice) SetDenied(denied bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = denied
}

func (d *PushDevice) Open(_ context.Context, facing domain.Facing) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.denied {
		return nil, ErrCameraAccessDenied
	}
	if !d.facings[facing] {
		return nil, ErrNoCameraAvailable
	}
	if d.stream != nil {
		d.stream.closeLocked()
	}
	d.stream = &pushStream{device: d, frames: make(chan image.Image, d.buffer)}
	return d.stream, nil
}

// Push hands a frame to the open stream. It reports false when the frame was
// dropped because the decoder is behind.
func (d *PushDevice) Push(img image.Image) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return false, ErrNoActiveStream
	}
	select {
	case d.stream.frames <- img:
		return true, nil
	default:
		return false, nil
	}
}

// Streaming reports whether a stream is open.
func (d *PushDevice) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

type pushStream struct {
	device *PushDevice
	frames chan image.Image
	closed bool
}

func (s *pushStream) Frames() <-chan image.Image { return s.frames }

func (s *pushStream) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *pushStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
	if s.device.stream == s {
		s.device.stream = nil
	}
}
