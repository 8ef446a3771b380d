package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

// countingDevice records every open and close so tests can check for leaks.
type countingDevice struct {
	mu      sync.Mutex
	openErr error
	opened  int
	closed  int
	live    int
	maxLive int
}

func (d *countingDevice) Open(_ context.Context, _ domain.Facing) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	return &countingStream{device: d, frames: make(chan image.Image)}, nil
}

type countingStream struct {
	device *countingDevice
	frames chan image.Image
}

func (s *countingStream) Frames() <-chan image.Image { return s.frames }

func (s *countingStream) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.device.closed++
	s.device.live--
	close(s.frames)
	return nil
}

func TestManagerStopIsIdempotent(t *testing.T) {
	dev := &countingDevice{}
	m := NewManager(dev)

	h, err := m.Start(context.Background(), domain.FacingEnvironment)
	require.NoError(t, err)

	require.NoError(t, m.Stop(h))
	require.NoError(t, m.Stop(h))
	require.NoError(t, m.Stop(nil))

	assert.Equal(t, 1, dev.closed)
	assert.True(t, h.Stopped())
	assert.Nil(t, m.Active())
}

func TestManagerRefusesSecondStream(t *testing.T) {
	m := NewManager(&countingDevice{})

	_, err := m.Start(context.Background(), domain.FacingEnvironment)
	require.NoError(t, err)

	_, err = m.Start(context.Background(), domain.FacingUser)
	assert.ErrorIs(t, err, ErrCameraBusy)
}

func TestManagerSwitchStopsOldBeforeOpeningNew(t *testing.T) {
	dev := &countingDevice{}
	m := NewManager(dev)

	h, err := m.Start(context.Background(), domain.FacingEnvironment)
	require.NoError(t, err)

	h2, err := m.Switch(context.Background(), h, domain.FacingUser)
	require.NoError(t, err)

	assert.True(t, h.Stopped())
	assert.False(t, h2.Stopped())
	assert.Equal(t, domain.FacingUser, h2.Facing())
	assert.Equal(t, 1, dev.maxLive)
	assert.Equal(t, h2, m.Active())
}

func TestManagerClassifiesOpenErrors(t *testing.T) {
	dev := &countingDevice{openErr: ErrCameraAccessDenied}
	m := NewManager(dev)

	_, err := m.Start(context.Background(), domain.FacingEnvironment)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	dev.openErr = errors.New("usb reset")
	_, err = m.Start(context.Background(), domain.FacingEnvironment)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Nil(t, m.Active())
}

func TestPushDeviceFacingsAndPermission(t *testing.T) {
	dev := NewPushDevice([]domain.Facing{domain.FacingEnvironment}, 1)

	_, err := dev.Open(context.Background(), domain.FacingUser)
	assert.ErrorIs(t, err, ErrNoCameraAvailable)

	dev.SetDenied(true)
	_, err = dev.Open(context.Background(), domain.FacingEnvironment)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestPushDeviceDropsWhenBehind(t *testing.T) {
	dev := NewPushDevice([]domain.Facing{domain.FacingEnvironment}, 1)

	_, err := dev.Push(image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, ErrNoActiveStream)

	stream, err := dev.Open(context.Background(), domain.FacingEnvironment)
	require.NoError(t, err)

	frame := image.NewGray(image.Rect(0, 0, 1, 1))
	ok, err := dev.Push(frame)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dev.Push(frame)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.False(t, dev.Streaming())

	// Buffered frame is still readable, then the channel reports closed.
	_, open := <-stream.Frames()
	assert.True(t, open)
	_, open = <-stream.Frames()
	assert.False(t, open)
}
