package qr

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	goqrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

func encodePNG(t *testing.T, content string) []byte {
	t.Helper()
	data, err := goqrcode.Encode(content, goqrcode.Medium, 256)
	require.NoError(t, err)
	return data
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    domain.Payload
		wantErr bool
	}{
		{name: "booking only", raw: `{"bookingId":"BK1001"}`, want: domain.Payload{BookingID: "BK1001"}},
		{
			name: "extra fields passed through",
			raw:  `{"bookingId":" BK7 ","userId":"u1","appUserId":42,"email":"a@b.c","showtimeId":"s9","seats":["A1"]}`,
			want: domain.Payload{BookingID: "BK7", UserID: "u1", AppUserID: "42", Email: "a@b.c", ShowtimeID: "s9"},
		},
		{name: "non string optional ignored", raw: `{"bookingId":"BK8","userId":{"id":1}}`, want: domain.Payload{BookingID: "BK8"}},
		{name: "not json", raw: `BK1001`, wantErr: true},
		{name: "json array", raw: `["BK1001"]`, wantErr: true},
		{name: "missing booking", raw: `{"userId":"u1"}`, wantErr: true},
		{name: "empty booking", raw: `{"bookingId":"   "}`, wantErr: true},
		{name: "numeric booking", raw: `{"bookingId":1001}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeImage(t *testing.T) {
	text, err := DecodeImage(bytes.NewReader(encodePNG(t, `{"bookingId":"BK1001"}`)), 0)
	require.NoError(t, err)
	assert.Equal(t, `{"bookingId":"BK1001"}`, text)
}

func TestDecodeImageFailures(t *testing.T) {
	_, err := DecodeImage(strings.NewReader("definitely not an image"), 0)
	assert.ErrorIs(t, err, domain.ErrDecode)

	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))
	_, err = DecodeImage(&buf, 0)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestReadFramePixelLimit(t *testing.T) {
	data := encodePNG(t, `{"bookingId":"BK1001"}`)

	img, err := ReadFrame(bytes.NewReader(data), 256*256)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	_, err = ReadFrame(bytes.NewReader(data), 255*256)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, err, domain.ErrDecode)

	// A wide, flat frame compresses to almost nothing but still declares
	// more pixels than the default allows.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, DefaultMaxPixels+1, 1))))
	_, err = ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = DecodeImage(bytes.NewReader(data), 100*100)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestVideoDecoderReportsResultsAndFaults(t *testing.T) {
	fault := errors.New("sensor glitch")
	calls := 0
	dec := NewVideoDecoder(func(image.Image) (string, error) {
		calls++
		switch calls {
		case 1:
			return "", ErrNoCode
		case 2:
			return "", fault
		default:
			return "hello", nil
		}
	})

	frames := make(chan image.Image, 3)
	results := make(chan string, 3)
	var mu sync.Mutex
	var faults []error

	dec.Start(frames, func(s string) { results <- s }, func(err error) {
		mu.Lock()
		faults = append(faults, err)
		mu.Unlock()
	})
	assert.True(t, dec.Running())

	frame := image.NewGray(image.Rect(0, 0, 1, 1))
	for i := 0; i < 3; i++ {
		frames <- frame
	}

	select {
	case got := <-results:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no decode result")
	}

	dec.Stop()
	dec.Stop()
	assert.False(t, dec.Running())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], fault)
}

func TestVideoDecoderStopBeforeStart(t *testing.T) {
	dec := NewVideoDecoder(nil)
	dec.Stop()
	assert.False(t, dec.Running())
}

func TestVideoDecoderDecodesRealFrames(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(encodePNG(t, `{"bookingId":"BK2002"}`)))
	require.NoError(t, err)

	frames := make(chan image.Image, 1)
	results := make(chan string, 1)
	dec := NewVideoDecoder(nil)
	dec.Start(frames, func(s string) {
		select {
		case results <- s:
		default:
		}
	}, nil)
	defer dec.Stop()

	frames <- img
	select {
	case got := <-results:
		assert.Equal(t, `{"bookingId":"BK2002"}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("frame not decoded")
	}
}
