package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/webp"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

// ErrNoCode means the frame was read but held no QR code. Live scanning
// treats it as a normal, silent outcome.
var ErrNoCode = fmt.Errorf("%w: no qr code in image", domain.ErrDecode)

var tryHarder = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// DefaultMaxPixels bounds frames when no explicit limit is configured.
const DefaultMaxPixels = 4096 * 4096

// ErrFrameTooLarge is returned for images whose declared dimensions exceed
// the pixel limit. The pixels are never decoded.
var ErrFrameTooLarge = fmt.Errorf("%w: image dimensions too large", domain.ErrDecode)

// ReadFrame decodes a PNG, JPEG, GIF or WebP image of at most maxPixels
// pixels. A non-positive maxPixels means DefaultMaxPixels.
func ReadFrame(r io.Reader, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", domain.ErrDecode, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image: %v", domain.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w (%dx%d)", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image: %v", domain.ErrDecode, err)
	}
	return img, nil
}

// DecodeImage reads a still image and returns the text of the first QR code in it.
func DecodeImage(r io.Reader, maxPixels int) (string, error) {
	img, err := ReadFrame(r, maxPixels)
	if err != nil {
		return "", err
	}
	text, err := DecodeFrame(img)
	if err != nil && !errors.Is(err, domain.ErrDecode) {
		return "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return text, err
}

// DecodeFrame decodes a single camera frame. A frame without a readable
// code returns ErrNoCode; anything else is a decoder fault.
func DecodeFrame(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("prepare bitmap: %w", err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, tryHarder)
	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			return "", ErrNoCode
		}
		return "", fmt.Errorf("decode frame: %w", err)
	}
	return result.GetText(), nil
}
