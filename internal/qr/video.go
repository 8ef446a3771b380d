package qr

import (
	"context"
	"errors"
	"image"
	"sync"
)

// FrameDecoder turns one frame into QR text. DecodeFrame is the production
// implementation; tests substitute their own.
type FrameDecoder func(image.Image) (string, error)

// VideoDecoder scans a live stream of frames until stopped. It reports every
// successful decode; the caller decides when a result is final and stops it.
type VideoDecoder struct {
	decode FrameDecoder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewVideoDecoder(decode FrameDecoder) *VideoDecoder {
	if decode == nil {
		decode = DecodeFrame
	}
	return &VideoDecoder{decode: decode}
}

// Start begins decoding frames. onResult receives decoded text, onError
// receives decoder faults; frames without a code are skipped. Start on a
// running decoder stops the previous loop first.
func (d *VideoDecoder) Start(frames <-chan image.Image, onResult func(string), onError func(error)) {
	d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.loop(ctx, frames, done, onResult, onError)
}

func (d *VideoDecoder) loop(ctx context.Context, frames <-chan image.Image, done chan struct{}, onResult func(string), onError func(error)) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			text, err := d.decode(frame)
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil:
				if onResult != nil {
					onResult(text)
				}
			case errors.Is(err, ErrNoCode):
			default:
				if onError != nil {
					onError(err)
				}
			}
		}
	}
}

// Stop halts decoding and waits for the loop to exit. It is safe to call
// repeatedly and before Start, but not from inside a callback.
func (d *VideoDecoder) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a decode loop is active.
func (d *VideoDecoder) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}
