// Package camera turns the car's MJPEG stream into model-ready tensors.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"time"

	"github.com/banshee-data/camdrive/internal/classify"
	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

// ErrNoFrame is returned when every capture attempt failed.
var ErrNoFrame = errors.New("no frame captured")

// FrameSource captures and preprocesses one frame per call.
type FrameSource struct {
	grabber    Grabber
	clock      timeutil.Clock
	width      int
	height     int
	attempts   int
	retryDelay time.Duration
}

// NewFrameSource creates a FrameSource producing width x height tensors.
func NewFrameSource(g Grabber, clock timeutil.Clock, width, height, attempts int, retryDelay time.Duration) *FrameSource {
	if attempts <= 0 {
		attempts = 1
	}
	return &FrameSource{
		grabber:    g,
		clock:      clock,
		width:      width,
		height:     height,
		attempts:   attempts,
		retryDelay: retryDelay,
	}
}

// Capture fetches, decodes, fits and normalizes one frame, retrying with a
// fixed pause between attempts. The returned error wraps ErrNoFrame.
func (s *FrameSource) Capture(ctx context.Context) (classify.Tensor, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		t, err := s.captureOnce(ctx)
		if err == nil {
			return t, nil
		}
		lastErr = err
		monitoring.Logf("image capture failed (attempt %d): %v", attempt, err)

		if ctx.Err() != nil {
			break
		}
		if attempt < s.attempts {
			s.clock.Sleep(s.retryDelay)
		}
	}
	return classify.Tensor{}, fmt.Errorf("%w: %v", ErrNoFrame, lastErr)
}

func (s *FrameSource) captureOnce(ctx context.Context) (classify.Tensor, error) {
	raw, err := s.grabber.Grab(ctx)
	if err != nil {
		return classify.Tensor{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return classify.Tensor{}, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Empty() {
		return classify.Tensor{}, errors.New("decode: empty image")
	}
	return ToTensor(Fit(img, s.width, s.height)), nil
}
