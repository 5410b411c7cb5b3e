package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

const boundary = "123456789000000000000987654321"

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// mjpegServer mimics the ESP32 camera stream handler.
func mjpegServer(t *testing.T, frame []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+boundary)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "\r\n--%s\r\n", boundary)
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMJPEGGrabber_Stream(t *testing.T) {
	frame := solidJPEG(t, 32, 24, color.White)
	srv := mjpegServer(t, frame)

	g := NewMJPEGGrabber(srv.URL+"/stream", 2*time.Second)
	got, err := g.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestMJPEGGrabber_SingleImage(t *testing.T) {
	frame := solidJPEG(t, 16, 16, color.Black)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer srv.Close()

	got, err := NewMJPEGGrabber(srv.URL+"/capture", time.Second).Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestMJPEGGrabber_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}},
		{"content type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello"))
		}},
		{"no boundary", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "multipart/x-mixed-replace")
		}},
		{"empty stream", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+boundary)
		}},
		{"empty image", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewMJPEGGrabber(srv.URL, time.Second).Grab(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestFit_CentreCrop(t *testing.T) {
	// 300x100: red | green | blue thirds. A square fit keeps only the green
	// middle third.
	img := image.NewRGBA(image.Rect(0, 0, 300, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 300; x++ {
			switch {
			case x < 100:
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			case x < 200:
				img.Set(x, y, color.RGBA{0, 255, 0, 255})
			default:
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}

	out := Fit(img, 20, 20)
	require.Equal(t, image.Rect(0, 0, 20, 20), out.Bounds())

	r, g, b, _ := out.At(10, 10).RGBA()
	assert.Less(t, r>>8, uint32(20))
	assert.Greater(t, g>>8, uint32(235))
	assert.Less(t, b>>8, uint32(20))
}

func TestFit_TallImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 200))
	out := Fit(img, 224, 224)
	assert.Equal(t, 224, out.Bounds().Dx())
	assert.Equal(t, 224, out.Bounds().Dy())
}

func TestToTensor_Normalization(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 255, 255})
	img.Set(1, 0, color.RGBA{0, 255, 0, 255})

	tensor := ToTensor(img)
	assert.Equal(t, []int64{1, 1, 2, 3}, tensor.Shape)
	assert.Equal(t, []float32{1, -1, 1, -1, 1, -1}, tensor.Data)
}

func TestToTensor_Range(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 16)
	}
	for _, v := range ToTensor(img).Data {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestFrameSource_Capture(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	frame := solidJPEG(t, 64, 48, color.White)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewFrameSource(GrabberFunc(func(context.Context) ([]byte, error) {
		return frame, nil
	}), clock, 224, 224, 3, 500*time.Millisecond)

	tensor, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape)
	assert.InDelta(t, 1.0, tensor.Data[len(tensor.Data)/2], 0.05, "white maps close to 1")
	assert.Empty(t, clock.Sleeps())
}

func TestFrameSource_RetriesThenSucceeds(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	frame := solidJPEG(t, 8, 8, color.Black)
	calls := 0
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewFrameSource(GrabberFunc(func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("not a jpeg"), nil
		}
		return frame, nil
	}), clock, 8, 8, 3, 500*time.Millisecond)

	_, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
}

func TestFrameSource_GivesUpAfterThreeAttempts(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	calls := 0
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewFrameSource(GrabberFunc(func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("connection reset")
	}), clock, 224, 224, 3, 500*time.Millisecond)

	_, err := src.Capture(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.Sleeps())
	assert.Len(t, rec.Lines(), 3)
}

func TestFrameSource_StopsOnCancel(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	src := NewFrameSource(GrabberFunc(func(context.Context) ([]byte, error) {
		calls++
		cancel()
		return nil, context.Canceled
	}), timeutil.NewMockClock(time.Unix(0, 0)), 224, 224, 3, 500*time.Millisecond)

	_, err := src.Capture(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, 1, calls)
}

func TestFrameSource_EndToEnd(t *testing.T) {
	_, restore := monitoring.Capture()
	defer restore()

	srv := mjpegServer(t, solidJPEG(t, 320, 240, color.Black))
	src := NewFrameSource(NewMJPEGGrabber(srv.URL+"/stream", 2*time.Second),
		timeutil.NewMockClock(time.Unix(0, 0)), 224, 224, 3, 500*time.Millisecond)

	tensor, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, tensor.Data, 224*224*3)
	assert.InDelta(t, -1.0, tensor.Data[0], 0.05)
}
