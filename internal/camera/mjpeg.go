package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// maxFrameSize bounds a single JPEG read from the stream.
const maxFrameSize = 8 << 20

// Grabber fetches one encoded frame from the camera.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// GrabberFunc adapts a function to the Grabber interface.
type GrabberFunc func(ctx context.Context) ([]byte, error)

func (f GrabberFunc) Grab(ctx context.Context) ([]byte, error) { return f(ctx) }

// MJPEGGrabber reads the first frame of a multipart/x-mixed-replace stream
// (the ESP32 camera's /stream endpoint) and then closes the connection.
// A plain image/jpeg response (the /capture endpoint) is also accepted.
type MJPEGGrabber struct {
	URL    string
	Client *http.Client
}

// NewMJPEGGrabber returns a grabber with a bounded HTTP timeout.
func NewMJPEGGrabber(url string, timeout time.Duration) *MJPEGGrabber {
	return &MJPEGGrabber{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Grab returns the raw JPEG bytes of one frame.
func (g *MJPEGGrabber) Grab(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return nil, err
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("bad content type: %w", err)
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart stream without boundary")
		}
		part, err := multipart.NewReader(resp.Body, boundary).NextPart()
		if err != nil {
			return nil, fmt.Errorf("failed to read stream part: %w", err)
		}
		defer part.Close()
		return readFrame(part)
	case strings.HasPrefix(mediaType, "image/"):
		return readFrame(resp.Body)
	default:
		return nil, fmt.Errorf("unexpected content type %q", mediaType)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxFrameSize {
		return nil, fmt.Errorf("frame larger than %d bytes", maxFrameSize)
	}
	if len(b) == 0 {
		return nil, errors.New("empty frame")
	}
	return b, nil
}
