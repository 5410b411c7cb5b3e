package motorlink

import (
	"context"
	"io"
)

// Port defines the minimal interface needed for an open link to the motor
// controller. This abstraction enables unit testing without the car.
type Port interface {
	io.Writer
	io.Closer
}

// Prober is implemented by ports that can check liveness more thoroughly
// than a zero-length write.
type Prober interface {
	// Probe returns nil if the peer is still reachable.
	Probe() error
}

// Dialer opens a new Port to the motor controller. Each call yields a fresh
// connection; a Port is never reopened.
type Dialer interface {
	Dial(ctx context.Context) (Port, error)
	// String names the endpoint for log messages.
	String() string
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Port, error)

func (f DialerFunc) Dial(ctx context.Context) (Port, error) { return f(ctx) }

func (f DialerFunc) String() string { return "dialer" }
