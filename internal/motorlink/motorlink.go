// Package motorlink owns the command session to the car's motor controller.
// A Channel holds at most one open Port, sends commands and heartbeats with
// bounded retries, and replaces the Port with a fresh one on reconnect.
// Channel is not safe for concurrent use: commands and heartbeats must be
// issued from one goroutine so the controller sees a single ordered stream.
package motorlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/protocol"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

var (
	// ErrNotConnected is returned when an operation needs an open Port.
	ErrNotConnected = errors.New("motor controller not connected")
	// ErrConnectFailed wraps dial failures.
	ErrConnectFailed = errors.New("connection to motor controller failed")
	// ErrAttemptsExhausted is returned by ReconnectWithBackoff once the
	// consecutive failure count reaches the configured ceiling.
	ErrAttemptsExhausted = errors.New("maximum reconnect attempts reached")
)

// Options tunes retry and backoff behaviour.
type Options struct {
	SendRetries   int
	SendRetryStep time.Duration
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
}

// DefaultOptions returns the values the controller firmware was tuned for.
func DefaultOptions() Options {
	return Options{
		SendRetries:   2,
		SendRetryStep: 100 * time.Millisecond,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		MaxAttempts:   5,
	}
}

// Session is a snapshot of the link state.
type Session struct {
	ID                string
	Endpoint          string
	Connected         bool
	ConnectedAt       time.Time
	LastHeartbeat     time.Time
	ReconnectAttempts int
	CommandsSent      int
	SendFailures      int
}

// Channel is the command session to the motor controller.
type Channel struct {
	dialer Dialer
	clock  timeutil.Clock
	opts   Options

	port Port

	// mu guards the fields read by Snapshot from other goroutines.
	mu      sync.Mutex
	session Session
}

// NewChannel creates a Channel. No connection is made until Connect.
func NewChannel(dialer Dialer, clock timeutil.Clock, opts Options) *Channel {
	if opts.SendRetries <= 0 {
		opts.SendRetries = 1
	}
	return &Channel{
		dialer:  dialer,
		clock:   clock,
		opts:    opts,
		session: Session{Endpoint: dialer.String()},
	}
}

// Connect replaces any existing Port with a freshly dialed one. On success
// the reconnect attempt counter is reset to zero.
func (c *Channel) Connect(ctx context.Context) error {
	c.closePort()

	port, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, c.dialer, err)
	}
	c.port = port

	c.mu.Lock()
	c.session.ID = uuid.NewString()
	c.session.Connected = true
	c.session.ConnectedAt = c.clock.Now()
	c.session.ReconnectAttempts = 0
	id := c.session.ID
	c.mu.Unlock()

	monitoring.Logf("connection established to %s (session %s)", c.dialer, id)
	return nil
}

// ReconnectWithBackoff records a failed attempt, waits for the backoff delay
// and dials again. Once the number of consecutive failures reaches
// Options.MaxAttempts it returns ErrAttemptsExhausted without dialing.
func (c *Channel) ReconnectWithBackoff(ctx context.Context) error {
	c.closePort()

	c.mu.Lock()
	c.session.ReconnectAttempts++
	attempts := c.session.ReconnectAttempts
	c.mu.Unlock()

	if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
		return fmt.Errorf("%w (%d)", ErrAttemptsExhausted, attempts)
	}

	delay := Backoff(c.opts.BaseDelay, c.opts.MaxDelay, attempts)
	monitoring.Logf("connection error - retrying in %s (attempt %d/%d)", delay, attempts, c.opts.MaxAttempts)
	c.clock.Sleep(delay)

	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Attempts returns the number of consecutive failed reconnect attempts.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ReconnectAttempts
}

// IsAlive reports whether the current Port still reaches the controller.
// It actively probes the connection rather than trusting the absence of
// earlier errors.
func (c *Channel) IsAlive() bool {
	if c.port == nil {
		return false
	}

	var err error
	if p, ok := c.port.(Prober); ok {
		err = p.Probe()
	} else {
		_, err = c.port.Write(nil)
	}
	if err != nil {
		monitoring.Logf("link to %s is down: %v", c.dialer, err)
		c.markDown()
		return false
	}
	return true
}

// Send writes cmd to the controller, retrying once more per
// Options.SendRetries with a linearly growing pause. It reports success and
// never returns an error: a failed send is a connection fault for the caller
// to act on.
func (c *Channel) Send(cmd protocol.Command) bool {
	if c.port == nil {
		monitoring.Logf("send %s skipped: %v", cmd, ErrNotConnected)
		c.countSend(false)
		return false
	}

	var err error
	for attempt := 0; attempt < c.opts.SendRetries; attempt++ {
		if err = writeAll(c.port, cmd); err == nil {
			c.countSend(true)
			return true
		}
		if attempt < c.opts.SendRetries-1 {
			c.clock.Sleep(c.opts.SendRetryStep * time.Duration(attempt+1))
		}
	}

	monitoring.Logf("send failed after %d attempts: %v", c.opts.SendRetries, err)
	c.countSend(false)
	c.markDown()
	return false
}

// SendHeartbeat sends the keepalive message and records when it went out.
func (c *Channel) SendHeartbeat() bool {
	if !c.Send(protocol.Heartbeat()) {
		return false
	}
	c.mu.Lock()
	c.session.LastHeartbeat = c.clock.Now()
	c.mu.Unlock()
	return true
}

// Close closes the current Port, if any.
func (c *Channel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.markDown()
	return err
}

// Snapshot returns a copy of the session state. It is safe to call from any
// goroutine.
func (c *Channel) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Channel) closePort() {
	if c.port != nil {
		c.port.Close()
		c.port = nil
	}
	c.markDown()
}

func (c *Channel) markDown() {
	c.mu.Lock()
	c.session.Connected = false
	c.mu.Unlock()
}

func (c *Channel) countSend(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.session.CommandsSent++
	} else {
		c.session.SendFailures++
	}
}

func writeAll(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base * 2^n, max). It never decreases as n grows.
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
