// Package controlloop drives the camera → classifier → motor controller
// cycle and the connection state machine around it.
//
// The loop is strictly sequential: every capture, inference, send and pause
// completes before the next starts, so heartbeats and motion commands reach
// the controller in exactly the order they are decided. Cancellation of the
// context is observed between those steps and triggers a final STOP.
package controlloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/camdrive/internal/classify"
	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/motorlink"
	"github.com/banshee-data/camdrive/internal/policy"
	"github.com/banshee-data/camdrive/internal/protocol"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

// ErrAborted is returned by Run when the reconnect ceiling was reached.
var ErrAborted = errors.New("control loop aborted")

// Link is the command session used by the loop; *motorlink.Channel
// implements it.
type Link interface {
	Connect(ctx context.Context) error
	ReconnectWithBackoff(ctx context.Context) error
	Attempts() int
	IsAlive() bool
	Send(cmd protocol.Command) bool
	SendHeartbeat() bool
	Close() error
}

// Frames yields preprocessed frames; *camera.FrameSource implements it.
type Frames interface {
	Capture(ctx context.Context) (classify.Tensor, error)
}

// Options holds the loop timing and decision parameters.
type Options struct {
	Policy            policy.Policy
	HeartbeatInterval time.Duration
	CommandDelay      time.Duration
	FaultPause        time.Duration
}

// Loop is the control loop. Create it with New and start it with Run.
type Loop struct {
	link       Link
	frames     Frames
	classifier classify.Classifier
	clock      timeutil.Clock
	opts       Options
	observers  []Observer

	state         State
	lastHeartbeat time.Time
	seq           int64
	sessionID     func() string

	mu     sync.Mutex
	status Status
}

// New creates a Loop. Nothing happens until Run.
func New(link Link, frames Frames, classifier classify.Classifier, clock timeutil.Clock, opts Options, observers ...Observer) *Loop {
	l := &Loop{
		link:       link,
		frames:     frames,
		classifier: classifier,
		clock:      clock,
		opts:       opts,
		observers:  observers,
		state:      Disconnected,
		sessionID:  func() string { return "" },
	}
	if s, ok := link.(interface{ Snapshot() motorlink.Session }); ok {
		l.sessionID = func() string { return s.Snapshot().ID }
	}
	return l
}

// Run executes the loop until ctx is cancelled (returns nil after sending
// STOP) or the reconnect ceiling is reached (returns ErrAborted).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return l.shutdown()
		}

		switch l.state {
		case Disconnected, Connecting:
			l.setState(Connecting)
			if err := l.connect(ctx); err != nil {
				if errors.Is(err, motorlink.ErrAttemptsExhausted) {
					l.setState(Aborted)
					monitoring.Logf("maximum reconnection attempts reached - shutting down")
					l.link.Close()
					return fmt.Errorf("%w: %w", ErrAborted, err)
				}
				// cancelled while connecting
				continue
			}
			l.lastHeartbeat = time.Time{}
			l.setState(Connected)

		case Connected:
			l.cycle(ctx)

		default:
			return fmt.Errorf("unexpected state %s", l.state)
		}
	}
}

// connect dials immediately and then retries with backoff until it
// succeeds, the context is cancelled or the attempts are exhausted.
func (l *Loop) connect(ctx context.Context) error {
	err := l.link.Connect(ctx)
	for err != nil {
		monitoring.Logf("connect failed: %v", err)
		l.updateStatus(func(s *Status) { s.ReconnectAttempts = l.link.Attempts() })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = l.link.ReconnectWithBackoff(ctx)
		if errors.Is(err, motorlink.ErrAttemptsExhausted) {
			l.updateStatus(func(s *Status) { s.ReconnectAttempts = l.link.Attempts() })
			return err
		}
	}
	l.updateStatus(func(s *Status) { s.ReconnectAttempts = 0 })
	return nil
}

// cycle runs one pass of the connected state.
func (l *Loop) cycle(ctx context.Context) {
	l.seq++
	report := CycleReport{
		Seq:       l.seq,
		SessionID: l.sessionID(),
		Started:   l.clock.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			l.fault(&report, fmt.Errorf("panic: %v", r))
		}
		report.Duration = l.clock.Since(report.Started)
		l.finish(report)
	}()

	if !l.link.IsAlive() {
		report.Outcome = OutcomeLinkDown
		l.setState(Connecting)
		return
	}

	if l.lastHeartbeat.IsZero() || l.clock.Since(l.lastHeartbeat) > l.opts.HeartbeatInterval {
		if !l.link.SendHeartbeat() {
			monitoring.Logf("heartbeat failed - reconnecting")
			report.Outcome = OutcomeHeartbeatFailed
			l.setState(Connecting)
			return
		}
		l.lastHeartbeat = l.clock.Now()
		report.Heartbeat = true
		l.updateStatus(func(s *Status) {
			s.Heartbeats++
			s.LastHeartbeat = l.lastHeartbeat
		})
	}
	if ctx.Err() != nil {
		report.Outcome = OutcomeCancelled
		return
	}

	tensor, err := l.frames.Capture(ctx)
	if err != nil {
		report.Outcome = OutcomeNoFrame
		report.Error = err.Error()
		l.pace()
		return
	}
	if ctx.Err() != nil {
		report.Outcome = OutcomeCancelled
		return
	}

	pred, err := l.classifier.Predict(tensor)
	if err != nil {
		l.fault(&report, err)
		return
	}
	report.Label = pred.Label
	report.Confidence = pred.Confidence

	d := l.opts.Policy.Decide(pred)
	report.Action = d.Action.String()
	report.Reason = d.Reason

	switch d.Reason {
	case policy.LowConfidence:
		monitoring.Logf("low confidence (%.2f) - ignoring prediction %q", pred.Confidence, pred.Label)
	case policy.PersonSeen:
		monitoring.Logf("person detected (%s) - stopping", pred)
	case policy.PathAllowed:
		monitoring.Logf("allowed object (%s) - moving", pred)
	case policy.Unmatched:
		monitoring.Logf("no rule for %s", pred)
	}

	if d.Command == nil {
		report.Outcome = OutcomeIgnored
		l.pace()
		return
	}

	report.Command = d.Command.String()
	if !l.link.Send(d.Command) {
		report.Outcome = OutcomeSendFailed
		l.setState(Connecting)
		return
	}
	report.Outcome = OutcomeSent
	l.updateStatus(func(s *Status) { s.CommandsSent++ })

	if d.Settle > 0 {
		l.clock.Sleep(d.Settle)
	}
	l.pace()
}

// pace applies the minimum delay between cycles.
func (l *Loop) pace() {
	if l.opts.CommandDelay > 0 {
		l.clock.Sleep(l.opts.CommandDelay)
	}
}

// fault is the fail-safe for anything unexpected inside a cycle: stop the
// car, pause, and carry on.
func (l *Loop) fault(report *CycleReport, err error) {
	monitoring.Logf("unexpected error: %v", err)
	report.Outcome = OutcomeFault
	report.Error = err.Error()
	report.Command = protocol.Stop().String()
	l.link.Send(protocol.Stop())
	l.updateStatus(func(s *Status) { s.Faults++ })
	if l.opts.FaultPause > 0 {
		l.clock.Sleep(l.opts.FaultPause)
	}
}

func (l *Loop) shutdown() error {
	l.setState(ShuttingDown)
	monitoring.Logf("controlled shutdown initiated")
	l.link.Send(protocol.Stop())
	if err := l.link.Close(); err != nil {
		monitoring.Logf("failed to close link: %v", err)
	}
	return nil
}

func (l *Loop) setState(s State) {
	if s == l.state {
		return
	}
	from := l.state
	l.state = s
	l.updateStatus(func(st *Status) { st.State = s })
	at := l.clock.Now()
	for _, o := range l.observers {
		o.ObserveState(from, s, at)
	}
}

func (l *Loop) finish(report CycleReport) {
	l.updateStatus(func(s *Status) {
		s.Cycles++
		s.LastReport = report
	})
	for _, o := range l.observers {
		o.ObserveCycle(report)
	}
}

func (l *Loop) updateStatus(f func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f(&l.status)
}

// Status returns a snapshot of the loop. It is safe to call from any
// goroutine.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// State returns the current state. Only meaningful on the loop goroutine or
// after Run returned.
func (l *Loop) State() State {
	return l.state
}
