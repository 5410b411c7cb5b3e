package controlloop

import (
	"fmt"
	"time"

	"github.com/banshee-data/camdrive/internal/policy"
)

// State is the control loop's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// ShuttingDown is terminal: the operator asked the process to stop.
	ShuttingDown
	// Aborted is terminal: the reconnect ceiling was reached.
	Aborted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome summarises what a cycle did.
type Outcome string

const (
	OutcomeLinkDown        Outcome = "link_down"
	OutcomeHeartbeatFailed Outcome = "heartbeat_failed"
	OutcomeNoFrame         Outcome = "no_frame"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeSent            Outcome = "sent"
	OutcomeSendFailed      Outcome = "send_failed"
	OutcomeFault           Outcome = "fault"
	OutcomeCancelled       Outcome = "cancelled"
)

// CycleReport describes one pass through the connected state.
type CycleReport struct {
	Seq        int64         `json:"seq"`
	SessionID  string        `json:"session_id,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
	Outcome    Outcome       `json:"outcome"`
	Label      string        `json:"label,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Action     string        `json:"action,omitempty"`
	Reason     policy.Reason `json:"reason,omitempty"`
	Command    string        `json:"command,omitempty"`
	Heartbeat  bool          `json:"heartbeat"`
	Error      string        `json:"error,omitempty"`
}

// Observer receives loop events. Observers run synchronously on the loop
// goroutine and must not block.
type Observer interface {
	ObserveCycle(CycleReport)
	ObserveState(from, to State, at time.Time)
}

// Status is a point-in-time view of the loop for diagnostics.
type Status struct {
	State             State
	Cycles            int64
	Heartbeats        int64
	CommandsSent      int64
	Faults            int64
	ReconnectAttempts int
	LastHeartbeat     time.Time
	LastReport        CycleReport
}
