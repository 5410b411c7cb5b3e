// Package policy turns a prediction into the command the car should receive.
// It is a pure function of its inputs; pacing and sending are the control
// loop's job.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/camdrive/internal/classify"
	"github.com/banshee-data/camdrive/internal/protocol"
)

// Action classifies a decision.
type Action int

const (
	// Ignore sends nothing; the car keeps its last commanded motion.
	Ignore Action = iota
	// Halt sends the stop command.
	Halt
	// Advance sends the configured move command and holds it.
	Advance
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Halt:
		return "stop"
	case Advance:
		return "move"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Reason explains why a decision was made.
type Reason string

const (
	LowConfidence Reason = "low_confidence"
	PersonSeen    Reason = "people"
	PathAllowed   Reason = "allow"
	Unmatched     Reason = "unmatched"
)

// Label substrings matched case-insensitively against the predicted class.
const (
	stopKeyword = "people"
	moveKeyword = "allow"
)

// Policy holds the decision parameters.
type Policy struct {
	Threshold float64
	Move      protocol.Command
	Settle    time.Duration
	// StopOnUncertain makes low-confidence and unmatched predictions send
	// a stop instead of nothing.
	StopOnUncertain bool
}

// Decision is the outcome for one prediction.
type Decision struct {
	Action  Action
	Reason  Reason
	Command protocol.Command
	// Settle is how long the command is held before the next capture.
	Settle time.Duration
}

// Decide applies the confidence gate and the label rules. A label containing
// "people" wins over one containing "allow".
func (p Policy) Decide(pred classify.Prediction) Decision {
	if pred.Confidence < p.Threshold {
		return p.uncertain(LowConfidence)
	}

	label := strings.ToLower(pred.Label)
	switch {
	case strings.Contains(label, stopKeyword):
		return Decision{Action: Halt, Reason: PersonSeen, Command: protocol.Stop()}
	case strings.Contains(label, moveKeyword):
		return Decision{Action: Advance, Reason: PathAllowed, Command: p.Move, Settle: p.Settle}
	default:
		return p.uncertain(Unmatched)
	}
}

func (p Policy) uncertain(r Reason) Decision {
	if p.StopOnUncertain {
		return Decision{Action: Halt, Reason: r, Command: protocol.Stop()}
	}
	return Decision{Action: Ignore, Reason: r}
}
