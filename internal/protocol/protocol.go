// Package protocol encodes the text commands understood by the car's motor
// controller. The controller parses these exact byte sequences; they carry no
// framing and no trailing newline.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is an encoded controller message ready to be written to the link.
type Command []byte

func (c Command) String() string { return string(c) }

// Direction selects the drive direction of a Move command (the D1 field).
type Direction int

const (
	Left     Direction = 1
	Right    Direction = 2
	Forward  Direction = 3
	Backward Direction = 4
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the four directions the controller accepts.
func (d Direction) Valid() bool {
	return d >= Left && d <= Backward
}

// MaxSpeed is the largest PWM duty value accepted for D2.
const MaxSpeed = 255

// Controller function numbers (the N field).
const (
	fnMove = 3
	fnStop = 100
)

var (
	heartbeat = Command("{Heartbeat}")
	stop      = mustMarshal(stopMsg{N: fnStop})
)

type stopMsg struct {
	N int `json:"N"`
}

type moveMsg struct {
	N  int `json:"N"`
	D1 int `json:"D1"`
	D2 int `json:"D2"`
}

// Heartbeat returns the keepalive message. The controller treats a link
// without timely heartbeats as disconnected and halts the motors.
func Heartbeat() Command { return heartbeat }

// Stop returns the command halting both motors.
func Stop() Command { return stop }

// Move returns a drive command for the given direction and PWM duty.
func Move(dir Direction, speed int) (Command, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("invalid direction %d: must be between 1 and 4", int(dir))
	}
	if speed < 0 || speed > MaxSpeed {
		return nil, fmt.Errorf("invalid speed %d: must be between 0 and %d", speed, MaxSpeed)
	}
	return mustMarshal(moveMsg{N: fnMove, D1: int(dir), D2: speed}), nil
}

// MustMove is like Move but panics on invalid arguments. It is intended for
// commands built from validated configuration.
func MustMove(dir Direction, speed int) Command {
	c, err := Move(dir, speed)
	if err != nil {
		panic(err)
	}
	return c
}

// IsStop reports whether c is the stop command.
func IsStop(c Command) bool { return string(c) == string(stop) }

// IsHeartbeat reports whether c is the heartbeat message.
func IsHeartbeat(c Command) bool { return string(c) == string(heartbeat) }

func mustMarshal(v any) Command {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Command(b)
}
