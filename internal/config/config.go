// Package config builds the controller's immutable runtime configuration from
// defaults, an optional JSON file, the environment (and .env file) and
// command-line flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds every tunable of the controller. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	// Classifier artifact
	ModelPath       string
	LabelsPath      string
	ONNXLibraryPath string
	ModelInputName  string
	ModelOutputName string

	// Camera
	CameraURL         string
	ImageWidth        int
	ImageHeight       int
	CaptureAttempts   int
	CaptureRetryDelay time.Duration

	// Motor controller link. SerialPath, when set, takes precedence over
	// the TCP host.
	ControllerHost       string
	ControllerPort       int
	SerialPath           string
	SerialBaud           int
	ConnectTimeout       time.Duration
	SendRetries          int
	SendRetryStep        time.Duration
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration

	// Decision policy and pacing
	ConfidenceThreshold float64
	MoveDirection       int
	MoveSpeed           int
	SettleDelay         time.Duration
	CommandDelay        time.Duration
	FaultPause          time.Duration
	StopOnUncertain     bool

	// Optional sinks, disabled when empty
	JournalPath string
	MQTTBroker  string
	MQTTTopic   string
	DebugListen string
}

// MinHeartbeatInterval is the shortest keepalive spacing the controller
// firmware accepts.
const MinHeartbeatInterval = 800 * time.Millisecond

// Default returns the configuration matching the stock car setup: the
// ESP32 camera access point at 192.168.4.1 with the motor bridge on port 100.
func Default() Config {
	return Config{
		ModelPath:       "model.onnx",
		LabelsPath:      "labels.txt",
		ModelInputName:  "input",
		ModelOutputName: "output",

		CameraURL:         "http://192.168.4.1:81/stream",
		ImageWidth:        224,
		ImageHeight:       224,
		CaptureAttempts:   3,
		CaptureRetryDelay: 500 * time.Millisecond,

		ControllerHost:       "192.168.4.1",
		ControllerPort:       100,
		SerialBaud:           9600,
		ConnectTimeout:       3 * time.Second,
		SendRetries:          2,
		SendRetryStep:        100 * time.Millisecond,
		HeartbeatInterval:    800 * time.Millisecond,
		MaxReconnectAttempts: 5,
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    10 * time.Second,

		ConfidenceThreshold: 0.75,
		MoveDirection:       3,
		MoveSpeed:           100,
		SettleDelay:         time.Second,
		CommandDelay:        300 * time.Millisecond,
		FaultPause:          time.Second,

		MQTTTopic: "camdrive/decisions",
	}
}

// ControllerAddr returns the host:port of the TCP motor bridge.
func (c Config) ControllerAddr() string {
	return net.JoinHostPort(c.ControllerHost, strconv.Itoa(c.ControllerPort))
}

// UseSerial reports whether the controller is reached over a serial port
// instead of TCP.
func (c Config) UseSerial() bool {
	return c.SerialPath != ""
}

// Validate checks that the configuration values are valid.
func (c Config) Validate() error {
	var errs []error

	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if c.LabelsPath == "" {
		errs = append(errs, errors.New("labels path is required"))
	}
	if c.CameraURL == "" {
		errs = append(errs, errors.New("camera URL is required"))
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		errs = append(errs, fmt.Errorf("image size must be positive, got %dx%d", c.ImageWidth, c.ImageHeight))
	}

	switch {
	case c.SerialPath == "" && c.ControllerHost == "":
		errs = append(errs, errors.New("one of controller host or serial path is required"))
	case c.SerialPath == "" && (c.ControllerPort <= 0 || c.ControllerPort > 65535):
		errs = append(errs, fmt.Errorf("controller port must be between 1 and 65535, got %d", c.ControllerPort))
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be between 0 and 1, got %f", c.ConfidenceThreshold))
	}
	if c.MoveDirection < 1 || c.MoveDirection > 4 {
		errs = append(errs, fmt.Errorf("move direction must be between 1 and 4, got %d", c.MoveDirection))
	}
	if c.MoveSpeed < 0 || c.MoveSpeed > 255 {
		errs = append(errs, fmt.Errorf("move speed must be between 0 and 255, got %d", c.MoveSpeed))
	}

	for name, n := range map[string]int{
		"capture attempts":       c.CaptureAttempts,
		"send retries":           c.SendRetries,
		"max reconnect attempts": c.MaxReconnectAttempts,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if c.HeartbeatInterval < MinHeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat interval must be at least %s, got %s", MinHeartbeatInterval, c.HeartbeatInterval))
	}
	for name, d := range map[string]time.Duration{
		"connect timeout":      c.ConnectTimeout,
		"base reconnect delay": c.BaseReconnectDelay,
		"max reconnect delay":  c.MaxReconnectDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for name, d := range map[string]time.Duration{
		"capture retry delay": c.CaptureRetryDelay,
		"send retry step":     c.SendRetryStep,
		"settle delay":        c.SettleDelay,
		"command delay":       c.CommandDelay,
		"fault pause":         c.FaultPause,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %s", name, d))
		}
	}

	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt topic is required when a broker is set"))
	}

	return errors.Join(errs...)
}
