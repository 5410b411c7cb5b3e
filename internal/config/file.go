package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileConfig is the JSON overlay schema. Every field is optional; fields
// omitted from the file keep the value they had before the overlay.
// Durations are strings like "800ms" or "10s".
type FileConfig struct {
	ModelPath       *string `json:"model_path,omitempty"`
	LabelsPath      *string `json:"labels_path,omitempty"`
	ONNXLibraryPath *string `json:"onnx_library_path,omitempty"`
	ModelInputName  *string `json:"model_input_name,omitempty"`
	ModelOutputName *string `json:"model_output_name,omitempty"`

	CameraURL         *string `json:"camera_url,omitempty"`
	ImageWidth        *int    `json:"image_width,omitempty"`
	ImageHeight       *int    `json:"image_height,omitempty"`
	CaptureAttempts   *int    `json:"capture_attempts,omitempty"`
	CaptureRetryDelay *string `json:"capture_retry_delay,omitempty"`

	ControllerHost       *string `json:"controller_host,omitempty"`
	ControllerPort       *int    `json:"controller_port,omitempty"`
	SerialPath           *string `json:"serial_path,omitempty"`
	SerialBaud           *int    `json:"serial_baud,omitempty"`
	ConnectTimeout       *string `json:"connect_timeout,omitempty"`
	SendRetries          *int    `json:"send_retries,omitempty"`
	SendRetryStep        *string `json:"send_retry_step,omitempty"`
	HeartbeatInterval    *string `json:"heartbeat_interval,omitempty"`
	MaxReconnectAttempts *int    `json:"max_reconnect_attempts,omitempty"`
	BaseReconnectDelay   *string `json:"base_reconnect_delay,omitempty"`
	MaxReconnectDelay    *string `json:"max_reconnect_delay,omitempty"`

	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MoveDirection       *int     `json:"move_direction,omitempty"`
	MoveSpeed           *int     `json:"move_speed,omitempty"`
	SettleDelay         *string  `json:"settle_delay,omitempty"`
	CommandDelay        *string  `json:"command_delay,omitempty"`
	FaultPause          *string  `json:"fault_pause,omitempty"`
	StopOnUncertain     *bool    `json:"stop_on_uncertain,omitempty"`

	JournalPath *string `json:"journal_path,omitempty"`
	MQTTBroker  *string `json:"mqtt_broker,omitempty"`
	MQTTTopic   *string `json:"mqtt_topic,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty"`
}

// maxFileSize bounds the config file read.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// LoadFile loads a FileConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadFile(path string) (*FileConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fc := &FileConfig{}
	if err := json.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return fc, nil
}

// Apply overlays the fields set in the file onto base.
func (f *FileConfig) Apply(base Config) (Config, error) {
	c := base

	setString(&c.ModelPath, f.ModelPath)
	setString(&c.LabelsPath, f.LabelsPath)
	setString(&c.ONNXLibraryPath, f.ONNXLibraryPath)
	setString(&c.ModelInputName, f.ModelInputName)
	setString(&c.ModelOutputName, f.ModelOutputName)
	setString(&c.CameraURL, f.CameraURL)
	setInt(&c.ImageWidth, f.ImageWidth)
	setInt(&c.ImageHeight, f.ImageHeight)
	setInt(&c.CaptureAttempts, f.CaptureAttempts)
	setString(&c.ControllerHost, f.ControllerHost)
	setInt(&c.ControllerPort, f.ControllerPort)
	setString(&c.SerialPath, f.SerialPath)
	setInt(&c.SerialBaud, f.SerialBaud)
	setInt(&c.SendRetries, f.SendRetries)
	setInt(&c.MaxReconnectAttempts, f.MaxReconnectAttempts)
	setInt(&c.MoveDirection, f.MoveDirection)
	setInt(&c.MoveSpeed, f.MoveSpeed)
	setString(&c.JournalPath, f.JournalPath)
	setString(&c.MQTTBroker, f.MQTTBroker)
	setString(&c.MQTTTopic, f.MQTTTopic)
	setString(&c.DebugListen, f.DebugListen)
	if f.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = *f.ConfidenceThreshold
	}
	if f.StopOnUncertain != nil {
		c.StopOnUncertain = *f.StopOnUncertain
	}

	for _, d := range []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"capture_retry_delay", &c.CaptureRetryDelay, f.CaptureRetryDelay},
		{"connect_timeout", &c.ConnectTimeout, f.ConnectTimeout},
		{"send_retry_step", &c.SendRetryStep, f.SendRetryStep},
		{"heartbeat_interval", &c.HeartbeatInterval, f.HeartbeatInterval},
		{"base_reconnect_delay", &c.BaseReconnectDelay, f.BaseReconnectDelay},
		{"max_reconnect_delay", &c.MaxReconnectDelay, f.MaxReconnectDelay},
		{"settle_delay", &c.SettleDelay, f.SettleDelay},
		{"command_delay", &c.CommandDelay, f.CommandDelay},
		{"fault_pause", &c.FaultPause, f.FaultPause},
	} {
		if d.src == nil || *d.src == "" {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return base, fmt.Errorf("invalid %s '%s': %w", d.name, *d.src, err)
		}
		*d.dst = v
	}

	return c, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
