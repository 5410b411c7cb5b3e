package config

import (
	"flag"
	"fmt"
)

// RegisterFlags binds the command-line flags to the fields of c. The current
// field values become the flag defaults.
func RegisterFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.ModelPath, "model", c.ModelPath, "Path to the ONNX classifier model")
	fs.StringVar(&c.LabelsPath, "labels", c.LabelsPath, "Path to the label file (one class per line)")
	fs.StringVar(&c.ONNXLibraryPath, "onnx-lib", c.ONNXLibraryPath, "Path to the onnxruntime shared library")
	fs.StringVar(&c.ModelInputName, "model-input", c.ModelInputName, "Model input tensor name")
	fs.StringVar(&c.ModelOutputName, "model-output", c.ModelOutputName, "Model output tensor name")
	fs.StringVar(&c.CameraURL, "camera", c.CameraURL, "MJPEG stream URL of the car camera")
	fs.IntVar(&c.ImageWidth, "width", c.ImageWidth, "Model input width in pixels")
	fs.IntVar(&c.ImageHeight, "height", c.ImageHeight, "Model input height in pixels")
	fs.StringVar(&c.ControllerHost, "host", c.ControllerHost, "Motor controller host")
	fs.IntVar(&c.ControllerPort, "port", c.ControllerPort, "Motor controller TCP port")
	fs.StringVar(&c.SerialPath, "serial", c.SerialPath, "Serial port of the motor controller (overrides -host)")
	fs.IntVar(&c.SerialBaud, "baud", c.SerialBaud, "Serial baud rate")
	fs.Float64Var(&c.ConfidenceThreshold, "threshold", c.ConfidenceThreshold, "Minimum confidence to act on a prediction")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat", c.HeartbeatInterval, "Minimum interval between heartbeats")
	fs.IntVar(&c.MaxReconnectAttempts, "max-reconnects", c.MaxReconnectAttempts, "Consecutive reconnect failures before giving up")
	fs.DurationVar(&c.BaseReconnectDelay, "backoff", c.BaseReconnectDelay, "Base reconnect backoff delay")
	fs.DurationVar(&c.CommandDelay, "pace", c.CommandDelay, "Minimum delay between control cycles")
	fs.IntVar(&c.MoveSpeed, "speed", c.MoveSpeed, "PWM duty (0-255) used for forward motion")
	fs.BoolVar(&c.StopOnUncertain, "stop-on-uncertain", c.StopOnUncertain, "Send STOP on low-confidence or unmatched predictions")
	fs.StringVar(&c.JournalPath, "journal", c.JournalPath, "SQLite journal of cycles and commands (disabled when empty)")
	fs.StringVar(&c.MQTTBroker, "mqtt", c.MQTTBroker, "MQTT broker for decision telemetry (disabled when empty)")
	fs.StringVar(&c.MQTTTopic, "mqtt-topic", c.MQTTTopic, "MQTT topic for decision telemetry")
	fs.StringVar(&c.DebugListen, "debug-listen", c.DebugListen, "Listen address of the debug status page (disabled when empty)")
}

// Load builds the configuration for the given command-line arguments.
// Precedence, lowest first: Default, the -config JSON file, the -env file
// and process environment, explicitly set flags. The result is validated.
func Load(args []string, lookup LookupFunc) (Config, error) {
	fs := flag.NewFlagSet("camdrive", flag.ContinueOnError)
	flagged := Default()
	RegisterFlags(fs, &flagged)
	configPath := fs.String("config", "", "JSON config file")
	envPath := fs.String("env", ".env", "Env file with CAMDRIVE_* variables")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *configPath != "" {
		fc, err := LoadFile(*configPath)
		if err != nil {
			return Config{}, err
		}
		if cfg, err = fc.Apply(cfg); err != nil {
			return Config{}, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	envLookup, err := WithDotEnv(*envPath, lookup)
	if err != nil {
		return Config{}, err
	}
	if cfg, err = ApplyEnv(cfg, envLookup); err != nil {
		return Config{}, err
	}

	// Replay explicitly set flags on top of the merged config.
	final := flag.NewFlagSet("camdrive", flag.ContinueOnError)
	RegisterFlags(final, &cfg)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if final.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		setErr = final.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return Config{}, setErr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
