package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// WithDotEnv returns a lookup that consults the process environment first and
// falls back to the values in the given .env file. A missing file is not an
// error; the process environment alone is used.
func WithDotEnv(path string, lookup LookupFunc) (LookupFunc, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return lookup, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := vals[key]
		return v, ok
	}, nil
}

// ApplyEnv overlays CAMDRIVE_* environment variables onto base.
func ApplyEnv(base Config, lookup LookupFunc) (Config, error) {
	c := base
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = d
		}
	}

	str("CAMDRIVE_MODEL", &c.ModelPath)
	str("CAMDRIVE_LABELS", &c.LabelsPath)
	str("CAMDRIVE_ONNX_LIB", &c.ONNXLibraryPath)
	str("CAMDRIVE_CAMERA_URL", &c.CameraURL)
	str("CAMDRIVE_CONTROLLER_HOST", &c.ControllerHost)
	num("CAMDRIVE_CONTROLLER_PORT", &c.ControllerPort)
	str("CAMDRIVE_SERIAL", &c.SerialPath)
	num("CAMDRIVE_SERIAL_BAUD", &c.SerialBaud)
	dur("CAMDRIVE_HEARTBEAT", &c.HeartbeatInterval)
	num("CAMDRIVE_MAX_RECONNECTS", &c.MaxReconnectAttempts)
	str("CAMDRIVE_JOURNAL", &c.JournalPath)
	str("CAMDRIVE_MQTT_BROKER", &c.MQTTBroker)
	str("CAMDRIVE_MQTT_TOPIC", &c.MQTTTopic)
	str("CAMDRIVE_DEBUG_LISTEN", &c.DebugListen)

	if v, ok := lookup("CAMDRIVE_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid CAMDRIVE_THRESHOLD %q: %w", v, err))
		} else {
			c.ConfidenceThreshold = f
		}
	}
	if v, ok := lookup("CAMDRIVE_STOP_ON_UNCERTAIN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid CAMDRIVE_STOP_ON_UNCERTAIN %q: %w", v, err))
		} else {
			c.StopOnUncertain = b
		}
	}

	if err := errors.Join(errs...); err != nil {
		return base, err
	}
	return c, nil
}
