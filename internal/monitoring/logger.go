// Package monitoring holds the process-wide diagnostic logger used by every
// controller component.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes through the package-level diagnostic logger. It defaults to
// log.Printf but may be replaced by SetLogger or Capture; swapping is safe
// while other goroutines are logging.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	swap(f)
}

func swap(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	prev := logf
	logf = f
	return prev
}

// Recorder collects formatted log lines.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Capture replaces the package logger with a Recorder and returns it along
// with a function restoring the previous logger.
func Capture() (*Recorder, func()) {
	rec := &Recorder{}
	prev := swap(func(format string, v ...interface{}) {
		rec.mu.Lock()
		rec.lines = append(rec.lines, fmt.Sprintf(format, v...))
		rec.mu.Unlock()
	})
	return rec, func() { swap(prev) }
}
