package motorlink

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// MockPort implements Port with configurable failures for testing.
type MockPort struct {
	mu sync.Mutex

	written bytes.Buffer
	writes  []string

	// WriteErrors are returned by successive Write calls (nil entries succeed).
	WriteErrors []error
	// ProbeError is returned by Probe when set.
	ProbeError error
	Closed     bool
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, errors.New("port closed")
	}
	if len(m.WriteErrors) > 0 {
		err := m.WriteErrors[0]
		m.WriteErrors = m.WriteErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(p) > 0 {
		m.writes = append(m.writes, string(p))
	}
	return m.written.Write(p)
}

func (m *MockPort) Probe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return errors.New("port closed")
	}
	return m.ProbeError
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Writes returns each non-empty write as a separate string.
func (m *MockPort) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// MockDialer hands out MockPorts, failing while Fail is set.
type MockDialer struct {
	mu    sync.Mutex
	Fail  []error
	Ports []*MockPort
	Dials int
}

func (d *MockDialer) String() string { return "mock" }

// Dial returns the next failure from Fail, or a new MockPort once Fail is
// exhausted.
func (d *MockDialer) Dial(ctx context.Context) (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	if len(d.Fail) > 0 {
		err := d.Fail[0]
		d.Fail = d.Fail[1:]
		if err != nil {
			return nil, err
		}
	}
	p := &MockPort{}
	d.Ports = append(d.Ports, p)
	return p, nil
}

// Last returns the most recently dialed port.
func (d *MockDialer) Last() *MockPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Ports) == 0 {
		return nil
	}
	return d.Ports[len(d.Ports)-1]
}
