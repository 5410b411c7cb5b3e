// Package testutil provides shared test utilities and fixtures.
//
// FakeController stands in for the car's WiFi motor bridge: it accepts TCP
// connections on a loopback port and records everything written to it.
package testutil

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeController is a loopback TCP server recording received bytes.
type FakeController struct {
	ln net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	received []string
	accepted int
	wg       sync.WaitGroup
}

// NewFakeController starts a FakeController and registers its shutdown with
// t.Cleanup.
func NewFakeController(t *testing.T) *FakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	fc := &FakeController{ln: ln}
	fc.wg.Add(1)
	go fc.acceptLoop()
	t.Cleanup(fc.Close)
	return fc
}

// Addr returns the host:port the controller listens on.
func (fc *FakeController) Addr() string { return fc.ln.Addr().String() }

func (fc *FakeController) acceptLoop() {
	defer fc.wg.Done()
	for {
		conn, err := fc.ln.Accept()
		if err != nil {
			return
		}
		fc.mu.Lock()
		fc.conns = append(fc.conns, conn)
		fc.accepted++
		idx := len(fc.received)
		fc.received = append(fc.received, "")
		fc.mu.Unlock()

		fc.wg.Add(1)
		go fc.readLoop(conn, idx)
	}
}

func (fc *FakeController) readLoop(conn net.Conn, idx int) {
	defer fc.wg.Done()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			fc.mu.Lock()
			fc.received[idx] += string(buf[:n])
			fc.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Accepted returns the number of connections accepted so far.
func (fc *FakeController) Accepted() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.accepted
}

// Received returns everything received on all connections, in order.
func (fc *FakeController) Received() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return strings.Join(fc.received, "")
}

// WaitForData polls until Received contains want or the timeout elapses.
func (fc *FakeController) WaitForData(want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(fc.Received(), want) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// WaitForAccepted polls until at least n connections were accepted.
func (fc *FakeController) WaitForAccepted(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fc.Accepted() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Send writes b to the most recent connection, as the bridge does when it
// echoes heartbeats.
func (fc *FakeController) Send(b []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.conns) == 0 {
		return io.ErrClosedPipe
	}
	_, err := fc.conns[len(fc.conns)-1].Write(b)
	return err
}

// DropConnections closes every accepted connection but keeps listening.
func (fc *FakeController) DropConnections() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, c := range fc.conns {
		c.Close()
	}
	fc.conns = nil
}

// Close stops listening and drops all connections.
func (fc *FakeController) Close() {
	fc.ln.Close()
	fc.DropConnections()
	fc.wg.Wait()
}
