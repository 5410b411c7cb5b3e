package motorlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// TCPDialer connects to the WiFi motor bridge on the car.
type TCPDialer struct {
	Addr string
	// Timeout bounds the connect and every subsequent write.
	Timeout time.Duration
}

func (d TCPDialer) String() string { return "tcp://" + d.Addr }

// Dial opens a TCP connection to the controller.
func (d TCPDialer) Dial(ctx context.Context) (Port, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	tc.SetNoDelay(true)
	return &tcpPort{conn: tc, timeout: d.Timeout}, nil
}

type tcpPort struct {
	conn    *net.TCPConn
	timeout time.Duration
	drain   [512]byte
}

func (p *tcpPort) Write(b []byte) (int, error) {
	if p.timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
			return 0, err
		}
	}
	return p.conn.Write(b)
}

func (p *tcpPort) Close() error { return p.conn.Close() }

func (p *tcpPort) String() string { return p.conn.RemoteAddr().String() }

// Probe queries the peer address of the socket, writes zero bytes, and
// discards any pending inbound data (the bridge echoes heartbeats) so that
// an orderly close by the peer is noticed as EOF.
func (p *tcpPort) Probe() error {
	if err := peerName(p.conn); err != nil {
		return fmt.Errorf("peer name: %w", err)
	}
	if _, err := p.Write(nil); err != nil {
		return fmt.Errorf("zero-length write: %w", err)
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return err
	}
	defer p.conn.SetReadDeadline(time.Time{})
	_, err := p.conn.Read(p.drain[:])
	switch {
	case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("peer closed connection: %w", err)
	default:
		return err
	}
}
