//go:build unix

package motorlink

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerName performs getpeername(2) on the socket; it fails with ENOTCONN
// once the kernel considers the connection gone.
func peerName(conn *net.TCPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		_, opErr = unix.Getpeername(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}
