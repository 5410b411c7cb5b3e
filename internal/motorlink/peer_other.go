//go:build !unix

package motorlink

import (
	"errors"
	"net"
)

func peerName(conn *net.TCPConn) error {
	if conn.RemoteAddr() == nil {
		return errors.New("no remote address")
	}
	return nil
}
