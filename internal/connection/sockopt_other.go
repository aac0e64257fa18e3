//go:build !linux && !darwin

package connection

import "syscall"

// Only the keepalive period set through net.TCPConn applies here.
func setKeepaliveOptions(raw syscall.RawConn, ka *KeepAlive) error {
	return nil
}
