//go:build darwin

package connection

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setKeepaliveOptions(raw syscall.RawConn, ka *KeepAlive) error {
	var sysErr error
	err := raw.Control(func(fd uintptr) {
		s := int(fd)
		// TCP_KEEPALIVE is the idle time on macOS
		sysErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, int(ka.Idle.Seconds()))
		if sysErr != nil {
			return
		}
		// older releases lack these
		unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(ka.Interval.Seconds()))
		unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Count)
	})
	if err != nil {
		return err
	}
	return sysErr
}
