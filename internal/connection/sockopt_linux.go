//go:build linux

package connection

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setKeepaliveOptions(raw syscall.RawConn, ka *KeepAlive) error {
	var sysErr error
	err := raw.Control(func(fd uintptr) {
		s := int(fd)
		if sysErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(ka.Idle.Seconds())); sysErr != nil {
			return
		}
		if sysErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(ka.Interval.Seconds())); sysErr != nil {
			return
		}
		if sysErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Count); sysErr != nil {
			return
		}
		// unacknowledged data gives up after the same total as the probes
		userTimeout := ka.Idle.Milliseconds() + ka.Interval.Milliseconds()*int64(ka.Count)
		sysErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(userTimeout))
	})
	if err != nil {
		return err
	}
	return sysErr
}
