package connection

import (
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// iptosLowDelay is IPTOS_LOWDELAY from <netinet/ip.h>.
const iptosLowDelay = 0x10

// KeepAlive configures TCP keepalive probing on accepted connections.
// idle: time before first probe
// interval: time between probes
// count: number of probes before the connection is considered dead
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// tune applies the socket options used for every client: urgent data
// inline, low-delay TOS and, when ka is set, keepalive.
func tune(conn *net.TCPConn, ka *KeepAlive) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "raw connection")
	}
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		if sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_OOBINLINE, 1); sysErr != nil {
			return
		}
		// not every address family has a TOS field
		unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, iptosLowDelay)
	})
	if err == nil {
		err = sysErr
	}
	if err != nil {
		return errors.Wrap(err, "set socket options")
	}
	if ka == nil {
		return nil
	}

	if err := conn.SetKeepAlive(true); err != nil {
		return errors.Wrap(err, "enable keepalive")
	}
	if err := conn.SetKeepAlivePeriod(ka.Interval); err != nil {
		return errors.Wrap(err, "set keepalive period")
	}
	return errors.Wrap(setKeepaliveOptions(raw, ka), "set keepalive options")
}

// reuseAddr is a net.ListenConfig Control hook setting SO_REUSEADDR.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sysErr
}
