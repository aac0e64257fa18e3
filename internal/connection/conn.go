package connection

import (
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Conn is a client connection driven by the redirector loop through raw
// non-blocking descriptor I/O. Reads return syscall.EAGAIN when no data is
// waiting.
type Conn struct {
	rfd, wfd int
	preface  []byte
	remote   string
	closer   io.Closer
	closed   bool
}

// newConn takes over an accepted TCP connection. preface holds bytes that
// were read past a PROXY protocol header.
func newConn(tc *net.TCPConn, preface []byte, remote string) (*Conn, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "raw connection")
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return nil, errors.Wrap(err, "raw connection")
	}
	return &Conn{rfd: fd, wfd: fd, preface: preface, remote: remote, closer: tc}, nil
}

// Inherited wraps the connection an inetd style superserver passes on
// stdin and stdout.
func Inherited() (*Conn, error) {
	for _, fd := range []int{0, 1} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, errors.Wrapf(err, "set fd %d non-blocking", fd)
		}
	}
	return &Conn{rfd: 0, wfd: 1, remote: peerName(os.Stdin)}, nil
}

func peerName(f *os.File) string {
	nc, err := net.FileConn(f)
	if err != nil {
		return "stdin"
	}
	defer nc.Close()
	if tc, ok := nc.(*net.TCPConn); ok {
		tune(tc, nil)
	}
	return nc.RemoteAddr().String()
}

func (c *Conn) ReadFd() int        { return c.rfd }
func (c *Conn) WriteFd() int       { return c.wfd }
func (c *Conn) Buffered() int      { return len(c.preface) }
func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) Read(p []byte) (int, error) {
	if len(c.preface) > 0 {
		n := copy(p, c.preface)
		c.preface = c.preface[n:]
		return n, nil
	}
	n, err := unix.Read(c.rfd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.wfd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close shuts the connection. Inherited descriptors are closed directly.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer.Close()
	}
	err := unix.Close(c.rfd)
	if c.wfd != c.rfd {
		if werr := unix.Close(c.wfd); err == nil {
			err = werr
		}
	}
	return errors.Wrap(err, "close inherited connection")
}
