//go:build linux || darwin

package serial

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// Loopback is a null-modem device: bytes written come back as reads and
// the output lines drive the matching inputs.
type Loopback struct {
	*Memory
	r, w int
}

// NewLoopback creates the pipe behind a loopback device.
func NewLoopback(log *slog.Logger) (*Loopback, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap(err, "create loopback pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, errors.Wrap(err, "set loopback pipe non-blocking")
		}
	}
	m := NewMemory(log)
	m.NullModem = true
	return &Loopback{Memory: m, r: p[0], w: p[1]}, nil
}

func (l *Loopback) Name() string { return LoopbackName }
func (l *Loopback) ReadFd() int  { return l.r }
func (l *Loopback) WriteFd() int { return l.w }

func (l *Loopback) Read(b []byte) (int, error) {
	n, err := unix.Read(l.r, b)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (l *Loopback) Write(b []byte) (int, error) {
	n, err := unix.Write(l.w, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Purge discards unread bytes when the receive queue is selected.
func (l *Loopback) Purge(p rfc2217.Purge) error {
	if err := l.Memory.Purge(p); err != nil {
		return err
	}
	if p != rfc2217.PurgeRx && p != rfc2217.PurgeBoth {
		return nil
	}
	var scratch [512]byte
	for {
		n, err := unix.Read(l.r, scratch[:])
		if n <= 0 || err != nil {
			return nil
		}
	}
}

func (l *Loopback) Close() error {
	if l.r < 0 {
		return nil
	}
	err := unix.Close(l.r)
	if werr := unix.Close(l.w); err == nil {
		err = werr
	}
	l.r, l.w = -1, -1
	return errors.Wrap(err, "close loopback")
}
