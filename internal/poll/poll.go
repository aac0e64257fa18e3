//go:build linux || darwin

// Package poll waits for readiness on the descriptors of a redirector
// session with poll(2).
package poll

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

const (
	readable = unix.POLLIN | unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
	writable = unix.POLLOUT | unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
)

// Poller implements session.Poller. A pipe lets Wake interrupt a pending
// Wait from another goroutine.
type Poller struct {
	wakeR, wakeW int
	fds          []unix.PollFd
}

// New creates a poller and its wake pipe.
func New() (*Poller, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap(err, "create wake pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, errors.Wrap(err, "set wake pipe non-blocking")
		}
	}
	return &Poller{wakeR: p[0], wakeW: p[1]}, nil
}

// Wait blocks until one of the interests is ready, the timeout passes or
// Wake is called. A negative timeout waits forever. Error, hangup and
// invalid descriptor conditions count as ready so the caller's next read
// or write reports them. An interrupted wait returns no events.
func (p *Poller) Wait(interests []session.Interest, timeout time.Duration) (session.Event, error) {
	p.fds = p.fds[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for _, in := range interests {
		if in.Fd < 0 {
			continue
		}
		events := int16(unix.POLLIN)
		if in.Event&session.WriteEvents != 0 {
			events = unix.POLLOUT
		}
		p.add(in.Fd, events)
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.Poll(p.fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "poll")
	}
	if n == 0 {
		return 0, nil
	}

	if p.fds[0].Revents != 0 {
		p.drain()
	}

	var ready session.Event
	for _, in := range interests {
		if in.Fd < 0 {
			continue
		}
		revents := p.revents(in.Fd)
		mask := int16(readable)
		if in.Event&session.WriteEvents != 0 {
			mask = writable
		}
		if revents&mask != 0 {
			ready |= in.Event
		}
	}
	return ready, nil
}

// add merges events for a descriptor already in the set.
func (p *Poller) add(fd int, events int16) {
	for i := 1; i < len(p.fds); i++ {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i].Events |= events
			return
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: events})
}

func (p *Poller) revents(fd int) int16 {
	for i := 1; i < len(p.fds); i++ {
		if p.fds[i].Fd == int32(fd) {
			return p.fds[i].Revents
		}
	}
	return 0
}

func (p *Poller) drain() {
	var buf [64]byte
	for {
		if n, err := unix.Read(p.wakeR, buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

// Wake makes a pending or the next Wait return.
func (p *Poller) Wake() {
	unix.Write(p.wakeW, []byte{0})
}

// Close releases the wake pipe.
func (p *Poller) Close() error {
	err := unix.Close(p.wakeR)
	if werr := unix.Close(p.wakeW); err == nil {
		err = werr
	}
	return errors.Wrap(err, "close poller")
}
