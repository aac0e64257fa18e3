package session_test

import (
	"io"
	"syscall"
	"time"

	"git2.jad.ru/MeterRS485/sercd/internal/serial"
	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

// readyPoller reports every interest as ready.
type readyPoller struct {
	waits int
}

func (p *readyPoller) Wait(interests []session.Interest, timeout time.Duration) (session.Event, error) {
	p.waits++
	var ev session.Event
	for _, in := range interests {
		ev |= in.Event
	}
	return ev, nil
}

func (p *readyPoller) Wake() {}

type fakeConn struct {
	in        []byte
	out       []byte
	eof       bool
	blocked   bool // writes return EAGAIN
	closed    bool
	remote    string
	readSizes []int
}

func newConn(remote string) *fakeConn { return &fakeConn{remote: remote} }

func (c *fakeConn) Read(p []byte) (int, error) {
	c.readSizes = append(c.readSizes, len(p))
	if len(c.in) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, syscall.EAGAIN
	}
	n := copy(p, c.in)
	c.in = c.in[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.blocked {
		return 0, syscall.EAGAIN
	}
	c.out = append(c.out, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error       { c.closed = true; return nil }
func (c *fakeConn) ReadFd() int        { return 10 }
func (c *fakeConn) WriteFd() int       { return 10 }
func (c *fakeConn) Buffered() int      { return 0 }
func (c *fakeConn) RemoteAddr() string { return c.remote }

// send queues client bytes.
func (c *fakeConn) send(p ...byte) { c.in = append(c.in, p...) }

// take returns and clears what the server wrote.
func (c *fakeConn) take() []byte {
	out := c.out
	c.out = nil
	return out
}

type fakeDevice struct {
	*serial.Memory
	in        []byte
	out       []byte
	closed    bool
	readSizes []int
}

func newDevice() *fakeDevice {
	m := serial.NewMemory(logger)
	m.NullModem = true
	return &fakeDevice{Memory: m}
}

func (d *fakeDevice) Name() string { return "fake" }
func (d *fakeDevice) ReadFd() int  { return 20 }
func (d *fakeDevice) WriteFd() int { return 20 }

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.readSizes = append(d.readSizes, len(p))
	if len(d.in) == 0 {
		return 0, syscall.EAGAIN
	}
	n := copy(p, d.in)
	d.in = d.in[n:]
	return n, nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.out = append(d.out, p...)
	return len(p), nil
}

func (d *fakeDevice) Close() error { d.closed = true; return nil }

type fakeListener struct {
	queue []session.Conn
	busy  []bool
}

func (l *fakeListener) Accept() (session.Conn, error) {
	if len(l.queue) == 0 {
		return nil, syscall.EAGAIN
	}
	c := l.queue[0]
	l.queue = l.queue[1:]
	return c, nil
}

func (l *fakeListener) Fd() int           { return 30 }
func (l *fakeListener) SetBusy(busy bool) { l.busy = append(l.busy, busy) }

type transition struct {
	state  session.State
	reason string
}

type recorder struct {
	seen []transition
}

func (r *recorder) StateChanged(state session.State, s *session.Session) {
	t := transition{state: state}
	if s != nil {
		t.reason = s.Reason()
	}
	r.seen = append(r.seen, t)
}

func (r *recorder) states() []session.State {
	var out []session.State
	for _, t := range r.seen {
		out = append(out, t.state)
	}
	return out
}
