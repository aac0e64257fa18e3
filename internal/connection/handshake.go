package connection

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pending is a queued client. conn is nil when the header read was skipped
// because a session was active.
type pending struct {
	tc   *net.TCPConn
	conn *Conn
}

// handshaker reads PROXY headers off the loop goroutine. Each client gets
// its own reader; finished connections are queued and announced by a byte
// on a pipe, so the loop polls the pipe instead of the listening socket.
type handshaker struct {
	l    *Listener
	wake [2]int
	busy atomic.Bool
	wg   sync.WaitGroup

	mu     sync.Mutex
	queue  []pending
	active map[*net.TCPConn]struct{}
	closed bool
}

func startHandshakes(l *Listener) (*handshaker, error) {
	h := &handshaker{l: l, active: make(map[*net.TCPConn]struct{})}
	if err := unix.Pipe(h.wake[:]); err != nil {
		return nil, errors.Wrap(err, "wake pipe")
	}
	for _, fd := range h.wake {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(h.wake[0])
			unix.Close(h.wake[1])
			return nil, errors.Wrap(err, "wake pipe")
		}
	}
	h.wg.Add(1)
	go h.run()
	return h, nil
}

func (h *handshaker) run() {
	defer h.wg.Done()
	for {
		tc, err := h.l.ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.l.log.Warn("accept failed", "err", err)
			time.Sleep(acceptWait)
			continue
		}
		if err := tune(tc, h.l.opts.KeepAlive); err != nil {
			h.l.log.Warn("socket options", "remote", tc.RemoteAddr().String(), "err", err)
		}

		h.mu.Lock()
		if h.busy.Load() {
			h.pushLocked(pending{tc: tc})
		} else {
			h.startLocked(tc)
		}
		h.mu.Unlock()
	}
}

func (h *handshaker) startLocked(tc *net.TCPConn) {
	if h.closed {
		tc.Close()
		return
	}
	h.active[tc] = struct{}{}
	h.wg.Add(1)
	go h.handshake(tc)
}

func (h *handshaker) handshake(tc *net.TCPConn) {
	defer h.wg.Done()
	remote := tc.RemoteAddr().String()
	preface, remote, err := h.l.readProxyHeader(tc, remote)
	var c *Conn
	if err == nil {
		c, err = newConn(tc, preface, remote)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, tc)
	if err != nil {
		if !h.closed {
			h.l.log.Warn("dropping client", "remote", remote, "err", err)
		}
		tc.Close()
		return
	}
	h.pushLocked(pending{tc: tc, conn: c})
}

func (h *handshaker) pushLocked(p pending) {
	if h.closed {
		p.tc.Close()
		return
	}
	h.queue = append(h.queue, p)
	h.signal()
}

// signal marks the pipe readable. A full pipe is already readable.
func (h *handshaker) signal() {
	unix.Write(h.wake[1], []byte{0})
}

// next hands out the oldest queued connection. Clients queued while busy
// get their header read after all if the session ended in the meantime.
func (h *handshaker) next() (*Conn, error) {
	var buf [64]byte
	for {
		if n, _ := unix.Read(h.wake[0], buf[:]); n < len(buf) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.queue) > 0 {
		p := h.queue[0]
		h.queue = h.queue[1:]
		if len(h.queue) > 0 {
			h.signal()
		}
		if p.conn != nil {
			return p.conn, nil
		}
		if !h.busy.Load() {
			h.startLocked(p.tc)
			continue
		}
		c, err := newConn(p.tc, nil, p.tc.RemoteAddr().String())
		if err != nil {
			p.tc.Close()
			return nil, err
		}
		return c, nil
	}
	return nil, syscall.EAGAIN
}

func (h *handshaker) close() {
	h.mu.Lock()
	h.closed = true
	for tc := range h.active {
		tc.Close()
	}
	for _, p := range h.queue {
		p.tc.Close()
	}
	h.queue = nil
	h.mu.Unlock()

	h.wg.Wait()
	unix.Close(h.wake[0])
	unix.Close(h.wake[1])
}
