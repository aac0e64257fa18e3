// Package connection provides the network side of the redirector: a TCP
// listener with optional PROXY protocol support and connections the
// event loop can drive through their descriptors.
package connection

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
)

// acceptWait bounds Accept when the listener was reported ready but the
// pending connection went away before it could be taken.
const acceptWait = 50 * time.Millisecond

// Options configures a Listener.
type Options struct {
	Addr          string
	ProxyProtocol bool          // expect a PROXY v1/v2 header from a load balancer
	HeaderTimeout time.Duration // how long to wait for that header
	KeepAlive     *KeepAlive    // nil leaves keepalive off
}

// Listener accepts client connections for the redirector loop.
type Listener struct {
	opts Options
	ln   *net.TCPListener
	fd   int
	log  *slog.Logger
	hs   *handshaker // set when PROXY headers are expected
}

// Listen opens a TCP listener with SO_REUSEADDR set.
func Listen(ctx context.Context, opts Options, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", opts.Addr)
	}
	tl := ln.(*net.TCPListener)

	raw, err := tl.SyscallConn()
	if err != nil {
		tl.Close()
		return nil, errors.Wrap(err, "raw listener")
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		tl.Close()
		return nil, errors.Wrap(err, "raw listener")
	}

	l := &Listener{opts: opts, ln: tl, fd: fd, log: log}
	if opts.ProxyProtocol {
		if l.hs, err = startHandshakes(l); err != nil {
			tl.Close()
			return nil, err
		}
		log.Info("PROXY protocol enabled")
	}
	log.Info("listening", "addr", tl.Addr().String())
	return l, nil
}

// Fd returns the descriptor to poll for pending connections. With PROXY
// protocol on it becomes readable once a connection has its header read.
func (l *Listener) Fd() int {
	if l.hs != nil {
		return l.hs.wake[0]
	}
	return l.fd
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// SetBusy tells the listener whether a session holds the port. While busy,
// new clients skip the PROXY header read and are handed out at once so
// they can be turned away.
func (l *Listener) SetBusy(busy bool) {
	if l.hs != nil {
		l.hs.busy.Store(busy)
	}
}

// Close stops listening and drops connections still waiting for a header.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if l.hs != nil {
		l.hs.close()
	}
	return err
}

// Accept takes one pending connection. It returns syscall.EAGAIN when none
// is waiting.
func (l *Listener) Accept() (*Conn, error) {
	if l.hs != nil {
		return l.hs.next()
	}

	l.ln.SetDeadline(time.Now().Add(acceptWait))
	tc, err := l.ln.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, syscall.EAGAIN
		}
		return nil, errors.Wrap(err, "accept")
	}

	remote := tc.RemoteAddr().String()
	if err := tune(tc, l.opts.KeepAlive); err != nil {
		l.log.Warn("socket options", "remote", remote, "err", err)
	}

	c, err := newConn(tc, nil, remote)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return c, nil
}

// readProxyHeader consumes a PROXY header if one is present and returns
// the bytes read past it along with the original client address.
func (l *Listener) readProxyHeader(tc *net.TCPConn, remote string) ([]byte, string, error) {
	if l.opts.HeaderTimeout > 0 {
		tc.SetReadDeadline(time.Now().Add(l.opts.HeaderTimeout))
		defer tc.SetReadDeadline(time.Time{})
	}

	br := bufio.NewReader(tc)
	hdr, err := proxyproto.Read(br)
	switch {
	case err == nil:
		if hdr.SourceAddr != nil {
			l.log.Debug("PROXY header", "via", remote, "source", hdr.SourceAddr.String())
			remote = hdr.SourceAddr.String()
		}
	case errors.Is(err, proxyproto.ErrNoProxyProtocol):
		l.log.Debug("connection without PROXY header", "remote", remote)
	default:
		return nil, "", errors.Wrapf(err, "read PROXY header from %s", remote)
	}

	var preface []byte
	if n := br.Buffered(); n > 0 {
		b, _ := br.Peek(n)
		preface = append([]byte(nil), b...)
	}
	return preface, remote, nil
}
