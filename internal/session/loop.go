package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
	"git2.jad.ru/MeterRS485/sercd/internal/ringbuf"
	"git2.jad.ru/MeterRS485/sercd/internal/serial"
	"git2.jad.ru/MeterRS485/sercd/internal/telnet"
)

// readChunk bounds a single read from either side.
const readChunk = 512

// Options configures a Loop.
type Options struct {
	DeviceName   string
	PollInterval time.Duration // modem state polling; 0 disables it
	CiscoCompat  bool
	Signature    string
	BufferSize   int

	// OnCommand, if set, sees every handled COM-PORT-OPTION request code.
	OnCommand func(code byte)
}

// Tap sees the payload bytes exchanged with the device.
type Tap interface {
	FromDevice(p []byte)
	ToDevice(p []byte)
}

// Taps fans out to several taps in order.
type Taps []Tap

func (t Taps) FromDevice(p []byte) {
	for _, tap := range t {
		tap.FromDevice(p)
	}
}

func (t Taps) ToDevice(p []byte) {
	for _, tap := range t {
		tap.ToDevice(p)
	}
}

// Loop is the single-threaded redirector. It serves one session at a time
// and turns away other clients while that session is active.
type Loop struct {
	opts     Options
	poller   Poller
	open     Opener
	listener Listener
	observer Observer
	tap      Tap
	log      *slog.Logger

	sess     *Session
	pending  Conn
	lastPoll time.Time
	now      func() time.Time

	interests []Interest
	scratch   []byte
}

// New returns a loop that waits with poller and opens devices with open.
func New(opts Options, poller Poller, open Opener, log *slog.Logger) *Loop {
	if opts.BufferSize <= 0 {
		opts.BufferSize = ringbuf.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		opts:     opts,
		poller:   poller,
		open:     open,
		observer: Observers(nil),
		log:      log,
		now:      time.Now,
		scratch:  make([]byte, readChunk),
	}
}

// SetListener enables standalone mode.
func (l *Loop) SetListener(ln Listener) { l.listener = ln }

// SetObserver replaces the lifecycle observer.
func (l *Loop) SetObserver(o Observer) { l.observer = o }

// SetTap installs a tap on the device data.
func (l *Loop) SetTap(t Tap) { l.tap = t }

// Attach serves conn as soon as Run starts. Used for inetd mode, where
// the connection already exists.
func (l *Loop) Attach(conn Conn) { l.pending = conn }

// Session returns the active session or nil. Only valid on the loop
// goroutine.
func (l *Loop) Session() *Session { return l.sess }

// Run serves clients until ctx is done or nothing is left to serve. A
// buffer overflow or a failed wait ends the loop with an error.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.poller.Wake)
	defer stop()

	l.observer.StateChanged(Ready, nil)
	if conn := l.pending; conn != nil {
		l.pending = nil
		if err := l.connect(conn); err != nil {
			return l.crash(err)
		}
	}

	for {
		if ctx.Err() != nil {
			s := l.sess
			if s != nil {
				l.release(s, ReasonShutdown, nil)
			}
			l.observer.StateChanged(Stopped, s)
			return nil
		}
		done, err := l.Step()
		if err != nil {
			return l.crash(err)
		}
		if done {
			l.observer.StateChanged(Stopped, nil)
			return nil
		}
	}
}

func (l *Loop) crash(err error) error {
	s := l.sess
	if s != nil {
		l.release(s, ReasonCrash, err)
	}
	l.log.Error("redirector stopped", "err", err)
	l.observer.StateChanged(Crashed, s)
	return err
}

// Step waits once and services whatever became ready. It reports done
// when there is neither a session nor a listener left.
func (l *Loop) Step() (done bool, err error) {
	want := l.interest()
	if want == 0 && l.listener == nil {
		return true, nil
	}

	timeout := time.Duration(-1)
	if want&ModemState != 0 {
		timeout = max(l.opts.PollInterval-l.now().Sub(l.lastPoll), 0)
	}
	buffered := want&NetIn != 0 && l.sess.conn.Buffered() > 0
	if buffered {
		timeout = 0
	}

	ready, err := l.poller.Wait(l.interests, timeout)
	if err != nil {
		return false, err
	}
	if buffered {
		ready |= NetIn
	}
	ready &= want
	if want&ModemState != 0 {
		if now := l.now(); now.Sub(l.lastPoll) >= l.opts.PollInterval {
			l.lastPoll = now
			ready |= ModemState
		}
	}
	return false, l.service(ready)
}

// interest fills l.interests and returns the union of its events.
func (l *Loop) interest() Event {
	l.interests = l.interests[:0]
	var want Event
	add := func(fd int, ev Event) {
		l.interests = append(l.interests, Interest{Fd: fd, Event: ev})
		want |= ev
	}

	if s := l.sess; s != nil {
		dev := s.dev != nil
		if dev && !s.disp.Suspended() && s.toNet.HasRoomFor(telnet.MaxEscapeExpansion) {
			add(s.dev.ReadFd(), DeviceIn)
		}
		if dev && !s.toDev.Empty() {
			add(s.dev.WriteFd(), DeviceOut)
		}
		if dev && s.portControl && !s.disp.Suspended() && l.opts.PollInterval > 0 &&
			s.toNet.HasRoomFor(rfc2217.ByteCommandLen) {
			add(-1, ModemState)
		}
		if !s.toNet.Empty() {
			add(s.conn.WriteFd(), NetOut)
		}
		if dev && s.toDev.HasRoomFor(1) && s.toNet.HasRoomFor(rfc2217.MaxReplyLen) {
			add(s.conn.ReadFd(), NetIn)
		}
	}
	if l.listener != nil {
		add(l.listener.Fd(), Accept)
	}
	return want
}

// service handles ready events in a fixed order: device input first so
// the serial side never overruns, then the writes that free buffer room,
// then network input and new clients.
func (l *Loop) service(ready Event) error {
	s := l.sess
	steps := []struct {
		ev Event
		fn func(*Session) error
	}{
		{DeviceIn, l.readDevice},
		{DeviceOut, l.writeDevice},
		{NetOut, l.writeNet},
		{NetIn, l.readNet},
	}
	for _, st := range steps {
		if ready&st.ev == 0 || s == nil || l.sess != s {
			continue
		}
		if err := st.fn(s); err != nil {
			return err
		}
	}

	if ready&Accept != 0 {
		if err := l.accept(); err != nil {
			return err
		}
	}

	if ready&ModemState != 0 && s != nil && l.sess == s {
		if err := s.checkModem(); err != nil {
			return l.fail(s, ReasonDeviceError, err)
		}
	}
	return nil
}

// fail drops s for a non-fatal error and passes fatal ones up.
func (l *Loop) fail(s *Session, reason string, err error) error {
	if errors.Is(err, ringbuf.ErrOverflow) {
		return err
	}
	l.drop(s, reason, err)
	return nil
}

func (l *Loop) readDevice(s *Session) error {
	buf := l.scratch[:min(readChunk, s.toNet.Room()/telnet.MaxEscapeExpansion)]
	n, err := s.dev.Read(buf)
	if err != nil || n == 0 {
		return l.ioError(s, err, ReasonDeviceClosed, ReasonDeviceError, "device read")
	}
	if l.tap != nil {
		l.tap.FromDevice(buf[:n])
	}
	s.escaped = s.esc.AppendBytes(s.escaped[:0], buf[:n])
	if _, err := s.toNet.Write(s.escaped); err != nil {
		return err
	}
	s.bytesOut.Add(int64(n))
	return nil
}

func (l *Loop) writeDevice(s *Session) error {
	p := s.toDev.Peek()
	n, err := s.dev.Write(p)
	if err != nil || n == 0 {
		return l.ioError(s, err, ReasonDeviceClosed, ReasonDeviceError, "device write")
	}
	if l.tap != nil {
		l.tap.ToDevice(p[:n])
	}
	s.toDev.Advance(n)
	s.bytesIn.Add(int64(n))
	return nil
}

func (l *Loop) writeNet(s *Session) error {
	n, err := s.conn.Write(s.toNet.Peek())
	if err != nil || n == 0 {
		return l.ioError(s, err, ReasonNetClosed, ReasonNetError, "network write")
	}
	s.toNet.Advance(n)
	return nil
}

func (l *Loop) readNet(s *Session) error {
	size := min(readChunk, s.toNet.Room()/rfc2217.MaxReplyLen, s.toDev.Room())
	if size == 0 {
		return nil
	}
	buf := l.scratch[:size]
	n, err := s.conn.Read(buf)
	if err != nil || n == 0 {
		return l.ioError(s, err, ReasonNetClosed, ReasonNetError, "network read")
	}
	if err := s.parser.FeedBytes(buf[:n], s.toDev, s); err != nil {
		return l.fail(s, ReasonPortError, err)
	}
	return nil
}

// ioError classifies a failed or empty transfer. Would-block is retried
// on the next wait; anything else drops the session.
func (l *Loop) ioError(s *Session, err error, closed, failed, op string) error {
	if err != nil && wouldBlock(err) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		l.drop(s, closed, nil)
		return nil
	}
	s.log.Debug(op+" failed", "err", err)
	l.drop(s, failed, err)
	return nil
}

func (l *Loop) accept() error {
	conn, err := l.listener.Accept()
	if err != nil {
		if !wouldBlock(err) {
			l.log.Warn("accept failed", "err", err)
		}
		return nil
	}
	if l.sess != nil {
		l.log.Info("rejected connection, session already active", "remote", conn.RemoteAddr())
		conn.Close()
		if r, ok := l.observer.(RejectObserver); ok {
			r.Rejected(conn.RemoteAddr())
		}
		return nil
	}
	return l.connect(conn)
}

// connect starts a session on conn and opens the device for it.
func (l *Loop) connect(conn Conn) error {
	s := newSession(conn, &l.opts, l.log)
	l.sess = s
	l.setBusy(true)
	l.lastPoll = time.Time{}
	s.log.Info("client connected")
	l.observer.StateChanged(Connected, s)

	if err := s.negotiate(); err != nil {
		return err
	}

	dev, err := l.open(l.opts.DeviceName)
	if err != nil {
		s.log.Error("unable to open device", "device", l.opts.DeviceName, "err", err)
		l.drop(s, ReasonOpenFailed, err)
		return nil
	}
	s.attach(dev)
	serial.LogSettings(s.log, dev.Name(), dev)
	l.observer.StateChanged(PortOpened, s)
	return nil
}

// release closes both sides of s and records why it ended.
func (l *Loop) release(s *Session, reason string, err error) {
	if s.dev != nil {
		if cerr := s.dev.Close(); cerr != nil {
			s.log.Warn("close device", "err", cerr)
		}
	}
	s.conn.Close()
	s.end(reason, err)
	if l.sess == s {
		l.sess = nil
		l.setBusy(false)
	}
	s.log.Info("connection dropped", "reason", reason,
		"in", humanize.Bytes(uint64(s.BytesIn())), "out", humanize.Bytes(uint64(s.BytesOut())))
}

func (l *Loop) setBusy(busy bool) {
	if g, ok := l.listener.(Gate); ok {
		g.SetBusy(busy)
	}
}

func (l *Loop) drop(s *Session, reason string, err error) {
	l.release(s, reason, err)
	l.observer.StateChanged(Ready, s)
}
