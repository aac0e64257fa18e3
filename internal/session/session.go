package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
	"git2.jad.ru/MeterRS485/sercd/internal/ringbuf"
	"git2.jad.ru/MeterRS485/sercd/internal/telnet"
)

// Options accepted in both directions.
var supportedOptions = []byte{
	telnet.TransmitBinary,
	telnet.Echo,
	telnet.SuppressGoAhead,
	telnet.ComPortOption,
}

// Negotiation queued on every new connection, in order.
var initialRequests = []struct{ verb, opt byte }{
	{telnet.WILL, telnet.TransmitBinary},
	{telnet.DO, telnet.TransmitBinary},
	{telnet.WILL, telnet.Echo},
	{telnet.WILL, telnet.SuppressGoAhead},
	{telnet.DO, telnet.SuppressGoAhead},
	{telnet.DO, telnet.ComPortOption},
}

// Session is one client connection and the protocol state that lives as
// long as it does.
type Session struct {
	ID        string
	Remote    string
	Device    string
	StartedAt time.Time

	bytesIn  atomic.Int64 // client to device
	bytesOut atomic.Int64 // device to client

	mu      sync.Mutex
	endedAt time.Time
	reason  string
	errText string

	conn Conn
	dev  Device
	log  *slog.Logger

	toDev *ringbuf.Buffer
	toNet *ringbuf.Buffer

	neg    *telnet.Negotiator
	esc    *telnet.Escaper
	parser *telnet.Parser
	writer *rfc2217.Writer
	disp   *rfc2217.Dispatcher

	portControl bool
	modemState  byte
	escaped     []byte
}

func newSession(conn Conn, opts *Options, log *slog.Logger) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Remote:    conn.RemoteAddr(),
		Device:    opts.DeviceName,
		StartedAt: time.Now(),
		conn:      conn,
		toDev:     ringbuf.New(opts.BufferSize),
		toNet:     ringbuf.New(opts.BufferSize),
		neg:       telnet.NewNegotiator(supportedOptions...),
		escaped:   make([]byte, 0, telnet.MaxEscapeExpansion*readChunk),
	}
	s.log = log.With("session", s.ID, "remote", s.Remote)
	s.esc = telnet.NewEscaper(s.neg)
	s.parser = telnet.NewParser(s.neg, rfc2217.FrameLength)
	s.writer = rfc2217.NewWriter(s.toNet, s.esc)
	s.disp = rfc2217.NewDispatcher(opts.Signature, opts.CiscoCompat, s.log)
	s.disp.OnCommand = opts.OnCommand
	return s
}

// negotiate queues the initial option requests.
func (s *Session) negotiate() error {
	for _, r := range initialRequests {
		if _, err := s.toNet.Write(s.neg.Request(r.verb, r.opt)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) attach(dev Device) {
	s.dev = dev
	s.disp.Port = dev
	s.toDev.Reset()
}

// HandleCommand acts on a complete Telnet command from the client.
func (s *Session) HandleCommand(cmd []byte) error {
	if len(cmd) < 3 {
		s.log.Debug("telnet command", "command", telnet.CommandName(cmd[1]))
		return nil
	}

	verb, opt := cmd[1], cmd[2]
	switch verb {
	case telnet.WILL, telnet.WONT, telnet.DO, telnet.DONT:
		reply, outcome := s.neg.Receive(verb, opt)
		s.log.Debug("telnet negotiation", "verb", telnet.CommandName(verb),
			"option", telnet.OptionName(opt), "outcome", outcome)
		if reply != nil {
			if _, err := s.toNet.Write(reply); err != nil {
				return err
			}
		}
		if opt != telnet.ComPortOption {
			return nil
		}
		switch {
		case outcome == telnet.Accepted:
			if !s.portControl {
				s.log.Info("client supports com port control")
			}
			s.portControl = true
		case verb == telnet.WONT:
			s.log.Warn("client does not support RFC 2217 com port control")
		}
		return nil

	case telnet.SB:
		if !s.neg.Enabled(opt) {
			s.log.Debug("subnegotiation for inactive option", "option", telnet.OptionName(opt))
			return nil
		}
		if opt != telnet.ComPortOption {
			s.log.Debug("subnegotiation ignored", "option", telnet.OptionName(opt))
			return nil
		}
		if s.dev == nil {
			return nil
		}
		return s.disp.Handle(cmd, s.writer)
	}

	s.log.Debug("telnet command ignored", "command", telnet.CommandName(verb))
	return nil
}

// checkModem queues a NOTIFY-MODEMSTATE when a line the client watches has
// changed.
func (s *Session) checkModem() error {
	lines, err := s.dev.ModemLines()
	if err != nil {
		return err
	}
	state := rfc2217.ModemState(lines, s.modemState)
	mask := s.disp.ModemStateMask()
	if state&mask&rfc2217.ModemNoDelta == s.modemState&mask&rfc2217.ModemNoDelta {
		return nil
	}
	s.modemState = state
	s.log.Debug("sent modem state", "state", state&mask)
	return s.writer.SendByteCommand(rfc2217.NotifyModemstateS, state&mask)
}

// PortControl reports whether the client negotiated COM-PORT-OPTION. Only
// valid on the loop goroutine.
func (s *Session) PortControl() bool { return s.portControl }

// BytesIn returns the bytes relayed from the client to the device.
func (s *Session) BytesIn() int64 { return s.bytesIn.Load() }

// BytesOut returns the bytes relayed from the device to the client.
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }

func (s *Session) end(reason string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endedAt.IsZero() {
		return
	}
	s.endedAt = time.Now()
	s.reason = reason
	if err != nil {
		s.errText = err.Error()
	}
}

// Reason returns why the session ended, or "" while it is active.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Info is a snapshot of a session for the API, the history store and
// event publishing.
type Info struct {
	ID           string     `json:"id"`
	Remote       string     `json:"remote"`
	Device       string     `json:"device"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationSecs float64    `json:"duration_secs"`
	BytesIn      int64      `json:"bytes_in"`
	BytesOut     int64      `json:"bytes_out"`
	Reason       string     `json:"reason,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Info returns a snapshot that is safe to take from any goroutine.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.ID,
		Remote:    s.Remote,
		Device:    s.Device,
		StartedAt: s.StartedAt,
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
		Reason:    s.reason,
		Error:     s.errText,
	}
	end := time.Now()
	if !s.endedAt.IsZero() {
		end = s.endedAt
		info.EndedAt = &end
	}
	info.DurationSecs = end.Sub(s.StartedAt).Seconds()
	return info
}
