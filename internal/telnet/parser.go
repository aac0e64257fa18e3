package telnet

import "git2.jad.ru/MeterRS485/sercd/internal/ringbuf"

// MaxCommandLen bounds an accumulated command: IAC SB option code, up to
// 255 payload bytes, IAC SE.
const MaxCommandLen = 4 + 255 + 2

// Handler receives every complete command, starting with IAC.
type Handler interface {
	HandleCommand(cmd []byte) error
}

// FrameFunc returns the total length of a subnegotiation given its first
// four bytes (IAC SB option code), or 0 when the subnegotiation is
// IAC-escaped and ends at IAC SE.
type FrameFunc func(prefix []byte) int

type parseState uint8

const (
	stateNormal parseState = iota
	stateIAC
	stateCommand
)

// command is the in-progress sequence. It only carries meaning while the
// parser is in stateCommand.
type command struct {
	buf     []byte
	want    int
	escaped bool
}

func (c *command) start(b byte) {
	c.buf = append(c.buf[:0], IAC, b)
	c.want = 0
	c.escaped = false
}

// Parser removes the Telnet layer from the inbound stream. Data bytes go to
// the device buffer; commands are handed to a Handler.
type Parser struct {
	neg   *Negotiator
	frame FrameFunc
	state parseState
	cmd   *command
	store command
	last  byte
}

// NewParser returns a parser consulting neg for TRANSMIT-BINARY. frame
// decides subnegotiation lengths; nil means every subnegotiation ends at
// IAC SE.
func NewParser(neg *Negotiator, frame FrameFunc) *Parser {
	p := &Parser{neg: neg, frame: frame}
	p.store.buf = make([]byte, 0, MaxCommandLen)
	return p
}

// Feed processes one inbound byte.
func (p *Parser) Feed(c byte, out *ringbuf.Buffer, h Handler) error {
	var err error

	switch p.state {
	case stateNormal:
		switch {
		case c == IAC:
			p.state = stateIAC
		case c == NUL && p.last == CR && !p.neg.IsDo(TransmitBinary):
			// CR NUL is a bare CR
		default:
			err = out.Push(c)
		}

	case stateIAC:
		switch {
		case c == IAC:
			p.state = stateNormal
			err = out.Push(IAC)
		case isSimpleCommand(c):
			p.state = stateNormal
			err = h.HandleCommand([]byte{IAC, c})
		default:
			p.cmd = &p.store
			p.cmd.start(c)
			p.state = stateCommand
		}

	case stateCommand:
		if p.collect(c) {
			cmd := p.cmd
			p.cmd = nil
			p.state = stateNormal
			err = h.HandleCommand(cmd.buf)
		}
	}

	p.last = c
	return err
}

// FeedBytes runs Feed over p and stops at the first error.
func (p *Parser) FeedBytes(data []byte, out *ringbuf.Buffer, h Handler) error {
	for _, c := range data {
		if err := p.Feed(c, out, h); err != nil {
			return err
		}
	}
	return nil
}

// collect appends b to the current command and reports whether the command
// is complete.
func (p *Parser) collect(b byte) bool {
	cmd := p.cmd
	if cmd.buf[1] != SB {
		cmd.buf = append(cmd.buf, b)
		return len(cmd.buf) >= 3
	}

	if len(cmd.buf) < 4 {
		cmd.buf = append(cmd.buf, b)
		if len(cmd.buf) == 4 && p.frame != nil {
			cmd.want = p.frame(cmd.buf)
		}
		return false
	}

	if cmd.want > 0 {
		cmd.buf = append(cmd.buf, b)
		return len(cmd.buf) >= cmd.want
	}

	if cmd.escaped {
		cmd.escaped = false
		if b == IAC {
			cmd.addPayload(IAC)
			return false
		}
		cmd.buf = append(cmd.buf, IAC, b)
		return true
	}
	if b == IAC {
		cmd.escaped = true
		return false
	}
	cmd.addPayload(b)
	return false
}

// addPayload keeps two bytes spare for the terminator and drops anything
// beyond that.
func (c *command) addPayload(b byte) {
	if len(c.buf) < MaxCommandLen-2 {
		c.buf = append(c.buf, b)
	}
}
