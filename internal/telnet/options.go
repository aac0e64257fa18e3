package telnet

// OptionState tracks one Telnet option. The Sent flags mark requests we
// issued that are still awaiting an answer; IsWill and IsDo are the
// confirmed outcome.
type OptionState struct {
	SentWill bool
	SentDo   bool
	SentWont bool
	SentDont bool
	IsWill   bool // we perform the option
	IsDo     bool // the peer performs the option
}

// Options is the negotiation table, one slot per option code.
type Options [256]OptionState

// Reset clears every slot.
func (o *Options) Reset() { *o = Options{} }

// Outcome tells the caller what a received negotiation verb did.
type Outcome int

const (
	Ignored  Outcome = iota // nothing changed
	Accepted                // option is now enabled
	Rejected                // option refused
	Disabled                // previously enabled option turned off
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Disabled:
		return "disabled"
	default:
		return "ignored"
	}
}

// Negotiator answers WILL/WONT/DO/DONT according to a fixed set of
// supported options.
type Negotiator struct {
	Options Options
	accept  [256]bool
}

// NewNegotiator returns a negotiator that agrees to the given options in
// both directions and refuses everything else.
func NewNegotiator(supported ...byte) *Negotiator {
	n := &Negotiator{}
	for _, opt := range supported {
		n.accept[opt] = true
	}
	return n
}

// IsWill reports whether we perform opt.
func (n *Negotiator) IsWill(opt byte) bool { return n.Options[opt].IsWill }

// IsDo reports whether the peer performs opt.
func (n *Negotiator) IsDo(opt byte) bool { return n.Options[opt].IsDo }

// Enabled reports whether opt is active in either direction.
func (n *Negotiator) Enabled(opt byte) bool {
	return n.Options[opt].IsWill || n.Options[opt].IsDo
}

// Request records that we are sending verb for opt and returns the bytes
// to send.
func (n *Negotiator) Request(verb, opt byte) []byte {
	st := &n.Options[opt]
	switch verb {
	case WILL:
		st.SentWill = true
	case WONT:
		st.SentWont = true
	case DO:
		st.SentDo = true
	case DONT:
		st.SentDont = true
	}
	return []byte{IAC, verb, opt}
}

// Receive applies a verb sent by the peer and returns the reply to queue,
// which is nil when no reply is due.
func (n *Negotiator) Receive(verb, opt byte) ([]byte, Outcome) {
	st := &n.Options[opt]
	var reply []byte
	outcome := Ignored

	switch verb {
	case WILL:
		if n.accept[opt] {
			if !st.SentDo && !st.IsDo {
				reply = []byte{IAC, DO, opt}
			}
			st.IsDo = true
			outcome = Accepted
		} else {
			reply = []byte{IAC, DONT, opt}
			st.IsDo = false
			outcome = Rejected
		}
		st.SentDo, st.SentDont = false, false

	case DO:
		if n.accept[opt] {
			if !st.SentWill && !st.IsWill {
				reply = []byte{IAC, WILL, opt}
			}
			st.IsWill = true
			outcome = Accepted
		} else {
			reply = []byte{IAC, WONT, opt}
			st.IsWill = false
			outcome = Rejected
		}
		st.SentWill, st.SentWont = false, false

	case DONT:
		if st.IsWill {
			reply = []byte{IAC, WONT, opt}
			st.IsWill = false
			outcome = Disabled
		}
		st.SentWill, st.SentWont = false, false

	case WONT:
		if st.IsDo {
			reply = []byte{IAC, DONT, opt}
			st.IsDo = false
			outcome = Disabled
		}
		st.SentDo, st.SentDont = false, false
	}
	return reply, outcome
}
