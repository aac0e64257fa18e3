package telnet

// Escaper encodes bytes headed for the network. IAC is doubled and, until
// we transmit in binary, a CR not followed by LF gets a NUL after it.
//
// The previous byte is remembered across calls, so one Escaper must be used
// for the whole outbound stream of a connection.
type Escaper struct {
	neg  *Negotiator
	last byte
}

// NewEscaper returns an Escaper that consults neg for TRANSMIT-BINARY.
func NewEscaper(neg *Negotiator) *Escaper {
	return &Escaper{neg: neg}
}

// Append appends the encoding of c to dst.
func (e *Escaper) Append(dst []byte, c byte) []byte {
	if c == IAC {
		dst = append(dst, IAC)
	} else if c != LF && e.last == CR && !e.neg.IsWill(TransmitBinary) {
		dst = append(dst, NUL)
	}
	dst = append(dst, c)
	e.last = c
	return dst
}

// AppendBytes appends the encoding of every byte of p to dst.
func (e *Escaper) AppendBytes(dst, p []byte) []byte {
	for _, c := range p {
		dst = e.Append(dst, c)
	}
	return dst
}
