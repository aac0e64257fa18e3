package rfc2217

// Port is the line control surface of a serial device in RFC 2217 terms.
// Implementations translate to whatever the OS uses and downgrade values
// they cannot honour; getters report what is actually in effect.
type Port interface {
	BaudRate() (uint32, error)
	SetBaudRate(rate uint32) error
	DataSize() (byte, error)
	SetDataSize(bits byte) error
	Parity() (Parity, error)
	SetParity(p Parity) error
	StopSize() (StopSize, error)
	SetStopSize(s StopSize) error

	// Control answers one of the SET-CONTROL queries (FLOW, DTR, RTS or
	// INFLOW request) with the matching state value.
	Control(query Control) (Control, error)
	// SetControl applies a flow control mode or a DTR/RTS change.
	SetControl(c Control) error

	SetBreak(on bool) error
	Purge(p Purge) error

	// ModemLines returns the RLSD/RING/DSR/CTS bits of the modem state
	// byte. Delta bits are computed by the caller.
	ModemLines() (byte, error)
}

// ModemState combines current line levels with the delta bits relative to
// the previously reported state.
func ModemState(lines, prev byte) byte {
	state := lines & ModemNoDelta
	changed := (state ^ prev) & ModemNoDelta
	if changed&ModemRLSD != 0 {
		state |= ModemDeltaRLSD
	}
	if changed&ModemRing != 0 {
		state |= ModemTrailRing
	}
	if changed&ModemDSR != 0 {
		state |= ModemDeltaDSR
	}
	if changed&ModemCTS != 0 {
		state |= ModemDeltaCTS
	}
	return state
}
