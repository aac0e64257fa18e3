package serial

import (
	"log/slog"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// Memory keeps line settings in memory. It applies the same downgrades as
// the termios port so clients see identical confirmations.
type Memory struct {
	Baud     uint32
	Bits     byte
	Par      rfc2217.Parity
	Stop     rfc2217.StopSize
	OutFlow  rfc2217.Control
	InFlow   rfc2217.Control
	DTR, RTS bool

	// Lines holds the input line levels as modem state bits.
	Lines byte
	// NullModem derives DSR and RLSD from DTR and CTS from RTS.
	NullModem bool

	Breaks int
	Purges []rfc2217.Purge

	log *slog.Logger
}

// NewMemory returns settings for an idle 9600 8N1 line.
func NewMemory(log *slog.Logger) *Memory {
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		Baud:    9600,
		Bits:    8,
		Par:     rfc2217.ParityNone,
		Stop:    rfc2217.StopBits1,
		OutFlow: rfc2217.ControlFlowNone,
		InFlow:  rfc2217.ControlInflowNone,
		log:     log,
	}
}

func (m *Memory) BaudRate() (uint32, error) { return m.Baud, nil }

func (m *Memory) SetBaudRate(rate uint32) error {
	if !validBaud(rate) {
		m.log.Warn("unknown baud rate, using 9600", "baud", rate)
		rate = 9600
	}
	m.Baud = rate
	return nil
}

func (m *Memory) DataSize() (byte, error) { return m.Bits, nil }

func (m *Memory) SetDataSize(bits byte) error {
	if bits < 5 || bits > 8 {
		m.log.Warn("unknown data size, using 8", "bits", bits)
		bits = 8
	}
	m.Bits = bits
	return nil
}

func (m *Memory) Parity() (rfc2217.Parity, error) { return m.Par, nil }

func (m *Memory) SetParity(p rfc2217.Parity) error {
	m.Par = supportedParity(m.log, p)
	return nil
}

func (m *Memory) StopSize() (rfc2217.StopSize, error) { return m.Stop, nil }

func (m *Memory) SetStopSize(s rfc2217.StopSize) error {
	m.Stop = supportedStopSize(m.log, s)
	return nil
}

func (m *Memory) Control(query rfc2217.Control) (rfc2217.Control, error) {
	lines, _ := m.ModemLines()
	return controlState(query, lines, m.OutFlow, m.InFlow), nil
}

func (m *Memory) SetControl(c rfc2217.Control) error {
	switch c {
	case rfc2217.ControlFlowNone:
		m.OutFlow, m.InFlow = c, rfc2217.ControlInflowNone
	case rfc2217.ControlFlowXonXoff:
		m.OutFlow, m.InFlow = c, rfc2217.ControlInflowXonXoff
	case rfc2217.ControlFlowHardware:
		m.OutFlow, m.InFlow = c, rfc2217.ControlInflowHardware
	case rfc2217.ControlDTROn, rfc2217.ControlDTROff:
		m.DTR = c == rfc2217.ControlDTROn
	case rfc2217.ControlRTSOn, rfc2217.ControlRTSOff:
		m.RTS = c == rfc2217.ControlRTSOn
	default:
		warnIgnoredControl(m.log, c)
	}
	return nil
}

func (m *Memory) SetBreak(on bool) error {
	if on {
		m.Breaks++
	}
	return nil
}

func (m *Memory) Purge(p rfc2217.Purge) error {
	m.Purges = append(m.Purges, p)
	return nil
}

func (m *Memory) ModemLines() (byte, error) {
	lines := m.Lines
	if m.NullModem {
		lines &^= rfc2217.ModemDSR | rfc2217.ModemRLSD | rfc2217.ModemCTS
		if m.DTR {
			lines |= rfc2217.ModemDSR | rfc2217.ModemRLSD
		}
		if m.RTS {
			lines |= rfc2217.ModemCTS
		}
	}
	return lines, nil
}
