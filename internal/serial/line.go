// Package serial provides the line-control implementations behind the
// RFC 2217 dispatcher: a termios device on Linux, a loopback null-modem
// and a plain in-memory settings store, plus UUCP lockfiles.
package serial

import (
	"log/slog"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// Speeds the termios layer can program.
var speeds = []uint32{
	50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800, 9600,
	19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000, 921600,
	1000000, 1152000, 1500000, 2000000, 2500000, 3000000, 3500000, 4000000,
}

func validBaud(rate uint32) bool {
	for _, s := range speeds {
		if s == rate {
			return true
		}
	}
	return false
}

func supportedParity(log *slog.Logger, p rfc2217.Parity) rfc2217.Parity {
	switch p {
	case rfc2217.ParityNone, rfc2217.ParityOdd, rfc2217.ParityEven:
		return p
	}
	log.Warn("parity not supported, using none", "parity", p)
	return rfc2217.ParityNone
}

func supportedStopSize(log *slog.Logger, s rfc2217.StopSize) rfc2217.StopSize {
	switch s {
	case rfc2217.StopBits1, rfc2217.StopBits2:
		return s
	}
	log.Warn("stop size not supported, using 1", "stop", s)
	return rfc2217.StopBits1
}

func warnIgnoredControl(log *slog.Logger, c rfc2217.Control) {
	log.Warn("flow control mode not supported, ignored", "control", c)
}

// controlState answers a SET-CONTROL query from the modem lines and the
// current flow modes. DTR and RTS queries report the remote ends, DSR and
// CTS.
func controlState(query rfc2217.Control, lines byte, out, in rfc2217.Control) rfc2217.Control {
	switch query {
	case rfc2217.ControlDTRReq:
		if lines&rfc2217.ModemDSR != 0 {
			return rfc2217.ControlDTROn
		}
		return rfc2217.ControlDTROff
	case rfc2217.ControlRTSReq:
		if lines&rfc2217.ModemCTS != 0 {
			return rfc2217.ControlRTSOn
		}
		return rfc2217.ControlRTSOff
	case rfc2217.ControlInflowReq:
		return in
	default:
		return out
	}
}
