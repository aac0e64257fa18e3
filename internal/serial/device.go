package serial

import (
	"io"
	"log/slog"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// LoopbackName selects the built-in null-modem instead of a tty.
const LoopbackName = "loop://"

// Device is a serial line the redirector can drive.
type Device interface {
	rfc2217.Port
	io.ReadWriteCloser
	Name() string
	ReadFd() int
	WriteFd() int
}

// OpenDevice opens the loopback device or a tty by name.
func OpenDevice(name, lockDir string, log *slog.Logger) (Device, error) {
	if name == LoopbackName {
		l, err := NewLoopback(log)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	p, err := Open(name, lockDir, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LogSettings reports the line settings in effect on p.
func LogSettings(log *slog.Logger, name string, p rfc2217.Port) {
	baud, _ := p.BaudRate()
	bits, _ := p.DataSize()
	parity, _ := p.Parity()
	stop, _ := p.StopSize()
	flow, _ := p.Control(rfc2217.ControlFlowReq)
	log.Info("port settings", "device", name, "baud", baud, "bits", bits,
		"parity", parity, "stop", stop, "flow", flow)
}
