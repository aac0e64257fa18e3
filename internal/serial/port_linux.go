//go:build linux

package serial

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

var baudCodes = map[uint32]uint32{
	50: unix.B50, 75: unix.B75, 110: unix.B110, 134: unix.B134,
	150: unix.B150, 200: unix.B200, 300: unix.B300, 600: unix.B600,
	1200: unix.B1200, 1800: unix.B1800, 2400: unix.B2400, 4800: unix.B4800,
	9600: unix.B9600, 19200: unix.B19200, 38400: unix.B38400,
	57600: unix.B57600, 115200: unix.B115200, 230400: unix.B230400,
	460800: unix.B460800, 500000: unix.B500000, 576000: unix.B576000,
	921600: unix.B921600, 1000000: unix.B1000000, 1152000: unix.B1152000,
	1500000: unix.B1500000, 2000000: unix.B2000000, 2500000: unix.B2500000,
	3000000: unix.B3000000, 3500000: unix.B3500000, 4000000: unix.B4000000,
}

// Port is a tty driven through termios ioctls. The descriptor stays in
// non-blocking mode; reads and writes return EAGAIN when they would block.
type Port struct {
	name  string
	fd    int
	saved *unix.Termios
	lock  *LockFile
	log   *slog.Logger
}

// Open locks and opens a tty, saves its settings and puts it in raw mode.
// An empty lockDir disables locking.
func Open(name, lockDir string, log *slog.Logger) (*Port, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Port{name: name, fd: -1, log: log}

	if lockDir != "" {
		lock, err := Lock(LockPath(lockDir, name))
		if err != nil {
			return nil, err
		}
		p.lock = lock
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		p.unlock()
		return nil, errors.Wrapf(err, "open %s", name)
	}
	p.fd = fd

	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "get settings of %s", name)
	}
	p.saved = saved

	raw := *saved
	raw.Iflag &^= unix.IGNBRK | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	raw.Iflag |= unix.BRKINT
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB | unix.CRTSCTS
	raw.Cflag |= unix.CS8 | unix.CREAD | unix.HUPCL | unix.CLOCAL
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "set raw mode on %s", name)
	}
	return p, nil
}

func (p *Port) Name() string { return p.name }
func (p *Port) ReadFd() int  { return p.fd }
func (p *Port) WriteFd() int { return p.fd }

func (p *Port) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close restores the saved settings, closes the tty and releases the lock.
func (p *Port) Close() error {
	var err error
	if p.fd >= 0 {
		if p.saved != nil {
			if serr := unix.IoctlSetTermios(p.fd, unix.TCSETS, p.saved); serr != nil {
				p.log.Warn("restore port settings", "device", p.name, "err", serr)
			}
		}
		err = unix.Close(p.fd)
		p.fd = -1
	}
	p.unlock()
	return errors.Wrapf(err, "close %s", p.name)
}

func (p *Port) unlock() {
	if p.lock == nil {
		return
	}
	if err := p.lock.Unlock(); err != nil {
		p.log.Warn("remove lock file", "device", p.name, "err", err)
	}
	p.lock = nil
}

func (p *Port) termios() (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	return t, errors.Wrapf(err, "get settings of %s", p.name)
}

func (p *Port) setTermios(t *unix.Termios) error {
	return errors.Wrapf(unix.IoctlSetTermios(p.fd, unix.TCSETSW, t), "set settings of %s", p.name)
}

func (p *Port) BaudRate() (uint32, error) {
	t, err := p.termios()
	if err != nil {
		return 0, err
	}
	code := t.Cflag & unix.CBAUD
	for rate, c := range baudCodes {
		if c == code {
			return rate, nil
		}
	}
	return 0, nil
}

func (p *Port) SetBaudRate(rate uint32) error {
	code, ok := baudCodes[rate]
	if !ok {
		p.log.Warn("unknown baud rate, using 9600", "baud", rate)
		code = unix.B9600
	}
	t, err := p.termios()
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= code
	return p.setTermios(t)
}

func (p *Port) DataSize() (byte, error) {
	t, err := p.termios()
	if err != nil {
		return 0, err
	}
	switch t.Cflag & unix.CSIZE {
	case unix.CS5:
		return 5, nil
	case unix.CS6:
		return 6, nil
	case unix.CS7:
		return 7, nil
	}
	return 8, nil
}

func (p *Port) SetDataSize(bits byte) error {
	size := uint32(unix.CS8)
	switch bits {
	case 5:
		size = unix.CS5
	case 6:
		size = unix.CS6
	case 7:
		size = unix.CS7
	case 8:
	default:
		p.log.Warn("unknown data size, using 8", "bits", bits)
	}
	t, err := p.termios()
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CSIZE
	t.Cflag |= size
	return p.setTermios(t)
}

func (p *Port) Parity() (rfc2217.Parity, error) {
	t, err := p.termios()
	if err != nil {
		return 0, err
	}
	switch {
	case t.Cflag&unix.PARENB == 0:
		return rfc2217.ParityNone, nil
	case t.Cflag&unix.PARODD != 0:
		return rfc2217.ParityOdd, nil
	}
	return rfc2217.ParityEven, nil
}

func (p *Port) SetParity(par rfc2217.Parity) error {
	t, err := p.termios()
	if err != nil {
		return err
	}
	switch supportedParity(p.log, par) {
	case rfc2217.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case rfc2217.ParityEven:
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
	default:
		t.Cflag &^= unix.PARENB
	}
	return p.setTermios(t)
}

func (p *Port) StopSize() (rfc2217.StopSize, error) {
	t, err := p.termios()
	if err != nil {
		return 0, err
	}
	if t.Cflag&unix.CSTOPB != 0 {
		return rfc2217.StopBits2, nil
	}
	return rfc2217.StopBits1, nil
}

func (p *Port) SetStopSize(s rfc2217.StopSize) error {
	t, err := p.termios()
	if err != nil {
		return err
	}
	if supportedStopSize(p.log, s) == rfc2217.StopBits2 {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}
	return p.setTermios(t)
}

func (p *Port) Control(query rfc2217.Control) (rfc2217.Control, error) {
	t, err := p.termios()
	if err != nil {
		return 0, err
	}
	out, in := rfc2217.ControlFlowNone, rfc2217.ControlInflowNone
	switch {
	case t.Iflag&unix.IXON != 0:
		out = rfc2217.ControlFlowXonXoff
	case t.Cflag&unix.CRTSCTS != 0:
		out = rfc2217.ControlFlowHardware
	}
	switch {
	case t.Iflag&unix.IXOFF != 0:
		in = rfc2217.ControlInflowXonXoff
	case t.Cflag&unix.CRTSCTS != 0:
		in = rfc2217.ControlInflowHardware
	}
	lines, err := p.ModemLines()
	if err != nil {
		return 0, err
	}
	return controlState(query, lines, out, in), nil
}

func (p *Port) SetControl(c rfc2217.Control) error {
	switch c {
	case rfc2217.ControlDTROn:
		return p.modemBits(unix.TIOCMBIS, unix.TIOCM_DTR)
	case rfc2217.ControlDTROff:
		return p.modemBits(unix.TIOCMBIC, unix.TIOCM_DTR)
	case rfc2217.ControlRTSOn:
		return p.modemBits(unix.TIOCMBIS, unix.TIOCM_RTS)
	case rfc2217.ControlRTSOff:
		return p.modemBits(unix.TIOCMBIC, unix.TIOCM_RTS)
	case rfc2217.ControlFlowNone, rfc2217.ControlFlowXonXoff, rfc2217.ControlFlowHardware:
	default:
		warnIgnoredControl(p.log, c)
		return nil
	}

	t, err := p.termios()
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CRTSCTS
	switch c {
	case rfc2217.ControlFlowXonXoff:
		t.Iflag |= unix.IXON | unix.IXOFF
	case rfc2217.ControlFlowHardware:
		t.Cflag |= unix.CRTSCTS
	}
	return p.setTermios(t)
}

func (p *Port) modemBits(req uint, bits int) error {
	return errors.Wrapf(unix.IoctlSetPointerInt(p.fd, req, bits), "set modem lines of %s", p.name)
}

// SetBreak sends a break when on is set. The line returns to mark on its
// own once the break has been sent.
func (p *Port) SetBreak(on bool) error {
	if !on {
		return nil
	}
	return errors.Wrapf(unix.IoctlSetInt(p.fd, unix.TCSBRK, 0), "send break on %s", p.name)
}

func (p *Port) Purge(sel rfc2217.Purge) error {
	var queue int
	switch sel {
	case rfc2217.PurgeRx:
		queue = unix.TCIFLUSH
	case rfc2217.PurgeTx:
		queue = unix.TCOFLUSH
	case rfc2217.PurgeBoth:
		queue = unix.TCIOFLUSH
	default:
		p.log.Warn("unknown purge selector", "selector", sel)
		return nil
	}
	return errors.Wrapf(unix.IoctlSetInt(p.fd, unix.TCFLSH, queue), "flush %s", p.name)
}

func (p *Port) ModemLines() (byte, error) {
	lines, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return 0, errors.Wrapf(err, "get modem lines of %s", p.name)
	}
	var state byte
	if lines&unix.TIOCM_CAR != 0 {
		state |= rfc2217.ModemRLSD
	}
	if lines&unix.TIOCM_RNG != 0 {
		state |= rfc2217.ModemRing
	}
	if lines&unix.TIOCM_DSR != 0 {
		state |= rfc2217.ModemDSR
	}
	if lines&unix.TIOCM_CTS != 0 {
		state |= rfc2217.ModemCTS
	}
	return state, nil
}
