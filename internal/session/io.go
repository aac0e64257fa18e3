package session

import (
	"errors"
	"io"
	"strings"
	"syscall"
	"time"

	"git2.jad.ru/MeterRS485/sercd/internal/rfc2217"
)

// Event is a set of readiness conditions the loop services.
type Event uint8

const (
	DeviceIn Event = 1 << iota
	DeviceOut
	NetOut
	NetIn
	Accept
	ModemState
)

// WriteEvents are the conditions that wait for a descriptor to accept
// output.
const WriteEvents = DeviceOut | NetOut

var eventNames = []string{"device-in", "device-out", "net-out", "net-in", "accept", "modem-state"}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for i, name := range eventNames {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Interest asks the poller to report Event once Fd is ready. Fd is -1 for
// conditions without a descriptor, such as modem state polling.
type Interest struct {
	Fd    int
	Event Event
}

// Poller waits for any of a set of interests.
type Poller interface {
	// Wait returns the ready subset of interests. A negative timeout waits
	// without limit; an expired timeout returns no events.
	Wait(interests []Interest, timeout time.Duration) (Event, error)
	// Wake makes a blocked Wait return early. Safe for concurrent use.
	Wake()
}

// Device is the serial side of the redirector. Reads and writes must not
// block; they return an error matching syscall.EAGAIN instead.
type Device interface {
	rfc2217.Port
	io.ReadWriteCloser
	Name() string
	ReadFd() int
	WriteFd() int
}

// Conn is the network side of a session, with the same non-blocking
// contract as Device.
type Conn interface {
	io.ReadWriteCloser
	ReadFd() int
	WriteFd() int
	// Buffered reports bytes already received but not yet read, such as
	// data that followed a PROXY protocol header.
	Buffered() int
	RemoteAddr() string
}

// Listener hands out new client connections.
type Listener interface {
	Accept() (Conn, error)
	Fd() int
}

// Gate is implemented by listeners that prepare connections before handing
// them out. The loop reports whether a session holds the port, so work for
// clients that will be turned away can be skipped.
type Gate interface {
	SetBusy(busy bool)
}

// Opener opens the serial device for a new session.
type Opener func(name string) (Device, error)

func wouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}
