package session

import "fmt"

// State is the lifecycle stage of the redirector.
type State uint8

const (
	// Ready waits for a client. It follows startup and every drop.
	Ready State = iota
	// Connected has a client; the device is being opened.
	Connected
	// PortOpened relays between the client and the device.
	PortOpened
	// Stopped means the loop returned normally.
	Stopped
	// Crashed means the loop returned an error.
	Crashed
)

var stateNames = [...]string{"ready", "connected", "port_opened", "stopped", "crashed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Drop reasons recorded on a finished session.
const (
	ReasonNetClosed    = "net_closed"
	ReasonNetError     = "net_error"
	ReasonDeviceClosed = "device_closed"
	ReasonDeviceError  = "device_error"
	ReasonOpenFailed   = "open_failed"
	ReasonPortError    = "port_error"
	ReasonShutdown     = "shutdown"
	ReasonCrash        = "crash"
)

// Observer is told about every state change. s is the session the change
// concerns: the new one for Connected and PortOpened, the finished one for
// Ready after a drop, and nil when no session is involved.
type Observer interface {
	StateChanged(state State, s *Session)
}

// RejectObserver is implemented by observers that count clients turned
// away while a session is active.
type RejectObserver interface {
	Rejected(remote string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state State, s *Session)

func (f ObserverFunc) StateChanged(state State, s *Session) { f(state, s) }

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) StateChanged(state State, s *Session) {
	for _, obs := range o {
		obs.StateChanged(state, s)
	}
}

func (o Observers) Rejected(remote string) {
	for _, obs := range o {
		if r, ok := obs.(RejectObserver); ok {
			r.Rejected(remote)
		}
	}
}
