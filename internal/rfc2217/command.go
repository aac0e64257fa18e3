package rfc2217

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"git2.jad.ru/MeterRS485/sercd/internal/telnet"
)

// Command is a decoded COM-PORT-OPTION subnegotiation.
type Command struct {
	Code byte   // command code, 0-12 from the client
	Data []byte // parameter bytes between the code and IAC SE
}

// Decode extracts the command from a complete IAC SB 44 ... IAC SE frame.
func Decode(frame []byte) (Command, bool) {
	if len(frame) < 6 || frame[0] != telnet.IAC || frame[1] != telnet.SB || frame[2] != ComPortOption {
		return Command{}, false
	}
	if frame[len(frame)-2] != telnet.IAC || frame[len(frame)-1] != telnet.SE {
		return Command{}, false
	}
	return Command{Code: frame[3], Data: frame[4 : len(frame)-2]}, true
}

// FrameLength reports the total length of a client subnegotiation from its
// first four bytes. A zero result means the frame is escaped and ends at
// IAC SE, which only the signature uses.
func FrameLength(prefix []byte) int {
	switch prefix[3] {
	case SignatureC:
		return 0
	case SetBaudrateC:
		return 10
	case FlowControlSuspC, FlowControlResC:
		return 6
	default:
		return 7
	}
}

var commandNames = [...]string{
	SignatureC:        "SIGNATURE",
	SetBaudrateC:      "SET-BAUDRATE",
	SetDatasizeC:      "SET-DATASIZE",
	SetParityC:        "SET-PARITY",
	SetStopSizeC:      "SET-STOPSIZE",
	SetControlC:       "SET-CONTROL",
	NotifyLinestateC:  "NOTIFY-LINESTATE",
	NotifyModemstateC: "NOTIFY-MODEMSTATE",
	FlowControlSuspC:  "FLOWCONTROL-SUSPEND",
	FlowControlResC:   "FLOWCONTROL-RESUME",
	SetLinestateC:     "SET-LINESTATE-MASK",
	SetModemstateC:    "SET-MODEMSTATE-MASK",
	PurgeDataC:        "PURGE-DATA",
}

// CommandName returns the RFC 2217 name of a client or server code.
func CommandName(code byte) string {
	c := code
	if c >= ServerResponseOffset {
		c -= ServerResponseOffset
	}
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("UNKNOWN-%d", code)
}

// IsQuery returns true if this is a query command (value=0 means "request current value")
func (c *Command) IsQuery() bool {
	switch c.Code {
	case SignatureC:
		return len(c.Data) == 0
	case SetBaudrateC:
		if len(c.Data) >= 4 {
			return binary.BigEndian.Uint32(c.Data[:4]) == 0
		}
	case SetDatasizeC, SetParityC, SetStopSizeC, SetControlC:
		if len(c.Data) >= 1 {
			return c.Data[0] == 0
		}
	}
	return false
}

// String returns human-readable description of the command
func (c *Command) String() string {
	name := CommandName(c.Code)
	switch c.Code {
	case SignatureC:
		if len(c.Data) == 0 {
			return name + ": <query>"
		}
		return fmt.Sprintf("%s: %q", name, c.Data)
	case SetBaudrateC:
		if len(c.Data) >= 4 {
			return fmt.Sprintf("%s: %d", name, binary.BigEndian.Uint32(c.Data[:4]))
		}
	case SetDatasizeC:
		if len(c.Data) >= 1 {
			return fmt.Sprintf("%s: %d bits", name, c.Data[0])
		}
	case SetParityC:
		if len(c.Data) >= 1 {
			return fmt.Sprintf("%s: %s", name, Parity(c.Data[0]))
		}
	case SetStopSizeC:
		if len(c.Data) >= 1 {
			return fmt.Sprintf("%s: %s", name, StopSize(c.Data[0]))
		}
	case SetControlC:
		if len(c.Data) >= 1 {
			return fmt.Sprintf("%s: %s", name, Control(c.Data[0]))
		}
	case FlowControlSuspC, FlowControlResC:
		return name
	default:
		return fmt.Sprintf("%s: %s", name, hex.EncodeToString(c.Data))
	}
	return name + ": <invalid>"
}

func (p Parity) String() string {
	switch p {
	case ParityQuery:
		return "QUERY"
	case ParityNone:
		return "NONE"
	case ParityOdd:
		return "ODD"
	case ParityEven:
		return "EVEN"
	case ParityMark:
		return "MARK"
	case ParitySpace:
		return "SPACE"
	}
	return fmt.Sprintf("PARITY-%d", byte(p))
}

func (s StopSize) String() string {
	switch s {
	case StopQuery:
		return "QUERY"
	case StopBits1:
		return "1"
	case StopBits2:
		return "2"
	case StopBits1_5:
		return "1.5"
	}
	return fmt.Sprintf("STOPSIZE-%d", byte(s))
}

var controlNames = [...]string{
	ControlFlowReq:        "FLOW-REQUEST",
	ControlFlowNone:       "FLOW-NONE",
	ControlFlowXonXoff:    "FLOW-XONXOFF",
	ControlFlowHardware:   "FLOW-HARDWARE",
	ControlBreakReq:       "BREAK-REQUEST",
	ControlBreakOn:        "BREAK-ON",
	ControlBreakOff:       "BREAK-OFF",
	ControlDTRReq:         "DTR-REQUEST",
	ControlDTROn:          "DTR-ON",
	ControlDTROff:         "DTR-OFF",
	ControlRTSReq:         "RTS-REQUEST",
	ControlRTSOn:          "RTS-ON",
	ControlRTSOff:         "RTS-OFF",
	ControlInflowReq:      "INFLOW-REQUEST",
	ControlInflowNone:     "INFLOW-NONE",
	ControlInflowXonXoff:  "INFLOW-XONXOFF",
	ControlInflowHardware: "INFLOW-HARDWARE",
	ControlFlowDCD:        "FLOW-DCD",
	ControlInflowDTR:      "INFLOW-DTR",
	ControlFlowDSR:        "FLOW-DSR",
}

func (c Control) String() string {
	if int(c) < len(controlNames) {
		return controlNames[c]
	}
	return fmt.Sprintf("CONTROL-%d", byte(c))
}
