// Package telnet implements the RFC 854 parts of the redirector: IAC
// escaping in both directions, the inbound command parser and the
// per-option negotiation table.
package telnet

import "fmt"

// Telnet protocol constants
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	EL   byte = 248 // Erase Line
	EC   byte = 247 // Erase Character
	AYT  byte = 246 // Are You There
	AO   byte = 245 // Abort Output
	IP   byte = 244 // Interrupt Process
	BRK  byte = 243 // Break
	DM   byte = 242 // Data Mark
	NOP  byte = 241 // No Operation
	SE   byte = 240 // Subnegotiation End
)

// Telnet options the redirector cares about
const (
	TransmitBinary  byte = 0
	Echo            byte = 1
	SuppressGoAhead byte = 3
	ComPortOption   byte = 44
)

const (
	NUL byte = 0x00
	LF  byte = 0x0A
	CR  byte = 0x0D
)

// MaxEscapeExpansion is the worst-case number of bytes Escaper emits per
// input byte.
const MaxEscapeExpansion = 2

var commandNames = map[byte]string{
	DONT: "DONT", DO: "DO", WONT: "WONT", WILL: "WILL", SB: "SB",
	GA: "GA", EL: "EL", EC: "EC", AYT: "AYT", AO: "AO", IP: "IP",
	BRK: "BRK", DM: "DM", NOP: "NOP", SE: "SE", IAC: "IAC",
}

var optionNames = map[byte]string{
	TransmitBinary:  "TRANSMIT-BINARY",
	Echo:            "ECHO",
	SuppressGoAhead: "SUPPRESS-GO-AHEAD",
	ComPortOption:   "COM-PORT-OPTION",
}

// CommandName returns the mnemonic for a Telnet command byte.
func CommandName(c byte) string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD-%d", c)
}

// OptionName returns the mnemonic for a Telnet option code.
func OptionName(opt byte) string {
	if name, ok := optionNames[opt]; ok {
		return name
	}
	return fmt.Sprintf("OPTION-%d", opt)
}

// isSimpleCommand reports whether IAC c is a complete two-byte command.
func isSimpleCommand(c byte) bool {
	return c > SE && c < SB
}
