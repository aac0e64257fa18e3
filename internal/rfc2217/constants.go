// Package rfc2217 implements the COM-PORT-OPTION subnegotiations of
// RFC 2217: request framing, the command dispatcher and the reply encoder.
package rfc2217

import "git2.jad.ru/MeterRS485/sercd/internal/telnet"

// RFC-2217 COM Port Control option
const (
	ComPortOption = telnet.ComPortOption
)

// RFC-2217 Subnegotiation commands (client to server)
const (
	SignatureC        byte = 0
	SetBaudrateC      byte = 1
	SetDatasizeC      byte = 2
	SetParityC        byte = 3
	SetStopSizeC      byte = 4
	SetControlC       byte = 5
	NotifyLinestateC  byte = 6
	NotifyModemstateC byte = 7
	FlowControlSuspC  byte = 8
	FlowControlResC   byte = 9
	SetLinestateC     byte = 10
	SetModemstateC    byte = 11
	PurgeDataC        byte = 12
)

// Server responses use the client code + 100
const ServerResponseOffset = 100

// RFC-2217 Subnegotiation commands (server to client, +100)
const (
	SignatureS        byte = 100
	SetBaudrateS      byte = 101
	SetDatasizeS      byte = 102
	SetParityS        byte = 103
	SetStopSizeS      byte = 104
	SetControlS       byte = 105
	NotifyLinestateS  byte = 106
	NotifyModemstateS byte = 107
	FlowControlSuspS  byte = 108
	FlowControlResS   byte = 109
	SetLinestateS     byte = 110
	SetModemstateS    byte = 111
	PurgeDataS        byte = 112
)

// Parity is a SET-PARITY value.
type Parity byte

// Parity values
const (
	ParityQuery Parity = 0
	ParityNone  Parity = 1
	ParityOdd   Parity = 2
	ParityEven  Parity = 3
	ParityMark  Parity = 4
	ParitySpace Parity = 5
)

// StopSize is a SET-STOPSIZE value.
type StopSize byte

// Stop bits values
const (
	StopQuery   StopSize = 0
	StopBits1   StopSize = 1
	StopBits2   StopSize = 2
	StopBits1_5 StopSize = 3
)

// Control is a SET-CONTROL value: flow control modes, DTR/RTS/BREAK
// states and the queries for each of them.
type Control byte

// Flow control values
const (
	ControlFlowReq        Control = 0
	ControlFlowNone       Control = 1
	ControlFlowXonXoff    Control = 2
	ControlFlowHardware   Control = 3
	ControlBreakReq       Control = 4
	ControlBreakOn        Control = 5
	ControlBreakOff       Control = 6
	ControlDTRReq         Control = 7
	ControlDTROn          Control = 8
	ControlDTROff         Control = 9
	ControlRTSReq         Control = 10
	ControlRTSOn          Control = 11
	ControlRTSOff         Control = 12
	ControlInflowReq      Control = 13
	ControlInflowNone     Control = 14
	ControlInflowXonXoff  Control = 15
	ControlInflowHardware Control = 16
	ControlFlowDCD        Control = 17
	ControlInflowDTR      Control = 18
	ControlFlowDSR        Control = 19
)

// Purge selects which queue PURGE-DATA flushes.
type Purge byte

// Purge values
const (
	PurgeRx   Purge = 1
	PurgeTx   Purge = 2
	PurgeBoth Purge = 3
)

// Line state bits. Only break detection is reported.
const (
	LineTimeout    byte = 128
	LineShiftReg   byte = 64
	LineHoldReg    byte = 32
	LineBreakErr   byte = 16
	LineFrameErr   byte = 8
	LineParityErr  byte = 4
	LineOverrunErr byte = 2
	LineDataReady  byte = 1
)

// Modem state bits. The low nibble marks lines that changed since the
// previous report.
const (
	ModemRLSD      byte = 128
	ModemRing      byte = 64
	ModemDSR       byte = 32
	ModemCTS       byte = 16
	ModemDeltaRLSD byte = 8
	ModemTrailRing byte = 4
	ModemDeltaDSR  byte = 2
	ModemDeltaCTS  byte = 1
	ModemNoDelta   byte = 0xF0
)

// ByteCommandLen is the size of a reply carrying one escaped parameter
// byte: IAC SB 44 code, param, IAC SE.
const ByteCommandLen = 4 + 2*1 + 2

// BaudRateLen is the size of a baud rate reply with four escaped bytes.
const BaudRateLen = 4 + 2*4 + 2

// MaxSignature bounds the signature text in either direction.
const MaxSignature = 255

// SignatureLen is the largest signature reply.
const SignatureLen = 4 + 2*MaxSignature + 2

// MaxReplyLen is the most a single inbound command can add to the network
// buffer.
const MaxReplyLen = SignatureLen
