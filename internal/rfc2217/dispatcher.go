package rfc2217

import (
	"encoding/binary"
	"log/slog"
)

type handlerFunc func(d *Dispatcher, c *Command, w *Writer) error

// handlers maps client command codes to their implementation. Codes that
// are not listed are logged and ignored.
var handlers = map[byte]handlerFunc{
	SignatureC:       (*Dispatcher).signature,
	SetBaudrateC:     (*Dispatcher).setBaudRate,
	SetDatasizeC:     (*Dispatcher).setDataSize,
	SetParityC:       (*Dispatcher).setParity,
	SetStopSizeC:     (*Dispatcher).setStopSize,
	SetControlC:      (*Dispatcher).setControl,
	SetLinestateC:    (*Dispatcher).setLineStateMask,
	SetModemstateC:   (*Dispatcher).setModemStateMask,
	PurgeDataC:       (*Dispatcher).purge,
	FlowControlSuspC: (*Dispatcher).suspend,
	FlowControlResC:  (*Dispatcher).resume,
}

// Dispatcher executes COM-PORT-OPTION requests against a Port and queues
// the confirmations. It holds the per-connection RFC 2217 state.
type Dispatcher struct {
	Port        Port
	Signature   string // sent when the client asks for ours
	CiscoCompat bool   // report inbound flow changes as 0

	// OnCommand, if set, sees the code of every handled request.
	OnCommand func(code byte)

	log            *slog.Logger
	lineStateMask  byte
	modemStateMask byte
	breakSignaled  bool
	suspended      bool
}

// NewDispatcher returns a dispatcher with the default masks: no line state
// notifications, all modem state bits.
func NewDispatcher(signature string, ciscoCompat bool, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Signature:      signature,
		CiscoCompat:    ciscoCompat,
		log:            log,
		modemStateMask: 255,
	}
}

// ModemStateMask returns the mask set by SET-MODEMSTATE-MASK.
func (d *Dispatcher) ModemStateMask() byte { return d.modemStateMask }

// LineStateMask returns the mask set by SET-LINESTATE-MASK.
func (d *Dispatcher) LineStateMask() byte { return d.lineStateMask }

// Suspended reports whether the client asked us to stop sending data.
func (d *Dispatcher) Suspended() bool { return d.suspended }

// Handle processes one complete IAC SB 44 ... IAC SE frame.
func (d *Dispatcher) Handle(frame []byte, w *Writer) error {
	cmd, ok := Decode(frame)
	if !ok {
		d.log.Debug("malformed com port frame", "frame", frame)
		return nil
	}
	h, ok := handlers[cmd.Code]
	if !ok {
		d.log.Debug("unhandled request", "command", CommandName(cmd.Code), "code", cmd.Code)
		return nil
	}
	d.log.Debug("client request", "command", cmd.String())
	if d.OnCommand != nil {
		d.OnCommand(cmd.Code)
	}
	return h(d, &cmd, w)
}

func param(c *Command) byte {
	if len(c.Data) == 0 {
		return 0
	}
	return c.Data[0]
}

func (d *Dispatcher) signature(c *Command, w *Writer) error {
	if len(c.Data) > 0 {
		sig := c.Data
		if len(sig) > MaxSignature {
			sig = sig[:MaxSignature]
		}
		d.log.Info("received client signature", "signature", string(sig))
		return nil
	}
	d.log.Info("sent signature", "signature", d.Signature)
	return w.SendSignature(d.Signature)
}

func (d *Dispatcher) setBaudRate(c *Command, w *Writer) error {
	if len(c.Data) < 4 {
		return nil
	}
	if rate := binary.BigEndian.Uint32(c.Data[:4]); rate != 0 {
		d.log.Debug("port baud rate change requested", "baud", rate)
		if err := d.Port.SetBaudRate(rate); err != nil {
			return err
		}
	}
	rate, err := d.Port.BaudRate()
	if err != nil {
		return err
	}
	d.log.Debug("port baud rate", "baud", rate)
	return w.SendBaudRate(rate)
}

func (d *Dispatcher) setDataSize(c *Command, w *Writer) error {
	if v := param(c); v != 0 {
		if err := d.Port.SetDataSize(v); err != nil {
			return err
		}
	}
	size, err := d.Port.DataSize()
	if err != nil {
		return err
	}
	d.log.Debug("port data size", "bits", size)
	return w.SendByteCommand(SetDatasizeS, size)
}

func (d *Dispatcher) setParity(c *Command, w *Writer) error {
	if v := Parity(param(c)); v != ParityQuery {
		if err := d.Port.SetParity(v); err != nil {
			return err
		}
	}
	p, err := d.Port.Parity()
	if err != nil {
		return err
	}
	d.log.Debug("port parity", "parity", p)
	return w.SendByteCommand(SetParityS, byte(p))
}

func (d *Dispatcher) setStopSize(c *Command, w *Writer) error {
	if v := StopSize(param(c)); v != StopQuery {
		if err := d.Port.SetStopSize(v); err != nil {
			return err
		}
	}
	s, err := d.Port.StopSize()
	if err != nil {
		return err
	}
	d.log.Debug("port stop size", "stop", s)
	return w.SendByteCommand(SetStopSizeS, byte(s))
}

func (d *Dispatcher) setControl(c *Command, w *Writer) error {
	v := Control(param(c))

	switch v {
	case ControlFlowReq, ControlDTRReq, ControlRTSReq, ControlInflowReq:
		state, err := d.Port.Control(v)
		if err != nil {
			return err
		}
		d.log.Debug("port flow control", "query", v, "state", state)
		return w.SendByteCommand(SetControlS, byte(state))

	case ControlBreakReq:
		if d.breakSignaled {
			return w.SendByteCommand(SetControlS, byte(ControlBreakOn))
		}
		return w.SendByteCommand(SetControlS, byte(ControlBreakOff))

	case ControlBreakOn, ControlBreakOff:
		on := v == ControlBreakOn
		if err := d.Port.SetBreak(on); err != nil {
			return err
		}
		d.breakSignaled = on
		d.log.Debug("break signal", "on", on)
		return w.SendByteCommand(SetControlS, byte(v))
	}

	if err := d.Port.SetControl(v); err != nil {
		return err
	}
	var state Control
	if d.CiscoCompat && v >= ControlInflowReq && v <= ControlInflowHardware {
		// Cisco IOS 11.3 does not confirm inbound flow control separately
		state = 0
	} else {
		var err error
		if state, err = d.Port.Control(ControlFlowReq); err != nil {
			return err
		}
	}
	d.log.Debug("port flow control", "requested", v, "state", state)
	return w.SendByteCommand(SetControlS, byte(state))
}

func (d *Dispatcher) setLineStateMask(c *Command, w *Writer) error {
	d.lineStateMask = param(c) & LineBreakErr
	d.log.Debug("line state mask", "mask", d.lineStateMask)
	return w.SendByteCommand(SetLinestateS, d.lineStateMask)
}

func (d *Dispatcher) setModemStateMask(c *Command, w *Writer) error {
	d.modemStateMask = param(c)
	d.log.Debug("modem state mask", "mask", d.modemStateMask)
	return w.SendByteCommand(SetModemstateS, d.modemStateMask)
}

func (d *Dispatcher) purge(c *Command, w *Writer) error {
	sel := param(c)
	d.log.Debug("port flush requested", "selector", sel)
	if err := d.Port.Purge(Purge(sel)); err != nil {
		return err
	}
	return w.SendByteCommand(PurgeDataS, sel)
}

func (d *Dispatcher) suspend(c *Command, w *Writer) error {
	d.log.Debug("flow control suspend requested")
	d.suspended = true
	return nil
}

func (d *Dispatcher) resume(c *Command, w *Writer) error {
	d.log.Debug("flow control resume requested")
	d.suspended = false
	return nil
}
