package rfc2217

import (
	"encoding/binary"

	"git2.jad.ru/MeterRS485/sercd/internal/ringbuf"
	"git2.jad.ru/MeterRS485/sercd/internal/telnet"
)

// Writer encodes server replies into the network buffer. Parameter bytes
// go through the connection's Escaper so its CR state stays consistent
// with the data stream.
type Writer struct {
	buf     *ringbuf.Buffer
	esc     *telnet.Escaper
	scratch []byte
}

// NewWriter returns a Writer appending to buf.
func NewWriter(buf *ringbuf.Buffer, esc *telnet.Escaper) *Writer {
	return &Writer{buf: buf, esc: esc, scratch: make([]byte, 0, SignatureLen)}
}

func (w *Writer) begin(code byte) []byte {
	return append(w.scratch[:0], telnet.IAC, telnet.SB, ComPortOption, code)
}

func (w *Writer) finish(b []byte) error {
	b = append(b, telnet.IAC, telnet.SE)
	_, err := w.buf.Write(b)
	return err
}

// SendByteCommand sends a reply carrying one parameter byte.
func (w *Writer) SendByteCommand(code, param byte) error {
	b := w.begin(code)
	b = w.esc.Append(b, param)
	return w.finish(b)
}

// SendBaudRate sends SET-BAUDRATE (101) with the rate in network byte order.
func (w *Writer) SendBaudRate(rate uint32) error {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], rate)
	b := w.begin(SetBaudrateS)
	b = w.esc.AppendBytes(b, raw[:])
	return w.finish(b)
}

// SendSignature sends SIGNATURE (100), truncated to MaxSignature bytes.
func (w *Writer) SendSignature(sig string) error {
	if len(sig) > MaxSignature {
		sig = sig[:MaxSignature]
	}
	b := w.begin(SignatureS)
	b = w.esc.AppendBytes(b, []byte(sig))
	return w.finish(b)
}
