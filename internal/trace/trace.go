// Package trace keeps the most recent bytes exchanged with the serial
// device, one rolling window per direction.
package trace

import (
	"encoding/hex"
	"io"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// window is the part of ringbuffer.RingBuffer a trace relies on.
type window interface {
	io.ReadWriter
	Capacity() int
	Length() int
	Reset()
}

// Trace implements session.Tap. A nil Trace records nothing.
type Trace struct {
	mu      sync.Mutex
	rx      window // from the device
	tx      window // to the device
	discard []byte
	lost    uint64
}

// New returns a trace keeping size bytes per direction, or nil when size
// is not positive.
func New(size int) *Trace {
	if size <= 0 {
		return nil
	}
	return &Trace{
		rx:      ringbuffer.New(size),
		tx:      ringbuffer.New(size),
		discard: make([]byte, size),
	}
}

func (t *Trace) FromDevice(p []byte) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.push(t.rx, p)
	t.mu.Unlock()
}

func (t *Trace) ToDevice(p []byte) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.push(t.tx, p)
	t.mu.Unlock()
}

// push appends p, dropping the oldest bytes to make room. A window that
// fails to take the bytes is cleared so it never holds them out of order.
func (t *Trace) push(rb window, p []byte) {
	size := rb.Capacity()
	if len(p) > size {
		p = p[len(p)-size:]
	}
	if need := len(p) - (size - rb.Length()); need > 0 {
		if n, _ := rb.Read(t.discard[:need]); n != need {
			t.lost += uint64(rb.Length())
			rb.Reset()
		}
	}
	kept := rb.Length()
	if n, _ := rb.Write(p); n != len(p) {
		t.lost += uint64(kept + len(p))
		rb.Reset()
	}
}

// Snapshot is a copy of both windows, oldest byte first.
type Snapshot struct {
	FromDevice []byte `json:"-"`
	ToDevice   []byte `json:"-"`
	Lost       uint64 `json:"-"` // bytes dropped from a window out of turn
}

// Dump is the JSON form of a snapshot with hex dumps for display.
type Dump struct {
	FromDevice     string `json:"from_device"`
	ToDevice       string `json:"to_device"`
	FromDeviceDump string `json:"from_device_dump,omitempty"`
	ToDeviceDump   string `json:"to_device_dump,omitempty"`
	Lost           uint64 `json:"lost,omitempty"`
}

// Snapshot copies both windows without consuming them.
func (t *Trace) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		FromDevice: t.peek(t.rx),
		ToDevice:   t.peek(t.tx),
		Lost:       t.lost,
	}
}

func (t *Trace) peek(rb window) []byte {
	n := rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	n, _ = rb.Read(buf)
	if m, _ := rb.Write(buf[:n]); m != n {
		t.lost += uint64(n)
		rb.Reset()
	}
	return buf[:n]
}

// Dump renders s for the status API.
func (s Snapshot) Dump() Dump {
	return Dump{
		FromDevice:     hex.EncodeToString(s.FromDevice),
		ToDevice:       hex.EncodeToString(s.ToDevice),
		FromDeviceDump: hex.Dump(s.FromDevice),
		ToDeviceDump:   hex.Dump(s.ToDevice),
		Lost:           s.Lost,
	}
}
