// Package ringbuf implements the fixed-capacity byte queues that sit between
// the serial device and the network connection.
//
// One slot is always left unused so that a full buffer can be told apart
// from an empty one: a Buffer of capacity C stores at most C-1 bytes.
package ringbuf

import "errors"

// DefaultCapacity is the capacity used for each direction of a session.
const DefaultCapacity = 2048

// ErrOverflow is returned when a write does not fit. Callers are expected to
// check Room first, so seeing this error means a sizing bug.
var ErrOverflow = errors.New("ringbuf: overflow")

// Buffer is a circular byte buffer. It never grows.
type Buffer struct {
	data []byte
	r, w int
}

// New returns an empty buffer with the given capacity (minimum 2).
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Cap returns the capacity, including the sacrificed slot.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of stored bytes.
func (b *Buffer) Len() int {
	return (b.w - b.r + len(b.data)) % len(b.data)
}

// Room returns how many more bytes can be stored.
func (b *Buffer) Room() int {
	return len(b.data) - 1 - b.Len()
}

// HasRoomFor reports whether n more bytes fit.
func (b *Buffer) HasRoomFor(n int) bool { return b.Room() >= n }

// Empty reports whether nothing is stored.
func (b *Buffer) Empty() bool { return b.r == b.w }

// Push appends one byte.
func (b *Buffer) Push(c byte) error {
	if b.Room() < 1 {
		return ErrOverflow
	}
	b.data[b.w] = c
	b.w = (b.w + 1) % len(b.data)
	return nil
}

// Pop removes and returns the oldest byte. ok is false if the buffer is empty.
func (b *Buffer) Pop() (c byte, ok bool) {
	if b.Empty() {
		return 0, false
	}
	c = b.data[b.r]
	b.r = (b.r + 1) % len(b.data)
	return c, true
}

// Write appends all of p or nothing at all.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Room() {
		return 0, ErrOverflow
	}
	n := copy(b.data[b.w:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.w = (b.w + len(p)) % len(b.data)
	return len(p), nil
}

// Peek returns the longest run of stored bytes that does not wrap around.
// The slice aliases the buffer and is valid until the next mutation.
func (b *Buffer) Peek() []byte {
	if b.w >= b.r {
		return b.data[b.r:b.w]
	}
	return b.data[b.r:]
}

// Advance discards n bytes from the front, typically after a bulk write of
// the slice returned by Peek.
func (b *Buffer) Advance(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.r = (b.r + n) % len(b.data)
}
