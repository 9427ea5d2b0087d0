// Package console is the best-effort debug output: tasks append whole lines
// to a ring, and a drain goroutine copies them to the serial port. It also
// feeds received serial bytes back to the caller.
package console

import (
	"sync/atomic"

	"loranode-go/x/conv"
	"loranode-go/x/ring"
)

const DefaultRingSize = 1024

// Writer appends lines to the ring without blocking. It has a single
// producer; callers serialise access.
type Writer struct {
	r     *ring.Ring
	line  []byte
	drops atomic.Uint32
}

func NewWriter(size int) *Writer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Writer{r: ring.New(size), line: make([]byte, 0, 96)}
}

// Line starts a new line with a bracketed tag.
func (w *Writer) Line(tag string) *Writer {
	w.line = append(w.line[:0], '[')
	w.line = append(w.line, tag...)
	w.line = append(w.line, "] "...)
	return w
}

func (w *Writer) S(s string) *Writer {
	w.line = append(w.line, s...)
	return w
}

func (w *Writer) U(n uint64) *Writer {
	w.line = conv.AppendUint(w.line, n)
	return w
}

func (w *Writer) I(n int64) *Writer {
	w.line = conv.AppendInt(w.line, n)
	return w
}

func (w *Writer) X32(n uint32) *Writer {
	w.line = conv.AppendHex32(w.line, n)
	return w
}

func (w *Writer) Hex(p []byte) *Writer {
	w.line = conv.AppendHexBytes(w.line, p)
	return w
}

// End terminates the line and queues it. A line that does not fit is
// dropped whole and counted.
func (w *Writer) End() bool {
	w.line = append(w.line, '\n')
	if w.r.Space() < len(w.line) {
		w.drops.Add(1)
		return false
	}
	w.r.TryWrite(w.line)
	return true
}

// Drops counts lines lost to a full ring.
func (w *Writer) Drops() uint32 { return w.drops.Load() }

func (w *Writer) ring() *ring.Ring { return w.r }
