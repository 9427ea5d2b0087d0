// Package ring is a single-producer, single-consumer byte ring with monotonic
// indices. Producers that must not block (debug output under a critical
// section) use TryWrite and handle partial writes themselves.
package ring

import (
	"sync/atomic"

	"loranode-go/x/mathx"
)

type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // coalesced data-written signal
}

// New allocates a ring of at least size bytes, rounded up to a power of two.
func New(size int) *Ring {
	size = mathx.NextPow2(size)
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Available() int { return int(r.wr.Load() - r.rd.Load()) }

func (r *Ring) Space() int { return len(r.buf) - r.Available() }

// TryWrite copies as much of src as fits and returns the count.
func (r *Ring) TryWrite(src []byte) int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	before := wr - rd
	n := mathx.Min(len(src), len(r.buf)-int(before))
	if n <= 0 {
		return 0
	}
	idx := wr & r.mask
	first := copy(r.buf[idx:], src[:n])
	copy(r.buf, src[first:n])
	r.wr.Store(wr + uint32(n)) // release

	// Signal every write, not only the empty to non-empty edge.
	select {
	case r.readable <- struct{}{}:
	default:
	}
	return n
}

// TryRead copies up to len(dst) buffered bytes and returns the count.
func (r *Ring) TryRead(dst []byte) int {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	n := mathx.Min(len(dst), int(wr-rd))
	if n <= 0 {
		return 0
	}
	idx := rd & r.mask
	first := copy(dst[:n], r.buf[idx:])
	copy(dst[first:n], r.buf)
	r.rd.Store(rd + uint32(n)) // release
	return n
}

// Readable fires (coalesced) after data is written. A consumer drains with
// TryRead until it returns 0 and then waits on it again.
func (r *Ring) Readable() <-chan struct{} { return r.readable }
