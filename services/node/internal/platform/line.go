// Package platform supplies the board: radio resources for the binding
// table, the DIO0 interrupt line, the debug serial port, a tick source and
// a random source. rp2040 builds use machine and uartx; other builds get
// in-memory fakes.
package platform

import "sync/atomic"

// LatchedLine turns a level interrupt into at most one outstanding event.
// The ISR dispatches only on the idle to pending transition; the handler
// clears the latch before it returns, which re-arms the line.
type LatchedLine struct {
	pending  atomic.Bool
	drops    atomic.Uint32
	dispatch func() error
}

func NewLatchedLine(dispatch func() error) *LatchedLine {
	return &LatchedLine{dispatch: dispatch}
}

// ISR is the interrupt callback. It never blocks.
func (l *LatchedLine) ISR() {
	if !l.pending.CompareAndSwap(false, true) {
		return
	}
	if err := l.dispatch(); err != nil {
		l.pending.Store(false)
		l.drops.Add(1)
	}
}

// Pending reports whether the line is latched.
func (l *LatchedLine) Pending() bool { return l.pending.Load() }

// Clear releases the latch and reports whether it was set.
func (l *LatchedLine) Clear() bool { return l.pending.Swap(false) }

// Drops counts interrupts whose dispatch failed.
func (l *LatchedLine) Drops() uint32 { return l.drops.Load() }
