// Package dispatch maps interrupt sources to prioritised software tasks.
//
// Each source is bound to exactly one task with a fixed priority and a
// bounded FIFO. One worker goroutine runs per priority level. A job starts
// only when its priority is strictly above the system ceiling and no higher
// level has queued work, which gives stack-resource-policy semantics to
// Resource critical sections.
package dispatch

import (
	"tinygo.org/x/drivers/lora"

	"loranode-go/services/node/internal/mac"
)

type Source uint8

const (
	RadioLineAsserted Source = iota
	SerialByteArrived
	TimerTick
	RadioIndication
	MacEvent
	MacResponse

	numSources
)

func (s Source) String() string {
	switch s {
	case RadioLineAsserted:
		return "radio_line"
	case SerialByteArrived:
		return "serial_byte"
	case TimerTick:
		return "timer_tick"
	case RadioIndication:
		return "radio_indication"
	case MacEvent:
		return "mac_event"
	case MacResponse:
		return "mac_response"
	default:
		return "unknown"
	}
}

// Event is consumed exactly once by the task bound to its Source.
type Event struct {
	Source Source
	Byte   byte            // SerialByteArrived
	Radio  lora.RadioEvent // RadioIndication
	Mac    mac.Event       // MacEvent
	Resp   mac.Response    // MacResponse

	depth uint8
}

// Depth is the follow-up chain depth; interrupt-originated events are 0.
func (e Event) Depth() uint8 { return e.depth }

func ByteArrived(b byte) Event            { return Event{Source: SerialByteArrived, Byte: b} }
func RadioLine() Event                    { return Event{Source: RadioLineAsserted} }
func Tick() Event                         { return Event{Source: TimerTick} }
func Indication(ev lora.RadioEvent) Event { return Event{Source: RadioIndication, Radio: ev} }
func Mac(ev mac.Event) Event              { return Event{Source: MacEvent, Mac: ev} }
func Response(r mac.Response) Event       { return Event{Source: MacResponse, Resp: r} }
