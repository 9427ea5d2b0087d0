// Package mac is the LoRaWAN MAC layer seen by the node: an inbound event
// stream, an outbound response stream and an OTAA sequencer that drives a
// Radio through join, uplink and RX1 windows.
package mac

import (
	"tinygo.org/x/drivers/lora"
)

type EventKind uint8

const (
	StartJoin EventKind = iota + 1
	TimerFired
	RadioIndication
)

func (k EventKind) String() string {
	switch k {
	case StartJoin:
		return "start_join"
	case TimerFired:
		return "timer_fired"
	case RadioIndication:
		return "radio"
	default:
		return "unknown"
	}
}

// Event is delivered to Device.HandleEvent. Radio is set for RadioIndication.
type Event struct {
	Kind  EventKind
	Radio lora.RadioEvent
}

type ResponseKind uint8

const (
	// TimerRequest asks for a TimerFired event after Ms milliseconds.
	TimerRequest ResponseKind = iota + 1
	JoinSuccess
	NoJoinAccept
	UplinkDone
	DownlinkReceived
	NoAck
	Error
)

func (k ResponseKind) String() string {
	switch k {
	case TimerRequest:
		return "timer_request"
	case JoinSuccess:
		return "join_success"
	case NoJoinAccept:
		return "no_join_accept"
	case UplinkDone:
		return "uplink_done"
	case DownlinkReceived:
		return "downlink"
	case NoAck:
		return "no_ack"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Response is emitted by the MAC toward the application.
type Response struct {
	Kind     ResponseKind
	Ms       uint32    // TimerRequest
	Err      error     // Error
	Downlink *Downlink // DownlinkReceived
}

func TimerAfter(ms uint32) Response { return Response{Kind: TimerRequest, Ms: ms} }
func Failed(err error) Response     { return Response{Kind: Error, Err: err} }

// Radio is the transceiver surface the MAC drives. Completion is reported
// back asynchronously as RadioIndication events.
type Radio interface {
	SetFrequency(hz uint32) error
	Transmit(payload []byte) error
	Receive() error
	Sleep() error
}

// Device is the MAC as seen by the application tasks.
type Device interface {
	HandleEvent(ev Event) []Response
	Send(fport uint8, payload []byte, confirmed bool) ([]Response, error)
	Joined() bool
}
