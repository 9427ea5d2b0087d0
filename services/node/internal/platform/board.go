package platform

import (
	"context"

	"loranode-go/services/node/internal/binding"
)

// SerialPort is the debug UART.
type SerialPort interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// IRQLine delivers a rising-edge interrupt.
type IRQLine interface {
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// Board is everything the node needs from the hardware.
type Board struct {
	Radio  binding.Resources
	DIO0   IRQLine
	Serial SerialPort
	Random func() uint32
}

// PinAntenna switches the RF path with two select lines.
type PinAntenna struct {
	Tx binding.OutputPin
	Rx binding.OutputPin
}

func (a PinAntenna) SetAntenna(mode binding.AntennaMode, _ uint8) {
	a.Tx.Set(mode == binding.AntennaTx)
	a.Rx.Set(mode == binding.AntennaRx)
}

// MaxPower caps transmit power at a fixed dBm.
type MaxPower uint8

func (m MaxPower) Limit(requested uint8) uint8 {
	if requested > uint8(m) {
		return uint8(m)
	}
	return requested
}
