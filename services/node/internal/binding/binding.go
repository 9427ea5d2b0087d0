// Package binding hands board resources to the radio driver.
//
// The driver calls plain functions with no receiver or context argument.
// A Table owns one write-once slot per resource; Install publishes a single
// table that the package-level trampolines forward to.
package binding

import (
	"sync/atomic"

	"tinygo.org/x/drivers"

	"loranode-go/errcode"
)

// OutputPin drives a GPIO line.
type OutputPin interface{ Set(level bool) }

// InputPin samples a GPIO line.
type InputPin interface{ Get() bool }

type AntennaMode uint8

const (
	AntennaSleep AntennaMode = iota
	AntennaRx
	AntennaTx
)

// AntennaSwitch routes the RF path.
type AntennaSwitch interface {
	SetAntenna(mode AntennaMode, power uint8)
}

// PowerLimiter caps the requested transmit power.
type PowerLimiter interface {
	Limit(requested uint8) uint8
}

// Resources is what the board supplies. SPI, NSS, Reset and Delay are
// required; the rest are optional.
type Resources struct {
	SPI   drivers.SPI
	NSS   OutputPin
	Reset OutputPin
	Delay func(ms uint32)

	Antenna AntennaSwitch
	TCXO    OutputPin
	// TCXOSettleMs is reported by SetBoardTCXO when the TCXO is switched on.
	TCXOSettleMs uint8
	Busy         InputPin
	Power        PowerLimiter
}

// Capabilities is the set of optional slots a board populated.
type Capabilities uint8

const (
	CapAntenna Capabilities = 1 << iota
	CapTCXO
	CapBusy
	CapPowerLimit
)

func (c Capabilities) Has(x Capabilities) bool { return c&x == x }

// Table holds the slots. The zero value is empty and ready for Register.
type Table struct {
	spi     atomic.Pointer[drivers.SPI]
	nss     atomic.Pointer[OutputPin]
	rst     atomic.Pointer[OutputPin]
	delay   atomic.Pointer[func(uint32)]
	antenna atomic.Pointer[AntennaSwitch]
	tcxo    atomic.Pointer[OutputPin]
	busy    atomic.Pointer[InputPin]
	power   atomic.Pointer[PowerLimiter]

	tcxoSettle   uint8
	registered   atomic.Bool
	transportErr atomic.Uint32
	onErr        func(error)
	caps         Capabilities
}

// NewTable returns an empty table. onErr, if non-nil, receives transport
// errors from the SPI slot.
func NewTable(onErr func(error)) *Table { return &Table{onErr: onErr} }

// Register moves each resource into its slot. It succeeds once per table.
func (t *Table) Register(r Resources) (Capabilities, error) {
	const op = "binding.register"
	switch {
	case r.SPI == nil:
		return 0, errcode.New(errcode.ConfigurationError, op, "spi required")
	case r.NSS == nil:
		return 0, errcode.New(errcode.ConfigurationError, op, "nss required")
	case r.Reset == nil:
		return 0, errcode.New(errcode.ConfigurationError, op, "reset required")
	case r.Delay == nil:
		return 0, errcode.New(errcode.ConfigurationError, op, "delay required")
	}
	if !t.registered.CompareAndSwap(false, true) {
		return 0, errcode.New(errcode.ConfigurationError, op, "already registered")
	}

	storeOnce(&t.spi, r.SPI)
	storeOnce(&t.nss, r.NSS)
	storeOnce(&t.rst, r.Reset)
	storeOnce(&t.delay, r.Delay)

	var caps Capabilities
	if r.Antenna != nil {
		storeOnce(&t.antenna, r.Antenna)
		caps |= CapAntenna
	}
	if r.TCXO != nil {
		storeOnce(&t.tcxo, r.TCXO)
		t.tcxoSettle = r.TCXOSettleMs
		caps |= CapTCXO
	}
	if r.Busy != nil {
		storeOnce(&t.busy, r.Busy)
		caps |= CapBusy
	}
	if r.Power != nil {
		storeOnce(&t.power, r.Power)
		caps |= CapPowerLimit
	}
	t.caps = caps
	return caps, nil
}

func storeOnce[T any](p *atomic.Pointer[T], v T) {
	p.CompareAndSwap(nil, &v)
}

// Capabilities returns the optional slots populated by Register.
func (t *Table) Capabilities() Capabilities { return t.caps }

// TransportErrors counts SPI failures reported through SPIInOut.
func (t *Table) TransportErrors() uint32 { return t.transportErr.Load() }

// reset asserts (true) or releases the active-low reset line.
func (t *Table) reset(assert bool) {
	if p := t.rst.Load(); p != nil {
		(*p).Set(!assert)
	}
}

// spiInOut clocks one byte. A bus failure is reported and 0 returned.
func (t *Table) spiInOut(b byte) byte {
	p := t.spi.Load()
	if p == nil {
		return 0
	}
	r, err := (*p).Transfer(b)
	if err != nil {
		t.transportErr.Add(1)
		if t.onErr != nil {
			t.onErr(errcode.Wrap(errcode.TransportError, "binding.spi", err))
		}
		return 0
	}
	return r
}

// spiNSS drives the chip-select line to the given level; low selects.
func (t *Table) spiNSS(high bool) {
	if p := t.nss.Load(); p != nil {
		(*p).Set(high)
	}
}

func (t *Table) delayMs(ms uint32) {
	if p := t.delay.Load(); p != nil {
		(*p)(ms)
	}
}

func (t *Table) setAntennaPins(mode AntennaMode, power uint8) {
	if p := t.antenna.Load(); p != nil {
		(*p).SetAntenna(mode, power)
	}
}

// setBoardTCXO powers the TCXO and returns its settle time in ms, 0 when
// the board has none.
func (t *Table) setBoardTCXO(on bool) uint8 {
	p := t.tcxo.Load()
	if p == nil {
		return 0
	}
	(*p).Set(on)
	if !on {
		return 0
	}
	return t.tcxoSettle
}

func (t *Table) busyPinStatus() bool {
	if p := t.busy.Load(); p != nil {
		return (*p).Get()
	}
	return false
}

func (t *Table) reducePower(requested uint8) uint8 {
	if p := t.power.Load(); p != nil {
		return (*p).Limit(requested)
	}
	return requested
}
