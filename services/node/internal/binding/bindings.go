package binding

import (
	"sync/atomic"

	"loranode-go/errcode"
)

// BoardBindings is the context-free call surface the radio driver consumes.
// Every field holds a package-level function.
type BoardBindings struct {
	Reset          func(assert bool)
	SPIInOut       func(b byte) byte
	SPINSS         func(high bool)
	DelayMs        func(ms uint32)
	SetAntennaPins func(mode AntennaMode, power uint8)
	SetBoardTCXO   func(on bool) uint8
	BusyPinStatus  func() bool
	ReducePower    func(requested uint8) uint8
}

var active atomic.Pointer[Table]

// Install makes t the table behind the trampolines. Only one table may be
// installed per process.
func Install(t *Table) (BoardBindings, error) {
	if t == nil || !t.registered.Load() {
		return BoardBindings{}, errcode.New(errcode.ConfigurationError, "binding.install", "table not registered")
	}
	if !active.CompareAndSwap(nil, t) {
		return BoardBindings{}, errcode.New(errcode.ConfigurationError, "binding.install", "already installed")
	}
	return BoardBindings{
		Reset:          reset,
		SPIInOut:       spiInOut,
		SPINSS:         spiNSS,
		DelayMs:        delayMs,
		SetAntennaPins: setAntennaPins,
		SetBoardTCXO:   setBoardTCXO,
		BusyPinStatus:  busyPinStatus,
		ReducePower:    reducePower,
	}, nil
}

// Uninstall releases t so another table can be installed. It reports
// whether t was the active table.
func Uninstall(t *Table) bool { return active.CompareAndSwap(t, nil) }

// Installed returns the active table, or nil.
func Installed() *Table { return active.Load() }

func reset(assert bool) {
	if t := active.Load(); t != nil {
		t.reset(assert)
	}
}

func spiInOut(b byte) byte {
	if t := active.Load(); t != nil {
		return t.spiInOut(b)
	}
	return 0
}

func spiNSS(high bool) {
	if t := active.Load(); t != nil {
		t.spiNSS(high)
	}
}

func delayMs(ms uint32) {
	if t := active.Load(); t != nil {
		t.delayMs(ms)
	}
}

func setAntennaPins(mode AntennaMode, power uint8) {
	if t := active.Load(); t != nil {
		t.setAntennaPins(mode, power)
	}
}

func setBoardTCXO(on bool) uint8 {
	if t := active.Load(); t != nil {
		return t.setBoardTCXO(on)
	}
	return 0
}

func busyPinStatus() bool {
	if t := active.Load(); t != nil {
		return t.busyPinStatus()
	}
	return false
}

func reducePower(requested uint8) uint8 {
	if t := active.Load(); t != nil {
		return t.reducePower(requested)
	}
	return requested
}
