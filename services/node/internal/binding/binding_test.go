package binding

import (
	"errors"
	"reflect"
	"testing"

	"loranode-go/errcode"
)

type fakeSPI struct {
	sent []byte
	err  error
}

func (s *fakeSPI) Transfer(b byte) (byte, error) {
	if s.err != nil {
		return 0xff, s.err
	}
	s.sent = append(s.sent, b)
	return ^b, nil
}

func (s *fakeSPI) Tx(w, r []byte) error {
	for i, b := range w {
		v, err := s.Transfer(b)
		if err != nil {
			return err
		}
		if i < len(r) {
			r[i] = v
		}
	}
	return nil
}

type fakePin struct {
	level bool
	sets  int
}

func (p *fakePin) Set(level bool) { p.level = level; p.sets++ }
func (p *fakePin) Get() bool      { return p.level }

type fakeAntenna struct {
	calls int
	mode  AntennaMode
	power uint8
}

func (a *fakeAntenna) SetAntenna(mode AntennaMode, power uint8) {
	a.calls++
	a.mode, a.power = mode, power
}

type capPower uint8

func (c capPower) Limit(requested uint8) uint8 {
	if requested > uint8(c) {
		return uint8(c)
	}
	return requested
}

func required() (Resources, *fakeSPI, *fakePin, *fakePin) {
	spi, nss, rst := &fakeSPI{}, &fakePin{level: true}, &fakePin{level: true}
	return Resources{SPI: spi, NSS: nss, Reset: rst, Delay: func(uint32) {}}, spi, nss, rst
}

func TestRegister_RequiresCoreSlots(t *testing.T) {
	r, _, _, _ := required()
	r.SPI = nil
	if _, err := NewTable(nil).Register(r); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("err = %v", err)
	}
	r, _, _, _ = required()
	r.Delay = nil
	if _, err := NewTable(nil).Register(r); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegister_Once(t *testing.T) {
	tb := NewTable(nil)
	r, spi, _, _ := required()
	if _, err := tb.Register(r); err != nil {
		t.Fatal(err)
	}
	r2, _, _, _ := required()
	if _, err := tb.Register(r2); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("second register: err = %v", err)
	}
	tb.spiInOut(0x42)
	if len(spi.sent) != 1 {
		t.Fatal("first registration's SPI was replaced")
	}
}

func TestAbsentOptionalSlotsAreNeutral(t *testing.T) {
	tb := NewTable(nil)
	r, _, _, _ := required()
	caps, err := tb.Register(r)
	if err != nil {
		t.Fatal(err)
	}
	if caps != 0 {
		t.Fatalf("caps = %b", caps)
	}
	tb.setAntennaPins(AntennaTx, 14)
	if got := tb.setBoardTCXO(true); got != 0 {
		t.Fatalf("tcxo = %d", got)
	}
	if tb.busyPinStatus() {
		t.Fatal("busy = true")
	}
	if got := tb.reducePower(17); got != 17 {
		t.Fatalf("power = %d", got)
	}
}

func TestPopulatedOptionalSlots(t *testing.T) {
	tb := NewTable(nil)
	r, _, _, _ := required()
	ant := &fakeAntenna{}
	tcxo := &fakePin{}
	busy := &fakePin{level: true}
	r.Antenna, r.TCXO, r.TCXOSettleMs, r.Busy, r.Power = ant, tcxo, 5, busy, capPower(14)

	caps, err := tb.Register(r)
	if err != nil {
		t.Fatal(err)
	}
	if !caps.Has(CapAntenna | CapTCXO | CapBusy | CapPowerLimit) {
		t.Fatalf("caps = %b", caps)
	}
	if ant.calls != 0 {
		t.Fatal("antenna touched during registration")
	}
	tb.setAntennaPins(AntennaRx, 10)
	if ant.calls != 1 || ant.mode != AntennaRx || ant.power != 10 {
		t.Fatalf("antenna = %+v", ant)
	}
	if got := tb.setBoardTCXO(true); got != 5 || !tcxo.level {
		t.Fatalf("tcxo on = %d level %v", got, tcxo.level)
	}
	if got := tb.setBoardTCXO(false); got != 0 || tcxo.level {
		t.Fatalf("tcxo off = %d level %v", got, tcxo.level)
	}
	if !tb.busyPinStatus() {
		t.Fatal("busy = false")
	}
	if got := tb.reducePower(20); got != 14 {
		t.Fatalf("power = %d", got)
	}
}

func TestLineLevels(t *testing.T) {
	tb := NewTable(nil)
	r, _, nss, rst := required()
	_, _ = tb.Register(r)

	tb.reset(true)
	if rst.level {
		t.Fatal("reset asserted should drive the line low")
	}
	tb.reset(false)
	if !rst.level {
		t.Fatal("reset released should drive the line high")
	}
	tb.spiNSS(false)
	if nss.level {
		t.Fatal("nss low")
	}
	tb.spiNSS(true)
	if !nss.level {
		t.Fatal("nss high")
	}
}

func TestSPIFailureIsReported(t *testing.T) {
	var reported error
	tb := NewTable(func(err error) { reported = err })
	r, spi, _, _ := required()
	spi.err = errors.New("bus fault")
	_, _ = tb.Register(r)

	if got := tb.spiInOut(0x01); got != 0 {
		t.Fatalf("got %#x, want neutral 0", got)
	}
	if tb.TransportErrors() != 1 {
		t.Fatalf("transport errors = %d", tb.TransportErrors())
	}
	if !errcode.Is(reported, errcode.TransportError) {
		t.Fatalf("reported = %v", reported)
	}
}

func TestInstall(t *testing.T) {
	tb := NewTable(nil)
	r, spi, nss, _ := required()
	if _, err := Install(tb); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("install before register: err = %v", err)
	}
	_, _ = tb.Register(r)

	bb, err := Install(tb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { Uninstall(tb) })

	if Installed() != tb {
		t.Fatal("Installed mismatch")
	}
	bb.SPINSS(false)
	if got := bb.SPIInOut(0x0f); got != 0xf0 {
		t.Fatalf("SPIInOut = %#x", got)
	}
	if len(spi.sent) != 1 || nss.level {
		t.Fatalf("trampolines did not reach the table: sent=%v nss=%v", spi.sent, nss.level)
	}
	if got := bb.ReducePower(9); got != 9 {
		t.Fatalf("ReducePower = %d", got)
	}

	other := NewTable(nil)
	r2, _, _, _ := required()
	_, _ = other.Register(r2)
	if _, err := Install(other); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("second install: err = %v", err)
	}
	if !Uninstall(tb) {
		t.Fatal("Uninstall(active) = false")
	}
	if _, err := Install(other); err != nil {
		t.Fatalf("install after uninstall: %v", err)
	}
	Uninstall(other)
}

func TestTrampolinesWithoutTable(t *testing.T) {
	if Installed() != nil {
		t.Skip("a table is installed")
	}
	if spiInOut(1) != 0 || busyPinStatus() || setBoardTCXO(true) != 0 || reducePower(7) != 7 {
		t.Fatal("uninstalled trampolines must be neutral")
	}
	reset(true)
	delayMs(1)
}

func TestTableExposesNoHardwareCalls(t *testing.T) {
	want := map[string]bool{"Capabilities": true, "Register": true, "TransportErrors": true}
	typ := reflect.TypeOf(&Table{})
	for i := 0; i < typ.NumMethod(); i++ {
		if name := typ.Method(i).Name; !want[name] {
			t.Errorf("Table exports %s", name)
		}
	}
	if typ.NumMethod() != len(want) {
		t.Fatalf("Table has %d exported methods, want %d", typ.NumMethod(), len(want))
	}
}
