//go:build !rp2040

package platform

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"loranode-go/services/node/internal/binding"
	"loranode-go/services/node/internal/sx127x"
	"loranode-go/types"
)

// Open returns an in-memory board on host builds.
func Open(_ types.NodeConfig) (*Board, error) { return NewHostBoard().Board(), nil }

// HostBoard bundles the fakes so tests can drive them.
type HostBoard struct {
	Radio  *FakeSX127x
	Reset  *FakePin
	DIO0   *FakePin
	Serial *FakeSerial
}

func NewHostBoard() *HostBoard {
	dio0 := &FakePin{}
	return &HostBoard{
		Radio:  NewFakeSX127x(dio0),
		Reset:  &FakePin{level: true},
		DIO0:   dio0,
		Serial: NewFakeSerial(),
	}
}

func (h *HostBoard) Board() *Board {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return &Board{
		Radio: binding.Resources{
			SPI:   h.Radio,
			NSS:   h.Radio.NSS(),
			Reset: h.Reset,
			Delay: func(uint32) {},
		},
		DIO0:   h.DIO0,
		Serial: h.Serial,
		Random: func() uint32 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Uint32()
		},
	}
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin is an output/input line with a rising-edge interrupt.
type FakePin struct {
	mu    sync.Mutex
	level bool
	irq   func()
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	rising := !p.level && level
	p.level = level
	irq := p.irq
	p.mu.Unlock()
	if rising && irq != nil {
		irq()
	}
}

func (p *FakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *FakePin) SetIRQ(handler func()) error {
	p.mu.Lock()
	p.irq = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error { return p.SetIRQ(nil) }

// ----------------------------- UART (host) -----------------------------------

// FakeSerial buffers output and serves injected input.
type FakeSerial struct {
	in  chan byte
	mu  sync.Mutex
	out []byte
}

func NewFakeSerial() *FakeSerial { return &FakeSerial{in: make(chan byte, 64)} }

func (s *FakeSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.out = append(s.out, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *FakeSerial) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case b := <-s.in:
		p[0] = b
	}
	n := 1
	for n < len(p) {
		select {
		case b := <-s.in:
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Feed queues received bytes.
func (s *FakeSerial) Feed(bs ...byte) {
	for _, b := range bs {
		s.in <- b
	}
}

// Output returns everything written so far.
func (s *FakeSerial) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.out)
}

// ----------------------------- SX127x (host) ---------------------------------

// FakeSX127x models the SX127x SPI register interface: NSS framing, the
// FIFO pointer, write-one-to-clear IRQ flags and DIO0. Entering TX mode
// completes the transmission at once.
type FakeSX127x struct {
	mu   sync.Mutex
	regs [0x80]byte
	fifo [256]byte
	sent [][]byte
	dio0 *FakePin

	selected bool
	addr     byte
	write    bool
	started  bool
}

func NewFakeSX127x(dio0 *FakePin) *FakeSX127x {
	f := &FakeSX127x{dio0: dio0}
	f.regs[sx127x.RegVersion] = sx127x.Version
	return f
}

type fakeNSS struct{ f *FakeSX127x }

func (n fakeNSS) Set(high bool) {
	n.f.mu.Lock()
	n.f.selected = !high
	n.f.started = false
	n.f.mu.Unlock()
}

// NSS is the chip-select input of the fake.
func (f *FakeSX127x) NSS() binding.OutputPin { return fakeNSS{f} }

func (f *FakeSX127x) Transfer(b byte) (byte, error) {
	f.mu.Lock()
	if !f.selected {
		f.mu.Unlock()
		return 0, nil
	}
	if !f.started {
		f.started = true
		f.addr = b & 0x7f
		f.write = b&0x80 != 0
		f.mu.Unlock()
		return 0, nil
	}
	var out byte
	raise, lower := false, false
	if f.write {
		raise, lower = f.writeReg(f.addr, b)
	} else {
		out = f.readReg(f.addr)
	}
	if f.addr != sx127x.RegFIFO {
		f.addr++
	}
	f.mu.Unlock()

	if raise {
		f.dio0.Set(true)
	}
	if lower {
		f.dio0.Set(false)
	}
	return out, nil
}

func (f *FakeSX127x) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		v, _ := f.Transfer(b)
		if i < len(r) {
			r[i] = v
		}
	}
	return nil
}

func (f *FakeSX127x) writeReg(addr, v byte) (raise, lower bool) {
	switch addr {
	case sx127x.RegFIFO:
		ptr := f.regs[sx127x.RegFIFOAddrPtr]
		f.fifo[ptr] = v
		f.regs[sx127x.RegFIFOAddrPtr] = ptr + 1
	case sx127x.RegIRQFlags:
		f.regs[addr] &^= v
		lower = f.regs[addr] == 0
	case sx127x.RegOpMode:
		f.regs[addr] = v
		if v&sx127x.ModeMask == sx127x.ModeTx {
			base := int(f.regs[sx127x.RegFIFOTxBaseAddr])
			n := int(f.regs[sx127x.RegPayloadLength])
			pkt := make([]byte, n)
			for i := range pkt {
				pkt[i] = f.fifo[(base+i)&0xff]
			}
			f.sent = append(f.sent, pkt)
			f.regs[addr] = v&^sx127x.ModeMask | 0x01 // back to standby
			f.regs[sx127x.RegIRQFlags] |= sx127x.IRQTxDone
			raise = true
		}
	default:
		f.regs[addr&0x7f] = v
	}
	return raise, lower
}

func (f *FakeSX127x) readReg(addr byte) byte {
	if addr == sx127x.RegFIFO {
		ptr := f.regs[sx127x.RegFIFOAddrPtr]
		f.regs[sx127x.RegFIFOAddrPtr] = ptr + 1
		return f.fifo[ptr]
	}
	return f.regs[addr&0x7f]
}

// Deliver injects a received packet. It reports false, delivering nothing,
// when the radio is not listening.
func (f *FakeSX127x) Deliver(p []byte, crcError bool) bool {
	f.mu.Lock()
	if f.regs[sx127x.RegOpMode]&sx127x.ModeMask != sx127x.ModeRxCont {
		f.mu.Unlock()
		return false
	}
	const base = 0x80
	for i, b := range p {
		f.fifo[(base+i)&0xff] = b
	}
	f.regs[sx127x.RegFIFORxCurrentAddr] = base
	f.regs[sx127x.RegRxNbBytes] = byte(len(p))
	flags := byte(sx127x.IRQRxDone)
	if crcError {
		flags |= sx127x.IRQCRCError
	}
	f.regs[sx127x.RegIRQFlags] |= flags
	f.mu.Unlock()
	f.dio0.Set(true)
	return true
}

// Sent returns copies of every transmitted packet.
func (f *FakeSX127x) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	for i, p := range f.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Reg reads a register without SPI framing.
func (f *FakeSX127x) Reg(addr byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr&0x7f]
}

// Mode returns the operating mode bits.
func (f *FakeSX127x) Mode() byte { return f.Reg(sx127x.RegOpMode) & sx127x.ModeMask }

// Frequency decodes the carrier frequency registers in Hz.
func (f *FakeSX127x) Frequency() uint32 {
	f.mu.Lock()
	frf := uint64(f.regs[sx127x.RegFrfMSB])<<16 | uint64(f.regs[sx127x.RegFrfMSB+1])<<8 | uint64(f.regs[sx127x.RegFrfMSB+2])
	f.mu.Unlock()
	return uint32((frf*32000000 + (1 << 18)) >> 19)
}
