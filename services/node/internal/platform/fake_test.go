package platform

import (
	"context"
	"testing"
	"time"

	"loranode-go/services/node/internal/sx127x"
)

func spiWrite(f *FakeSX127x, addr byte, data ...byte) {
	nss := f.NSS()
	nss.Set(false)
	_, _ = f.Transfer(addr | 0x80)
	for _, b := range data {
		_, _ = f.Transfer(b)
	}
	nss.Set(true)
}

func spiRead(f *FakeSX127x, addr byte) byte {
	nss := f.NSS()
	nss.Set(false)
	_, _ = f.Transfer(addr & 0x7f)
	v, _ := f.Transfer(0)
	nss.Set(true)
	return v
}

func TestFakeSX127x_Framing(t *testing.T) {
	f := NewFakeSX127x(&FakePin{})
	if v := spiRead(f, sx127x.RegVersion); v != sx127x.Version {
		t.Fatalf("version = %#x", v)
	}
	// Unselected transfers are ignored.
	_, _ = f.Transfer(sx127x.RegSyncWord | 0x80)
	_, _ = f.Transfer(0x55)
	if f.Reg(sx127x.RegSyncWord) != 0 {
		t.Fatal("write without NSS took effect")
	}
	spiWrite(f, sx127x.RegSyncWord, 0x34)
	if f.Reg(sx127x.RegSyncWord) != 0x34 {
		t.Fatal("sync word not written")
	}
}

func TestFakeSX127x_TransmitRaisesDIO0(t *testing.T) {
	dio0 := &FakePin{}
	irqs := 0
	_ = dio0.SetIRQ(func() { irqs++ })
	f := NewFakeSX127x(dio0)

	spiWrite(f, sx127x.RegFIFOAddrPtr, 0)
	spiWrite(f, sx127x.RegFIFO, 1, 2, 3)
	spiWrite(f, sx127x.RegPayloadLength, 3)
	spiWrite(f, sx127x.RegOpMode, 0x80|sx127x.ModeTx)

	sent := f.Sent()
	if len(sent) != 1 || string(sent[0]) != "\x01\x02\x03" {
		t.Fatalf("sent = %v", sent)
	}
	if irqs != 1 || !dio0.Get() {
		t.Fatalf("irqs=%d dio0=%v", irqs, dio0.Get())
	}
	spiWrite(f, sx127x.RegIRQFlags, 0xff)
	if dio0.Get() {
		t.Fatal("dio0 still high after clearing flags")
	}
}

func TestFakeSX127x_DeliverNeedsRx(t *testing.T) {
	f := NewFakeSX127x(&FakePin{})
	if f.Deliver([]byte{1}, false) {
		t.Fatal("delivered while not listening")
	}
	spiWrite(f, sx127x.RegOpMode, 0x80|sx127x.ModeRxCont)
	if !f.Deliver([]byte{9, 8}, false) {
		t.Fatal("not delivered while listening")
	}
	if f.Reg(sx127x.RegRxNbBytes) != 2 || f.Reg(sx127x.RegIRQFlags)&sx127x.IRQRxDone == 0 {
		t.Fatal("rx registers")
	}
}

func TestFakeSerial(t *testing.T) {
	s := NewFakeSerial()
	s.Feed('a', 'b')
	buf := make([]byte, 8)
	n, err := s.RecvSomeContext(context.Background(), buf)
	if err != nil || string(buf[:n]) != "ab" {
		t.Fatalf("got %q, %v", buf[:n], err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.RecvSomeContext(ctx, buf); err == nil {
		t.Fatal("expected context error")
	}
	_, _ = s.Write([]byte("hi"))
	if s.Output() != "hi" {
		t.Fatalf("output = %q", s.Output())
	}
}
