package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"loranode-go/bus"
	"loranode-go/types"
)

type port struct {
	mu  sync.Mutex
	out strings.Builder
	in  chan byte
}

func newPort() *port { return &port{in: make(chan byte, 16)} }

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *port) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case c := <-p.in:
		b[0] = c
		return 1, nil
	}
}

func (p *port) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func waitFor(t *testing.T, p *port, want string) {
	t.Helper()
	deadline := time.After(time.Second)
	for !strings.Contains(p.String(), want) {
		select {
		case <-deadline:
			t.Fatalf("output %q does not contain %q", p.String(), want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestWriterFormatsLine(t *testing.T) {
	w := NewWriter(64)
	if !w.Line("node").S("fcnt=").U(7).S(" addr=").X32(0x26012E43).S(" ").Hex([]byte{0xDE, 0xAD}).S(" ").I(-3).End() {
		t.Fatal("line dropped")
	}
	buf := make([]byte, 64)
	n := w.ring().TryRead(buf)
	if got, want := string(buf[:n]), "[node] fcnt=7 addr=26012E43 DEAD -3\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriterDropsWholeLineWhenFull(t *testing.T) {
	w := NewWriter(16)
	if !w.Line("a").S("0123456789").End() { // 15 bytes
		t.Fatal("first line dropped")
	}
	if w.Line("b").S("x").End() {
		t.Fatal("line written into full ring")
	}
	if w.Drops() != 1 {
		t.Fatalf("drops = %d", w.Drops())
	}
	if w.ring().Available() != 15 {
		t.Fatalf("partial line written: %d bytes", w.ring().Available())
	}
}

func TestServiceDrainsAndMirrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(4)
	p := newPort()
	w := NewWriter(0)
	s := NewService(w, p)
	s.Start(ctx, b.NewConnection("console"), nil)

	w.Line("main").S("boot").End()
	waitFor(t, p, "[main] boot\n")

	pub := b.NewConnection("node")
	pub.Publish(pub.NewMessage(bus.T("node", "state"),
		types.NodeState{State: "joined", Joined: true, DevAddr: 0x26012E43, FCntUp: 2}, true))
	waitFor(t, p, "[node/state] state=joined joined=true devaddr=26012E43 fcnt=2\n")
}

func TestServiceReadsBytes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPort()
	got := make(chan byte, 4)
	calls := 0
	s := NewService(NewWriter(0), p)
	s.Start(ctx, nil, func(b byte) error {
		calls++
		if calls == 2 {
			return errors.New("queue full")
		}
		got <- b
		return nil
	})

	p.in <- 'a'
	p.in <- 'b'
	p.in <- 'c'
	for _, want := range []byte{'a', 'c'} {
		select {
		case b := <-got:
			if b != want {
				t.Fatalf("got %q, want %q", b, want)
			}
		case <-time.After(time.Second):
			t.Fatal("byte not delivered")
		}
	}
	if s.RxDrops() != 1 {
		t.Fatalf("rx drops = %d", s.RxDrops())
	}
}
