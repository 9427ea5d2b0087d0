package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tinygo.org/x/drivers"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/services/node/internal/dispatch"
	"loranode-go/services/node/internal/platform"
	"loranode-go/types"
)

const (
	testDevNonce   = 0xCC85
	testJoinAccept = "204DD85AE608B87FC4889970B7D2042C9E72959B0057AED6094B16003DF12DE145"
	// FCnt 0, FPort 1, DE AD BE EF 00, unconfirmed.
	testFirstPing = "40432E01260000000189187007A27FDBFFE0"
)

func testConfig() types.NodeConfig {
	return types.NodeConfig{
		LoRaWAN: types.LoRaWANConfig{
			DevEUI: "00AFEE7CF5ED6F1E",
			AppEUI: "70B3D57ED00000DC",
			AppKey: "B6B53F4A168A7A88BDF7EA135CE9CFCA",
			FPort:  1,
		},
		Timer: types.TimerConfig{TickMs: 1000},
	}
}

type harness struct {
	app    *App
	hb     *platform.HostBoard
	ticker *platform.ManualTicker
	conn   *bus.Connection
}

// flakySPI counts transfers and fails them while fail is set.
type flakySPI struct {
	drivers.SPI
	fail atomic.Bool
	n    atomic.Uint32
}

func (s *flakySPI) Transfer(b byte) (byte, error) {
	s.n.Add(1)
	if s.fail.Load() {
		return 0, errors.New("spi: bus fault")
	}
	return s.SPI.Transfer(b)
}

func newHarness(t *testing.T, cfg types.NodeConfig) *harness {
	t.Helper()
	h := buildHarness(t, cfg, nil)
	h.start(t)
	return h
}

// buildHarness creates the app without starting it. spi, when non-nil,
// wraps the fake radio's bus.
func buildHarness(t *testing.T, cfg types.NodeConfig, spi *flakySPI) *harness {
	t.Helper()
	hb := platform.NewHostBoard()
	board := hb.Board()
	board.Random = func() uint32 { return testDevNonce }
	if spi != nil {
		spi.SPI = board.Radio.SPI
		board.Radio.SPI = spi
	}
	b := bus.NewBus(8)
	h := &harness{hb: hb, ticker: &platform.ManualTicker{}, conn: b.NewConnection("test")}

	app, err := New(Options{Config: cfg, Board: board, Ticker: h.ticker, Conn: b.NewConnection("node")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = app
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		h.app.Wait()
		h.app.Close()
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitState(t *testing.T, state string) {
	t.Helper()
	eventually(t, "state "+state, func() bool { return h.app.State().State == state })
}

// settle waits until every queued event has been handled.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	eventually(t, "dispatcher idle", h.app.d.Idle)
}

// ticks injects n timer ticks, one at a time.
func (h *harness) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.settle(t)
		if err := h.app.Dispatch(dispatch.Tick()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	h.settle(t)
}

func (h *harness) join(t *testing.T) {
	t.Helper()
	h.settle(t)
	h.waitState(t, "join_wait_rx1")
	sent := h.hb.Radio.Sent()
	if len(sent) != 1 || len(sent[0]) != 23 {
		t.Fatalf("join request not sent: %X", sent)
	}

	h.ticks(t, 5) // JoinAcceptDelay1 at 1 s ticks
	h.waitState(t, "join_rx1")
	accept, _ := hex.DecodeString(testJoinAccept)
	eventually(t, "rx window", func() bool { return h.hb.Radio.Deliver(accept, false) })
	h.waitState(t, "joined")
}

func TestApp_JoinAndPing(t *testing.T) {
	h := newHarness(t, testConfig())
	sub := h.conn.Subscribe(bus.T("node", "state"))

	h.join(t)
	if st := h.app.State(); !st.Joined || st.DevAddr != 0x26012E43 {
		t.Fatalf("state = %+v", st)
	}

	if err := h.app.OnSerialByte('p'); err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	h.waitState(t, "data_wait_rx1")
	want, _ := hex.DecodeString(testFirstPing)
	sent := h.hb.Radio.Sent()
	if len(sent) != 2 || !bytes.Equal(sent[1], want) {
		t.Fatalf("uplink = %X, want %X", sent, want)
	}

	h.ticks(t, 1) // RX1 opens
	h.waitState(t, "data_rx1")
	h.ticks(t, 1) // and closes empty
	h.waitState(t, "joined")

	st := h.app.Stats()
	if st.Uplinks != 1 || st.JoinAttempts != 1 || st.MacErrors != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if st.TimerFires != 3 || len(st.Tasks) != 6 {
		t.Fatalf("timer fires = %d, tasks = %d", st.TimerFires, len(st.Tasks))
	}
	if h.app.State().FCntUp != 1 {
		t.Fatalf("fcnt = %d", h.app.State().FCntUp)
	}

	// Retained state ends up joined.
	var last types.NodeState
	for len(sub.Channel()) > 0 {
		last = (<-sub.Channel()).Payload.(types.NodeState)
	}
	if !last.Joined {
		t.Fatalf("last published state = %+v", last)
	}
}

func TestApp_NoJoinAcceptBacksOff(t *testing.T) {
	h := newHarness(t, testConfig())
	h.settle(t)
	h.waitState(t, "join_wait_rx1")
	h.ticks(t, 5)
	h.waitState(t, "join_rx1")
	h.ticks(t, 1) // RX1 closes empty
	h.waitState(t, "join_backoff")
	h.ticks(t, 2) // 2 s backoff
	if n := len(h.hb.Radio.Sent()); n != 2 {
		t.Fatalf("sent %d frames, want 2", n)
	}
	if n := h.app.Stats().JoinAttempts; n != 2 {
		t.Fatalf("join attempts = %d", n)
	}
}

func TestApp_LostTxDoneRetriesJoin(t *testing.T) {
	spi := &flakySPI{}
	h := buildHarness(t, testConfig(), spi)
	spi.fail.Store(true)
	h.start(t)

	h.settle(t)
	h.waitState(t, "join_tx")
	if n := len(h.hb.Radio.Sent()); n != 0 {
		t.Fatalf("sent %d frames through a failed bus", n)
	}
	if h.app.Stats().TransportErrors == 0 {
		t.Fatal("no transport errors counted")
	}

	h.ticks(t, 3)
	if st := h.app.State().State; st != "join_tx" {
		t.Fatalf("state = %s before the tx guard", st)
	}
	h.ticks(t, 1) // 4 s tx guard
	h.waitState(t, "join_backoff")

	spi.fail.Store(false)
	h.ticks(t, 2) // 2 s backoff
	h.waitState(t, "join_wait_rx1")
	if n := len(h.hb.Radio.Sent()); n != 1 {
		t.Fatalf("sent %d frames, want 1", n)
	}
	if n := h.app.Stats().JoinAttempts; n != 2 {
		t.Fatalf("join attempts = %d", n)
	}
}

func TestApp_SpuriousRadioLineIsIgnored(t *testing.T) {
	spi := &flakySPI{}
	h := buildHarness(t, testConfig(), spi)
	h.start(t)
	h.settle(t)
	h.waitState(t, "join_wait_rx1")

	line, _ := h.app.d.Stats(dispatch.RadioLineAsserted)
	ind, _ := h.app.d.Stats(dispatch.RadioIndication)
	transfers := spi.n.Load()
	before := h.app.Stats()
	state := h.app.State().State

	if err := h.app.Dispatch(dispatch.RadioLine()); err != nil {
		t.Fatal(err)
	}
	h.settle(t)

	if got, _ := h.app.d.Stats(dispatch.RadioLineAsserted); got.Runs != line.Runs+1 {
		t.Fatalf("radio_line runs = %d, want %d", got.Runs, line.Runs+1)
	}
	if got, _ := h.app.d.Stats(dispatch.RadioIndication); got.Runs != ind.Runs {
		t.Fatalf("radio_event ran on a clear latch")
	}
	if n := spi.n.Load(); n != transfers {
		t.Fatalf("%d spi transfers on a clear latch", n-transfers)
	}
	after := h.app.Stats()
	if after.Uplinks != before.Uplinks || after.JoinAttempts != before.JoinAttempts ||
		after.MacErrors != before.MacErrors || after.TransportErrors != before.TransportErrors {
		t.Fatalf("stats changed: %+v -> %+v", before, after)
	}
	if st := h.app.State().State; st != state {
		t.Fatalf("state = %s, want %s", st, state)
	}

	// A real edge is still handled.
	h.ticks(t, 5)
	h.waitState(t, "join_rx1")
	accept, _ := hex.DecodeString(testJoinAccept)
	eventually(t, "rx window", func() bool { return h.hb.Radio.Deliver(accept, false) })
	h.waitState(t, "joined")
	if got, _ := h.app.d.Stats(dispatch.RadioIndication); got.Runs <= ind.Runs {
		t.Fatal("radio edge not handled")
	}
}

func TestApp_PlanConfigurationErrorIsFatal(t *testing.T) {
	fatal := make(chan error, 1)
	prev := Fatal
	Fatal = func(err error) { fatal <- err }
	t.Cleanup(func() { Fatal = prev })

	cfg := testConfig()
	cfg.LoRaWAN.Subband = 7 // past the end of the uplink table
	h := newHarness(t, cfg)
	h.join(t)

	if err := h.app.OnSerialByte('p'); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-fatal:
		if !errcode.Is(err, errcode.ConfigurationError) {
			t.Fatalf("fatal err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error")
	}
}

func TestNew_Rejects(t *testing.T) {
	cfg := testConfig()
	cfg.LoRaWAN.AppKey = "00"
	if _, err := New(Options{Config: cfg, Board: platform.NewHostBoard().Board()}); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("short key: err = %v", err)
	}
	if _, err := New(Options{Config: testConfig()}); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("no board: err = %v", err)
	}

	a, err := New(Options{Config: testConfig(), Board: platform.NewHostBoard().Board(), Ticker: &platform.ManualTicker{}})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := New(Options{Config: testConfig(), Board: platform.NewHostBoard().Board(), Ticker: &platform.ManualTicker{}}); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("second table installed: err = %v", err)
	}
}

func TestParseKeys(t *testing.T) {
	k, err := ParseKeys(testConfig().LoRaWAN)
	if err != nil {
		t.Fatal(err)
	}
	if k.AppEUI[0] != 0x70 || k.DevEUI[7] != 0x1E || k.AppKey[15] != 0xCA {
		t.Fatalf("keys = %+v", k)
	}
	bad := testConfig().LoRaWAN
	bad.DevEUI = "zz" + bad.DevEUI[2:]
	if _, err := ParseKeys(bad); !errcode.Is(err, errcode.ConfigurationError) {
		t.Fatalf("err = %v", err)
	}
}
