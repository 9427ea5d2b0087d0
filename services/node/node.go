// Package node wires the end-node: the radio behind the binding table, the
// MAC sequencer, the timeout multiplexer and the task set that connects
// them to the interrupt sources.
package node

import (
	"context"
	"sync/atomic"
	"time"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/services/console"
	"loranode-go/services/node/internal/binding"
	"loranode-go/services/node/internal/chanplan"
	"loranode-go/services/node/internal/dispatch"
	"loranode-go/services/node/internal/mac"
	"loranode-go/services/node/internal/platform"
	"loranode-go/services/node/internal/sx127x"
	"loranode-go/services/node/internal/timeout"
	"loranode-go/types"
	"loranode-go/x/timex"
)

// Task priorities. Higher runs first.
const (
	prioRadioLine = 1
	prioMac       = 2
	prioTick      = 3

	ceilRadio   = prioMac
	ceilTimer   = prioTick
	ceilConsole = prioTick
)

const defaultFPort = 1

var (
	topicState = bus.T("node", "state")
)

// Fatal handles errors the node cannot run past, such as a channel-plan
// configuration error. On the device a panic ends in a watchdog reset.
var Fatal = func(err error) { panic(err) }

type Options struct {
	Config types.NodeConfig
	Board  *platform.Board

	// Ticker overrides the periodic tick source; ticks are then injected
	// with Dispatch(dispatch.Tick()).
	Ticker timeout.Ticker
	// Console receives status lines. A private writer is used when nil.
	Console *console.Writer
	// Conn, when set, receives retained node/state updates.
	Conn *bus.Connection
}

type snapshot struct {
	state    types.NodeState
	counters mac.Counters
}

type App struct {
	cfg   types.NodeConfig
	fport uint8
	d     *dispatch.Dispatcher
	table *binding.Table
	radio *dispatch.Resource[sx127x.Device]
	port  *radioPort
	mac   *mac.Node
	timer *timeout.Multiplexer
	tick  timeout.Ticker
	line  *platform.LatchedLine
	dio0  platform.IRQLine
	out   *dispatch.Resource[*console.Writer]
	cw    *console.Writer
	conn  *bus.Connection
	ser   platform.SerialPort

	pings   uint8
	started atomic.Int64
	snap    atomic.Pointer[snapshot]
}

// New brings the radio up through a freshly installed binding table and
// registers every task. Nothing runs until Start.
func New(opts Options) (*App, error) {
	if opts.Board == nil || opts.Board.DIO0 == nil {
		return nil, errcode.New(errcode.ConfigurationError, "node.new", "board without radio line")
	}
	cfg := opts.Config
	keys, err := ParseKeys(cfg.LoRaWAN)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		fport: cfg.LoRaWAN.FPort,
		dio0:  opts.Board.DIO0,
		ser:   opts.Board.Serial,
		cw:    opts.Console,
		conn:  opts.Conn,
	}
	if a.fport == 0 {
		a.fport = defaultFPort
	}
	if a.cw == nil {
		a.cw = console.NewWriter(cfg.Console.RingSize)
	}

	a.d = dispatch.New(dispatch.Config{
		Capacity:      cfg.Dispatch.QueueCapacity,
		MaxChainDepth: cfg.Dispatch.MaxChainDepth,
		OnError:       a.onTaskError,
	})
	a.out = dispatch.NewResource(a.d, "console", ceilConsole, a.cw)

	dev, err := a.openRadio(opts.Board.Radio, cfg.Radio)
	if err != nil {
		return nil, err
	}
	a.radio = dispatch.NewResource(a.d, "radio", ceilRadio, *dev)
	a.port = &radioPort{res: a.radio}

	plan := chanplan.New()
	if s := cfg.LoRaWAN.Subband; s != 0 {
		plan.SetSubband(s)
	}
	random := opts.Board.Random
	if random == nil {
		random = func() uint32 { return uint32(time.Now().UnixNano()) }
	}
	a.mac = mac.NewNode(mac.Config{Keys: keys, Plan: plan, Radio: a.port, Random: random})

	period := time.Duration(cfg.Timer.TickMs) * time.Millisecond
	if period <= 0 {
		period = time.Millisecond
	}
	a.tick = opts.Ticker
	if a.tick == nil {
		a.tick = platform.NewTicker(period, func() { _ = a.d.Dispatch(dispatch.Tick()) })
	}
	a.timer = timeout.New(a.d, ceilTimer, a.tick, period, func(c *dispatch.Ctx) error {
		return c.Dispatch(dispatch.Mac(mac.Event{Kind: mac.TimerFired}))
	})

	a.line = platform.NewLatchedLine(func() error { return a.d.Dispatch(dispatch.RadioLine()) })

	if err := a.register(); err != nil {
		a.Close()
		return nil, err
	}
	a.publish()
	return a, nil
}

// Open builds the node on the board described by cfg.
func Open(cfg types.NodeConfig, cw *console.Writer, conn *bus.Connection) (*App, error) {
	board, err := platform.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(Options{Config: cfg, Board: board, Console: cw, Conn: conn})
}

func (a *App) openRadio(res binding.Resources, rc types.RadioConfig) (*sx127x.Device, error) {
	a.table = binding.NewTable(nil)
	if _, err := a.table.Register(res); err != nil {
		return nil, err
	}
	bb, err := binding.Install(a.table)
	if err != nil {
		return nil, err
	}
	dev := sx127x.New(bb)
	rcfg := sx127x.DefaultConfig()
	if rc.TxPowerDBm != 0 {
		rcfg.LoraTxPowerDBm = rc.TxPowerDBm
	}
	if err := dev.Init(rcfg); err != nil {
		binding.Uninstall(a.table)
		return nil, err
	}
	return dev, nil
}

func (a *App) register() error {
	regs := []struct {
		src  dispatch.Source
		name string
		prio uint8
		h    dispatch.Handler
	}{
		{dispatch.RadioLineAsserted, "radio_line", prioRadioLine, a.onRadioLine},
		{dispatch.SerialByteArrived, "send_ping", prioMac, a.onSerialByte},
		{dispatch.TimerTick, "tick", prioTick, a.onTick},
		{dispatch.RadioIndication, "radio_event", prioMac, a.onRadioIndication},
		{dispatch.MacEvent, "lorawan_event", prioMac, a.onMacEvent},
		{dispatch.MacResponse, "lorawan_response", prioMac, a.onMacResponse},
	}
	for _, r := range regs {
		if err := a.d.Register(r.src, r.name, r.prio, r.h); err != nil {
			return err
		}
	}
	return a.dio0.SetIRQ(a.line.ISR)
}

// Start queues the start-up join and launches the task workers.
func (a *App) Start(ctx context.Context) error {
	if err := a.d.Dispatch(dispatch.Mac(mac.Event{Kind: mac.StartJoin})); err != nil {
		return err
	}
	a.started.Store(timex.NowMs())
	a.d.Start(ctx)
	a.log(nil, func(w *console.Writer) { w.Line("node").S("started").End() })
	return nil
}

// Wait blocks until the workers exit after ctx is cancelled.
func (a *App) Wait() { a.d.Wait() }

// Close releases the interrupt line, the tick source and the binding table.
func (a *App) Close() {
	_ = a.dio0.ClearIRQ()
	a.tick.Stop()
	binding.Uninstall(a.table)
}

// Dispatch injects an event, as the serial reader does for each byte.
func (a *App) Dispatch(ev dispatch.Event) error { return a.d.Dispatch(ev) }

// OnSerialByte is the console input callback.
func (a *App) OnSerialByte(b byte) error { return a.d.Dispatch(dispatch.ByteArrived(b)) }

func (a *App) Console() *console.Writer { return a.cw }

// Serial is the board's debug port, for the console service.
func (a *App) Serial() console.Port { return a.ser }

// State is the last published MAC state.
func (a *App) State() types.NodeState { return a.snap.Load().state }

// Stats gathers counters from every layer.
func (a *App) Stats() types.NodeStats {
	s := a.snap.Load()
	st := types.NodeStats{
		DispatchDrops:   a.d.Drops(),
		LineDrops:       a.line.Drops(),
		TransportErrors: a.table.TransportErrors(),
		TimerFires:      a.timer.Fires(),
		TimerFireDrops:  a.timer.FireDrops(),
		ConsoleDrops:    a.cw.Drops(),
		JoinAttempts:    s.counters.JoinAttempts,
		Uplinks:         s.counters.Uplinks,
		Downlinks:       s.counters.Downlinks,
		MacErrors:       s.counters.Errors,
	}
	if t0 := a.started.Load(); t0 != 0 {
		st.UptimeMs = timex.NowMs() - t0
	}
	for _, t := range a.d.AllStats() {
		st.Tasks = append(st.Tasks, types.TaskStats(t))
	}
	return st
}

// publish refreshes the snapshot and the retained node/state message. It
// runs in priority-2 context, which owns the MAC.
func (a *App) publish() {
	s := &snapshot{
		state: types.NodeState{
			State:  a.mac.State().String(),
			Joined: a.mac.Joined(),
			TsMs:   timex.NowMs(),
		},
		counters: a.mac.Counters(),
	}
	if ses := a.mac.Session(); ses != nil {
		s.state.DevAddr = ses.Addr()
		s.state.FCntUp = ses.FCntUp
	}
	prev := a.snap.Swap(s)
	if a.conn == nil {
		return
	}
	if prev == nil || prev.state.State != s.state.State || prev.state.FCntUp != s.state.FCntUp {
		a.conn.Publish(a.conn.NewMessage(topicState, s.state, true))
	}
}

func (a *App) log(c *dispatch.Ctx, fn func(w *console.Writer)) {
	a.out.Lock(c, func(w **console.Writer) { fn(*w) })
}

func (a *App) onTaskError(task string, err error) {
	if errcode.Is(err, errcode.ConfigurationError) {
		Fatal(err)
		return
	}
	a.log(nil, func(w *console.Writer) {
		w.Line("node").S(task).S(": ").S(err.Error()).End()
	})
}
