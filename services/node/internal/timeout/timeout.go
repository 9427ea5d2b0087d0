// Package timeout multiplexes one periodic hardware tick into a single
// outstanding millisecond-scale timeout.
//
// The TimerContext lives in a dispatch.Resource; every read and write
// happens inside its critical section. The expiry callback runs after the
// section is left.
package timeout

import (
	"sync/atomic"
	"time"

	"loranode-go/services/node/internal/dispatch"
	"loranode-go/x/mathx"
)

type State uint8

const (
	Idle State = iota
	Arming
	Counting
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Arming:
		return "arming"
	case Counting:
		return "counting"
	case Firing:
		return "firing"
	default:
		return "unknown"
	}
}

const (
	MinTicks = 1
	MaxTicks = 65535
)

// Ticker is the periodic tick source.
type Ticker interface {
	Start()
	Stop()
}

// Context is the shared timer state.
type Context struct {
	Target  uint16
	Count   uint16
	Enabled bool
	State   State
}

// FireFunc delivers the expiry, normally as MacEvent(TimerFired).
type FireFunc func(c *dispatch.Ctx) error

type Multiplexer struct {
	res    *dispatch.Resource[Context]
	ticker Ticker
	period time.Duration
	fire   FireFunc

	fires     atomic.Uint32
	fireDrops atomic.Uint32
}

// New builds a multiplexer whose context is guarded at ceiling, which must
// cover the tick task and every task that arms or disarms.
func New(d *dispatch.Dispatcher, ceiling uint8, t Ticker, period time.Duration, fire FireFunc) *Multiplexer {
	if period <= 0 {
		period = time.Millisecond
	}
	return &Multiplexer{
		res:    dispatch.NewResource(d, "timer", ceiling, Context{}),
		ticker: t,
		period: period,
		fire:   fire,
	}
}

// Arm replaces any outstanding timeout with one firing after ticks ticks,
// clamped to [MinTicks, MaxTicks].
func (m *Multiplexer) Arm(c *dispatch.Ctx, ticks int) {
	n := uint16(mathx.Clamp(ticks, MinTicks, MaxTicks))
	m.res.Lock(c, func(tc *Context) {
		*tc = Context{Target: n, Enabled: true, State: Arming}
		m.ticker.Start()
	})
}

// ArmMillis arms for at least ms milliseconds at the configured tick period.
func (m *Multiplexer) ArmMillis(c *dispatch.Ctx, ms uint32) {
	per := uint64(m.period / time.Millisecond)
	if per == 0 {
		per = 1
	}
	ticks := mathx.CeilDiv(uint64(ms), per)
	m.Arm(c, int(mathx.Min(ticks, MaxTicks)))
}

// Disarm cancels the outstanding timeout, if any.
func (m *Multiplexer) Disarm(c *dispatch.Ctx) {
	m.res.Lock(c, func(tc *Context) {
		m.ticker.Stop()
		*tc = Context{}
	})
}

// OnTick is run by the tick task. On the Nth tick after Arm the ticker is
// stopped and the expiry delivered exactly once.
func (m *Multiplexer) OnTick(c *dispatch.Ctx) error {
	var expired bool
	m.res.Lock(c, func(tc *Context) {
		if !tc.Enabled {
			m.ticker.Stop()
			*tc = Context{}
			return
		}
		if tc.State == Arming {
			tc.State = Counting
		}
		tc.Count++
		if tc.Count >= tc.Target {
			m.ticker.Stop()
			*tc = Context{State: Firing}
			expired = true
		}
	})
	if !expired {
		return nil
	}
	m.fires.Add(1)
	err := m.fire(c)
	if err != nil {
		m.fireDrops.Add(1)
	}
	m.res.Lock(c, func(tc *Context) {
		if tc.State == Firing {
			tc.State = Idle
		}
	})
	return err
}

// Snapshot copies the current context.
func (m *Multiplexer) Snapshot(c *dispatch.Ctx) Context {
	var out Context
	m.res.Lock(c, func(tc *Context) { out = *tc })
	return out
}

func (m *Multiplexer) Period() time.Duration { return m.period }
func (m *Multiplexer) Fires() uint32         { return m.fires.Load() }
func (m *Multiplexer) FireDrops() uint32     { return m.fireDrops.Load() }
