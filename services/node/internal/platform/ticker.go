package platform

import (
	"sync"
	"time"
)

// Ticker calls fn every period between Start and Stop. Start and Stop are
// idempotent and cheap enough to call inside a critical section.
type Ticker struct {
	period time.Duration
	fn     func()

	mu   sync.Mutex
	t    *time.Ticker
	stop chan struct{}
}

func NewTicker(period time.Duration, fn func()) *Ticker {
	if period <= 0 {
		period = time.Millisecond
	}
	return &Ticker{period: period, fn: fn}
}

func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		return
	}
	t.t = time.NewTicker(t.period)
	t.stop = make(chan struct{})
	go t.loop(t.t.C, t.stop)
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t == nil {
		return
	}
	t.t.Stop()
	close(t.stop)
	t.t = nil
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}

func (t *Ticker) loop(c <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c:
			t.fn()
		}
	}
}

// ManualTicker records Start/Stop; ticks are injected by the caller.
type ManualTicker struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (m *ManualTicker) Start() {
	m.mu.Lock()
	m.running = true
	m.starts++
	m.mu.Unlock()
}

func (m *ManualTicker) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *ManualTicker) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *ManualTicker) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
