package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"loranode-go/errcode"
	"loranode-go/x/mathx"
)

const (
	MaxPriority = 4

	DefaultCapacity      = 4
	DefaultMaxChainDepth = 8
)

// Handler runs one event. A returned error is reported to Config.OnError.
type Handler func(c *Ctx, ev Event) error

type Config struct {
	Capacity      int   // per-task queue bound
	MaxChainDepth uint8 // follow-up dispatch limit
	OnError       func(task string, err error)
}

type task struct {
	name    string
	prio    uint8
	handler Handler

	pending atomic.Int32
	runs    atomic.Uint32
	drops   atomic.Uint32
}

type job struct {
	t  *task
	ev Event
}

type level struct {
	q       chan job
	backlog atomic.Int32 // queued, not yet started
	used    bool
}

type Dispatcher struct {
	capacity int32
	maxDepth uint8
	onErr    func(task string, err error)

	tasks  [numSources]*task
	levels [MaxPriority + 1]level

	mu      sync.Mutex
	cond    *sync.Cond
	held    [MaxPriority + 1]int // running tasks and held resources per ceiling
	stopped bool

	started atomic.Bool
	drops   atomic.Uint32
	wg      sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxChainDepth == 0 {
		cfg.MaxChainDepth = DefaultMaxChainDepth
	}
	d := &Dispatcher{
		capacity: int32(cfg.Capacity),
		maxDepth: cfg.MaxChainDepth,
		onErr:    cfg.OnError,
	}
	d.cond = sync.NewCond(&d.mu)
	// Every source could sit at one level with a full queue.
	for p := range d.levels {
		d.levels[p].q = make(chan job, cfg.Capacity*int(numSources))
	}
	return d
}

// Register binds a source to a named task. Each source binds once, before
// Start.
func (d *Dispatcher) Register(src Source, name string, prio uint8, h Handler) error {
	const op = "dispatch.register"
	switch {
	case d.started.Load():
		return errcode.New(errcode.ConfigurationError, op, "already started")
	case src >= numSources:
		return errcode.New(errcode.ConfigurationError, op, "unknown source")
	case prio < 1 || prio > MaxPriority:
		return errcode.New(errcode.ConfigurationError, op, name+": priority out of range")
	case h == nil:
		return errcode.New(errcode.ConfigurationError, op, name+": nil handler")
	case d.tasks[src] != nil:
		return errcode.New(errcode.ConfigurationError, op, src.String()+" already bound to "+d.tasks[src].name)
	}
	d.tasks[src] = &task{name: name, prio: prio, handler: h}
	d.levels[prio].used = true
	return nil
}

// Dispatch enqueues ev for its task without blocking. It is safe to call
// from interrupt context. When the task queue is full the event is dropped
// and counted.
func (d *Dispatcher) Dispatch(ev Event) error {
	if ev.Source >= numSources || d.tasks[ev.Source] == nil {
		d.drops.Add(1)
		return errcode.ConfigurationError
	}
	t := d.tasks[ev.Source]
	for {
		n := t.pending.Load()
		if n >= d.capacity {
			t.drops.Add(1)
			d.drops.Add(1)
			return errcode.QueueFull
		}
		if t.pending.CompareAndSwap(n, n+1) {
			break
		}
	}
	lv := &d.levels[t.prio]
	lv.backlog.Add(1)
	select {
	case lv.q <- job{t: t, ev: ev}:
		return nil
	default:
		lv.backlog.Add(-1)
		t.pending.Add(-1)
		t.drops.Add(1)
		d.drops.Add(1)
		return errcode.QueueFull
	}
}

// Start launches one worker per used priority level. Workers exit when ctx
// is cancelled; queued events are abandoned.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for p := 1; p <= MaxPriority; p++ {
		if !d.levels[p].used {
			continue
		}
		d.wg.Add(1)
		go d.worker(ctx, uint8(p))
	}
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.stopped = true
		d.cond.Broadcast()
		d.mu.Unlock()
	}()
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) worker(ctx context.Context, prio uint8) {
	defer d.wg.Done()
	lv := &d.levels[prio]
	for {
		var j job
		select {
		case <-ctx.Done():
			return
		case j = <-lv.q:
		}
		if !d.admit(prio) {
			return
		}
		lv.backlog.Add(-1)
		j.t.pending.Add(-1)
		d.run(prio, j)
	}
}

// admit waits until prio may start and marks it running.
func (d *Dispatcher) admit(prio uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.stopped && !d.startable(prio) {
		d.cond.Wait()
	}
	if d.stopped {
		return false
	}
	d.held[prio]++
	return true
}

func (d *Dispatcher) startable(prio uint8) bool {
	if d.ceilingLocked() >= prio {
		return false
	}
	for p := prio + 1; p <= MaxPriority; p++ {
		if d.levels[p].backlog.Load() > 0 {
			return false
		}
	}
	return true
}

func (d *Dispatcher) ceilingLocked() uint8 {
	for p := MaxPriority; p > 0; p-- {
		if d.held[p] > 0 {
			return uint8(p)
		}
	}
	return 0
}

// Ceiling is the current system ceiling, 0 when idle.
func (d *Dispatcher) Ceiling() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ceilingLocked()
}

func (d *Dispatcher) raise(c uint8) {
	d.mu.Lock()
	d.held[c]++
	d.mu.Unlock()
}

func (d *Dispatcher) lower(c uint8) {
	d.mu.Lock()
	d.held[c]--
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *Dispatcher) run(prio uint8, j job) {
	defer d.lower(prio)
	c := &Ctx{Priority: prio, Task: j.t.name, d: d, depth: j.ev.depth}
	j.t.runs.Add(1)
	if err := j.t.handler(c, j.ev); err != nil && d.onErr != nil {
		d.onErr(j.t.name, err)
	}
}

// Idle reports that no job is queued or running and no resource is held.
func (d *Dispatcher) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ceilingLocked() != 0 {
		return false
	}
	for p := range d.levels {
		if d.levels[p].backlog.Load() > 0 {
			return false
		}
	}
	return true
}

// Drops is the total number of events dropped.
func (d *Dispatcher) Drops() uint32 { return d.drops.Load() }

type TaskStats struct {
	Name     string
	Priority uint8
	Runs     uint32
	Drops    uint32
	Pending  int32
}

// Stats reports the counters of the task bound to src.
func (d *Dispatcher) Stats(src Source) (TaskStats, bool) {
	if src >= numSources || d.tasks[src] == nil {
		return TaskStats{}, false
	}
	t := d.tasks[src]
	return TaskStats{
		Name:     t.name,
		Priority: t.prio,
		Runs:     t.runs.Load(),
		Drops:    t.drops.Load(),
		Pending:  mathx.Max(t.pending.Load(), 0),
	}, true
}

// AllStats reports every bound task in source order.
func (d *Dispatcher) AllStats() []TaskStats {
	out := make([]TaskStats, 0, numSources)
	for s := Source(0); s < numSources; s++ {
		if st, ok := d.Stats(s); ok {
			out = append(out, st)
		}
	}
	return out
}

// Ctx is handed to a running handler.
type Ctx struct {
	Priority uint8
	Task     string

	d     *Dispatcher
	depth uint8
}

// Dispatch enqueues a follow-up event one level deeper in the chain.
func (c *Ctx) Dispatch(ev Event) error {
	if c.depth >= c.d.maxDepth {
		c.d.drops.Add(1)
		return errcode.ChainTooDeep
	}
	ev.depth = c.depth + 1
	return c.d.Dispatch(ev)
}

// Depth is the chain depth of the event being handled.
func (c *Ctx) Depth() uint8 { return c.depth }
