package dispatch

import (
	"strconv"
	"sync"
)

// Resource guards a value shared between tasks. Locking raises the system
// ceiling to the resource ceiling for the duration of the critical section,
// so no task that could contend for it is started meanwhile.
type Resource[T any] struct {
	d       *Dispatcher
	name    string
	ceiling uint8

	mu sync.Mutex
	v  T
}

// NewResource declares a resource. The ceiling must be the highest priority
// of any task that locks it.
func NewResource[T any](d *Dispatcher, name string, ceiling uint8, v T) *Resource[T] {
	if ceiling < 1 || ceiling > MaxPriority {
		panic("dispatch: resource " + name + ": ceiling " + strconv.Itoa(int(ceiling)) + " out of range")
	}
	return &Resource[T]{d: d, name: name, ceiling: ceiling, v: v}
}

func (r *Resource[T]) Name() string   { return r.name }
func (r *Resource[T]) Ceiling() uint8 { return r.ceiling }

// Lock runs fn with exclusive access to the value. A nil c is the init
// context. Locking from a task above the ceiling panics.
func (r *Resource[T]) Lock(c *Ctx, fn func(v *T)) {
	if c != nil && c.Priority > r.ceiling {
		panic("dispatch: task " + c.Task + " (prio " + strconv.Itoa(int(c.Priority)) +
			") above ceiling of " + r.name)
	}
	r.d.raise(r.ceiling)
	defer r.d.lower(r.ceiling)
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.v)
}
