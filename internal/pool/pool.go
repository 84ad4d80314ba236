// Package pool implements a bounded, reusable pool of expensive objects
// (spec.md §4.2), the Go generic translation of the original's
// object_pool_t<Object> template: acquire returns an idle pooled object or
// creates one via a generator factory while under capacity, release marks
// an object idle again, and the whole pool is guarded by one mutex.
package pool

import (
	"sync"

	"github.com/zeebo/errs"
)

// Error is the error class for the pool package.
var Error = errs.Class("pool")

// ErrNotInPool is returned by Release when given an object the pool did
// not hand out, mirroring the original's release() runtime_error.
var ErrNotInPool = Error.New("object is not in the pool")

// DefaultCapacity is the pool size used when none is specified, matching
// object_pool_t::DEFAULT_POOL_SIZE.
const DefaultCapacity = 16

// Pool is a bounded cache of reusable objects of type T.
//
// Acquire returns an idle pooled object, creating a fresh one via gen while
// under capacity; once capacity is exhausted with no idle object available
// it returns the zero value and ok=false rather than blocking, the same
// backpressure signal the original gives callers (an empty pobject_t).
type Pool[T comparable] struct {
	gen      func() (T, error)
	capacity int
	mu       sync.Mutex
	busy     map[T]bool
	order    []T // insertion order, so Acquire scans deterministically
}

// New builds a Pool bounded to capacity objects, each produced by gen on
// first use. capacity <= 0 uses DefaultCapacity.
func New[T comparable](gen func() (T, error), capacity int) *Pool[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool[T]{
		gen:      gen,
		capacity: capacity,
		busy:     make(map[T]bool),
	}
}

// Acquire returns an idle object, marking it busy, or creates a new one
// under capacity. ok is false iff the pool is at capacity with every
// member already busy.
func (p *Pool[T]) Acquire() (obj T, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, candidate := range p.order {
		if !p.busy[candidate] {
			p.busy[candidate] = true
			return candidate, true, nil
		}
	}

	if len(p.order) < p.capacity {
		created, err := p.gen()
		if err != nil {
			var zero T
			return zero, false, err
		}
		p.order = append(p.order, created)
		p.busy[created] = true
		return created, true, nil
	}

	var zero T
	return zero, false, nil
}

// Release marks obj idle again, available for a future Acquire.
func (p *Pool[T]) Release(obj T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, member := p.busy[obj]; !member {
		return ErrNotInPool
	}
	p.busy[obj] = false
	return nil
}
