// Package generic holds small type-parameterized building blocks shared
// across the module.
package generic

import "sync"

// Pool is a typed wrapper around sync.Pool. The transport uses it to
// recycle message encode buffers.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPool creates a pool that makes fresh values with generate. A
// non-nil reset runs on every value handed back, so a Get never returns
// a value still carrying the previous use's state.
func NewPool[T any](generate func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

// NewHotPool pre-fills the pool so the first hotSize Gets skip
// allocation. Useful when the pool serves bursts right after startup,
// like the initial flush of every push connection.
func NewHotPool[T any](generate func() T, reset func(T), hotSize int) *Pool[T] {
	p := NewPool(generate, reset)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put recycles value after running the reset hook on it.
func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		p.reset(value)
	}
	p.pool.Put(value)
}
