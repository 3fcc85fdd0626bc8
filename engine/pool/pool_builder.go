package pool

// PoolBuilderOption is a functional option for configuring a Pool.
// Use the With* functions to create options.
type PoolBuilderOption[T any] func(p *pool[T])

// WithFramesInFlight sets how many frames a removed value is kept alive before
// the deletion sweep may reclaim its slot. This must cover the deepest GPU
// pipelining the renderer uses — a value removed in frame F is destroyed no
// earlier than frame F+n. Defaults to 2.
//
// Parameters:
//   - n: the frames-in-flight window (minimum 1)
//
// Returns:
//   - PoolBuilderOption[T]: option function to apply
func WithFramesInFlight[T any](n uint64) PoolBuilderOption[T] {
	return func(p *pool[T]) {
		if n < 1 {
			n = 1
		}
		p.framesInFlight = n
	}
}

// WithCapacity pre-sizes the pool's backing array and free list so the first
// n Creates do not reallocate. The slots are created empty and handed out in
// ascending index order.
//
// Parameters:
//   - n: the number of slots to pre-allocate
//
// Returns:
//   - PoolBuilderOption[T]: option function to apply
func WithCapacity[T any](n int) PoolBuilderOption[T] {
	return func(p *pool[T]) {
		if n <= 0 {
			return
		}
		p.slots = make([]slot[T], n)
		p.freeList = make([]uint32, 0, n)
		for i := n - 1; i >= 0; i-- {
			p.slots[i].generation = 1
			p.freeList = append(p.freeList, uint32(i))
		}
	}
}

// WithMaxCapacity sets a hard upper bound on pool growth. Create panics once
// the bound is reached — exhausting a bounded GPU resource pool is treated as
// a programming error rather than a recoverable condition. 0 (the default)
// means unbounded growth.
//
// Parameters:
//   - n: the maximum number of slots
//
// Returns:
//   - PoolBuilderOption[T]: option function to apply
func WithMaxCapacity[T any](n int) PoolBuilderOption[T] {
	return func(p *pool[T]) {
		p.maxCapacity = n
	}
}

// WithDestructor registers a function invoked on each value when the deletion
// sweep physically destroys it. Use this to release GPU objects (buffers,
// textures, views) owned by pooled values.
//
// Parameters:
//   - fn: the destructor invoked per destroyed value
//
// Returns:
//   - PoolBuilderOption[T]: option function to apply
func WithDestructor[T any](fn func(T)) PoolBuilderOption[T] {
	return func(p *pool[T]) {
		p.destructor = fn
	}
}
