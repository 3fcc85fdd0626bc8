package pool

import "sync"

// Handle identifies a value stored in a Pool by slot index and generation.
// A Handle remains valid until the value is removed and the deferred-deletion
// sweep has reclaimed its slot; after that the generation no longer matches and
// every lookup fails rather than aliasing whatever value reuses the slot.
// The zero Handle is never valid (slot generations start at 1).
type Handle struct {
	// Index is the slot index within the pool's backing array.
	Index uint32
	// Generation is the slot generation the handle was issued against.
	Generation uint32
}

// slot is a single storage cell in the pool's backing array.
type slot[T any] struct {
	value      T
	generation uint32
	live       bool

	pendingFree  bool
	reclaimFrame uint64 // earliest frame at which the value may be destroyed
}

// pool is the implementation of the Pool interface.
type pool[T any] struct {
	mu sync.RWMutex

	slots    []slot[T]
	freeList []uint32
	liveLen  int

	framesInFlight uint64
	maxCapacity    int
	destructor     func(T)
}

// Pool is generation-stamped slotted storage with deferred, frame-safe deletion.
// Values removed with Remove are kept alive for the configured frames-in-flight
// window so GPU work recorded in earlier frames can still reference them; the
// per-frame ProcessDeletions sweep destroys values whose window has passed.
// Thread-safe for concurrent access, though ProcessDeletions is expected to run
// once per frame from the owning thread.
type Pool[T any] interface {
	// Create stores a value and returns a Handle for it. Reuses a previously
	// freed slot when one is available, otherwise grows the backing array.
	// Panics if growth would exceed the configured maximum capacity — running
	// out of pooled GPU objects is a programming error, not a runtime condition.
	//
	// Parameters:
	//   - value: the value to store
	//
	// Returns:
	//   - Handle: the handle identifying the stored value
	Create(value T) Handle

	// Get retrieves the value for a handle. Fails when the handle's index is
	// out of range, the slot is not live, or the generation does not match
	// (i.e. the handle is stale).
	//
	// Parameters:
	//   - handle: the handle to look up
	//
	// Returns:
	//   - T: the stored value (zero value on failure)
	//   - bool: true if the handle is valid
	Get(handle Handle) (T, bool)

	// Modify applies fn to the stored value in place while holding the pool
	// lock. Fails (and does not invoke fn) on a stale handle.
	//
	// Parameters:
	//   - handle: the handle to look up
	//   - fn: mutation applied to the stored value
	//
	// Returns:
	//   - bool: true if the handle was valid and fn was invoked
	Modify(handle Handle, fn func(*T)) bool

	// Remove marks the value for deferred destruction. The slot is reclaimed
	// by ProcessDeletions once currentFrame + the frames-in-flight window has
	// passed. A stale or already-removed handle is a silent no-op, making
	// Remove idempotent.
	//
	// Parameters:
	//   - handle: the handle to remove
	//   - currentFrame: the frame counter at the time of removal
	Remove(handle Handle, currentFrame uint64)

	// ProcessDeletions destroys every pending value whose reclaim frame has
	// passed, invoking the configured destructor, incrementing the slot
	// generation, and returning the slot to the free list. Must be called at a
	// fixed point once per frame.
	//
	// Parameters:
	//   - currentFrame: the current frame counter
	//
	// Returns:
	//   - int: the number of values destroyed this sweep
	ProcessDeletions(currentFrame uint64) int

	// Len returns the number of live values in the pool. Values pending
	// deferred destruction still count as live until reclaimed.
	Len() int

	// Cap returns the current capacity of the pool's backing array.
	Cap() int
}

var _ Pool[int] = &pool[int]{}

// NewPool creates a new Pool with the provided options applied.
//
// Parameters:
//   - options: functional options for pool configuration (capacity, frames in flight, destructor)
//
// Returns:
//   - Pool[T]: the newly created pool
func NewPool[T any](options ...PoolBuilderOption[T]) Pool[T] {
	p := &pool[T]{
		framesInFlight: 2,
	}

	for _, option := range options {
		option(p)
	}
	return p
}

func (p *pool[T]) Create(value T) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx uint32
	if n := len(p.freeList); n > 0 {
		idx = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
	} else {
		if p.maxCapacity > 0 && len(p.slots) >= p.maxCapacity {
			panic("pool: capacity exceeded; raise WithMaxCapacity or remove stale entries")
		}
		p.slots = append(p.slots, slot[T]{generation: 1})
		idx = uint32(len(p.slots) - 1)
	}

	s := &p.slots[idx]
	s.value = value
	s.live = true
	s.pendingFree = false
	p.liveLen++

	return Handle{Index: idx, Generation: s.generation}
}

func (p *pool[T]) Get(handle Handle) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var zero T
	s, ok := p.lookup(handle)
	if !ok {
		return zero, false
	}
	return s.value, true
}

func (p *pool[T]) Modify(handle Handle, fn func(*T)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.lookup(handle)
	if !ok {
		return false
	}
	fn(&s.value)
	return true
}

func (p *pool[T]) Remove(handle Handle, currentFrame uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.lookup(handle)
	if !ok || s.pendingFree {
		return
	}
	s.pendingFree = true
	s.reclaimFrame = currentFrame + p.framesInFlight
}

func (p *pool[T]) ProcessDeletions(currentFrame uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	destroyed := 0
	for i := range p.slots {
		s := &p.slots[i]
		if !s.live || !s.pendingFree || s.reclaimFrame > currentFrame {
			continue
		}

		if p.destructor != nil {
			p.destructor(s.value)
		}

		var zero T
		s.value = zero
		s.live = false
		s.pendingFree = false
		s.generation++
		p.freeList = append(p.freeList, uint32(i))
		p.liveLen--
		destroyed++
	}
	return destroyed
}

func (p *pool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.liveLen
}

func (p *pool[T]) Cap() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// lookup resolves a handle to its slot, validating index and generation.
// Caller must hold p.mu.
func (p *pool[T]) lookup(handle Handle) (*slot[T], bool) {
	if int(handle.Index) >= len(p.slots) {
		return nil, false
	}
	s := &p.slots[handle.Index]
	if !s.live || s.generation != handle.Generation {
		return nil, false
	}
	return s, true
}
