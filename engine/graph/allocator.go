package graph

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/intrinsicD/IntrinsicEngine-sub005/common"
)

// AllocatorDevice is the slice of the GPU device the pooled allocator needs.
// Satisfied by device.Device.
type AllocatorDevice interface {
	// CreateBuffer creates a GPU buffer of the given size and usage.
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// CreateTexture creates a 2D GPU texture and a default view over it.
	CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error)

	// DestroyBuffer releases a buffer created by this device.
	DestroyBuffer(buf *wgpu.Buffer)

	// DestroyTexture releases a texture and its view.
	DestroyTexture(tex *wgpu.Texture, view *wgpu.TextureView)
}

// Allocator hands out physical backings for graph-owned resources. Released
// backings are pooled by desc so transient allocations are reused across
// frames instead of recreated.
type Allocator interface {
	// Acquire returns a backing matching the desc, reusing a pooled one when
	// available. Zero-valued format and usage fields fall back to common
	// defaults when a fresh allocation is made.
	//
	// Parameters:
	//   - desc: the backing allocation description
	//   - label: debug label for newly created allocations
	//
	// Returns:
	//   - Backing: the physical allocation
	//   - error: an error if GPU allocation fails
	Acquire(desc ResourceDesc, label string) (Backing, error)

	// Release returns a backing to the pool for reuse under the same desc.
	//
	// Parameters:
	//   - desc: the desc the backing was acquired with
	//   - backing: the backing to pool
	Release(desc ResourceDesc, backing Backing)

	// Trim destroys pooled backings that have not been reacquired within the
	// configured idle age, releasing their GPU handles. Without it, backings
	// pooled under a desc nobody asks for anymore (e.g. the pre-resize window
	// resolution) would stay resident forever. Call once per frame with the
	// current frame counter.
	//
	// Parameters:
	//   - currentFrame: the frame counter trim ages are measured against
	//
	// Returns:
	//   - int: the number of backings destroyed
	Trim(currentFrame uint64) int
}

// pooledBacking is one released backing plus the trim frame it went idle at.
type pooledBacking struct {
	backing Backing
	idleAt  uint64
}

// allocator is the implementation of the Allocator interface.
type allocator struct {
	mu sync.Mutex

	dev     AllocatorDevice
	pool    map[ResourceDesc][]pooledBacking
	frame   uint64
	trimAge uint64
}

var _ Allocator = &allocator{}

// NewAllocator creates a pooled Allocator backed by the given device with the
// provided options applied.
//
// Parameters:
//   - dev: the GPU device allocations are created on (must not be nil)
//   - options: functional options for allocator configuration
//
// Returns:
//   - Allocator: the newly created allocator
func NewAllocator(dev AllocatorDevice, options ...AllocatorBuilderOption) Allocator {
	if dev == nil {
		panic("graph: NewAllocator requires a non-nil AllocatorDevice")
	}

	a := &allocator{
		dev:     dev,
		pool:    make(map[ResourceDesc][]pooledBacking),
		trimAge: defaultTrimAge,
	}

	for _, option := range options {
		option(a)
	}
	return a
}

func (a *allocator) Acquire(desc ResourceDesc, label string) (Backing, error) {
	a.mu.Lock()
	if cached := a.pool[desc]; len(cached) > 0 {
		backing := cached[len(cached)-1].backing
		a.pool[desc] = cached[:len(cached)-1]
		a.mu.Unlock()
		return backing, nil
	}
	a.mu.Unlock()

	switch desc.Type {
	case ResourceTypeBuffer:
		usage := common.Coalesce(desc.BufferUsage, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
		buf, err := a.dev.CreateBuffer("graph "+label, desc.Size, usage)
		if err != nil {
			return Backing{}, err
		}
		return Backing{Buffer: buf}, nil
	case ResourceTypeImage:
		format := common.Coalesce(desc.Format, wgpu.TextureFormatRGBA8Unorm)
		usage := common.Coalesce(desc.TextureUsage, wgpu.TextureUsageRenderAttachment|wgpu.TextureUsageTextureBinding)
		tex, view, err := a.dev.CreateTexture("graph "+label, desc.Width, desc.Height, format, usage)
		if err != nil {
			return Backing{}, err
		}
		return Backing{Texture: tex, View: view}, nil
	default:
		return Backing{}, fmt.Errorf("graph: unknown resource type %d for %q", desc.Type, label)
	}
}

func (a *allocator) Release(desc ResourceDesc, backing Backing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pool[desc] = append(a.pool[desc], pooledBacking{backing: backing, idleAt: a.frame})
}

func (a *allocator) Trim(currentFrame uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frame = currentFrame
	destroyed := 0
	for desc, cached := range a.pool {
		kept := cached[:0]
		for _, p := range cached {
			if currentFrame-p.idleAt < a.trimAge {
				kept = append(kept, p)
				continue
			}
			a.dev.DestroyBuffer(p.backing.Buffer)
			a.dev.DestroyTexture(p.backing.Texture, p.backing.View)
			destroyed++
		}
		if len(kept) == 0 {
			delete(a.pool, desc)
			continue
		}
		a.pool[desc] = kept
	}
	return destroyed
}
