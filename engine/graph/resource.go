package graph

import "github.com/cogentcore/webgpu/wgpu"

// ResourceType identifies whether a graph resource is an image or a buffer.
type ResourceType int

const (
	// ResourceTypeImage is a 2D texture resource.
	ResourceTypeImage ResourceType = iota

	// ResourceTypeBuffer is a linear buffer resource.
	ResourceTypeBuffer
)

// Lifetime classifies who owns a graph resource's backing allocation and how
// long it lives.
type Lifetime int

const (
	// LifetimeImported marks a resource owned outside the graph (e.g. the
	// current swapchain image). Its binding is valid for a single Execute and
	// must not be referenced afterwards.
	LifetimeImported Lifetime = iota

	// LifetimeTransient marks a graph-owned resource whose backing storage may
	// be aliased with other transients once its live range ends. Contents do
	// not survive the frame.
	LifetimeTransient

	// LifetimePersistent marks a graph-owned resource allocated once and kept
	// across frames (e.g. history buffers).
	LifetimePersistent
)

// ResourceState describes how a pass accesses a resource. State changes
// between consecutive accesses produce entries in the compiled transition
// plan, which the executor surfaces before each pass runs.
type ResourceState int

const (
	// StateUndefined means the resource contents are unknown or discardable.
	StateUndefined ResourceState = iota

	// StateColorWrite is render-target color attachment output.
	StateColorWrite

	// StateDepthWrite is depth attachment output.
	StateDepthWrite

	// StateSampledRead is shader-sampled texture input.
	StateSampledRead

	// StateStorageRead is read-only storage buffer/image access.
	StateStorageRead

	// StateStorageWrite is writable storage buffer/image access.
	StateStorageWrite

	// StateCopySrc is transfer-source access.
	StateCopySrc

	// StateCopyDst is transfer-destination access.
	StateCopyDst

	// StatePresent hands an imported swapchain image back for presentation.
	StatePresent
)

// String returns the lower-case name of the resource state.
func (s ResourceState) String() string {
	switch s {
	case StateColorWrite:
		return "color-write"
	case StateDepthWrite:
		return "depth-write"
	case StateSampledRead:
		return "sampled-read"
	case StateStorageRead:
		return "storage-read"
	case StateStorageWrite:
		return "storage-write"
	case StateCopySrc:
		return "copy-src"
	case StateCopyDst:
		return "copy-dst"
	case StatePresent:
		return "present"
	default:
		return "undefined"
	}
}

// writeStates reports whether the state writes the resource (and therefore
// creates scheduling edges to later accesses of the same resource).
func (s ResourceState) writes() bool {
	switch s {
	case StateColorWrite, StateDepthWrite, StateStorageWrite, StateCopyDst:
		return true
	default:
		return false
	}
}

// ResourceDesc describes the backing allocation for a graph-owned (transient
// or persistent) resource. Descs are compared for equality when pooling
// transient backings, so two transients with identical descs can alias the
// same physical allocation.
type ResourceDesc struct {
	// Type selects image or buffer backing.
	Type ResourceType

	// Width and Height are the image dimensions in pixels (images only).
	Width, Height uint32

	// Format is the texel format (images only).
	Format wgpu.TextureFormat

	// TextureUsage is the wgpu usage for image backings.
	TextureUsage wgpu.TextureUsage

	// Size is the buffer size in bytes (buffers only).
	Size uint64

	// BufferUsage is the wgpu usage for buffer backings.
	BufferUsage wgpu.BufferUsage
}

// Backing is the physical GPU allocation bound to a graph resource during
// Execute.
type Backing struct {
	// Buffer is set for buffer resources.
	Buffer *wgpu.Buffer

	// Texture and View are set for image resources.
	Texture *wgpu.Texture
	View    *wgpu.TextureView
}

// Transition records a required resource state change at a pass boundary. The
// executor surfaces the transitions for each pass before invoking its
// callback so the device layer can insert the matching synchronization.
type Transition struct {
	// Resource is the name of the resource changing state.
	Resource string

	// From is the state the resource was left in by its previous access
	// (StateUndefined for first use of a transient).
	From ResourceState

	// To is the state the upcoming pass requires.
	To ResourceState
}

// resource is the graph's internal record for one declared resource.
type resource struct {
	name     string
	lifetime Lifetime
	desc     ResourceDesc

	// declaration bookkeeping, reset every frame
	declOrder int
	writers   []int // pass indices that write, in declaration order
	readers   []int // pass indices that read, in declaration order

	// compile results
	firstUse, lastUse int // scheduled-order indices (transients)
	physical          int // physical allocation slot assigned by aliasing (-1 = dedicated)

	// execute-time binding
	backing      Backing
	initialState ResourceState
	hasBacking   bool
}
