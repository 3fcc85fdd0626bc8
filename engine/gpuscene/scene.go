package gpuscene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/intrinsicD/IntrinsicEngine-sub005/common"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/device"
)

// SlotIndex identifies one entry in the device-resident instance array.
type SlotIndex uint32

// InvalidSlot is returned by AllocateSlot when the scene is at capacity.
const InvalidSlot SlotIndex = 0xffffffff

const gpuInstanceSize = 96

// Instance is the host-side description of one renderable instance. It is
// converted to the device layout when flushed.
type Instance struct {
	// Transform is the model-to-world matrix.
	Transform mgl32.Mat4

	// Geometry and Material index into the renderer's geometry and material tables.
	Geometry uint32
	Material uint32

	// Entity is the owning entity id.
	Entity uint32

	// BoundingSphere is the world-space center (xyz) and radius (w). A radius
	// <= 0 deactivates the slot for all downstream GPU consumers.
	BoundingSphere mgl32.Vec4
}

// SceneDevice is the slice of the GPU device the scene needs. Satisfied by
// device.Device.
type SceneDevice interface {
	// CreateBuffer creates a GPU buffer of the given size and usage.
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// WriteBuffers stages all writes onto the GPU queue in one batch.
	WriteBuffers(writes []device.BufferWrite)
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu sync.Mutex

	dev      SceneDevice
	label    string
	capacity uint32

	instanceBuffer *wgpu.Buffer
	activeBuffer   *wgpu.Buffer

	// Buffers superseded by Resize or Shutdown, awaiting collection through
	// TakeRetired. The scene never releases them itself: in-flight frames may
	// still read them, so the owner defers the release past that window.
	retired []*wgpu.Buffer

	// Host mirror of the device array, used to rebuild the dense active list
	// and to re-upload everything on resize.
	instances []GPUInstance
	allocated []bool
	freelist  []SlotIndex

	// Queued updates, coalesced per slot: the last QueueUpdate before a Flush
	// wins.
	pending map[SlotIndex]Instance

	activeCount int
}

// Scene is a persistent device-resident array of per-instance render data,
// updated incrementally each frame rather than rebuilt. Slots are allocated
// from a fixed-capacity freelist; queued updates coalesce last-write-wins and
// are applied in one batched transfer by Flush, which also remaps the sparse
// slot space into a dense active-index list for GPU-driven culling.
type Scene interface {
	// AllocateSlot pops a free slot from the freelist.
	//
	// Returns:
	//   - SlotIndex: the allocated slot, or InvalidSlot when capacity is
	//     exhausted (the caller retries next frame or triggers Resize)
	AllocateSlot() SlotIndex

	// QueueUpdate buffers an instance write for the slot. The device array is
	// not touched until Flush; multiple updates to the same slot within one
	// frame coalesce to the latest value. Panics on an out-of-range slot.
	//
	// Parameters:
	//   - slot: the destination slot
	//   - inst: the instance data to apply at the next Flush
	QueueUpdate(slot SlotIndex, inst Instance)

	// FreeSlot returns the slot to the freelist. Callers must queue a
	// deactivating update (zero-radius bounding sphere) first so GPU work
	// still reading the slot this frame observes an inactive instance rather
	// than data from the next allocation. Freeing an unallocated slot is a
	// no-op.
	//
	// Parameters:
	//   - slot: the slot to free
	FreeSlot(slot SlotIndex)

	// Flush applies all queued updates to the device array in one batched
	// transfer and rebuilds the dense active-index list. Called once per
	// frame, before graph execution, so every queued update is visible to the
	// frame's passes.
	//
	// Returns:
	//   - error: an error if the batched upload cannot be staged
	Flush() error

	// Resize grows the scene to a new capacity, re-uploading all live
	// instances into freshly allocated device buffers. Existing slot indices
	// remain valid. Shrinking is not supported.
	//
	// Parameters:
	//   - newCapacity: the new slot capacity (must exceed the current one)
	//
	// Returns:
	//   - error: an error if the new capacity is not larger or allocation fails
	Resize(newCapacity uint32) error

	// Capacity returns the total slot capacity.
	Capacity() uint32

	// AllocatedCount returns the number of currently allocated slots.
	AllocatedCount() int

	// ActiveCount returns the number of active instances in the dense index
	// list as of the last Flush.
	ActiveCount() int

	// InstanceBuffer returns the device buffer holding the instance array,
	// for import into the render graph.
	InstanceBuffer() *wgpu.Buffer

	// ActiveIndexBuffer returns the device buffer holding the dense active
	// list: a uint32 count at offset 0 followed by the active slot indices.
	ActiveIndexBuffer() *wgpu.Buffer

	// TakeRetired drains the buffers superseded by Resize or Shutdown, in
	// retirement order. The caller owns releasing them once no in-flight
	// frame can still reference them.
	//
	// Returns:
	//   - []*wgpu.Buffer: the superseded buffers, oldest first
	TakeRetired() []*wgpu.Buffer

	// Shutdown retires the live device buffers. The scene must not be
	// flushed or resized afterwards; collect the buffers with TakeRetired.
	Shutdown()
}

var _ Scene = &scene{}

// NewScene creates a Scene with device buffers sized for the configured
// capacity and the provided options applied.
//
// Parameters:
//   - dev: the GPU device buffers are created on and writes staged to (must not be nil)
//   - options: functional options for scene configuration
//
// Returns:
//   - Scene: the newly created scene
//   - error: an error if device buffer allocation fails
func NewScene(dev SceneDevice, options ...SceneBuilderOption) (Scene, error) {
	if dev == nil {
		panic("gpuscene: NewScene requires a non-nil SceneDevice")
	}

	s := &scene{
		dev:      dev,
		label:    "gpu-scene",
		capacity: 1024,
		pending:  make(map[SlotIndex]Instance),
	}

	for _, option := range options {
		option(s)
	}

	instanceBuffer, activeBuffer, err := s.createBuffers(s.capacity)
	if err != nil {
		return nil, err
	}
	s.instanceBuffer = instanceBuffer
	s.activeBuffer = activeBuffer

	s.instances = make([]GPUInstance, s.capacity)
	s.allocated = make([]bool, s.capacity)
	s.freelist = make([]SlotIndex, 0, s.capacity)
	for i := int(s.capacity) - 1; i >= 0; i-- {
		s.freelist = append(s.freelist, SlotIndex(i))
	}
	return s, nil
}

func (s *scene) AllocateSlot() SlotIndex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.freelist) == 0 {
		return InvalidSlot
	}
	slot := s.freelist[len(s.freelist)-1]
	s.freelist = s.freelist[:len(s.freelist)-1]
	s.allocated[slot] = true
	return slot
}

func (s *scene) QueueUpdate(slot SlotIndex, inst Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(slot) >= s.capacity {
		panic(fmt.Sprintf("gpuscene: QueueUpdate slot %d out of range (capacity %d)", slot, s.capacity))
	}
	s.pending[slot] = inst
}

func (s *scene) FreeSlot(slot SlotIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(slot) >= s.capacity || !s.allocated[slot] {
		return
	}
	s.allocated[slot] = false
	s.freelist = append(s.freelist, slot)
}

func (s *scene) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	slots := make([]SlotIndex, 0, len(s.pending))
	for slot := range s.pending {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	writes := make([]device.BufferWrite, 0, len(slots)+1)
	for _, slot := range slots {
		gpu := toGPU(s.pending[slot])
		s.instances[slot] = gpu
		writes = append(writes, device.BufferWrite{
			Buffer: s.instanceBuffer,
			Offset: uint64(slot) * gpuInstanceSize,
			Data:   gpu.Marshal(),
		})
	}
	s.pending = make(map[SlotIndex]Instance)

	writes = append(writes, device.BufferWrite{
		Buffer: s.activeBuffer,
		Data:   s.buildActiveList(),
	})

	s.dev.WriteBuffers(writes)
	return nil
}

func (s *scene) Resize(newCapacity uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newCapacity <= s.capacity {
		return fmt.Errorf("gpuscene: resize to %d rejected, capacity is already %d", newCapacity, s.capacity)
	}

	instanceBuffer, activeBuffer, err := s.createBuffers(newCapacity)
	if err != nil {
		return fmt.Errorf("gpuscene: resize to %d failed: %w", newCapacity, err)
	}

	for i := int(newCapacity) - 1; i >= int(s.capacity); i-- {
		s.freelist = append(s.freelist, SlotIndex(i))
	}
	s.instances = append(s.instances, make([]GPUInstance, newCapacity-s.capacity)...)
	s.allocated = append(s.allocated, make([]bool, newCapacity-s.capacity)...)
	s.capacity = newCapacity
	s.retired = append(s.retired, s.instanceBuffer, s.activeBuffer)
	s.instanceBuffer = instanceBuffer
	s.activeBuffer = activeBuffer

	// Re-upload the full mirror into the fresh buffers.
	data := make([]byte, 0, int(newCapacity)*gpuInstanceSize)
	for i := range s.instances {
		data = append(data, s.instances[i].Marshal()...)
	}
	s.dev.WriteBuffers([]device.BufferWrite{
		{Buffer: s.instanceBuffer, Data: data},
		{Buffer: s.activeBuffer, Data: s.buildActiveList()},
	})
	return nil
}

func (s *scene) Capacity() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *scene) AllocatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.allocated {
		if a {
			count++
		}
	}
	return count
}

func (s *scene) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

func (s *scene) InstanceBuffer() *wgpu.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceBuffer
}

func (s *scene) ActiveIndexBuffer() *wgpu.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeBuffer
}

func (s *scene) TakeRetired() []*wgpu.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	retired := s.retired
	s.retired = nil
	return retired
}

func (s *scene) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instanceBuffer != nil {
		s.retired = append(s.retired, s.instanceBuffer)
		s.instanceBuffer = nil
	}
	if s.activeBuffer != nil {
		s.retired = append(s.retired, s.activeBuffer)
		s.activeBuffer = nil
	}
}

// createBuffers allocates the instance array and active-index buffers for the
// given capacity.
func (s *scene) createBuffers(capacity uint32) (*wgpu.Buffer, *wgpu.Buffer, error) {
	instanceBuffer, err := s.dev.CreateBuffer(
		s.label+" instances",
		uint64(capacity)*gpuInstanceSize,
		wgpu.BufferUsageStorage,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("gpuscene: failed to create instance buffer: %w", err)
	}

	activeBuffer, err := s.dev.CreateBuffer(
		s.label+" active indices",
		4+uint64(capacity)*4,
		wgpu.BufferUsageStorage,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("gpuscene: failed to create active index buffer: %w", err)
	}
	return instanceBuffer, activeBuffer, nil
}

// buildActiveList serializes the dense active-index list: uint32 count
// followed by the slot indices of every allocated instance with a positive
// bounding-sphere radius. Must be called with the mutex held.
func (s *scene) buildActiveList() []byte {
	words := make([]uint32, 1, 1+s.capacity)
	for i := uint32(0); i < s.capacity; i++ {
		if s.allocated[i] && s.instances[i].BoundingSphere[3] > 0 {
			words = append(words, i)
		}
	}
	words[0] = uint32(len(words) - 1)
	s.activeCount = len(words) - 1
	return common.SliceToBytes(words)
}
