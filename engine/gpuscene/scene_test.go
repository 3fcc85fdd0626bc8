package gpuscene

import (
	"encoding/binary"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/device"
)

// fakeDevice records staged writes so tests can inspect what a Flush uploads.
type fakeDevice struct {
	batches [][]device.BufferWrite
}

func (f *fakeDevice) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	return &wgpu.Buffer{}, nil
}

func (f *fakeDevice) WriteBuffers(writes []device.BufferWrite) {
	f.batches = append(f.batches, writes)
}

// instanceWrites filters one batch down to the writes targeting the scene's
// instance buffer.
func instanceWrites(s Scene, batch []device.BufferWrite) []device.BufferWrite {
	var out []device.BufferWrite
	for _, w := range batch {
		if w.Buffer == s.InstanceBuffer() {
			out = append(out, w)
		}
	}
	return out
}

func activeWrite(t *testing.T, s Scene, batch []device.BufferWrite) []byte {
	t.Helper()
	for _, w := range batch {
		if w.Buffer == s.ActiveIndexBuffer() {
			return w.Data
		}
	}
	t.Fatal("no active-index write in batch")
	return nil
}

func activeInstance(entity uint32, radius float32) Instance {
	return Instance{
		Transform:      mgl32.Ident4(),
		Entity:         entity,
		BoundingSphere: mgl32.Vec4{0, 0, 0, radius},
	}
}

func TestAllocateFreeReuse(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(4))
	require.NoError(t, err)

	first := s.AllocateSlot()
	second := s.AllocateSlot()
	require.Equal(t, SlotIndex(0), first)
	require.Equal(t, SlotIndex(1), second)

	s.FreeSlot(first)
	assert.Equal(t, first, s.AllocateSlot(), "freed slot is reused")
	assert.Equal(t, 2, s.AllocatedCount())
}

func TestAllocateReturnsInvalidWhenExhausted(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(2))
	require.NoError(t, err)

	s.AllocateSlot()
	s.AllocateSlot()
	assert.Equal(t, InvalidSlot, s.AllocateSlot(), "exhaustion reports InvalidSlot, never grows")
}

func TestQueueUpdateCoalescesLastWriteWins(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(4))
	require.NoError(t, err)

	slot := s.AllocateSlot()
	s.QueueUpdate(slot, activeInstance(7, 1))
	final := activeInstance(7, 5)
	s.QueueUpdate(slot, final)

	require.NoError(t, s.Flush())
	require.Len(t, dev.batches, 1)

	writes := instanceWrites(s, dev.batches[0])
	require.Len(t, writes, 1, "two queued updates to one slot produce exactly one write")

	want := toGPU(final)
	assert.Equal(t, want.Marshal(), writes[0].Data)
	assert.Equal(t, uint64(slot)*96, writes[0].Offset)
}

func TestFlushBuildsDenseActiveList(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(8))
	require.NoError(t, err)

	a := s.AllocateSlot()
	b := s.AllocateSlot()
	c := s.AllocateSlot()
	s.QueueUpdate(a, activeInstance(1, 2))
	s.QueueUpdate(b, activeInstance(2, 0)) // zero radius: inactive
	s.QueueUpdate(c, activeInstance(3, 2))

	require.NoError(t, s.Flush())
	assert.Equal(t, 2, s.ActiveCount())

	data := activeWrite(t, s, dev.batches[len(dev.batches)-1])
	require.Len(t, data, 4+2*4)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(a), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(c), binary.LittleEndian.Uint32(data[8:12]))
}

func TestFlushWithNothingQueuedStagesNothing(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(4))
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	assert.Empty(t, dev.batches)
}

func TestFreeThenAllocateSameFrame(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(4))
	require.NoError(t, err)

	slot := s.AllocateSlot()
	s.QueueUpdate(slot, activeInstance(1, 3))
	require.NoError(t, s.Flush())

	// Deactivate, free, and reallocate the same slot before the next flush.
	// The new occupant's activating update was queued last, so it wins.
	s.QueueUpdate(slot, Instance{Entity: 1, BoundingSphere: Deactivated()})
	s.FreeSlot(slot)
	reused := s.AllocateSlot()
	require.Equal(t, slot, reused)
	replacement := activeInstance(2, 4)
	s.QueueUpdate(reused, replacement)

	require.NoError(t, s.Flush())
	writes := instanceWrites(s, dev.batches[len(dev.batches)-1])
	require.Len(t, writes, 1)
	replacementGPU := toGPU(replacement)
	assert.Equal(t, replacementGPU.Marshal(), writes[0].Data)
}

func TestDeactivationWinsWhenQueuedLast(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(4))
	require.NoError(t, err)

	slot := s.AllocateSlot()
	s.QueueUpdate(slot, activeInstance(1, 3))
	s.QueueUpdate(slot, Instance{Entity: 1, BoundingSphere: Deactivated()})
	s.FreeSlot(slot)

	require.NoError(t, s.Flush())
	writes := instanceWrites(s, dev.batches[0])
	require.Len(t, writes, 1)
	deactivatedGPU := toGPU(Instance{Entity: 1, BoundingSphere: Deactivated()})
	assert.Equal(t, deactivatedGPU.Marshal(), writes[0].Data)
	assert.Zero(t, s.ActiveCount(), "deactivated slot is absent from the dense list")
}

func TestResizeKeepsExistingSlots(t *testing.T) {
	dev := &fakeDevice{}
	s, err := NewScene(dev, WithCapacity(2))
	require.NoError(t, err)

	a := s.AllocateSlot()
	b := s.AllocateSlot()
	s.QueueUpdate(a, activeInstance(1, 2))
	s.QueueUpdate(b, activeInstance(2, 2))
	require.NoError(t, s.Flush())

	oldInstanceBuffer := s.InstanceBuffer()
	require.NoError(t, s.Resize(4))

	assert.Equal(t, uint32(4), s.Capacity())
	assert.NotSame(t, oldInstanceBuffer, s.InstanceBuffer(), "resize allocates fresh device storage")
	assert.Equal(t, SlotIndex(2), s.AllocateSlot(), "existing slot indices stay valid, new ones follow")

	// The resize re-uploads the full mirror into the new buffer.
	last := dev.batches[len(dev.batches)-1]
	writes := instanceWrites(s, last)
	require.Len(t, writes, 1)
	assert.Len(t, writes[0].Data, 4*96)

	count := binary.LittleEndian.Uint32(activeWrite(t, s, last)[0:4])
	assert.Equal(t, uint32(2), count, "both live instances survive the resize")
}

func TestResizeRetiresSupersededBuffers(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(2))
	require.NoError(t, err)

	oldInstances := s.InstanceBuffer()
	oldActive := s.ActiveIndexBuffer()
	require.Empty(t, s.TakeRetired(), "nothing retired before the first resize")

	require.NoError(t, s.Resize(4))
	retired := s.TakeRetired()
	require.Len(t, retired, 2, "both superseded buffers are handed to the owner")
	assert.Same(t, oldInstances, retired[0])
	assert.Same(t, oldActive, retired[1])
	assert.Empty(t, s.TakeRetired(), "TakeRetired drains")
}

func TestShutdownRetiresLiveBuffers(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(2))
	require.NoError(t, err)

	instances := s.InstanceBuffer()
	active := s.ActiveIndexBuffer()
	s.Shutdown()

	retired := s.TakeRetired()
	require.Len(t, retired, 2)
	assert.Same(t, instances, retired[0])
	assert.Same(t, active, retired[1])
	assert.Nil(t, s.InstanceBuffer())
	assert.Nil(t, s.ActiveIndexBuffer())
}

func TestResizeRejectsShrink(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(8))
	require.NoError(t, err)
	require.Error(t, s.Resize(4))
}

func TestQueueUpdateOutOfRangePanics(t *testing.T) {
	s, err := NewScene(&fakeDevice{}, WithCapacity(2))
	require.NoError(t, err)
	assert.Panics(t, func() { s.QueueUpdate(SlotIndex(2), Instance{}) })
}
