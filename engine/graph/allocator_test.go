package graph

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAllocatorDevice counts creations and destructions without a GPU.
type fakeAllocatorDevice struct {
	buffersCreated    int
	texturesCreated   int
	buffersDestroyed  int
	texturesDestroyed int
}

func (f *fakeAllocatorDevice) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	f.buffersCreated++
	return &wgpu.Buffer{}, nil
}

func (f *fakeAllocatorDevice) CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	f.texturesCreated++
	return &wgpu.Texture{}, &wgpu.TextureView{}, nil
}

func (f *fakeAllocatorDevice) DestroyBuffer(buf *wgpu.Buffer) {
	if buf != nil {
		f.buffersDestroyed++
	}
}

func (f *fakeAllocatorDevice) DestroyTexture(tex *wgpu.Texture, view *wgpu.TextureView) {
	if tex != nil || view != nil {
		f.texturesDestroyed++
	}
}

func TestAcquireReusesPooledBacking(t *testing.T) {
	dev := &fakeAllocatorDevice{}
	a := NewAllocator(dev)

	first, err := a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	a.Release(colorDesc(), first)

	second, err := a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	assert.Same(t, first.View, second.View, "pooled backing is reused")
	assert.Equal(t, 1, dev.texturesCreated)
}

func TestTrimDestroysStaleBackings(t *testing.T) {
	dev := &fakeAllocatorDevice{}
	a := NewAllocator(dev, WithTrimAge(2))

	backing, err := a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	a.Release(colorDesc(), backing)

	assert.Zero(t, a.Trim(1), "one idle frame is within the age")
	assert.Equal(t, 1, a.Trim(2), "two idle frames hit the age")
	assert.Equal(t, 1, dev.texturesDestroyed)

	// The pool entry is gone: the next acquire allocates fresh.
	_, err = a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	assert.Equal(t, 2, dev.texturesCreated)
}

func TestTrimSparesReacquiredBackings(t *testing.T) {
	dev := &fakeAllocatorDevice{}
	a := NewAllocator(dev, WithTrimAge(2))

	backing, err := a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	a.Release(colorDesc(), backing)
	assert.Zero(t, a.Trim(1))

	// Reacquiring resets the idle age: the backing goes back to the pool
	// stamped with the latest trim frame.
	reused, err := a.Acquire(colorDesc(), "target")
	require.NoError(t, err)
	a.Release(colorDesc(), reused)

	assert.Zero(t, a.Trim(2), "recently reused backing survives")
	assert.Equal(t, 1, a.Trim(3), "and is destroyed once it goes stale again")
}

func TestTrimDestroysBufferBackings(t *testing.T) {
	dev := &fakeAllocatorDevice{}
	a := NewAllocator(dev, WithTrimAge(1))

	desc := ResourceDesc{Type: ResourceTypeBuffer, Size: 256}
	backing, err := a.Acquire(desc, "scratch")
	require.NoError(t, err)
	a.Release(desc, backing)

	assert.Equal(t, 1, a.Trim(1))
	assert.Equal(t, 1, dev.buffersDestroyed)
	assert.Zero(t, dev.texturesDestroyed)
}
