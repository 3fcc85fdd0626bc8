package device

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTimelineDevice builds a Device whose wgpu handles are never dereferenced,
// which is all the timeline tests need (Submit with zero encoders only bumps
// the counter).
func newTimelineDevice(framesInFlight uint64) Device {
	return NewDevice(BackendTypeWGPU, &wgpu.Device{}, &wgpu.Queue{},
		WithFramesInFlight(framesInFlight))
}

func TestTimelineRetiresAfterInFlightWindow(t *testing.T) {
	d := newTimelineDevice(2)

	// Frame 0: one submission.
	v0, err := d.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v0)
	d.AdvanceFrame()
	assert.Zero(t, d.CompletedTimeline(), "frame 0 still in flight")

	// Frame 1: another submission; frame 0 is still in flight.
	v1, _ := d.Submit()
	d.AdvanceFrame()
	assert.Zero(t, d.CompletedTimeline())

	// Frame 2: frame 0's submissions retire.
	d.AdvanceFrame()
	assert.Equal(t, v0, d.CompletedTimeline())

	// Frame 3: frame 1 retires.
	d.AdvanceFrame()
	assert.Equal(t, v1, d.CompletedTimeline())
}

func TestTimelineFrameWithoutSubmissions(t *testing.T) {
	d := newTimelineDevice(1)

	v, _ := d.Submit()
	d.AdvanceFrame()
	d.AdvanceFrame() // empty frame still advances the window
	assert.Equal(t, v, d.CompletedTimeline())
	assert.Equal(t, v, d.SubmittedTimeline())
}

func TestWaitIdleRetiresEverything(t *testing.T) {
	d := newTimelineDevice(3)

	d.Submit()
	d.Submit()
	v, _ := d.Submit()
	assert.Zero(t, d.CompletedTimeline())

	d.WaitIdle()
	assert.Equal(t, v, d.CompletedTimeline())
}

func TestWriteTextureValidatesPixelSize(t *testing.T) {
	d := newTimelineDevice(2)

	err := d.WriteTexture(TextureUpload{
		Texture: &wgpu.Texture{},
		Pixels:  make([]byte, 8),
		Width:   2,
		Height:  2,
	})
	assert.Error(t, err, "8 bytes for a 2x2 RGBA texture must be rejected")

	err = d.WriteTexture(TextureUpload{Pixels: make([]byte, 16), Width: 2, Height: 2})
	assert.Error(t, err, "nil destination texture must be rejected")
}
