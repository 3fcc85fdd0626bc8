package device

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// DeviceBackendType identifies the GPU backend implementation used by the Device.
type DeviceBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based device backend.
	BackendTypeWGPU DeviceBackendType = iota
)

// BufferWrite describes a single staged write into a GPU buffer. Writes are
// submitted in batches through Device.WriteBuffers so a frame's worth of
// updates lands in one queue interaction.
type BufferWrite struct {
	// Buffer is the destination GPU buffer.
	Buffer *wgpu.Buffer
	// Offset is the destination byte offset within the buffer.
	Offset uint64
	// Data is the raw bytes to write.
	Data []byte
}

// TextureUpload describes a full 2D RGBA texture upload.
type TextureUpload struct {
	// Texture is the destination GPU texture.
	Texture *wgpu.Texture
	// Pixels is tightly packed RGBA data, 4 bytes per pixel.
	Pixels []byte
	// Width and Height are the texture dimensions in pixels.
	Width, Height uint32
}

// device is the implementation of the Device interface.
type device struct {
	mu sync.Mutex

	dev   *wgpu.Device
	queue *wgpu.Queue

	framesInFlight uint64

	// Submission timeline. Every Submit bumps the counter; AdvanceFrame
	// retires the values of frames older than the in-flight window so
	// transfer tokens and pool reclaim can compare against CompletedTimeline.
	submitted   uint64
	completed   uint64
	frameValues []uint64 // last submitted value per in-flight frame, oldest first
}

// Device is the narrow GPU abstraction the frame-orchestration core records
// work through: resource creation, batched queue writes, command submission,
// and a monotonically increasing submission timeline used to decide when
// asynchronously uploaded resources are safe to consume and when removed
// resources are safe to destroy.
//
// The timeline is frame-granular: a value returned by Submit is considered
// complete once AdvanceFrame has been called frames-in-flight times after the
// submission's frame, mirroring how the renderer paces CPU frames against
// outstanding GPU work.
type Device interface {
	// CreateBuffer creates a GPU buffer of the given size and usage.
	//
	// Parameters:
	//   - label: debug label attached to the buffer
	//   - size: buffer size in bytes
	//   - usage: wgpu usage flags (CopyDst is OR'd in automatically so staged writes always work)
	//
	// Returns:
	//   - *wgpu.Buffer: the created buffer
	//   - error: an error if buffer creation fails
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// CreateTexture creates a 2D GPU texture and a default view over it.
	//
	// Parameters:
	//   - label: debug label attached to the texture
	//   - width: texture width in pixels
	//   - height: texture height in pixels
	//   - format: the texel format
	//   - usage: wgpu usage flags (CopyDst is OR'd in automatically)
	//
	// Returns:
	//   - *wgpu.Texture: the created texture
	//   - *wgpu.TextureView: a default full view of the texture
	//   - error: an error if texture or view creation fails
	CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error)

	// CreateShaderModule creates a shader module from WGSL source text.
	//
	// Parameters:
	//   - label: debug label attached to the module
	//   - source: the WGSL source code
	//
	// Returns:
	//   - *wgpu.ShaderModule: the created module
	//   - error: an error if module creation fails
	CreateShaderModule(label, source string) (*wgpu.ShaderModule, error)

	// WriteBuffers stages all writes onto the GPU queue in one batch.
	// Writes with a nil buffer or empty data are skipped.
	//
	// Parameters:
	//   - writes: the staged buffer writes to submit
	WriteBuffers(writes []BufferWrite)

	// WriteTexture uploads RGBA pixel data into a texture via the GPU queue.
	//
	// Parameters:
	//   - upload: the texture, pixel data, and dimensions to upload
	//
	// Returns:
	//   - error: an error if the upload parameters are inconsistent
	WriteTexture(upload TextureUpload) error

	// CreateCommandEncoder creates a command encoder for recording a frame's
	// GPU work.
	//
	// Parameters:
	//   - label: debug label attached to the encoder
	//
	// Returns:
	//   - *wgpu.CommandEncoder: the created encoder
	//   - error: an error if encoder creation fails
	CreateCommandEncoder(label string) (*wgpu.CommandEncoder, error)

	// Submit finishes the given encoders and submits the resulting command
	// buffers to the queue, returning the timeline value that represents this
	// submission. The value is complete once CompletedTimeline reports a value
	// >= it.
	//
	// Parameters:
	//   - encoders: the encoders to finish and submit
	//
	// Returns:
	//   - uint64: the timeline value signalled when this submission's GPU work completes
	//   - error: an error if finishing an encoder fails
	Submit(encoders ...*wgpu.CommandEncoder) (uint64, error)

	// SubmittedTimeline returns the timeline value of the most recent Submit.
	SubmittedTimeline() uint64

	// CompletedTimeline returns the highest timeline value known to be
	// complete on the GPU.
	CompletedTimeline() uint64

	// AdvanceFrame marks a frame boundary. Submissions from frames older than
	// the in-flight window are retired, advancing the completed timeline.
	// Must be called exactly once per frame, after the frame's last Submit.
	AdvanceFrame()

	// WaitIdle retires the entire outstanding timeline. Call during shutdown
	// or an explicit full-pipeline drain, never mid-frame.
	WaitIdle()

	// DestroyBuffer releases a buffer created by this device. Nil buffers are
	// ignored. Callers are responsible for deferring the call until no
	// in-flight frame can still reference the buffer.
	//
	// Parameters:
	//   - buf: the buffer to release
	DestroyBuffer(buf *wgpu.Buffer)

	// DestroyTexture releases a texture and its view. Nil arguments are
	// ignored. Callers are responsible for deferring the call until no
	// in-flight frame can still reference the texture.
	//
	// Parameters:
	//   - tex: the texture to release
	//   - view: the view to release
	DestroyTexture(tex *wgpu.Texture, view *wgpu.TextureView)
}

var _ Device = &device{}

// NewDevice creates a Device over an already-initialized wgpu device/queue
// pair with the provided options applied. The surface and adapter remain
// owned by the caller (window-system integration is outside the core).
//
// Parameters:
//   - backendType: the GPU backend to use (currently only BackendTypeWGPU)
//   - dev: the wgpu device to record against
//   - queue: the wgpu queue to submit to
//   - options: functional options for device configuration
//
// Returns:
//   - Device: the newly created device
func NewDevice(backendType DeviceBackendType, dev *wgpu.Device, queue *wgpu.Queue, options ...DeviceBuilderOption) Device {
	if backendType != BackendTypeWGPU {
		panic(fmt.Sprintf("device: unsupported backend type %d", backendType))
	}
	if dev == nil || queue == nil {
		panic("device: NewDevice requires a non-nil wgpu device and queue")
	}

	d := &device{
		dev:            dev,
		queue:          queue,
		framesInFlight: 2,
	}

	for _, option := range options {
		option(d)
	}
	return d
}

func (d *device) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            usage | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("device: failed to create buffer %q: %w", label, err)
	}
	return buf, nil
}

func (d *device) CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, err := d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     usage | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("device: failed to create texture %q: %w", label, err)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, fmt.Errorf("device: failed to create view for texture %q: %w", label, err)
	}
	return tex, view, nil
}

func (d *device) CreateShaderModule(label, source string) (*wgpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	module, err := d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: failed to create shader module %q: %w", label, err)
	}
	return module, nil
}

func (d *device) WriteBuffers(writes []BufferWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range writes {
		if w.Buffer == nil || len(w.Data) == 0 {
			continue
		}
		d.queue.WriteBuffer(w.Buffer, w.Offset, w.Data)
	}
}

func (d *device) WriteTexture(upload TextureUpload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if upload.Texture == nil {
		return fmt.Errorf("device: WriteTexture requires a destination texture")
	}
	if uint64(len(upload.Pixels)) != uint64(upload.Width)*uint64(upload.Height)*4 {
		return fmt.Errorf("device: texture upload pixel data is %d bytes, want %d for %dx%d RGBA",
			len(upload.Pixels), uint64(upload.Width)*uint64(upload.Height)*4, upload.Width, upload.Height)
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  upload.Texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		upload.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  upload.Width * 4,
			RowsPerImage: upload.Height,
		},
		&wgpu.Extent3D{
			Width:              upload.Width,
			Height:             upload.Height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (d *device) CreateCommandEncoder(label string) (*wgpu.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	encoder, err := d.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("device: failed to create command encoder %q: %w", label, err)
	}
	return encoder, nil
}

func (d *device) Submit(encoders ...*wgpu.CommandEncoder) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, encoder := range encoders {
		if encoder == nil {
			continue
		}
		commandBuffer, err := encoder.Finish(nil)
		if err != nil {
			encoder.Release()
			return 0, fmt.Errorf("device: failed to finish command encoder: %w", err)
		}
		d.queue.Submit(commandBuffer)
		commandBuffer.Release()
		encoder.Release()
	}

	d.submitted++
	return d.submitted, nil
}

func (d *device) SubmittedTimeline() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

func (d *device) CompletedTimeline() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

func (d *device) AdvanceFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frameValues = append(d.frameValues, d.submitted)
	if uint64(len(d.frameValues)) > d.framesInFlight {
		d.completed = d.frameValues[0]
		d.frameValues = d.frameValues[1:]
	}
}

func (d *device) WaitIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.completed = d.submitted
	d.frameValues = d.frameValues[:0]
}

func (d *device) DestroyBuffer(buf *wgpu.Buffer) {
	if buf == nil {
		return
	}
	buf.Release()
}

func (d *device) DestroyTexture(tex *wgpu.Texture, view *wgpu.TextureView) {
	if view != nil {
		view.Release()
	}
	if tex != nil {
		tex.Release()
	}
}
