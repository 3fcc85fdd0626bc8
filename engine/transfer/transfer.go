package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log"
	"os"
	"sync"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"

	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/device"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/pool"
)

// Load failure variants. Callers match with errors.Is; a failed load never
// leaves a half-constructed resource registered in a pool.
var (
	// ErrNotFound indicates the source file does not exist or cannot be read.
	ErrNotFound = errors.New("transfer: asset not found")

	// ErrDecodeFailed indicates the file contents could not be parsed.
	ErrDecodeFailed = errors.New("transfer: decode failed")

	// ErrInvalidData indicates the decoded asset is unusable (e.g. zero dimensions).
	ErrInvalidData = errors.New("transfer: invalid asset data")

	// ErrUploadFailed indicates GPU resource creation or the upload itself failed.
	ErrUploadFailed = errors.New("transfer: GPU upload failed")
)

// Token marks the point on the device submission timeline at which an
// asynchronously loaded resource's upload is guaranteed complete. Consumers
// must not issue GPU work reading the resource until the token is satisfied.
type Token uint64

// SatisfiedBy reports whether the upload this token represents has completed,
// given the device's completed timeline value.
//
// Parameters:
//   - completed: the device's CompletedTimeline value
//
// Returns:
//   - bool: true once the upload is complete
func (t Token) SatisfiedBy(completed uint64) bool {
	return t != 0 && uint64(t) <= completed
}

// Texture is a GPU texture produced by the pipeline, registered in the
// pipeline's texture pool.
type Texture struct {
	// Texture and View are the uploaded GPU resources.
	Texture *wgpu.Texture
	View    *wgpu.TextureView

	// Width and Height are the pixel dimensions.
	Width, Height uint32

	// Token gates GPU consumption of the texture.
	Token Token
}

// Buffer is a GPU buffer produced by the pipeline, registered in the
// pipeline's buffer pool.
type Buffer struct {
	// Buffer is the uploaded GPU buffer.
	Buffer *wgpu.Buffer

	// Size is the byte size of the contents.
	Size uint64

	// Token gates GPU consumption of the buffer.
	Token Token
}

// TextureCallback receives the result of an asynchronous texture load: the
// pool handle and completion token on success, or a typed error.
type TextureCallback func(handle pool.Handle, token Token, err error)

// BufferCallback receives the result of an asynchronous buffer load.
type BufferCallback func(handle pool.Handle, token Token, err error)

// TransferDevice is the slice of the GPU device the pipeline uploads through.
// Satisfied by device.Device.
type TransferDevice interface {
	// CreateTexture creates a 2D GPU texture and a default view over it.
	CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error)

	// CreateBuffer creates a GPU buffer of the given size and usage.
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// WriteTexture uploads RGBA pixel data into a texture.
	WriteTexture(upload device.TextureUpload) error

	// WriteBuffers stages buffer writes onto the GPU queue.
	WriteBuffers(writes []device.BufferWrite)

	// SubmittedTimeline returns the timeline value of the most recent submission.
	SubmittedTimeline() uint64
}

// decoded is a finished background decode, handed to the main thread through
// the completion queue.
type decoded struct {
	id   uuid.UUID
	path string
	err  error

	// texture result
	pixels        []byte
	width, height uint32
	onTexture     TextureCallback

	// buffer result
	raw      []byte
	usage    wgpu.BufferUsage
	onBuffer BufferCallback
}

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	mu sync.Mutex

	dev TransferDevice

	workers   worker.DynamicWorkerPool
	nextTask  int
	inFlight  sync.WaitGroup
	completed []decoded

	textures pool.Pool[Texture]
	buffers  pool.Pool[Buffer]

	workerCount int
	queueSize   int
	idleTimeout time.Duration
}

// Pipeline loads assets asynchronously: file I/O and decode run on a fixed
// set of background workers, while GPU uploads and pool registration happen
// on the main thread when DrainCompleted runs. Each produced resource carries
// a Token that must be satisfied against the device's completed timeline
// before the resource is consumed for rendering.
type Pipeline interface {
	// LoadTextureAsync decodes an image file (PNG or JPEG) in the background
	// and registers the uploaded texture in the texture pool at the next
	// DrainCompleted. The callback runs on the draining thread.
	//
	// Parameters:
	//   - path: the image file to load
	//   - onComplete: receives the pool handle and token, or a typed error
	LoadTextureAsync(path string, onComplete TextureCallback)

	// LoadBufferAsync reads a file's raw bytes in the background and registers
	// the uploaded buffer in the buffer pool at the next DrainCompleted.
	//
	// Parameters:
	//   - path: the file to load
	//   - usage: wgpu usage flags for the created buffer
	//   - onComplete: receives the pool handle and token, or a typed error
	LoadBufferAsync(path string, usage wgpu.BufferUsage, onComplete BufferCallback)

	// DrainCompleted uploads every finished background decode to the GPU,
	// registers the results in the pools, and invokes their callbacks. Called
	// once per frame on the main thread.
	//
	// Returns:
	//   - int: the number of completed loads processed
	DrainCompleted() int

	// Textures returns the pool holding loaded textures.
	Textures() pool.Pool[Texture]

	// Buffers returns the pool holding loaded buffers.
	Buffers() pool.Pool[Buffer]

	// Shutdown waits for all in-flight background work to finish. Results not
	// yet drained are discarded without touching the GPU; in-flight loads are
	// not cancelled, per the no-cancellation shutdown policy.
	Shutdown()
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a Pipeline uploading through the given device with the
// provided options applied.
//
// Parameters:
//   - dev: the GPU device uploads go through (must not be nil)
//   - options: functional options for pipeline configuration
//
// Returns:
//   - Pipeline: the newly created pipeline
func NewPipeline(dev TransferDevice, options ...PipelineBuilderOption) Pipeline {
	if dev == nil {
		panic("transfer: NewPipeline requires a non-nil TransferDevice")
	}

	p := &pipeline{
		dev:         dev,
		workerCount: 2,
		queueSize:   64,
		idleTimeout: defaultIdleTimeout,
	}

	for _, option := range options {
		option(p)
	}

	p.workers = worker.NewDynamicWorkerPool(p.workerCount, p.queueSize, p.idleTimeout)
	p.textures = pool.NewPool[Texture](pool.WithDestructor[Texture](func(t Texture) {
		if t.View != nil {
			t.View.Release()
		}
		if t.Texture != nil {
			t.Texture.Release()
		}
	}))
	p.buffers = pool.NewPool[Buffer](pool.WithDestructor[Buffer](func(b Buffer) {
		if b.Buffer != nil {
			b.Buffer.Release()
		}
	}))
	return p
}

func (p *pipeline) LoadTextureAsync(path string, onComplete TextureCallback) {
	id := uuid.New()
	p.submit(func() {
		result := decoded{id: id, path: path, onTexture: onComplete}

		data, err := os.ReadFile(path)
		if err != nil {
			result.err = fmt.Errorf("%w: %s", ErrNotFound, path)
			p.push(result)
			return
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			result.err = fmt.Errorf("%w: %s: %v", ErrDecodeFailed, path, err)
			p.push(result)
			return
		}

		bounds := img.Bounds()
		if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
			result.err = fmt.Errorf("%w: %s has zero dimensions", ErrInvalidData, path)
			p.push(result)
			return
		}

		rgba := image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
		result.pixels = rgba.Pix
		result.width = uint32(bounds.Dx())
		result.height = uint32(bounds.Dy())
		p.push(result)
	})
}

func (p *pipeline) LoadBufferAsync(path string, usage wgpu.BufferUsage, onComplete BufferCallback) {
	id := uuid.New()
	p.submit(func() {
		result := decoded{id: id, path: path, usage: usage, onBuffer: onComplete}

		data, err := os.ReadFile(path)
		if err != nil {
			result.err = fmt.Errorf("%w: %s", ErrNotFound, path)
			p.push(result)
			return
		}
		if len(data) == 0 {
			result.err = fmt.Errorf("%w: %s is empty", ErrInvalidData, path)
			p.push(result)
			return
		}

		result.raw = data
		p.push(result)
	})
}

func (p *pipeline) DrainCompleted() int {
	p.mu.Lock()
	batch := p.completed
	p.completed = nil
	p.mu.Unlock()

	for _, result := range batch {
		switch {
		case result.err != nil:
			log.Printf("[transfer] load %s failed: %v", result.id, result.err)
			p.fail(result, result.err)
		case result.onTexture != nil:
			p.finishTexture(result)
		case result.onBuffer != nil:
			p.finishBuffer(result)
		}
	}
	return len(batch)
}

func (p *pipeline) Textures() pool.Pool[Texture] {
	return p.textures
}

func (p *pipeline) Buffers() pool.Pool[Buffer] {
	return p.buffers
}

func (p *pipeline) Shutdown() {
	p.inFlight.Wait()

	p.mu.Lock()
	discarded := len(p.completed)
	p.completed = nil
	p.mu.Unlock()

	if discarded > 0 {
		log.Printf("[transfer] shutdown discarded %d undrained loads", discarded)
	}
}

// submit queues background work and tracks it for Shutdown.
func (p *pipeline) submit(do func()) {
	p.mu.Lock()
	id := p.nextTask
	p.nextTask++
	p.mu.Unlock()

	p.inFlight.Add(1)
	p.workers.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer p.inFlight.Done()
			do()
			return nil, nil
		},
	})
}

// push hands a finished decode to the main-thread completion queue.
func (p *pipeline) push(result decoded) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, result)
}

// fail invokes the result's callback with a typed error and no handle.
func (p *pipeline) fail(result decoded, err error) {
	if result.onTexture != nil {
		result.onTexture(pool.Handle{}, 0, err)
	} else if result.onBuffer != nil {
		result.onBuffer(pool.Handle{}, 0, err)
	}
}

// finishTexture uploads a decoded image and registers it. The token is the
// next submission's timeline value: queue writes staged now land with the
// current frame's submit.
func (p *pipeline) finishTexture(result decoded) {
	tex, view, err := p.dev.CreateTexture(
		"transfer "+result.path,
		result.width, result.height,
		wgpu.TextureFormatRGBA8UnormSrgb,
		wgpu.TextureUsageTextureBinding,
	)
	if err != nil {
		p.fail(result, fmt.Errorf("%w: %s: %v", ErrUploadFailed, result.path, err))
		return
	}

	if err := p.dev.WriteTexture(device.TextureUpload{
		Texture: tex,
		Pixels:  result.pixels,
		Width:   result.width,
		Height:  result.height,
	}); err != nil {
		view.Release()
		tex.Release()
		p.fail(result, fmt.Errorf("%w: %s: %v", ErrUploadFailed, result.path, err))
		return
	}

	token := Token(p.dev.SubmittedTimeline() + 1)
	handle := p.textures.Create(Texture{
		Texture: tex,
		View:    view,
		Width:   result.width,
		Height:  result.height,
		Token:   token,
	})
	result.onTexture(handle, token, nil)
}

// finishBuffer uploads raw bytes and registers the buffer.
func (p *pipeline) finishBuffer(result decoded) {
	buf, err := p.dev.CreateBuffer("transfer "+result.path, uint64(len(result.raw)), result.usage)
	if err != nil {
		p.fail(result, fmt.Errorf("%w: %s: %v", ErrUploadFailed, result.path, err))
		return
	}

	p.dev.WriteBuffers([]device.BufferWrite{{Buffer: buf, Data: result.raw}})

	token := Token(p.dev.SubmittedTimeline() + 1)
	handle := p.buffers.Create(Buffer{
		Buffer: buf,
		Size:   uint64(len(result.raw)),
		Token:  token,
	})
	result.onBuffer(handle, token, nil)
}
