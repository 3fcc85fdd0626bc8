package transfer

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/device"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/pool"
)

// fakeDevice records uploads; DrainCompleted runs on the test goroutine so
// the mutex only guards against background submitters misusing it.
type fakeDevice struct {
	mu sync.Mutex

	failCreateTexture bool
	failCreateBuffer  bool

	uploads      []device.TextureUpload
	bufferWrites [][]device.BufferWrite
	timeline     uint64
}

func (f *fakeDevice) CreateTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateTexture {
		return nil, nil, errors.New("out of memory")
	}
	return &wgpu.Texture{}, &wgpu.TextureView{}, nil
}

func (f *fakeDevice) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateBuffer {
		return nil, errors.New("out of memory")
	}
	return &wgpu.Buffer{}, nil
}

func (f *fakeDevice) WriteTexture(upload device.TextureUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload)
	return nil
}

func (f *fakeDevice) WriteBuffers(writes []device.BufferWrite) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferWrites = append(f.bufferWrites, writes)
}

func (f *fakeDevice) SubmittedTimeline() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeline
}

// drainUntil pumps DrainCompleted until the callback signals done.
func drainUntil(t *testing.T, p Pipeline, done <-chan struct{}) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.DrainCompleted()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond, "load never completed")
}

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0xcc, A: 0xff})
		}
	}
	path := filepath.Join(t.TempDir(), "test.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())
	return path
}

func TestLoadTextureAsync(t *testing.T) {
	dev := &fakeDevice{timeline: 41}
	p := NewPipeline(dev, WithWorkers(1))
	defer p.Shutdown()

	path := writeTestPNG(t, 4, 2)

	var (
		handle  pool.Handle
		token   Token
		loadErr error
	)
	done := make(chan struct{})
	p.LoadTextureAsync(path, func(h pool.Handle, tok Token, err error) {
		handle, token, loadErr = h, tok, err
		close(done)
	})
	drainUntil(t, p, done)

	require.NoError(t, loadErr)
	assert.Equal(t, Token(42), token, "token is the next submission's timeline value")
	assert.False(t, token.SatisfiedBy(41))
	assert.True(t, token.SatisfiedBy(42))

	tex, ok := p.Textures().Get(handle)
	require.True(t, ok)
	assert.Equal(t, uint32(4), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	assert.Equal(t, token, tex.Token)

	require.Len(t, dev.uploads, 1)
	assert.Len(t, dev.uploads[0].Pixels, 4*2*4)
}

func TestLoadTextureAsyncNotFound(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, WithWorkers(1))
	defer p.Shutdown()

	var loadErr error
	done := make(chan struct{})
	p.LoadTextureAsync(filepath.Join(t.TempDir(), "missing.png"), func(h pool.Handle, tok Token, err error) {
		loadErr = err
		close(done)
	})
	drainUntil(t, p, done)

	assert.ErrorIs(t, loadErr, ErrNotFound)
	assert.Zero(t, p.Textures().Len(), "failed loads register nothing")
}

func TestLoadTextureAsyncDecodeFailed(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, WithWorkers(1))
	defer p.Shutdown()

	path := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	var loadErr error
	done := make(chan struct{})
	p.LoadTextureAsync(path, func(h pool.Handle, tok Token, err error) {
		loadErr = err
		close(done)
	})
	drainUntil(t, p, done)

	assert.ErrorIs(t, loadErr, ErrDecodeFailed)
	assert.Zero(t, p.Textures().Len())
}

func TestLoadTextureAsyncUploadFailed(t *testing.T) {
	dev := &fakeDevice{failCreateTexture: true}
	p := NewPipeline(dev, WithWorkers(1))
	defer p.Shutdown()

	var loadErr error
	done := make(chan struct{})
	p.LoadTextureAsync(writeTestPNG(t, 2, 2), func(h pool.Handle, tok Token, err error) {
		loadErr = err
		close(done)
	})
	drainUntil(t, p, done)

	assert.ErrorIs(t, loadErr, ErrUploadFailed)
	assert.Zero(t, p.Textures().Len(), "a failed upload leaves no half-constructed resource")
}

func TestLoadBufferAsync(t *testing.T) {
	dev := &fakeDevice{timeline: 7}
	p := NewPipeline(dev, WithWorkers(1))
	defer p.Shutdown()

	payload := []byte{1, 2, 3, 4, 5}
	path := filepath.Join(t.TempDir(), "mesh.bin")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	var (
		handle  pool.Handle
		token   Token
		loadErr error
	)
	done := make(chan struct{})
	p.LoadBufferAsync(path, wgpu.BufferUsageVertex, func(h pool.Handle, tok Token, err error) {
		handle, token, loadErr = h, tok, err
		close(done)
	})
	drainUntil(t, p, done)

	require.NoError(t, loadErr)
	assert.Equal(t, Token(8), token)

	buf, ok := p.Buffers().Get(handle)
	require.True(t, ok)
	assert.Equal(t, uint64(5), buf.Size)

	require.Len(t, dev.bufferWrites, 1)
	require.Len(t, dev.bufferWrites[0], 1)
	assert.Equal(t, payload, dev.bufferWrites[0][0].Data)
}

func TestLoadBufferAsyncEmptyFile(t *testing.T) {
	p := NewPipeline(&fakeDevice{}, WithWorkers(1))
	defer p.Shutdown()

	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var loadErr error
	done := make(chan struct{})
	p.LoadBufferAsync(path, wgpu.BufferUsageVertex, func(h pool.Handle, tok Token, err error) {
		loadErr = err
		close(done)
	})
	drainUntil(t, p, done)

	assert.ErrorIs(t, loadErr, ErrInvalidData)
	assert.Zero(t, p.Buffers().Len())
}

func TestShutdownDiscardsUndrainedResults(t *testing.T) {
	dev := &fakeDevice{}
	p := NewPipeline(dev, WithWorkers(1))

	path := writeTestPNG(t, 2, 2)
	var calls int
	p.LoadTextureAsync(path, func(h pool.Handle, tok Token, err error) { calls++ })

	// Shutdown waits for the decode but never uploads it.
	p.Shutdown()
	assert.Zero(t, p.DrainCompleted())
	assert.Zero(t, calls)
	assert.Empty(t, dev.uploads)
}

func TestTokenZeroNeverSatisfied(t *testing.T) {
	assert.False(t, Token(0).SatisfiedBy(0))
	assert.False(t, Token(0).SatisfiedBy(100))
}
