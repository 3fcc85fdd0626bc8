// package window provides the native window the renderer presents into and
// the event pump the frame loop runs on. It exists to hand the GPU device a
// platform surface descriptor and to surface resize and key events to the
// application.
package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// Window owns the native window and its event pump.
type Window interface {
	// SetFrameCallback sets the function called once per event loop iteration.
	// This is where the application drives its per-frame work.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetFrameCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is
	// resized. Dimensions are in pixels, suitable for surface reconfiguration.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetKeyCallback sets the function called on key press and release.
	//
	// Parameters:
	//   - callback: function receiving the GLFW key code and pressed state
	SetKeyCallback(callback func(keyCode uint32, pressed bool))

	// SurfaceDescriptor returns a platform-appropriate wgpu.SurfaceDescriptor
	// for creating a WebGPU surface over this window, or nil if the window has
	// been closed.
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int

	// IsRunning returns true while the window is open.
	IsRunning() bool

	// Run pumps platform events until the window closes, invoking the frame
	// callback each iteration. Must be called from the main goroutine.
	Run()

	// Close closes the window and releases platform resources.
	//
	// Returns:
	//   - error: an error if the window was never opened
	Close() error
}

// appWindow is the GLFW-backed implementation of the Window interface.
type appWindow struct {
	title  string
	width  int
	height int

	win *glfw.Window

	onFrame  func()
	onResize func(width, height int)
	onKey    func(keyCode uint32, pressed bool)
}

var _ Window = &appWindow{}

// NewWindow opens a native window configured for WebGPU rendering. GLFW is
// initialized with no client graphics API since WebGPU brings its own.
// Must be called from the main goroutine.
//
// Parameters:
//   - options: functional options for window configuration
//
// Returns:
//   - Window: the opened window
//   - error: an error if GLFW or window creation fails
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	runtime.LockOSThread()

	w := &appWindow{
		title:  "IntrinsicEngine",
		width:  1280,
		height: 720,
	}
	for _, option := range options {
		option(w)
	}

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("window: failed to initialize GLFW: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window: failed to create window: %w", err)
	}
	w.win = win

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			win.SetShouldClose(true)
			return
		}
		if w.onKey == nil {
			return
		}
		switch action {
		case glfw.Press, glfw.Repeat:
			w.onKey(uint32(key), true)
		case glfw.Release:
			w.onKey(uint32(key), false)
		}
	})

	// Framebuffer size, not window size: on high-DPI displays the two differ
	// and the surface must be configured in pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.width = width
		w.height = height
		if w.onResize != nil {
			w.onResize(width, height)
		}
	})
	w.width, w.height = win.GetFramebufferSize()

	return w, nil
}

func (w *appWindow) SetFrameCallback(callback func()) {
	w.onFrame = callback
}

func (w *appWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *appWindow) SetKeyCallback(callback func(keyCode uint32, pressed bool)) {
	w.onKey = callback
}

func (w *appWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.win == nil {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(w.win)
}

func (w *appWindow) Width() int {
	return w.width
}

func (w *appWindow) Height() int {
	return w.height
}

func (w *appWindow) IsRunning() bool {
	return w.win != nil && !w.win.ShouldClose()
}

func (w *appWindow) Run() {
	for w.IsRunning() {
		glfw.PollEvents()
		if w.onFrame != nil {
			w.onFrame()
		}
		runtime.Gosched()
	}
}

func (w *appWindow) Close() error {
	if w.win == nil {
		return fmt.Errorf("window: not open")
	}
	w.win.SetShouldClose(true)
	w.win.Destroy()
	w.win = nil
	glfw.Terminate()
	return nil
}
