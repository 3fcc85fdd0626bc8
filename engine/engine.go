package engine

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/device"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/gpuscene"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/graph"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/hotreload"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/pool"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/profiler"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/transfer"
)

// SweepFunc destroys pooled values whose reclaim horizon the frame counter
// has passed, returning the number destroyed.
type SweepFunc func(currentFrame uint64) int

// engine implements the Engine interface.
// Coordinates the frame pipeline, tick, and quit goroutines.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	dev       device.Device
	allocator graph.Allocator
	graph     graph.Graph
	scene     gpuscene.Scene
	reconcile gpuscene.Reconciler
	transfers transfer.Pipeline
	shaders   hotreload.Registry

	// Deferred-release pool for buffers the GPU scene supersedes on resize
	// or shutdown; reclaimed by the frame-end sweep once the in-flight
	// window has passed.
	retired pool.Pool[*wgpu.Buffer]

	features []graph.Feature
	sweeps   []SweepFunc

	entityView gpuscene.EntityView
	frameSetup func(g graph.Graph)

	frameIndex uint64

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	// construction knobs consumed by NewEngine
	sceneCapacity     uint32
	transferWorkers   int
	shaderCompiler    hotreload.CompileFunc
	shaderArtifactExt string
	transitionHandler func(ctx *graph.ExecContext, transitions []graph.Transition)
}

// Engine orchestrates the per-frame pipeline over the GPU device: drain
// shader reloads, drain transfer completions, reconcile the GPU scene, flush
// its updates, declare and compile the frame's render graph, execute and
// submit it, then sweep deferred deletions and advance the frame counter.
// Windowing and swapchain management stay outside; imported resources enter
// through the frame-setup callback.
type Engine interface {
	// Device returns the GPU device abstraction.
	Device() device.Device

	// Graph returns the per-frame render graph.
	Graph() graph.Graph

	// GPUScene returns the device-resident instance scene.
	GPUScene() gpuscene.Scene

	// Transfers returns the async load pipeline.
	Transfers() transfer.Pipeline

	// Shaders returns the hot-reload registry.
	Shaders() hotreload.Registry

	// FrameIndex returns the number of frames completed so far.
	FrameIndex() uint64

	// RegisterFeature initializes a render feature and includes its passes in
	// every subsequent frame.
	//
	// Parameters:
	//   - f: the feature to register
	//
	// Returns:
	//   - error: an error if the feature's initialization fails
	RegisterFeature(f graph.Feature) error

	// AddDeletionSweep registers a deferred-deletion sweep run at the end of
	// every frame with the current frame counter.
	//
	// Parameters:
	//   - fn: the sweep to run each frame
	AddDeletionSweep(fn SweepFunc)

	// SetEntityView sets the entity store view reconciled into the GPU scene
	// each frame. Without a view, reconciliation is skipped.
	//
	// Parameters:
	//   - view: the entity store view
	SetEntityView(view gpuscene.EntityView)

	// SetFrameSetup registers a callback invoked at the start of each frame's
	// declaration phase, before features add their passes. Use it to import
	// externally owned resources (e.g. the swapchain image) into the graph.
	//
	// Parameters:
	//   - fn: the per-frame setup callback
	SetFrameSetup(fn func(g graph.Graph))

	// Frame runs one complete frame of the pipeline. A compile or execute
	// failure abandons the frame; the next frame starts clean.
	//
	// Parameters:
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: the failure that abandoned the frame, or nil
	Frame(deltaTime float32) error

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic, physics, input processing, and animation updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each completed
	// frame.
	//
	// Parameters:
	//   - callback: function to call each frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the frame loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Run starts the tick and frame loops (blocks until Quit).
	Run()

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()

	// Shutdown stops the loops, waits for background work, drains the GPU,
	// and destroys all pooled resources. The engine cannot be reused.
	Shutdown()
}

var _ Engine = &engine{}

// NewEngine creates an Engine over the given device, wiring up the render
// graph, GPU scene, transfer pipeline, and shader hot-reload registry with
// the provided options applied.
//
// Parameters:
//   - dev: the GPU device the engine records all work through (must not be nil)
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if a subsystem fails to initialize
func NewEngine(dev device.Device, options ...EngineBuilderOption) (Engine, error) {
	if dev == nil {
		panic("engine: NewEngine requires a non-nil Device")
	}

	e := &engine{
		tickRateChannel:   make(chan time.Duration, 1),
		quitChannel:       make(chan struct{}),
		dev:               dev,
		profiler:          profiler.NewProfiler(),
		engineTickRate:    time.Second / 60,
		sceneCapacity:     1024,
		transferWorkers:   2,
		shaderArtifactExt: ".spv",
	}

	for _, opt := range options {
		opt(e)
	}

	e.allocator = graph.NewAllocator(dev)
	if e.transitionHandler != nil {
		e.graph = graph.NewGraph(e.allocator, graph.WithTransitionHandler(e.transitionHandler))
	} else {
		e.graph = graph.NewGraph(e.allocator)
	}

	scene, err := gpuscene.NewScene(dev, gpuscene.WithCapacity(e.sceneCapacity))
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create GPU scene: %w", err)
	}
	e.scene = scene
	e.reconcile = gpuscene.NewReconciler(scene)

	e.transfers = transfer.NewPipeline(dev, transfer.WithWorkers(e.transferWorkers))

	shaderOptions := []hotreload.RegistryBuilderOption{
		hotreload.WithArtifactExtension(e.shaderArtifactExt),
	}
	if e.shaderCompiler != nil {
		shaderOptions = append(shaderOptions, hotreload.WithCompileFunc(e.shaderCompiler))
	}
	shaders, err := hotreload.NewRegistry(hotreload.NewWGSLLoader(dev), shaderOptions...)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create shader registry: %w", err)
	}
	e.shaders = shaders

	e.retired = pool.NewPool(pool.WithDestructor(func(buf *wgpu.Buffer) {
		e.dev.DestroyBuffer(buf)
	}))

	// The transfer pools and the scene's retired buffers participate in the
	// frame-end deletion sweep so removed textures and buffers outlive any
	// frame still reading them.
	e.sweeps = append(e.sweeps,
		func(frame uint64) int { return e.transfers.Textures().ProcessDeletions(frame) },
		func(frame uint64) int { return e.transfers.Buffers().ProcessDeletions(frame) },
		e.retired.ProcessDeletions,
	)

	return e, nil
}

func (e *engine) Device() device.Device { return e.dev }

func (e *engine) Graph() graph.Graph { return e.graph }

func (e *engine) GPUScene() gpuscene.Scene { return e.scene }

func (e *engine) Transfers() transfer.Pipeline { return e.transfers }

func (e *engine) Shaders() hotreload.Registry { return e.shaders }

func (e *engine) FrameIndex() uint64 { return e.frameIndex }

func (e *engine) RegisterFeature(f graph.Feature) error {
	if err := f.Initialize(e.dev); err != nil {
		return fmt.Errorf("engine: feature initialization failed: %w", err)
	}
	e.features = append(e.features, f)
	return nil
}

func (e *engine) AddDeletionSweep(fn SweepFunc) {
	e.sweeps = append(e.sweeps, fn)
}

func (e *engine) SetEntityView(view gpuscene.EntityView) {
	e.entityView = view
}

func (e *engine) SetFrameSetup(fn func(g graph.Graph)) {
	e.frameSetup = fn
}

func (e *engine) Frame(deltaTime float32) error {
	// Start of frame: results from background threads enter the pipeline at
	// these two drain points and nowhere else.
	e.shaders.DrainPending()
	e.transfers.DrainCompleted()

	if e.entityView != nil {
		e.reconcile.Reconcile(e.entityView)
	}
	if err := e.scene.Flush(); err != nil {
		return fmt.Errorf("engine: GPU scene flush failed, frame %d abandoned: %w", e.frameIndex, err)
	}
	e.retireSceneBuffers()

	if e.frameSetup != nil {
		e.frameSetup(e.graph)
	}
	for _, f := range e.features {
		f.AddPasses(e.graph)
	}

	if err := e.graph.Compile(); err != nil {
		e.graph.Reset()
		return fmt.Errorf("engine: graph compile failed, frame %d abandoned: %w", e.frameIndex, err)
	}

	encoder, err := e.dev.CreateCommandEncoder("frame")
	if err != nil {
		e.graph.Reset()
		return fmt.Errorf("engine: frame %d abandoned: %w", e.frameIndex, err)
	}

	execErr := e.graph.Execute(encoder, e.frameIndex)

	// Submit even when a pass failed partway: work already recorded is not
	// rolled back, and the encoder must not leak.
	if _, err := e.dev.Submit(encoder); err != nil {
		log.Printf("[engine] frame %d submit failed: %v", e.frameIndex, err)
	}

	for _, sweep := range e.sweeps {
		sweep(e.frameIndex)
	}
	e.allocator.Trim(e.frameIndex)
	e.dev.AdvanceFrame()
	e.frameIndex++

	if execErr != nil {
		return fmt.Errorf("engine: frame %d abandoned: %w", e.frameIndex-1, execErr)
	}
	return nil
}

func (e *engine) Run() {
	e.running = true
	e.handle()
	e.wg.Wait()
}

// Quit signals all engine goroutines to stop.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

func (e *engine) Shutdown() {
	e.signalQuit()
	e.wg.Wait()

	// Background producers first, so nothing new enters the queues.
	e.transfers.Shutdown()
	e.shaders.Shutdown()

	for _, f := range e.features {
		f.Shutdown()
	}

	// The scene's live buffers join the retired pool so the final sweep
	// releases them with everything else.
	e.scene.Shutdown()
	e.retireSceneBuffers()

	// With the GPU drained, every deferred deletion horizon has passed.
	e.dev.WaitIdle()
	for _, sweep := range e.sweeps {
		sweep(math.MaxUint64)
	}
	e.allocator.Trim(math.MaxUint64)
}

// retireSceneBuffers moves buffers the GPU scene superseded into the
// deferred-release pool, reclaimed once the in-flight window has passed.
func (e *engine) retireSceneBuffers() {
	for _, buf := range e.scene.TakeRetired() {
		e.retired.Remove(e.retired.Create(buf), e.frameIndex)
	}
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the tick, frame, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleTick()
	go e.handleFrames()
	go e.handleQuit()
}

// handleTick runs the fixed-rate logic tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic
// rate changes via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleFrames runs the uncapped (or frame-limited) frame loop in its own
// goroutine, driving the per-frame pipeline. An abandoned frame is logged and
// the loop continues with a clean graph. Recovers from panics to avoid
// crashing the process and signals quit on recovery.
func (e *engine) handleFrames() {
	defer e.wg.Done()
	// Recover from panics inside the frame goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("frame goroutine recovered from panic: %v", r)
			e.signalQuit()
		}
	}()

	lastFrame := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastFrame).Seconds())
			lastFrame = now

			if err := e.Frame(dt); err != nil {
				log.Printf("[engine] %v", err)
				if e.profilingEnabled && e.profiler != nil {
					e.profiler.FrameAbandoned()
				}
			}

			if e.renderCallback != nil {
				e.renderCallback(dt)
			}

			if e.profilingEnabled && e.profiler != nil {
				e.profiler.Tick()
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastFrame)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Send to channel for immediate update in running engine loop
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			// Channel has a pending update, drain and send new value
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		// Engine not running, just update the field
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called after each completed frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional frame rate cap.
// Pass 0 to uncap the frame loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}
