package engine

import (
	"time"

	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/graph"
	"github.com/intrinsicD/IntrinsicEngine-sub005/engine/hotreload"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// The tick callback will be called at this rate for game logic updates.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Second / time.Duration(fps)
	}
}

// WithRenderFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the frame loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Second / time.Duration(fps)
	}
}

// WithGPUSceneCapacity sets the GPU scene's instance slot capacity.
// Values <= 0 keep the default of 1024. Growth past the capacity requires an
// explicit Resize on the scene.
//
// Parameters:
//   - capacity: the number of instance slots
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithGPUSceneCapacity(capacity uint32) EngineBuilderOption {
	return func(e *engine) {
		if capacity > 0 {
			e.sceneCapacity = capacity
		}
	}
}

// WithTransferWorkers sets the number of background asset decode workers.
// Defaults to 2.
//
// Parameters:
//   - workers: the worker count (values < 1 are ignored)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTransferWorkers(workers int) EngineBuilderOption {
	return func(e *engine) {
		if workers >= 1 {
			e.transferWorkers = workers
		}
	}
}

// WithShaderCompiler sets the external compiler invoked when a watched shader
// source file changes. When unset, changed sources are reloaded directly.
//
// Parameters:
//   - fn: the blocking compile call taking source and artifact paths
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithShaderCompiler(fn hotreload.CompileFunc) EngineBuilderOption {
	return func(e *engine) {
		e.shaderCompiler = fn
	}
}

// WithShaderArtifactExtension sets the extension appended to a shader source
// path to form its compiled artifact path. Defaults to ".spv". An empty
// extension makes the source its own artifact, which suits directly loadable
// formats like WGSL.
//
// Parameters:
//   - ext: the artifact extension, including the leading dot
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithShaderArtifactExtension(ext string) EngineBuilderOption {
	return func(e *engine) {
		e.shaderArtifactExt = ext
	}
}

// WithTransitionHandler sets the callback that applies each pass's resource
// transition plan during graph execution.
//
// Parameters:
//   - fn: the handler receiving the executing context and the pass's transitions
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTransitionHandler(fn func(ctx *graph.ExecContext, transitions []graph.Transition)) EngineBuilderOption {
	return func(e *engine) {
		e.transitionHandler = fn
	}
}
