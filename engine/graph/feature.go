package graph

// Feature is a pluggable provider of render passes. The engine initializes
// each registered feature once, asks it to declare its passes into the graph
// every frame, and shuts it down during teardown. Concrete visual passes
// (forward shading, picking, debug drawing) live outside the core and plug in
// through this interface.
type Feature interface {
	// Initialize creates the feature's long-lived GPU state (pipelines,
	// layouts, static buffers). Called once before the first frame.
	//
	// Parameters:
	//   - dev: the allocator device the feature creates resources on
	//
	// Returns:
	//   - error: an error if initialization fails
	Initialize(dev AllocatorDevice) error

	// AddPasses declares the feature's passes and resource usage into the
	// graph for the current frame. Called once per frame during the
	// Declaring phase.
	//
	// Parameters:
	//   - g: the frame's render graph
	AddPasses(g Graph)

	// Shutdown releases the feature's long-lived state. Called once during
	// engine teardown, after the GPU is idle.
	Shutdown()
}
