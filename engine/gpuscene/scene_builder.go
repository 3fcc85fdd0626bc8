package gpuscene

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithCapacity sets the fixed slot capacity of the instance array. Defaults
// to 1024. Growth past it requires an explicit Resize.
//
// Parameters:
//   - capacity: the number of instance slots to allocate device storage for
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCapacity(capacity uint32) SceneBuilderOption {
	return func(s *scene) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithLabel sets the debug label prefix attached to the scene's device
// buffers. Defaults to "gpu-scene".
//
// Parameters:
//   - label: the label prefix
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLabel(label string) SceneBuilderOption {
	return func(s *scene) {
		s.label = label
	}
}
