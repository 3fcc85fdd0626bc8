package graph

// defaultTrimAge is how many frames a pooled backing may sit unreacquired
// before Trim destroys it.
const defaultTrimAge = 120

// AllocatorBuilderOption is a functional option for configuring an Allocator.
// Use the With* functions to create options.
type AllocatorBuilderOption func(a *allocator)

// WithTrimAge sets how many frames a pooled backing may go without being
// reacquired before Trim destroys it. Defaults to 120.
//
// Parameters:
//   - frames: the idle age in frames (values < 1 are ignored)
//
// Returns:
//   - AllocatorBuilderOption: option function to apply
func WithTrimAge(frames uint64) AllocatorBuilderOption {
	return func(a *allocator) {
		if frames >= 1 {
			a.trimAge = frames
		}
	}
}
