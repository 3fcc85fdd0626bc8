package device

// DeviceBuilderOption is a functional option for configuring a Device.
// Use the With* functions to create options.
type DeviceBuilderOption func(d *device)

// WithFramesInFlight sets how many CPU frames may be in flight before a
// submission's timeline value is considered complete. This must match the
// frames-in-flight window used by the resource pools' deferred deletion.
// Defaults to 2.
//
// Parameters:
//   - n: the frames-in-flight window (minimum 1)
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithFramesInFlight(n uint64) DeviceBuilderOption {
	return func(d *device) {
		if n < 1 {
			n = 1
		}
		d.framesInFlight = n
	}
}
