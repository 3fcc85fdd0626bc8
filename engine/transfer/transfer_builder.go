package transfer

import "time"

// defaultIdleTimeout is how long idle decode workers linger before exiting.
const defaultIdleTimeout = 1 * time.Second

// PipelineBuilderOption is a functional option for configuring a Pipeline.
// Use the With* functions to create options.
type PipelineBuilderOption func(p *pipeline)

// WithWorkers sets the number of background decode workers. Defaults to 2.
//
// Parameters:
//   - workers: the worker count (values < 1 are ignored)
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithWorkers(workers int) PipelineBuilderOption {
	return func(p *pipeline) {
		if workers >= 1 {
			p.workerCount = workers
		}
	}
}

// WithQueueSize sets the background task queue capacity. Defaults to 64.
//
// Parameters:
//   - size: the queue capacity (values < 1 are ignored)
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithQueueSize(size int) PipelineBuilderOption {
	return func(p *pipeline) {
		if size >= 1 {
			p.queueSize = size
		}
	}
}

// WithIdleTimeout sets how long idle workers persist before exiting.
// Defaults to one second.
//
// Parameters:
//   - timeout: the idle timeout
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithIdleTimeout(timeout time.Duration) PipelineBuilderOption {
	return func(p *pipeline) {
		if timeout > 0 {
			p.idleTimeout = timeout
		}
	}
}
