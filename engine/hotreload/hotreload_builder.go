package hotreload

import "time"

// defaultIdleTimeout is how long idle compile workers linger before exiting.
const defaultIdleTimeout = 1 * time.Second

// RegistryBuilderOption is a functional option for configuring a Registry.
// Use the With* functions to create options.
type RegistryBuilderOption func(r *registry)

// WithCompileFunc sets the external compiler invocation used when a watched
// source changes. When unset, changed sources are queued for reload directly.
//
// Parameters:
//   - fn: the blocking compile call taking source and artifact paths
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithCompileFunc(fn CompileFunc) RegistryBuilderOption {
	return func(r *registry) {
		r.compile = fn
	}
}

// WithArtifactExtension sets the extension appended to a source path to form
// its compiled artifact path. Defaults to ".spv". An empty extension makes the
// source its own artifact, which suits directly loadable formats like WGSL.
//
// Parameters:
//   - ext: the artifact extension, including the leading dot
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithArtifactExtension(ext string) RegistryBuilderOption {
	return func(r *registry) {
		r.ext = ext
	}
}

// WithCompileWorkers sets the number of background compile workers. Defaults
// to 1, which also serializes compiles in change order.
//
// Parameters:
//   - workers: the worker count (values < 1 are ignored)
//
// Returns:
//   - RegistryBuilderOption: option function to apply
func WithCompileWorkers(workers int) RegistryBuilderOption {
	return func(r *registry) {
		if workers >= 1 {
			r.compileWorkers = workers
		}
	}
}
