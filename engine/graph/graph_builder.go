package graph

// GraphBuilderOption is a functional option for configuring a Graph.
// Use the With* functions to create options.
type GraphBuilderOption func(g *graph)

// WithTransitionHandler registers the callback invoked before each pass with
// the pass's compiled transition plan. The device layer uses this to insert
// the synchronization each state change requires; when unset, transitions are
// still planned and inspectable but nothing is applied.
//
// Parameters:
//   - fn: the handler receiving the executing context and the pass's transitions
//
// Returns:
//   - GraphBuilderOption: option function to apply
func WithTransitionHandler(fn func(ctx *ExecContext, transitions []Transition)) GraphBuilderOption {
	return func(g *graph) {
		g.transitionHandler = fn
	}
}
