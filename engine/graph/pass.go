package graph

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// access records one declared resource use by a pass.
type access struct {
	resource string
	state    ResourceState
}

// pass is a single node in the graph: a name, declared reads/writes, and the
// execution callback invoked in compiled order.
type pass struct {
	name      string
	declOrder int

	reads  []access
	writes []access

	execute func(ctx *ExecContext) error

	// compile results
	scheduled   int // index in the compiled execution order
	transitions []Transition
}

// PassBuilder collects a pass's resource declarations during the graph's
// Declaring phase. All resources a pass touches must be declared through its
// builder before Compile; referencing an undeclared name is a compile error.
type PassBuilder interface {
	// Read declares that the pass reads the named resource in the given state.
	//
	// Parameters:
	//   - name: the resource name
	//   - state: the access state the pass requires (e.g. StateSampledRead)
	Read(name string, state ResourceState)

	// Write declares that the pass writes the named resource in the given
	// state. Writes create scheduling edges to every later read or write of
	// the same resource.
	//
	// Parameters:
	//   - name: the resource name
	//   - state: the access state the pass requires (e.g. StateColorWrite)
	Write(name string, state ResourceState)

	// CreateTransient declares a new graph-owned transient resource and
	// writes it in the given state. The backing allocation may be aliased
	// with other transients whose live ranges do not overlap. Panics if the
	// name is already declared — duplicate declaration is a programming error.
	//
	// Parameters:
	//   - name: the new resource name
	//   - desc: the backing allocation description
	//   - state: the access state the creating pass requires
	CreateTransient(name string, desc ResourceDesc, state ResourceState)
}

// passBuilder is the implementation of the PassBuilder interface.
type passBuilder struct {
	g *graph
	p *pass
}

var _ PassBuilder = &passBuilder{}

func (b *passBuilder) Read(name string, state ResourceState) {
	b.p.reads = append(b.p.reads, access{resource: name, state: state})
}

func (b *passBuilder) Write(name string, state ResourceState) {
	b.p.writes = append(b.p.writes, access{resource: name, state: state})
}

func (b *passBuilder) CreateTransient(name string, desc ResourceDesc, state ResourceState) {
	if _, exists := b.g.resources[name]; exists {
		panic(fmt.Sprintf("graph: transient resource %q declared twice", name))
	}
	b.g.declareResource(name, LifetimeTransient, desc)
	b.Write(name, state)
}

// ExecContext is handed to each pass callback during Execute. It exposes the
// frame's command encoder, the resolved resource bindings, and the transition
// plan for the running pass. Bindings for imported resources are valid only
// until Execute returns.
type ExecContext struct {
	// Encoder is the command encoder GPU work is recorded into.
	Encoder *wgpu.CommandEncoder

	// Frame is the frame counter for this execution.
	Frame uint64

	g       *graph
	current *pass
}

// TextureView resolves a declared image resource to its bound texture view.
// Returns nil if the name is unknown or not an image.
//
// Parameters:
//   - name: the resource name
//
// Returns:
//   - *wgpu.TextureView: the bound view, or nil
func (c *ExecContext) TextureView(name string) *wgpu.TextureView {
	if r, ok := c.g.resources[name]; ok {
		return r.backing.View
	}
	return nil
}

// Buffer resolves a declared buffer resource to its bound GPU buffer.
// Returns nil if the name is unknown or not a buffer.
//
// Parameters:
//   - name: the resource name
//
// Returns:
//   - *wgpu.Buffer: the bound buffer, or nil
func (c *ExecContext) Buffer(name string) *wgpu.Buffer {
	if r, ok := c.g.resources[name]; ok {
		return r.backing.Buffer
	}
	return nil
}

// Transitions returns the resource state changes required before the running
// pass, in declaration order.
//
// Returns:
//   - []Transition: the transitions to apply before this pass
func (c *ExecContext) Transitions() []Transition {
	if c.current == nil {
		return nil
	}
	return c.current.transitions
}

// PassName returns the name of the currently executing pass.
func (c *ExecContext) PassName() string {
	if c.current == nil {
		return ""
	}
	return c.current.name
}
