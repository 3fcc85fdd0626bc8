package graph

import (
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"
)

// Phase is the graph's position in its per-frame lifecycle.
type Phase int

const (
	// PhaseDeclaring accepts pass and resource declarations.
	PhaseDeclaring Phase = iota

	// PhaseCompiled has a fixed execution schedule and transition plan.
	PhaseCompiled

	// PhaseExecuting is invoking pass callbacks in schedule order.
	PhaseExecuting
)

// graph is the implementation of the Graph interface.
type graph struct {
	phase Phase

	passes    []*pass
	resources map[string]*resource
	declSeq   int

	// persistent resources survive Reset; their descs are re-declared into
	// the frame's resource map automatically, and their backings are kept.
	persistent      map[string]*resource
	persistentOrder []string
	persistentState map[string]ResourceState

	order     []int // compiled execution order (indices into passes)
	physicals []physicalSlot

	allocator         Allocator
	transitionHandler func(ctx *ExecContext, transitions []Transition)
}

// physicalSlot is one aliasable backing allocation shared by transient
// resources whose live ranges do not overlap.
type physicalSlot struct {
	desc    ResourceDesc
	lastUse int
	backing Backing
}

// Graph is a per-frame declarative DAG of render passes and the resources
// they touch, compiled into a dependency-correct execution schedule with a
// resource transition plan and pooled aliasing of transient backings.
//
// Lifecycle per frame: Declaring (AddPass / Import* / DeclarePersistent) →
// Compile → Execute → back to Declaring. The graph is driven by the render
// thread only and is not safe for concurrent use.
type Graph interface {
	// AddPass registers a pass. The setup callback declares the pass's
	// resource reads and writes immediately; the execute callback runs during
	// Execute in compiled order. Panics when called outside the Declaring
	// phase or with a duplicate pass name.
	//
	// Parameters:
	//   - name: the pass name (unique within the frame)
	//   - setup: declaration callback receiving the pass's PassBuilder
	//   - execute: execution callback invoked in schedule order
	AddPass(name string, setup func(b PassBuilder), execute func(ctx *ExecContext) error)

	// ImportTexture binds an externally owned texture (e.g. the current
	// swapchain image) under a resource name for this frame only. The binding
	// is cleared when Execute returns and must not be referenced afterwards.
	//
	// Parameters:
	//   - name: the resource name passes declare against
	//   - view: the externally owned texture view
	//   - initial: the state the texture is in when the frame begins
	ImportTexture(name string, view *wgpu.TextureView, initial ResourceState)

	// ImportBuffer binds an externally owned buffer under a resource name for
	// this frame only.
	//
	// Parameters:
	//   - name: the resource name passes declare against
	//   - buffer: the externally owned buffer
	//   - initial: the state the buffer is in when the frame begins
	ImportBuffer(name string, buffer *wgpu.Buffer, initial ResourceState)

	// DeclarePersistent declares a graph-owned resource that survives across
	// frames. The backing is allocated on first Execute and never aliased.
	// Declaring the same name again with an identical desc is a no-op.
	//
	// Parameters:
	//   - name: the resource name
	//   - desc: the backing allocation description
	DeclarePersistent(name string, desc ResourceDesc)

	// Compile validates the declared passes and resources, produces the
	// execution schedule (stable topological order, declaration-order tie
	// break), assigns aliased backings to transients, and records the
	// transition plan. A dependency cycle, a reference to an undeclared
	// resource, or a transient that is read but never written is a hard
	// compile error: the frame must not render.
	//
	// Returns:
	//   - error: the compile failure, or nil
	Compile() error

	// Execute invokes each pass callback in schedule order, surfacing the
	// per-pass transition plan to the configured handler first. The first
	// pass error aborts the remainder of the frame; GPU work already recorded
	// is not rolled back. Whether execution succeeds or fails, the graph
	// returns to the Declaring phase with imported bindings cleared and
	// transient backings released.
	//
	// Parameters:
	//   - encoder: the command encoder passes record into
	//   - frame: the current frame counter
	//
	// Returns:
	//   - error: the first pass error, or nil
	Execute(encoder *wgpu.CommandEncoder, frame uint64) error

	// ExecutionOrder returns the compiled pass names in schedule order.
	// Only meaningful after a successful Compile.
	//
	// Returns:
	//   - []string: pass names in execution order
	ExecutionOrder() []string

	// PassTransitions returns the compiled transition plan for one pass.
	//
	// Parameters:
	//   - passName: the pass to inspect
	//
	// Returns:
	//   - []Transition: the state changes applied before that pass
	PassTransitions(passName string) []Transition

	// AliasGroups returns, for each pooled physical allocation, the names of
	// the transient resources sharing it. Only meaningful after Compile.
	//
	// Returns:
	//   - [][]string: transient resource names grouped by shared backing
	AliasGroups() [][]string

	// Phase returns the graph's current lifecycle phase.
	Phase() Phase

	// Reset discards the frame's declarations and returns to the Declaring
	// phase without executing. Persistent resources are retained. Used when a
	// compile failure abandons the frame.
	Reset()
}

var _ Graph = &graph{}

// NewGraph creates a new Graph with the given allocator for graph-owned
// backings and the provided options applied.
//
// Parameters:
//   - allocator: the backing allocator for transient and persistent resources (must not be nil)
//   - options: functional options for graph configuration
//
// Returns:
//   - Graph: the newly created graph
func NewGraph(allocator Allocator, options ...GraphBuilderOption) Graph {
	if allocator == nil {
		panic("graph: NewGraph requires a non-nil Allocator")
	}

	g := &graph{
		resources:       make(map[string]*resource),
		persistent:      make(map[string]*resource),
		persistentState: make(map[string]ResourceState),
		allocator:       allocator,
	}

	for _, option := range options {
		option(g)
	}
	return g
}

func (g *graph) AddPass(name string, setup func(b PassBuilder), execute func(ctx *ExecContext) error) {
	if g.phase != PhaseDeclaring {
		panic(fmt.Sprintf("graph: AddPass(%q) outside the Declaring phase", name))
	}
	for _, p := range g.passes {
		if p.name == name {
			panic(fmt.Sprintf("graph: pass %q declared twice", name))
		}
	}

	p := &pass{
		name:      name,
		declOrder: len(g.passes),
		execute:   execute,
	}
	g.passes = append(g.passes, p)

	if setup != nil {
		setup(&passBuilder{g: g, p: p})
	}
}

func (g *graph) ImportTexture(name string, view *wgpu.TextureView, initial ResourceState) {
	r := g.importResource(name, ResourceTypeImage, initial)
	r.backing = Backing{View: view}
	r.hasBacking = view != nil
}

func (g *graph) ImportBuffer(name string, buffer *wgpu.Buffer, initial ResourceState) {
	r := g.importResource(name, ResourceTypeBuffer, initial)
	r.backing = Backing{Buffer: buffer}
	r.hasBacking = buffer != nil
}

func (g *graph) DeclarePersistent(name string, desc ResourceDesc) {
	if g.phase != PhaseDeclaring {
		panic(fmt.Sprintf("graph: DeclarePersistent(%q) outside the Declaring phase", name))
	}

	if existing, ok := g.persistent[name]; ok {
		if existing.desc != desc {
			panic(fmt.Sprintf("graph: persistent resource %q re-declared with a different desc", name))
		}
	} else {
		g.persistent[name] = &resource{
			name:     name,
			lifetime: LifetimePersistent,
			desc:     desc,
			physical: -1,
		}
		g.persistentOrder = append(g.persistentOrder, name)
	}

	// Make the persistent resource addressable in the current frame.
	if _, ok := g.resources[name]; !ok {
		p := g.persistent[name]
		p.declOrder = g.declSeq
		g.declSeq++
		p.writers = p.writers[:0]
		p.readers = p.readers[:0]
		g.resources[name] = p
	}
}

func (g *graph) Compile() error {
	if g.phase != PhaseDeclaring {
		panic("graph: Compile outside the Declaring phase")
	}

	if err := g.validate(); err != nil {
		return err
	}

	order, err := g.schedule()
	if err != nil {
		return err
	}
	g.order = order

	g.computeLiveRanges()
	g.assignAliases()
	g.planTransitions()

	g.phase = PhaseCompiled
	return nil
}

func (g *graph) Execute(encoder *wgpu.CommandEncoder, frame uint64) error {
	if g.phase != PhaseCompiled {
		panic("graph: Execute without a successful Compile")
	}
	g.phase = PhaseExecuting

	if err := g.bindBackings(); err != nil {
		g.finishFrame()
		return err
	}

	ctx := &ExecContext{Encoder: encoder, Frame: frame, g: g}
	for _, idx := range g.order {
		p := g.passes[idx]
		ctx.current = p

		if g.transitionHandler != nil && len(p.transitions) > 0 {
			g.transitionHandler(ctx, p.transitions)
		}

		if err := p.execute(ctx); err != nil {
			g.finishFrame()
			return fmt.Errorf("graph: pass %q failed, frame aborted: %w", p.name, err)
		}
	}

	g.finishFrame()
	return nil
}

func (g *graph) ExecutionOrder() []string {
	names := make([]string, 0, len(g.order))
	for _, idx := range g.order {
		names = append(names, g.passes[idx].name)
	}
	return names
}

func (g *graph) PassTransitions(passName string) []Transition {
	for _, p := range g.passes {
		if p.name == passName {
			return p.transitions
		}
	}
	return nil
}

func (g *graph) AliasGroups() [][]string {
	groups := make([][]string, len(g.physicals))
	names := make([]string, 0, len(g.resources))
	for name := range g.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := g.resources[name]
		if r.lifetime == LifetimeTransient && r.physical >= 0 {
			groups[r.physical] = append(groups[r.physical], name)
		}
	}
	return groups
}

func (g *graph) Phase() Phase {
	return g.phase
}

func (g *graph) Reset() {
	g.finishFrame()
}

// importResource declares an externally owned resource for this frame.
func (g *graph) importResource(name string, typ ResourceType, initial ResourceState) *resource {
	if g.phase != PhaseDeclaring {
		panic(fmt.Sprintf("graph: import of %q outside the Declaring phase", name))
	}
	if _, exists := g.resources[name]; exists {
		panic(fmt.Sprintf("graph: resource %q declared twice", name))
	}

	r := &resource{
		name:         name,
		lifetime:     LifetimeImported,
		desc:         ResourceDesc{Type: typ},
		declOrder:    g.declSeq,
		physical:     -1,
		initialState: initial,
	}
	g.declSeq++
	g.resources[name] = r
	return r
}

// declareResource registers a graph-owned resource during declaration.
func (g *graph) declareResource(name string, lifetime Lifetime, desc ResourceDesc) {
	g.resources[name] = &resource{
		name:      name,
		lifetime:  lifetime,
		desc:      desc,
		declOrder: g.declSeq,
		physical:  -1,
	}
	g.declSeq++
}

// validate checks every declared access against the resource registry and
// records writer/reader pass indices per resource.
func (g *graph) validate() error {
	for _, r := range g.resources {
		r.writers = r.writers[:0]
		r.readers = r.readers[:0]
	}

	for i, p := range g.passes {
		for _, a := range p.writes {
			r, ok := g.resources[a.resource]
			if !ok {
				return fmt.Errorf("graph: pass %q writes undeclared resource %q", p.name, a.resource)
			}
			r.writers = append(r.writers, i)
		}
		for _, a := range p.reads {
			r, ok := g.resources[a.resource]
			if !ok {
				return fmt.Errorf("graph: pass %q reads undeclared resource %q", p.name, a.resource)
			}
			r.readers = append(r.readers, i)
		}
	}

	// A transient that is read but produced by no pass has no defined
	// contents. Imported and persistent resources carry external or
	// prior-frame contents, so reading them without a writer is legal.
	for _, name := range g.sortedResourceNames() {
		r := g.resources[name]
		if r.lifetime == LifetimeTransient && len(r.readers) > 0 && len(r.writers) == 0 {
			return fmt.Errorf("graph: transient resource %q is read but never written", name)
		}
	}
	return nil
}

// schedule produces the execution order: a topological sort over
// write-then-read and write-then-write dependencies, with ties broken by pass
// declaration order so the schedule is deterministic for a given declaration
// sequence.
func (g *graph) schedule() ([]int, error) {
	n := len(g.passes)
	adjacency := make([][]int, n)
	indegree := make([]int, n)

	addEdge := func(from, to int) {
		if from == to {
			return
		}
		for _, existing := range adjacency[from] {
			if existing == to {
				return
			}
		}
		adjacency[from] = append(adjacency[from], to)
		indegree[to]++
	}

	for _, name := range g.sortedResourceNames() {
		r := g.resources[name]

		// Interleave writers and readers by declaration index so each access
		// depends on the most recent prior writer.
		type event struct {
			pass  int
			write bool
		}
		events := make([]event, 0, len(r.writers)+len(r.readers))
		for _, w := range r.writers {
			events = append(events, event{pass: w, write: true})
		}
		for _, rd := range r.readers {
			events = append(events, event{pass: rd, write: false})
		}
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].pass != events[j].pass {
				return events[i].pass < events[j].pass
			}
			// A pass that both reads and writes a resource orders its write first.
			return events[i].write && !events[j].write
		})

		lastWriter := -1
		firstWriter := -1
		var earlyReaders []int
		for _, ev := range events {
			if ev.write {
				if lastWriter >= 0 {
					addEdge(lastWriter, ev.pass) // write-then-write
				}
				if firstWriter < 0 {
					firstWriter = ev.pass
				}
				lastWriter = ev.pass
			} else if lastWriter >= 0 {
				addEdge(lastWriter, ev.pass) // write-then-read
			} else {
				earlyReaders = append(earlyReaders, ev.pass)
			}
		}

		// Readers declared before any writer: a transient has no contents until
		// produced, so the consumer waits for the first writer. Imported and
		// persistent resources carry prior contents, so such a reader must run
		// before the first writer overwrites them.
		if firstWriter >= 0 {
			for _, rd := range earlyReaders {
				if r.lifetime == LifetimeTransient {
					addEdge(firstWriter, rd)
				} else {
					addEdge(rd, firstWriter)
				}
			}
		}
	}

	order := make([]int, 0, n)
	scheduled := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !scheduled[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i := 0; i < n; i++ {
				if !scheduled[i] {
					stuck = append(stuck, g.passes[i].name)
				}
			}
			return nil, fmt.Errorf("graph: dependency cycle involving passes %v", stuck)
		}

		scheduled[next] = true
		g.passes[next].scheduled = len(order)
		order = append(order, next)
		for _, to := range adjacency[next] {
			indegree[to]--
		}
	}
	return order, nil
}

// computeLiveRanges records first-use and last-use schedule indices for every
// graph-owned resource.
func (g *graph) computeLiveRanges() {
	for _, r := range g.resources {
		r.firstUse = len(g.passes)
		r.lastUse = -1
		for _, lists := range [][]int{r.writers, r.readers} {
			for _, passIdx := range lists {
				s := g.passes[passIdx].scheduled
				if s < r.firstUse {
					r.firstUse = s
				}
				if s > r.lastUse {
					r.lastUse = s
				}
			}
		}
	}
}

// assignAliases greedily packs transient resources onto pooled physical
// allocations: a transient may reuse a slot with an identical desc whose
// previous occupant's live range ended before this one begins. This bounds
// peak memory by the number of simultaneously live transients rather than the
// number declared.
func (g *graph) assignAliases() {
	g.physicals = g.physicals[:0]

	transients := make([]*resource, 0, len(g.resources))
	for _, name := range g.sortedResourceNames() {
		r := g.resources[name]
		if r.lifetime == LifetimeTransient && r.lastUse >= 0 {
			transients = append(transients, r)
		}
	}
	sort.SliceStable(transients, func(i, j int) bool {
		if transients[i].firstUse != transients[j].firstUse {
			return transients[i].firstUse < transients[j].firstUse
		}
		return transients[i].declOrder < transients[j].declOrder
	})

	for _, r := range transients {
		assigned := -1
		for i := range g.physicals {
			if g.physicals[i].desc == r.desc && g.physicals[i].lastUse < r.firstUse {
				assigned = i
				break
			}
		}
		if assigned < 0 {
			g.physicals = append(g.physicals, physicalSlot{desc: r.desc, lastUse: r.lastUse})
			assigned = len(g.physicals) - 1
		} else {
			g.physicals[assigned].lastUse = r.lastUse
		}
		r.physical = assigned
	}
}

// planTransitions walks the schedule and records, per pass, the state change
// each accessed resource requires relative to the state its previous access
// left it in.
func (g *graph) planTransitions() {
	current := make(map[string]ResourceState, len(g.resources))
	for name, r := range g.resources {
		switch r.lifetime {
		case LifetimeImported:
			current[name] = r.initialState
		case LifetimePersistent:
			current[name] = g.persistentState[name]
		default:
			current[name] = StateUndefined
		}
	}

	for _, idx := range g.order {
		p := g.passes[idx]
		p.transitions = p.transitions[:0]
		for _, a := range append(append([]access{}, p.writes...), p.reads...) {
			if current[a.resource] == a.state {
				continue
			}
			p.transitions = append(p.transitions, Transition{
				Resource: a.resource,
				From:     current[a.resource],
				To:       a.state,
			})
			current[a.resource] = a.state
		}
	}

	// Remember the state each persistent resource is left in so next frame's
	// plan starts from it.
	for name, r := range g.resources {
		if r.lifetime == LifetimePersistent {
			g.persistentState[name] = current[name]
		}
	}
}

// bindBackings resolves every resource to a physical allocation before the
// pass callbacks run: imported resources must already be bound, persistent
// backings are allocated once and kept, and transients acquire pooled
// allocations according to the alias assignment.
func (g *graph) bindBackings() error {
	for _, name := range g.sortedResourceNames() {
		r := g.resources[name]
		switch r.lifetime {
		case LifetimeImported:
			if !r.hasBacking {
				return fmt.Errorf("graph: imported resource %q has no bound backing", name)
			}
		case LifetimePersistent:
			if !r.hasBacking {
				backing, err := g.allocator.Acquire(r.desc, r.name)
				if err != nil {
					return fmt.Errorf("graph: failed to allocate persistent resource %q: %w", name, err)
				}
				r.backing = backing
				r.hasBacking = true
			}
		}
	}

	for i := range g.physicals {
		slot := &g.physicals[i]
		backing, err := g.allocator.Acquire(slot.desc, fmt.Sprintf("transient#%d", i))
		if err != nil {
			return fmt.Errorf("graph: failed to allocate transient backing %d: %w", i, err)
		}
		slot.backing = backing
	}
	for _, r := range g.resources {
		if r.lifetime == LifetimeTransient && r.physical >= 0 {
			r.backing = g.physicals[r.physical].backing
			r.hasBacking = true
		}
	}
	return nil
}

// finishFrame releases transient backings, clears imported bindings, and
// returns the graph to the Declaring phase with persistent resources retained.
func (g *graph) finishFrame() {
	for i := range g.physicals {
		if g.physicals[i].backing != (Backing{}) {
			g.allocator.Release(g.physicals[i].desc, g.physicals[i].backing)
		}
	}
	g.physicals = g.physicals[:0]

	g.passes = g.passes[:0]
	g.order = g.order[:0]
	g.resources = make(map[string]*resource, len(g.persistent))
	g.declSeq = 0

	for _, name := range g.persistentOrder {
		p := g.persistent[name]
		p.declOrder = g.declSeq
		g.declSeq++
		p.writers = p.writers[:0]
		p.readers = p.readers[:0]
		g.resources[name] = p
	}

	g.phase = PhaseDeclaring
}

// sortedResourceNames returns resource names ordered by declaration sequence
// so validation and planning are deterministic.
func (g *graph) sortedResourceNames() []string {
	names := make([]string, 0, len(g.resources))
	for name := range g.resources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return g.resources[names[i]].declOrder < g.resources[names[j]].declOrder
	})
	return names
}
