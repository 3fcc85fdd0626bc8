package graph

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAllocator counts acquisitions and hands out empty backings; the graph
// tests only care about pooling behavior, not real GPU allocations.
type fakeAllocator struct {
	acquired int
	released int
}

func (f *fakeAllocator) Acquire(desc ResourceDesc, label string) (Backing, error) {
	f.acquired++
	if desc.Type == ResourceTypeBuffer {
		return Backing{Buffer: &wgpu.Buffer{}}, nil
	}
	return Backing{Texture: &wgpu.Texture{}, View: &wgpu.TextureView{}}, nil
}

func (f *fakeAllocator) Release(desc ResourceDesc, backing Backing) {
	f.released++
}

func (f *fakeAllocator) Trim(currentFrame uint64) int { return 0 }

func colorDesc() ResourceDesc {
	return ResourceDesc{
		Type:         ResourceTypeImage,
		Width:        1920,
		Height:       1080,
		Format:       wgpu.TextureFormatRGBA8Unorm,
		TextureUsage: wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	}
}

func noopExec(*ExecContext) error { return nil }

func TestCompileOrdersWritesBeforeReads(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	// Declared consumer-first: the schedule must still place the producer
	// ahead of both consumers.
	g.AddPass("tonemap", func(b PassBuilder) {
		b.Read("hdr", StateSampledRead)
		b.CreateTransient("ldr", colorDesc(), StateColorWrite)
	}, noopExec)
	g.AddPass("debug-overlay", func(b PassBuilder) {
		b.Read("hdr", StateSampledRead)
	}, noopExec)
	g.AddPass("forward", func(b PassBuilder) {
		b.CreateTransient("hdr", colorDesc(), StateColorWrite)
	}, noopExec)

	require.NoError(t, g.Compile())
	assert.Equal(t, []string{"forward", "tonemap", "debug-overlay"}, g.ExecutionOrder(),
		"producer first, then consumers in declaration order")
}

func TestCompileIsDeterministicForIndependentPasses(t *testing.T) {
	build := func() Graph {
		g := NewGraph(&fakeAllocator{})
		g.AddPass("c", func(b PassBuilder) { b.CreateTransient("rc", colorDesc(), StateColorWrite) }, noopExec)
		g.AddPass("a", func(b PassBuilder) { b.CreateTransient("ra", colorDesc(), StateColorWrite) }, noopExec)
		g.AddPass("b", func(b PassBuilder) { b.CreateTransient("rb", colorDesc(), StateColorWrite) }, noopExec)
		require.NoError(t, g.Compile())
		return g
	}

	first := build().ExecutionOrder()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build().ExecutionOrder())
	}
	assert.Equal(t, []string{"c", "a", "b"}, first, "ties break by declaration order")
}

func TestCompileDetectsCycle(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	g.AddPass("a", func(b PassBuilder) {
		b.CreateTransient("ra", colorDesc(), StateColorWrite)
		b.Read("rb", StateSampledRead)
	}, noopExec)
	g.AddPass("b", func(b PassBuilder) {
		b.CreateTransient("rb", colorDesc(), StateColorWrite)
		b.Read("ra", StateSampledRead)
	}, noopExec)

	err := g.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, PhaseDeclaring, g.Phase(), "failed compile leaves the graph declaring")
}

func TestCompileRejectsUndeclaredResource(t *testing.T) {
	g := NewGraph(&fakeAllocator{})
	g.AddPass("lonely", func(b PassBuilder) {
		b.Read("nobody-made-this", StateSampledRead)
	}, noopExec)

	err := g.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared")
}

func TestImportedReadRunsBeforeOverwrite(t *testing.T) {
	g := NewGraph(&fakeAllocator{})
	g.ImportTexture("backbuffer", &wgpu.TextureView{}, StateColorWrite)

	// "snapshot" reads last frame's contents; "clear" overwrites them. The
	// reader must be scheduled first even though nothing else orders them.
	g.AddPass("snapshot", func(b PassBuilder) {
		b.Read("backbuffer", StateCopySrc)
	}, noopExec)
	g.AddPass("clear", func(b PassBuilder) {
		b.Write("backbuffer", StateColorWrite)
	}, noopExec)

	require.NoError(t, g.Compile())
	assert.Equal(t, []string{"snapshot", "clear"}, g.ExecutionOrder())
}

func TestTransientAliasing(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	// a's live range ends at p1 and c's begins at p2, with identical descs:
	// they must share a backing. b stays live across both and must not.
	g.AddPass("p0", func(b PassBuilder) {
		b.CreateTransient("a", colorDesc(), StateColorWrite)
		b.CreateTransient("b", colorDesc(), StateColorWrite)
	}, noopExec)
	g.AddPass("p1", func(b PassBuilder) {
		b.Read("a", StateSampledRead)
	}, noopExec)
	g.AddPass("p2", func(b PassBuilder) {
		b.Read("b", StateSampledRead)
		b.CreateTransient("c", colorDesc(), StateColorWrite)
	}, noopExec)
	g.AddPass("p3", func(b PassBuilder) {
		b.Read("c", StateSampledRead)
	}, noopExec)

	require.NoError(t, g.Compile())

	groups := g.AliasGroups()
	require.Len(t, groups, 2, "three transients must pack into two physical allocations")

	var shared, solo []string
	for _, grp := range groups {
		if len(grp) == 2 {
			shared = grp
		} else {
			solo = grp
		}
	}
	assert.ElementsMatch(t, []string{"a", "c"}, shared, "disjoint live ranges alias")
	assert.Equal(t, []string{"b"}, solo, "overlapping live range stays dedicated")
}

func TestAliasingRespectsDescMismatch(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	small := colorDesc()
	small.Width, small.Height = 960, 540

	g.AddPass("p0", func(b PassBuilder) {
		b.CreateTransient("full", colorDesc(), StateColorWrite)
	}, noopExec)
	g.AddPass("p1", func(b PassBuilder) {
		b.Read("full", StateSampledRead)
		b.CreateTransient("half", small, StateColorWrite)
	}, noopExec)

	require.NoError(t, g.Compile())
	for _, grp := range g.AliasGroups() {
		assert.Len(t, grp, 1, "different descs never share a backing")
	}
}

func TestTransitionPlan(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	g.AddPass("forward", func(b PassBuilder) {
		b.CreateTransient("hdr", colorDesc(), StateColorWrite)
	}, noopExec)
	g.AddPass("tonemap", func(b PassBuilder) {
		b.Read("hdr", StateSampledRead)
	}, noopExec)

	require.NoError(t, g.Compile())

	assert.Equal(t, []Transition{{Resource: "hdr", From: StateUndefined, To: StateColorWrite}},
		g.PassTransitions("forward"))
	assert.Equal(t, []Transition{{Resource: "hdr", From: StateColorWrite, To: StateSampledRead}},
		g.PassTransitions("tonemap"))
}

func TestExecuteRunsInOrderAndSurfacesTransitions(t *testing.T) {
	var applied []Transition
	g := NewGraph(&fakeAllocator{}, WithTransitionHandler(func(ctx *ExecContext, transitions []Transition) {
		applied = append(applied, transitions...)
	}))

	var ran []string
	record := func(name string) func(*ExecContext) error {
		return func(ctx *ExecContext) error {
			ran = append(ran, name)
			return nil
		}
	}

	g.ImportTexture("backbuffer", &wgpu.TextureView{}, StateUndefined)
	g.AddPass("present-blit", func(b PassBuilder) {
		b.Read("hdr", StateSampledRead)
		b.Write("backbuffer", StateColorWrite)
	}, record("present-blit"))
	g.AddPass("forward", func(b PassBuilder) {
		b.CreateTransient("hdr", colorDesc(), StateColorWrite)
	}, record("forward"))

	require.NoError(t, g.Compile())
	require.NoError(t, g.Execute(nil, 7))

	assert.Equal(t, []string{"forward", "present-blit"}, ran)
	assert.NotEmpty(t, applied)
	assert.Equal(t, PhaseDeclaring, g.Phase(), "graph returns to declaring after execute")
}

func TestExecuteAbortsFrameOnPassError(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	boom := errors.New("device lost")
	var ran []string
	g.AddPass("first", func(b PassBuilder) {
		b.CreateTransient("r", colorDesc(), StateColorWrite)
	}, func(ctx *ExecContext) error {
		ran = append(ran, "first")
		return nil
	})
	g.AddPass("second", func(b PassBuilder) {
		b.Read("r", StateSampledRead)
		b.CreateTransient("r2", colorDesc(), StateColorWrite)
	}, func(ctx *ExecContext) error {
		ran = append(ran, "second")
		return boom
	})
	g.AddPass("third", func(b PassBuilder) {
		b.Read("r2", StateSampledRead)
	}, func(ctx *ExecContext) error {
		ran = append(ran, "third")
		return nil
	})

	require.NoError(t, g.Compile())
	err := g.Execute(nil, 0)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")

	assert.Equal(t, []string{"first", "second"}, ran, "passes after the failure must not run")
	assert.Equal(t, PhaseDeclaring, g.Phase(), "the next frame starts clean")
}

func TestTransientBackingsReleasedEachFrame(t *testing.T) {
	alloc := &fakeAllocator{}
	g := NewGraph(alloc)

	frame := func() {
		g.AddPass("p", func(b PassBuilder) {
			b.CreateTransient("scratch", colorDesc(), StateColorWrite)
		}, noopExec)
		require.NoError(t, g.Compile())
		require.NoError(t, g.Execute(nil, 0))
	}

	frame()
	require.Equal(t, 1, alloc.acquired)
	require.Equal(t, 1, alloc.released)

	frame()
	assert.Equal(t, 2, alloc.acquired, "second frame re-acquires from the allocator")
	assert.Equal(t, 2, alloc.released)
}

func TestPersistentResourceAllocatedOnce(t *testing.T) {
	alloc := &fakeAllocator{}
	g := NewGraph(alloc)

	frame := func() {
		g.DeclarePersistent("history", colorDesc())
		g.AddPass("taa", func(b PassBuilder) {
			b.Read("history", StateSampledRead)
			b.Write("history", StateColorWrite)
		}, noopExec)
		require.NoError(t, g.Compile())
		require.NoError(t, g.Execute(nil, 0))
	}

	frame()
	frame()
	frame()
	assert.Equal(t, 1, alloc.acquired, "persistent backing is created once and kept")
	assert.Zero(t, alloc.released, "persistent backings are never pooled")
}

func TestImportedBindingClearedAfterExecute(t *testing.T) {
	g := NewGraph(&fakeAllocator{})

	view := &wgpu.TextureView{}
	g.ImportTexture("swapchain", view, StateUndefined)

	var seen *wgpu.TextureView
	g.AddPass("blit", func(b PassBuilder) {
		b.Write("swapchain", StateColorWrite)
	}, func(ctx *ExecContext) error {
		seen = ctx.TextureView("swapchain")
		return nil
	})

	require.NoError(t, g.Compile())
	require.NoError(t, g.Execute(nil, 0))
	assert.Same(t, view, seen, "pass sees the imported view during execute")

	// Next frame: the import is gone until re-declared.
	g.AddPass("blit", func(b PassBuilder) {
		b.Write("swapchain", StateColorWrite)
	}, noopExec)
	err := g.Compile()
	require.Error(t, err, "stale imported name must not carry into the next frame")
}

func TestAddPassOutsideDeclaringPanics(t *testing.T) {
	g := NewGraph(&fakeAllocator{})
	g.AddPass("p", func(b PassBuilder) {
		b.CreateTransient("r", colorDesc(), StateColorWrite)
	}, noopExec)
	require.NoError(t, g.Compile())

	assert.Panics(t, func() { g.AddPass("late", nil, noopExec) })
}
