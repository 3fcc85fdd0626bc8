package hotreload

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/fsnotify/fsnotify"
)

// Stage identifies the pipeline stage a shader entry feeds.
type Stage int

const (
	// StageVertex is a vertex shader.
	StageVertex Stage = iota

	// StageFragment is a fragment shader.
	StageFragment

	// StageCompute is a compute shader.
	StageCompute
)

// CompileFunc invokes the external shader compiler toolchain: a blocking call
// taking the source path and the destination artifact path. When unset,
// changed sources skip compilation and are queued for reload directly.
type CompileFunc func(sourcePath, artifactPath string) error

// ModuleLoader turns a compiled artifact on disk into a live GPU shader
// module.
type ModuleLoader interface {
	// LoadModule loads the artifact at the given path.
	//
	// Parameters:
	//   - name: the shader entry name, for labels and diagnostics
	//   - artifactPath: the compiled artifact file
	//
	// Returns:
	//   - *wgpu.ShaderModule: the loaded module
	//   - error: an error if reading or module creation fails
	LoadModule(name, artifactPath string) (*wgpu.ShaderModule, error)
}

// Listener is notified after a shader's module has been swapped. It runs on
// the draining thread, once per swapped shader per drain.
type Listener func(name string)

// entry is one registered shader's state. The module pointer is only written
// by DrainPending on the main thread.
type entry struct {
	name         string
	sourcePath   string
	artifactPath string
	stage        Stage
	module       *wgpu.ShaderModule
}

// registry is the implementation of the Registry interface.
type registry struct {
	mu sync.Mutex

	loader  ModuleLoader
	compile CompileFunc
	ext     string

	entries   map[string]*entry
	byPath    map[string]string // cleaned source path -> entry name
	pending   []string
	listeners []Listener

	watcher        *fsnotify.Watcher
	workers        worker.DynamicWorkerPool
	compileWorkers int
	nextTask       int
	inFlight       sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
}

// Registry tracks shader source files, recompiles them off the main thread
// when they change, and swaps the live modules at a single per-frame drain
// point so every pass in a frame observes a consistent module. A failed
// compile or reload keeps the previous module and is reported, never fatal.
type Registry interface {
	// Register adds a shader entry and starts watching its source file. The
	// artifact path is the source path plus the configured extension; if an
	// artifact already exists on disk its module is loaded immediately.
	//
	// Parameters:
	//   - name: the unique shader name
	//   - sourcePath: the shader source file to watch
	//   - stage: the pipeline stage the shader feeds
	//
	// Returns:
	//   - error: an error if the name is taken or the watch cannot be added
	Register(name, sourcePath string, stage Stage) error

	// Module returns the shader's current live module, or nil when no
	// artifact has been loaded yet.
	//
	// Parameters:
	//   - name: the shader name
	//
	// Returns:
	//   - *wgpu.ShaderModule: the active module
	Module(name string) *wgpu.ShaderModule

	// AddListener registers a callback fired after each module swap.
	//
	// Parameters:
	//   - fn: the listener to add
	AddListener(fn Listener)

	// NotifyChanged queues a recompile of the named shader, as if its source
	// file had changed on disk.
	//
	// Parameters:
	//   - name: the shader name
	NotifyChanged(name string)

	// DrainPending reloads every shader whose compile finished since the last
	// drain (deduplicated), swapping modules and firing listeners on success.
	// Called once per frame on the main thread; this is the only point where
	// a reload can affect rendering.
	//
	// Returns:
	//   - int: the number of shaders whose module was swapped
	DrainPending() int

	// Shutdown stops the watcher and waits for in-flight compiles to finish.
	Shutdown()
}

var _ Registry = &registry{}

// NewRegistry creates a Registry loading modules through the given loader
// with the provided options applied.
//
// Parameters:
//   - loader: the artifact-to-module loader (must not be nil)
//   - options: functional options for registry configuration
//
// Returns:
//   - Registry: the newly created registry
//   - error: an error if the file watcher cannot be created
func NewRegistry(loader ModuleLoader, options ...RegistryBuilderOption) (Registry, error) {
	if loader == nil {
		panic("hotreload: NewRegistry requires a non-nil ModuleLoader")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotreload: failed to create file watcher: %w", err)
	}

	r := &registry{
		loader:         loader,
		ext:            ".spv",
		entries:        make(map[string]*entry),
		byPath:         make(map[string]string),
		watcher:        watcher,
		compileWorkers: 1,
		quit:           make(chan struct{}),
	}

	for _, option := range options {
		option(r)
	}

	r.workers = worker.NewDynamicWorkerPool(r.compileWorkers, 32, defaultIdleTimeout)

	go r.watch()
	return r, nil
}

func (r *registry) Register(name, sourcePath string, stage Stage) error {
	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("hotreload: shader %q already registered", name)
	}

	e := &entry{
		name:         name,
		sourcePath:   sourcePath,
		artifactPath: r.artifactPath(sourcePath),
		stage:        stage,
	}
	r.entries[name] = e
	r.byPath[filepath.Clean(sourcePath)] = name
	r.mu.Unlock()

	if module, err := r.loader.LoadModule(name, e.artifactPath); err == nil {
		r.mu.Lock()
		e.module = module
		r.mu.Unlock()
	}

	if err := r.watcher.Add(sourcePath); err != nil {
		// Unwind the registration so the name and path are free again; a
		// half-registered entry would shadow a later successful Register.
		r.mu.Lock()
		delete(r.entries, name)
		delete(r.byPath, filepath.Clean(sourcePath))
		r.mu.Unlock()
		return fmt.Errorf("hotreload: failed to watch %q: %w", sourcePath, err)
	}
	return nil
}

func (r *registry) Module(name string) *wgpu.ShaderModule {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		return e.module
	}
	return nil
}

func (r *registry) AddListener(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *registry) NotifyChanged(name string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	id := r.nextTask
	r.nextTask++
	r.mu.Unlock()

	if !ok {
		return
	}

	if r.compile == nil {
		r.enqueue(name)
		return
	}

	r.inFlight.Add(1)
	r.workers.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer r.inFlight.Done()

			if err := r.compile(e.sourcePath, e.artifactPath); err != nil {
				log.Printf("[hotreload] compile of %q failed, keeping previous module: %v", name, err)
				return nil, nil
			}
			r.enqueue(name)
			return nil, nil
		},
	})
}

func (r *registry) DrainPending() int {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	// Deduplicate repeated entries for the same shader within the drain
	// window, keeping first-queued order.
	seen := make(map[string]bool, len(pending))
	swapped := 0
	for _, name := range pending {
		if seen[name] {
			continue
		}
		seen[name] = true

		r.mu.Lock()
		e, ok := r.entries[name]
		r.mu.Unlock()
		if !ok {
			continue
		}

		module, err := r.loader.LoadModule(name, e.artifactPath)
		if err != nil {
			log.Printf("[hotreload] reload of %q failed, keeping previous module: %v", name, err)
			continue
		}

		// The old module is not released here: in-flight frames may still
		// reference pipelines built from it. Listeners rebuild their pipelines
		// and release the old module once it is safe.
		r.mu.Lock()
		e.module = module
		r.mu.Unlock()

		log.Printf("[hotreload] swapped shader %q", name)
		for _, fn := range listeners {
			fn(name)
		}
		swapped++
	}
	return swapped
}

func (r *registry) Shutdown() {
	r.quitOnce.Do(func() {
		close(r.quit)
	})
	r.watcher.Close()
	r.inFlight.Wait()
}

// watch runs on a dedicated goroutine, translating file events into compile
// submissions.
func (r *registry) watch() {
	for {
		select {
		case <-r.quit:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			r.mu.Lock()
			name, known := r.byPath[filepath.Clean(event.Name)]
			r.mu.Unlock()
			if known {
				r.NotifyChanged(name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[hotreload] watcher error: %v", err)
		}
	}
}

// enqueue pushes a compiled shader name onto the pending list for the next
// drain.
func (r *registry) enqueue(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, name)
}

// artifactPath derives the compiled artifact location from a source path.
func (r *registry) artifactPath(sourcePath string) string {
	return sourcePath + r.ext
}
