package hotreload

import (
	"fmt"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderDevice is the slice of the GPU device the WGSL loader needs.
// Satisfied by device.Device.
type ShaderDevice interface {
	// CreateShaderModule creates a shader module from WGSL source text.
	CreateShaderModule(label, source string) (*wgpu.ShaderModule, error)
}

// wgslLoader loads artifacts that are WGSL text files.
type wgslLoader struct {
	dev ShaderDevice
}

var _ ModuleLoader = &wgslLoader{}

// NewWGSLLoader creates a ModuleLoader that reads artifacts as WGSL source
// and creates modules on the given device. Pair it with
// WithArtifactExtension(".wgsl") or a compile step that emits WGSL.
//
// Parameters:
//   - dev: the device modules are created on (must not be nil)
//
// Returns:
//   - ModuleLoader: the newly created loader
func NewWGSLLoader(dev ShaderDevice) ModuleLoader {
	if dev == nil {
		panic("hotreload: NewWGSLLoader requires a non-nil ShaderDevice")
	}
	return &wgslLoader{dev: dev}
}

func (l *wgslLoader) LoadModule(name, artifactPath string) (*wgpu.ShaderModule, error) {
	source, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("hotreload: failed to read artifact %q: %w", artifactPath, err)
	}
	return l.dev.CreateShaderModule(name, string(source))
}
