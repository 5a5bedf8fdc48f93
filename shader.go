package gpuhub

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
	"github.com/gogpu/gpuhub/internal/cache"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// wgslCache holds compiled WGSL keyed by the SHA-256 of the source. It is
// shared by every device in the process.
var wgslCache = cache.New[[sha256.Size]byte, []uint32](64)

// ShaderModuleDescriptor describes a shader module. Exactly one of WGSL and
// SPIRV must be set.
type ShaderModuleDescriptor struct {
	Label string
	WGSL  string
	SPIRV []uint32
}

// ShaderModule is compiled shader code.
type ShaderModule struct {
	child[id.ShaderModule]
	words int
}

// CreateShaderModule compiles WGSL to SPIR-V with naga, or passes SPIR-V
// words through unchanged. Compile errors are validation errors.
func (dv *Device) CreateShaderModule(desc *ShaderModuleDescriptor) *ShaderModule {
	if desc == nil {
		desc = &ShaderModuleDescriptor{}
	}
	m := &ShaderModule{}
	attach(dv, dv.instance.hub.shaderModules, m, &m.child, "Device.CreateShaderModule", desc.Label, func() (backend.Handle, error) {
		code, err := shaderCode(desc)
		if err != nil {
			return backend.NilHandle, err
		}
		m.words = len(code)
		return dv.driver().CreateShaderModule(dv.handle, &backend.ShaderModuleDescriptor{Label: desc.Label, SPIRV: code})
	})
	return m
}

// shaderCode returns the SPIR-V words for desc.
func shaderCode(desc *ShaderModuleDescriptor) ([]uint32, error) {
	switch {
	case desc.WGSL != "" && len(desc.SPIRV) > 0:
		return nil, fmt.Errorf("shader %q sets both WGSL and SPIR-V: %w", desc.Label, ErrInvalidDescriptor)
	case desc.WGSL != "":
		words, err := wgslCache.GetOrCompile(sha256.Sum256([]byte(desc.WGSL)), func() ([]uint32, error) {
			return compileWGSL(desc.WGSL)
		})
		if err != nil {
			return nil, fmt.Errorf("shader %q: %w: %w", desc.Label, ErrInvalidDescriptor, err)
		}
		return slices.Clone(words), nil
	case len(desc.SPIRV) == 0:
		return nil, fmt.Errorf("shader %q has no code: %w", desc.Label, ErrInvalidDescriptor)
	case desc.SPIRV[0] != spirvMagic:
		return nil, fmt.Errorf("shader %q: bad SPIR-V magic %#08x: %w", desc.Label, desc.SPIRV[0], ErrInvalidDescriptor)
	}
	return desc.SPIRV, nil
}

// compileWGSL compiles WGSL source to little-endian SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile WGSL: %w", err)
	}
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("compile WGSL: SPIR-V length %d is not word aligned", len(spirv))
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return words, nil
}

// WordCount returns the size of the compiled module in 32-bit words.
func (m *ShaderModule) WordCount() int { return m.words }

// Destroy frees the module. Pipelines created from it stay valid.
// Destroy is idempotent.
func (m *ShaderModule) Destroy() {
	detach(&m.child, m.device.instance.hub.shaderModules, m)
}

func (m *ShaderModule) implicitDestroy() { m.Destroy() }
