package id

import (
	"fmt"
	"strings"
)

// Backend identifies the native graphics API a resource was created on.
// Every ID carries the backend of the adapter it descends from, so calls
// on that ID can be routed without looking up the owning device.
type Backend uint8

// Backend tags.
const (
	// Empty is the zero backend. IDs with this tag are never issued.
	Empty Backend = iota

	// Vulkan targets Vulkan 1.x drivers.
	Vulkan

	// Metal targets Apple Metal.
	Metal

	// DX12 targets Direct3D 12.
	DX12

	// DX11 targets Direct3D 11.
	DX11

	// GL targets OpenGL / GLES.
	GL

	// Software is the in-process reference backend.
	Software

	backendCount
)

var backendNames = [...]string{
	Empty:    "empty",
	Vulkan:   "vulkan",
	Metal:    "metal",
	DX12:     "dx12",
	DX11:     "dx11",
	GL:       "gl",
	Software: "software",
}

// String returns the lowercase backend name.
func (b Backend) String() string {
	if b < backendCount {
		return backendNames[b]
	}
	return fmt.Sprintf("Backend(%d)", uint8(b))
}

// ParseBackend converts a backend name (case-insensitive) to its tag.
func ParseBackend(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for b := Vulkan; b < backendCount; b++ {
		if backendNames[b] == name {
			return b, nil
		}
	}
	return Empty, fmt.Errorf("id: unknown backend %q", name)
}

// Kind is implemented by the marker types that parameterize ID.
type Kind interface {
	KindName() string
}

// Resource kind markers.
type (
	Adapter         struct{}
	Device          struct{}
	Queue           struct{}
	Buffer          struct{}
	Texture         struct{}
	TextureView     struct{}
	Sampler         struct{}
	ShaderModule    struct{}
	BindGroupLayout struct{}
	BindGroup       struct{}
	PipelineLayout  struct{}
	ComputePipeline struct{}
	RenderPipeline  struct{}
	CommandEncoder  struct{}
	CommandBuffer   struct{}
	Surface         struct{}
	SwapChain       struct{}
)

func (Adapter) KindName() string         { return "Adapter" }
func (Device) KindName() string          { return "Device" }
func (Queue) KindName() string           { return "Queue" }
func (Buffer) KindName() string          { return "Buffer" }
func (Texture) KindName() string         { return "Texture" }
func (TextureView) KindName() string     { return "TextureView" }
func (Sampler) KindName() string         { return "Sampler" }
func (ShaderModule) KindName() string    { return "ShaderModule" }
func (BindGroupLayout) KindName() string { return "BindGroupLayout" }
func (BindGroup) KindName() string       { return "BindGroup" }
func (PipelineLayout) KindName() string  { return "PipelineLayout" }
func (ComputePipeline) KindName() string { return "ComputePipeline" }
func (RenderPipeline) KindName() string  { return "RenderPipeline" }
func (CommandEncoder) KindName() string  { return "CommandEncoder" }
func (CommandBuffer) KindName() string   { return "CommandBuffer" }
func (Surface) KindName() string         { return "Surface" }
func (SwapChain) KindName() string       { return "SwapChain" }

// Raw packing layout: index in the low 32 bits, then the generation,
// then the backend tag in the top bits.
const (
	generationBits = 29
	backendBits    = 3
	generationMask = 1<<generationBits - 1
	backendShift   = 32 + generationBits
)

// ID is an opaque, copyable identifier of a resource of kind K.
//
// IDs are plain values and compare with ==: two IDs are equal iff their
// index, generation and backend all match. The zero ID is invalid.
type ID[K Kind] struct {
	index      uint32
	generation uint32
	backend    Backend
}

// New builds an ID from its parts. Registries are the only code that should
// need it; it is exported for drivers and tests that round-trip raw IDs.
func New[K Kind](index, generation uint32, backend Backend) ID[K] {
	return ID[K]{index: index, generation: generation & generationMask, backend: backend}
}

// FromRaw unpacks an ID previously produced by Raw.
func FromRaw[K Kind](raw uint64) ID[K] {
	return ID[K]{
		index:      uint32(raw),
		generation: uint32(raw>>32) & generationMask,
		backend:    Backend(raw >> backendShift),
	}
}

// Index returns the registry slot index.
func (i ID[K]) Index() uint32 { return i.index }

// Generation returns the slot generation this ID was issued for.
func (i ID[K]) Generation() uint32 { return i.generation }

// Backend returns the backend tag.
func (i ID[K]) Backend() Backend { return i.backend }

// IsValid reports whether the ID was issued by a registry.
// It says nothing about whether the resource is still alive.
func (i ID[K]) IsValid() bool { return i.generation != 0 && i.backend != Empty }

// Raw packs the ID into a single uint64.
func (i ID[K]) Raw() uint64 {
	return uint64(i.index) |
		uint64(i.generation&generationMask)<<32 |
		uint64(i.backend)<<backendShift
}

// Kind returns the kind name of K.
func (i ID[K]) Kind() string {
	var k K
	return k.KindName()
}

// String returns a debug representation such as "Buffer(3,1,vulkan)".
func (i ID[K]) String() string {
	return fmt.Sprintf("%s(%d,%d,%s)", i.Kind(), i.index, i.generation, i.backend)
}

// nextGeneration returns the generation following g, skipping zero on wrap.
func nextGeneration(g uint32) uint32 {
	g = (g + 1) & generationMask
	if g == 0 {
		g = 1
	}
	return g
}
