package backend

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/id"
)

// AdapterInfo describes one physical adapter exposed by a driver.
type AdapterInfo struct {
	Handle     Handle
	Name       string
	Vendor     string
	DeviceType gputypes.DeviceType
	Backend    id.Backend
}

// Limits are the resource limits a device enforces.
type Limits struct {
	MaxBufferSize   uint64
	MaxBindGroups   uint32
	MaxTexture2D    uint32
	MinMapAlignment uint64
}

// DefaultLimits returns the limits every driver is expected to meet.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:   256 << 20,
		MaxBindGroups:   4,
		MaxTexture2D:    8192,
		MinMapAlignment: 8,
	}
}

// DeviceDescriptor configures OpenDevice.
type DeviceDescriptor struct {
	Label  string
	Limits Limits
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label            string
	Size             uint64
	Usage            gputypes.BufferUsage
	MappedAtCreation bool
}

// TextureDescriptor describes a texture.
type TextureDescriptor struct {
	Label         string
	Size          gputypes.Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// TextureViewDescriptor describes a view of a texture. Zero counts mean
// "all remaining levels/layers".
type TextureViewDescriptor struct {
	Label           string
	Format          gputypes.TextureFormat
	Dimension       gputypes.TextureViewDimension
	Aspect          gputypes.TextureAspect
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.MipmapFilterMode
}

// ShaderModuleDescriptor carries compiled SPIR-V words. Drivers treat the
// code as an opaque blob.
type ShaderModuleDescriptor struct {
	Label string
	SPIRV []uint32
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// BindGroupEntry binds one resource. Exactly one of Buffer, Sampler and
// TextureView is set.
type BindGroupEntry struct {
	Binding     uint32
	Buffer      Handle
	Offset      uint64
	Size        uint64
	Sampler     Handle
	TextureView Handle
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  Handle
	Entries []BindGroupEntry
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	Label            string
	BindGroupLayouts []Handle
}

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label      string
	Layout     Handle
	Module     Handle
	EntryPoint string
}

// RenderPipelineDescriptor describes a render pipeline.
type RenderPipelineDescriptor struct {
	Label              string
	Layout             Handle
	VertexModule       Handle
	VertexEntryPoint   string
	VertexBuffers      []gputypes.VertexBufferLayout
	FragmentModule     Handle
	FragmentEntryPoint string
	Targets            []gputypes.ColorTargetState
	Primitive          gputypes.PrimitiveState
	SampleCount        uint32
}

// MapRequest is the range and mode of a MapBuffer call.
type MapRequest struct {
	Mode   gputypes.MapMode
	Offset uint64
	Size   uint64
}

// MapStatus is the outcome of an asynchronous map.
type MapStatus uint8

// Map statuses.
const (
	MapStatusSuccess MapStatus = iota
	MapStatusValidationError
	MapStatusDeviceLost
	MapStatusAborted
	MapStatusDestroyed
	MapStatusError
)

// String returns a human-readable status.
func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusValidationError:
		return "ValidationError"
	case MapStatusDeviceLost:
		return "DeviceLost"
	case MapStatusAborted:
		return "Aborted"
	case MapStatusDestroyed:
		return "Destroyed"
	default:
		return "Error"
	}
}

// MapCallback receives the result of MapBuffer. On success data covers the
// requested range and stays valid until UnmapBuffer.
type MapCallback func(status MapStatus, data []byte)

// SurfaceTarget carries the native handles of a window. The core never
// interprets them.
type SurfaceTarget struct {
	Display uintptr
	Window  uintptr
}

// SwapChainDescriptor configures a swap chain on a surface.
type SwapChainDescriptor struct {
	Label  string
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
	Width  uint32
	Height uint32
	// ImageCount is the number of images cycled through; 0 means 2.
	ImageCount uint32
}
