package backend

import "github.com/gogpu/gputypes"

// CommandList is a finished, ordered command stream ready for Submit.
type CommandList struct {
	Label    string
	Commands []Command
}

// Command is one top-level recorded command.
type Command interface {
	command()
}

// PassCommand is a command recorded inside a compute or render pass.
type PassCommand interface {
	passCommand()
}

// CopyBufferToBuffer copies Size bytes between buffers.
type CopyBufferToBuffer struct {
	Src       Handle
	SrcOffset uint64
	Dst       Handle
	DstOffset uint64
	Size      uint64
}

// ImageCopyBuffer locates texel data inside a buffer.
type ImageCopyBuffer struct {
	Buffer       Handle
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// ImageCopyTexture locates a region inside a texture.
type ImageCopyTexture struct {
	Texture  Handle
	MipLevel uint32
	Origin   gputypes.Origin3D
	Aspect   gputypes.TextureAspect
}

// CopyBufferToTexture uploads texels from a buffer.
type CopyBufferToTexture struct {
	Src  ImageCopyBuffer
	Dst  ImageCopyTexture
	Size gputypes.Extent3D
}

// CopyTextureToBuffer reads texels back into a buffer.
type CopyTextureToBuffer struct {
	Src  ImageCopyTexture
	Dst  ImageCopyBuffer
	Size gputypes.Extent3D
}

// CopyTextureToTexture copies a region between textures.
type CopyTextureToTexture struct {
	Src  ImageCopyTexture
	Dst  ImageCopyTexture
	Size gputypes.Extent3D
}

// ClearBuffer zeroes Size bytes starting at Offset.
type ClearBuffer struct {
	Buffer Handle
	Offset uint64
	Size   uint64
}

// ComputePass groups dispatches recorded between begin and end.
type ComputePass struct {
	Label    string
	Commands []PassCommand
}

// ColorAttachment is one render target of a render pass.
type ColorAttachment struct {
	View          Handle
	ResolveTarget Handle
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// DepthStencilAttachment is the depth/stencil target of a render pass.
type DepthStencilAttachment struct {
	View              Handle
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
}

// RenderPass groups draws recorded between begin and end.
type RenderPass struct {
	Label            string
	ColorAttachments []ColorAttachment
	DepthStencil     *DepthStencilAttachment
	Commands         []PassCommand
}

func (CopyBufferToBuffer) command()   {}
func (CopyBufferToTexture) command()  {}
func (CopyTextureToBuffer) command()  {}
func (CopyTextureToTexture) command() {}
func (ClearBuffer) command()          {}
func (ComputePass) command()          {}
func (RenderPass) command()           {}

// SetComputePipeline selects the compute pipeline for later dispatches.
type SetComputePipeline struct {
	Pipeline Handle
}

// SetRenderPipeline selects the render pipeline for later draws.
type SetRenderPipeline struct {
	Pipeline Handle
}

// SetBindGroup binds a group at Index.
type SetBindGroup struct {
	Index          uint32
	Group          Handle
	DynamicOffsets []uint32
}

// Dispatch runs X*Y*Z workgroups.
type Dispatch struct {
	X, Y, Z uint32
}

// SetVertexBuffer binds a vertex buffer range to Slot.
type SetVertexBuffer struct {
	Slot   uint32
	Buffer Handle
	Offset uint64
	Size   uint64
}

// SetIndexBuffer binds an index buffer range.
type SetIndexBuffer struct {
	Buffer Handle
	Format gputypes.IndexFormat
	Offset uint64
	Size   uint64
}

// Draw issues a non-indexed draw.
type Draw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// DrawIndexed issues an indexed draw.
type DrawIndexed struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (SetComputePipeline) passCommand() {}
func (SetRenderPipeline) passCommand()  {}
func (SetBindGroup) passCommand()       {}
func (Dispatch) passCommand()           {}
func (SetVertexBuffer) passCommand()    {}
func (SetIndexBuffer) passCommand()     {}
func (Draw) passCommand()               {}
func (DrawIndexed) passCommand()        {}
