package gpuhub

import "github.com/gogpu/gpuhub/id"

// hub holds one identity registry per resource kind. IDs handed to callers
// resolve through it, so a stale ID fails even after its slot is reused.
type hub struct {
	adapters         *id.Registry[id.Adapter, *Adapter]
	devices          *id.Registry[id.Device, *Device]
	queues           *id.Registry[id.Queue, *Queue]
	buffers          *id.Registry[id.Buffer, *Buffer]
	textures         *id.Registry[id.Texture, *Texture]
	textureViews     *id.Registry[id.TextureView, *TextureView]
	samplers         *id.Registry[id.Sampler, *Sampler]
	shaderModules    *id.Registry[id.ShaderModule, *ShaderModule]
	bindGroupLayouts *id.Registry[id.BindGroupLayout, *BindGroupLayout]
	bindGroups       *id.Registry[id.BindGroup, *BindGroup]
	pipelineLayouts  *id.Registry[id.PipelineLayout, *PipelineLayout]
	computePipelines *id.Registry[id.ComputePipeline, *ComputePipeline]
	renderPipelines  *id.Registry[id.RenderPipeline, *RenderPipeline]
	commandEncoders  *id.Registry[id.CommandEncoder, *CommandEncoder]
	commandBuffers   *id.Registry[id.CommandBuffer, *CommandBuffer]
	surfaces         *id.Registry[id.Surface, *Surface]
	swapChains       *id.Registry[id.SwapChain, *SwapChain]
}

func newHub() *hub {
	return &hub{
		adapters:         id.NewRegistry[id.Adapter, *Adapter](),
		devices:          id.NewRegistry[id.Device, *Device](),
		queues:           id.NewRegistry[id.Queue, *Queue](),
		buffers:          id.NewRegistry[id.Buffer, *Buffer](),
		textures:         id.NewRegistry[id.Texture, *Texture](),
		textureViews:     id.NewRegistry[id.TextureView, *TextureView](),
		samplers:         id.NewRegistry[id.Sampler, *Sampler](),
		shaderModules:    id.NewRegistry[id.ShaderModule, *ShaderModule](),
		bindGroupLayouts: id.NewRegistry[id.BindGroupLayout, *BindGroupLayout](),
		bindGroups:       id.NewRegistry[id.BindGroup, *BindGroup](),
		pipelineLayouts:  id.NewRegistry[id.PipelineLayout, *PipelineLayout](),
		computePipelines: id.NewRegistry[id.ComputePipeline, *ComputePipeline](),
		renderPipelines:  id.NewRegistry[id.RenderPipeline, *RenderPipeline](),
		commandEncoders:  id.NewRegistry[id.CommandEncoder, *CommandEncoder](),
		commandBuffers:   id.NewRegistry[id.CommandBuffer, *CommandBuffer](),
		surfaces:         id.NewRegistry[id.Surface, *Surface](),
		swapChains:       id.NewRegistry[id.SwapChain, *SwapChain](),
	}
}

// LookupDevice resolves a device ID.
func (inst *Instance) LookupDevice(i id.ID[id.Device]) (*Device, error) {
	return inst.hub.devices.Resolve(i)
}

// LookupBuffer resolves a buffer ID.
func (inst *Instance) LookupBuffer(i id.ID[id.Buffer]) (*Buffer, error) {
	return inst.hub.buffers.Resolve(i)
}

// LookupTexture resolves a texture ID.
func (inst *Instance) LookupTexture(i id.ID[id.Texture]) (*Texture, error) {
	return inst.hub.textures.Resolve(i)
}

// LookupCommandBuffer resolves a command buffer ID.
func (inst *Instance) LookupCommandBuffer(i id.ID[id.CommandBuffer]) (*CommandBuffer, error) {
	return inst.hub.commandBuffers.Resolve(i)
}

// LiveObjects returns the number of live entries of every resource kind,
// keyed by kind name.
func (inst *Instance) LiveObjects() map[string]int {
	h := inst.hub
	return map[string]int{
		"Adapter":         h.adapters.Len(),
		"Device":          h.devices.Len(),
		"Queue":           h.queues.Len(),
		"Buffer":          h.buffers.Len(),
		"Texture":         h.textures.Len(),
		"TextureView":     h.textureViews.Len(),
		"Sampler":         h.samplers.Len(),
		"ShaderModule":    h.shaderModules.Len(),
		"BindGroupLayout": h.bindGroupLayouts.Len(),
		"BindGroup":       h.bindGroups.Len(),
		"PipelineLayout":  h.pipelineLayouts.Len(),
		"ComputePipeline": h.computePipelines.Len(),
		"RenderPipeline":  h.renderPipelines.Len(),
		"CommandEncoder":  h.commandEncoders.Len(),
		"CommandBuffer":   h.commandBuffers.Len(),
		"Surface":         h.surfaces.Len(),
		"SwapChain":       h.swapChains.Len(),
	}
}
