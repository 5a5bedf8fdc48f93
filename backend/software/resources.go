package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

// object is any resource stored in the driver's handle table.
type object interface {
	owner() backend.Handle
}

type owned struct {
	dev   backend.Handle
	label string
}

func (o owned) owner() backend.Handle { return o.dev }

type buffer struct {
	owned
	usage     gputypes.BufferUsage
	data      []byte
	pending   *pendingMap
	mapped    bool
	destroyed bool
}

type texture struct {
	owned
	desc          backend.TextureDescriptor
	bytesPerTexel uint32
	data          []byte
	// swapChain marks images owned by a swap chain.
	swapChain backend.Handle
}

func (t *texture) rowPitch() uint64 {
	return uint64(t.desc.Size.Width) * uint64(t.bytesPerTexel)
}

func (t *texture) layerPitch() uint64 {
	return t.rowPitch() * uint64(t.desc.Size.Height)
}

type textureView struct {
	owned
	texture backend.Handle
	desc    backend.TextureViewDescriptor
}

type sampler struct {
	owned
	desc backend.SamplerDescriptor
}

type shaderModule struct {
	owned
	words []uint32
}

type bindGroupLayout struct {
	owned
	entries []gputypes.BindGroupLayoutEntry
}

type bindGroup struct {
	owned
	layout  backend.Handle
	entries []backend.BindGroupEntry
}

type pipelineLayout struct {
	owned
	layouts []backend.Handle
}

type computePipeline struct {
	owned
	layout     backend.Handle
	module     backend.Handle
	entryPoint string
}

type renderPipeline struct {
	owned
	desc backend.RenderPipelineDescriptor
}

// CreateBuffer allocates zeroed host memory.
func (d *Driver) CreateBuffer(dev backend.Handle, desc *backend.BufferDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dv, err := d.deviceLocked(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	if desc.Size > dv.limits.MaxBufferSize {
		return backend.NilHandle, fmt.Errorf("create buffer %q (%d bytes): %w", desc.Label, desc.Size, backend.ErrOutOfMemory)
	}
	return d.insertLocked(&buffer{
		owned:  owned{dev: dev, label: desc.Label},
		usage:  desc.Usage,
		data:   make([]byte, desc.Size),
		mapped: desc.MappedAtCreation,
	}), nil
}

// CreateTexture allocates linear texel storage for mip level 0.
func (d *Driver) CreateTexture(dev backend.Handle, desc *backend.TextureDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.deviceLocked(dev); err != nil {
		return backend.NilHandle, err
	}
	return d.insertLocked(newTexture(dev, desc)), nil
}

func newTexture(dev backend.Handle, desc *backend.TextureDescriptor) *texture {
	t := &texture{
		owned:         owned{dev: dev, label: desc.Label},
		desc:          *desc,
		bytesPerTexel: backend.TexelSize(desc.Format),
	}
	depth := uint64(max(desc.Size.DepthOrArrayLayers, 1))
	t.data = make([]byte, t.layerPitch()*depth)
	return t
}

// CreateTextureView records which texture a view refers to.
func (d *Driver) CreateTextureView(dev, tex backend.Handle, desc *backend.TextureViewDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := lookup[*texture](d, dev, tex); err != nil {
		return backend.NilHandle, fmt.Errorf("create texture view: %w", err)
	}
	v := &textureView{owned: owned{dev: dev}, texture: tex}
	if desc != nil {
		v.label = desc.Label
		v.desc = *desc
	}
	return d.insertLocked(v), nil
}

// CreateSampler stores the sampler state.
func (d *Driver) CreateSampler(dev backend.Handle, desc *backend.SamplerDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.deviceLocked(dev); err != nil {
		return backend.NilHandle, err
	}
	return d.insertLocked(&sampler{owned: owned{dev: dev, label: desc.Label}, desc: *desc}), nil
}

// CreateShaderModule keeps a copy of the SPIR-V words.
func (d *Driver) CreateShaderModule(dev backend.Handle, desc *backend.ShaderModuleDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.deviceLocked(dev); err != nil {
		return backend.NilHandle, err
	}
	if len(desc.SPIRV) == 0 {
		return backend.NilHandle, fmt.Errorf("create shader module %q: empty code", desc.Label)
	}
	words := make([]uint32, len(desc.SPIRV))
	copy(words, desc.SPIRV)
	return d.insertLocked(&shaderModule{owned: owned{dev: dev, label: desc.Label}, words: words}), nil
}

// CreateBindGroupLayout stores the layout entries.
func (d *Driver) CreateBindGroupLayout(dev backend.Handle, desc *backend.BindGroupLayoutDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.deviceLocked(dev); err != nil {
		return backend.NilHandle, err
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	return d.insertLocked(&bindGroupLayout{owned: owned{dev: dev, label: desc.Label}, entries: entries}), nil
}

// CreateBindGroup checks that every bound resource exists on dev.
func (d *Driver) CreateBindGroup(dev backend.Handle, desc *backend.BindGroupDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := lookup[*bindGroupLayout](d, dev, desc.Layout); err != nil {
		return backend.NilHandle, fmt.Errorf("create bind group %q: layout: %w", desc.Label, err)
	}
	for _, e := range desc.Entries {
		var err error
		switch {
		case e.Buffer != backend.NilHandle:
			var b *buffer
			if b, err = lookup[*buffer](d, dev, e.Buffer); err == nil && e.Offset+e.Size > uint64(len(b.data)) {
				err = ErrOutOfRange
			}
		case e.Sampler != backend.NilHandle:
			_, err = lookup[*sampler](d, dev, e.Sampler)
		case e.TextureView != backend.NilHandle:
			_, err = lookup[*textureView](d, dev, e.TextureView)
		default:
			err = backend.ErrInvalidHandle
		}
		if err != nil {
			return backend.NilHandle, fmt.Errorf("create bind group %q: binding %d: %w", desc.Label, e.Binding, err)
		}
	}
	entries := make([]backend.BindGroupEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	return d.insertLocked(&bindGroup{
		owned:   owned{dev: dev, label: desc.Label},
		layout:  desc.Layout,
		entries: entries,
	}), nil
}

// CreatePipelineLayout checks the referenced bind group layouts.
func (d *Driver) CreatePipelineLayout(dev backend.Handle, desc *backend.PipelineLayoutDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, l := range desc.BindGroupLayouts {
		if _, err := lookup[*bindGroupLayout](d, dev, l); err != nil {
			return backend.NilHandle, fmt.Errorf("create pipeline layout %q: group %d: %w", desc.Label, i, err)
		}
	}
	layouts := make([]backend.Handle, len(desc.BindGroupLayouts))
	copy(layouts, desc.BindGroupLayouts)
	return d.insertLocked(&pipelineLayout{owned: owned{dev: dev, label: desc.Label}, layouts: layouts}), nil
}

// CreateComputePipeline checks the layout and module.
func (d *Driver) CreateComputePipeline(dev backend.Handle, desc *backend.ComputePipelineDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := lookup[*pipelineLayout](d, dev, desc.Layout); err != nil {
		return backend.NilHandle, fmt.Errorf("create compute pipeline %q: layout: %w", desc.Label, err)
	}
	if _, err := lookup[*shaderModule](d, dev, desc.Module); err != nil {
		return backend.NilHandle, fmt.Errorf("create compute pipeline %q: module: %w", desc.Label, err)
	}
	return d.insertLocked(&computePipeline{
		owned:      owned{dev: dev, label: desc.Label},
		layout:     desc.Layout,
		module:     desc.Module,
		entryPoint: desc.EntryPoint,
	}), nil
}

// CreateRenderPipeline checks the layout and modules.
func (d *Driver) CreateRenderPipeline(dev backend.Handle, desc *backend.RenderPipelineDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := lookup[*pipelineLayout](d, dev, desc.Layout); err != nil {
		return backend.NilHandle, fmt.Errorf("create render pipeline %q: layout: %w", desc.Label, err)
	}
	if _, err := lookup[*shaderModule](d, dev, desc.VertexModule); err != nil {
		return backend.NilHandle, fmt.Errorf("create render pipeline %q: vertex module: %w", desc.Label, err)
	}
	if desc.FragmentModule != backend.NilHandle {
		if _, err := lookup[*shaderModule](d, dev, desc.FragmentModule); err != nil {
			return backend.NilHandle, fmt.Errorf("create render pipeline %q: fragment module: %w", desc.Label, err)
		}
	}
	return d.insertLocked(&renderPipeline{owned: owned{dev: dev, label: desc.Label}, desc: *desc}), nil
}
