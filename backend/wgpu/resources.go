package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuhub/backend"
)

// object is any hal resource stored in the driver's handle table.
type object interface {
	owner() backend.Handle
	destroy(dv *device)
}

type owned struct {
	dev   backend.Handle
	label string
}

func (o owned) owner() backend.Handle { return o.dev }

// buffer state other than raw and size is guarded by the device mutex.
type buffer struct {
	owned
	raw   hal.Buffer
	size  uint64
	usage gputypes.BufferUsage

	pending *pendingMap
	// mapped is set while the buffer is mapped, including mapped at creation.
	mapped bool
	// hostMapped is set when the mapping came from hal MapBuffer.
	hostMapped bool
	coherent   bool
}

func (b *buffer) destroy(dv *device) { dv.raw.DestroyBuffer(b.raw) }

type texture struct {
	owned
	raw hal.Texture
	// swapChain marks surface textures; the surface owns them.
	swapChain backend.Handle
}

func (t *texture) destroy(dv *device) {
	if t.swapChain == backend.NilHandle {
		dv.raw.DestroyTexture(t.raw)
	}
}

type textureView struct {
	owned
	raw hal.TextureView
}

func (v *textureView) destroy(dv *device) { dv.raw.DestroyTextureView(v.raw) }

type sampler struct {
	owned
	raw hal.Sampler
}

func (s *sampler) destroy(dv *device) { dv.raw.DestroySampler(s.raw) }

type shaderModule struct {
	owned
	raw hal.ShaderModule
}

func (m *shaderModule) destroy(dv *device) { dv.raw.DestroyShaderModule(m.raw) }

type bindGroupLayout struct {
	owned
	raw hal.BindGroupLayout
}

func (l *bindGroupLayout) destroy(dv *device) { dv.raw.DestroyBindGroupLayout(l.raw) }

type bindGroup struct {
	owned
	raw hal.BindGroup
}

func (g *bindGroup) destroy(dv *device) { dv.raw.DestroyBindGroup(g.raw) }

type pipelineLayout struct {
	owned
	raw hal.PipelineLayout
}

func (l *pipelineLayout) destroy(dv *device) { dv.raw.DestroyPipelineLayout(l.raw) }

type computePipeline struct {
	owned
	raw hal.ComputePipeline
}

func (p *computePipeline) destroy(dv *device) { dv.raw.DestroyComputePipeline(p.raw) }

type renderPipeline struct {
	owned
	raw hal.RenderPipeline
}

func (p *renderPipeline) destroy(dv *device) { dv.raw.DestroyRenderPipeline(p.raw) }

// CreateBuffer creates a hal buffer. Buffers mapped at creation are filled
// through the queue on unmap, so they always get COPY_DST.
func (d *Driver) CreateBuffer(dev backend.Handle, desc *backend.BufferDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	if desc.Size > dv.limits.MaxBufferSize {
		return backend.NilHandle, fmt.Errorf("create buffer %q (%d bytes): %w", desc.Label, desc.Size, backend.ErrOutOfMemory)
	}
	usage := desc.Usage
	if desc.MappedAtCreation {
		usage |= gputypes.BufferUsageCopyDst
	}
	raw, err := dv.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create buffer %q: %w", desc.Label, halError(err))
	}
	return d.insert(&buffer{
		owned:  owned{dev: dev, label: desc.Label},
		raw:    raw,
		size:   desc.Size,
		usage:  desc.Usage,
		mapped: desc.MappedAtCreation,
	}), nil
}

// CreateTexture creates a hal texture.
func (d *Driver) CreateTexture(dev backend.Handle, desc *backend.TextureDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	raw, err := dv.raw.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          halExtent(desc.Size),
		MipLevelCount: max(desc.MipLevelCount, 1),
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create texture %q: %w", desc.Label, halError(err))
	}
	return d.insert(&texture{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateTextureView creates a view of a texture.
func (d *Driver) CreateTextureView(dev, tex backend.Handle, desc *backend.TextureViewDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	t, err := lookup[*texture](d, dev, tex)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create texture view: %w", err)
	}
	hd := &hal.TextureViewDescriptor{Aspect: gputypes.TextureAspectAll}
	if desc != nil {
		hd.Label = desc.Label
		hd.Format = desc.Format
		hd.Dimension = desc.Dimension
		hd.BaseMipLevel = desc.BaseMipLevel
		hd.MipLevelCount = desc.MipLevelCount
		hd.BaseArrayLayer = desc.BaseArrayLayer
		hd.ArrayLayerCount = desc.ArrayLayerCount
		if desc.Aspect != gputypes.TextureAspectUndefined {
			hd.Aspect = desc.Aspect
		}
	}
	raw, err := dv.raw.CreateTextureView(t.raw, hd)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create texture view %q: %w", hd.Label, halError(err))
	}
	return d.insert(&textureView{owned: owned{dev: dev, label: hd.Label}, raw: raw}), nil
}

// CreateSampler creates a sampler.
func (d *Driver) CreateSampler(dev backend.Handle, desc *backend.SamplerDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	raw, err := dv.raw.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: gputypes.FilterMode(desc.MipmapFilter),
		LodMaxClamp:  32,
		Anisotropy:   1,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create sampler %q: %w", desc.Label, halError(err))
	}
	return d.insert(&sampler{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateShaderModule passes SPIR-V words to hal.
func (d *Driver) CreateShaderModule(dev backend.Handle, desc *backend.ShaderModuleDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	raw, err := dv.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: desc.SPIRV},
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create shader module %q: %w", desc.Label, halError(err))
	}
	return d.insert(&shaderModule{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateBindGroupLayout creates a bind group layout.
func (d *Driver) CreateBindGroupLayout(dev backend.Handle, desc *backend.BindGroupLayoutDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	raw, err := dv.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: desc.Entries,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create bind group layout %q: %w", desc.Label, halError(err))
	}
	return d.insert(&bindGroupLayout{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateBindGroup resolves every bound resource to its native handle.
func (d *Driver) CreateBindGroup(dev backend.Handle, desc *backend.BindGroupDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}

	d.mu.Lock()
	layout, err := lookupLocked[*bindGroupLayout](d, dev, desc.Layout)
	if err != nil {
		d.mu.Unlock()
		return backend.NilHandle, fmt.Errorf("create bind group %q: layout: %w", desc.Label, err)
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		res, err := d.bindingResourceLocked(dev, e)
		if err != nil {
			d.mu.Unlock()
			return backend.NilHandle, fmt.Errorf("create bind group %q: binding %d: %w", desc.Label, e.Binding, err)
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: e.Binding, Resource: res})
	}
	d.mu.Unlock()

	raw, err := dv.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout.raw,
		Entries: entries,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create bind group %q: %w", desc.Label, halError(err))
	}
	return d.insert(&bindGroup{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

func (d *Driver) bindingResourceLocked(dev backend.Handle, e backend.BindGroupEntry) (gputypes.BindingResource, error) {
	switch {
	case e.Buffer != backend.NilHandle:
		b, err := lookupLocked[*buffer](d, dev, e.Buffer)
		if err != nil {
			return nil, err
		}
		return gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: e.Offset, Size: e.Size}, nil
	case e.Sampler != backend.NilHandle:
		s, err := lookupLocked[*sampler](d, dev, e.Sampler)
		if err != nil {
			return nil, err
		}
		return gputypes.SamplerBinding{Sampler: s.raw.NativeHandle()}, nil
	case e.TextureView != backend.NilHandle:
		v, err := lookupLocked[*textureView](d, dev, e.TextureView)
		if err != nil {
			return nil, err
		}
		return gputypes.TextureViewBinding{TextureView: v.raw.NativeHandle()}, nil
	default:
		return nil, backend.ErrInvalidHandle
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Driver) CreatePipelineLayout(dev backend.Handle, desc *backend.PipelineLayoutDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	layouts := make([]hal.BindGroupLayout, 0, len(desc.BindGroupLayouts))
	for i, h := range desc.BindGroupLayouts {
		l, err := lookup[*bindGroupLayout](d, dev, h)
		if err != nil {
			return backend.NilHandle, fmt.Errorf("create pipeline layout %q: group %d: %w", desc.Label, i, err)
		}
		layouts = append(layouts, l.raw)
	}
	raw, err := dv.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create pipeline layout %q: %w", desc.Label, halError(err))
	}
	return d.insert(&pipelineLayout{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateComputePipeline creates a compute pipeline.
func (d *Driver) CreateComputePipeline(dev backend.Handle, desc *backend.ComputePipelineDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	layout, err := lookup[*pipelineLayout](d, dev, desc.Layout)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create compute pipeline %q: layout: %w", desc.Label, err)
	}
	module, err := lookup[*shaderModule](d, dev, desc.Module)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create compute pipeline %q: module: %w", desc.Label, err)
	}
	raw, err := dv.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.raw,
		Compute: hal.ComputeState{
			Module:     module.raw,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create compute pipeline %q: %w", desc.Label, halError(err))
	}
	return d.insert(&computePipeline{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

// CreateRenderPipeline creates a render pipeline.
func (d *Driver) CreateRenderPipeline(dev backend.Handle, desc *backend.RenderPipelineDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	layout, err := lookup[*pipelineLayout](d, dev, desc.Layout)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create render pipeline %q: layout: %w", desc.Label, err)
	}
	vs, err := lookup[*shaderModule](d, dev, desc.VertexModule)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create render pipeline %q: vertex module: %w", desc.Label, err)
	}

	hd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.raw,
		Vertex: hal.VertexState{
			Module:     vs.raw,
			EntryPoint: desc.VertexEntryPoint,
			Buffers:    desc.VertexBuffers,
		},
		Primitive: desc.Primitive,
		Multisample: gputypes.MultisampleState{
			Count: max(desc.SampleCount, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	if desc.FragmentModule != backend.NilHandle {
		fs, err := lookup[*shaderModule](d, dev, desc.FragmentModule)
		if err != nil {
			return backend.NilHandle, fmt.Errorf("create render pipeline %q: fragment module: %w", desc.Label, err)
		}
		hd.Fragment = &hal.FragmentState{
			Module:     fs.raw,
			EntryPoint: desc.FragmentEntryPoint,
			Targets:    desc.Targets,
		}
	}

	raw, err := dv.raw.CreateRenderPipeline(hd)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create render pipeline %q: %w", desc.Label, halError(err))
	}
	return d.insert(&renderPipeline{owned: owned{dev: dev, label: desc.Label}, raw: raw}), nil
}

func halExtent(e gputypes.Extent3D) hal.Extent3D {
	return hal.Extent3D{Width: e.Width, Height: e.Height, DepthOrArrayLayers: max(e.DepthOrArrayLayers, 1)}
}

func halOrigin(o gputypes.Origin3D) hal.Origin3D {
	return hal.Origin3D{X: o.X, Y: o.Y, Z: o.Z}
}

// halError maps hal failures onto backend sentinels so the core can tell
// out-of-memory and device loss apart from validation failures.
func halError(err error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", backend.ErrOutOfMemory, err)
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%w: %w", backend.ErrDeviceLost, err)
	default:
		return err
	}
}
