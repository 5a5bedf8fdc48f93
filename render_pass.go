package gpuhub

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

// RenderPassColorAttachment is one color target. Undefined LoadOp and
// StoreOp default to Clear and Store.
type RenderPassColorAttachment struct {
	View          *TextureView
	ResolveTarget *TextureView
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// RenderPassDepthStencilAttachment is the depth/stencil target.
type RenderPassDepthStencilAttachment struct {
	View              *TextureView
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
}

// RenderPassDescriptor describes a render pass. At least one color or
// depth/stencil attachment is required.
type RenderPassDescriptor struct {
	Label            string
	ColorAttachments []RenderPassColorAttachment
	DepthStencil     *RenderPassDepthStencilAttachment
}

// RenderPass records draws. The encoder is locked until End.
type RenderPass struct {
	passRecorder
	attachments []backend.ColorAttachment
	depth       *backend.DepthStencilAttachment
	pipeline    *RenderPipeline
	vertex      map[uint32]bool
	indexFormat gputypes.IndexFormat
}

// BeginRenderPass opens a render pass. Attachment errors are returned and
// invalidate the encoder; ErrEncoderLocked is returned while another pass
// is active.
func (e *CommandEncoder) BeginRenderPass(desc *RenderPassDescriptor) (*RenderPass, error) {
	if desc == nil {
		desc = &RenderPassDescriptor{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return nil, err
	}

	p := &RenderPass{
		passRecorder: passRecorder{encoder: e, label: desc.Label},
		vertex:       make(map[uint32]bool),
	}
	if err := p.setAttachments(desc); err != nil {
		return nil, e.failLocked("CommandEncoder.BeginRenderPass", err)
	}
	if err := e.beginPassLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// setAttachments validates the attachments and records them on the pass.
func (p *RenderPass) setAttachments(desc *RenderPassDescriptor) error {
	if len(desc.ColorAttachments) == 0 && desc.DepthStencil == nil {
		return fmt.Errorf("render pass %q has no attachments: %w", desc.Label, ErrInvalidDescriptor)
	}
	for i, ca := range desc.ColorAttachments {
		if err := p.checkAttachment(ca.View); err != nil {
			return fmt.Errorf("color attachment %d: %w", i, err)
		}
		bca := backend.ColorAttachment{
			View:       ca.View.handle,
			LoadOp:     ca.LoadOp,
			StoreOp:    ca.StoreOp,
			ClearValue: ca.ClearValue,
		}
		if bca.LoadOp == gputypes.LoadOpUndefined {
			bca.LoadOp = gputypes.LoadOpClear
		}
		if bca.StoreOp == gputypes.StoreOpUndefined {
			bca.StoreOp = gputypes.StoreOpStore
		}
		p.used = append(p.used, ca.View)
		if ca.ResolveTarget != nil {
			if err := p.checkAttachment(ca.ResolveTarget); err != nil {
				return fmt.Errorf("resolve target %d: %w", i, err)
			}
			bca.ResolveTarget = ca.ResolveTarget.handle
			p.used = append(p.used, ca.ResolveTarget)
		}
		p.attachments = append(p.attachments, bca)
	}
	if ds := desc.DepthStencil; ds != nil {
		if err := p.checkAttachment(ds.View); err != nil {
			return fmt.Errorf("depth/stencil attachment: %w", err)
		}
		p.depth = &backend.DepthStencilAttachment{
			View:              ds.View.handle,
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
		}
		p.used = append(p.used, ds.View)
	}
	return nil
}

func (p *RenderPass) checkAttachment(v *TextureView) error {
	if v == nil {
		return fmt.Errorf("nil view: %w", ErrInvalidDescriptor)
	}
	if err := checkBindable(v.usable(), v.sameDevice(p.encoder.device), v.texture.usable()); err != nil {
		return err
	}
	if !v.texture.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
		return fmt.Errorf("texture %q lacks RENDER_ATTACHMENT: %w", v.texture.label, ErrMissingUsage)
	}
	return nil
}

// SetPipeline selects the pipeline for later draws.
func (p *RenderPass) SetPipeline(pl *RenderPipeline) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if pl == nil {
		return p.failLocked("RenderPass.SetPipeline", fmt.Errorf("nil pipeline: %w", ErrInvalidDescriptor))
	}
	if err := checkBindable(pl.usable(), pl.sameDevice(p.encoder.device)); err != nil {
		return p.failLocked("RenderPass.SetPipeline", err)
	}
	p.pipeline = pl
	p.recordLocked(backend.SetRenderPipeline{Pipeline: pl.handle}, pl)
	return nil
}

// SetBindGroup binds g at index, which must be below the device's
// MaxBindGroups limit.
func (p *RenderPass) SetBindGroup(index uint32, g *BindGroup, dynamicOffsets ...uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	return p.setBindGroupLocked("RenderPass.SetBindGroup", index, g, dynamicOffsets)
}

// SetVertexBuffer binds a range of buf to slot. buf needs VERTEX usage.
func (p *RenderPass) SetVertexBuffer(slot uint32, buf *Buffer, r BufferRange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	offset, size, err := p.bindBuffer(buf, gputypes.BufferUsageVertex, "VERTEX", r)
	if err != nil {
		return p.failLocked("RenderPass.SetVertexBuffer", err)
	}
	p.vertex[slot] = true
	p.recordLocked(backend.SetVertexBuffer{Slot: slot, Buffer: buf.handle, Offset: offset, Size: size}, buf)
	return nil
}

// SetIndexBuffer binds a range of buf as the index buffer. buf needs INDEX
// usage and the offset must be a multiple of the index size.
func (p *RenderPass) SetIndexBuffer(buf *Buffer, format gputypes.IndexFormat, r BufferRange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	offset, size, err := p.bindBuffer(buf, gputypes.BufferUsageIndex, "INDEX", r)
	if err == nil {
		switch {
		case format.Size() == 0:
			err = fmt.Errorf("index format %v: %w", format, ErrInvalidDescriptor)
		case offset%uint64(format.Size()) != 0:
			err = fmt.Errorf("index offset %d for %v: %w", offset, format, ErrCopyOffsetNotAligned)
		}
	}
	if err != nil {
		return p.failLocked("RenderPass.SetIndexBuffer", err)
	}
	p.indexFormat = format
	p.recordLocked(backend.SetIndexBuffer{Buffer: buf.handle, Format: format, Offset: offset, Size: size}, buf)
	return nil
}

func (p *RenderPass) bindBuffer(buf *Buffer, usage gputypes.BufferUsage, name string, r BufferRange) (offset, size uint64, err error) {
	if buf == nil {
		return 0, 0, fmt.Errorf("nil buffer: %w", ErrInvalidDescriptor)
	}
	if err := checkBindable(buf.usable(), buf.sameDevice(p.encoder.device)); err != nil {
		return 0, 0, err
	}
	if !buf.usage.Contains(usage) {
		return 0, 0, fmt.Errorf("buffer %q lacks %s: %w", buf.label, name, ErrMissingUsage)
	}
	return r.Resolve(buf.size)
}

// Draw issues a non-indexed draw with the current pipeline.
func (p *RenderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if err := p.checkDrawLocked(); err != nil {
		return p.failLocked("RenderPass.Draw", err)
	}
	p.recordLocked(backend.Draw{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
	return nil
}

// DrawIndexed issues an indexed draw. An index buffer must be set.
func (p *RenderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	err := p.checkDrawLocked()
	if err == nil && p.indexFormat == gputypes.IndexFormatUndefined {
		err = fmt.Errorf("no index buffer set: %w", ErrInvalidDescriptor)
	}
	if err != nil {
		return p.failLocked("RenderPass.DrawIndexed", err)
	}
	p.recordLocked(backend.DrawIndexed{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		BaseVertex:    baseVertex,
		FirstInstance: firstInstance,
	})
	return nil
}

// checkDrawLocked requires a pipeline and every vertex buffer slot it
// declares.
func (p *RenderPass) checkDrawLocked() error {
	if p.pipeline == nil {
		return fmt.Errorf("no pipeline set: %w", ErrInvalidDescriptor)
	}
	for slot := 0; slot < p.pipeline.vertexBuffers; slot++ {
		if !p.vertex[uint32(slot)] {
			return fmt.Errorf("vertex buffer slot %d not set: %w", slot, ErrInvalidDescriptor)
		}
	}
	return nil
}

// End closes the pass and returns the encoder to Recording. If a command in
// the pass failed, End returns that error and the encoder becomes invalid.
func (p *RenderPass) End() error {
	return p.end(func() backend.Command {
		return backend.RenderPass{
			Label:            p.label,
			ColorAttachments: p.attachments,
			DepthStencil:     p.depth,
			Commands:         p.commands,
		}
	})
}
