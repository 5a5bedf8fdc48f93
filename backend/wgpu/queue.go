package wgpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/gpuhub/backend"
)

type device struct {
	handle  backend.Handle
	label   string
	limits  backend.Limits
	raw     hal.Device
	queue   hal.Queue
	adopted bool

	// inflight bounds the submissions not yet retired.
	inflight *semaphore.Weighted

	mu          sync.Mutex
	submissions []submission
	lastSubmit  uint64
	pending     []*pendingMap
}

// submission is one hal submission awaiting retirement.
type submission struct {
	index   uint64
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
}

func newDevice(raw hal.Device, queue hal.Queue, adopted bool) *device {
	return &device{
		raw:      raw,
		queue:    queue,
		adopted:  adopted,
		inflight: semaphore.NewWeighted(MaxInFlight),
	}
}

// retire frees the command buffers of every submission at or below
// completed.
func (dv *device) retire(completed uint64) {
	dv.mu.Lock()
	var done []submission
	keep := dv.submissions[:0]
	for _, s := range dv.submissions {
		if s.index <= completed {
			done = append(done, s)
		} else {
			keep = append(keep, s)
		}
	}
	dv.submissions = keep
	dv.mu.Unlock()

	for _, s := range done {
		dv.raw.FreeCommandBuffer(s.cmd)
		s.encoder.Destroy()
		dv.inflight.Release(1)
	}
}

// acquireSlot reserves room for one submission, retiring finished work
// and finally waiting for the GPU when every slot is taken.
func (dv *device) acquireSlot() error {
	if dv.inflight.TryAcquire(1) {
		return nil
	}
	dv.retire(dv.queue.PollCompleted())
	if dv.inflight.TryAcquire(1) {
		return nil
	}
	backend.Logger().Debug("wgpu: in-flight limit reached, waiting for GPU", slog.String("device", dv.label))
	if err := dv.raw.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", halError(err))
	}
	dv.retire(dv.lastSubmitted())
	return dv.inflight.Acquire(context.Background(), 1)
}

func (dv *device) lastSubmitted() uint64 {
	dv.mu.Lock()
	defer dv.mu.Unlock()
	return dv.lastSubmit
}

func (dv *device) idle() bool {
	dv.mu.Lock()
	defer dv.mu.Unlock()
	return len(dv.submissions) == 0 && len(dv.pending) == 0
}

// Submit replays each list into a hal encoder and submits them in order.
// Every list is encoded before anything reaches the queue, so a failing
// list submits nothing.
func (d *Driver) Submit(dev backend.Handle, lists []*backend.CommandList) error {
	dv, err := d.device(dev)
	if err != nil {
		return err
	}

	encoded := make([]submission, 0, len(lists))
	discard := func() {
		for _, s := range encoded {
			dv.raw.FreeCommandBuffer(s.cmd)
			s.encoder.Destroy()
		}
	}
	for _, l := range lists {
		s, err := d.encode(dv, dev, l)
		if err != nil {
			discard()
			return fmt.Errorf("submit %q: %w", l.Label, err)
		}
		encoded = append(encoded, s)
	}

	for i, s := range encoded {
		if err := dv.acquireSlot(); err != nil {
			encoded = encoded[i:]
			discard()
			return fmt.Errorf("submit %q: %w", lists[i].Label, err)
		}
		idx, err := dv.queue.Submit([]hal.CommandBuffer{s.cmd})
		if err != nil {
			dv.inflight.Release(1)
			encoded = encoded[i:]
			discard()
			return fmt.Errorf("submit %q: %w", lists[i].Label, halError(err))
		}
		s.index = idx
		dv.mu.Lock()
		dv.submissions = append(dv.submissions, s)
		dv.lastSubmit = idx
		dv.mu.Unlock()
	}
	return nil
}

// encode translates one command list. Handles are resolved under the driver
// lock and the hal calls happen after it is released.
func (d *Driver) encode(dv *device, dev backend.Handle, l *backend.CommandList) (submission, error) {
	ops, err := d.resolve(dev, l)
	if err != nil {
		return submission{}, err
	}

	enc, err := dv.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: l.Label})
	if err != nil {
		return submission{}, halError(err)
	}
	if err := enc.BeginEncoding(l.Label); err != nil {
		enc.Destroy()
		return submission{}, halError(err)
	}
	for _, op := range ops {
		op(enc)
	}
	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.Destroy()
		return submission{}, halError(err)
	}
	return submission{encoder: enc, cmd: cmd}, nil
}

// resolve turns every command of l into a closure over hal objects.
func (d *Driver) resolve(dev backend.Handle, l *backend.CommandList) ([]func(hal.CommandEncoder), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]func(hal.CommandEncoder), 0, len(l.Commands))
	for i, c := range l.Commands {
		op, err := d.resolveCommandLocked(dev, c)
		if err != nil {
			return nil, fmt.Errorf("command %d (%T): %w", i, c, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (d *Driver) resolveCommandLocked(dev backend.Handle, c backend.Command) (func(hal.CommandEncoder), error) {
	switch c := c.(type) {
	case backend.CopyBufferToBuffer:
		src, err := lookupLocked[*buffer](d, dev, c.Src)
		if err != nil {
			return nil, err
		}
		dst, err := lookupLocked[*buffer](d, dev, c.Dst)
		if err != nil {
			return nil, err
		}
		region := []hal.BufferCopy{{SrcOffset: c.SrcOffset, DstOffset: c.DstOffset, Size: c.Size}}
		return func(enc hal.CommandEncoder) { enc.CopyBufferToBuffer(src.raw, dst.raw, region) }, nil

	case backend.ClearBuffer:
		b, err := lookupLocked[*buffer](d, dev, c.Buffer)
		if err != nil {
			return nil, err
		}
		return func(enc hal.CommandEncoder) { enc.ClearBuffer(b.raw, c.Offset, c.Size) }, nil

	case backend.CopyBufferToTexture:
		b, err := lookupLocked[*buffer](d, dev, c.Src.Buffer)
		if err != nil {
			return nil, err
		}
		t, err := lookupLocked[*texture](d, dev, c.Dst.Texture)
		if err != nil {
			return nil, err
		}
		region := []hal.BufferTextureCopy{bufferTextureCopy(c.Src, c.Dst, t.raw, c.Size)}
		return func(enc hal.CommandEncoder) { enc.CopyBufferToTexture(b.raw, t.raw, region) }, nil

	case backend.CopyTextureToBuffer:
		t, err := lookupLocked[*texture](d, dev, c.Src.Texture)
		if err != nil {
			return nil, err
		}
		b, err := lookupLocked[*buffer](d, dev, c.Dst.Buffer)
		if err != nil {
			return nil, err
		}
		region := []hal.BufferTextureCopy{bufferTextureCopy(c.Dst, c.Src, t.raw, c.Size)}
		return func(enc hal.CommandEncoder) { enc.CopyTextureToBuffer(t.raw, b.raw, region) }, nil

	case backend.CopyTextureToTexture:
		src, err := lookupLocked[*texture](d, dev, c.Src.Texture)
		if err != nil {
			return nil, err
		}
		dst, err := lookupLocked[*texture](d, dev, c.Dst.Texture)
		if err != nil {
			return nil, err
		}
		region := []hal.TextureCopy{{
			SrcBase: imageCopyTexture(c.Src, src.raw),
			DstBase: imageCopyTexture(c.Dst, dst.raw),
			Size:    halExtent(c.Size),
		}}
		return func(enc hal.CommandEncoder) { enc.CopyTextureToTexture(src.raw, dst.raw, region) }, nil

	case backend.ComputePass:
		return d.resolveComputePassLocked(dev, c)

	case backend.RenderPass:
		return d.resolveRenderPassLocked(dev, c)

	default:
		return nil, fmt.Errorf("%w: command %T", backend.ErrUnsupported, c)
	}
}

func (d *Driver) resolveComputePassLocked(dev backend.Handle, p backend.ComputePass) (func(hal.CommandEncoder), error) {
	ops := make([]func(hal.ComputePassEncoder), 0, len(p.Commands))
	for i, c := range p.Commands {
		switch c := c.(type) {
		case backend.SetComputePipeline:
			pl, err := lookupLocked[*computePipeline](d, dev, c.Pipeline)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.ComputePassEncoder) { pe.SetPipeline(pl.raw) })
		case backend.SetBindGroup:
			g, err := lookupLocked[*bindGroup](d, dev, c.Group)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.ComputePassEncoder) { pe.SetBindGroup(c.Index, g.raw, c.DynamicOffsets) })
		case backend.Dispatch:
			ops = append(ops, func(pe hal.ComputePassEncoder) { pe.Dispatch(c.X, c.Y, c.Z) })
		default:
			return nil, fmt.Errorf("pass command %d: %w: %T in compute pass", i, backend.ErrUnsupported, c)
		}
	}
	return func(enc hal.CommandEncoder) {
		pe := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.Label})
		for _, op := range ops {
			op(pe)
		}
		pe.End()
	}, nil
}

func (d *Driver) resolveRenderPassLocked(dev backend.Handle, p backend.RenderPass) (func(hal.CommandEncoder), error) {
	desc := &hal.RenderPassDescriptor{Label: p.Label}
	for i, a := range p.ColorAttachments {
		v, err := lookupLocked[*textureView](d, dev, a.View)
		if err != nil {
			return nil, fmt.Errorf("color attachment %d: %w", i, err)
		}
		ca := hal.RenderPassColorAttachment{
			View:       v.raw,
			LoadOp:     a.LoadOp,
			StoreOp:    a.StoreOp,
			ClearValue: a.ClearValue,
		}
		if a.ResolveTarget != backend.NilHandle {
			rv, err := lookupLocked[*textureView](d, dev, a.ResolveTarget)
			if err != nil {
				return nil, fmt.Errorf("color attachment %d resolve target: %w", i, err)
			}
			ca.ResolveTarget = rv.raw
		}
		desc.ColorAttachments = append(desc.ColorAttachments, ca)
	}
	if ds := p.DepthStencil; ds != nil {
		v, err := lookupLocked[*textureView](d, dev, ds.View)
		if err != nil {
			return nil, fmt.Errorf("depth stencil attachment: %w", err)
		}
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              v.raw,
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
		}
	}

	ops := make([]func(hal.RenderPassEncoder), 0, len(p.Commands))
	for i, c := range p.Commands {
		switch c := c.(type) {
		case backend.SetRenderPipeline:
			pl, err := lookupLocked[*renderPipeline](d, dev, c.Pipeline)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.RenderPassEncoder) { pe.SetPipeline(pl.raw) })
		case backend.SetBindGroup:
			g, err := lookupLocked[*bindGroup](d, dev, c.Group)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.RenderPassEncoder) { pe.SetBindGroup(c.Index, g.raw, c.DynamicOffsets) })
		case backend.SetVertexBuffer:
			b, err := lookupLocked[*buffer](d, dev, c.Buffer)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.RenderPassEncoder) { pe.SetVertexBuffer(c.Slot, b.raw, c.Offset) })
		case backend.SetIndexBuffer:
			b, err := lookupLocked[*buffer](d, dev, c.Buffer)
			if err != nil {
				return nil, fmt.Errorf("pass command %d: %w", i, err)
			}
			ops = append(ops, func(pe hal.RenderPassEncoder) { pe.SetIndexBuffer(b.raw, c.Format, c.Offset) })
		case backend.Draw:
			ops = append(ops, func(pe hal.RenderPassEncoder) {
				pe.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
			})
		case backend.DrawIndexed:
			ops = append(ops, func(pe hal.RenderPassEncoder) {
				pe.DrawIndexed(c.IndexCount, c.InstanceCount, c.FirstIndex, c.BaseVertex, c.FirstInstance)
			})
		default:
			return nil, fmt.Errorf("pass command %d: %w: %T in render pass", i, backend.ErrUnsupported, c)
		}
	}
	return func(enc hal.CommandEncoder) {
		pe := enc.BeginRenderPass(desc)
		for _, op := range ops {
			op(pe)
		}
		pe.End()
	}, nil
}

func imageCopyTexture(t backend.ImageCopyTexture, raw hal.Texture) hal.ImageCopyTexture {
	aspect := t.Aspect
	if aspect == gputypes.TextureAspectUndefined {
		aspect = gputypes.TextureAspectAll
	}
	return hal.ImageCopyTexture{
		Texture:  raw,
		MipLevel: t.MipLevel,
		Origin:   halOrigin(t.Origin),
		Aspect:   aspect,
	}
}

func bufferTextureCopy(b backend.ImageCopyBuffer, t backend.ImageCopyTexture, raw hal.Texture, size gputypes.Extent3D) hal.BufferTextureCopy {
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{
			Offset:       b.Offset,
			BytesPerRow:  b.BytesPerRow,
			RowsPerImage: b.RowsPerImage,
		},
		TextureBase: imageCopyTexture(t, raw),
		Size:        halExtent(size),
	}
}

// WriteBuffer writes through the hal queue, which orders the write before
// the next submission.
func (d *Driver) WriteBuffer(dev, buf backend.Handle, offset uint64, data []byte) error {
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write buffer %q: %d bytes at %d exceed size %d: %w",
			b.label, len(data), offset, b.size, hal.ErrInvalidMapRange)
	}
	if err := dv.queue.WriteBuffer(b.raw, offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", b.label, halError(err))
	}
	return nil
}

// Poll retires finished submissions and resolves due buffer maps. Map
// callbacks run on the calling goroutine after all locks are released.
func (d *Driver) Poll(dev backend.Handle, wait bool) (bool, error) {
	dv, err := d.device(dev)
	if err != nil {
		return true, err
	}

	completed := dv.queue.PollCompleted()
	if wait {
		if err := dv.raw.WaitIdle(); err != nil {
			return false, fmt.Errorf("poll: %w", halError(err))
		}
		completed = max(completed, dv.lastSubmitted())
	}
	dv.retire(completed)

	for _, r := range dv.resolveMaps(completed) {
		r.pm.cb(r.status, r.data)
	}
	return dv.idle(), nil
}
