package software

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

type device struct {
	handle backend.Handle
	label  string
	limits backend.Limits
	lost   bool

	// queue holds work in submission order until the next Poll.
	queue []queuedWork
	// submitted and completed count queue entries.
	submitted uint64
	completed uint64
	pending   []*pendingMap

	dispatches uint64
	draws      uint64
}

// queuedWork is either a buffer write or a command list.
type queuedWork struct {
	write *bufferWrite
	list  *backend.CommandList
}

type bufferWrite struct {
	buffer backend.Handle
	offset uint64
	data   []byte
}

// dropPending removes pm from the device's pending map list.
func (dv *device) dropPending(pm *pendingMap) {
	if pm == nil {
		return
	}
	for i, p := range dv.pending {
		if p == pm {
			dv.pending = append(dv.pending[:i], dv.pending[i+1:]...)
			return
		}
	}
}

// Submit validates the lists and queues them behind earlier work.
func (d *Driver) Submit(dev backend.Handle, lists []*backend.CommandList) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dv, err := d.deviceLocked(dev)
	if err != nil {
		return err
	}
	for _, l := range lists {
		if err := d.validateListLocked(dev, l); err != nil {
			return fmt.Errorf("submit %q: %w", l.Label, err)
		}
	}
	for _, l := range lists {
		dv.queue = append(dv.queue, queuedWork{list: l})
		dv.submitted++
	}
	return nil
}

// WriteBuffer queues a copy of data; the caller may reuse data afterwards.
func (d *Driver) WriteBuffer(dev, buf backend.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dv, err := d.deviceLocked(dev)
	if err != nil {
		return err
	}
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrOutOfRange)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	dv.queue = append(dv.queue, queuedWork{write: &bufferWrite{buffer: buf, offset: offset, data: cp}})
	dv.submitted++
	return nil
}

// Poll executes all queued work, then resolves every pending map whose
// preceding work has completed. The software device always finishes its
// queue in one Poll, so wait only adds waiting for callback delivery.
func (d *Driver) Poll(dev backend.Handle, wait bool) (bool, error) {
	d.mu.Lock()
	dv, err := d.deviceLocked(dev)
	if err != nil {
		d.mu.Unlock()
		return true, err
	}

	work := dv.queue
	dv.queue = nil
	for _, w := range work {
		d.executeLocked(dv, w)
		dv.completed++
	}

	var ready []*pendingMap
	kept := dv.pending[:0]
	for _, pm := range dv.pending {
		if pm.after <= dv.completed {
			ready = append(ready, pm)
			continue
		}
		kept = append(kept, pm)
	}
	dv.pending = kept

	type delivery struct {
		cb   backend.MapCallback
		data []byte
	}
	deliveries := make([]delivery, 0, len(ready))
	for _, pm := range ready {
		b := pm.buffer
		b.pending = nil
		b.mapped = true
		deliveries = append(deliveries, delivery{cb: pm.cb, data: b.data[pm.req.Offset : pm.req.Offset+pm.req.Size]})
	}
	d.mu.Unlock()

	if len(work) > 0 || len(deliveries) > 0 {
		backend.Logger().Debug("software: poll",
			slog.Int("executed", len(work)),
			slog.Int("maps", len(deliveries)),
			slog.Bool("wait", wait))
	}

	for _, dl := range deliveries {
		d.deliver(dl.cb, backend.MapStatusSuccess, dl.data)
	}
	if wait {
		d.waitCallbacks()
	}
	return true, nil
}

// Stats reports how many dispatches and draws a device has executed.
func (d *Driver) Stats(dev backend.Handle) (dispatches, draws uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dv, ok := d.devices[dev]; ok {
		return dv.dispatches, dv.draws
	}
	return 0, 0
}

func (d *Driver) validateListLocked(dev backend.Handle, l *backend.CommandList) error {
	for i, c := range l.Commands {
		if err := d.validateCommandLocked(dev, c); err != nil {
			return fmt.Errorf("command %d (%T): %w", i, c, err)
		}
	}
	return nil
}

func (d *Driver) validateCommandLocked(dev backend.Handle, c backend.Command) error {
	switch c := c.(type) {
	case backend.CopyBufferToBuffer:
		if err := d.checkBufferRangeLocked(dev, c.Src, c.SrcOffset, c.Size); err != nil {
			return err
		}
		return d.checkBufferRangeLocked(dev, c.Dst, c.DstOffset, c.Size)
	case backend.ClearBuffer:
		return d.checkBufferRangeLocked(dev, c.Buffer, c.Offset, c.Size)
	case backend.CopyBufferToTexture:
		if err := d.checkTextureRegionLocked(dev, c.Dst, c.Size); err != nil {
			return err
		}
		return d.checkLinearLocked(dev, c.Src, c.Size, c.Dst.Texture)
	case backend.CopyTextureToBuffer:
		if err := d.checkTextureRegionLocked(dev, c.Src, c.Size); err != nil {
			return err
		}
		return d.checkLinearLocked(dev, c.Dst, c.Size, c.Src.Texture)
	case backend.CopyTextureToTexture:
		if err := d.checkTextureRegionLocked(dev, c.Src, c.Size); err != nil {
			return err
		}
		return d.checkTextureRegionLocked(dev, c.Dst, c.Size)
	case backend.ComputePass:
		return d.validatePassLocked(dev, c.Commands)
	case backend.RenderPass:
		for _, a := range c.ColorAttachments {
			if _, err := lookup[*textureView](d, dev, a.View); err != nil {
				return err
			}
		}
		return d.validatePassLocked(dev, c.Commands)
	default:
		return backend.ErrUnsupported
	}
}

func (d *Driver) validatePassLocked(dev backend.Handle, cmds []backend.PassCommand) error {
	for _, pc := range cmds {
		var err error
		switch pc := pc.(type) {
		case backend.SetComputePipeline:
			_, err = lookup[*computePipeline](d, dev, pc.Pipeline)
		case backend.SetRenderPipeline:
			_, err = lookup[*renderPipeline](d, dev, pc.Pipeline)
		case backend.SetBindGroup:
			_, err = lookup[*bindGroup](d, dev, pc.Group)
		case backend.SetVertexBuffer:
			err = d.checkBufferRangeLocked(dev, pc.Buffer, pc.Offset, pc.Size)
		case backend.SetIndexBuffer:
			err = d.checkBufferRangeLocked(dev, pc.Buffer, pc.Offset, pc.Size)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) checkBufferRangeLocked(dev, h backend.Handle, offset, size uint64) error {
	b, err := lookup[*buffer](d, dev, h)
	if err != nil {
		return err
	}
	if offset+size > uint64(len(b.data)) {
		return fmt.Errorf("buffer %q [%d, %d) of %d: %w", b.label, offset, offset+size, len(b.data), ErrOutOfRange)
	}
	return nil
}

func (d *Driver) checkTextureRegionLocked(dev backend.Handle, c backend.ImageCopyTexture, size gputypes.Extent3D) error {
	t, err := lookup[*texture](d, dev, c.Texture)
	if err != nil {
		return err
	}
	if c.MipLevel != 0 {
		return fmt.Errorf("texture %q mip level %d: %w", t.label, c.MipLevel, backend.ErrUnsupported)
	}
	ext := t.desc.Size
	if c.Origin.X+size.Width > ext.Width ||
		c.Origin.Y+size.Height > ext.Height ||
		c.Origin.Z+max(size.DepthOrArrayLayers, 1) > max(ext.DepthOrArrayLayers, 1) {
		return fmt.Errorf("texture %q region: %w", t.label, ErrOutOfRange)
	}
	return nil
}

// checkLinearLocked validates the buffer side of a buffer/texture copy.
func (d *Driver) checkLinearLocked(dev backend.Handle, c backend.ImageCopyBuffer, size gputypes.Extent3D, tex backend.Handle) error {
	t, err := lookup[*texture](d, dev, tex)
	if err != nil {
		return err
	}
	end := linearEnd(c, size, t.bytesPerTexel)
	if end == 0 {
		return nil
	}
	return d.checkBufferRangeLocked(dev, c.Buffer, c.Offset, end-c.Offset)
}

// linearEnd returns the end offset of the last byte touched in the buffer.
func linearEnd(c backend.ImageCopyBuffer, size gputypes.Extent3D, bpt uint32) uint64 {
	if size.Width == 0 || size.Height == 0 {
		return 0
	}
	rows := uint64(c.RowsPerImage)
	if rows == 0 {
		rows = uint64(size.Height)
	}
	layers := uint64(max(size.DepthOrArrayLayers, 1))
	pitch := uint64(c.BytesPerRow)
	if pitch == 0 {
		pitch = uint64(size.Width) * uint64(bpt)
	}
	last := (layers-1)*rows*pitch + uint64(size.Height-1)*pitch + uint64(size.Width)*uint64(bpt)
	return c.Offset + last
}

func (d *Driver) executeLocked(dv *device, w queuedWork) {
	if w.write != nil {
		if b, ok := d.objects[w.write.buffer].(*buffer); ok {
			copy(b.data[w.write.offset:], w.write.data)
		}
		return
	}
	for _, c := range w.list.Commands {
		d.executeCommandLocked(dv, c)
	}
}

// executeCommandLocked runs one validated command. Objects freed between
// submit and poll are skipped.
func (d *Driver) executeCommandLocked(dv *device, c backend.Command) {
	switch c := c.(type) {
	case backend.CopyBufferToBuffer:
		src, ok1 := d.objects[c.Src].(*buffer)
		dst, ok2 := d.objects[c.Dst].(*buffer)
		if ok1 && ok2 {
			copy(dst.data[c.DstOffset:c.DstOffset+c.Size], src.data[c.SrcOffset:c.SrcOffset+c.Size])
		}
	case backend.ClearBuffer:
		if b, ok := d.objects[c.Buffer].(*buffer); ok {
			clear(b.data[c.Offset : c.Offset+c.Size])
		}
	case backend.CopyBufferToTexture:
		b, ok1 := d.objects[c.Src.Buffer].(*buffer)
		t, ok2 := d.objects[c.Dst.Texture].(*texture)
		if ok1 && ok2 {
			copyRows(t, c.Dst.Origin, c.Src, c.Size, func(tex, lin uint64, n uint64) {
				copy(t.data[tex:tex+n], b.data[lin:lin+n])
			})
		}
	case backend.CopyTextureToBuffer:
		t, ok1 := d.objects[c.Src.Texture].(*texture)
		b, ok2 := d.objects[c.Dst.Buffer].(*buffer)
		if ok1 && ok2 {
			copyRows(t, c.Src.Origin, c.Dst, c.Size, func(tex, lin uint64, n uint64) {
				copy(b.data[lin:lin+n], t.data[tex:tex+n])
			})
		}
	case backend.CopyTextureToTexture:
		src, ok1 := d.objects[c.Src.Texture].(*texture)
		dst, ok2 := d.objects[c.Dst.Texture].(*texture)
		if ok1 && ok2 {
			copyTexture(src, c.Src.Origin, dst, c.Dst.Origin, c.Size)
		}
	case backend.ComputePass:
		for _, pc := range c.Commands {
			if _, ok := pc.(backend.Dispatch); ok {
				dv.dispatches++
			}
		}
	case backend.RenderPass:
		for _, a := range c.ColorAttachments {
			if a.LoadOp == gputypes.LoadOpClear {
				d.clearViewLocked(a.View, a.ClearValue)
			}
		}
		for _, pc := range c.Commands {
			switch pc.(type) {
			case backend.Draw, backend.DrawIndexed:
				dv.draws++
			}
		}
	}
}

// copyRows walks a texture region row by row, calling fn with the texture
// offset, linear buffer offset and row length.
func copyRows(t *texture, origin gputypes.Origin3D, lin backend.ImageCopyBuffer, size gputypes.Extent3D, fn func(tex, lin, n uint64)) {
	bpt := uint64(t.bytesPerTexel)
	pitch := uint64(lin.BytesPerRow)
	if pitch == 0 {
		pitch = uint64(size.Width) * bpt
	}
	rows := uint64(lin.RowsPerImage)
	if rows == 0 {
		rows = uint64(size.Height)
	}
	n := uint64(size.Width) * bpt
	for z := uint64(0); z < uint64(max(size.DepthOrArrayLayers, 1)); z++ {
		for y := uint64(0); y < uint64(size.Height); y++ {
			texOff := (uint64(origin.Z)+z)*t.layerPitch() + (uint64(origin.Y)+y)*t.rowPitch() + uint64(origin.X)*bpt
			linOff := lin.Offset + z*rows*pitch + y*pitch
			fn(texOff, linOff, n)
		}
	}
}

func copyTexture(src *texture, so gputypes.Origin3D, dst *texture, do gputypes.Origin3D, size gputypes.Extent3D) {
	bpt := uint64(src.bytesPerTexel)
	n := uint64(size.Width) * bpt
	for z := uint64(0); z < uint64(max(size.DepthOrArrayLayers, 1)); z++ {
		for y := uint64(0); y < uint64(size.Height); y++ {
			s := (uint64(so.Z)+z)*src.layerPitch() + (uint64(so.Y)+y)*src.rowPitch() + uint64(so.X)*bpt
			t := (uint64(do.Z)+z)*dst.layerPitch() + (uint64(do.Y)+y)*dst.rowPitch() + uint64(do.X)*bpt
			copy(dst.data[t:t+n], src.data[s:s+n])
		}
	}
}

// clearViewLocked fills the texture behind a view with an 8-bit color.
func (d *Driver) clearViewLocked(view backend.Handle, c gputypes.Color) {
	v, ok := d.objects[view].(*textureView)
	if !ok {
		return
	}
	t, ok := d.objects[v.texture].(*texture)
	if !ok {
		return
	}
	px := colorBytes(t.desc.Format, c)
	for off := 0; off+len(px) <= len(t.data); off += len(px) {
		copy(t.data[off:], px)
	}
}

func colorBytes(f gputypes.TextureFormat, c gputypes.Color) []byte {
	q := func(v float64) byte {
		v = min(max(v, 0), 1)
		return byte(v*255 + 0.5)
	}
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return []byte{q(c.R)}
	case gputypes.TextureFormatBGRA8Unorm:
		return []byte{q(c.B), q(c.G), q(c.R), q(c.A)}
	default:
		return []byte{q(c.R), q(c.G), q(c.B), q(c.A)}
	}
}
