package wgpu

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

// pendingMap is a map request waiting for earlier submissions to finish.
type pendingMap struct {
	buffer *buffer
	req    backend.MapRequest
	cb     backend.MapCallback
	// after is the submission index that must complete first.
	after uint64
}

type resolvedMap struct {
	pm     *pendingMap
	status backend.MapStatus
	data   []byte
}

// MapBuffer validates the request and queues it behind the last submission.
// Rejections are delivered from a separate goroutine.
func (d *Driver) MapBuffer(dev, buf backend.Handle, req backend.MapRequest, cb backend.MapCallback) {
	dv, err := d.device(dev)
	if err != nil {
		deliverAsync(cb, backend.MapStatusDeviceLost)
		return
	}
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		backend.Logger().Warn("wgpu: map rejected", slog.Any("err", err))
		deliverAsync(cb, backend.MapStatusValidationError)
		return
	}
	if err := dv.queueMap(b, req, cb); err != nil {
		backend.Logger().Warn("wgpu: map rejected", slog.Any("err", err))
		deliverAsync(cb, backend.MapStatusValidationError)
	}
}

func (dv *device) queueMap(b *buffer, req backend.MapRequest, cb backend.MapCallback) error {
	dv.mu.Lock()
	defer dv.mu.Unlock()

	switch {
	case b.pending != nil || b.mapped:
		return fmt.Errorf("buffer %q is already mapped or mapping", b.label)
	case req.Mode == gputypes.MapModeRead && !b.usage.Contains(gputypes.BufferUsageMapRead):
		return fmt.Errorf("buffer %q lacks MAP_READ usage", b.label)
	case req.Mode == gputypes.MapModeWrite && !b.usage.Contains(gputypes.BufferUsageMapWrite):
		return fmt.Errorf("buffer %q lacks MAP_WRITE usage", b.label)
	case req.Offset+req.Size > b.size:
		return fmt.Errorf("buffer %q: range [%d, %d) exceeds size %d", b.label, req.Offset, req.Offset+req.Size, b.size)
	}

	pm := &pendingMap{buffer: b, req: req, cb: cb, after: dv.lastSubmit}
	b.pending = pm
	dv.pending = append(dv.pending, pm)
	return nil
}

// resolveMaps maps every pending buffer whose preceding work is complete.
func (dv *device) resolveMaps(completed uint64) []resolvedMap {
	dv.mu.Lock()
	defer dv.mu.Unlock()

	var out []resolvedMap
	kept := dv.pending[:0]
	for _, pm := range dv.pending {
		if pm.after > completed {
			kept = append(kept, pm)
			continue
		}
		b := pm.buffer
		b.pending = nil
		if pm.req.Size == 0 {
			b.mapped = true
			out = append(out, resolvedMap{pm: pm, status: backend.MapStatusSuccess, data: []byte{}})
			continue
		}
		m, err := dv.raw.MapBuffer(b.raw, pm.req.Offset, pm.req.Size)
		if err != nil {
			backend.Logger().Warn("wgpu: map failed", slog.String("buffer", b.label), slog.Any("err", err))
			out = append(out, resolvedMap{pm: pm, status: backend.MapStatusError})
			continue
		}
		b.mapped = true
		b.hostMapped = true
		b.coherent = m.IsCoherent
		data := unsafe.Slice((*byte)(m.Ptr), pm.req.Size)
		out = append(out, resolvedMap{pm: pm, status: backend.MapStatusSuccess, data: data})
	}
	dv.pending = kept
	return out
}

// takePending detaches b's pending map and reports whether b holds a hal
// mapping. Used when b is freed.
func (dv *device) takePending(b *buffer) (pm *pendingMap, hostMapped bool) {
	dv.mu.Lock()
	defer dv.mu.Unlock()

	pm = b.pending
	if pm != nil {
		b.pending = nil
		dv.dropPendingLocked(pm)
	}
	hostMapped = b.hostMapped
	b.mapped = false
	b.hostMapped = false
	return pm, hostMapped
}

// failPending fails every pending map with status.
func (dv *device) failPending(status backend.MapStatus) {
	dv.mu.Lock()
	pending := dv.pending
	dv.pending = nil
	for _, pm := range pending {
		pm.buffer.pending = nil
	}
	dv.mu.Unlock()

	for _, pm := range pending {
		deliverAsync(pm.cb, status)
	}
}

func (dv *device) dropPendingLocked(pm *pendingMap) {
	for i, p := range dv.pending {
		if p == pm {
			dv.pending = append(dv.pending[:i], dv.pending[i+1:]...)
			return
		}
	}
}

// UnmapBuffer ends a mapping or cancels a pending one. Writes to
// non-coherent memory and to buffers mapped at creation go through the
// queue.
func (d *Driver) UnmapBuffer(dev, buf backend.Handle, offset uint64, data []byte, write bool) {
	dv, err := d.device(dev)
	if err != nil {
		return
	}
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		return
	}

	dv.mu.Lock()
	pm := b.pending
	if pm != nil {
		b.pending = nil
		dv.dropPendingLocked(pm)
	}
	mapped, hostMapped, coherent := b.mapped, b.hostMapped, b.coherent
	b.mapped = false
	b.hostMapped = false
	dv.mu.Unlock()

	if pm != nil {
		deliverAsync(pm.cb, backend.MapStatusAborted)
	}
	if !mapped {
		return
	}

	var flush []byte
	if write && data != nil && offset+uint64(len(data)) <= b.size {
		if !hostMapped || !coherent {
			flush = make([]byte, len(data))
			copy(flush, data)
		}
	}
	if hostMapped {
		if err := dv.raw.UnmapBuffer(b.raw); err != nil {
			backend.Logger().Warn("wgpu: unmap failed", slog.String("buffer", b.label), slog.Any("err", err))
		}
	}
	if flush != nil {
		if err := dv.queue.WriteBuffer(b.raw, offset, flush); err != nil {
			backend.Logger().Warn("wgpu: flush mapped range failed", slog.String("buffer", b.label), slog.Any("err", err))
		}
	}
}
