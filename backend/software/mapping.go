package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

// pendingMap is a map request waiting for earlier queue work to finish.
type pendingMap struct {
	buffer *buffer
	req    backend.MapRequest
	cb     backend.MapCallback
	// after is the queue position that must complete before the map resolves.
	after uint64
}

// MapBuffer queues a map request. It resolves on the first Poll that has
// executed all work submitted before the request.
func (d *Driver) MapBuffer(dev, buf backend.Handle, req backend.MapRequest, cb backend.MapCallback) {
	d.mu.Lock()
	status, err := d.mapBufferLocked(dev, buf, req, cb)
	d.mu.Unlock()

	if err != nil {
		backend.Logger().Warn("software: map rejected", "err", err)
		d.deliver(cb, status, nil)
	}
}

func (d *Driver) mapBufferLocked(dev, buf backend.Handle, req backend.MapRequest, cb backend.MapCallback) (backend.MapStatus, error) {
	dv, err := d.deviceLocked(dev)
	if err != nil {
		return backend.MapStatusDeviceLost, err
	}
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		return backend.MapStatusValidationError, err
	}
	switch {
	case b.pending != nil || b.mapped:
		return backend.MapStatusValidationError, fmt.Errorf("buffer %q is already mapped or mapping", b.label)
	case req.Mode == gputypes.MapModeRead && !b.usage.Contains(gputypes.BufferUsageMapRead):
		return backend.MapStatusValidationError, fmt.Errorf("buffer %q lacks MAP_READ usage", b.label)
	case req.Mode == gputypes.MapModeWrite && !b.usage.Contains(gputypes.BufferUsageMapWrite):
		return backend.MapStatusValidationError, fmt.Errorf("buffer %q lacks MAP_WRITE usage", b.label)
	case req.Offset+req.Size > uint64(len(b.data)):
		return backend.MapStatusValidationError, fmt.Errorf("buffer %q: %w", b.label, ErrOutOfRange)
	}

	pm := &pendingMap{buffer: b, req: req, cb: cb, after: dv.submitted}
	b.pending = pm
	dv.pending = append(dv.pending, pm)
	return backend.MapStatusSuccess, nil
}

// UnmapBuffer ends a mapping or cancels a pending one. Mapped ranges alias
// the buffer storage, so write mappings need no extra copy unless data came
// from elsewhere.
func (d *Driver) UnmapBuffer(dev, buf backend.Handle, offset uint64, data []byte, write bool) {
	d.mu.Lock()
	b, err := lookup[*buffer](d, dev, buf)
	if err != nil {
		d.mu.Unlock()
		return
	}

	pm := b.pending
	if pm != nil {
		b.pending = nil
		if dv := d.devices[dev]; dv != nil {
			dv.dropPending(pm)
		}
	}
	if b.mapped && write && data != nil && offset+uint64(len(data)) <= uint64(len(b.data)) {
		copy(b.data[offset:], data)
	}
	b.mapped = false
	d.mu.Unlock()

	if pm != nil {
		d.deliver(pm.cb, backend.MapStatusAborted, nil)
	}
}
