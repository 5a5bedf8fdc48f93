package gpuhub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/future"
	"github.com/gogpu/gpuhub/id"
)

// MapState is the mapping state of a buffer.
type MapState uint8

const (
	// MapStateUnmapped means the buffer can be used by the GPU.
	MapStateUnmapped MapState = iota
	// MapStatePending means a MapAsync is in flight.
	MapStatePending
	// MapStateMapped means the host may access the mapped range.
	MapStateMapped
)

// String returns the state name.
func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("MapState(%d)", uint8(s))
	}
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
	// MappedAtCreation creates the buffer mapped for writing. Size must be
	// a multiple of 4.
	MappedAtCreation bool
}

// Buffer is a block of GPU memory.
//
// Mapping follows a three-state machine. MapAsync moves an unmapped buffer
// to Pending; the backend callback moves it to Mapped and completes the
// future with a BufferView; Unmap returns it to Unmapped from either state,
// cancelling a pending map. Dropping a pending map future unmaps the buffer.
type Buffer struct {
	child[id.Buffer]
	size  uint64
	usage gputypes.BufferUsage

	mu        sync.Mutex
	state     MapState
	mode      gputypes.MapMode
	mapOffset uint64
	mapped    []byte
	// staging is set while mapped holds core memory from MappedAtCreation.
	staging bool
	pending *mapOp
	// current is the map request that produced the active mapping.
	current *mapOp
	// epoch increments on every unmap and invalidates older views.
	epoch uint64
}

// mapOp is one MapAsync request.
type mapOp struct {
	c      *future.Completer[*BufferView]
	mode   gputypes.MapMode
	offset uint64
	size   uint64
}

// CreateBuffer creates a buffer. Descriptor errors are reported to the
// device's error sink and yield an invalid buffer.
func (dv *Device) CreateBuffer(desc *BufferDescriptor) *Buffer {
	if desc == nil {
		desc = &BufferDescriptor{}
	}
	b := &Buffer{size: desc.Size, usage: desc.Usage}
	ok := attach(dv, dv.instance.hub.buffers, b, &b.child, "Device.CreateBuffer", desc.Label, func() (backend.Handle, error) {
		if err := validateBufferDescriptor(desc); err != nil {
			return backend.NilHandle, err
		}
		return dv.driver().CreateBuffer(dv.handle, &backend.BufferDescriptor{
			Label:            desc.Label,
			Size:             desc.Size,
			Usage:            desc.Usage,
			MappedAtCreation: desc.MappedAtCreation,
		})
	})
	if ok && desc.MappedAtCreation {
		b.state = MapStateMapped
		b.mode = gputypes.MapModeWrite
		b.staging = true
		b.mapped = make([]byte, desc.Size)
	}
	return b
}

// CreateBufferMapped creates a buffer mapped for writing and returns a view
// of its whole contents. Unmap the buffer to make the data visible to the
// GPU.
func (dv *Device) CreateBufferMapped(desc *BufferDescriptor) (*Buffer, *BufferView) {
	d := BufferDescriptor{}
	if desc != nil {
		d = *desc
	}
	d.MappedAtCreation = true
	b := dv.CreateBuffer(&d)
	view, err := b.GetMappedRange(Whole())
	if err != nil {
		return b, nil
	}
	return b, view
}

// CreateBufferInit creates a buffer holding contents. The size is
// len(contents) rounded up to a multiple of 4; desc.Size is ignored.
func (dv *Device) CreateBufferInit(desc *BufferDescriptor, contents []byte) *Buffer {
	d := BufferDescriptor{}
	if desc != nil {
		d = *desc
	}
	d.Size = alignUp(uint64(len(contents)), 4)
	b, view := dv.CreateBufferMapped(&d)
	if view == nil {
		return b
	}
	copy(view.Bytes(), contents)
	view.Release()
	if err := b.Unmap(); err != nil {
		Logger().Warn("gpuhub: unmap initialized buffer", slog.String("label", d.Label), slog.Any("err", err))
	}
	return b
}

func validateBufferDescriptor(desc *BufferDescriptor) error {
	const readOK = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	const writeOK = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	u := desc.Usage
	switch {
	case desc.Size == 0:
		return fmt.Errorf("buffer size is zero: %w", ErrInvalidDescriptor)
	case u == gputypes.BufferUsageNone:
		return fmt.Errorf("buffer usage is empty: %w", ErrInvalidDescriptor)
	case u.ContainsUnknownBits():
		return fmt.Errorf("buffer usage %#x has unknown bits: %w", uint64(u), ErrInvalidDescriptor)
	case u.Contains(gputypes.BufferUsageMapRead) && u&^readOK != 0:
		return fmt.Errorf("MAP_READ may only be combined with COPY_DST: %w", ErrInvalidDescriptor)
	case u.Contains(gputypes.BufferUsageMapWrite) && u&^writeOK != 0:
		return fmt.Errorf("MAP_WRITE may only be combined with COPY_SRC: %w", ErrInvalidDescriptor)
	case desc.MappedAtCreation && desc.Size%4 != 0:
		return fmt.Errorf("mapped-at-creation size %d is not a multiple of 4: %w", desc.Size, ErrInvalidDescriptor)
	}
	return nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags given at creation.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// MapState returns the current mapping state.
func (b *Buffer) MapState() MapState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Slice returns a view of r inside b for passing to map and bind calls.
func (b *Buffer) Slice(r BufferRange) BufferSlice {
	return BufferSlice{Buffer: b, Range: r}
}

// MapAsync starts mapping r for mode. The request is issued immediately;
// the future completes after a later Device.Poll (or the instance poller)
// has retired all work submitted before the request.
//
// Validation failures complete the future with a ValidationError rather
// than reaching the error sink. Dropping the future before it completes
// cancels the mapping; dropping it after completion without taking the
// view unmaps the buffer.
func (b *Buffer) MapAsync(mode gputypes.MapMode, r BufferRange) *future.Future[*BufferView] {
	offset, size, err := b.validateMap(mode, r)
	if err != nil {
		return future.Ready[*BufferView](nil, classify("Buffer.MapAsync", err))
	}

	b.mu.Lock()
	if b.state != MapStateUnmapped {
		state := b.state
		b.mu.Unlock()
		return future.Ready[*BufferView](nil, classify("Buffer.MapAsync",
			fmt.Errorf("buffer %q is %s: %w", b.label, state, ErrBufferAlreadyMapped)))
	}
	op := &mapOp{mode: mode, offset: offset, size: size}
	f, c := future.NewDiscardable(func() { b.cancelMap(op) }, func(*BufferView) { b.cancelMap(op) })
	op.c = c
	b.state = MapStatePending
	b.pending = op
	b.mu.Unlock()

	Logger().Debug("gpuhub: map requested",
		slog.String("buffer", b.label),
		slog.Uint64("offset", offset),
		slog.Uint64("size", size))

	dv := b.device
	dv.driver().MapBuffer(dv.handle, b.handle, backend.MapRequest{Mode: mode, Offset: offset, Size: size},
		func(status backend.MapStatus, data []byte) {
			b.mapDone(op, status, data)
		})
	return f
}

func (b *Buffer) validateMap(mode gputypes.MapMode, r BufferRange) (offset, size uint64, err error) {
	if err := b.usable(); err != nil {
		return 0, 0, err
	}
	switch mode {
	case gputypes.MapModeRead:
		if !b.usage.Contains(gputypes.BufferUsageMapRead) {
			return 0, 0, fmt.Errorf("buffer %q lacks MAP_READ: %w", b.label, ErrMapUsageMismatch)
		}
	case gputypes.MapModeWrite:
		if !b.usage.Contains(gputypes.BufferUsageMapWrite) {
			return 0, 0, fmt.Errorf("buffer %q lacks MAP_WRITE: %w", b.label, ErrMapUsageMismatch)
		}
	default:
		return 0, 0, fmt.Errorf("map mode %#x: %w", uint32(mode), ErrMapUsageMismatch)
	}

	offset, size, err = r.Resolve(b.size)
	if err != nil {
		return 0, 0, err
	}
	align := b.device.limits.MinMapAlignment
	if align == 0 {
		align = 8
	}
	if offset%align != 0 || size%4 != 0 {
		return 0, 0, fmt.Errorf("map range %s: %w", Bounded(offset, size), ErrMapAlignment)
	}
	return offset, size, nil
}

// mapDone handles the backend callback. Requests cancelled in the meantime
// are ignored.
func (b *Buffer) mapDone(op *mapOp, status backend.MapStatus, data []byte) {
	b.mu.Lock()
	if b.pending != op {
		b.mu.Unlock()
		Logger().Debug("gpuhub: stale map callback ignored", slog.String("buffer", b.label), slog.String("status", status.String()))
		return
	}
	b.pending = nil

	if status != backend.MapStatusSuccess {
		b.state = MapStateUnmapped
		b.mu.Unlock()
		op.c.Complete(nil, mapStatusError(status))
		return
	}

	if op.c.Dropped() {
		b.state = MapStateUnmapped
		b.mu.Unlock()
		dv := b.device
		dv.driver().UnmapBuffer(dv.handle, b.handle, op.offset, nil, false)
		return
	}

	b.state = MapStateMapped
	b.mode = op.mode
	b.mapOffset = op.offset
	b.mapped = data
	b.current = op
	view := &BufferView{buffer: b, epoch: b.epoch, offset: op.offset, data: data}
	b.mu.Unlock()

	Logger().Debug("gpuhub: buffer mapped", slog.String("buffer", b.label), slog.Int("bytes", len(data)))
	op.c.Complete(view, nil)
}

// cancelMap runs when a map future is dropped before completion, or when
// its mapped view is discarded without being taken.
func (b *Buffer) cancelMap(op *mapOp) {
	b.mu.Lock()
	switch {
	case b.pending == op:
		b.pending = nil
		b.state = MapStateUnmapped
		b.mu.Unlock()
		dv := b.device
		dv.driver().UnmapBuffer(dv.handle, b.handle, op.offset, nil, false)
		Logger().Debug("gpuhub: pending map cancelled", slog.String("buffer", b.label))
	case b.current == op && b.state == MapStateMapped:
		b.unmapLocked()
	default:
		b.mu.Unlock()
	}
}

func mapStatusError(s backend.MapStatus) error {
	switch s {
	case backend.MapStatusAborted:
		return ErrMapAborted
	case backend.MapStatusDestroyed:
		return fmt.Errorf("%w: %w", ErrMapAborted, ErrDestroyed)
	case backend.MapStatusDeviceLost:
		return ErrDeviceLost
	case backend.MapStatusValidationError:
		return &ValidationError{Op: "Buffer.MapAsync", Err: ErrMapFailed}
	default:
		return fmt.Errorf("%w: %s", ErrMapFailed, s)
	}
}

// GetMappedRange returns a view of r, which must lie inside the active
// mapping.
func (b *Buffer) GetMappedRange(r BufferRange) (*BufferView, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	offset, size, err := r.Resolve(b.size)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != MapStateMapped {
		return nil, fmt.Errorf("buffer %q is %s: %w", b.label, b.state, ErrBufferNotMapped)
	}
	mapEnd := b.mapOffset + uint64(len(b.mapped))
	if offset < b.mapOffset || offset+size > mapEnd {
		return nil, fmt.Errorf("range %s outside mapped %s: %w",
			Bounded(offset, size), Bounded(b.mapOffset, uint64(len(b.mapped))), ErrRangeOutOfBounds)
	}
	rel := offset - b.mapOffset
	return &BufferView{buffer: b, epoch: b.epoch, offset: offset, data: b.mapped[rel : rel+size : rel+size]}, nil
}

// Unmap ends the mapping. Write mappings are flushed to the buffer. A
// pending map is cancelled and its future completes with ErrMapAborted.
// Views obtained from the mapping return nil afterwards.
func (b *Buffer) Unmap() error {
	if err := b.usable(); err != nil {
		return err
	}
	dv := b.device

	b.mu.Lock()
	switch b.state {
	case MapStatePending:
		op := b.pending
		b.pending = nil
		b.state = MapStateUnmapped
		b.mu.Unlock()

		dv.driver().UnmapBuffer(dv.handle, b.handle, op.offset, nil, false)
		op.c.Complete(nil, ErrMapAborted)
		Logger().Debug("gpuhub: pending map aborted by unmap", slog.String("buffer", b.label))
		return nil

	case MapStateMapped:
		b.unmapLocked()
		return nil

	default:
		b.mu.Unlock()
		return classify("Buffer.Unmap", fmt.Errorf("buffer %q: %w", b.label, ErrBufferNotMapped))
	}
}

// unmapLocked ends the current mapping, flushing write mappings. It
// releases b.mu.
func (b *Buffer) unmapLocked() {
	write := b.mode == gputypes.MapModeWrite
	offset, data := b.mapOffset, b.mapped
	b.state = MapStateUnmapped
	b.mapped = nil
	b.staging = false
	b.current = nil
	b.epoch++
	b.mu.Unlock()

	if !write {
		data = nil
	}
	dv := b.device
	dv.driver().UnmapBuffer(dv.handle, b.handle, offset, data, write)
	Logger().Debug("gpuhub: buffer unmapped", slog.String("buffer", b.label), slog.Bool("write", write))
}

// ReadMapped maps r for reading, waits for the mapping and calls fn with the
// mapped bytes. The buffer is unmapped when ReadMapped returns, including
// when fn fails or panics. fn must not keep the slice.
func (b *Buffer) ReadMapped(ctx context.Context, r BufferRange, fn func(data []byte) error) error {
	return b.scopedMap(ctx, gputypes.MapModeRead, r, fn)
}

// WriteMapped maps r for writing and calls fn to fill it. The data is
// flushed and the buffer unmapped when WriteMapped returns.
func (b *Buffer) WriteMapped(ctx context.Context, r BufferRange, fn func(data []byte) error) error {
	return b.scopedMap(ctx, gputypes.MapModeWrite, r, fn)
}

func (b *Buffer) scopedMap(ctx context.Context, mode gputypes.MapMode, r BufferRange, fn func([]byte) error) (err error) {
	f := b.MapAsync(mode, r)
	if _, perr := b.device.Poll(true); perr != nil {
		f.Drop()
		return perr
	}
	view, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	defer func() {
		view.Release()
		if uerr := b.Unmap(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn(view.Bytes())
}

// Destroy frees the buffer. A pending map completes with ErrMapAborted.
// Destroy is idempotent.
func (b *Buffer) Destroy() {
	if b.flag.Destroyed() {
		return
	}
	b.mu.Lock()
	op := b.pending
	b.pending = nil
	b.current = nil
	b.state = MapStateUnmapped
	b.mapped = nil
	b.staging = false
	b.epoch++
	b.mu.Unlock()

	if !detach(&b.child, b.device.instance.hub.buffers, b) {
		return
	}
	if op != nil {
		op.c.Complete(nil, fmt.Errorf("buffer %q destroyed: %w", b.label, ErrMapAborted))
	}
}

func (b *Buffer) implicitDestroy() { b.Destroy() }

// checkSubmit verifies that b can be used by submitted work.
func (b *Buffer) checkSubmit() error {
	if err := b.usable(); err != nil {
		return err
	}
	if s := b.MapState(); s != MapStateUnmapped {
		return fmt.Errorf("buffer %q is %s: %w", b.label, s, ErrBufferMapped)
	}
	return nil
}

// BufferView is host access to a mapped range. Bytes returns nil once the
// buffer is unmapped or the view released.
type BufferView struct {
	buffer   *Buffer
	epoch    uint64
	offset   uint64
	data     []byte
	released bool
}

// Bytes returns the mapped bytes, or nil when the view is no longer valid.
// Writes through the slice of a write mapping reach the buffer at unmap.
func (v *BufferView) Bytes() []byte {
	b := v.buffer
	b.mu.Lock()
	defer b.mu.Unlock()
	if v.released || v.epoch != b.epoch || b.state != MapStateMapped {
		return nil
	}
	return v.data
}

// Offset returns the buffer offset of the first byte of the view.
func (v *BufferView) Offset() uint64 { return v.offset }

// Len returns the view length in bytes.
func (v *BufferView) Len() int { return len(v.data) }

// Release drops the view. The mapping itself stays until Unmap.
func (v *BufferView) Release() {
	v.buffer.mu.Lock()
	v.released = true
	v.buffer.mu.Unlock()
}

// BufferSlice is a buffer together with a range inside it.
type BufferSlice struct {
	Buffer *Buffer
	Range  BufferRange
}

// Sub narrows the slice. See BufferRange.Sub.
func (s BufferSlice) Sub(subOffset uint64, r BufferRange) (BufferSlice, error) {
	nr, err := s.Range.Sub(subOffset, r)
	if err != nil {
		return BufferSlice{}, err
	}
	return BufferSlice{Buffer: s.Buffer, Range: nr}, nil
}

// MapAsync maps the slice. See Buffer.MapAsync.
func (s BufferSlice) MapAsync(mode gputypes.MapMode) *future.Future[*BufferView] {
	return s.Buffer.MapAsync(mode, s.Range)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
