package gpuhub

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// CopyBytesPerRowAlignment is the required alignment of BytesPerRow in
// buffer/texture copies that span more than one row.
const CopyBytesPerRowAlignment = 256

// EncoderState is the recording state of a CommandEncoder.
type EncoderState uint8

const (
	// EncoderStateRecording accepts copies and new passes.
	EncoderStateRecording EncoderState = iota
	// EncoderStatePassActive means a pass is open; only the pass records.
	EncoderStatePassActive
	// EncoderStateFinished means Finish produced a command buffer.
	EncoderStateFinished
	// EncoderStateConsumed means the command buffer was submitted.
	EncoderStateConsumed
	// EncoderStateInvalid means a recorded command failed validation.
	EncoderStateInvalid
)

// String returns the state name.
func (s EncoderState) String() string {
	switch s {
	case EncoderStateRecording:
		return "Recording"
	case EncoderStatePassActive:
		return "PassActive"
	case EncoderStateFinished:
		return "Finished"
	case EncoderStateConsumed:
		return "Consumed"
	case EncoderStateInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("EncoderState(%d)", uint8(s))
	}
}

// CommandEncoderDescriptor describes a command encoder.
type CommandEncoderDescriptor struct {
	Label string
}

// CommandEncoder records GPU commands into a command buffer.
//
// State machine:
//
//	Recording -> BeginComputePass/BeginRenderPass -> PassActive
//	PassActive -> pass End -> Recording
//	Recording -> Finish -> Finished
//	Finished -> Queue.Submit -> Consumed
//	Recording/PassActive -> failed command -> Invalid
//
// Copies are legal only while Recording. A command that fails validation
// returns its error and invalidates the encoder; Finish then fails with
// the first such error. Calls made in the wrong state return
// ErrEncoderLocked or ErrEncoderFinished and leave the state unchanged.
//
// CommandEncoder is safe for concurrent use, but commands from different
// goroutines interleave in lock order.
type CommandEncoder struct {
	child[id.CommandEncoder]

	mu       sync.Mutex
	state    EncoderState
	commands []backend.Command
	used     []submitChecker
	// failure is the first validation error recorded.
	failure error
}

// CreateCommandEncoder creates an encoder in the Recording state.
func (dv *Device) CreateCommandEncoder(desc *CommandEncoderDescriptor) *CommandEncoder {
	if desc == nil {
		desc = &CommandEncoderDescriptor{}
	}
	e := &CommandEncoder{}
	attach(dv, dv.instance.hub.commandEncoders, e, &e.child, "Device.CreateCommandEncoder", desc.Label, func() (backend.Handle, error) {
		return backend.NilHandle, dv.check()
	})
	return e
}

// State returns the current recording state.
func (e *CommandEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// checkRecordingLocked verifies the encoder accepts top-level commands.
// Caller must hold e.mu.
func (e *CommandEncoder) checkRecordingLocked() error {
	switch e.state {
	case EncoderStateRecording:
	case EncoderStatePassActive:
		return ErrEncoderLocked
	case EncoderStateFinished, EncoderStateConsumed:
		return ErrEncoderFinished
	case EncoderStateInvalid:
		return fmt.Errorf("command encoder %q: %w: %w", e.label, ErrInvalidObject, e.failure)
	}
	return e.usable()
}

// failLocked records err as a validation failure. The encoder becomes
// Invalid now, or when the active pass ends.
func (e *CommandEncoder) failLocked(op string, err error) error {
	err = classify(op, err)
	if e.failure == nil {
		e.failure = err
	}
	if e.state == EncoderStateRecording {
		e.state = EncoderStateInvalid
	}
	return err
}

func (e *CommandEncoder) recordLocked(cmd backend.Command, used ...submitChecker) {
	e.commands = append(e.commands, cmd)
	e.used = append(e.used, used...)
}

// CopyBufferToBuffer copies size bytes from src at srcOffset to dst at
// dstOffset. Offsets and size must be multiples of 4; src needs COPY_SRC
// and dst COPY_DST usage.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	if err := e.validateBufferCopy(src, srcOffset, dst, dstOffset, size); err != nil {
		return e.failLocked("CommandEncoder.CopyBufferToBuffer", err)
	}
	e.recordLocked(backend.CopyBufferToBuffer{
		Src:       src.handle,
		SrcOffset: srcOffset,
		Dst:       dst.handle,
		DstOffset: dstOffset,
		Size:      size,
	}, src, dst)
	return nil
}

func (e *CommandEncoder) validateBufferCopy(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	if err := e.checkBuffer(src, gputypes.BufferUsageCopySrc, "COPY_SRC"); err != nil {
		return err
	}
	if err := e.checkBuffer(dst, gputypes.BufferUsageCopyDst, "COPY_DST"); err != nil {
		return err
	}
	switch {
	case src == dst:
		return fmt.Errorf("buffer %q: %w", src.label, ErrCopySameBuffer)
	case srcOffset%4 != 0 || dstOffset%4 != 0:
		return fmt.Errorf("offsets %d, %d: %w", srcOffset, dstOffset, ErrCopyOffsetNotAligned)
	case size%4 != 0:
		return fmt.Errorf("size %d: %w", size, ErrCopySizeNotAligned)
	}
	if err := inBounds(src, srcOffset, size); err != nil {
		return err
	}
	return inBounds(dst, dstOffset, size)
}

func (e *CommandEncoder) checkBuffer(b *Buffer, usage gputypes.BufferUsage, name string) error {
	if b == nil {
		return fmt.Errorf("nil buffer: %w", ErrInvalidDescriptor)
	}
	if err := b.usable(); err != nil {
		return err
	}
	if err := b.sameDevice(e.device); err != nil {
		return err
	}
	if !b.usage.Contains(usage) {
		return fmt.Errorf("buffer %q lacks %s: %w", b.label, name, ErrMissingUsage)
	}
	return nil
}

func inBounds(b *Buffer, offset, size uint64) error {
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("[%d,%d) in buffer %q of %d bytes: %w",
			offset, offset+size, b.label, b.size, ErrCopyRangeOutOfBounds)
	}
	return nil
}

// ClearBuffer zeroes a range of buf. The resolved offset and size must be
// multiples of 4 and buf needs COPY_DST usage.
func (e *CommandEncoder) ClearBuffer(buf *Buffer, r BufferRange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	offset, size, err := e.validateClear(buf, r)
	if err != nil {
		return e.failLocked("CommandEncoder.ClearBuffer", err)
	}
	e.recordLocked(backend.ClearBuffer{Buffer: buf.handle, Offset: offset, Size: size}, buf)
	return nil
}

func (e *CommandEncoder) validateClear(buf *Buffer, r BufferRange) (offset, size uint64, err error) {
	if err := e.checkBuffer(buf, gputypes.BufferUsageCopyDst, "COPY_DST"); err != nil {
		return 0, 0, err
	}
	offset, size, err = r.Resolve(buf.size)
	switch {
	case err != nil:
		return 0, 0, err
	case offset%4 != 0:
		return 0, 0, fmt.Errorf("clear offset %d: %w", offset, ErrCopyOffsetNotAligned)
	case size%4 != 0:
		return 0, 0, fmt.Errorf("clear size %d: %w", size, ErrCopySizeNotAligned)
	}
	return offset, size, nil
}

// ImageCopyBuffer locates texel rows inside a buffer. Zero RowsPerImage
// means the copy height; BytesPerRow may be zero only for single-row
// copies.
type ImageCopyBuffer struct {
	Buffer       *Buffer
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// ImageCopyTexture locates a region origin inside a texture.
type ImageCopyTexture struct {
	Texture  *Texture
	MipLevel uint32
	Origin   gputypes.Origin3D
	Aspect   gputypes.TextureAspect
}

func (c ImageCopyTexture) raw() backend.ImageCopyTexture {
	aspect := c.Aspect
	if aspect == gputypes.TextureAspectUndefined {
		aspect = gputypes.TextureAspectAll
	}
	return backend.ImageCopyTexture{
		Texture:  c.Texture.handle,
		MipLevel: c.MipLevel,
		Origin:   c.Origin,
		Aspect:   aspect,
	}
}

func (c ImageCopyBuffer) raw() backend.ImageCopyBuffer {
	return backend.ImageCopyBuffer{
		Buffer:       c.Buffer.handle,
		Offset:       c.Offset,
		BytesPerRow:  c.BytesPerRow,
		RowsPerImage: c.RowsPerImage,
	}
}

// CopyBufferToTexture uploads texels from a buffer into a texture region.
func (e *CommandEncoder) CopyBufferToTexture(src ImageCopyBuffer, dst ImageCopyTexture, size gputypes.Extent3D) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	err := e.checkTextureCopy(dst, gputypes.TextureUsageCopyDst, "COPY_DST", size)
	if err == nil {
		err = e.checkLinear(src, gputypes.BufferUsageCopySrc, "COPY_SRC", dst.Texture.Format(), size)
	}
	if err != nil {
		return e.failLocked("CommandEncoder.CopyBufferToTexture", err)
	}
	e.recordLocked(backend.CopyBufferToTexture{Src: src.raw(), Dst: dst.raw(), Size: size}, src.Buffer, dst.Texture)
	return nil
}

// CopyTextureToBuffer reads a texture region back into a buffer.
func (e *CommandEncoder) CopyTextureToBuffer(src ImageCopyTexture, dst ImageCopyBuffer, size gputypes.Extent3D) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	err := e.checkTextureCopy(src, gputypes.TextureUsageCopySrc, "COPY_SRC", size)
	if err == nil {
		err = e.checkLinear(dst, gputypes.BufferUsageCopyDst, "COPY_DST", src.Texture.Format(), size)
	}
	if err != nil {
		return e.failLocked("CommandEncoder.CopyTextureToBuffer", err)
	}
	e.recordLocked(backend.CopyTextureToBuffer{Src: src.raw(), Dst: dst.raw(), Size: size}, src.Texture, dst.Buffer)
	return nil
}

// CopyTextureToTexture copies a region between two textures of the same
// format.
func (e *CommandEncoder) CopyTextureToTexture(src, dst ImageCopyTexture, size gputypes.Extent3D) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	err := e.checkTextureCopy(src, gputypes.TextureUsageCopySrc, "COPY_SRC", size)
	if err == nil {
		err = e.checkTextureCopy(dst, gputypes.TextureUsageCopyDst, "COPY_DST", size)
	}
	if err == nil && src.Texture.Format() != dst.Texture.Format() {
		err = fmt.Errorf("formats %v and %v differ: %w", src.Texture.Format(), dst.Texture.Format(), ErrInvalidDescriptor)
	}
	if err != nil {
		return e.failLocked("CommandEncoder.CopyTextureToTexture", err)
	}
	e.recordLocked(backend.CopyTextureToTexture{Src: src.raw(), Dst: dst.raw(), Size: size}, src.Texture, dst.Texture)
	return nil
}

// checkTextureCopy validates the texture side of a copy: usage, mip level
// and that the region fits the mip extent.
func (e *CommandEncoder) checkTextureCopy(c ImageCopyTexture, usage gputypes.TextureUsage, name string, size gputypes.Extent3D) error {
	t := c.Texture
	if t == nil {
		return fmt.Errorf("nil texture: %w", ErrInvalidDescriptor)
	}
	if err := t.usable(); err != nil {
		return err
	}
	if err := t.sameDevice(e.device); err != nil {
		return err
	}
	if !t.desc.Usage.Contains(usage) {
		return fmt.Errorf("texture %q lacks %s: %w", t.label, name, ErrMissingUsage)
	}
	if backend.IsCompressed(t.desc.Format) {
		return fmt.Errorf("texture %q format %v is block compressed: %w", t.label, t.desc.Format, ErrInvalidDescriptor)
	}
	if c.MipLevel >= t.desc.MipLevelCount {
		return fmt.Errorf("texture %q mip level %d of %d: %w", t.label, c.MipLevel, t.desc.MipLevelCount, ErrCopyRangeOutOfBounds)
	}
	ext := mipExtent(t.desc.Size, c.MipLevel)
	if uint64(c.Origin.X)+uint64(size.Width) > uint64(ext.Width) ||
		uint64(c.Origin.Y)+uint64(size.Height) > uint64(ext.Height) ||
		uint64(c.Origin.Z)+uint64(max(size.DepthOrArrayLayers, 1)) > uint64(ext.DepthOrArrayLayers) {
		return fmt.Errorf("texture %q region %v+%v exceeds %v: %w", t.label, c.Origin, size, ext, ErrCopyRangeOutOfBounds)
	}
	return nil
}

// checkLinear validates the buffer side of a buffer/texture copy.
func (e *CommandEncoder) checkLinear(c ImageCopyBuffer, usage gputypes.BufferUsage, name string, format gputypes.TextureFormat, size gputypes.Extent3D) error {
	if err := e.checkBuffer(c.Buffer, usage, name); err != nil {
		return err
	}
	bpt := uint64(backend.TexelSize(format))
	row := uint64(size.Width) * bpt
	layers := uint64(max(size.DepthOrArrayLayers, 1))
	multi := size.Height > 1 || layers > 1

	if c.Offset%bpt != 0 {
		return fmt.Errorf("offset %d not a multiple of texel size %d: %w", c.Offset, bpt, ErrCopyOffsetNotAligned)
	}
	pitch := uint64(c.BytesPerRow)
	switch {
	case pitch == 0 && multi:
		return fmt.Errorf("bytes per row required for %v: %w", size, ErrInvalidDescriptor)
	case pitch == 0:
		pitch = row
	case pitch%CopyBytesPerRowAlignment != 0:
		return fmt.Errorf("bytes per row %d: %w", pitch, ErrCopyOffsetNotAligned)
	case pitch < row:
		return fmt.Errorf("bytes per row %d below row size %d: %w", pitch, row, ErrInvalidDescriptor)
	}
	rows := uint64(c.RowsPerImage)
	if rows == 0 {
		rows = uint64(size.Height)
	}
	if rows < uint64(size.Height) {
		return fmt.Errorf("rows per image %d below height %d: %w", rows, size.Height, ErrInvalidDescriptor)
	}
	if size.Width == 0 || size.Height == 0 {
		return nil
	}
	need := (layers-1)*rows*pitch + uint64(size.Height-1)*pitch + row
	return inBounds(c.Buffer, c.Offset, need)
}

func mipExtent(size gputypes.Extent3D, level uint32) gputypes.Extent3D {
	return gputypes.Extent3D{
		Width:              max(size.Width>>level, 1),
		Height:             max(size.Height>>level, 1),
		DepthOrArrayLayers: max(size.DepthOrArrayLayers, 1),
	}
}

// beginPassLocked moves the encoder into PassActive.
func (e *CommandEncoder) beginPassLocked() error {
	if err := e.checkRecordingLocked(); err != nil {
		return err
	}
	e.state = EncoderStatePassActive
	return nil
}

// endPass records a finished pass and unlocks the encoder. Pass errors
// invalidate the encoder at this point.
func (e *CommandEncoder) endPass(cmd backend.Command, used []submitChecker, failure error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EncoderStateRecording
	if failure != nil {
		if e.failure == nil {
			e.failure = failure
		}
		e.state = EncoderStateInvalid
		return
	}
	if e.failure != nil {
		e.state = EncoderStateInvalid
		return
	}
	e.recordLocked(cmd, used...)
}

// Finish ends recording and returns the command buffer. The encoder's ID
// is released. Finish fails while a pass is active, after a previous
// Finish, and with the first recorded error if the encoder is invalid.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRecordingLocked(); err != nil {
		if e.state == EncoderStateInvalid {
			detach(&e.child, e.device.instance.hub.commandEncoders, e)
			return nil, e.failure
		}
		return nil, err
	}

	e.state = EncoderStateFinished
	cb := &CommandBuffer{
		encoder: e,
		list:    &backend.CommandList{Label: e.label, Commands: e.commands},
		used:    e.used,
	}
	e.commands, e.used = nil, nil
	dv := e.device
	detach(&e.child, dv.instance.hub.commandEncoders, e)
	attach(dv, dv.instance.hub.commandBuffers, cb, &cb.child, "CommandEncoder.Finish", e.label, func() (backend.Handle, error) {
		return backend.NilHandle, dv.check()
	})
	if cb.err != nil {
		return nil, cb.err
	}
	return cb, nil
}

// markConsumed is called by the command buffer when it is submitted.
func (e *CommandEncoder) markConsumed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EncoderStateFinished {
		e.state = EncoderStateConsumed
	}
}

// Destroy discards an unfinished encoder. Destroy is idempotent.
func (e *CommandEncoder) Destroy() {
	detach(&e.child, e.device.instance.hub.commandEncoders, e)
}

func (e *CommandEncoder) implicitDestroy() { e.Destroy() }
