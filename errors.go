package gpuhub

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuhub/backend"
)

// Errors returned by gpuhub operations.
var (
	// ErrValidation is matched by every ValidationError and
	// OutOfMemoryError.
	ErrValidation = errors.New("gpuhub: validation error")

	// ErrOutOfMemory is matched by every OutOfMemoryError.
	ErrOutOfMemory = errors.New("gpuhub: out of memory")

	// ErrNoAdapter is returned by RequestAdapter when no adapter matches.
	ErrNoAdapter = errors.New("gpuhub: no compatible adapter")

	// ErrDestroyed is returned when using a resource after Destroy or after
	// its device was released.
	ErrDestroyed = errors.New("gpuhub: resource destroyed")

	// ErrInvalidObject is returned by operations on an object whose
	// creation failed validation.
	ErrInvalidObject = errors.New("gpuhub: invalid object")

	// ErrDeviceLost is returned when the backend device stopped executing work.
	ErrDeviceLost = errors.New("gpuhub: device lost")

	// ErrInvalidDescriptor is wrapped by validation errors caused by a
	// malformed creation descriptor.
	ErrInvalidDescriptor = errors.New("gpuhub: invalid descriptor")

	// ErrWrongDevice is returned when resources from different devices are mixed.
	ErrWrongDevice = errors.New("gpuhub: resource belongs to a different device")
)

// Buffer mapping errors.
var (
	// ErrBufferAlreadyMapped is returned by MapAsync while the buffer is
	// mapped or a map is pending.
	ErrBufferAlreadyMapped = errors.New("gpuhub: buffer is already mapped or mapping")

	// ErrBufferNotMapped is returned by Unmap on an unmapped buffer.
	ErrBufferNotMapped = errors.New("gpuhub: buffer is not mapped")

	// ErrBufferMapped is returned when submitting work that uses a mapped buffer.
	ErrBufferMapped = errors.New("gpuhub: buffer is mapped")

	// ErrMapUsageMismatch is returned when the map mode is not allowed by the
	// buffer's usage flags.
	ErrMapUsageMismatch = errors.New("gpuhub: map mode not allowed by buffer usage")

	// ErrMapAlignment is returned when a map offset is not a multiple of 8
	// or a map size not a multiple of 4.
	ErrMapAlignment = errors.New("gpuhub: map range misaligned")

	// ErrMapAborted completes a pending map that was cancelled by Unmap,
	// Destroy or device teardown.
	ErrMapAborted = errors.New("gpuhub: mapping aborted before completion")

	// ErrMapFailed is returned when the backend rejects a map request.
	ErrMapFailed = errors.New("gpuhub: backend failed to map buffer")

	// ErrRangeOutOfBounds is returned when a BufferRange does not fit its
	// parent range or buffer.
	ErrRangeOutOfBounds = errors.New("gpuhub: buffer range out of bounds")
)

// Command recording errors.
var (
	// ErrEncoderLocked is returned when recording on an encoder while a
	// pass is active, or beginning a second pass.
	ErrEncoderLocked = errors.New("gpuhub: encoder is locked by an active pass")

	// ErrEncoderFinished is returned when recording after Finish.
	ErrEncoderFinished = errors.New("gpuhub: encoder is finished")

	// ErrPassEnded is returned when recording into a pass after End.
	ErrPassEnded = errors.New("gpuhub: pass already ended")

	// ErrCopyOffsetNotAligned is returned when a copy offset is not a
	// multiple of 4.
	ErrCopyOffsetNotAligned = errors.New("gpuhub: copy offset must be 4-byte aligned")

	// ErrCopySizeNotAligned is returned when a copy size is not a multiple of 4.
	ErrCopySizeNotAligned = errors.New("gpuhub: copy size must be 4-byte aligned")

	// ErrCopyRangeOutOfBounds is returned when a copy exceeds a resource.
	ErrCopyRangeOutOfBounds = errors.New("gpuhub: copy range out of bounds")

	// ErrCopySameBuffer is returned when copying a buffer onto itself.
	ErrCopySameBuffer = errors.New("gpuhub: copy source and destination are the same buffer")

	// ErrMissingUsage is returned when a resource lacks the usage an
	// operation needs.
	ErrMissingUsage = errors.New("gpuhub: missing resource usage")

	// ErrCommandBufferConsumed is returned when a command buffer is
	// submitted a second time.
	ErrCommandBufferConsumed = errors.New("gpuhub: command buffer already submitted")
)

// Presentation errors.
var (
	// ErrTextureAcquired is returned by GetCurrentTexture while the previous
	// image has not been presented.
	ErrTextureAcquired = errors.New("gpuhub: swap chain texture already acquired")

	// ErrNoTextureAcquired is returned by Present without an acquired image.
	ErrNoTextureAcquired = errors.New("gpuhub: no swap chain texture acquired")
)

// ValidationError reports an operation rejected because its arguments or
// the state of its resources were invalid.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gpuhub: validation error in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// OutOfMemoryError reports an allocation the backend could not satisfy.
type OutOfMemoryError struct {
	Op  string
	Err error
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("gpuhub: out of memory in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OutOfMemoryError) Unwrap() error { return e.Err }

// Is matches both ErrOutOfMemory and ErrValidation.
func (e *OutOfMemoryError) Is(target error) bool {
	return target == ErrOutOfMemory || target == ErrValidation
}

// ErrorHandler receives errors raised on a device and its resources.
type ErrorHandler func(err error)

// classify wraps err as an OutOfMemoryError when the backend ran out of
// memory and as a ValidationError otherwise. Errors already classified are
// returned unchanged.
func classify(op string, err error) error {
	var ve *ValidationError
	var oom *OutOfMemoryError
	switch {
	case errors.As(err, &ve), errors.As(err, &oom):
		return err
	case errors.Is(err, backend.ErrOutOfMemory):
		return &OutOfMemoryError{Op: op, Err: err}
	default:
		return &ValidationError{Op: op, Err: err}
	}
}
