package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuhub/id"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrInvalidHandle is returned when a handle does not name a live object
	// of the expected type on this driver.
	ErrInvalidHandle = errors.New("backend: invalid handle")

	// ErrOutOfMemory is wrapped by drivers when an allocation fails for lack
	// of memory. The core reports it as an out-of-memory error.
	ErrOutOfMemory = errors.New("backend: out of memory")

	// ErrUnsupported is returned for operations a driver does not implement.
	ErrUnsupported = errors.New("backend: operation not supported")

	// ErrDeviceLost is returned once a device can no longer execute work.
	ErrDeviceLost = errors.New("backend: device lost")
)

// UnsupportedBackendError reports an ID whose backend tag has no driver in
// this build or is not enabled on the instance. It indicates a build or
// configuration error and is raised as a panic by Dispatcher.For.
type UnsupportedBackendError struct {
	Backend id.Backend
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("backend: %s backend is not compiled in or not enabled", e.Backend)
}

// Is makes errors.Is(err, ErrBackendNotAvailable) hold.
func (e *UnsupportedBackendError) Is(target error) bool { return target == ErrBackendNotAvailable }

// Handle is an opaque driver-side object reference. Each driver owns the
// meaning of its handles; NilHandle is never issued.
type Handle uint64

// NilHandle is the zero handle.
const NilHandle Handle = 0

// Driver is the contract every native backend implements.
//
// The core talks to a driver only through Handles. A driver must accept
// calls from multiple goroutines. MapBuffer must invoke its callback exactly
// once, either during a later Poll or from a driver goroutine, and never
// while holding locks the caller might need.
type Driver interface {
	// Backend returns the tag stamped into every ID created on this driver.
	Backend() id.Backend

	// Name returns a human-readable driver name.
	Name() string

	// Close releases driver-wide state. Devices must be destroyed first.
	Close()

	EnumerateAdapters() ([]AdapterInfo, error)
	OpenDevice(adapter Handle, desc *DeviceDescriptor) (Handle, error)
	DestroyDevice(dev Handle)

	CreateBuffer(dev Handle, desc *BufferDescriptor) (Handle, error)
	CreateTexture(dev Handle, desc *TextureDescriptor) (Handle, error)
	CreateTextureView(dev Handle, texture Handle, desc *TextureViewDescriptor) (Handle, error)
	CreateSampler(dev Handle, desc *SamplerDescriptor) (Handle, error)
	CreateShaderModule(dev Handle, desc *ShaderModuleDescriptor) (Handle, error)
	CreateBindGroupLayout(dev Handle, desc *BindGroupLayoutDescriptor) (Handle, error)
	CreateBindGroup(dev Handle, desc *BindGroupDescriptor) (Handle, error)
	CreatePipelineLayout(dev Handle, desc *PipelineLayoutDescriptor) (Handle, error)
	CreateComputePipeline(dev Handle, desc *ComputePipelineDescriptor) (Handle, error)
	CreateRenderPipeline(dev Handle, desc *RenderPipelineDescriptor) (Handle, error)

	// Free destroys any object created on dev.
	Free(dev Handle, h Handle)

	// Submit executes command lists in order after all earlier submissions.
	Submit(dev Handle, lists []*CommandList) error

	// WriteBuffer schedules a host-to-buffer write ordered before the next
	// submission.
	WriteBuffer(dev Handle, buf Handle, offset uint64, data []byte) error

	// Poll advances the device. With wait set it blocks until all submitted
	// work finished and all due map callbacks have been delivered.
	Poll(dev Handle, wait bool) (idle bool, err error)

	// MapBuffer starts an asynchronous mapping.
	MapBuffer(dev Handle, buf Handle, req MapRequest, cb MapCallback)

	// UnmapBuffer ends a mapping. A pending map is cancelled and its callback
	// reports MapStatusAborted. For write mappings data is flushed to the
	// buffer at offset.
	UnmapBuffer(dev Handle, buf Handle, offset uint64, data []byte, write bool)

	CreateSurface(target SurfaceTarget) (Handle, error)
	DestroySurface(surface Handle)
	ConfigureSwapChain(dev Handle, surface Handle, desc *SwapChainDescriptor) (Handle, error)
	AcquireTexture(dev Handle, swapChain Handle) (Handle, error)
	Present(dev Handle, swapChain Handle) error
}
