// Package wgpu drives native GPUs through the gogpu/wgpu hardware
// abstraction layer (hal).
//
// Each Driver wraps one hal backend (Vulkan, Metal, DX12 or GL) and maps
// gpuhub handles onto hal objects. Recorded command lists are replayed into a
// hal command encoder at submit time.
//
// # Registration
//
// Importing the package registers a driver for every hal backend compiled
// into the binary. The Vulkan hal backend is always imported:
//
//	import _ "github.com/gogpu/gpuhub/backend/wgpu"
//
// # Submission
//
// Submissions are tracked by the hal submission index. At most
// MaxInFlight command lists may be in flight per device; Submit waits for
// the oldest work to retire when the limit is reached. Poll retires
// finished submissions, frees their command buffers and resolves buffer
// maps whose preceding work has completed.
//
// # Shared devices
//
// FromProvider wraps a device owned by another library (anything
// implementing gpucontext.DeviceProvider whose HalDevice and HalQueue
// methods return hal objects). The driver never destroys an adopted
// device.
package wgpu
