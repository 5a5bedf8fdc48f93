// Package backend defines the contract between gpuhub and native GPU
// drivers, the process-wide driver registry, and the per-instance
// dispatcher that routes calls by backend tag.
//
// # Drivers
//
// A [Driver] implements create/free for every resource kind, Submit,
// WriteBuffer, Poll and asynchronous buffer mapping. Drivers speak only in
// opaque [Handle] values; typed IDs and lifetime tracking live in the core.
//
// Commands are recorded by the core as plain values ([CopyBufferToBuffer],
// [ComputePass], [RenderPass], ...) and handed to the driver as a
// [CommandList] at submit time.
//
// # Registration
//
// Driver packages register a [Factory] from init():
//
//	func init() {
//		backend.Register(id.Software, func() (backend.Driver, error) {
//			return New(), nil
//		})
//	}
//
// Importing a driver package for side effects makes it available:
//
//	import _ "github.com/gogpu/gpuhub/backend/software"
//
// # Dispatch
//
// [Dispatcher.For] returns the driver for a backend tag. A tag with no
// registered driver panics with [UnsupportedBackendError]: an ID carrying
// such a tag can only come from a misconfigured build.
package backend
