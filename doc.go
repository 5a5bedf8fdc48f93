// Package gpuhub provides a WebGPU-style GPU API over pluggable native
// backends.
//
// # Overview
//
// An [Instance] enumerates adapters across every enabled backend. An
// [Adapter] opens a [Device] with its [Queue]. Devices create buffers,
// textures, samplers, shader modules, bind groups, pipelines, command
// encoders and swap chains. Every object carries a typed ID that resolves
// through the instance's registries; an ID goes stale when its object is
// destroyed and never resolves again, even after the slot is reused.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/gpuhub"
//		_ "github.com/gogpu/gpuhub/backend/software"
//	)
//
//	inst := gpuhub.NewInstance()
//	defer inst.Release()
//
//	adapter, err := inst.RequestAdapter(nil).Wait(ctx)
//	device, err := adapter.RequestDevice(nil).Wait(ctx)
//	defer device.Release()
//
//	src := device.CreateBufferInit(&gpuhub.BufferDescriptor{
//		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
//	}, data)
//
// # Errors
//
// Factories follow WebGPU: a descriptor error is reported to the device's
// [ErrorSink] and the factory returns an invalid object whose operations
// fail with [ErrInvalidObject]. The default handler panics, so install one
// with [Device.SetErrorHandler] or [WithErrorHandler]. Operations that
// return an error, such as [Queue.Submit] and [Buffer.Unmap], report
// directly with a [ValidationError] or [OutOfMemoryError].
//
// # Mapping
//
// [Buffer.MapAsync] returns a future that completes once the backend has
// mapped the range. Futures make progress only when the device is polled,
// either by [Device.Poll], [Instance.Poll] or the poller started with
// [WithPollInterval]. Dropping an unfinished map future unmaps the buffer.
//
// # Backends
//
// Backends register from init(). Import backend/software for a CPU
// reference driver or backend/wgpu for the wgpu HAL backends. The
// GPUHUB_BACKEND environment variable or [WithBackends] restricts which
// registered backends an instance enables.
package gpuhub

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
