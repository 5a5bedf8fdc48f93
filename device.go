package gpuhub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
	"github.com/gogpu/gpuhub/internal/lifetime"
)

// Limits are the resource limits a device enforces.
type Limits = backend.Limits

// DefaultLimits returns the limits every backend supports.
func DefaultLimits() Limits { return backend.DefaultLimits() }

// maxTeardownPolls bounds the polls a releasing device waits for its queue
// to drain.
const maxTeardownPolls = 64

// DeviceDescriptor configures Adapter.RequestDevice.
type DeviceDescriptor struct {
	Label string
	// Limits requested for the device. The zero value selects DefaultLimits.
	Limits Limits
}

// Device is a logical GPU device and the factory for every resource.
//
// A device is reference counted: RequestDevice returns the first reference,
// Retain adds one and Release drops one. Releasing the last reference waits
// for submitted work, destroys every resource still alive on the device and
// then destroys the backend device.
type Device struct {
	instance *Instance
	adapter  *Adapter
	id       id.ID[id.Device]
	label    string
	handle   backend.Handle
	limits   Limits
	sink     *ErrorSink
	refs     *lifetime.RefCount
	flag     lifetime.Flag
	queue    *Queue

	mu       sync.Mutex
	children map[resource]struct{}
}

// ID returns the device identifier.
func (dv *Device) ID() id.ID[id.Device] { return dv.id }

// Label returns the debug label.
func (dv *Device) Label() string { return dv.label }

// Adapter returns the adapter the device was opened on.
func (dv *Device) Adapter() *Adapter { return dv.adapter }

// Queue returns the device queue.
func (dv *Device) Queue() *Queue { return dv.queue }

// Limits returns the limits the device was opened with.
func (dv *Device) Limits() Limits { return dv.limits }

// ErrorSink returns the error sink shared by the device and its resources.
func (dv *Device) ErrorSink() *ErrorSink { return dv.sink }

// SetErrorHandler installs the handler for errors raised on the device and
// its resources. nil restores the default handler, which panics.
func (dv *Device) SetErrorHandler(h ErrorHandler) { dv.sink.SetHandler(h) }

// Destroyed reports whether the device has been torn down.
func (dv *Device) Destroyed() bool { return dv.flag.Destroyed() }

// Retain adds a reference to the device and returns it.
func (dv *Device) Retain() *Device {
	dv.refs.Retain()
	return dv
}

// Release drops a reference. The last release tears the device down.
func (dv *Device) Release() {
	if dv.refs.Release() {
		dv.teardown()
	}
}

// Poll advances the device: completed submissions retire and due map
// callbacks run. With forceWait set it blocks until all submitted work has
// finished. It reports whether the queue is idle.
func (dv *Device) Poll(forceWait bool) (bool, error) {
	if err := dv.check(); err != nil {
		return true, err
	}
	idle, err := dv.driver().Poll(dv.handle, forceWait)
	if err != nil {
		return idle, fmt.Errorf("poll device %q: %w", dv.label, deviceError(err))
	}
	return idle, nil
}

// driver returns the backend driver selected by the device's ID tag.
func (dv *Device) driver() backend.Driver {
	return dv.instance.dispatch.For(dv.id.Backend())
}

// check fails once the device has been torn down.
func (dv *Device) check() error {
	if dv.flag.Destroyed() {
		return fmt.Errorf("device %q: %w", dv.label, ErrDestroyed)
	}
	return nil
}

// track records a live child for implicit destruction at teardown.
func (dv *Device) track(r resource) {
	dv.mu.Lock()
	dv.children[r] = struct{}{}
	dv.mu.Unlock()
}

func (dv *Device) untrack(r resource) {
	dv.mu.Lock()
	delete(dv.children, r)
	dv.mu.Unlock()
}

// teardown waits for the queue to drain, destroys every live child and then
// the backend device.
func (dv *Device) teardown() {
	if !dv.flag.Destroy() {
		return
	}
	drv := dv.driver()

	idle := false
	for i := 0; i < maxTeardownPolls && !idle; i++ {
		var err error
		idle, err = drv.Poll(dv.handle, true)
		if err != nil {
			Logger().Warn("gpuhub: poll before device teardown", slog.String("device", dv.label), slog.Any("err", err))
			break
		}
	}
	if !idle {
		Logger().Warn("gpuhub: device torn down with work in flight", slog.String("device", dv.label))
	}

	dv.mu.Lock()
	children := make([]resource, 0, len(dv.children))
	for r := range dv.children {
		children = append(children, r)
	}
	dv.mu.Unlock()

	for _, r := range children {
		r.implicitDestroy()
	}

	drv.DestroyDevice(dv.handle)

	hub := dv.instance.hub
	if err := hub.queues.Release(dv.queue.id, nil); err != nil {
		Logger().Warn("gpuhub: release queue", slog.Any("err", err))
	}
	if err := hub.devices.Release(dv.id, nil); err != nil {
		Logger().Warn("gpuhub: release device", slog.Any("err", err))
	}
	dv.instance.forgetDevice(dv)
	dv.sink.release()

	Logger().Info("gpuhub: device destroyed",
		slog.String("device", dv.label),
		slog.Int("children", len(children)))
}

// deviceError maps backend device loss to ErrDeviceLost.
func deviceError(err error) error {
	if err != nil && errors.Is(err, backend.ErrDeviceLost) {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	return err
}
