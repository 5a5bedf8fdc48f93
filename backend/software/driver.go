// Package software implements an in-process reference driver.
//
// Buffers and textures live in host memory, copies and clears execute on
// the CPU during Poll, and shader work (dispatches and draws) is validated
// and counted but not executed. Map callbacks are delivered on a small
// worker pool so callers observe the same cross-goroutine completion they
// would from a native driver.
//
// The driver registers itself under id.Software on import.
package software

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// Errors specific to the software driver.
var (
	// ErrWrongDevice is returned when a handle belongs to another device.
	ErrWrongDevice = errors.New("software: handle belongs to a different device")

	// ErrTextureAcquired is returned when acquiring a swap chain image while
	// the previous one has not been presented.
	ErrTextureAcquired = errors.New("software: swap chain texture already acquired")

	// ErrOutOfRange is returned when a submitted command reads or writes
	// past the end of a resource.
	ErrOutOfRange = errors.New("software: command range out of bounds")
)

// adapterHandle is the handle of the single software adapter.
const adapterHandle backend.Handle = 1

func init() {
	backend.Register(id.Software, func() (backend.Driver, error) {
		return New(), nil
	})
}

// Driver is the software backend.
type Driver struct {
	mu       sync.Mutex
	next     backend.Handle
	devices  map[backend.Handle]*device
	objects  map[backend.Handle]object
	surfaces map[backend.Handle]*surface

	pool   worker.DynamicWorkerPool
	taskID int

	// inflight counts map callbacks submitted to the pool but not yet run.
	cbMu     sync.Mutex
	cbIdle   *sync.Cond
	inflight int
}

var _ backend.Driver = (*Driver)(nil)

// New creates a software driver.
func New() *Driver {
	d := &Driver{
		next:     adapterHandle,
		devices:  make(map[backend.Handle]*device),
		objects:  make(map[backend.Handle]object),
		surfaces: make(map[backend.Handle]*surface),
		pool:     worker.NewDynamicWorkerPool(2, 256, 1*time.Second),
	}
	d.cbIdle = sync.NewCond(&d.cbMu)
	return d
}

// Backend returns id.Software.
func (d *Driver) Backend() id.Backend { return id.Software }

// Name returns the driver name.
func (d *Driver) Name() string { return "software" }

// Close waits for in-flight callbacks and stops the callback workers.
// Devices should already be destroyed.
func (d *Driver) Close() {
	d.waitCallbacks()
	d.pool.Stop()
}

// EnumerateAdapters reports the single CPU adapter.
func (d *Driver) EnumerateAdapters() ([]backend.AdapterInfo, error) {
	return []backend.AdapterInfo{{
		Handle:     adapterHandle,
		Name:       "gpuhub software adapter",
		Vendor:     "gpuhub",
		DeviceType: gputypes.DeviceTypeCPU,
		Backend:    id.Software,
	}}, nil
}

// OpenDevice creates a device on the software adapter.
func (d *Driver) OpenDevice(adapter backend.Handle, desc *backend.DeviceDescriptor) (backend.Handle, error) {
	if adapter != adapterHandle {
		return backend.NilHandle, fmt.Errorf("open device: %w", backend.ErrInvalidHandle)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.allocLocked()
	dev := &device{handle: h}
	if desc != nil {
		dev.label = desc.Label
		dev.limits = desc.Limits
	}
	if dev.limits == (backend.Limits{}) {
		dev.limits = backend.DefaultLimits()
	}
	d.devices[h] = dev
	backend.Logger().Debug("software: device opened", slog.Uint64("handle", uint64(h)), slog.String("label", dev.label))
	return h, nil
}

// DestroyDevice frees the device and everything still created on it.
func (d *Driver) DestroyDevice(dev backend.Handle) {
	d.mu.Lock()
	dv, ok := d.devices[dev]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.devices, dev)

	var aborted []*pendingMap
	for h, obj := range d.objects {
		if obj.owner() != dev {
			continue
		}
		if b, ok := obj.(*buffer); ok && b.pending != nil {
			aborted = append(aborted, b.pending)
			b.pending = nil
		}
		delete(d.objects, h)
	}
	dv.lost = true
	d.mu.Unlock()

	for _, pm := range aborted {
		d.deliver(pm.cb, backend.MapStatusDeviceLost, nil)
	}
	backend.Logger().Debug("software: device destroyed", slog.Uint64("handle", uint64(dev)))
}

// Free destroys any object created on dev.
func (d *Driver) Free(dev backend.Handle, h backend.Handle) {
	d.mu.Lock()
	obj, ok := d.objects[h]
	if !ok || obj.owner() != dev {
		d.mu.Unlock()
		return
	}
	delete(d.objects, h)
	if sc, ok := obj.(*swapChain); ok {
		for _, img := range sc.images {
			delete(d.objects, img)
		}
	}

	var pm *pendingMap
	if b, ok := obj.(*buffer); ok {
		pm = b.pending
		b.pending = nil
		b.destroyed = true
		if dv := d.devices[dev]; dv != nil {
			dv.dropPending(pm)
		}
	}
	d.mu.Unlock()

	if pm != nil {
		d.deliver(pm.cb, backend.MapStatusDestroyed, nil)
	}
}

// LiveObjects returns the number of live resource objects across devices.
func (d *Driver) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

func (d *Driver) allocLocked() backend.Handle {
	d.next++
	return d.next
}

func (d *Driver) deviceLocked(h backend.Handle) (*device, error) {
	dv, ok := d.devices[h]
	if !ok || dv.lost {
		return nil, backend.ErrDeviceLost
	}
	return dv, nil
}

// insertLocked stores obj under a fresh handle.
func (d *Driver) insertLocked(obj object) backend.Handle {
	h := d.allocLocked()
	d.objects[h] = obj
	return h
}

// lookup returns the object for h checked against dev and type T.
func lookup[T object](d *Driver, dev, h backend.Handle) (T, error) {
	var zero T
	obj, ok := d.objects[h]
	if !ok {
		return zero, fmt.Errorf("handle %d: %w", h, backend.ErrInvalidHandle)
	}
	if obj.owner() != dev {
		return zero, fmt.Errorf("handle %d: %w", h, ErrWrongDevice)
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("handle %d is %T: %w", h, obj, backend.ErrInvalidHandle)
	}
	return t, nil
}

// deliver runs a map callback on the worker pool.
func (d *Driver) deliver(cb backend.MapCallback, status backend.MapStatus, data []byte) {
	if cb == nil {
		return
	}
	d.cbMu.Lock()
	d.inflight++
	d.taskID++
	taskID := d.taskID
	d.cbMu.Unlock()

	d.pool.SubmitTask(worker.Task{
		ID: taskID,
		Do: func() (any, error) {
			defer d.callbackDone()
			cb(status, data)
			return nil, nil
		},
	})
}

func (d *Driver) callbackDone() {
	d.cbMu.Lock()
	d.inflight--
	if d.inflight == 0 {
		d.cbIdle.Broadcast()
	}
	d.cbMu.Unlock()
}

// waitCallbacks blocks until every submitted callback has run.
func (d *Driver) waitCallbacks() {
	d.cbMu.Lock()
	for d.inflight > 0 {
		d.cbIdle.Wait()
	}
	d.cbMu.Unlock()
}
