package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// MaxInFlight is the number of command lists a device may have queued on
// the GPU before Submit blocks.
const MaxInFlight = 16

// ErrWrongDevice is returned when a handle belongs to another device.
var ErrWrongDevice = errors.New("wgpu: handle belongs to a different device")

// halBackends maps gpuhub backend tags to hal backend variants.
var halBackends = []struct {
	tag     id.Backend
	variant gputypes.Backend
}{
	{id.Vulkan, gputypes.BackendVulkan},
	{id.Metal, gputypes.BackendMetal},
	{id.DX12, gputypes.BackendDX12},
	{id.GL, gputypes.BackendGL},
}

func init() {
	for _, b := range halBackends {
		if _, ok := hal.GetBackend(b.variant); !ok {
			continue
		}
		backend.Register(b.tag, func() (backend.Driver, error) {
			return Open(b.variant, b.tag)
		})
	}
}

// Driver is a backend.Driver over one hal backend.
type Driver struct {
	tag      id.Backend
	instance hal.Instance

	mu       sync.Mutex
	next     backend.Handle
	adapters map[backend.Handle]*adapter
	devices  map[backend.Handle]*device
	objects  map[backend.Handle]object
	surfaces map[backend.Handle]hal.Surface
}

var _ backend.Driver = (*Driver)(nil)

// adapter is an enumerated or adopted hal adapter.
type adapter struct {
	info    backend.AdapterInfo
	exposed hal.ExposedAdapter
	// provided is set for FromProvider drivers; OpenDevice then wraps it
	// instead of opening a new device.
	provided *hal.OpenDevice
}

// Open creates a driver for a registered hal backend variant. tag is
// stamped into every ID created through the driver.
func Open(variant gputypes.Backend, tag id.Backend) (*Driver, error) {
	b, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("wgpu: hal backend %s: %w", variant, backend.ErrBackendNotAvailable)
	}
	return New(b, tag)
}

// New creates a driver over the given hal backend.
func New(b hal.Backend, tag id.Backend) (*Driver, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s instance: %w", b.Variant(), err)
	}
	d := newDriver(tag)
	d.instance = inst
	backend.Logger().Info("wgpu: driver created", slog.String("backend", tag.String()))
	return d, nil
}

func newDriver(tag id.Backend) *Driver {
	return &Driver{
		tag:      tag,
		adapters: make(map[backend.Handle]*adapter),
		devices:  make(map[backend.Handle]*device),
		objects:  make(map[backend.Handle]object),
		surfaces: make(map[backend.Handle]hal.Surface),
	}
}

// Backend returns the tag this driver was created with.
func (d *Driver) Backend() id.Backend { return d.tag }

// Name returns the driver name.
func (d *Driver) Name() string { return "wgpu-hal-" + d.tag.String() }

// SetLogger forwards the gpuhub logger to the hal layer.
func (d *Driver) SetLogger(l *slog.Logger) { hal.SetLogger(l) }

// Close destroys adapters, surfaces and the hal instance.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for h, s := range d.surfaces {
		s.Destroy()
		delete(d.surfaces, h)
	}
	for h, a := range d.adapters {
		if a.provided == nil && a.exposed.Adapter != nil {
			a.exposed.Adapter.Destroy()
		}
		delete(d.adapters, h)
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}

// EnumerateAdapters lists the hal adapters. Handles stay stable across
// calls.
func (d *Driver) EnumerateAdapters() ([]backend.AdapterInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.adapters) == 0 && d.instance != nil {
		for _, ea := range d.instance.EnumerateAdapters(nil) {
			h := d.allocLocked()
			d.adapters[h] = &adapter{
				info: backend.AdapterInfo{
					Handle:     h,
					Name:       ea.Info.Name,
					Vendor:     ea.Info.Vendor,
					DeviceType: ea.Info.DeviceType,
					Backend:    d.tag,
				},
				exposed: ea,
			}
		}
	}

	out := make([]backend.AdapterInfo, 0, len(d.adapters))
	for h := backend.Handle(1); h <= d.next; h++ {
		if a, ok := d.adapters[h]; ok {
			out = append(out, a.info)
		}
	}
	return out, nil
}

// OpenDevice opens a logical device and its queue.
func (d *Driver) OpenDevice(adapterHandle backend.Handle, desc *backend.DeviceDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	a, ok := d.adapters[adapterHandle]
	d.mu.Unlock()
	if !ok {
		return backend.NilHandle, fmt.Errorf("open device: %w", backend.ErrInvalidHandle)
	}

	open := a.provided
	adopted := open != nil
	if !adopted {
		od, err := a.exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			return backend.NilHandle, fmt.Errorf("open device on %q: %w", a.info.Name, err)
		}
		open = &od
	}

	dv := newDevice(open.Device, open.Queue, adopted)
	if desc != nil {
		dv.label = desc.Label
		dv.limits = desc.Limits
	}
	if dv.limits == (backend.Limits{}) {
		dv.limits = backend.DefaultLimits()
	}

	d.mu.Lock()
	h := d.allocLocked()
	dv.handle = h
	d.devices[h] = dv
	d.mu.Unlock()

	backend.Logger().Info("wgpu: device opened",
		slog.String("adapter", a.info.Name),
		slog.String("label", dv.label),
		slog.Bool("adopted", adopted))
	return h, nil
}

// DestroyDevice waits for the GPU, destroys everything created on the
// device and then the device itself. Adopted devices are left alive.
func (d *Driver) DestroyDevice(dev backend.Handle) {
	d.mu.Lock()
	dv, ok := d.devices[dev]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.devices, dev)
	d.mu.Unlock()

	if err := dv.raw.WaitIdle(); err != nil {
		backend.Logger().Warn("wgpu: wait idle before destroy", slog.Any("err", err))
	}
	dv.retire(^uint64(0))

	d.mu.Lock()
	var owned []object
	for h, obj := range d.objects {
		if obj.owner() == dev {
			owned = append(owned, obj)
			delete(d.objects, h)
		}
	}
	d.mu.Unlock()

	dv.failPending(backend.MapStatusDeviceLost)
	for _, obj := range owned {
		obj.destroy(dv)
	}

	if !dv.adopted {
		dv.raw.Destroy()
	}
	backend.Logger().Info("wgpu: device destroyed", slog.String("label", dv.label))
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
	dv := d.devices[dev]
	d.mu.Unlock()

	if dv == nil {
		return
	}
	if b, ok := obj.(*buffer); ok {
		pm, hostMapped := dv.takePending(b)
		if pm != nil {
			deliverAsync(pm.cb, backend.MapStatusDestroyed)
		}
		if hostMapped {
			_ = dv.raw.UnmapBuffer(b.raw)
		}
	}
	obj.destroy(dv)
}

func (d *Driver) allocLocked() backend.Handle {
	d.next++
	return d.next
}

func (d *Driver) device(h backend.Handle) (*device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceLocked(h)
}

func (d *Driver) deviceLocked(h backend.Handle) (*device, error) {
	dv, ok := d.devices[h]
	if !ok {
		return nil, backend.ErrDeviceLost
	}
	return dv, nil
}

func (d *Driver) insertLocked(obj object) backend.Handle {
	h := d.allocLocked()
	d.objects[h] = obj
	return h
}

// insert stores obj under a fresh handle.
func (d *Driver) insert(obj object) backend.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(obj)
}

// lookup returns the object for h checked against dev and type T.
func lookup[T object](d *Driver, dev, h backend.Handle) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookupLocked[T](d, dev, h)
}

func lookupLocked[T object](d *Driver, dev, h backend.Handle) (T, error) {
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

// deliverAsync runs a failure callback on its own goroutine so callers of
// MapBuffer, UnmapBuffer and Free never re-enter their own locks.
func deliverAsync(cb backend.MapCallback, status backend.MapStatus) {
	if cb == nil {
		return
	}
	go cb(status, nil)
}
