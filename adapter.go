package gpuhub

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/future"
	"github.com/gogpu/gpuhub/id"
	"github.com/gogpu/gpuhub/internal/lifetime"
)

// RequestAdapterOptions steer adapter selection.
type RequestAdapterOptions struct {
	// PowerPreference favors integrated (LowPower) or discrete
	// (HighPerformance) adapters. Hardware adapters always win over the
	// software fallback unless ForceFallbackAdapter is set.
	PowerPreference gputypes.PowerPreference

	// ForceFallbackAdapter restricts selection to CPU adapters.
	ForceFallbackAdapter bool

	// CompatibleSurface, if set, restricts selection to adapters whose
	// backend can present to the surface.
	CompatibleSurface *Surface
}

// AdapterInfo describes an adapter.
type AdapterInfo struct {
	Name       string
	Vendor     string
	DeviceType gputypes.DeviceType
	Backend    id.Backend
}

// Adapter is a physical device exposed by one backend.
type Adapter struct {
	instance *Instance
	id       id.ID[id.Adapter]
	info     backend.AdapterInfo
}

// ID returns the adapter identifier.
func (a *Adapter) ID() id.ID[id.Adapter] { return a.id }

// Info describes the adapter.
func (a *Adapter) Info() AdapterInfo {
	return AdapterInfo{
		Name:       a.info.Name,
		Vendor:     a.info.Vendor,
		DeviceType: a.info.DeviceType,
		Backend:    a.id.Backend(),
	}
}

// IsFallback reports whether the adapter runs on the CPU.
func (a *Adapter) IsFallback() bool {
	return a.info.DeviceType == gputypes.DeviceTypeCPU || a.id.Backend() == id.Software
}

// RequestDevice opens a device on the adapter. The device comes with its
// queue and holds one reference owned by the caller.
func (a *Adapter) RequestDevice(desc *DeviceDescriptor) *future.Future[*Device] {
	dv, err := a.requestDevice(desc)
	return future.Ready(dv, err)
}

func (a *Adapter) requestDevice(desc *DeviceDescriptor) (*Device, error) {
	inst := a.instance
	if inst.released.Destroyed() {
		return nil, fmt.Errorf("request device: %w", ErrDestroyed)
	}
	if desc == nil {
		desc = &DeviceDescriptor{}
	}
	limits := desc.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	drv, err := inst.dispatch.Lookup(a.id.Backend())
	if err != nil {
		return nil, fmt.Errorf("request device on %q: %w", a.info.Name, err)
	}
	h, err := drv.OpenDevice(a.info.Handle, &backend.DeviceDescriptor{Label: desc.Label, Limits: limits})
	if err != nil {
		return nil, fmt.Errorf("request device on %q: %w", a.info.Name, deviceError(err))
	}

	dv := &Device{
		instance: inst,
		adapter:  a,
		label:    desc.Label,
		handle:   h,
		limits:   limits,
		sink:     newErrorSink(inst.opts.errorHandler),
		refs:     lifetime.NewRefCount(),
		children: make(map[resource]struct{}),
	}
	dv.id = inst.hub.devices.Allocate(a.id.Backend(), dv)
	dv.queue = &Queue{device: dv}
	dv.queue.id = inst.hub.queues.Allocate(a.id.Backend(), dv.queue)
	inst.addDevice(dv)

	Logger().Info("gpuhub: device created",
		slog.String("device", dv.label),
		slog.String("id", dv.id.String()),
		slog.String("adapter", a.info.Name))
	return dv, nil
}

// scoreAdapter ranks a against opts. It returns false when a is not
// eligible. Ties keep the earlier adapter, which follows backend priority.
func (inst *Instance) scoreAdapter(a *Adapter, opts *RequestAdapterOptions) (int, bool) {
	if opts.ForceFallbackAdapter && !a.IsFallback() {
		return 0, false
	}
	if opts.CompatibleSurface != nil {
		if _, err := opts.CompatibleSurface.handleFor(a.id.Backend()); err != nil {
			Logger().Debug("gpuhub: adapter cannot present to surface",
				slog.String("adapter", a.info.Name), slog.Any("err", err))
			return 0, false
		}
	}

	var rank int
	switch a.info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		rank = 3
		if opts.PowerPreference == gputypes.PowerPreferenceLowPower {
			rank = 2
		}
	case gputypes.DeviceTypeIntegratedGPU:
		rank = 2
		if opts.PowerPreference == gputypes.PowerPreferenceLowPower {
			rank = 3
		}
	case gputypes.DeviceTypeVirtualGPU:
		rank = 1
	case gputypes.DeviceTypeOther:
		rank = 1
	}
	if a.IsFallback() {
		rank = 0
	}
	return rank, true
}
