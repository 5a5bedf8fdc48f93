package wgpu

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// FromProvider wraps a device owned by another library. The provider must
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue. The returned driver exposes a single adapter; opening it
// yields the shared device, which DestroyDevice leaves alive.
func FromProvider(p gpucontext.DeviceProvider, tag id.Backend) (*Driver, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	info := p.AdapterInfo()
	d := newDriver(tag)
	h := d.allocLocked()
	d.adapters[h] = &adapter{
		info: backend.AdapterInfo{
			Handle:     h,
			Name:       info.Name,
			DeviceType: deviceType(info.Type),
			Backend:    tag,
		},
		provided: &hal.OpenDevice{Device: device, Queue: queue},
	}
	backend.Logger().Info("wgpu: adopted provider device",
		slog.String("adapter", info.Name),
		slog.String("type", info.Type.String()))
	return d, nil
}

func deviceType(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}
