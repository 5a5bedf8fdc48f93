package gpuhub

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// SamplerDescriptor describes a sampler. Undefined modes select
// clamp-to-edge addressing and nearest filtering.
type SamplerDescriptor struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.MipmapFilterMode
}

// Sampler controls how shaders read textures.
type Sampler struct {
	child[id.Sampler]
}

// CreateSampler creates a sampler.
func (dv *Device) CreateSampler(desc *SamplerDescriptor) *Sampler {
	if desc == nil {
		desc = &SamplerDescriptor{}
	}
	addr := func(m gputypes.AddressMode) gputypes.AddressMode {
		if m == gputypes.AddressModeUndefined {
			return gputypes.AddressModeClampToEdge
		}
		return m
	}
	filter := func(f gputypes.FilterMode) gputypes.FilterMode {
		if f == gputypes.FilterModeUndefined {
			return gputypes.FilterModeNearest
		}
		return f
	}
	bd := backend.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: addr(desc.AddressModeU),
		AddressModeV: addr(desc.AddressModeV),
		AddressModeW: addr(desc.AddressModeW),
		MagFilter:    filter(desc.MagFilter),
		MinFilter:    filter(desc.MinFilter),
		MipmapFilter: desc.MipmapFilter,
	}
	if bd.MipmapFilter == gputypes.MipmapFilterModeUndefined {
		bd.MipmapFilter = gputypes.MipmapFilterModeNearest
	}

	s := &Sampler{}
	attach(dv, dv.instance.hub.samplers, s, &s.child, "Device.CreateSampler", desc.Label, func() (backend.Handle, error) {
		return dv.driver().CreateSampler(dv.handle, &bd)
	})
	return s
}

// Destroy frees the sampler. Destroy is idempotent.
func (s *Sampler) Destroy() {
	detach(&s.child, s.device.instance.hub.samplers, s)
}

func (s *Sampler) implicitDestroy() { s.Destroy() }
