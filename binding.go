package gpuhub

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// BindGroupLayout describes the resources a bind group provides.
type BindGroupLayout struct {
	child[id.BindGroupLayout]
	entries map[uint32]gputypes.BindGroupLayoutEntry
}

// CreateBindGroupLayout creates a bind group layout. Binding numbers must be
// unique and every entry must describe exactly one resource kind.
func (dv *Device) CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) *BindGroupLayout {
	if desc == nil {
		desc = &BindGroupLayoutDescriptor{}
	}
	l := &BindGroupLayout{entries: make(map[uint32]gputypes.BindGroupLayoutEntry, len(desc.Entries))}
	attach(dv, dv.instance.hub.bindGroupLayouts, l, &l.child, "Device.CreateBindGroupLayout", desc.Label, func() (backend.Handle, error) {
		for _, e := range desc.Entries {
			if _, dup := l.entries[e.Binding]; dup {
				return backend.NilHandle, fmt.Errorf("binding %d declared twice: %w", e.Binding, ErrInvalidDescriptor)
			}
			if layoutEntryKinds(e) != 1 {
				return backend.NilHandle, fmt.Errorf("binding %d must describe exactly one resource: %w", e.Binding, ErrInvalidDescriptor)
			}
			l.entries[e.Binding] = e
		}
		return dv.driver().CreateBindGroupLayout(dv.handle, &backend.BindGroupLayoutDescriptor{
			Label:   desc.Label,
			Entries: desc.Entries,
		})
	})
	return l
}

func layoutEntryKinds(e gputypes.BindGroupLayoutEntry) int {
	n := 0
	if e.Buffer != nil {
		n++
	}
	if e.Sampler != nil {
		n++
	}
	if e.Texture != nil {
		n++
	}
	if e.StorageTexture != nil {
		n++
	}
	return n
}

// Destroy frees the layout. Destroy is idempotent.
func (l *BindGroupLayout) Destroy() {
	detach(&l.child, l.device.instance.hub.bindGroupLayouts, l)
}

func (l *BindGroupLayout) implicitDestroy() { l.Destroy() }

// BindGroupEntry binds one resource to a binding number. Exactly one of
// Buffer, Sampler and TextureView is set; Range selects the bound part of
// Buffer.
type BindGroupEntry struct {
	Binding     uint32
	Buffer      *Buffer
	Range       BufferRange
	Sampler     *Sampler
	TextureView *TextureView
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  *BindGroupLayout
	Entries []BindGroupEntry
}

// BindGroup is a set of resources bound together for shaders.
type BindGroup struct {
	child[id.BindGroup]
	layout *BindGroupLayout
	// used holds the bound resources, checked again at submit.
	used []submitChecker
}

// CreateBindGroup creates a bind group. Each entry must match a binding of
// the layout in kind, and buffers need the usage their binding type
// requires.
func (dv *Device) CreateBindGroup(desc *BindGroupDescriptor) *BindGroup {
	if desc == nil {
		desc = &BindGroupDescriptor{}
	}
	g := &BindGroup{layout: desc.Layout}
	attach(dv, dv.instance.hub.bindGroups, g, &g.child, "Device.CreateBindGroup", desc.Label, func() (backend.Handle, error) {
		bd, used, err := dv.bindGroupDescriptor(desc)
		if err != nil {
			return backend.NilHandle, err
		}
		g.used = used
		return dv.driver().CreateBindGroup(dv.handle, bd)
	})
	return g
}

func (dv *Device) bindGroupDescriptor(desc *BindGroupDescriptor) (*backend.BindGroupDescriptor, []submitChecker, error) {
	l := desc.Layout
	if l == nil {
		return nil, nil, fmt.Errorf("bind group has no layout: %w", ErrInvalidDescriptor)
	}
	if err := l.usable(); err != nil {
		return nil, nil, err
	}
	if err := l.sameDevice(dv); err != nil {
		return nil, nil, err
	}
	if len(desc.Entries) != len(l.entries) {
		return nil, nil, fmt.Errorf("bind group has %d entries, layout %q has %d: %w",
			len(desc.Entries), l.label, len(l.entries), ErrInvalidDescriptor)
	}

	bd := &backend.BindGroupDescriptor{Label: desc.Label, Layout: l.handle}
	used := make([]submitChecker, 0, len(desc.Entries))
	seen := make(map[uint32]bool, len(desc.Entries))
	for _, e := range desc.Entries {
		le, ok := l.entries[e.Binding]
		if !ok {
			return nil, nil, fmt.Errorf("binding %d not in layout %q: %w", e.Binding, l.label, ErrInvalidDescriptor)
		}
		if seen[e.Binding] {
			return nil, nil, fmt.Errorf("binding %d bound twice: %w", e.Binding, ErrInvalidDescriptor)
		}
		seen[e.Binding] = true

		be := backend.BindGroupEntry{Binding: e.Binding}
		switch {
		case le.Buffer != nil:
			if e.Buffer == nil {
				return nil, nil, fmt.Errorf("binding %d expects a buffer: %w", e.Binding, ErrInvalidDescriptor)
			}
			if err := checkBindable(e.Buffer.usable(), e.Buffer.sameDevice(dv)); err != nil {
				return nil, nil, err
			}
			if need := bindingUsage(le.Buffer.Type); !e.Buffer.usage.Contains(need) {
				return nil, nil, fmt.Errorf("binding %d: buffer %q: %w", e.Binding, e.Buffer.label, ErrMissingUsage)
			}
			offset, size, err := e.Range.Resolve(e.Buffer.size)
			if err != nil {
				return nil, nil, fmt.Errorf("binding %d: %w", e.Binding, err)
			}
			be.Buffer, be.Offset, be.Size = e.Buffer.handle, offset, size
			used = append(used, e.Buffer)
		case le.Sampler != nil:
			if e.Sampler == nil {
				return nil, nil, fmt.Errorf("binding %d expects a sampler: %w", e.Binding, ErrInvalidDescriptor)
			}
			if err := checkBindable(e.Sampler.usable(), e.Sampler.sameDevice(dv)); err != nil {
				return nil, nil, err
			}
			be.Sampler = e.Sampler.handle
			used = append(used, e.Sampler)
		default:
			if e.TextureView == nil {
				return nil, nil, fmt.Errorf("binding %d expects a texture view: %w", e.Binding, ErrInvalidDescriptor)
			}
			if err := checkBindable(e.TextureView.usable(), e.TextureView.sameDevice(dv)); err != nil {
				return nil, nil, err
			}
			be.TextureView = e.TextureView.handle
			used = append(used, e.TextureView)
		}
		bd.Entries = append(bd.Entries, be)
	}
	return bd, used, nil
}

func checkBindable(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func bindingUsage(t gputypes.BufferBindingType) gputypes.BufferUsage {
	if t == gputypes.BufferBindingTypeStorage || t == gputypes.BufferBindingTypeReadOnlyStorage {
		return gputypes.BufferUsageStorage
	}
	return gputypes.BufferUsageUniform
}

// Layout returns the layout the group was created with.
func (g *BindGroup) Layout() *BindGroupLayout { return g.layout }

// Destroy frees the bind group. Destroy is idempotent.
func (g *BindGroup) Destroy() {
	detach(&g.child, g.device.instance.hub.bindGroups, g)
}

func (g *BindGroup) implicitDestroy() { g.Destroy() }

// checkSubmit verifies the group and everything bound in it.
func (g *BindGroup) checkSubmit() error {
	if err := g.usable(); err != nil {
		return err
	}
	for _, r := range g.used {
		if err := r.checkSubmit(); err != nil {
			return err
		}
	}
	return nil
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	Label            string
	BindGroupLayouts []*BindGroupLayout
}

// PipelineLayout maps bind group indices to layouts.
type PipelineLayout struct {
	child[id.PipelineLayout]
	groups int
}

// CreatePipelineLayout creates a pipeline layout with at most
// Limits.MaxBindGroups groups.
func (dv *Device) CreatePipelineLayout(desc *PipelineLayoutDescriptor) *PipelineLayout {
	if desc == nil {
		desc = &PipelineLayoutDescriptor{}
	}
	p := &PipelineLayout{groups: len(desc.BindGroupLayouts)}
	attach(dv, dv.instance.hub.pipelineLayouts, p, &p.child, "Device.CreatePipelineLayout", desc.Label, func() (backend.Handle, error) {
		if limit := dv.limits.MaxBindGroups; uint32(len(desc.BindGroupLayouts)) > limit {
			return backend.NilHandle, fmt.Errorf("%d bind groups exceed limit %d: %w", len(desc.BindGroupLayouts), limit, ErrInvalidDescriptor)
		}
		handles := make([]backend.Handle, len(desc.BindGroupLayouts))
		for i, l := range desc.BindGroupLayouts {
			if l == nil {
				return backend.NilHandle, fmt.Errorf("group %d has no layout: %w", i, ErrInvalidDescriptor)
			}
			if err := checkBindable(l.usable(), l.sameDevice(dv)); err != nil {
				return backend.NilHandle, fmt.Errorf("group %d: %w", i, err)
			}
			handles[i] = l.handle
		}
		return dv.driver().CreatePipelineLayout(dv.handle, &backend.PipelineLayoutDescriptor{
			Label:            desc.Label,
			BindGroupLayouts: handles,
		})
	})
	return p
}

// BindGroupCount returns the number of bind group slots in the layout.
func (p *PipelineLayout) BindGroupCount() int { return p.groups }

// Destroy frees the layout. Destroy is idempotent.
func (p *PipelineLayout) Destroy() {
	detach(&p.child, p.device.instance.hub.pipelineLayouts, p)
}

func (p *PipelineLayout) implicitDestroy() { p.Destroy() }
