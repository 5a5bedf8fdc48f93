package gpuhub

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// ComputePipelineDescriptor describes a compute pipeline. EntryPoint
// defaults to "main".
type ComputePipelineDescriptor struct {
	Label      string
	Layout     *PipelineLayout
	Module     *ShaderModule
	EntryPoint string
}

// ComputePipeline is a compiled compute shader with its layout.
type ComputePipeline struct {
	child[id.ComputePipeline]
	layout *PipelineLayout
}

// CreateComputePipeline creates a compute pipeline.
func (dv *Device) CreateComputePipeline(desc *ComputePipelineDescriptor) *ComputePipeline {
	if desc == nil {
		desc = &ComputePipelineDescriptor{}
	}
	p := &ComputePipeline{layout: desc.Layout}
	attach(dv, dv.instance.hub.computePipelines, p, &p.child, "Device.CreateComputePipeline", desc.Label, func() (backend.Handle, error) {
		if err := dv.checkStage(desc.Layout, desc.Module, "compute"); err != nil {
			return backend.NilHandle, err
		}
		return dv.driver().CreateComputePipeline(dv.handle, &backend.ComputePipelineDescriptor{
			Label:      desc.Label,
			Layout:     desc.Layout.handle,
			Module:     desc.Module.handle,
			EntryPoint: entryPoint(desc.EntryPoint),
		})
	})
	return p
}

// Layout returns the pipeline layout.
func (p *ComputePipeline) Layout() *PipelineLayout { return p.layout }

// Destroy frees the pipeline. Destroy is idempotent.
func (p *ComputePipeline) Destroy() {
	detach(&p.child, p.device.instance.hub.computePipelines, p)
}

func (p *ComputePipeline) implicitDestroy() { p.Destroy() }

// VertexState is the vertex stage of a render pipeline.
type VertexState struct {
	Module     *ShaderModule
	EntryPoint string
	Buffers    []gputypes.VertexBufferLayout
}

// FragmentState is the optional fragment stage of a render pipeline.
type FragmentState struct {
	Module     *ShaderModule
	EntryPoint string
	Targets    []gputypes.ColorTargetState
}

// RenderPipelineDescriptor describes a render pipeline. SampleCount
// defaults to 1.
type RenderPipelineDescriptor struct {
	Label       string
	Layout      *PipelineLayout
	Vertex      VertexState
	Fragment    *FragmentState
	Primitive   gputypes.PrimitiveState
	SampleCount uint32
}

// RenderPipeline is a compiled vertex and fragment pipeline.
type RenderPipeline struct {
	child[id.RenderPipeline]
	layout        *PipelineLayout
	vertexBuffers int
	targets       int
}

// CreateRenderPipeline creates a render pipeline.
func (dv *Device) CreateRenderPipeline(desc *RenderPipelineDescriptor) *RenderPipeline {
	if desc == nil {
		desc = &RenderPipelineDescriptor{}
	}
	p := &RenderPipeline{layout: desc.Layout, vertexBuffers: len(desc.Vertex.Buffers)}
	attach(dv, dv.instance.hub.renderPipelines, p, &p.child, "Device.CreateRenderPipeline", desc.Label, func() (backend.Handle, error) {
		if err := dv.checkStage(desc.Layout, desc.Vertex.Module, "vertex"); err != nil {
			return backend.NilHandle, err
		}
		bd := &backend.RenderPipelineDescriptor{
			Label:            desc.Label,
			Layout:           desc.Layout.handle,
			VertexModule:     desc.Vertex.Module.handle,
			VertexEntryPoint: entryPoint(desc.Vertex.EntryPoint),
			VertexBuffers:    desc.Vertex.Buffers,
			Primitive:        desc.Primitive,
			SampleCount:      max(desc.SampleCount, 1),
		}
		if f := desc.Fragment; f != nil {
			if err := dv.checkStage(desc.Layout, f.Module, "fragment"); err != nil {
				return backend.NilHandle, err
			}
			if len(f.Targets) == 0 {
				return backend.NilHandle, fmt.Errorf("fragment stage has no targets: %w", ErrInvalidDescriptor)
			}
			bd.FragmentModule = f.Module.handle
			bd.FragmentEntryPoint = entryPoint(f.EntryPoint)
			bd.Targets = f.Targets
			p.targets = len(f.Targets)
		}
		if bd.SampleCount != 1 && bd.SampleCount != 4 {
			return backend.NilHandle, fmt.Errorf("sample count %d is not 1 or 4: %w", bd.SampleCount, ErrInvalidDescriptor)
		}
		return dv.driver().CreateRenderPipeline(dv.handle, bd)
	})
	return p
}

// Layout returns the pipeline layout.
func (p *RenderPipeline) Layout() *PipelineLayout { return p.layout }

// Destroy frees the pipeline. Destroy is idempotent.
func (p *RenderPipeline) Destroy() {
	detach(&p.child, p.device.instance.hub.renderPipelines, p)
}

func (p *RenderPipeline) implicitDestroy() { p.Destroy() }

// checkStage validates the layout and module of one shader stage.
func (dv *Device) checkStage(layout *PipelineLayout, module *ShaderModule, stage string) error {
	if layout == nil {
		return fmt.Errorf("%s stage: pipeline has no layout: %w", stage, ErrInvalidDescriptor)
	}
	if module == nil {
		return fmt.Errorf("%s stage has no shader module: %w", stage, ErrInvalidDescriptor)
	}
	if err := checkBindable(layout.usable(), layout.sameDevice(dv)); err != nil {
		return fmt.Errorf("%s stage: %w", stage, err)
	}
	if err := checkBindable(module.usable(), module.sameDevice(dv)); err != nil {
		return fmt.Errorf("%s stage: %w", stage, err)
	}
	return nil
}

func entryPoint(name string) string {
	if name == "" {
		return "main"
	}
	return name
}
