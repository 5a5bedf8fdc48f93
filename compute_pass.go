package gpuhub

import (
	"fmt"

	"github.com/gogpu/gpuhub/backend"
)

// ComputePassDescriptor describes a compute pass.
type ComputePassDescriptor struct {
	Label string
}

// ComputePass records dispatches. The encoder is locked until End.
type ComputePass struct {
	passRecorder
	pipeline *ComputePipeline
}

// BeginComputePass opens a compute pass. It fails with ErrEncoderLocked
// while another pass is active.
func (e *CommandEncoder) BeginComputePass(desc *ComputePassDescriptor) (*ComputePass, error) {
	if desc == nil {
		desc = &ComputePassDescriptor{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.beginPassLocked(); err != nil {
		return nil, err
	}
	return &ComputePass{passRecorder: passRecorder{encoder: e, label: desc.Label}}, nil
}

// SetPipeline selects the pipeline for later dispatches.
func (p *ComputePass) SetPipeline(pl *ComputePipeline) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if pl == nil {
		return p.failLocked("ComputePass.SetPipeline", fmt.Errorf("nil pipeline: %w", ErrInvalidDescriptor))
	}
	if err := checkBindable(pl.usable(), pl.sameDevice(p.encoder.device)); err != nil {
		return p.failLocked("ComputePass.SetPipeline", err)
	}
	p.pipeline = pl
	p.recordLocked(backend.SetComputePipeline{Pipeline: pl.handle}, pl)
	return nil
}

// SetBindGroup binds g at index, which must be below the device's
// MaxBindGroups limit.
func (p *ComputePass) SetBindGroup(index uint32, g *BindGroup, dynamicOffsets ...uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	return p.setBindGroupLocked("ComputePass.SetBindGroup", index, g, dynamicOffsets)
}

// DispatchWorkgroups runs x*y*z workgroups with the current pipeline. Every
// count must be non-zero.
func (p *ComputePass) DispatchWorkgroups(x, y, z uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	switch {
	case p.pipeline == nil:
		return p.failLocked("ComputePass.DispatchWorkgroups", fmt.Errorf("no pipeline set: %w", ErrInvalidDescriptor))
	case x == 0 || y == 0 || z == 0:
		return p.failLocked("ComputePass.DispatchWorkgroups",
			fmt.Errorf("workgroup count %dx%dx%d: %w", x, y, z, ErrInvalidDescriptor))
	}
	p.recordLocked(backend.Dispatch{X: x, Y: y, Z: z})
	return nil
}

// End closes the pass and returns the encoder to Recording. If a command in
// the pass failed, End returns that error and the encoder becomes invalid.
func (p *ComputePass) End() error {
	return p.end(func() backend.Command {
		return backend.ComputePass{Label: p.label, Commands: p.commands}
	})
}
