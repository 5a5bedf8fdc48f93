package gpuhub

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuhub/backend"
)

// passRecorder is the state shared by compute and render passes. A pass
// keeps recording after a failed command so End can return the encoder to
// a defined state; the encoder becomes invalid at End.
type passRecorder struct {
	encoder *CommandEncoder
	label   string

	mu       sync.Mutex
	ended    bool
	commands []backend.PassCommand
	used     []submitChecker
	failure  error
	// groups holds the bind groups set per index.
	groups map[uint32]*BindGroup
}

func (p *passRecorder) checkLocked() error {
	if p.ended {
		return fmt.Errorf("pass %q: %w", p.label, ErrPassEnded)
	}
	return nil
}

// failLocked records err and returns it classified.
func (p *passRecorder) failLocked(op string, err error) error {
	err = classify(op, err)
	if p.failure == nil {
		p.failure = err
	}
	return err
}

func (p *passRecorder) recordLocked(cmd backend.PassCommand, used ...submitChecker) {
	p.commands = append(p.commands, cmd)
	p.used = append(p.used, used...)
}

// setBindGroupLocked validates and records a bind group at index.
func (p *passRecorder) setBindGroupLocked(op string, index uint32, g *BindGroup, offsets []uint32) error {
	dv := p.encoder.device
	limit := dv.limits.MaxBindGroups
	if limit == 0 {
		limit = DefaultLimits().MaxBindGroups
	}
	var err error
	switch {
	case index >= limit:
		err = fmt.Errorf("bind group index %d exceeds limit %d: %w", index, limit, ErrInvalidDescriptor)
	case g == nil:
		err = fmt.Errorf("nil bind group: %w", ErrInvalidDescriptor)
	default:
		err = checkBindable(g.usable(), g.sameDevice(dv))
	}
	if err != nil {
		return p.failLocked(op, err)
	}
	if p.groups == nil {
		p.groups = make(map[uint32]*BindGroup)
	}
	p.groups[index] = g
	p.recordLocked(backend.SetBindGroup{Index: index, Group: g.handle, DynamicOffsets: offsets}, g)
	return nil
}

// end closes the pass and hands cmd to the encoder.
func (p *passRecorder) end(build func() backend.Command) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.ended = true
	failure := p.failure
	var cmd backend.Command
	if failure == nil {
		cmd = build()
	}
	used := p.used
	p.commands, p.used = nil, nil
	p.mu.Unlock()

	p.encoder.endPass(cmd, used, failure)
	return failure
}
