package gpuhub

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// CommandBuffer is a finished command stream. It can be submitted once.
type CommandBuffer struct {
	child[id.CommandBuffer]
	encoder *CommandEncoder

	mu       sync.Mutex
	list     *backend.CommandList
	used     []submitChecker
	consumed bool
}

// Consumed reports whether the command buffer was submitted.
func (cb *CommandBuffer) Consumed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consumed
}

// consume hands the command list to a submit on dv. The command buffer is
// consumed and its ID released whether or not validation passes.
func (cb *CommandBuffer) consume(dv *Device) (*backend.CommandList, error) {
	if cb == nil {
		return nil, fmt.Errorf("nil command buffer: %w", ErrInvalidDescriptor)
	}
	cb.mu.Lock()
	if cb.consumed {
		cb.mu.Unlock()
		return nil, fmt.Errorf("command buffer %q: %w", cb.label, ErrCommandBufferConsumed)
	}
	cb.consumed = true
	list, used := cb.list, cb.used
	cb.list, cb.used = nil, nil
	cb.mu.Unlock()

	err := checkBindable(cb.usable(), cb.sameDevice(dv))
	for _, r := range used {
		if err != nil {
			break
		}
		err = r.checkSubmit()
	}
	cb.encoder.markConsumed()
	detach(&cb.child, cb.device.instance.hub.commandBuffers, cb)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Destroy drops an unsubmitted command buffer. Destroy is idempotent.
func (cb *CommandBuffer) Destroy() {
	cb.mu.Lock()
	cb.consumed = true
	cb.list, cb.used = nil, nil
	cb.mu.Unlock()
	detach(&cb.child, cb.device.instance.hub.commandBuffers, cb)
}

func (cb *CommandBuffer) implicitDestroy() { cb.Destroy() }
