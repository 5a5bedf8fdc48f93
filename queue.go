package gpuhub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// Queue executes command buffers and buffer writes for its device in
// submission order.
type Queue struct {
	device *Device
	id     id.ID[id.Queue]

	// mu serializes submissions so command buffers keep the order in which
	// Submit calls were made.
	mu sync.Mutex
}

// ID returns the queue identifier.
func (q *Queue) ID() id.ID[id.Queue] { return q.id }

// Device returns the owning device.
func (q *Queue) Device() *Device { return q.device }

// Submit executes command buffers in order after all earlier submissions.
// Each command buffer is consumed; submitting one again fails with
// ErrCommandBufferConsumed. Resources referenced by the command buffers
// must still be alive and unmapped. On a validation failure nothing is
// submitted and the command buffers are still consumed.
func (q *Queue) Submit(cbs ...*CommandBuffer) error {
	dv := q.device
	if err := dv.check(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	lists := make([]*backend.CommandList, 0, len(cbs))
	var firstErr error
	for i, cb := range cbs {
		list, err := cb.consume(dv)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("command buffer %d: %w", i, err)
		}
		lists = append(lists, list)
	}
	if firstErr != nil {
		return classify("Queue.Submit", firstErr)
	}
	if len(lists) == 0 {
		return nil
	}

	if err := dv.driver().Submit(dv.handle, lists); err != nil {
		return classify("Queue.Submit", deviceError(err))
	}
	Logger().Debug("gpuhub: submitted", slog.String("device", dv.label), slog.Int("command_buffers", len(lists)))
	return nil
}

// WriteBuffer schedules a write of data into buf at offset. The write is
// ordered before the next Submit. offset and len(data) must be multiples of
// 4 and buf needs COPY_DST usage.
func (q *Queue) WriteBuffer(buf *Buffer, offset uint64, data []byte) error {
	dv := q.device
	if err := dv.check(); err != nil {
		return err
	}
	if err := q.validateWrite(buf, offset, uint64(len(data))); err != nil {
		return classify("Queue.WriteBuffer", err)
	}
	if len(data) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := dv.driver().WriteBuffer(dv.handle, buf.handle, offset, data); err != nil {
		return classify("Queue.WriteBuffer", deviceError(err))
	}
	return nil
}

func (q *Queue) validateWrite(buf *Buffer, offset, size uint64) error {
	if err := buf.usable(); err != nil {
		return err
	}
	if err := buf.sameDevice(q.device); err != nil {
		return err
	}
	switch {
	case !buf.usage.Contains(gputypes.BufferUsageCopyDst):
		return fmt.Errorf("buffer %q lacks COPY_DST: %w", buf.label, ErrMissingUsage)
	case offset%4 != 0:
		return fmt.Errorf("write offset %d: %w", offset, ErrCopyOffsetNotAligned)
	case size%4 != 0:
		return fmt.Errorf("write size %d: %w", size, ErrCopySizeNotAligned)
	case offset > buf.size || size > buf.size-offset:
		return fmt.Errorf("write [%d,%d) into buffer %q of %d bytes: %w",
			offset, offset+size, buf.label, buf.size, ErrCopyRangeOutOfBounds)
	case buf.MapState() != MapStateUnmapped:
		return fmt.Errorf("buffer %q: %w", buf.label, ErrBufferMapped)
	}
	return nil
}
