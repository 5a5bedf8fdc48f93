// Package future bridges callback-style backend completion to a value the
// caller can poll or wait on.
//
// A [Future] and its [Completer] share one cell guarded by a mutex. The
// backend keeps the Completer and calls [Completer.Complete] exactly once,
// from any goroutine. The caller either polls the Future with a [Waker]
// (cooperative style) or blocks in [Future.Wait].
//
// Dropping a Future before it completes runs its cancel function, which the
// producer uses to abort the underlying operation (for example, to unmap a
// buffer whose mapping is still in flight). A successful result that is
// never taken, because the future was dropped before or after completion,
// is handed to the discard function so the producer can release it.
package future

import (
	"context"
	"errors"
	"sync"
)

// Errors reported by Poll and Wait.
var (
	// ErrConsumed is returned when the result was already taken.
	ErrConsumed = errors.New("future: result already consumed")

	// ErrDropped is returned when polling a future that was dropped.
	ErrDropped = errors.New("future: dropped before completion")
)

// Waker is called once when a pending future completes.
// It must not block.
type Waker func()

type state uint8

const (
	stateUnpolled state = iota
	statePending
	stateCompleted
	stateConsumed
	stateDropped
)

func (s state) String() string {
	switch s {
	case stateUnpolled:
		return "Unpolled"
	case statePending:
		return "Pending"
	case stateCompleted:
		return "Completed"
	case stateConsumed:
		return "Consumed"
	case stateDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Future is the consuming side of an asynchronous operation.
type Future[T any] struct {
	mu        sync.Mutex
	state     state
	completed bool
	waker     Waker
	value     T
	err       error
	cancel    func()
	discard   func(T)
	done      chan struct{}
}

// Completer is the producing side of a Future.
type Completer[T any] struct {
	f *Future[T]
}

// New returns a connected Future/Completer pair. cancel, if non-nil, runs
// when the future is dropped before completion.
func New[T any](cancel func()) (*Future[T], *Completer[T]) {
	f := &Future[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return f, &Completer[T]{f: f}
}

// NewDiscardable is like New, but discard receives a successful result that
// is never taken: Drop after completion, or completion after Drop.
func NewDiscardable[T any](cancel func(), discard func(T)) (*Future[T], *Completer[T]) {
	f, c := New[T](cancel)
	f.discard = discard
	return f, c
}

// Ready returns a future that is already completed with v and err.
func Ready[T any](v T, err error) *Future[T] {
	f, c := New[T](nil)
	c.Complete(v, err)
	return f
}

// Poll checks for the result without blocking.
//
// If the operation has completed, Poll returns its result and ready=true,
// consuming it. Otherwise waker is stored (replacing any earlier one) and
// will be called once on completion; Poll returns ready=false.
func (f *Future[T]) Poll(waker Waker) (value T, ready bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case stateCompleted:
		return f.takeLocked()
	case stateConsumed:
		return value, true, ErrConsumed
	case stateDropped:
		return value, true, ErrDropped
	default:
		f.state = statePending
		f.waker = waker
		return value, false, nil
	}
}

// Wait blocks until the future completes or ctx is done. When ctx ends
// first the future is dropped, cancelling the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		select {
		case <-f.done:
		default:
			f.Drop()
			var zero T
			return zero, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case stateCompleted:
		v, _, err := f.takeLocked()
		return v, err
	case stateConsumed:
		var zero T
		return zero, ErrConsumed
	default:
		var zero T
		return zero, ErrDropped
	}
}

// Done returns a channel closed when the future completes or is dropped.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Drop abandons the future. If the operation is still in flight the cancel
// function runs exactly once. A completed but unconsumed result goes to the
// discard function.
func (f *Future[T]) Drop() {
	f.mu.Lock()
	switch f.state {
	case stateConsumed, stateDropped:
		f.mu.Unlock()
		return
	case stateCompleted:
		v, err := f.value, f.err
		var zero T
		f.value = zero
		f.err = nil
		f.state = stateDropped
		discard := f.discard
		f.discard = nil
		f.mu.Unlock()
		if discard != nil && err == nil {
			discard(v)
		}
		return
	}

	f.state = stateDropped
	f.waker = nil
	cancel := f.cancel
	f.cancel = nil
	close(f.done)
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (f *Future[T]) takeLocked() (T, bool, error) {
	v, err := f.value, f.err
	var zero T
	f.value = zero
	f.err = nil
	f.state = stateConsumed
	return v, true, err
}

// Complete stores the result and wakes the consumer if it is waiting.
//
// Completing the same future twice is a producer bug and panics. Completing
// a dropped future only hands a successful v to the discard function.
func (c *Completer[T]) Complete(v T, err error) {
	f := c.f
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		panic("future: completed twice")
	}
	f.completed = true

	if f.state == stateDropped {
		discard := f.discard
		f.discard = nil
		f.mu.Unlock()
		if discard != nil && err == nil {
			discard(v)
		}
		return
	}

	f.value = v
	f.err = err
	f.state = stateCompleted
	w := f.waker
	f.waker = nil
	f.cancel = nil
	close(f.done)
	f.mu.Unlock()

	if w != nil {
		w()
	}
}

// Dropped reports whether the consumer has abandoned the future.
func (c *Completer[T]) Dropped() bool {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.state == stateDropped
}
