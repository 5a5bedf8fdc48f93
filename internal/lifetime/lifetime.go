// Package lifetime holds the small primitives the resource types use to
// guarantee exactly-once destruction and shared ownership.
package lifetime

import (
	"fmt"
	"sync/atomic"
)

// Flag records that a resource has been destroyed. The zero value is live.
type Flag struct {
	destroyed atomic.Bool
}

// Destroy marks the flag. It returns true only for the first caller, which
// is then responsible for issuing the backend free.
func (f *Flag) Destroy() bool {
	return f.destroyed.CompareAndSwap(false, true)
}

// Destroyed reports whether Destroy has been called.
func (f *Flag) Destroyed() bool {
	return f.destroyed.Load()
}

// RefCount is an atomic reference count starting at one holder.
// Releasing more references than were taken is a double free and panics.
type RefCount struct {
	n atomic.Int64
}

// NewRefCount returns a count held once.
func NewRefCount() *RefCount {
	r := &RefCount{}
	r.n.Store(1)
	return r
}

// Retain adds a holder. Retaining a count that already dropped to zero panics.
func (r *RefCount) Retain() {
	if r.n.Add(1) <= 1 {
		panic("lifetime: retain after final release")
	}
}

// Release drops a holder and reports whether it was the last one.
func (r *RefCount) Release() bool {
	n := r.n.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("lifetime: released %d times too many", -n))
	}
	return n == 0
}

// Count returns the current number of holders.
func (r *RefCount) Count() int64 {
	return r.n.Load()
}
