package id

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStaleID is matched by every StaleIDError via errors.Is.
var ErrStaleID = errors.New("id: stale or invalid identifier")

// StaleIDError reports an ID that does not name a live resource: it was
// never issued, its resource has been released, or its slot now belongs to a
// newer generation.
type StaleIDError struct {
	Kind       string
	Index      uint32
	Generation uint32
	// Live is the generation currently occupying the slot, or 0 when the
	// slot is free or does not exist.
	Live uint32
}

func (e *StaleIDError) Error() string {
	if e.Live == 0 {
		return fmt.Sprintf("id: stale %s id (index %d, generation %d): slot not live", e.Kind, e.Index, e.Generation)
	}
	return fmt.Sprintf("id: stale %s id (index %d, generation %d): slot holds generation %d",
		e.Kind, e.Index, e.Generation, e.Live)
}

// Is makes errors.Is(err, ErrStaleID) hold.
func (e *StaleIDError) Is(target error) bool { return target == ErrStaleID }

type slotState uint8

const (
	slotFree slotState = iota
	slotLive
	// slotDying is a released slot whose backend free has not committed.
	// It can neither be resolved nor recycled.
	slotDying
)

type slot[T any] struct {
	generation uint32
	backend    Backend
	state      slotState
	value      T
}

// Registry maps IDs of kind K to values of type T.
//
// Slots are reused, but each reuse bumps the slot generation, so an ID held
// past its resource's release keeps failing Resolve. Release is two-phase:
// Unregister makes the slot dead immediately, Recycle makes its index
// available again once the backend free has completed.
//
// Registry is safe for concurrent use.
type Registry[K Kind, T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

// NewRegistry creates an empty registry.
func NewRegistry[K Kind, T any]() *Registry[K, T] {
	return &Registry[K, T]{}
}

// Allocate stores value and returns a fresh ID tagged with backend.
// It never fails.
func (r *Registry[K, T]) Allocate(backend Backend, value T) ID[K] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}

	s := &r.slots[index]
	s.generation = nextGeneration(s.generation)
	s.backend = backend
	s.state = slotLive
	s.value = value
	r.live++

	return New[K](index, s.generation, backend)
}

// Resolve returns the value for a live ID.
func (r *Registry[K, T]) Resolve(i ID[K]) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.liveSlotLocked(i)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// Contains reports whether i names a live resource.
func (r *Registry[K, T]) Contains(i ID[K]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.liveSlotLocked(i)
	return err == nil
}

// Unregister starts releasing i. From this call on Resolve fails for i, but
// the slot is not reused until Recycle is called. The stored value is
// returned so the caller can free backend state.
func (r *Registry[K, T]) Unregister(i ID[K]) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.liveSlotLocked(i)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.value
	s.state = slotDying
	r.live--
	return v, nil
}

// Recycle finishes releasing i after its backend free has committed.
// Calling Recycle for an ID that was not unregistered is a bug and panics.
func (r *Registry[K, T]) Recycle(i ID[K]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(i.index) >= len(r.slots) {
		panic(fmt.Sprintf("id: recycle of unknown %s", i))
	}
	s := &r.slots[i.index]
	if s.state != slotDying || s.generation != i.generation {
		panic(fmt.Sprintf("id: recycle of %s which is not being released", i))
	}
	var zero T
	s.value = zero
	s.state = slotFree
	r.free = append(r.free, i.index)
}

// Release unregisters i, calls free with its value outside the registry
// lock, then recycles the slot.
func (r *Registry[K, T]) Release(i ID[K], free func(T)) error {
	v, err := r.Unregister(i)
	if err != nil {
		return err
	}
	if free != nil {
		free(v)
	}
	r.Recycle(i)
	return nil
}

// Len returns the number of live entries.
func (r *Registry[K, T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Range calls fn for a snapshot of the live entries. Iteration stops when fn
// returns false. fn runs without the registry lock held.
func (r *Registry[K, T]) Range(fn func(ID[K], T) bool) {
	type entry struct {
		id ID[K]
		v  T
	}

	r.mu.Lock()
	entries := make([]entry, 0, r.live)
	for idx := range r.slots {
		s := &r.slots[idx]
		if s.state == slotLive {
			entries = append(entries, entry{
				id: New[K](uint32(idx), s.generation, s.backend),
				v:  s.value,
			})
		}
	}
	r.mu.Unlock()

	for _, e := range entries {
		if !fn(e.id, e.v) {
			return
		}
	}
}

func (r *Registry[K, T]) liveSlotLocked(i ID[K]) (*slot[T], error) {
	if i.generation == 0 || int(i.index) >= len(r.slots) {
		return nil, &StaleIDError{Kind: i.Kind(), Index: i.index, Generation: i.generation}
	}
	s := &r.slots[i.index]
	if s.state != slotLive {
		return nil, &StaleIDError{Kind: i.Kind(), Index: i.index, Generation: i.generation}
	}
	if s.generation != i.generation || s.backend != i.backend {
		return nil, &StaleIDError{Kind: i.Kind(), Index: i.index, Generation: i.generation, Live: s.generation}
	}
	return s, nil
}
