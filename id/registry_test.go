package id

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistryAllocateResolve(t *testing.T) {
	r := NewRegistry[Buffer, string]()

	a := r.Allocate(Vulkan, "a")
	b := r.Allocate(Metal, "b")

	if a == b {
		t.Fatalf("distinct allocations compare equal: %v", a)
	}
	if a.Generation() != 1 || b.Generation() != 1 {
		t.Errorf("fresh slots should start at generation 1, got %d and %d", a.Generation(), b.Generation())
	}
	if a.Backend() != Vulkan || b.Backend() != Metal {
		t.Errorf("backend tags not preserved: %v %v", a.Backend(), b.Backend())
	}

	for _, tt := range []struct {
		id   ID[Buffer]
		want string
	}{{a, "a"}, {b, "b"}} {
		got, err := r.Resolve(tt.id)
		if err != nil {
			t.Fatalf("Resolve(%v) error = %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%v) = %q, want %q", tt.id, got, tt.want)
		}
	}

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistryStaleAfterRelease(t *testing.T) {
	r := NewRegistry[Texture, int]()

	old := r.Allocate(Vulkan, 1)
	if err := r.Release(old, nil); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := r.Resolve(old); !errors.Is(err, ErrStaleID) {
		t.Fatalf("Resolve after release error = %v, want ErrStaleID", err)
	}

	// The slot is reused under a newer generation.
	fresh := r.Allocate(Vulkan, 2)
	if fresh.Index() != old.Index() {
		t.Fatalf("expected slot reuse, got index %d want %d", fresh.Index(), old.Index())
	}
	if fresh.Generation() != old.Generation()+1 {
		t.Errorf("reused generation = %d, want %d", fresh.Generation(), old.Generation()+1)
	}

	_, err := r.Resolve(old)
	var stale *StaleIDError
	if !errors.As(err, &stale) {
		t.Fatalf("Resolve(old) error = %v, want *StaleIDError", err)
	}
	if stale.Live != fresh.Generation() {
		t.Errorf("StaleIDError.Live = %d, want %d", stale.Live, fresh.Generation())
	}

	if v, err := r.Resolve(fresh); err != nil || v != 2 {
		t.Errorf("Resolve(fresh) = %d, %v; want 2, nil", v, err)
	}
}

func TestRegistryNoRecycleWhileDying(t *testing.T) {
	r := NewRegistry[Buffer, int]()
	a := r.Allocate(Vulkan, 1)

	if _, err := r.Unregister(a); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if r.Contains(a) {
		t.Error("dying slot still resolves")
	}

	// Allocation during the free must not land on the dying slot.
	b := r.Allocate(Vulkan, 2)
	if b.Index() == a.Index() {
		t.Fatal("dying slot was reused before Recycle")
	}

	r.Recycle(a)
	c := r.Allocate(Vulkan, 3)
	if c.Index() != a.Index() {
		t.Errorf("recycled slot not reused: got %d want %d", c.Index(), a.Index())
	}
}

func TestRegistryDoubleRelease(t *testing.T) {
	r := NewRegistry[Sampler, int]()
	a := r.Allocate(GL, 1)

	calls := 0
	free := func(int) { calls++ }
	if err := r.Release(a, free); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := r.Release(a, free); !errors.Is(err, ErrStaleID) {
		t.Errorf("second Release() error = %v, want ErrStaleID", err)
	}
	if calls != 1 {
		t.Errorf("free called %d times, want 1", calls)
	}
}

func TestRegistryRecycleMisusePanics(t *testing.T) {
	r := NewRegistry[Buffer, int]()
	a := r.Allocate(Vulkan, 1)

	defer func() {
		if recover() == nil {
			t.Error("Recycle of a live slot did not panic")
		}
	}()
	r.Recycle(a)
}

func TestRegistryResolveInvalid(t *testing.T) {
	r := NewRegistry[Buffer, int]()
	r.Allocate(Vulkan, 1)

	tests := []struct {
		name string
		id   ID[Buffer]
	}{
		{"zero", ID[Buffer]{}},
		{"out of range", New[Buffer](42, 1, Vulkan)},
		{"wrong generation", New[Buffer](0, 7, Vulkan)},
		{"wrong backend", New[Buffer](0, 1, Metal)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Resolve(tt.id); !errors.Is(err, ErrStaleID) {
				t.Errorf("Resolve() error = %v, want ErrStaleID", err)
			}
		})
	}
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry[BindGroup, int]()
	ids := []ID[BindGroup]{
		r.Allocate(DX12, 10),
		r.Allocate(DX12, 20),
		r.Allocate(DX12, 30),
	}
	_ = r.Release(ids[1], nil)

	sum := 0
	r.Range(func(i ID[BindGroup], v int) bool {
		if i.Backend() != DX12 {
			t.Errorf("Range id backend = %v, want dx12", i.Backend())
		}
		sum += v
		return true
	})
	if sum != 40 {
		t.Errorf("Range sum = %d, want 40", sum)
	}

	visited := 0
	r.Range(func(ID[BindGroup], int) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Range did not stop early, visited %d", visited)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry[Buffer, int]()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := r.Allocate(Vulkan, g*1000+i)
				v, err := r.Resolve(id)
				if err != nil || v != g*1000+i {
					t.Errorf("Resolve(%v) = %d, %v", id, v, err)
					return
				}
				if err := r.Release(id, nil); err != nil {
					t.Errorf("Release(%v) error = %v", id, err)
					return
				}
				if r.Contains(id) {
					t.Errorf("%v still live after release", id)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after releasing everything", r.Len())
	}
}
