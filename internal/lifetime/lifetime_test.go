package lifetime

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestFlagDestroyOnce(t *testing.T) {
	var f Flag
	if f.Destroyed() {
		t.Fatal("zero Flag reports destroyed")
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Destroy() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("Destroy() returned true %d times, want 1", winners.Load())
	}
	if !f.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
}

func TestRefCount(t *testing.T) {
	r := NewRefCount()
	r.Retain()
	r.Retain()

	if r.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", r.Count())
	}
	if r.Release() || r.Release() {
		t.Fatal("Release() reported last while holders remain")
	}
	if !r.Release() {
		t.Fatal("final Release() did not report last")
	}
}

func TestRefCountOverReleasePanics(t *testing.T) {
	r := NewRefCount()
	r.Release()

	defer func() {
		if recover() == nil {
			t.Error("over-release did not panic")
		}
	}()
	r.Release()
}

func TestRefCountRetainAfterFreePanics(t *testing.T) {
	r := NewRefCount()
	r.Release()

	defer func() {
		if recover() == nil {
			t.Error("retain after final release did not panic")
		}
	}()
	r.Retain()
}
