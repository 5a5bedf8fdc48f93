package cache

import (
	"errors"
	"testing"
)

func TestGetAdd(t *testing.T) {
	c := New[string, int](4)
	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Add("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	c.Add("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) after overwrite = %d, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](2)
	c.Add(1, 1)
	c.Add(2, 2)
	c.Get(1)
	c.Add(3, 3)

	if _, ok := c.Get(2); ok {
		t.Error("least recently used entry survived eviction")
	}
	for _, k := range []int{1, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %d was evicted", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Len != 2 || s.Limit != 2 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestNewClampsLimit(t *testing.T) {
	c := New[int, int](0)
	c.Add(1, 1)
	c.Add(2, 2)
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestGetOrCompile(t *testing.T) {
	c := New[string, []uint32](8)
	calls := 0
	compile := func() ([]uint32, error) {
		calls++
		return []uint32{0x07230203}, nil
	}

	for range 3 {
		words, err := c.GetOrCompile("main", compile)
		if err != nil || len(words) != 1 {
			t.Fatalf("GetOrCompile = %v, %v", words, err)
		}
	}
	if calls != 1 {
		t.Errorf("compile ran %d times, want 1", calls)
	}
	if s := c.Stats(); s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 2 hits and 1 miss", s)
	}
}

func TestGetOrCompileDoesNotCacheErrors(t *testing.T) {
	c := New[string, []uint32](8)
	errBad := errors.New("bad source")
	calls := 0
	compile := func() ([]uint32, error) {
		calls++
		return nil, errBad
	}

	for range 2 {
		if _, err := c.GetOrCompile("broken", compile); !errors.Is(err, errBad) {
			t.Fatalf("err = %v, want %v", err, errBad)
		}
	}
	if calls != 2 {
		t.Errorf("compile ran %d times, want 2", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}
