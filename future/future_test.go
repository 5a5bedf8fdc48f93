package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCompleteBeforePoll(t *testing.T) {
	f, c := New[int](nil)
	c.Complete(42, nil)

	v, ready, err := f.Poll(nil)
	if !ready || err != nil || v != 42 {
		t.Fatalf("Poll() = %d, %v, %v; want 42, true, nil", v, ready, err)
	}

	if _, ready, err := f.Poll(nil); !ready || !errors.Is(err, ErrConsumed) {
		t.Errorf("second Poll() = %v, %v; want ready with ErrConsumed", ready, err)
	}
}

func TestPollThenCompleteWakesOnce(t *testing.T) {
	f, c := New[string](nil)

	var wakes atomic.Int32
	if _, ready, _ := f.Poll(func() { wakes.Add(1) }); ready {
		t.Fatal("Poll() ready before completion")
	}
	if f.state != statePending {
		t.Fatalf("state = %v, want Pending", f.state)
	}

	c.Complete("done", nil)
	if n := wakes.Load(); n != 1 {
		t.Fatalf("waker called %d times, want 1", n)
	}

	v, ready, err := f.Poll(func() { wakes.Add(1) })
	if !ready || err != nil || v != "done" {
		t.Fatalf("Poll() = %q, %v, %v", v, ready, err)
	}
	if n := wakes.Load(); n != 1 {
		t.Errorf("waker called %d times after consume, want 1", n)
	}
}

func TestPollReplacesWaker(t *testing.T) {
	f, c := New[int](nil)

	var first, second atomic.Int32
	f.Poll(func() { first.Add(1) })
	f.Poll(func() { second.Add(1) })

	c.Complete(1, nil)
	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("wakes = %d/%d, want only the latest waker", first.Load(), second.Load())
	}
}

func TestCompleteTwicePanics(t *testing.T) {
	_, c := New[int](nil)
	c.Complete(1, nil)

	defer func() {
		if recover() == nil {
			t.Error("second Complete did not panic")
		}
	}()
	c.Complete(2, nil)
}

func TestDropBeforeCompletionCancels(t *testing.T) {
	var cancels atomic.Int32
	f, c := New[int](func() { cancels.Add(1) })

	var wakes atomic.Int32
	f.Poll(func() { wakes.Add(1) })
	f.Drop()
	f.Drop()

	if n := cancels.Load(); n != 1 {
		t.Fatalf("cancel ran %d times, want 1", n)
	}
	if !c.Dropped() {
		t.Error("Completer.Dropped() = false after Drop")
	}

	// A late callback must be harmless.
	c.Complete(7, nil)
	if wakes.Load() != 0 {
		t.Error("late completion woke a dropped future")
	}
	if _, ready, err := f.Poll(nil); !ready || !errors.Is(err, ErrDropped) {
		t.Errorf("Poll() after drop = %v, %v; want ErrDropped", ready, err)
	}
}

func TestDropAfterCompletionDoesNotCancel(t *testing.T) {
	var cancels atomic.Int32
	f, c := New[int](func() { cancels.Add(1) })
	c.Complete(3, nil)
	f.Drop()

	if cancels.Load() != 0 {
		t.Error("cancel ran for a completed future")
	}
}

func TestDiscardUnconsumedResult(t *testing.T) {
	tests := []struct {
		name    string
		run     func(f *Future[int], c *Completer[int])
		discard []int
	}{
		{"drop after completion", func(f *Future[int], c *Completer[int]) {
			c.Complete(7, nil)
			f.Drop()
		}, []int{7}},
		{"completion after drop", func(f *Future[int], c *Completer[int]) {
			f.Drop()
			c.Complete(7, nil)
		}, []int{7}},
		{"consumed result", func(f *Future[int], c *Completer[int]) {
			c.Complete(7, nil)
			f.Poll(nil)
			f.Drop()
		}, nil},
		{"failed result", func(f *Future[int], c *Completer[int]) {
			c.Complete(0, errors.New("boom"))
			f.Drop()
		}, nil},
		{"dropped twice", func(f *Future[int], c *Completer[int]) {
			c.Complete(7, nil)
			f.Drop()
			f.Drop()
		}, []int{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			f, c := NewDiscardable[int](nil, func(v int) { got = append(got, v) })
			tt.run(f, c)
			if len(got) != len(tt.discard) || (len(got) > 0 && got[0] != tt.discard[0]) {
				t.Errorf("discarded %v, want %v", got, tt.discard)
			}
		})
	}
}

func TestWait(t *testing.T) {
	f, c := New[int](nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Complete(9, errors.New("boom"))
	}()

	v, err := f.Wait(context.Background())
	if v != 9 || err == nil || err.Error() != "boom" {
		t.Errorf("Wait() = %d, %v; want 9, boom", v, err)
	}
}

func TestWaitContextCancelDrops(t *testing.T) {
	var cancels atomic.Int32
	f, c := New[int](func() { cancels.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if cancels.Load() != 1 {
		t.Errorf("cancel ran %d times, want 1", cancels.Load())
	}
	c.Complete(1, nil)
}

func TestReady(t *testing.T) {
	f := Ready(5, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("Ready future not done")
	}
	if v, err := f.Wait(context.Background()); v != 5 || err != nil {
		t.Errorf("Wait() = %d, %v", v, err)
	}
}

func TestConcurrentCompleteAndPoll(t *testing.T) {
	for i := 0; i < 100; i++ {
		f, c := New[int](nil)
		woke := make(chan struct{}, 1)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Complete(i, nil)
		}()

		if _, ready, _ := f.Poll(func() { woke <- struct{}{} }); !ready {
			<-woke
		}
		wg.Wait()

		select {
		case <-f.Done():
		default:
			t.Fatal("future not done after completion")
		}
	}
}

func TestStateString(t *testing.T) {
	if stateDropped.String() != "Dropped" || state(99).String() != "Unknown" {
		t.Error("unexpected state names")
	}
}
