package gpuhub

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/gpuhub/backend/software"
	"github.com/gogpu/gpuhub/id"
)

// errorLog collects errors delivered to a device error sink.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

// take returns and clears the collected errors.
func (l *errorLog) take() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := l.errs
	l.errs = nil
	return errs
}

// newTestInstance creates a software-only instance released at cleanup.
func newTestInstance(t *testing.T, opts ...InstanceOption) *Instance {
	t.Helper()
	inst := NewInstance(append([]InstanceOption{WithBackends(id.Software)}, opts...)...)
	t.Cleanup(inst.Release)
	return inst
}

// newTestDevice opens a software device whose errors are collected in the
// returned log.
func newTestDevice(t *testing.T) (*Device, *errorLog) {
	t.Helper()
	log := &errorLog{}
	inst := newTestInstance(t, WithErrorHandler(log.handle))
	return requestDevice(t, inst, nil), log
}

// requestDevice opens a device on the best adapter of inst. The device is
// released at cleanup unless the test already tore it down.
func requestDevice(t *testing.T, inst *Instance, desc *DeviceDescriptor) *Device {
	t.Helper()
	ctx := testContext(t)
	a, err := inst.RequestAdapter(nil).Wait(ctx)
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	dv, err := a.RequestDevice(desc).Wait(ctx)
	if err != nil {
		t.Fatalf("RequestDevice: %v", err)
	}
	t.Cleanup(func() {
		if !dv.Destroyed() {
			dv.Release()
		}
	})
	return dv
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// mustValid fails the test if the object's creation failed.
func mustValid(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s is invalid: %v", name, err)
	}
}

func newBuffer(t *testing.T, dv *Device, size uint64, usage gputypes.BufferUsage) *Buffer {
	t.Helper()
	b := dv.CreateBuffer(&BufferDescriptor{Label: t.Name(), Size: size, Usage: usage})
	mustValid(t, "buffer", b.Err())
	return b
}

// readBuffer copies src into a fresh MAP_READ buffer and returns its
// contents.
func readBuffer(t *testing.T, dv *Device, src *Buffer) []byte {
	t.Helper()
	dst := newBuffer(t, dv, src.Size(), gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	defer dst.Destroy()

	enc := dv.CreateCommandEncoder(&CommandEncoderDescriptor{Label: "readback"})
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, src.Size()); err != nil {
		t.Fatalf("CopyBufferToBuffer: %v", err)
	}
	submit(t, dv, enc)

	var out []byte
	err := dst.ReadMapped(testContext(t), Whole(), func(data []byte) error {
		out = bytes.Clone(data)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadMapped: %v", err)
	}
	return out
}

// submit finishes enc and submits it.
func submit(t *testing.T, dv *Device, enc *CommandEncoder) {
	t.Helper()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := dv.Queue().Submit(cb); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

// poll drives the device until submitted work and map callbacks are done.
func poll(t *testing.T, dv *Device) {
	t.Helper()
	if _, err := dv.Poll(true); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}
