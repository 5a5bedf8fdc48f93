package gpuhub

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/id"
)

func TestRequestAdapterSoftware(t *testing.T) {
	inst := newTestInstance(t)
	ctx := testContext(t)

	a, err := inst.RequestAdapter(&RequestAdapterOptions{PowerPreference: gputypes.PowerPreferenceHighPerformance}).Wait(ctx)
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	info := a.Info()
	if info.Backend != id.Software {
		t.Errorf("Backend = %v, want software", info.Backend)
	}
	if !a.IsFallback() {
		t.Error("software adapter is not a fallback adapter")
	}

	forced, err := inst.RequestAdapter(&RequestAdapterOptions{ForceFallbackAdapter: true}).Wait(ctx)
	if err != nil {
		t.Fatalf("RequestAdapter(ForceFallbackAdapter): %v", err)
	}
	if forced != a {
		t.Error("fallback request picked a different adapter")
	}
	if n := len(inst.EnumerateAdapters()); n != 1 {
		t.Errorf("EnumerateAdapters returned %d adapters, want 1", n)
	}
}

func TestRequestAdapterNoBackend(t *testing.T) {
	inst := NewInstance(WithBackends(id.Vulkan))
	t.Cleanup(inst.Release)

	_, err := inst.RequestAdapter(nil).Wait(testContext(t))
	wantErr(t, err, ErrNoAdapter)
}

func TestRequestDeviceAfterRelease(t *testing.T) {
	inst := NewInstance(WithBackends(id.Software))
	a, err := inst.RequestAdapter(nil).Wait(testContext(t))
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	inst.Release()

	_, err = a.RequestDevice(nil).Wait(testContext(t))
	wantErr(t, err, ErrDestroyed)
}

func TestDeviceDefaultLimits(t *testing.T) {
	dv, _ := newTestDevice(t)
	if got := dv.Limits(); got != DefaultLimits() {
		t.Errorf("Limits() = %+v, want %+v", got, DefaultLimits())
	}
	if dv.Queue().Device() != dv {
		t.Error("queue does not point back at its device")
	}
}

func TestDeviceReleaseDestroysChildren(t *testing.T) {
	inst := newTestInstance(t)
	dv := requestDevice(t, inst, &DeviceDescriptor{Label: "owner"})
	dv.SetErrorHandler(func(error) {})

	buf := newBuffer(t, dv, 16, mapReadUsage)
	tex := newTexture(t, dv, 2, 2, gputypes.TextureUsageCopyDst)
	view := tex.CreateView(nil)
	invalid := dv.CreateBuffer(&BufferDescriptor{Size: 3, Usage: gputypes.BufferUsageCopySrc})
	enc := dv.CreateCommandEncoder(nil)
	bufID, devID := buf.ID(), dv.ID()

	mapped := buf.MapAsync(gputypes.MapModeRead, Whole())
	mapped.Drop()

	if got := inst.LiveObjects()["Buffer"]; got != 2 {
		t.Fatalf("live buffers = %d, want 2", got)
	}

	dv.Retain()
	dv.Release()
	if dv.Destroyed() {
		t.Fatal("device destroyed while a reference remains")
	}
	dv.Release()
	if !dv.Destroyed() {
		t.Fatal("device alive after last release")
	}

	live := inst.LiveObjects()
	for _, kind := range []string{"Device", "Queue", "Buffer", "Texture", "TextureView", "CommandEncoder"} {
		if live[kind] != 0 {
			t.Errorf("%s entries after teardown = %d, want 0", kind, live[kind])
		}
	}
	if _, err := inst.LookupBuffer(bufID); err == nil {
		t.Error("buffer ID resolves after device teardown")
	}
	if _, err := inst.LookupDevice(devID); err == nil {
		t.Error("device ID resolves after teardown")
	}
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Errorf("MapState after teardown = %v, want Unmapped", s)
	}

	wantErr(t, view.checkSubmit(), ErrDestroyed)
	wantErr(t, invalid.usable(), ErrDestroyed)
	wantErr(t, enc.CopyBufferToBuffer(buf, 0, buf, 0, 4), ErrDestroyed)

	late := dv.CreateBuffer(&BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopySrc})
	wantErr(t, late.Err(), ErrDestroyed)
	if _, err := dv.Poll(false); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Poll after teardown err = %v, want ErrDestroyed", err)
	}
}

func TestDefaultErrorHandlerPanics(t *testing.T) {
	inst := newTestInstance(t)
	dv := requestDevice(t, inst, nil)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrValidation) {
			t.Errorf("recovered %v, want a validation error", r)
		}
	}()
	dv.CreateBuffer(&BufferDescriptor{Size: 16})
	t.Error("CreateBuffer with no usage did not panic")
}

func TestErrorSinkOutlivesResources(t *testing.T) {
	dv, _ := newTestDevice(t)
	sink := dv.ErrorSink()
	before := sink.Refs()

	buf := newBuffer(t, dv, 16, gputypes.BufferUsageCopySrc)
	if got := sink.Refs(); got != before+1 {
		t.Errorf("Refs after create = %d, want %d", got, before+1)
	}
	buf.Destroy()
	if got := sink.Refs(); got != before {
		t.Errorf("Refs after destroy = %d, want %d", got, before)
	}
}

func TestSetErrorHandlerReplacesHandler(t *testing.T) {
	dv, log := newTestDevice(t)
	var got []error
	dv.SetErrorHandler(func(err error) { got = append(got, err) })

	dv.CreateBuffer(&BufferDescriptor{Size: 16})
	if len(got) != 1 {
		t.Fatalf("new handler received %d errors, want 1", len(got))
	}
	if n := len(log.take()); n != 0 {
		t.Errorf("old handler received %d errors, want 0", n)
	}
}

func TestForeignDeviceResource(t *testing.T) {
	inst := newTestInstance(t, WithErrorHandler(func(error) {}))
	a := requestDevice(t, inst, &DeviceDescriptor{Label: "a"})
	b := requestDevice(t, inst, &DeviceDescriptor{Label: "b"})

	src := newBuffer(t, a, 16, gputypes.BufferUsageCopySrc)
	dst := newBuffer(t, b, 16, gputypes.BufferUsageCopyDst)

	enc := b.CreateCommandEncoder(nil)
	wantErr(t, enc.CopyBufferToBuffer(src, 0, dst, 0, 16), ErrWrongDevice)

	cb, err := a.CreateCommandEncoder(nil).Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	wantErr(t, b.Queue().Submit(cb), ErrWrongDevice)
}

func TestInstancePoll(t *testing.T) {
	inst := newTestInstance(t)
	dv := requestDevice(t, inst, nil)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	f := buf.MapAsync(gputypes.MapModeRead, Whole())
	if err := inst.Poll(true); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("map not complete after instance poll")
	}
	if _, err := f.Wait(testContext(t)); err != nil {
		t.Fatalf("map: %v", err)
	}
}

func TestBackgroundPoller(t *testing.T) {
	inst := newTestInstance(t, WithPollInterval(time.Millisecond))
	dv := requestDevice(t, inst, nil)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	if _, err := buf.MapAsync(gputypes.MapModeRead, Whole()).Wait(testContext(t)); err != nil {
		t.Fatalf("map with background poller: %v", err)
	}
	if s := buf.MapState(); s != MapStateMapped {
		t.Errorf("MapState = %v, want Mapped", s)
	}
}

func TestInstanceReleaseTearsDownLeakedDevices(t *testing.T) {
	inst := NewInstance(WithBackends(id.Software), WithErrorHandler(func(error) {}))
	a, err := inst.RequestAdapter(nil).Wait(testContext(t))
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	dv, err := a.RequestDevice(nil).Wait(testContext(t))
	if err != nil {
		t.Fatalf("RequestDevice: %v", err)
	}
	surface, err := inst.CreateSurface(SurfaceTarget{Window: 1})
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}

	inst.Release()
	inst.Release()
	if !dv.Destroyed() {
		t.Error("leaked device survived instance release")
	}
	for kind, n := range inst.LiveObjects() {
		if n != 0 {
			t.Errorf("%s entries after release = %d, want 0", kind, n)
		}
	}
	if inst.hub.surfaces.Contains(surface.ID()) {
		t.Error("surface survived instance release")
	}
	if _, err := inst.CreateSurface(SurfaceTarget{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("CreateSurface after release err = %v, want ErrDestroyed", err)
	}
}

func TestInstanceReleaseLogsStaleAdapter(t *testing.T) {
	out := captureLog(t, slog.LevelWarn)
	inst := NewInstance(WithBackends(id.Software))
	a, err := inst.RequestAdapter(nil).Wait(testContext(t))
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	if err := inst.hub.adapters.Release(a.ID(), nil); err != nil {
		t.Fatalf("release adapter ID: %v", err)
	}

	inst.Release()
	got := out.String()
	if !strings.Contains(got, `msg="gpuhub: release adapter"`) || !strings.Contains(got, "stale") {
		t.Errorf("stale adapter release not logged: %s", got)
	}
}
