package gpuhub

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/id"
)

const (
	mapReadUsage  = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	mapWriteUsage = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
)

func TestCopyBufferToBufferRoundTrip(t *testing.T) {
	dv, _ := newTestDevice(t)
	ctx := testContext(t)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	src := dv.CreateBufferInit(&BufferDescriptor{
		Label: "src",
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	}, want)
	mustValid(t, "src", src.Err())
	dst := newBuffer(t, dv, 16, mapReadUsage)

	enc := dv.CreateCommandEncoder(nil)
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
		t.Fatalf("CopyBufferToBuffer: %v", err)
	}
	submit(t, dv, enc)

	f := dst.MapAsync(gputypes.MapModeRead, Whole())
	poll(t, dv)
	view, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("MapAsync: %v", err)
	}
	if got := view.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("mapped = %v, want %v", got, want)
	}
	if err := dst.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestMapReadZeroedAndRemap(t *testing.T) {
	dv, _ := newTestDevice(t)
	ctx := testContext(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	for i := range 2 {
		f := buf.MapAsync(gputypes.MapModeRead, Whole())
		if s := buf.MapState(); s != MapStatePending {
			t.Fatalf("map %d: state = %v, want Pending", i, s)
		}
		poll(t, dv)
		view, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("map %d: %v", i, err)
		}
		if got := view.Bytes(); !bytes.Equal(got, make([]byte, 16)) {
			t.Errorf("map %d: mapped = %v, want 16 zero bytes", i, got)
		}
		if err := buf.Unmap(); err != nil {
			t.Fatalf("map %d: Unmap: %v", i, err)
		}
		if view.Bytes() != nil {
			t.Errorf("map %d: view still readable after Unmap", i)
		}
	}
}

func TestDropPendingMapUnmaps(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	f := buf.MapAsync(gputypes.MapModeRead, Whole())
	f.Drop()
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Fatalf("state after drop = %v, want Unmapped", s)
	}

	// The backend callback for the dropped request lands here and must not
	// change the state.
	poll(t, dv)
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Fatalf("state after poll = %v, want Unmapped", s)
	}

	f = buf.MapAsync(gputypes.MapModeRead, Bounded(0, 8))
	poll(t, dv)
	view, err := f.Wait(testContext(t))
	if err != nil {
		t.Fatalf("remap after drop: %v", err)
	}
	if view.Len() != 8 {
		t.Errorf("view length = %d, want 8", view.Len())
	}
}

func TestDropCompletedMapUnmaps(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	f := buf.MapAsync(gputypes.MapModeRead, Whole())
	poll(t, dv)
	select {
	case <-f.Done():
	default:
		t.Fatal("map not complete after poll")
	}
	if s := buf.MapState(); s != MapStateMapped {
		t.Fatalf("MapState = %v, want Mapped", s)
	}

	f.Drop()
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Fatalf("MapState after dropping a completed map = %v, want Unmapped", s)
	}

	again := buf.MapAsync(gputypes.MapModeRead, Whole())
	poll(t, dv)
	view, err := again.Wait(testContext(t))
	if err != nil {
		t.Fatalf("remap: %v", err)
	}
	view.Release()
	if err := buf.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestUnmapAbortsPendingMap(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	f := buf.MapAsync(gputypes.MapModeRead, Whole())
	if err := buf.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	poll(t, dv)
	_, err := f.Wait(testContext(t))
	wantErr(t, err, ErrMapAborted)
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Errorf("state = %v, want Unmapped", s)
	}
}

func TestDestroyAbortsPendingMap(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	f := buf.MapAsync(gputypes.MapModeRead, Whole())
	buf.Destroy()
	_, err := f.Wait(testContext(t))
	wantErr(t, err, ErrMapAborted)
}

func TestMapAsyncValidation(t *testing.T) {
	dv, _ := newTestDevice(t)
	readable := newBuffer(t, dv, 64, mapReadUsage)
	storage := newBuffer(t, dv, 64, gputypes.BufferUsageStorage)

	tests := []struct {
		name   string
		buf    *Buffer
		mode   gputypes.MapMode
		r      BufferRange
		target error
	}{
		{"write on read buffer", readable, gputypes.MapModeWrite, Whole(), ErrMapUsageMismatch},
		{"read on storage buffer", storage, gputypes.MapModeRead, Whole(), ErrMapUsageMismatch},
		{"offset not 8 aligned", readable, gputypes.MapModeRead, Bounded(4, 8), ErrMapAlignment},
		{"size not 4 aligned", readable, gputypes.MapModeRead, Bounded(8, 6), ErrMapAlignment},
		{"past the end", readable, gputypes.MapModeRead, Bounded(56, 16), ErrRangeOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.buf.MapAsync(tt.mode, tt.r).Wait(testContext(t))
			wantErr(t, err, tt.target)
			wantErr(t, err, ErrValidation)
			if s := tt.buf.MapState(); s != MapStateUnmapped {
				t.Errorf("state = %v, want Unmapped", s)
			}
		})
	}
}

func TestMapAsyncWhileMapped(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)

	buf.MapAsync(gputypes.MapModeRead, Whole())
	_, err := buf.MapAsync(gputypes.MapModeRead, Whole()).Wait(testContext(t))
	wantErr(t, err, ErrBufferAlreadyMapped)
}

func TestUnmapUnmappedBuffer(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)
	err := buf.Unmap()
	wantErr(t, err, ErrBufferNotMapped)
	wantErr(t, err, ErrValidation)
}

func TestWriteMappedThenReadMapped(t *testing.T) {
	dv, _ := newTestDevice(t)
	ctx := testContext(t)
	upload := newBuffer(t, dv, 32, mapWriteUsage)

	err := upload.WriteMapped(ctx, Whole(), func(data []byte) error {
		for i := range data {
			data[i] = byte(i)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WriteMapped: %v", err)
	}
	if s := upload.MapState(); s != MapStateUnmapped {
		t.Fatalf("state after WriteMapped = %v", s)
	}

	got := readBuffer(t, dv, upload)
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b, i)
		}
	}
}

func TestReadMappedUnmapsOnError(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, mapReadUsage)
	boom := errors.New("boom")

	err := buf.ReadMapped(testContext(t), Whole(), func([]byte) error { return boom })
	wantErr(t, err, boom)
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Errorf("state = %v, want Unmapped", s)
	}
}

func TestCreateBufferInitPadsSize(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := dv.CreateBufferInit(&BufferDescriptor{Usage: gputypes.BufferUsageCopySrc}, []byte{9, 8, 7, 6, 5})
	mustValid(t, "buffer", buf.Err())
	if buf.Size() != 8 {
		t.Fatalf("Size() = %d, want 8", buf.Size())
	}
	if s := buf.MapState(); s != MapStateUnmapped {
		t.Fatalf("state = %v, want Unmapped", s)
	}
	if got := readBuffer(t, dv, buf); !bytes.Equal(got, []byte{9, 8, 7, 6, 5, 0, 0, 0}) {
		t.Errorf("contents = %v", got)
	}
}

func TestCreateBufferMapped(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf, view := dv.CreateBufferMapped(&BufferDescriptor{Size: 8, Usage: gputypes.BufferUsageCopySrc})
	if view == nil {
		t.Fatal("no view for mapped-at-creation buffer")
	}
	copy(view.Bytes(), []byte{1, 1, 2, 3, 5, 8, 13, 21})
	if err := buf.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if got := readBuffer(t, dv, buf); !bytes.Equal(got, []byte{1, 1, 2, 3, 5, 8, 13, 21}) {
		t.Errorf("contents = %v", got)
	}
}

func TestCreateBufferValidation(t *testing.T) {
	tests := []struct {
		name string
		desc BufferDescriptor
	}{
		{"zero size", BufferDescriptor{Usage: gputypes.BufferUsageStorage}},
		{"no usage", BufferDescriptor{Size: 16}},
		{"unknown usage bits", BufferDescriptor{Size: 16, Usage: 1 << 30}},
		{"map read with storage", BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageStorage}},
		{"map write with copy dst", BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopyDst}},
		{"mapped at creation unaligned", BufferDescriptor{Size: 6, Usage: gputypes.BufferUsageCopySrc, MappedAtCreation: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dv, log := newTestDevice(t)
			buf := dv.CreateBuffer(&tt.desc)
			wantErr(t, buf.Err(), ErrInvalidDescriptor)

			errs := log.take()
			if len(errs) != 1 {
				t.Fatalf("sink received %d errors, want 1", len(errs))
			}
			var ve *ValidationError
			if !errors.As(errs[0], &ve) || ve.Op != "Device.CreateBuffer" {
				t.Errorf("sink error = %v, want ValidationError from Device.CreateBuffer", errs[0])
			}

			_, err := buf.MapAsync(gputypes.MapModeRead, Whole()).Wait(testContext(t))
			wantErr(t, err, ErrInvalidObject)
		})
	}
}

func TestCreateBufferOutOfMemory(t *testing.T) {
	log := &errorLog{}
	inst := newTestInstance(t, WithErrorHandler(log.handle))
	limits := DefaultLimits()
	limits.MaxBufferSize = 64
	dv := requestDevice(t, inst, &DeviceDescriptor{Limits: limits})

	buf := dv.CreateBuffer(&BufferDescriptor{Size: 128, Usage: gputypes.BufferUsageStorage})
	wantErr(t, buf.Err(), ErrOutOfMemory)
	wantErr(t, buf.Err(), ErrValidation)
	var ve *ValidationError
	if errors.As(buf.Err(), &ve) {
		t.Error("out of memory error is also a ValidationError")
	}
	if errs := log.take(); len(errs) != 1 || !errors.Is(errs[0], ErrOutOfMemory) {
		t.Errorf("sink errors = %v, want one OutOfMemoryError", errs)
	}
}

func TestDestroyedBufferIDStaysStale(t *testing.T) {
	dv, _ := newTestDevice(t)
	inst := dv.instance

	buf := newBuffer(t, dv, 16, gputypes.BufferUsageStorage)
	old := buf.ID()
	if got, err := inst.LookupBuffer(old); err != nil || got != buf {
		t.Fatalf("LookupBuffer before destroy = %v, %v", got, err)
	}

	buf.Destroy()
	buf.Destroy()
	_, err := inst.LookupBuffer(old)
	wantErr(t, err, id.ErrStaleID)

	next := newBuffer(t, dv, 16, gputypes.BufferUsageStorage)
	if next.ID() == old {
		t.Fatal("new buffer reused the stale ID")
	}
	if _, err := inst.LookupBuffer(old); !errors.Is(err, id.ErrStaleID) {
		t.Errorf("stale ID resolved after slot reuse: %v", err)
	}
	if got, err := inst.LookupBuffer(next.ID()); err != nil || got != next {
		t.Errorf("LookupBuffer(new) = %v, %v", got, err)
	}

	_, err = buf.MapAsync(gputypes.MapModeRead, Whole()).Wait(testContext(t))
	wantErr(t, err, ErrDestroyed)
}

func TestQueueWriteBuffer(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)

	if err := dv.Queue().WriteBuffer(buf, 4, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0}
	if got := readBuffer(t, dv, buf); !bytes.Equal(got, want) {
		t.Errorf("contents = %v, want %v", got, want)
	}
}

func TestQueueWriteBufferValidation(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 16, gputypes.BufferUsageCopyDst)
	storage := newBuffer(t, dv, 16, gputypes.BufferUsageStorage)
	q := dv.Queue()

	tests := []struct {
		name   string
		buf    *Buffer
		offset uint64
		data   []byte
		target error
	}{
		{"missing copy dst", storage, 0, make([]byte, 4), ErrMissingUsage},
		{"unaligned offset", buf, 2, make([]byte, 4), ErrCopyOffsetNotAligned},
		{"unaligned size", buf, 0, make([]byte, 3), ErrCopySizeNotAligned},
		{"past the end", buf, 12, make([]byte, 8), ErrCopyRangeOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.WriteBuffer(tt.buf, tt.offset, tt.data)
			wantErr(t, err, tt.target)
			wantErr(t, err, ErrValidation)
		})
	}
}

func TestBufferSliceSub(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := newBuffer(t, dv, 64, mapReadUsage)

	s, err := buf.Slice(Bounded(8, 32)).Sub(8, Bounded(0, 16))
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	f := s.MapAsync(gputypes.MapModeRead)
	poll(t, dv)
	view, err := f.Wait(testContext(t))
	if err != nil {
		t.Fatalf("MapAsync: %v", err)
	}
	if view.Offset() != 16 || view.Len() != 16 {
		t.Errorf("view = [%d,+%d), want [16,+16)", view.Offset(), view.Len())
	}

	if _, err := buf.Slice(Bounded(0, 10)).Sub(4, Bounded(0, 10)); !errors.Is(err, ErrRangeOutOfBounds) {
		t.Errorf("oversized Sub err = %v", err)
	}
}
