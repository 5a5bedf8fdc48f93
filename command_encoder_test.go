package gpuhub

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// testSPIRV is a minimal module header accepted by the software driver.
var testSPIRV = []uint32{spirvMagic, 0x00010000, 0, 1, 0}

func newComputePipeline(t *testing.T, dv *Device) *ComputePipeline {
	t.Helper()
	layout := dv.CreatePipelineLayout(&PipelineLayoutDescriptor{Label: "empty"})
	mustValid(t, "pipeline layout", layout.Err())
	module := dv.CreateShaderModule(&ShaderModuleDescriptor{Label: "cs", SPIRV: testSPIRV})
	mustValid(t, "shader module", module.Err())
	p := dv.CreateComputePipeline(&ComputePipelineDescriptor{Label: "cs", Layout: layout, Module: module})
	mustValid(t, "compute pipeline", p.Err())
	return p
}

func TestEncoderStateString(t *testing.T) {
	tests := []struct {
		s    EncoderState
		want string
	}{
		{EncoderStateRecording, "Recording"},
		{EncoderStatePassActive, "PassActive"},
		{EncoderStateFinished, "Finished"},
		{EncoderStateConsumed, "Consumed"},
		{EncoderStateInvalid, "Invalid"},
		{EncoderState(99), "EncoderState(99)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint8(tt.s), got, tt.want)
		}
	}
}

func TestSecondPassWhileActiveFails(t *testing.T) {
	dv, _ := newTestDevice(t)
	src := newBuffer(t, dv, 16, gputypes.BufferUsageCopySrc)
	dst := newBuffer(t, dv, 16, gputypes.BufferUsageCopyDst)
	enc := dv.CreateCommandEncoder(nil)

	pass, err := enc.BeginComputePass(nil)
	if err != nil {
		t.Fatalf("BeginComputePass: %v", err)
	}
	if s := enc.State(); s != EncoderStatePassActive {
		t.Fatalf("state = %v, want PassActive", s)
	}

	_, err = enc.BeginComputePass(nil)
	wantErr(t, err, ErrEncoderLocked)
	err = enc.CopyBufferToBuffer(src, 0, dst, 0, 16)
	wantErr(t, err, ErrEncoderLocked)
	_, err = enc.Finish()
	wantErr(t, err, ErrEncoderLocked)

	if err := pass.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if s := enc.State(); s != EncoderStateRecording {
		t.Fatalf("state after End = %v, want Recording", s)
	}
	wantErr(t, pass.End(), ErrPassEnded)
	wantErr(t, pass.DispatchWorkgroups(1, 1, 1), ErrPassEnded)

	if _, err := enc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestRecordAfterFinishFails(t *testing.T) {
	dv, _ := newTestDevice(t)
	src := newBuffer(t, dv, 16, gputypes.BufferUsageCopySrc)
	dst := newBuffer(t, dv, 16, gputypes.BufferUsageCopyDst)
	enc := dv.CreateCommandEncoder(&CommandEncoderDescriptor{Label: "once"})
	encID := enc.ID()

	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if s := enc.State(); s != EncoderStateFinished {
		t.Fatalf("state = %v, want Finished", s)
	}

	wantErr(t, enc.CopyBufferToBuffer(src, 0, dst, 0, 16), ErrEncoderFinished)
	_, err = enc.BeginComputePass(nil)
	wantErr(t, err, ErrEncoderFinished)
	_, err = enc.BeginRenderPass(nil)
	wantErr(t, err, ErrEncoderFinished)
	_, err = enc.Finish()
	wantErr(t, err, ErrEncoderFinished)

	if dv.instance.hub.commandEncoders.Contains(encID) {
		t.Error("encoder ID still live after Finish")
	}
	if err := dv.Queue().Submit(cb); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s := enc.State(); s != EncoderStateConsumed {
		t.Errorf("state after submit = %v, want Consumed", s)
	}
}

func TestCopyBufferToBufferValidation(t *testing.T) {
	dv, _ := newTestDevice(t)
	src := newBuffer(t, dv, 32, gputypes.BufferUsageCopySrc)
	dst := newBuffer(t, dv, 32, gputypes.BufferUsageCopyDst)
	both := newBuffer(t, dv, 32, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)

	tests := []struct {
		name      string
		src, dst  *Buffer
		so, do, n uint64
		target    error
	}{
		{"src offset unaligned", src, dst, 2, 0, 4, ErrCopyOffsetNotAligned},
		{"dst offset unaligned", src, dst, 0, 6, 4, ErrCopyOffsetNotAligned},
		{"size unaligned", src, dst, 0, 0, 6, ErrCopySizeNotAligned},
		{"src out of bounds", src, dst, 24, 0, 16, ErrCopyRangeOutOfBounds},
		{"dst out of bounds", src, dst, 0, 28, 8, ErrCopyRangeOutOfBounds},
		{"same buffer", both, both, 0, 16, 8, ErrCopySameBuffer},
		{"src lacks copy src", dst, dst, 0, 0, 4, ErrMissingUsage},
		{"dst lacks copy dst", src, src, 0, 0, 4, ErrMissingUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := dv.CreateCommandEncoder(nil)
			err := enc.CopyBufferToBuffer(tt.src, tt.so, tt.dst, tt.do, tt.n)
			wantErr(t, err, tt.target)
			wantErr(t, err, ErrValidation)
			if s := enc.State(); s != EncoderStateInvalid {
				t.Fatalf("state = %v, want Invalid", s)
			}
			_, err = enc.Finish()
			wantErr(t, err, tt.target)
		})
	}
}

func TestCommandBufferSubmitOnce(t *testing.T) {
	dv, _ := newTestDevice(t)
	enc := dv.CreateCommandEncoder(nil)
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := dv.Queue().Submit(cb); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if !cb.Consumed() {
		t.Error("command buffer not consumed after submit")
	}
	err = dv.Queue().Submit(cb)
	wantErr(t, err, ErrCommandBufferConsumed)
	wantErr(t, err, ErrValidation)
}

func TestSubmitRevalidatesResources(t *testing.T) {
	t.Run("destroyed", func(t *testing.T) {
		dv, _ := newTestDevice(t)
		src := newBuffer(t, dv, 16, gputypes.BufferUsageCopySrc)
		dst := newBuffer(t, dv, 16, gputypes.BufferUsageCopyDst)
		enc := dv.CreateCommandEncoder(nil)
		if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
			t.Fatalf("CopyBufferToBuffer: %v", err)
		}
		cb, err := enc.Finish()
		if err != nil {
			t.Fatalf("Finish: %v", err)
		}
		src.Destroy()
		err = dv.Queue().Submit(cb)
		wantErr(t, err, ErrDestroyed)
		wantErr(t, dv.Queue().Submit(cb), ErrCommandBufferConsumed)
	})

	t.Run("mapped", func(t *testing.T) {
		dv, _ := newTestDevice(t)
		src := newBuffer(t, dv, 16, gputypes.BufferUsageCopySrc)
		dst := newBuffer(t, dv, 16, mapReadUsage)
		enc := dv.CreateCommandEncoder(nil)
		if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
			t.Fatalf("CopyBufferToBuffer: %v", err)
		}
		cb, err := enc.Finish()
		if err != nil {
			t.Fatalf("Finish: %v", err)
		}
		dst.MapAsync(gputypes.MapModeRead, Whole())
		wantErr(t, dv.Queue().Submit(cb), ErrBufferMapped)
	})
}

func TestClearBuffer(t *testing.T) {
	dv, _ := newTestDevice(t)
	buf := dv.CreateBufferInit(&BufferDescriptor{Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst},
		bytes.Repeat([]byte{0xff}, 16))
	mustValid(t, "buffer", buf.Err())

	enc := dv.CreateCommandEncoder(nil)
	if err := enc.ClearBuffer(buf, Bounded(4, 8)); err != nil {
		t.Fatalf("ClearBuffer: %v", err)
	}
	submit(t, dv, enc)

	want := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
	if got := readBuffer(t, dv, buf); !bytes.Equal(got, want) {
		t.Errorf("contents = %v, want %v", got, want)
	}

	enc = dv.CreateCommandEncoder(nil)
	wantErr(t, enc.ClearBuffer(buf, Bounded(2, 4)), ErrCopyOffsetNotAligned)
}

func TestComputePassRecording(t *testing.T) {
	dv, _ := newTestDevice(t)
	pipeline := newComputePipeline(t, dv)

	enc := dv.CreateCommandEncoder(nil)
	pass, err := enc.BeginComputePass(&ComputePassDescriptor{Label: "cs"})
	if err != nil {
		t.Fatalf("BeginComputePass: %v", err)
	}
	if err := pass.SetPipeline(pipeline); err != nil {
		t.Fatalf("SetPipeline: %v", err)
	}
	if err := pass.DispatchWorkgroups(4, 2, 1); err != nil {
		t.Fatalf("DispatchWorkgroups: %v", err)
	}
	if err := pass.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	submit(t, dv, enc)
	poll(t, dv)
}

func TestComputePassValidation(t *testing.T) {
	dv, _ := newTestDevice(t)
	pipeline := newComputePipeline(t, dv)

	tests := []struct {
		name   string
		record func(t *testing.T, p *ComputePass) error
	}{
		{"dispatch without pipeline", func(t *testing.T, p *ComputePass) error {
			return p.DispatchWorkgroups(1, 1, 1)
		}},
		{"zero workgroups", func(t *testing.T, p *ComputePass) error {
			if err := p.SetPipeline(pipeline); err != nil {
				t.Fatalf("SetPipeline: %v", err)
			}
			return p.DispatchWorkgroups(1, 0, 1)
		}},
		{"bind group index past limit", func(t *testing.T, p *ComputePass) error {
			return p.SetBindGroup(4, nil)
		}},
		{"nil pipeline", func(t *testing.T, p *ComputePass) error {
			return p.SetPipeline(nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := dv.CreateCommandEncoder(nil)
			pass, err := enc.BeginComputePass(nil)
			if err != nil {
				t.Fatalf("BeginComputePass: %v", err)
			}
			err = tt.record(t, pass)
			wantErr(t, err, ErrInvalidDescriptor)
			if s := enc.State(); s != EncoderStatePassActive {
				t.Fatalf("state during pass = %v, want PassActive", s)
			}
			wantErr(t, pass.End(), ErrValidation)
			if s := enc.State(); s != EncoderStateInvalid {
				t.Fatalf("state after End = %v, want Invalid", s)
			}
			if _, err := enc.Finish(); !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Finish err = %v, want the pass error", err)
			}
		})
	}
}

func TestBindGroupInComputePass(t *testing.T) {
	dv, _ := newTestDevice(t)
	layout := dv.CreateBindGroupLayout(&BindGroupLayoutDescriptor{
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}},
	})
	mustValid(t, "bind group layout", layout.Err())
	storage := newBuffer(t, dv, 64, gputypes.BufferUsageStorage)
	group := dv.CreateBindGroup(&BindGroupDescriptor{
		Layout:  layout,
		Entries: []BindGroupEntry{{Binding: 0, Buffer: storage, Range: Whole()}},
	})
	mustValid(t, "bind group", group.Err())

	enc := dv.CreateCommandEncoder(nil)
	pass, err := enc.BeginComputePass(nil)
	if err != nil {
		t.Fatalf("BeginComputePass: %v", err)
	}
	if err := pass.SetBindGroup(0, group); err != nil {
		t.Fatalf("SetBindGroup: %v", err)
	}
	if err := pass.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	storage.Destroy()
	wantErr(t, dv.Queue().Submit(cb), ErrDestroyed)
}
