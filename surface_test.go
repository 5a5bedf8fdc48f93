package gpuhub

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func newSwapChain(t *testing.T, dv *Device) (*Surface, *SwapChain) {
	t.Helper()
	surface, err := dv.instance.CreateSurface(SurfaceTarget{Window: 0x1234})
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	t.Cleanup(surface.Release)
	sc := dv.CreateSwapChain(surface, &SwapChainDescriptor{
		Label:  "main",
		Format: gputypes.TextureFormatBGRA8Unorm,
		Width:  4,
		Height: 4,
	})
	mustValid(t, "swap chain", sc.Err())
	return surface, sc
}

func TestSwapChainAcquirePresent(t *testing.T) {
	dv, _ := newTestDevice(t)
	_, sc := newSwapChain(t, dv)

	for frame := range 3 {
		st, err := sc.GetCurrentTexture()
		if err != nil {
			t.Fatalf("frame %d: GetCurrentTexture: %v", frame, err)
		}
		if got := st.Texture.Size(); got.Width != 4 || got.Height != 4 {
			t.Fatalf("frame %d: texture size %v", frame, got)
		}
		if st.Texture.Usage() != gputypes.TextureUsageRenderAttachment {
			t.Errorf("frame %d: usage = %v, want RENDER_ATTACHMENT", frame, st.Texture.Usage())
		}

		enc := dv.CreateCommandEncoder(nil)
		pass, err := enc.BeginRenderPass(&RenderPassDescriptor{
			ColorAttachments: []RenderPassColorAttachment{{View: st.View}},
		})
		if err != nil {
			t.Fatalf("frame %d: BeginRenderPass: %v", frame, err)
		}
		if err := pass.End(); err != nil {
			t.Fatalf("frame %d: End: %v", frame, err)
		}
		submit(t, dv, enc)

		if err := sc.Present(); err != nil {
			t.Fatalf("frame %d: Present: %v", frame, err)
		}
		wantErr(t, st.View.checkSubmit(), ErrDestroyed)
	}
}

func TestSwapChainSecondAcquireFails(t *testing.T) {
	dv, _ := newTestDevice(t)
	_, sc := newSwapChain(t, dv)

	st, err := sc.GetCurrentTexture()
	if err != nil {
		t.Fatalf("GetCurrentTexture: %v", err)
	}
	_, err = sc.GetCurrentTexture()
	wantErr(t, err, ErrTextureAcquired)

	st.Texture.Destroy()
	if err := st.Texture.usable(); err != nil {
		t.Errorf("Destroy on a swap chain image took effect: %v", err)
	}
	if err := sc.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	wantErr(t, sc.Present(), ErrNoTextureAcquired)
}

func TestSwapChainValidation(t *testing.T) {
	dv, log := newTestDevice(t)
	surface, err := dv.instance.CreateSurface(SurfaceTarget{})
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	t.Cleanup(surface.Release)

	tests := []struct {
		name    string
		surface *Surface
		desc    SwapChainDescriptor
	}{
		{"nil surface", nil, SwapChainDescriptor{Format: gputypes.TextureFormatBGRA8Unorm, Width: 1, Height: 1}},
		{"empty size", surface, SwapChainDescriptor{Format: gputypes.TextureFormatBGRA8Unorm}},
		{"undefined format", surface, SwapChainDescriptor{Width: 1, Height: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := dv.CreateSwapChain(tt.surface, &tt.desc)
			wantErr(t, sc.Err(), ErrInvalidDescriptor)
			if n := len(log.take()); n != 1 {
				t.Errorf("sink received %d errors, want 1", n)
			}
			_, err := sc.GetCurrentTexture()
			wantErr(t, err, ErrInvalidObject)
		})
	}
}

func TestSurfaceReleaseDestroysSwapChains(t *testing.T) {
	dv, _ := newTestDevice(t)
	surface, sc := newSwapChain(t, dv)
	st, err := sc.GetCurrentTexture()
	if err != nil {
		t.Fatalf("GetCurrentTexture: %v", err)
	}

	surface.Release()
	wantErr(t, sc.usable(), ErrDestroyed)
	wantErr(t, st.Texture.usable(), ErrDestroyed)
	if dv.instance.hub.swapChains.Contains(sc.ID()) {
		t.Error("swap chain ID live after surface release")
	}
	_, err = sc.GetCurrentTexture()
	wantErr(t, err, ErrDestroyed)
}

func TestDeviceReleaseRetiresSwapChainImage(t *testing.T) {
	inst := newTestInstance(t)
	dv := requestDevice(t, inst, nil)
	_, sc := newSwapChain(t, dv)
	st, err := sc.GetCurrentTexture()
	if err != nil {
		t.Fatalf("GetCurrentTexture: %v", err)
	}

	dv.Release()
	wantErr(t, st.Texture.usable(), ErrDestroyed)
	wantErr(t, sc.usable(), ErrDestroyed)
	if n := inst.LiveObjects()["Texture"]; n != 0 {
		t.Errorf("live textures = %d, want 0", n)
	}
}
