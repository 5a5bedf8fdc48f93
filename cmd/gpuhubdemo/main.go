// Command gpuhubdemo opens a device, round-trips a buffer through the GPU and
// presents a few cleared frames to an offscreen swap chain.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub"
	_ "github.com/gogpu/gpuhub/backend/software"
	_ "github.com/gogpu/gpuhub/backend/wgpu"
	"github.com/gogpu/gpuhub/id"
)

func main() {
	var (
		backendName = flag.String("backend", "", "backend to use (vulkan, metal, dx12, gl, software); empty reads "+gpuhub.BackendEnv)
		size        = flag.Int("size", 256, "buffer size in bytes, rounded up to 4")
		frames      = flag.Int("frames", 3, "frames to present")
		fallback    = flag.Bool("fallback", false, "force the CPU fallback adapter")
		verbose     = flag.Bool("v", false, "log gpuhub activity to stderr")
	)
	flag.Parse()

	if *verbose {
		gpuhub.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	var opts []gpuhub.InstanceOption
	if *backendName != "" {
		tag, err := id.ParseBackend(*backendName)
		if err != nil {
			log.Fatalf("Bad -backend: %v", err)
		}
		opts = append(opts, gpuhub.WithBackends(tag))
	}
	opts = append(opts, gpuhub.WithErrorHandler(func(err error) {
		log.Printf("GPU error: %v", err)
	}))
	inst := gpuhub.NewInstance(opts...)
	defer inst.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := inst.RequestAdapter(&gpuhub.RequestAdapterOptions{
		PowerPreference:      gputypes.PowerPreferenceHighPerformance,
		ForceFallbackAdapter: *fallback,
	}).Wait(ctx)
	if err != nil {
		log.Fatalf("No adapter: %v", err)
	}
	info := adapter.Info()
	log.Printf("Adapter: %s (%s, %s)", info.Name, info.Backend, info.DeviceType)

	dv, err := adapter.RequestDevice(&gpuhub.DeviceDescriptor{Label: "gpuhubdemo"}).Wait(ctx)
	if err != nil {
		log.Fatalf("No device: %v", err)
	}
	defer dv.Release()

	if err := roundTrip(ctx, dv, (*size+3)&^3); err != nil {
		log.Fatalf("Round trip failed: %v", err)
	}
	if err := present(dv, inst, *frames); err != nil {
		log.Fatalf("Present failed: %v", err)
	}
}

// roundTrip uploads a pattern, copies it into a readable buffer and checks
// what comes back.
func roundTrip(ctx context.Context, dv *gpuhub.Device, size int) error {
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}

	src := dv.CreateBufferInit(&gpuhub.BufferDescriptor{
		Label: "upload",
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	}, pattern)
	if err := src.Err(); err != nil {
		return err
	}
	defer src.Destroy()

	dst := dv.CreateBuffer(&gpuhub.BufferDescriptor{
		Label: "readback",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err := dst.Err(); err != nil {
		return err
	}
	defer dst.Destroy()

	enc := dv.CreateCommandEncoder(&gpuhub.CommandEncoderDescriptor{Label: "copy"})
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, uint64(size)); err != nil {
		return err
	}
	cb, err := enc.Finish()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := dv.Queue().Submit(cb); err != nil {
		return err
	}

	return dst.ReadMapped(ctx, gpuhub.Whole(), func(data []byte) error {
		if !bytes.Equal(data, pattern) {
			log.Printf("Round trip mismatch: got %d bytes that differ from the upload", len(data))
			return nil
		}
		log.Printf("Round trip of %d bytes verified in %v", size, time.Since(start))
		return nil
	})
}

// present clears and presents frames on an offscreen swap chain.
func present(dv *gpuhub.Device, inst *gpuhub.Instance, frames int) error {
	surface, err := inst.CreateSurface(gpuhub.SurfaceTarget{})
	if err != nil {
		return err
	}
	defer surface.Release()

	sc := dv.CreateSwapChain(surface, &gpuhub.SwapChainDescriptor{
		Label:  "demo",
		Format: gputypes.TextureFormatBGRA8Unorm,
		Width:  64,
		Height: 64,
	})
	if err := sc.Err(); err != nil {
		// Hardware backends need a real window.
		log.Printf("Skipping present: %v", err)
		return nil
	}
	defer sc.Destroy()

	for i := range frames {
		st, err := sc.GetCurrentTexture()
		if err != nil {
			return err
		}
		t := float64(i) / float64(max(frames-1, 1))
		enc := dv.CreateCommandEncoder(nil)
		pass, err := enc.BeginRenderPass(&gpuhub.RenderPassDescriptor{
			Label: "clear",
			ColorAttachments: []gpuhub.RenderPassColorAttachment{{
				View:       st.View,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: t, G: 0.2, B: 1 - t, A: 1},
			}},
		})
		if err != nil {
			return err
		}
		if err := pass.End(); err != nil {
			return err
		}
		cb, err := enc.Finish()
		if err != nil {
			return err
		}
		if err := dv.Queue().Submit(cb); err != nil {
			return err
		}
		if err := sc.Present(); err != nil {
			return err
		}
	}
	if _, err := dv.Poll(true); err != nil {
		return err
	}
	log.Printf("Presented %d frames", frames)
	return nil
}
