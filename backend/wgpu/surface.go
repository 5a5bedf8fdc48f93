package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuhub/backend"
)

// ErrTextureAcquired is returned by AcquireTexture while the previous image
// has not been presented.
var ErrTextureAcquired = errors.New("wgpu: swap chain texture already acquired")

// swapChain is a configured hal surface. State is guarded by the driver
// mutex.
type swapChain struct {
	owned
	surface hal.Surface
	// texture is the handle of the acquired image, if any.
	texture  backend.Handle
	acquired hal.SurfaceTexture
}

func (sc *swapChain) destroy(dv *device) {
	if sc.acquired != nil {
		sc.surface.DiscardTexture(sc.acquired)
		sc.acquired = nil
	}
	sc.surface.Unconfigure(dv.raw)
}

// CreateSurface creates a hal surface for a native window.
func (d *Driver) CreateSurface(target backend.SurfaceTarget) (backend.Handle, error) {
	d.mu.Lock()
	inst := d.instance
	d.mu.Unlock()
	if inst == nil {
		return backend.NilHandle, fmt.Errorf("create surface: %w", backend.ErrUnsupported)
	}

	s, err := inst.CreateSurface(target.Display, target.Window)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("create surface: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.allocLocked()
	d.surfaces[h] = s
	return h, nil
}

// DestroySurface destroys a surface. Swap chains on it must be freed first.
func (d *Driver) DestroySurface(h backend.Handle) {
	d.mu.Lock()
	s, ok := d.surfaces[h]
	delete(d.surfaces, h)
	d.mu.Unlock()
	if ok {
		s.Destroy()
	}
}

// ConfigureSwapChain configures the surface for dev with FIFO presentation.
func (d *Driver) ConfigureSwapChain(dev, surf backend.Handle, desc *backend.SwapChainDescriptor) (backend.Handle, error) {
	dv, err := d.device(dev)
	if err != nil {
		return backend.NilHandle, err
	}
	d.mu.Lock()
	s, ok := d.surfaces[surf]
	d.mu.Unlock()
	if !ok {
		return backend.NilHandle, fmt.Errorf("configure swap chain: surface: %w", backend.ErrInvalidHandle)
	}

	err = s.Configure(dv.raw, &hal.SurfaceConfiguration{
		Width:       desc.Width,
		Height:      desc.Height,
		Format:      desc.Format,
		Usage:       desc.Usage | gputypes.TextureUsageRenderAttachment,
		PresentMode: gputypes.PresentModeFifo,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return backend.NilHandle, fmt.Errorf("configure swap chain %q: %w", desc.Label, halError(err))
	}
	return d.insert(&swapChain{owned: owned{dev: dev, label: desc.Label}, surface: s}), nil
}

// AcquireTexture acquires the next surface image and registers it as a
// texture owned by the swap chain.
func (d *Driver) AcquireTexture(dev, sch backend.Handle) (backend.Handle, error) {
	sc, err := lookup[*swapChain](d, dev, sch)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("acquire texture: %w", err)
	}

	d.mu.Lock()
	busy := sc.acquired != nil
	d.mu.Unlock()
	if busy {
		return backend.NilHandle, ErrTextureAcquired
	}

	ast, err := sc.surface.AcquireTexture(nil)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("acquire texture %q: %w", sc.label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	sc.acquired = ast.Texture
	sc.texture = d.insertLocked(&texture{
		owned:     owned{dev: dev, label: sc.label},
		raw:       ast.Texture,
		swapChain: sch,
	})
	return sc.texture, nil
}

// Present queues the acquired image for display and retires its texture
// handle.
func (d *Driver) Present(dev, sch backend.Handle) error {
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	sc, err := lookup[*swapChain](d, dev, sch)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}

	d.mu.Lock()
	tex := sc.acquired
	sc.acquired = nil
	delete(d.objects, sc.texture)
	sc.texture = backend.NilHandle
	d.mu.Unlock()

	if tex == nil {
		return fmt.Errorf("present: no texture acquired: %w", backend.ErrInvalidHandle)
	}
	if err := dv.queue.Present(sc.surface, tex, nil); err != nil {
		return fmt.Errorf("present %q: %w", sc.label, halError(err))
	}
	return nil
}
