package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
)

// surface is an offscreen presentation target.
type surface struct {
	target    backend.SurfaceTarget
	presented uint64
}

type swapChain struct {
	owned
	surface  backend.Handle
	images   []backend.Handle
	current  int
	acquired bool
}

// CreateSurface accepts any target; the software driver presents offscreen.
func (d *Driver) CreateSurface(target backend.SurfaceTarget) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.allocLocked()
	d.surfaces[h] = &surface{target: target}
	return h, nil
}

// DestroySurface forgets a surface.
func (d *Driver) DestroySurface(h backend.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.surfaces, h)
}

// ConfigureSwapChain allocates the swap chain images.
func (d *Driver) ConfigureSwapChain(dev, surf backend.Handle, desc *backend.SwapChainDescriptor) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.deviceLocked(dev); err != nil {
		return backend.NilHandle, err
	}
	if _, ok := d.surfaces[surf]; !ok {
		return backend.NilHandle, fmt.Errorf("configure swap chain: surface: %w", backend.ErrInvalidHandle)
	}

	count := desc.ImageCount
	if count == 0 {
		count = 2
	}
	sc := &swapChain{owned: owned{dev: dev, label: desc.Label}, surface: surf}
	h := d.insertLocked(sc)
	for i := uint32(0); i < count; i++ {
		tex := newTexture(dev, &backend.TextureDescriptor{
			Label:         fmt.Sprintf("%s image %d", desc.Label, i),
			Size:          gputypes.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        desc.Format,
			Usage:         desc.Usage,
		})
		tex.swapChain = h
		sc.images = append(sc.images, d.insertLocked(tex))
	}
	return h, nil
}

// AcquireTexture returns the next image. The texture stays owned by the
// swap chain.
func (d *Driver) AcquireTexture(dev, sch backend.Handle) (backend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sc, err := lookup[*swapChain](d, dev, sch)
	if err != nil {
		return backend.NilHandle, fmt.Errorf("acquire texture: %w", err)
	}
	if sc.acquired {
		return backend.NilHandle, ErrTextureAcquired
	}
	sc.acquired = true
	return sc.images[sc.current], nil
}

// Present rotates to the next image.
func (d *Driver) Present(dev, sch backend.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sc, err := lookup[*swapChain](d, dev, sch)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	if !sc.acquired {
		return fmt.Errorf("present: no texture acquired: %w", backend.ErrInvalidHandle)
	}
	sc.acquired = false
	sc.current = (sc.current + 1) % len(sc.images)
	if s, ok := d.surfaces[sc.surface]; ok {
		s.presented++
	}
	return nil
}
