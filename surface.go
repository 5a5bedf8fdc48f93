package gpuhub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// SurfaceTarget carries the native display and window handles of a
// window. gpuhub never dereferences them.
type SurfaceTarget = backend.SurfaceTarget

// Surface is a presentable window. It is shared by every backend of the
// instance; each backend creates its native surface on first use.
type Surface struct {
	instance *Instance
	id       id.ID[id.Surface]
	target   SurfaceTarget

	mu       sync.Mutex
	handles  map[id.Backend]backend.Handle
	chains   map[*SwapChain]struct{}
	released bool
}

// ID returns the surface identifier.
func (s *Surface) ID() id.ID[id.Surface] { return s.id }

// handleFor returns the backend surface for tag, creating it on first use.
func (s *Surface) handleFor(tag id.Backend) (backend.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return backend.NilHandle, fmt.Errorf("surface %s: %w", s.id, ErrDestroyed)
	}
	if h, ok := s.handles[tag]; ok {
		return h, nil
	}
	drv, err := s.instance.dispatch.Lookup(tag)
	if err != nil {
		return backend.NilHandle, err
	}
	h, err := drv.CreateSurface(s.target)
	if err != nil {
		return backend.NilHandle, err
	}
	s.handles[tag] = h
	return h, nil
}

func (s *Surface) addChain(sc *SwapChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chains == nil {
		s.chains = make(map[*SwapChain]struct{})
	}
	s.chains[sc] = struct{}{}
}

func (s *Surface) removeChain(sc *SwapChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, sc)
}

// Release destroys the swap chains configured on the surface and the
// backend surfaces. Release is idempotent.
func (s *Surface) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	chains := make([]*SwapChain, 0, len(s.chains))
	for sc := range s.chains {
		chains = append(chains, sc)
	}
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, sc := range chains {
		sc.Destroy()
	}
	for tag, h := range handles {
		if drv, err := s.instance.dispatch.Lookup(tag); err == nil {
			drv.DestroySurface(h)
		}
	}
	if err := s.instance.hub.surfaces.Release(s.id, nil); err != nil {
		Logger().Warn("gpuhub: release surface", slog.String("id", s.id.String()), slog.Any("err", err))
	}
}

// SwapChainDescriptor configures presentation to a surface. Usage defaults
// to RENDER_ATTACHMENT and ImageCount 0 lets the backend choose.
type SwapChainDescriptor struct {
	Label      string
	Format     gputypes.TextureFormat
	Usage      gputypes.TextureUsage
	Width      uint32
	Height     uint32
	ImageCount uint32
}

// SwapChain cycles presentable images of a surface for one device.
type SwapChain struct {
	child[id.SwapChain]
	surface *Surface
	desc    backend.SwapChainDescriptor

	mu      sync.Mutex
	current *SurfaceTexture
}

// SurfaceTexture is an acquired swap chain image with a default view. The
// caller does not own the texture; both stay valid until Present.
type SurfaceTexture struct {
	Texture *Texture
	View    *TextureView
}

// CreateSwapChain configures surface for presentation from dv.
func (dv *Device) CreateSwapChain(surface *Surface, desc *SwapChainDescriptor) *SwapChain {
	if desc == nil {
		desc = &SwapChainDescriptor{}
	}
	bd := backend.SwapChainDescriptor{
		Label:      desc.Label,
		Format:     desc.Format,
		Usage:      desc.Usage,
		Width:      desc.Width,
		Height:     desc.Height,
		ImageCount: desc.ImageCount,
	}
	if bd.Usage == gputypes.TextureUsageNone {
		bd.Usage = gputypes.TextureUsageRenderAttachment
	}
	sc := &SwapChain{surface: surface, desc: bd}
	ok := attach(dv, dv.instance.hub.swapChains, sc, &sc.child, "Device.CreateSwapChain", desc.Label, func() (backend.Handle, error) {
		switch {
		case surface == nil:
			return backend.NilHandle, fmt.Errorf("nil surface: %w", ErrInvalidDescriptor)
		case bd.Width == 0 || bd.Height == 0:
			return backend.NilHandle, fmt.Errorf("swap chain size %dx%d is empty: %w", bd.Width, bd.Height, ErrInvalidDescriptor)
		case bd.Format == gputypes.TextureFormatUndefined:
			return backend.NilHandle, fmt.Errorf("swap chain format is undefined: %w", ErrInvalidDescriptor)
		}
		sh, err := surface.handleFor(dv.id.Backend())
		if err != nil {
			return backend.NilHandle, err
		}
		return dv.driver().ConfigureSwapChain(dv.handle, sh, &bd)
	})
	if ok {
		surface.addChain(sc)
	}
	return sc
}

// GetCurrentTexture acquires the next image. It fails with
// ErrTextureAcquired until the previous image is presented.
func (sc *SwapChain) GetCurrentTexture() (*SurfaceTexture, error) {
	const op = "SwapChain.GetCurrentTexture"
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.usable(); err != nil {
		return nil, classify(op, err)
	}
	if sc.current != nil {
		return nil, classify(op, ErrTextureAcquired)
	}

	dv := sc.device
	h, err := dv.driver().AcquireTexture(dv.handle, sc.handle)
	if err != nil {
		return nil, classify(op, deviceError(err))
	}
	t := &Texture{
		desc: backend.TextureDescriptor{
			Label:         sc.label,
			Size:          gputypes.Extent3D{Width: sc.desc.Width, Height: sc.desc.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        sc.desc.Format,
			Usage:         sc.desc.Usage,
		},
		swapChain: sc,
	}
	attach(dv, dv.instance.hub.textures, t, &t.child, op, sc.label, func() (backend.Handle, error) {
		return h, nil
	})
	view := t.CreateView(nil)
	if err := checkBindable(t.usable(), view.usable()); err != nil {
		view.Destroy()
		t.retire()
		return nil, err
	}
	sc.current = &SurfaceTexture{Texture: t, View: view}
	return sc.current, nil
}

// Present queues the acquired image for display. The texture and view
// returned by GetCurrentTexture become unusable.
func (sc *SwapChain) Present() error {
	const op = "SwapChain.Present"
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.usable(); err != nil {
		return classify(op, err)
	}
	cur := sc.current
	if cur == nil {
		return classify(op, ErrNoTextureAcquired)
	}
	sc.current = nil
	cur.View.Destroy()
	cur.Texture.retire()

	dv := sc.device
	if err := dv.driver().Present(dv.handle, sc.handle); err != nil {
		return classify(op, deviceError(err))
	}
	return nil
}

// Destroy releases the swap chain and any acquired image. Destroy is
// idempotent.
func (sc *SwapChain) Destroy() {
	sc.mu.Lock()
	cur := sc.current
	sc.current = nil
	sc.mu.Unlock()
	if cur != nil {
		cur.View.Destroy()
		cur.Texture.retire()
	}
	if sc.surface != nil {
		sc.surface.removeChain(sc)
	}
	detach(&sc.child, sc.device.instance.hub.swapChains, sc)
}

func (sc *SwapChain) implicitDestroy() { sc.Destroy() }
