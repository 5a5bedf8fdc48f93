package gpuhub

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
)

// TextureDescriptor describes a texture. Zero MipLevelCount and SampleCount
// mean 1; an undefined dimension means 2D.
type TextureDescriptor struct {
	Label         string
	Size          gputypes.Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// Texture is an image resource.
type Texture struct {
	child[id.Texture]
	desc backend.TextureDescriptor
	// swapChain is set for images acquired from a swap chain. The caller
	// does not own them: Destroy is a no-op and Present retires them.
	swapChain *SwapChain
}

// CreateTexture creates a texture. Descriptor errors are reported to the
// device's error sink and yield an invalid texture.
func (dv *Device) CreateTexture(desc *TextureDescriptor) *Texture {
	if desc == nil {
		desc = &TextureDescriptor{}
	}
	bd := normalizeTextureDescriptor(desc)
	t := &Texture{desc: bd}
	attach(dv, dv.instance.hub.textures, t, &t.child, "Device.CreateTexture", desc.Label, func() (backend.Handle, error) {
		if err := validateTextureDescriptor(&bd, dv.limits); err != nil {
			return backend.NilHandle, err
		}
		return dv.driver().CreateTexture(dv.handle, &bd)
	})
	return t
}

func normalizeTextureDescriptor(desc *TextureDescriptor) backend.TextureDescriptor {
	bd := backend.TextureDescriptor{
		Label:         desc.Label,
		Size:          desc.Size,
		MipLevelCount: max(desc.MipLevelCount, 1),
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	}
	if bd.Dimension == gputypes.TextureDimensionUndefined {
		bd.Dimension = gputypes.TextureDimension2D
	}
	if bd.Size.DepthOrArrayLayers == 0 {
		bd.Size.DepthOrArrayLayers = 1
	}
	return bd
}

func validateTextureDescriptor(d *backend.TextureDescriptor, limits Limits) error {
	switch {
	case d.Size.Width == 0 || d.Size.Height == 0:
		return fmt.Errorf("texture size %dx%d is empty: %w", d.Size.Width, d.Size.Height, ErrInvalidDescriptor)
	case d.Format == gputypes.TextureFormatUndefined:
		return fmt.Errorf("texture format is undefined: %w", ErrInvalidDescriptor)
	case d.Usage == gputypes.TextureUsageNone:
		return fmt.Errorf("texture usage is empty: %w", ErrInvalidDescriptor)
	case d.Usage.ContainsUnknownBits():
		return fmt.Errorf("texture usage %#x has unknown bits: %w", uint64(d.Usage), ErrInvalidDescriptor)
	case d.SampleCount != 1 && d.SampleCount != 4:
		return fmt.Errorf("sample count %d is not 1 or 4: %w", d.SampleCount, ErrInvalidDescriptor)
	case limits.MaxTexture2D != 0 && (d.Size.Width > limits.MaxTexture2D || d.Size.Height > limits.MaxTexture2D):
		return fmt.Errorf("texture size %dx%d exceeds limit %d: %w",
			d.Size.Width, d.Size.Height, limits.MaxTexture2D, ErrInvalidDescriptor)
	}
	return nil
}

// Size returns the texture extent.
func (t *Texture) Size() gputypes.Extent3D { return t.desc.Size }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Usage returns the usage flags given at creation.
func (t *Texture) Usage() gputypes.TextureUsage { return t.desc.Usage }

// MipLevelCount returns the number of mip levels.
func (t *Texture) MipLevelCount() uint32 { return t.desc.MipLevelCount }

// Destroy frees the texture. Views created from it become unusable at
// submit. Destroy is idempotent and a no-op on swap chain images.
func (t *Texture) Destroy() {
	if t.swapChain != nil {
		return
	}
	detach(&t.child, t.device.instance.hub.textures, t)
}

func (t *Texture) implicitDestroy() {
	if t.swapChain != nil {
		t.retire()
		return
	}
	t.Destroy()
}

// retire invalidates a swap chain image without freeing it; the backend
// swap chain owns the image.
func (t *Texture) retire() {
	t.handle = backend.NilHandle
	detach(&t.child, t.device.instance.hub.textures, t)
}

// TextureViewDescriptor describes a view of a texture. Zero values select
// the texture's format, dimension, all aspects and all remaining mip
// levels and layers.
type TextureViewDescriptor struct {
	Label           string
	Format          gputypes.TextureFormat
	Dimension       gputypes.TextureViewDimension
	Aspect          gputypes.TextureAspect
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// TextureView is a view of a texture used in bind groups and render passes.
type TextureView struct {
	child[id.TextureView]
	texture *Texture
}

// CreateView creates a view of t.
func (t *Texture) CreateView(desc *TextureViewDescriptor) *TextureView {
	if desc == nil {
		desc = &TextureViewDescriptor{}
	}
	dv := t.device
	v := &TextureView{texture: t}
	bd := backend.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       desc.Dimension,
		Aspect:          desc.Aspect,
		BaseMipLevel:    desc.BaseMipLevel,
		MipLevelCount:   desc.MipLevelCount,
		BaseArrayLayer:  desc.BaseArrayLayer,
		ArrayLayerCount: desc.ArrayLayerCount,
	}
	if bd.Format == gputypes.TextureFormatUndefined {
		bd.Format = t.desc.Format
	}
	if bd.Dimension == gputypes.TextureViewDimensionUndefined {
		bd.Dimension = viewDimension(t.desc)
	}
	if bd.Aspect == gputypes.TextureAspectUndefined {
		bd.Aspect = gputypes.TextureAspectAll
	}
	attach(dv, dv.instance.hub.textureViews, v, &v.child, "Texture.CreateView", desc.Label, func() (backend.Handle, error) {
		if err := t.usable(); err != nil {
			return backend.NilHandle, err
		}
		if bd.BaseMipLevel >= t.desc.MipLevelCount || bd.BaseMipLevel+bd.MipLevelCount > t.desc.MipLevelCount {
			return backend.NilHandle, fmt.Errorf("mip levels [%d,+%d) outside %d levels: %w",
				bd.BaseMipLevel, bd.MipLevelCount, t.desc.MipLevelCount, ErrInvalidDescriptor)
		}
		return dv.driver().CreateTextureView(dv.handle, t.handle, &bd)
	})
	return v
}

func viewDimension(d backend.TextureDescriptor) gputypes.TextureViewDimension {
	switch d.Dimension {
	case gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	default:
		if d.Size.DepthOrArrayLayers > 1 {
			return gputypes.TextureViewDimension2DArray
		}
		return gputypes.TextureViewDimension2D
	}
}

// Texture returns the viewed texture.
func (v *TextureView) Texture() *Texture { return v.texture }

// Destroy frees the view. Destroy is idempotent.
func (v *TextureView) Destroy() {
	detach(&v.child, v.device.instance.hub.textureViews, v)
}

func (v *TextureView) implicitDestroy() { v.Destroy() }

// checkSubmit verifies that the view and its texture are still alive.
func (v *TextureView) checkSubmit() error {
	if err := v.usable(); err != nil {
		return err
	}
	return v.texture.usable()
}
