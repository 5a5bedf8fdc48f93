package backend

import "github.com/gogpu/gputypes"

// TexelSize returns the number of bytes one texel of f occupies in a
// linear buffer copy. Block-compressed and unknown formats report 4; the
// core rejects copies of block-compressed formats before they reach a
// driver.
func TexelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	default:
		return 4
	}
}

// IsCompressed reports whether f is a block-compressed format.
func IsCompressed(f gputypes.TextureFormat) bool {
	return f >= gputypes.TextureFormatBC1RGBAUnorm && f <= gputypes.TextureFormatASTC12x12UnormSrgb
}
