package backend

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestTexelSize(t *testing.T) {
	tests := []struct {
		format gputypes.TextureFormat
		want   uint32
	}{
		{gputypes.TextureFormatR8Unorm, 1},
		{gputypes.TextureFormatStencil8, 1},
		{gputypes.TextureFormatRG8Unorm, 2},
		{gputypes.TextureFormatR16Float, 2},
		{gputypes.TextureFormatRGBA8Unorm, 4},
		{gputypes.TextureFormatBGRA8UnormSrgb, 4},
		{gputypes.TextureFormatDepth32Float, 4},
		{gputypes.TextureFormatRGBA16Float, 8},
		{gputypes.TextureFormatRGBA32Float, 16},
	}
	for _, tt := range tests {
		if got := TexelSize(tt.format); got != tt.want {
			t.Errorf("TexelSize(%v) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestIsCompressed(t *testing.T) {
	if !IsCompressed(gputypes.TextureFormatBC1RGBAUnorm) {
		t.Error("BC1 should be compressed")
	}
	if !IsCompressed(gputypes.TextureFormatASTC4x4Unorm) {
		t.Error("ASTC 4x4 should be compressed")
	}
	if IsCompressed(gputypes.TextureFormatRGBA8Unorm) {
		t.Error("RGBA8 should not be compressed")
	}
}
