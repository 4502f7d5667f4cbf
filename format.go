package gpucmd

import "fmt"

// Format is a logical texture format. Backends map it to native formats
// through their own tables.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatR8
	FormatRG8
	FormatRGBA8
	FormatRGBA8Srgb
	FormatBGRA8
	FormatBGRA8Srgb
	FormatRGB10A2
	FormatRG11B10F
	FormatR16F
	FormatRG16F
	FormatRGBA16F
	FormatR32F
	FormatRG32F
	FormatRGBA32F
	FormatD16
	FormatD24S8
	FormatD32F
	FormatD32FS8
	FormatBC1
	FormatBC2
	FormatBC3
	FormatBC4
	FormatBC5
	FormatBC7

	formatCount
)

// FormatInfo is the static description of a Format.
type FormatInfo struct {
	Name string
	// BitsPerPixel is the average storage per texel. Block-compressed
	// formats store 4x4 blocks of 16*BitsPerPixel bits.
	BitsPerPixel int
	Compressed   bool
	Depth        bool
	Stencil      bool
	Srgb         bool
}

var formatTable = [formatCount]FormatInfo{
	FormatUnknown:   {Name: "unknown"},
	FormatR8:        {Name: "r8", BitsPerPixel: 8},
	FormatRG8:       {Name: "rg8", BitsPerPixel: 16},
	FormatRGBA8:     {Name: "rgba8", BitsPerPixel: 32},
	FormatRGBA8Srgb: {Name: "rgba8-srgb", BitsPerPixel: 32, Srgb: true},
	FormatBGRA8:     {Name: "bgra8", BitsPerPixel: 32},
	FormatBGRA8Srgb: {Name: "bgra8-srgb", BitsPerPixel: 32, Srgb: true},
	FormatRGB10A2:   {Name: "rgb10a2", BitsPerPixel: 32},
	FormatRG11B10F:  {Name: "rg11b10f", BitsPerPixel: 32},
	FormatR16F:      {Name: "r16f", BitsPerPixel: 16},
	FormatRG16F:     {Name: "rg16f", BitsPerPixel: 32},
	FormatRGBA16F:   {Name: "rgba16f", BitsPerPixel: 64},
	FormatR32F:      {Name: "r32f", BitsPerPixel: 32},
	FormatRG32F:     {Name: "rg32f", BitsPerPixel: 64},
	FormatRGBA32F:   {Name: "rgba32f", BitsPerPixel: 128},
	FormatD16:       {Name: "d16", BitsPerPixel: 16, Depth: true},
	FormatD24S8:     {Name: "d24s8", BitsPerPixel: 32, Depth: true, Stencil: true},
	FormatD32F:      {Name: "d32f", BitsPerPixel: 32, Depth: true},
	FormatD32FS8:    {Name: "d32fs8", BitsPerPixel: 64, Depth: true, Stencil: true},
	FormatBC1:       {Name: "bc1", BitsPerPixel: 4, Compressed: true},
	FormatBC2:       {Name: "bc2", BitsPerPixel: 8, Compressed: true},
	FormatBC3:       {Name: "bc3", BitsPerPixel: 8, Compressed: true},
	FormatBC4:       {Name: "bc4", BitsPerPixel: 4, Compressed: true},
	FormatBC5:       {Name: "bc5", BitsPerPixel: 8, Compressed: true},
	FormatBC7:       {Name: "bc7", BitsPerPixel: 8, Compressed: true},
}

// Info returns the table entry for f.
func (f Format) Info() FormatInfo {
	if f >= formatCount {
		return formatTable[FormatUnknown]
	}
	return formatTable[f]
}

// Valid reports whether f names a known format.
func (f Format) Valid() bool { return f > FormatUnknown && f < formatCount }

// IsDepthStencil reports whether f has a depth or stencil aspect.
func (f Format) IsDepthStencil() bool {
	info := f.Info()
	return info.Depth || info.Stencil
}

func (f Format) String() string {
	if f >= formatCount {
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
	return formatTable[f].Name
}

// ParseFormat returns the format with the given name.
func ParseFormat(name string) (Format, error) {
	for f := FormatR8; f < formatCount; f++ {
		if formatTable[f].Name == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("gpucmd: unknown texture format %q", name)
}

// MipExtent returns the size of a mip level.
func MipExtent(width, height, level int) (int, int) {
	return max(width>>level, 1), max(height>>level, 1)
}

// RowPitch returns the number of bytes in one row of texels (or one row
// of 4x4 blocks) at the given width.
func RowPitch(f Format, width int) int {
	info := f.Info()
	if info.Compressed {
		return (width + 3) / 4 * 16 * info.BitsPerPixel / 8
	}
	return width * info.BitsPerPixel / 8
}

// Rows returns the number of pitch-sized rows at the given height.
func Rows(f Format, height int) int {
	if f.Info().Compressed {
		return (height + 3) / 4
	}
	return height
}

// MipSize returns the byte size of one tightly packed mip level.
func MipSize(f Format, width, height, level int) int {
	w, h := MipExtent(width, height, level)
	return RowPitch(f, w) * Rows(f, h)
}

// TextureSize returns the byte size of all mip levels of d, packed one
// after another.
func TextureSize(d *TextureDesc) int {
	n := 0
	for l := 0; l < int(d.Levels); l++ {
		n += MipSize(d.Format, int(d.Width), int(d.Height), l)
	}
	return n
}

// SplitMips cuts packed initial data into per-level blocks. Levels
// without data are returned as nil.
func SplitMips(d *TextureDesc, data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	out := make([][]byte, d.Levels)
	off := 0
	for l := range out {
		n := MipSize(d.Format, int(d.Width), int(d.Height), l)
		if off+n > len(data) {
			break
		}
		out[l] = data[off : off+n : off+n]
		off += n
	}
	return out
}
