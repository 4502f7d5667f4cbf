package gpucmd

import (
	"bytes"
	"testing"
)

func TestFormatTable(t *testing.T) {
	for f := FormatR8; f < formatCount; f++ {
		info := f.Info()
		if info.Name == "" || info.BitsPerPixel == 0 {
			t.Errorf("format %d has an incomplete entry: %+v", f, info)
		}
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, err)
		}
	}
	if FormatUnknown.Valid() || formatCount.Valid() {
		t.Error("sentinel formats reported valid")
	}
	if _, err := ParseFormat("rgb565"); err == nil {
		t.Error("ParseFormat accepted an unknown name")
	}
	if got := Format(200).String(); got != "Format(200)" {
		t.Errorf("String() = %q", got)
	}
}

func TestIsDepthStencil(t *testing.T) {
	for _, f := range []Format{FormatD16, FormatD24S8, FormatD32F, FormatD32FS8} {
		if !f.IsDepthStencil() {
			t.Errorf("%s is not depth-stencil", f)
		}
	}
	for _, f := range []Format{FormatRGBA8, FormatR32F, FormatBC7} {
		if f.IsDepthStencil() {
			t.Errorf("%s reported depth-stencil", f)
		}
	}
}

func TestMipSize(t *testing.T) {
	tests := []struct {
		format        Format
		width, height int
		level         int
		want          int
	}{
		{FormatRGBA8, 256, 256, 0, 256 * 256 * 4},
		{FormatRGBA8, 256, 256, 8, 4},
		{FormatRGBA8, 256, 64, 7, 2 * 4},
		{FormatR8, 3, 3, 0, 9},
		{FormatRGBA32F, 2, 2, 0, 64},
		{FormatBC1, 4, 4, 0, 8},
		{FormatBC1, 5, 5, 0, 4 * 8},
		{FormatBC1, 1, 1, 0, 8},
		{FormatBC3, 8, 8, 0, 4 * 16},
		{FormatBC7, 16, 16, 2, 16},
	}
	for _, tt := range tests {
		if got := MipSize(tt.format, tt.width, tt.height, tt.level); got != tt.want {
			t.Errorf("MipSize(%s, %d, %d, %d) = %d, want %d",
				tt.format, tt.width, tt.height, tt.level, got, tt.want)
		}
	}
}

func TestSplitMips(t *testing.T) {
	d := TextureDesc{Width: 4, Height: 4, Format: FormatR8, Levels: 3}
	if n := TextureSize(&d); n != 16+4+1 {
		t.Fatalf("TextureSize = %d, want 21", n)
	}
	data := make([]byte, 21)
	for i := range data {
		data[i] = byte(i)
	}

	mips := SplitMips(&d, data)
	if len(mips) != 3 {
		t.Fatalf("got %d levels", len(mips))
	}
	if !bytes.Equal(mips[1], data[16:20]) || !bytes.Equal(mips[2], data[20:]) {
		t.Errorf("levels = %v", mips)
	}

	partial := SplitMips(&d, data[:18])
	if partial[0] == nil || partial[1] != nil || partial[2] != nil {
		t.Errorf("partial data split = %v", partial)
	}
	if SplitMips(&d, nil) != nil {
		t.Error("SplitMips(nil) returned levels")
	}
}

func TestBufferAllocSize(t *testing.T) {
	tests := []struct {
		desc BufferDesc
		want uint32
	}{
		{BufferDesc{Usage: UsageUniform, Size: 1}, 256},
		{BufferDesc{Usage: UsageUniform, Size: 256}, 256},
		{BufferDesc{Usage: UsageUniform, Size: 257}, 512},
		{BufferDesc{Usage: UsageVertex, Size: 100}, 100},
		{BufferDesc{Usage: UsageStorage, Size: 3}, 3},
	}
	for _, tt := range tests {
		if got := tt.desc.AllocSize(); got != tt.want {
			t.Errorf("AllocSize(%+v) = %d, want %d", tt.desc, got, tt.want)
		}
	}
}

func TestSamplerKey(t *testing.T) {
	a := Sampler{WrapU: WrapClamp, WrapV: WrapMirror, Filter: FilterAnisotropic}
	b := Sampler{WrapU: WrapMirror, WrapV: WrapClamp, Filter: FilterAnisotropic}
	if a.Key() == b.Key() {
		t.Error("swapped wrap modes share a key")
	}
	if (Sampler{}).Key() != 0 {
		t.Error("default sampler key is not zero")
	}
}

func TestSampleCount(t *testing.T) {
	var c Capabilities
	c.Samples[1], c.Samples[2], c.Samples[4] = 1, 2, 4
	c.Samples[8], c.Samples[16] = 4, 4

	for req, want := range map[int]int{0: 1, 1: 1, 2: 2, 4: 4, 8: 4, 16: 4, 64: 4, 3: 1} {
		if got := c.SampleCount(req); got != want {
			t.Errorf("SampleCount(%d) = %d, want %d", req, got, want)
		}
	}
}
