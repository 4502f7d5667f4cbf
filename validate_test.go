package gpucmd

import (
	"errors"
	"testing"
)

func TestTextureDescDefaults(t *testing.T) {
	d := TextureDesc{Width: 64, Height: 32, Format: FormatRGBA8}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	if d.Levels != 1 || d.Samples != 1 || d.Layout != LayoutSampled {
		t.Errorf("defaults not filled: %+v", d)
	}
}

func TestTextureDescValidate(t *testing.T) {
	tests := []struct {
		name string
		desc TextureDesc
		ok   bool
	}{
		{"full mip chain", TextureDesc{Width: 64, Height: 32, Format: FormatRGBA8, Levels: 7}, true},
		{"one mip too many", TextureDesc{Width: 64, Height: 32, Format: FormatRGBA8, Levels: 8}, false},
		{"zero width", TextureDesc{Height: 4, Format: FormatRGBA8}, false},
		{"invalid format", TextureDesc{Width: 4, Height: 4, Format: formatCount}, false},
		{"msaa target", TextureDesc{Width: 4, Height: 4, Format: FormatRGBA8, Samples: 4, Layout: LayoutTarget}, true},
		{"msaa sampled only", TextureDesc{Width: 4, Height: 4, Format: FormatRGBA8, Samples: 4}, false},
		{"three samples", TextureDesc{Width: 4, Height: 4, Format: FormatRGBA8, Samples: 3, Layout: LayoutTarget}, false},
		{"32 samples", TextureDesc{Width: 4, Height: 4, Format: FormatRGBA8, Samples: 32, Layout: LayoutTarget}, false},
		{"compressed target", TextureDesc{Width: 4, Height: 4, Format: FormatBC1, Layout: LayoutTarget}, false},
		{"depth storage", TextureDesc{Width: 4, Height: 4, Format: FormatD32F, Layout: LayoutStorage}, false},
		{"depth target", TextureDesc{Width: 4, Height: 4, Format: FormatD24S8, Layout: LayoutTarget}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("error %v is not ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestBufferDescValidate(t *testing.T) {
	good := BufferDesc{Access: AccessHost, Usage: UsageUniform, Size: 16}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate(%+v) = %v", good, err)
	}
	for _, d := range []BufferDesc{
		{Size: 0},
		{Access: AccessDual + 1, Size: 4},
		{Usage: UsageStorage + 1, Size: 4},
	} {
		if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Validate(%+v) = %v", d, err)
		}
	}
}

func TestPassDescValidate(t *testing.T) {
	var d PassDesc
	if d.Validate() == nil {
		t.Error("pass without attachments accepted")
	}
	d.Depth = 1
	if err := d.Validate(); err != nil {
		t.Errorf("depth-only pass rejected: %v", err)
	}
	d.ColorCount = 2
	d.Colors[0].Target = 2
	if d.Validate() == nil {
		t.Error("attachment without target accepted")
	}
	d.ColorCount = MaxColorAttachments + 1
	if d.Validate() == nil {
		t.Error("too many attachments accepted")
	}
}

func TestPipelineDescValidate(t *testing.T) {
	d := PipelineDesc{AttributeCount: 1, ColorCount: 1, DepthFormat: FormatD32F}
	d.ColorFormats[0] = FormatBGRA8
	d.Attributes[0] = VertexAttribute{Format: VertexFloat32, Stream: 1}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if d.Samples != 1 {
		t.Errorf("Samples = %d, want default 1", d.Samples)
	}

	bad := []func(*PipelineDesc){
		func(p *PipelineDesc) { p.Attributes[0].Stream = MaxVertexStreams },
		func(p *PipelineDesc) { p.ColorFormats[0] = FormatD16 },
		func(p *PipelineDesc) { p.DepthFormat = FormatRGBA8 },
		func(p *PipelineDesc) { p.Topology = PointList + 1 },
		func(p *PipelineDesc) { p.AttributeCount = MaxVertexAttributes + 1 },
		func(p *PipelineDesc) { p.TextureMask, p.DepthTextureMask = 0b01, 0b10 },
	}
	for i, mutate := range bad {
		p := d
		mutate(&p)
		if err := p.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("case %d: Validate() = %v", i, err)
		}
	}
}
