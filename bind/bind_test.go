package bind

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gogpu/gpucmd"
)

// recorder is a Binder that logs every call.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) SetPipeline(id gpucmd.PipelineID, m PartMask) { r.add("pipeline %d %06b", id, m) }
func (r *recorder) SetStencilRef(ref uint32)                     { r.add("stencil %d", ref) }
func (r *recorder) SetScissor(rc gpucmd.Rect)                    { r.add("scissor %v", rc) }

func (r *recorder) SetVertexStreams(start int, s []gpucmd.VertexStream) {
	r.add("streams %d+%d", start, len(s))
}

func (r *recorder) SetIndexStream(s gpucmd.VertexStream, w IndexWidth) {
	r.add("index %d/%d", s.Buffer, w)
}

func (r *recorder) SetSamplers(start int, s []gpucmd.Sampler) {
	r.add("samplers %d+%d", start, len(s))
}

func (r *recorder) SetTextures(start int, t []gpucmd.TextureID) {
	r.add("textures %d+%d", start, len(t))
}

func (r *recorder) SetUniforms(start int, u []gpucmd.UniformBinding) {
	r.add("uniforms %d+%d", start, len(u))
}

func (r *recorder) only(prefix string) []string {
	var out []string
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func baseSubmission() gpucmd.Submission {
	var s gpucmd.Submission
	s.Pipeline = 1
	s.Streams[0] = gpucmd.VertexStream{Buffer: 1, Stride: 16}
	s.Index = gpucmd.VertexStream{Buffer: 2, Stride: 2}
	s.Uniforms[0] = gpucmd.UniformBinding{Buffer: 3, Size: 64}
	for i := range s.Textures {
		s.Textures[i] = gpucmd.TextureID(i + 1)
	}
	s.Range = gpucmd.Range{Count: 6, Instances: 1}
	return s
}

func TestFirstApplyBindsEverything(t *testing.T) {
	st := NewState(nil)
	rec := &recorder{}
	sub := baseSubmission()
	st.Apply(rec, &sub)

	want := []string{
		"pipeline 1 111111",
		"stencil 0",
		"index 2/16",
		"scissor {0 0 0 0}",
		fmt.Sprintf("streams 0+%d", gpucmd.MaxVertexStreams),
		fmt.Sprintf("samplers 0+%d", gpucmd.MaxSamplerSlots),
		fmt.Sprintf("textures 0+%d", gpucmd.MaxTextureSlots),
		fmt.Sprintf("uniforms 0+%d", gpucmd.MaxUniformSlots),
	}
	if strings.Join(rec.calls, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls:\n%s\nwant:\n%s", strings.Join(rec.calls, "\n"), strings.Join(want, "\n"))
	}
}

func TestIdenticalSubmissionIsFree(t *testing.T) {
	st := NewState(nil)
	sub := baseSubmission()
	st.Apply(&recorder{}, &sub)

	rec := &recorder{}
	again := sub
	again.Range.First = 12
	st.Apply(rec, &again)
	if len(rec.calls) != 0 {
		t.Errorf("identical state produced calls: %v", rec.calls)
	}
}

func TestSingleTextureSlotChange(t *testing.T) {
	for _, k := range []int{0, 7, gpucmd.MaxTextureSlots - 1} {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			st := NewState(nil)
			a := baseSubmission()
			b := a
			b.Textures[k] = 99

			st.Apply(&recorder{}, &a)
			rec := &recorder{}
			st.Apply(rec, &b)

			want := fmt.Sprintf("textures %d+1", k)
			if len(rec.calls) != 1 || rec.calls[0] != want {
				t.Errorf("calls = %v, want [%s]", rec.calls, want)
			}
		})
	}
}

func TestChangedRangeSpansFirstToLast(t *testing.T) {
	st := NewState(nil)
	a := baseSubmission()
	b := a
	b.Uniforms[2] = gpucmd.UniformBinding{Buffer: 7, Size: 256}
	b.Uniforms[5] = gpucmd.UniformBinding{Buffer: 8, Size: 256}
	b.Streams[1] = gpucmd.VertexStream{Buffer: 9, Stride: 8}

	st.Apply(&recorder{}, &a)
	rec := &recorder{}
	st.Apply(rec, &b)

	if got := rec.only("uniforms"); len(got) != 1 || got[0] != "uniforms 2+4" {
		t.Errorf("uniform calls = %v", got)
	}
	if got := rec.only("streams"); len(got) != 1 || got[0] != "streams 1+1" {
		t.Errorf("stream calls = %v", got)
	}
	if st.Stats().Slots != 8+16+16+8+4+1 {
		t.Errorf("Slots = %d", st.Stats().Slots)
	}
}

func TestStencilCheckedIndependentlyOfPipeline(t *testing.T) {
	parts := func(id gpucmd.PipelineID) Parts {
		switch id {
		case 1:
			return Parts{10, 20, 30, 40, 50, 60}
		case 2:
			return Parts{10, 21, 30, 40, 50, 60}
		case 3:
			return Parts{10, 20, 30, 40, 50, 60}
		}
		return Parts{}
	}
	st := NewState(parts)
	a := baseSubmission()
	st.Apply(&recorder{}, &a)

	b := a
	b.Pipeline = 2
	b.StencilRef = 4
	rec := &recorder{}
	st.Apply(rec, &b)
	if len(rec.calls) != 2 || rec.calls[0] != "pipeline 2 000010" || rec.calls[1] != "stencil 4" {
		t.Errorf("calls = %v", rec.calls)
	}

	c := b
	c.StencilRef = 5
	rec = &recorder{}
	st.Apply(rec, &c)
	if len(rec.calls) != 1 || rec.calls[0] != "stencil 5" {
		t.Errorf("stencil-only change: calls = %v", rec.calls)
	}

	d := c
	d.Pipeline = 2
	rec = &recorder{}
	st.Apply(rec, &d)
	if len(rec.calls) != 0 {
		t.Errorf("same pipeline: calls = %v", rec.calls)
	}

	e := a
	e.StencilRef = 5
	e.Pipeline = 3
	rec = &recorder{}
	st.Apply(rec, &e)
	if len(rec.calls) != 1 || rec.calls[0] != "pipeline 3 000010" {
		t.Errorf("pipeline 2 -> 3: calls = %v", rec.calls)
	}
}

func TestEquivalentPipelinesSkipRebind(t *testing.T) {
	st := NewState(func(gpucmd.PipelineID) Parts { return Parts{1, 1, 1, 1, 1, 1} })
	a := baseSubmission()
	st.Apply(&recorder{}, &a)
	b := a
	b.Pipeline = 5
	rec := &recorder{}
	st.Apply(rec, &b)
	if len(rec.calls) != 0 {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestStateSurvivesBatches(t *testing.T) {
	st := NewState(nil)
	batch1 := []gpucmd.Submission{baseSubmission(), baseSubmission()}
	batch1[1].Scissor = gpucmd.Rect{Width: 10, Height: 10}
	for i := range batch1 {
		st.Apply(&recorder{}, &batch1[i])
	}

	next := batch1[1]
	rec := &recorder{}
	st.Apply(rec, &next)
	if len(rec.calls) != 0 {
		t.Errorf("first submission of the next batch rebound %v", rec.calls)
	}

	st.Invalidate()
	rec = &recorder{}
	st.Apply(rec, &next)
	if len(rec.calls) != 8 {
		t.Errorf("after Invalidate got %d calls, want 8", len(rec.calls))
	}
	if last, ok := st.Last(); !ok || last.Scissor.Width != 10 {
		t.Errorf("Last() = %+v, %v", last.Scissor, ok)
	}
}

func TestIndexWidthFromStride(t *testing.T) {
	tests := []struct {
		stride uint32
		want   IndexWidth
	}{
		{0, IndexNone},
		{1, Index8},
		{2, Index16},
		{3, IndexNone},
		{4, Index32},
		{8, IndexNone},
	}
	for _, tt := range tests {
		if got := IndexWidthFromStride(tt.stride); got != tt.want {
			t.Errorf("IndexWidthFromStride(%d) = %d, want %d", tt.stride, got, tt.want)
		}
	}
}

func TestStatsCalls(t *testing.T) {
	st := NewState(nil)
	sub := baseSubmission()
	st.Apply(&recorder{}, &sub)
	if got := st.Stats().Calls(); got != 8 {
		t.Errorf("Calls() = %d, want 8", got)
	}
	if st.Stats().Draws != 1 {
		t.Errorf("Draws = %d", st.Stats().Draws)
	}
	st.ResetStats()
	if st.Stats() != (Stats{}) {
		t.Error("ResetStats left counts")
	}
}

func TestPartsOf(t *testing.T) {
	var a gpucmd.PipelineDesc
	a.AttributeCount = 1
	a.Attributes[0] = gpucmd.VertexAttribute{Format: gpucmd.VertexFloat32}
	b := a
	b.Blend.Enabled = true
	b.Attributes[5].Offset = 64 // past AttributeCount

	pa, pb := PartsOf(1, &a), PartsOf(2, &b)
	if got, want := pa.Diff(pb), PartShader|PartBlend; got != want {
		t.Errorf("Diff = %06b, want %06b", got, want)
	}
	if PartsOf(1, &a) != pa {
		t.Error("PartsOf is not deterministic")
	}
}
