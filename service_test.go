package gpucmd_test

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/backend/trace"
)

// newService starts a Service over a trace driver and initializes it with
// a 64x64 display.
func newService(t *testing.T, drv *trace.Driver, opts ...gpucmd.Option) *gpucmd.Service {
	t.Helper()
	svc, err := gpucmd.NewService(drv, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.Initialize(gpucmd.InitConfig{Width: 64, Height: 64}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	drv.ClearEvents()
	return svc
}

// drain waits until every command recorded so far has executed.
func drain(svc *gpucmd.Service) {
	svc.Flush()
	svc.Flush()
}

func rgbaTexture(w, h uint16) gpucmd.TextureDesc {
	return gpucmd.TextureDesc{Width: w, Height: h, Format: gpucmd.FormatRGBA8}
}

func TestNewServiceNilDriver(t *testing.T) {
	if _, err := gpucmd.NewService(nil); err == nil {
		t.Fatal("NewService(nil) succeeded")
	}
}

func TestNewServiceInvalidConfig(t *testing.T) {
	_, err := gpucmd.NewService(trace.New(), gpucmd.WithCapacities(gpucmd.Capacities{}))
	if !errors.Is(err, gpucmd.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestTextureVisibleAfterSecondFlush(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	for i := 1; i <= 4; i++ {
		if id := svc.CreateTexture(rgbaTexture(16, 16), nil); id != gpucmd.TextureID(i) {
			t.Fatalf("texture %d got id %d", i, id)
		}
	}
	id := svc.CreateTexture(rgbaTexture(256, 256), nil)
	if id != 5 {
		t.Fatalf("fifth texture id = %d, want 5", id)
	}

	svc.Flush()
	svc.Flush()

	desc, ok := drv.Texture(5)
	if !ok {
		t.Fatal("texture 5 not created after two flushes")
	}
	if desc.Width != 256 || desc.Height != 256 {
		t.Errorf("texture 5 is %dx%d, want 256x256", desc.Width, desc.Height)
	}
}

func TestCommandsExecuteInRecordingOrder(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	buf := svc.CreateBuffer(gpucmd.BufferDesc{Usage: gpucmd.UsageVertex, Size: 64}, nil)
	svc.UpdateBuffer(buf, 0, []byte{1, 2, 3, 4}, gpucmd.UpdateNoOverwrite)
	tex := svc.CreateTexture(rgbaTexture(8, 8), nil)
	svc.Flush()
	svc.DeleteTexture(tex)
	svc.ResizeBuffer(buf, 128)
	svc.DeleteBuffer(buf)
	drain(svc)

	want := []string{"CreateBuffer", "UpdateBuffer", "CreateTexture", "DeleteTexture", "ResizeBuffer", "DeleteBuffer"}
	if got := drv.Ops(); !slices.Equal(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestFlushWithoutCommands(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)
	before := svc.Stats()

	for range 5 {
		svc.Flush()
	}
	drain(svc)

	if ev := drv.Events(); len(ev) != 0 {
		t.Errorf("empty flushes reached the driver: %v", ev)
	}
	after := svc.Stats()
	if after.Executed != before.Executed {
		t.Errorf("executed %d commands, want 0", after.Executed-before.Executed)
	}
	if after.Flushes != before.Flushes+7 {
		t.Errorf("flushes = %d, want %d", after.Flushes, before.Flushes+7)
	}
}

func TestInitializeFromWindowProvider(t *testing.T) {
	drv := trace.New()
	svc, err := gpucmd.NewService(drv)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if svc.Capabilities() != nil {
		t.Error("capabilities known before Initialize")
	}
	err = svc.Initialize(gpucmd.InitConfig{
		Provider: gpucontext.NullWindowProvider{W: 400, H: 300, SF: 2},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ev := drv.Events()
	if len(ev) != 1 || ev[0].Op != "Initialize" {
		t.Fatalf("events = %v, want a single Initialize", ev)
	}
	if !strings.HasPrefix(ev[0].Detail, "800x600") {
		t.Errorf("Initialize detail = %q, want scaled 800x600", ev[0].Detail)
	}
	if uint32(svc.DisplayPass()) != ev[0].ID || svc.DisplayPass() == 0 {
		t.Errorf("display pass = %d, driver got %d", svc.DisplayPass(), ev[0].ID)
	}

	caps := svc.Capabilities()
	if caps == nil || caps.Driver != "trace" {
		t.Fatalf("capabilities = %+v", caps)
	}
	if got := caps.SampleCount(8); got != 4 {
		t.Errorf("SampleCount(8) = %d, want 4", got)
	}
	caps.Adapters[0].Name = "changed"
	if svc.Capabilities().Adapters[0].Name == "changed" {
		t.Error("Capabilities returned shared state")
	}
}

func TestInitializeFallsBackToConfigSize(t *testing.T) {
	drv := trace.New()
	cfg := gpucmd.DefaultConfig()
	cfg.Width, cfg.Height, cfg.Samples = 320, 200, 4
	svc, err := gpucmd.NewService(drv, gpucmd.WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if err := svc.Initialize(gpucmd.InitConfig{}); err != nil {
		t.Fatal(err)
	}
	if got := drv.Events()[0].Detail; got != "320x200 samples=4" {
		t.Errorf("Initialize detail = %q", got)
	}
}

func TestInitializeError(t *testing.T) {
	errNoGPU := errors.New("no gpu")
	svc, err := gpucmd.NewService(trace.New(trace.WithInitError(errNoGPU)))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	err = svc.Initialize(gpucmd.InitConfig{Width: 32, Height: 32})
	if !errors.Is(err, errNoGPU) {
		t.Fatalf("Initialize error = %v, want wrapped %v", err, errNoGPU)
	}
	if svc.Capabilities() != nil {
		t.Error("capabilities reported after a failed Initialize")
	}
}

func TestBufferCallbacks(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	buf := svc.CreateBuffer(gpucmd.BufferDesc{Access: gpucmd.AccessDual, Usage: gpucmd.UsageStorage, Size: 16},
		[]byte{1, 2, 3, 4})
	svc.MapBuffer(buf, 4, 4, func(b []byte) { copy(b, []byte{5, 6, 7, 8}) })
	svc.UnmapBuffer(buf)

	var got []byte
	svc.ReadBuffer(buf, 0, 8, func(b []byte) { got = append([]byte(nil), b...) })
	drain(svc)

	if want := []byte{1, 2, 3, 4, 5, 6, 7, 8}; !bytes.Equal(got, want) {
		t.Errorf("read back %v, want %v", got, want)
	}
}

func TestUniformBufferRounding(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	buf := svc.CreateBuffer(gpucmd.BufferDesc{Usage: gpucmd.UsageUniform, Size: 100}, nil)
	drain(svc)

	data, ok := drv.Buffer(buf)
	if !ok {
		t.Fatal("buffer not created")
	}
	if len(data) != 256 {
		t.Errorf("uniform buffer allocated %d bytes, want 256", len(data))
	}
}

func TestTextureUpdateAndRead(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	tex := svc.CreateTexture(rgbaTexture(4, 4), nil)
	px := bytes.Repeat([]byte{0xff, 0, 0, 0xff}, 4)
	svc.UpdateTexture(tex, 0, gpucmd.Rect{X: 0, Y: 2, Width: 2, Height: 2}, px)

	var got []byte
	var pitch int
	svc.ReadTexture(tex, 0, func(b []byte, bytesPerRow int) {
		got, pitch = append([]byte(nil), b...), bytesPerRow
	})
	drain(svc)

	if pitch != 16 {
		t.Fatalf("pitch = %d, want 16", pitch)
	}
	if !bytes.Equal(got[2*pitch:2*pitch+8], px[:8]) || !bytes.Equal(got[3*pitch:3*pitch+8], px[8:]) {
		t.Errorf("region not written: %v", got)
	}
	if !bytes.Equal(got[:2*pitch], make([]byte, 2*pitch)) {
		t.Errorf("rows outside the region changed: %v", got[:2*pitch])
	}
}

func TestInvalidDescriptorsReturnZero(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	cases := map[string]func() uint32{
		"zero buffer": func() uint32 {
			return uint32(svc.CreateBuffer(gpucmd.BufferDesc{Usage: gpucmd.UsageVertex}, nil))
		},
		"oversized data": func() uint32 {
			return uint32(svc.CreateBuffer(gpucmd.BufferDesc{Size: 2}, []byte{1, 2, 3}))
		},
		"unknown format": func() uint32 {
			return uint32(svc.CreateTexture(gpucmd.TextureDesc{Width: 4, Height: 4}, nil))
		},
		"too many mips": func() uint32 {
			return uint32(svc.CreateTexture(gpucmd.TextureDesc{Width: 4, Height: 4, Format: gpucmd.FormatRGBA8, Levels: 4}, nil))
		},
		"msaa mips": func() uint32 {
			return uint32(svc.CreateTexture(gpucmd.TextureDesc{
				Width: 4, Height: 4, Format: gpucmd.FormatRGBA8, Levels: 2, Samples: 4, Layout: gpucmd.LayoutTarget,
			}, nil))
		},
		"empty pass": func() uint32 {
			return uint32(svc.CreatePass(gpucmd.PassDesc{}))
		},
		"pass on missing texture": func() uint32 {
			desc := gpucmd.PassDesc{ColorCount: 1}
			desc.Colors[0].Target = 42
			return uint32(svc.CreatePass(desc))
		},
		"pipeline without shader": func() uint32 {
			return uint32(svc.CreatePipeline(gpucmd.PipelineDesc{}, nil, nil))
		},
	}
	for name, create := range cases {
		t.Run(name, func(t *testing.T) {
			if id := create(); id != 0 {
				t.Errorf("got handle %d, want 0", id)
			}
		})
	}

	drain(svc)
	if ev := drv.Events(); len(ev) != 0 {
		t.Errorf("rejected calls reached the driver: %v", ev)
	}
	if got := svc.Stats().Dropped; got != uint64(len(cases)) {
		t.Errorf("dropped = %d, want %d", got, len(cases))
	}
}

func TestPoolExhaustion(t *testing.T) {
	caps := gpucmd.DefaultCapacities()
	caps.Buffers = 2
	drv := trace.New()
	svc := newService(t, drv, gpucmd.WithCapacities(caps))

	desc := gpucmd.BufferDesc{Usage: gpucmd.UsageIndex, Size: 4}
	a, b := svc.CreateBuffer(desc, nil), svc.CreateBuffer(desc, nil)
	if a != 1 || b != 2 {
		t.Fatalf("handles = %d, %d, want 1, 2", a, b)
	}
	if id := svc.CreateBuffer(desc, nil); id != 0 {
		t.Fatalf("third buffer = %d, want 0", id)
	}

	svc.DeleteBuffer(a)
	if id := svc.CreateBuffer(desc, nil); id != a {
		t.Errorf("reused handle = %d, want %d", id, a)
	}
	if st := svc.Stats(); st.Buffers != 2 || st.Dropped != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStaleHandlesAreDropped(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	buf := svc.CreateBuffer(gpucmd.BufferDesc{Size: 4}, nil)
	svc.DeleteBuffer(buf)
	svc.DeleteBuffer(buf)
	svc.UpdateBuffer(buf, 0, []byte{1}, gpucmd.UpdateDiscard)
	svc.Commit(99)
	drain(svc)

	if want := []string{"CreateBuffer", "DeleteBuffer"}; !slices.Equal(drv.Ops(), want) {
		t.Errorf("ops = %v, want %v", drv.Ops(), want)
	}
	if got := svc.Stats().Dropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestDisplayPassCannotBeDeleted(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	display := svc.DisplayPass()
	svc.DeletePass(display)
	svc.Prepare(display, gpucmd.ClearValues{Flags: gpucmd.ClearColor}, gpucmd.Viewport{Width: 64, Height: 64})
	svc.Commit(display)
	drain(svc)

	if want := []string{"Prepare", "Commit", "Present"}; !slices.Equal(drv.Ops(), want) {
		t.Errorf("ops = %v, want %v", drv.Ops(), want)
	}
}

func TestSubmitSkipsRedundantState(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	pipe := svc.CreatePipeline(gpucmd.PipelineDesc{}, []byte("vs"), []byte("fs"))
	vb := svc.CreateBuffer(gpucmd.BufferDesc{Usage: gpucmd.UsageVertex, Size: 96}, nil)
	sub := gpucmd.Submission{Pipeline: pipe, Range: gpucmd.Range{Count: 3, Instances: 1}}
	sub.Streams[0] = gpucmd.VertexStream{Buffer: vb, Stride: 12}

	display := svc.DisplayPass()
	svc.Prepare(display, gpucmd.ClearValues{}, gpucmd.Viewport{Width: 64, Height: 64})
	svc.Submit(display, []gpucmd.Submission{sub, sub, sub})
	svc.Commit(display)
	drain(svc)

	st := drv.Binds()
	if st.Draws != 3 {
		t.Errorf("draws = %d, want 3", st.Draws)
	}
	if st.Pipelines != 1 || st.VertexStreams != 1 {
		t.Errorf("binds = %+v, want one pipeline and one vertex stream bind", st)
	}
}

func TestMultisampleResolveAtCommit(t *testing.T) {
	drv := trace.New()
	svc := newService(t, drv)

	target := svc.CreateTexture(gpucmd.TextureDesc{
		Width: 4, Height: 4, Format: gpucmd.FormatRGBA8, Layout: gpucmd.LayoutTarget | gpucmd.LayoutSampled,
	}, nil)
	msaa := svc.CreateTexture(gpucmd.TextureDesc{
		Width: 4, Height: 4, Format: gpucmd.FormatRGBA8, Layout: gpucmd.LayoutTarget, Samples: 4,
	}, nil)
	desc := gpucmd.PassDesc{ColorCount: 1}
	desc.Colors[0] = gpucmd.Attachment{Target: target, Source: msaa}
	pass := svc.CreatePass(desc)
	if pass == 0 {
		t.Fatal("CreatePass failed")
	}

	svc.Prepare(pass, gpucmd.ClearValues{Color: [4]float32{0, 1, 0, 1}, Flags: gpucmd.ClearColor},
		gpucmd.Viewport{Width: 4, Height: 4, MaxDepth: 1})
	var before, after []byte
	svc.ReadTexture(target, 0, func(b []byte, _ int) { before = append([]byte(nil), b...) })
	svc.Commit(pass)
	svc.ReadTexture(target, 0, func(b []byte, _ int) { after = append([]byte(nil), b...) })
	drain(svc)

	if !bytes.Equal(before, make([]byte, 64)) {
		t.Error("target written before Commit")
	}
	if want := bytes.Repeat([]byte{0, 0xff, 0, 0xff}, 16); !bytes.Equal(after, want) {
		t.Errorf("resolved target = %v", after)
	}
	if !slices.Contains(drv.Ops(), "Resolve") {
		t.Errorf("no resolve in %v", drv.Ops())
	}
}

func TestDriverPanicIsRecovered(t *testing.T) {
	drv := trace.New(trace.WithHook(func(ev trace.Event) {
		if ev.Op == "CreateBuffer" {
			panic("device lost")
		}
	}))
	svc := newService(t, drv)

	svc.CreateBuffer(gpucmd.BufferDesc{Size: 4}, nil)
	same := svc.CreateTexture(rgbaTexture(4, 4), nil)
	svc.Flush()
	next := svc.CreateTexture(rgbaTexture(4, 4), nil)
	drain(svc)

	st := svc.Stats()
	if st.Panics != 1 {
		t.Errorf("panics = %d, want 1", st.Panics)
	}
	if st.Failures != 0 {
		t.Errorf("failures = %d, want 0", st.Failures)
	}
	if _, ok := drv.Texture(same); !ok {
		t.Error("command after the panic in the same frame did not execute")
	}
	if _, ok := drv.Texture(next); !ok {
		t.Error("frame after the panic did not execute")
	}
}

// nilCaps initializes successfully but never reports capabilities.
type nilCaps struct {
	*trace.Driver
}

func (nilCaps) Capabilities() *gpucmd.Capabilities { return nil }

func TestInitializeFailure(t *testing.T) {
	tests := []struct {
		name string
		drv  func(fail *atomic.Bool) gpucmd.Driver
		want error
	}{
		{
			name: "panic",
			drv: func(fail *atomic.Bool) gpucmd.Driver {
				return trace.New(trace.WithHook(func(ev trace.Event) {
					if ev.Op == "Initialize" && fail.Load() {
						panic("adapter vanished")
					}
				}))
			},
			want: gpucmd.ErrDriverPanic,
		},
		{
			name: "error",
			drv: func(*atomic.Bool) gpucmd.Driver {
				return trace.New(trace.WithInitError(gpucmd.ErrNoDevice))
			},
			want: gpucmd.ErrNoDevice,
		},
		{
			name: "no capabilities",
			drv: func(*atomic.Bool) gpucmd.Driver {
				return nilCaps{trace.New()}
			},
			want: gpucmd.ErrNotInitialized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fail atomic.Bool
			fail.Store(true)
			svc, err := gpucmd.NewService(tt.drv(&fail))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = svc.Close() })

			err = svc.Initialize(gpucmd.InitConfig{Width: 16, Height: 16})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Initialize = %v, want %v", err, tt.want)
			}
			if caps := svc.Capabilities(); caps != nil {
				t.Errorf("Capabilities = %+v after failed Initialize", caps)
			}
		})
	}
}

func TestInitializeRetryAfterPanic(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	drv := trace.New(trace.WithHook(func(ev trace.Event) {
		if ev.Op == "Initialize" && fail.Load() {
			panic("adapter vanished")
		}
	}))
	svc, err := gpucmd.NewService(drv)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	if err := svc.Initialize(gpucmd.InitConfig{Width: 16, Height: 16}); !errors.Is(err, gpucmd.ErrDriverPanic) {
		t.Fatalf("first Initialize = %v, want ErrDriverPanic", err)
	}
	if got := svc.Stats().Panics; got != 1 {
		t.Errorf("panics = %d, want 1", got)
	}

	fail.Store(false)
	if err := svc.Initialize(gpucmd.InitConfig{Width: 16, Height: 16}); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if svc.Capabilities() == nil {
		t.Error("no capabilities after a successful Initialize")
	}
}

func TestClose(t *testing.T) {
	drv := trace.New()
	svc, err := gpucmd.NewService(drv)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Initialize(gpucmd.InitConfig{Width: 16, Height: 16}); err != nil {
		t.Fatal(err)
	}
	tex := svc.CreateTexture(rgbaTexture(4, 4), nil)

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ops := drv.Ops()
	if !slices.Equal(ops[len(ops)-2:], []string{"CreateTexture", "Reset"}) {
		t.Errorf("pending commands not drained before reset: %v", ops)
	}
	if _, ok := drv.Texture(tex); ok {
		t.Error("texture survived Close")
	}

	if err := svc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if id := svc.CreateTexture(rgbaTexture(4, 4), nil); id != 0 {
		t.Errorf("CreateTexture after Close = %d", id)
	}
	svc.Flush()
	if err := svc.Initialize(gpucmd.InitConfig{}); !errors.Is(err, gpucmd.ErrClosed) {
		t.Errorf("Initialize after Close = %v, want ErrClosed", err)
	}
}

func BenchmarkRecordSubmit(b *testing.B) {
	drv := trace.New()
	svc, err := gpucmd.NewService(drv)
	if err != nil {
		b.Fatal(err)
	}
	defer svc.Close()
	if err := svc.Initialize(gpucmd.InitConfig{Width: 64, Height: 64}); err != nil {
		b.Fatal(err)
	}
	subs := make([]gpucmd.Submission, 64)
	display := svc.DisplayPass()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Prepare(display, gpucmd.ClearValues{}, gpucmd.Viewport{Width: 64, Height: 64})
		svc.Submit(display, subs)
		svc.Commit(display)
		svc.Flush()
	}
}
