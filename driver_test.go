package gpucmd

import (
	"slices"
	"strings"
	"testing"
)

// stubDriver records the names of the calls it receives.
type stubDriver struct {
	name string
	ops  []string
	caps *Capabilities
}

func (d *stubDriver) called(op string) { d.ops = append(d.ops, op) }

func (d *stubDriver) Name() string { return d.name }
func (d *stubDriver) Initialize(*InitConfig) error {
	d.called("Initialize")
	d.caps = &Capabilities{Driver: d.name}
	return nil
}
func (d *stubDriver) Reset()                      { d.called("Reset") }
func (d *stubDriver) Capabilities() *Capabilities { return d.caps }

func (d *stubDriver) CreateBuffer(BufferID, *BufferDesc, []byte)               { d.called("CreateBuffer") }
func (d *stubDriver) UpdateBuffer(BufferID, uint32, []byte, UpdateMode)        { d.called("UpdateBuffer") }
func (d *stubDriver) ResizeBuffer(BufferID, uint32)                            { d.called("ResizeBuffer") }
func (d *stubDriver) CopyBuffer(BufferID, uint32, BufferID, uint32, uint32)    { d.called("CopyBuffer") }
func (d *stubDriver) ReadBuffer(_ BufferID, _, size uint32, fn func([]byte))   { fn(make([]byte, size)) }
func (d *stubDriver) MapBuffer(_ BufferID, _, size uint32, fn func([]byte))    { fn(make([]byte, size)) }
func (d *stubDriver) UnmapBuffer(BufferID)                                     { d.called("UnmapBuffer") }
func (d *stubDriver) DeleteBuffer(BufferID)                                    { d.called("DeleteBuffer") }
func (d *stubDriver) CreateTexture(TextureID, *TextureDesc, []byte)            { d.called("CreateTexture") }
func (d *stubDriver) UpdateTexture(TextureID, uint32, Rect, []byte)            { d.called("UpdateTexture") }
func (d *stubDriver) CopyTexture(*TextureCopy)                                 { d.called("CopyTexture") }
func (d *stubDriver) ReadTexture(_ TextureID, _ uint32, fn func([]byte, int))  { fn(nil, 0) }
func (d *stubDriver) DeleteTexture(TextureID)                                  { d.called("DeleteTexture") }
func (d *stubDriver) CreatePass(PassID, *PassDesc)                             { d.called("CreatePass") }
func (d *stubDriver) DeletePass(PassID)                                        { d.called("DeletePass") }
func (d *stubDriver) CreatePipeline(PipelineID, *PipelineDesc, []byte, []byte) { d.called("CreatePipeline") }
func (d *stubDriver) DeletePipeline(PipelineID)                                { d.called("DeletePipeline") }
func (d *stubDriver) Prepare(PassID, *ClearValues, *Viewport)                  { d.called("Prepare") }
func (d *stubDriver) Submit(PassID, []Submission)                              { d.called("Submit") }
func (d *stubDriver) Commit(PassID)                                            { d.called("Commit") }

func TestRegisterAndNewDriver(t *testing.T) {
	const name = "stub-registry"
	Register(name, func() Driver { return &stubDriver{name: name} })
	defer Unregister(name)

	drv, err := NewDriver(name)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if drv.Name() != name {
		t.Errorf("Name() = %q, want %q", drv.Name(), name)
	}
	if !slices.Contains(Drivers(), name) {
		t.Errorf("Drivers() = %v, missing %q", Drivers(), name)
	}
	if !slices.IsSorted(Drivers()) {
		t.Errorf("Drivers() not sorted: %v", Drivers())
	}
}

func TestNewDriverUnknown(t *testing.T) {
	_, err := NewDriver("no-such-driver")
	if err == nil {
		t.Fatal("NewDriver succeeded for an unknown name")
	}
	if !strings.Contains(err.Error(), "forgotten import") {
		t.Errorf("error %q does not hint at the missing import", err)
	}
}

func TestRegisterPanics(t *testing.T) {
	mustPanic := func(t *testing.T, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Error("expected a panic")
			}
		}()
		fn()
	}

	t.Run("nil factory", func(t *testing.T) {
		mustPanic(t, func() { Register("stub-nil", nil) })
	})
	t.Run("duplicate", func(t *testing.T) {
		const name = "stub-duplicate"
		factory := func() Driver { return &stubDriver{name: name} }
		Register(name, factory)
		defer Unregister(name)
		mustPanic(t, func() { Register(name, factory) })
	})
}
