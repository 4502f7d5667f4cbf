package gpucmd

import (
	"fmt"

	"github.com/gogpu/gpucmd/internal/wire"
)

// tag identifies a command in a frame buffer.
type tag uint8

const (
	tagInitialize tag = iota + 1
	tagReset
	tagCreateBuffer
	tagUpdateBuffer
	tagResizeBuffer
	tagCopyBuffer
	tagReadBuffer
	tagMapBuffer
	tagUnmapBuffer
	tagDeleteBuffer
	tagCreateTexture
	tagUpdateTexture
	tagCopyTexture
	tagReadTexture
	tagDeleteTexture
	tagCreatePass
	tagDeletePass
	tagCreatePipeline
	tagDeletePipeline
	tagPrepare
	tagSubmit
	tagCommit

	tagCount
)

var tagNames = [tagCount]string{
	tagInitialize:     "Initialize",
	tagReset:          "Reset",
	tagCreateBuffer:   "CreateBuffer",
	tagUpdateBuffer:   "UpdateBuffer",
	tagResizeBuffer:   "ResizeBuffer",
	tagCopyBuffer:     "CopyBuffer",
	tagReadBuffer:     "ReadBuffer",
	tagMapBuffer:      "MapBuffer",
	tagUnmapBuffer:    "UnmapBuffer",
	tagDeleteBuffer:   "DeleteBuffer",
	tagCreateTexture:  "CreateTexture",
	tagUpdateTexture:  "UpdateTexture",
	tagCopyTexture:    "CopyTexture",
	tagReadTexture:    "ReadTexture",
	tagDeleteTexture:  "DeleteTexture",
	tagCreatePass:     "CreatePass",
	tagDeletePass:     "DeletePass",
	tagCreatePipeline: "CreatePipeline",
	tagDeletePipeline: "DeletePipeline",
	tagPrepare:        "Prepare",
	tagSubmit:         "Submit",
	tagCommit:         "Commit",
}

func (t tag) String() string {
	if t == 0 || t >= tagCount {
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
	return tagNames[t]
}

// Alignment of POD payloads in the stream. Descriptors are word aligned
// so the reader can copy them without straddling.
const (
	alignDesc       = 4
	alignSubmission = 8
)

// frame is one of the two command buffers. Callbacks cannot be encoded
// as bytes, so the stream stores their index into callbacks.
type frame struct {
	w         *wire.Writer
	callbacks []any
	commands  int
}

func newFrame(pageSize int) *frame {
	return &frame{w: wire.NewWriter(pageSize)}
}

func (f *frame) reset() {
	f.w.Reset()
	clear(f.callbacks)
	f.callbacks = f.callbacks[:0]
	f.commands = 0
}

func (f *frame) addCallback(fn any) uint64 {
	f.callbacks = append(f.callbacks, fn)
	return uint64(len(f.callbacks) - 1)
}

func (f *frame) callback(i uint64) any {
	if i >= uint64(len(f.callbacks)) {
		return nil
	}
	return f.callbacks[i]
}

func encodeInit(w *wire.Writer, cfg *InitConfig) {
	w.WriteInt(uint64(cfg.Window))
	w.WriteInt(uint64(cfg.Display))
	w.WriteSint(int64(cfg.Width))
	w.WriteSint(int64(cfg.Height))
	w.WriteSint(int64(cfg.Samples))
	w.WriteBool(cfg.VSync)
	w.WriteInt(uint64(cfg.DisplayPass))
	wire.Write(w, cfg.Capacities, 8)
}

// decoder adds typed accessors to a wire.Reader. Every value narrowed
// here was written from the same type by the recording side.
type decoder struct {
	*wire.Reader
}

func (d decoder) u32() uint32          { return uint32(d.ReadInt()) }
func (d decoder) int() int             { return int(d.ReadSint()) }
func (d decoder) buffer() BufferID     { return BufferID(d.ReadInt()) }
func (d decoder) texture() TextureID   { return TextureID(d.ReadInt()) }
func (d decoder) pass() PassID         { return PassID(d.ReadInt()) }
func (d decoder) pipeline() PipelineID { return PipelineID(d.ReadInt()) }
func (d decoder) ok() bool             { return d.Err() == nil }

func decodeInit(d decoder) InitConfig {
	return InitConfig{
		Window:      uintptr(d.ReadInt()),
		Display:     uintptr(d.ReadInt()),
		Width:       d.int(),
		Height:      d.int(),
		Samples:     d.int(),
		VSync:       d.ReadBool(),
		DisplayPass: d.pass(),
		Capacities:  wire.Read[Capacities](d.Reader, 8),
	}
}

// dispatch decodes every command of f in order and hands it to the
// driver. Decoding stops at the first malformed command.
func (s *Service) dispatch(f *frame) error {
	r := decoder{wire.NewReader(f.w.Bytes())}
	for r.Remaining() > 0 {
		t := tag(r.ReadInt()) //nolint:gosec // tags fit in a byte
		if err := s.command(f, r, t); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("gpucmd: decode %s: %w", t, err)
		}
		s.executed.Add(1)
	}
	return nil
}

// command decodes the arguments of t and runs it on the driver. Every
// argument is read before the driver is called, so a driver panic is
// recovered here and decoding resumes with the next command.
func (s *Service) command(f *frame, r decoder, t tag) error {
	defer func() {
		if p := recover(); p != nil {
			s.panics.Add(1)
			s.logger().Error("gpucmd: driver panic",
				"driver", s.driver.Name(), "command", t.String(), "panic", p)
			if t == tagInitialize {
				s.initErr = fmt.Errorf("%w: %v", ErrDriverPanic, p)
				s.caps = nil
			}
		}
	}()
	d := s.driver
	switch t {
	case tagInitialize:
		cfg := decodeInit(r)
		if r.ok() {
			s.initErr = d.Initialize(&cfg)
			s.caps = d.Capabilities().Clone()
		}
	case tagReset:
		d.Reset()
	case tagCreateBuffer:
		id := r.buffer()
		desc := wire.Read[BufferDesc](r.Reader, alignDesc)
		data := r.ReadBlock()
		if r.ok() {
			d.CreateBuffer(id, &desc, data)
		}
	case tagUpdateBuffer:
		id, off := r.buffer(), r.u32()
		mode := UpdateMode(r.ReadInt()) //nolint:gosec // see decoder
		data := r.ReadBlock()
		if r.ok() {
			d.UpdateBuffer(id, off, data, mode)
		}
	case tagResizeBuffer:
		id, size := r.buffer(), r.u32()
		if r.ok() {
			d.ResizeBuffer(id, size)
		}
	case tagCopyBuffer:
		dst, dstOff := r.buffer(), r.u32()
		src, srcOff := r.buffer(), r.u32()
		size := r.u32()
		if r.ok() {
			d.CopyBuffer(dst, dstOff, src, srcOff, size)
		}
	case tagReadBuffer, tagMapBuffer:
		id, off, size := r.buffer(), r.u32(), r.u32()
		fn, _ := f.callback(r.ReadInt()).(func([]byte))
		if r.ok() && fn != nil {
			if t == tagReadBuffer {
				d.ReadBuffer(id, off, size, fn)
			} else {
				d.MapBuffer(id, off, size, fn)
			}
		}
	case tagUnmapBuffer:
		if id := r.buffer(); r.ok() {
			d.UnmapBuffer(id)
		}
	case tagDeleteBuffer:
		if id := r.buffer(); r.ok() {
			d.DeleteBuffer(id)
		}
	case tagCreateTexture:
		id := r.texture()
		desc := wire.Read[TextureDesc](r.Reader, alignDesc)
		data := r.ReadBlock()
		if r.ok() {
			d.CreateTexture(id, &desc, data)
		}
	case tagUpdateTexture:
		id, level := r.texture(), r.u32()
		region := wire.Read[Rect](r.Reader, alignDesc)
		data := r.ReadBlock()
		if r.ok() {
			d.UpdateTexture(id, level, region, data)
		}
	case tagCopyTexture:
		c := wire.Read[TextureCopy](r.Reader, alignDesc)
		if r.ok() {
			d.CopyTexture(&c)
		}
	case tagReadTexture:
		id, level := r.texture(), r.u32()
		fn, _ := f.callback(r.ReadInt()).(func([]byte, int))
		if r.ok() && fn != nil {
			d.ReadTexture(id, level, fn)
		}
	case tagDeleteTexture:
		if id := r.texture(); r.ok() {
			d.DeleteTexture(id)
		}
	case tagCreatePass:
		id := r.pass()
		desc := wire.Read[PassDesc](r.Reader, alignDesc)
		if r.ok() {
			d.CreatePass(id, &desc)
		}
	case tagDeletePass:
		if id := r.pass(); r.ok() {
			d.DeletePass(id)
		}
	case tagCreatePipeline:
		id := r.pipeline()
		desc := wire.Read[PipelineDesc](r.Reader, alignDesc)
		vs, fs := r.ReadBlock(), r.ReadBlock()
		if r.ok() {
			d.CreatePipeline(id, &desc, vs, fs)
		}
	case tagDeletePipeline:
		if id := r.pipeline(); r.ok() {
			d.DeletePipeline(id)
		}
	case tagPrepare:
		pass := r.pass()
		cv := wire.Read[ClearValues](r.Reader, alignDesc)
		vp := wire.Read[Viewport](r.Reader, alignDesc)
		if r.ok() {
			d.Prepare(pass, &cv, &vp)
		}
	case tagSubmit:
		pass := r.pass()
		subs := wire.ReadSlice[Submission](r.Reader, alignSubmission)
		if r.ok() {
			d.Submit(pass, subs)
		}
	case tagCommit:
		if pass := r.pass(); r.ok() {
			d.Commit(pass)
		}
	default:
		return fmt.Errorf("gpucmd: unknown command %s at offset %d", t, r.Offset())
	}
	return nil
}
