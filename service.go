package gpucmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucmd/handle"
	"github.com/gogpu/gpucmd/internal/wire"
)

// Service records GPU commands on the calling goroutine and executes
// them on a dedicated goroutine against a Driver.
//
// Commands are appended to the front frame buffer and return
// immediately. Flush hands the front buffer to the execution goroutine
// and makes the other buffer the new front, waiting first for the
// previous hand-off to drain. Handles are allocated synchronously, so a
// handle returned by a Create method may be used in any later command
// even though the native object only exists once the command has run.
//
// A Service has a single producer: its methods must not be called
// concurrently. Driver methods run on the execution goroutine only.
type Service struct {
	driver Driver
	opts   options

	frames [2]*frame
	front  int

	// work carries a frame to the execution goroutine; idle holds a
	// token while the execution goroutine has nothing in flight.
	work   chan *frame
	idle   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	buffers   *handle.Allocator
	textures  *handle.Allocator
	pipelines *handle.Allocator
	passes    *handle.Allocator

	display PassID

	// Written on the execution goroutine while decoding Initialize and
	// read after the Flush that waited for it.
	initErr error
	caps    *Capabilities

	recorded uint64
	flushes  uint64
	dropped  uint64
	executed atomic.Uint64
	failures atomic.Uint64
	panics   atomic.Uint64
}

// Stats counts the commands that went through a Service.
type Stats struct {
	Recorded uint64 // commands appended
	Dropped  uint64 // calls rejected on the recording side
	Executed uint64 // commands dispatched to the driver
	Flushes  uint64
	Failures uint64 // frames whose decoding stopped early
	Panics   uint64 // driver panics recovered; the panicking command is skipped

	Buffers   int
	Textures  int
	Pipelines int
	Passes    int
}

// NewService starts the execution goroutine for drv.
func NewService(drv Driver, opts ...Option) (*Service, error) {
	if drv == nil {
		return nil, errors.New("gpucmd: nil driver")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	caps := o.config.Capacities
	s := &Service{
		driver:    drv,
		opts:      o,
		frames:    [2]*frame{newFrame(o.config.PageSize), newFrame(o.config.PageSize)},
		work:      make(chan *frame, 1),
		idle:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		buffers:   handle.NewAllocator(caps.Buffers),
		textures:  handle.NewAllocator(caps.Textures),
		pipelines: handle.NewAllocator(caps.Pipelines),
		passes:    handle.NewAllocator(caps.Passes),
	}
	s.idle <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return s, nil
}

func (s *Service) logger() *slog.Logger {
	if s.opts.logger != nil {
		return s.opts.logger
	}
	return Logger()
}

// run is the execution loop. A stop request is only observed between
// frames; a frame that has been picked up always runs to completion.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case f := <-s.work:
			s.execute(f)
			s.idle <- struct{}{}
		}
	}
}

func (s *Service) execute(f *frame) {
	if err := s.dispatch(f); err != nil {
		s.failures.Add(1)
		s.logger().Error("gpucmd: frame aborted", "err", err)
	}
}

// Flush hands the recorded commands to the execution goroutine. It
// blocks until the previously flushed frame has been fully executed.
func (s *Service) Flush() {
	if s.closed {
		return
	}
	<-s.idle
	f := s.frames[s.front]
	s.front ^= 1
	s.frames[s.front].reset()
	s.flushes++
	s.work <- f
}

// Initialize records the driver's Initialize command and flushes twice:
// the second Flush returns only after the first has executed, so the
// driver is ready and its capabilities are known when Initialize
// returns.
func (s *Service) Initialize(cfg InitConfig) error {
	if s.closed {
		return ErrClosed
	}
	if (cfg.Width <= 0 || cfg.Height <= 0) && cfg.Provider != nil {
		w, h := cfg.Provider.Size()
		scale := cfg.Provider.ScaleFactor()
		cfg.Width, cfg.Height = int(float64(w)*scale), int(float64(h)*scale)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = s.opts.config.Width, s.opts.config.Height
	}
	if cfg.Samples <= 0 {
		cfg.Samples = max(s.opts.config.Samples, 1)
	}
	cfg.Width = min(cfg.Width, MaxTextureSize)
	cfg.Height = min(cfg.Height, MaxTextureSize)
	cfg.Capacities = s.opts.config.Capacities

	if s.display == 0 {
		s.display = PassID(s.passes.Allocate())
		if s.display == 0 {
			return fmt.Errorf("gpucmd: no pass handle left for the display: %w", ErrInvalidConfig)
		}
	}
	cfg.DisplayPass = s.display

	// Only a tagInitialize command writes these, and the last one has
	// finished: Initialize always returns after it executed.
	s.initErr, s.caps = nil, nil
	encodeInit(s.record(tagInitialize), &cfg)
	s.Flush()
	s.Flush()

	if s.initErr != nil {
		return fmt.Errorf("gpucmd: initialize %s driver: %w", s.driver.Name(), s.initErr)
	}
	if s.caps == nil {
		return fmt.Errorf("gpucmd: initialize %s driver: %w", s.driver.Name(), ErrNotInitialized)
	}
	s.logger().Info("gpucmd: driver initialized",
		"driver", s.driver.Name(), "width", cfg.Width, "height", cfg.Height, "samples", cfg.Samples)
	return nil
}

// Close releases the driver's resources and stops the execution
// goroutine. Pending commands are executed first.
func (s *Service) Close() error {
	if s.closed {
		return nil
	}
	s.record(tagReset)
	s.Flush()
	<-s.idle
	s.closed = true
	s.cancel()
	<-s.done
	return nil
}

// Driver returns the driver the Service executes against.
func (s *Service) Driver() Driver { return s.driver }

// DisplayPass returns the pass that presents to the display. It is
// Invalid before Initialize.
func (s *Service) DisplayPass() PassID { return s.display }

// Capabilities returns a copy of what the driver reported during
// Initialize, or nil before that.
func (s *Service) Capabilities() *Capabilities { return s.caps.Clone() }

// Stats returns command counters. Executed, Failures and Panics are only
// exact after a Flush.
func (s *Service) Stats() Stats {
	return Stats{
		Recorded:  s.recorded,
		Dropped:   s.dropped,
		Executed:  s.executed.Load(),
		Flushes:   s.flushes,
		Failures:  s.failures.Load(),
		Panics:    s.panics.Load(),
		Buffers:   s.buffers.Size(),
		Textures:  s.textures.Size(),
		Pipelines: s.pipelines.Size(),
		Passes:    s.passes.Size(),
	}
}

// record appends a command tag to the front frame and returns the writer
// for its arguments, or nil after Close.
func (s *Service) record(t tag) *wire.Writer {
	if s.closed {
		return nil
	}
	f := s.frames[s.front]
	f.commands++
	s.recorded++
	f.w.WriteInt(uint64(t))
	return f.w
}

func (s *Service) drop(op string, args ...any) {
	s.dropped++
	s.logger().Debug("gpucmd: dropped "+op, args...)
}

func (s *Service) reject(op string, err error) {
	s.dropped++
	s.logger().Warn("gpucmd: "+op+" rejected", "err", err)
}

func (s *Service) callback(fn any) uint64 {
	return s.frames[s.front].addCallback(fn)
}

// CreateBuffer allocates a buffer handle and records its creation. data,
// if not nil, initializes the start of the buffer. It returns 0 when the
// descriptor is invalid or all buffer handles are in use.
func (s *Service) CreateBuffer(desc BufferDesc, data []byte) BufferID {
	if s.closed {
		return 0
	}
	if err := desc.Validate(); err != nil {
		s.reject("CreateBuffer", err)
		return 0
	}
	if len(data) > int(desc.Size) {
		s.reject("CreateBuffer", fmt.Errorf("%w: %d bytes of data for a %d byte buffer", ErrInvalidDescriptor, len(data), desc.Size))
		return 0
	}
	id := BufferID(s.buffers.Allocate())
	if id == 0 {
		s.logger().Warn("gpucmd: buffer pool exhausted", "capacity", s.buffers.Cap())
		s.dropped++
		return 0
	}
	w := s.record(tagCreateBuffer)
	w.WriteInt(uint64(id))
	wire.Write(w, desc, alignDesc)
	w.WriteBlock(data)
	return id
}

func (s *Service) liveBuffer(op string, id BufferID) bool {
	if s.closed || !s.buffers.Live(handle.Handle(id)) {
		s.drop(op, "buffer", id)
		return false
	}
	return true
}

// UpdateBuffer writes data at offset.
func (s *Service) UpdateBuffer(id BufferID, offset uint32, data []byte, mode UpdateMode) {
	if !s.liveBuffer("UpdateBuffer", id) || len(data) == 0 {
		return
	}
	w := s.record(tagUpdateBuffer)
	w.WriteInt(uint64(id))
	w.WriteInt(uint64(offset))
	w.WriteInt(uint64(mode))
	w.WriteBlock(data)
}

// ResizeBuffer reallocates a buffer, keeping the common prefix of its
// contents.
func (s *Service) ResizeBuffer(id BufferID, size uint32) {
	if !s.liveBuffer("ResizeBuffer", id) || size == 0 {
		return
	}
	w := s.record(tagResizeBuffer)
	w.WriteInt(uint64(id))
	w.WriteInt(uint64(size))
}

// CopyBuffer copies size bytes between buffers.
func (s *Service) CopyBuffer(dst BufferID, dstOffset uint32, src BufferID, srcOffset, size uint32) {
	if !s.liveBuffer("CopyBuffer", dst) || !s.liveBuffer("CopyBuffer", src) || size == 0 {
		return
	}
	w := s.record(tagCopyBuffer)
	w.WriteInt(uint64(dst))
	w.WriteInt(uint64(dstOffset))
	w.WriteInt(uint64(src))
	w.WriteInt(uint64(srcOffset))
	w.WriteInt(uint64(size))
}

// ReadBuffer reads a range back. fn runs on the execution goroutine
// during a later Flush; the slice it receives is only valid during the
// call.
func (s *Service) ReadBuffer(id BufferID, offset, size uint32, fn func([]byte)) {
	s.recordBufferCallback(tagReadBuffer, id, offset, size, fn)
}

// MapBuffer maps a range of a host-visible buffer for writing. fn runs
// on the execution goroutine; the mapping stays valid until UnmapBuffer
// executes.
func (s *Service) MapBuffer(id BufferID, offset, size uint32, fn func([]byte)) {
	s.recordBufferCallback(tagMapBuffer, id, offset, size, fn)
}

func (s *Service) recordBufferCallback(t tag, id BufferID, offset, size uint32, fn func([]byte)) {
	if !s.liveBuffer(t.String(), id) || fn == nil || size == 0 {
		return
	}
	w := s.record(t)
	w.WriteInt(uint64(id))
	w.WriteInt(uint64(offset))
	w.WriteInt(uint64(size))
	w.WriteInt(s.callback(fn))
}

// UnmapBuffer ends a mapping established by MapBuffer.
func (s *Service) UnmapBuffer(id BufferID) {
	if !s.liveBuffer("UnmapBuffer", id) {
		return
	}
	s.record(tagUnmapBuffer).WriteInt(uint64(id))
}

// DeleteBuffer frees the handle and records the destruction.
func (s *Service) DeleteBuffer(id BufferID) {
	if s.closed || !s.buffers.Free(handle.Handle(id)) {
		s.drop("DeleteBuffer", "buffer", id)
		return
	}
	s.record(tagDeleteBuffer).WriteInt(uint64(id))
}

// CreateTexture allocates a texture handle and records its creation.
// data, if not nil, holds the mip levels packed one after another, each
// sized by MipSize.
func (s *Service) CreateTexture(desc TextureDesc, data []byte) TextureID {
	if s.closed {
		return 0
	}
	if err := desc.Validate(); err != nil {
		s.reject("CreateTexture", err)
		return 0
	}
	if n := TextureSize(&desc); len(data) > n {
		s.reject("CreateTexture", fmt.Errorf("%w: %d bytes of data for %d bytes of mips", ErrInvalidDescriptor, len(data), n))
		return 0
	}
	id := TextureID(s.textures.Allocate())
	if id == 0 {
		s.logger().Warn("gpucmd: texture pool exhausted", "capacity", s.textures.Cap())
		s.dropped++
		return 0
	}
	w := s.record(tagCreateTexture)
	w.WriteInt(uint64(id))
	wire.Write(w, desc, alignDesc)
	w.WriteBlock(data)
	return id
}

func (s *Service) liveTexture(op string, id TextureID) bool {
	if s.closed || !s.textures.Live(handle.Handle(id)) {
		s.drop(op, "texture", id)
		return false
	}
	return true
}

// UpdateTexture replaces a region of one mip level with tightly packed
// texels.
func (s *Service) UpdateTexture(id TextureID, level uint32, region Rect, data []byte) {
	if !s.liveTexture("UpdateTexture", id) || len(data) == 0 || level >= MaxMips {
		return
	}
	w := s.record(tagUpdateTexture)
	w.WriteInt(uint64(id))
	w.WriteInt(uint64(level))
	wire.Write(w, region, alignDesc)
	w.WriteBlock(data)
}

// CopyTexture copies a region between textures of the same format.
func (s *Service) CopyTexture(c TextureCopy) {
	if !s.liveTexture("CopyTexture", c.Dst) || !s.liveTexture("CopyTexture", c.Src) {
		return
	}
	wire.Write(s.record(tagCopyTexture), c, alignDesc)
}

// ReadTexture reads one mip level back. fn runs on the execution
// goroutine during a later Flush.
func (s *Service) ReadTexture(id TextureID, level uint32, fn func(data []byte, bytesPerRow int)) {
	if !s.liveTexture("ReadTexture", id) || fn == nil {
		return
	}
	w := s.record(tagReadTexture)
	w.WriteInt(uint64(id))
	w.WriteInt(uint64(level))
	w.WriteInt(s.callback(fn))
}

// DeleteTexture frees the handle and records the destruction.
func (s *Service) DeleteTexture(id TextureID) {
	if s.closed || !s.textures.Free(handle.Handle(id)) {
		s.drop("DeleteTexture", "texture", id)
		return
	}
	s.record(tagDeleteTexture).WriteInt(uint64(id))
}

// CreatePass allocates a pass handle for a set of attachments.
func (s *Service) CreatePass(desc PassDesc) PassID {
	if s.closed {
		return 0
	}
	if err := desc.Validate(); err != nil {
		s.reject("CreatePass", err)
		return 0
	}
	for _, a := range desc.ColorAttachments() {
		if !s.textures.Live(handle.Handle(a.Target)) || (a.Source != 0 && !s.textures.Live(handle.Handle(a.Source))) {
			s.reject("CreatePass", fmt.Errorf("%w: attachment refers to a deleted texture", ErrInvalidDescriptor))
			return 0
		}
	}
	id := PassID(s.passes.Allocate())
	if id == 0 {
		s.logger().Warn("gpucmd: pass pool exhausted", "capacity", s.passes.Cap())
		s.dropped++
		return 0
	}
	w := s.record(tagCreatePass)
	w.WriteInt(uint64(id))
	wire.Write(w, desc, alignDesc)
	return id
}

// DeletePass frees a pass handle. The display pass cannot be deleted.
func (s *Service) DeletePass(id PassID) {
	if s.closed || id == s.display || !s.passes.Free(handle.Handle(id)) {
		s.drop("DeletePass", "pass", id)
		return
	}
	s.record(tagDeletePass).WriteInt(uint64(id))
}

// CreatePipeline allocates a pipeline handle for the given state and
// shader byte-code. Backends accept SPIR-V or WGSL source.
func (s *Service) CreatePipeline(desc PipelineDesc, vertex, fragment []byte) PipelineID {
	if s.closed {
		return 0
	}
	if err := desc.Validate(); err != nil {
		s.reject("CreatePipeline", err)
		return 0
	}
	if len(vertex) == 0 {
		s.reject("CreatePipeline", fmt.Errorf("%w: missing vertex shader", ErrInvalidDescriptor))
		return 0
	}
	id := PipelineID(s.pipelines.Allocate())
	if id == 0 {
		s.logger().Warn("gpucmd: pipeline pool exhausted", "capacity", s.pipelines.Cap())
		s.dropped++
		return 0
	}
	w := s.record(tagCreatePipeline)
	w.WriteInt(uint64(id))
	wire.Write(w, desc, alignDesc)
	w.WriteBlock(vertex)
	w.WriteBlock(fragment)
	return id
}

// DeletePipeline frees the handle and records the destruction.
func (s *Service) DeletePipeline(id PipelineID) {
	if s.closed || !s.pipelines.Free(handle.Handle(id)) {
		s.drop("DeletePipeline", "pipeline", id)
		return
	}
	s.record(tagDeletePipeline).WriteInt(uint64(id))
}

func (s *Service) livePass(op string, id PassID) bool {
	if s.closed || !s.passes.Live(handle.Handle(id)) {
		s.drop(op, "pass", id)
		return false
	}
	return true
}

// Prepare starts a pass: clears the selected attachments and sets the
// viewport.
func (s *Service) Prepare(pass PassID, clear ClearValues, vp Viewport) {
	if !s.livePass("Prepare", pass) {
		return
	}
	w := s.record(tagPrepare)
	w.WriteInt(uint64(pass))
	wire.Write(w, clear, alignDesc)
	wire.Write(w, vp, alignDesc)
}

// Submit records a batch of draws into pass. The submissions are copied.
func (s *Service) Submit(pass PassID, subs []Submission) {
	if !s.livePass("Submit", pass) || len(subs) == 0 {
		return
	}
	w := s.record(tagSubmit)
	w.WriteInt(uint64(pass))
	wire.WriteSlice(w, subs, alignSubmission)
}

// Commit finishes pass: resolves multisampled attachments and presents
// if pass is the display pass.
func (s *Service) Commit(pass PassID) {
	if !s.livePass("Commit", pass) {
		return
	}
	s.record(tagCommit).WriteInt(uint64(pass))
}
