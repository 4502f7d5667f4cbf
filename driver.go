package gpucmd

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gpucontext"
)

// Driver turns decoded commands into native graphics API calls.
//
// Every method is called from the Service's execution goroutine only, so
// implementations need no locking for their own state. Apart from
// Initialize, operations report failures through the log: they were
// queued long before they run and nobody is waiting for a result.
//
// Handles come from the Service's allocators. A driver must tolerate an
// update or delete for a handle whose create failed.
type Driver interface {
	// Name returns the registered driver name.
	Name() string

	// Initialize creates the device and the display pass and fills in
	// the capabilities.
	Initialize(cfg *InitConfig) error

	// Reset releases every resource and the device. The driver must be
	// initialized again before further use.
	Reset()

	// Capabilities returns the data gathered by Initialize.
	Capabilities() *Capabilities

	CreateBuffer(id BufferID, desc *BufferDesc, data []byte)
	UpdateBuffer(id BufferID, offset uint32, data []byte, mode UpdateMode)
	ResizeBuffer(id BufferID, size uint32)
	CopyBuffer(dst BufferID, dstOffset uint32, src BufferID, srcOffset, size uint32)
	// ReadBuffer copies a range back to the host and passes it to fn. The
	// slice is only valid during the call.
	ReadBuffer(id BufferID, offset, size uint32, fn func([]byte))
	// MapBuffer maps a range of a host-visible buffer and passes the
	// writable mapping to fn. The mapping stays valid until UnmapBuffer.
	MapBuffer(id BufferID, offset, size uint32, fn func([]byte))
	UnmapBuffer(id BufferID)
	DeleteBuffer(id BufferID)

	// CreateTexture creates a texture. data, if not empty, holds the mip
	// levels packed as described by SplitMips.
	CreateTexture(id TextureID, desc *TextureDesc, data []byte)
	UpdateTexture(id TextureID, level uint32, region Rect, data []byte)
	CopyTexture(c *TextureCopy)
	// ReadTexture passes the texels of one level, tightly packed with
	// the given row pitch, to fn. The slice is only valid during the call.
	ReadTexture(id TextureID, level uint32, fn func(data []byte, bytesPerRow int))
	DeleteTexture(id TextureID)

	CreatePass(id PassID, desc *PassDesc)
	DeletePass(id PassID)

	CreatePipeline(id PipelineID, desc *PipelineDesc, vertex, fragment []byte)
	DeletePipeline(id PipelineID)

	// Prepare starts rendering into a pass: it clears the attachments
	// selected by clear and sets the viewport.
	Prepare(pass PassID, clear *ClearValues, vp *Viewport)

	// Submit draws subs in order into the pass, rebinding only state
	// that differs from the previous submission.
	Submit(pass PassID, subs []Submission)

	// Commit finishes the pass: multisampled attachments are resolved and
	// the display pass is presented.
	Commit(pass PassID)
}

// DriverFactory creates a driver instance.
type DriverFactory func() Driver

var (
	registryMu sync.Mutex
	drivers    = gpucontext.NewRegistry[Driver](gpucontext.WithPriority("native", "trace"))
)

// Register makes a driver available by name. It is meant to be called
// from init in the driver package:
//
//	func init() {
//	    gpucmd.Register("native", func() gpucmd.Driver { return New() })
//	}
//
// Register panics if factory is nil or name is already registered.
func Register(name string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("gpucmd: Register factory is nil")
	}
	if drivers.Has(name) {
		panic("gpucmd: Register called twice for " + name)
	}
	drivers.Register(name, factory)
}

// Unregister removes a driver. Mostly useful in tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers.Unregister(name)
}

// NewDriver creates a driver by name. An empty name selects the
// registered driver with the highest priority.
func NewDriver(name string) (Driver, error) {
	if name == "" {
		name = drivers.BestName()
		if name == "" {
			return nil, fmt.Errorf("gpucmd: no drivers registered (forgotten import?)")
		}
	}
	if !drivers.Has(name) {
		return nil, fmt.Errorf("gpucmd: unknown driver %q (forgotten import?)", name)
	}
	return drivers.Get(name), nil
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	names := drivers.Available()
	sort.Strings(names)
	return names
}
