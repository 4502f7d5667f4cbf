// Package gpucmd records GPU work on the calling goroutine and executes
// it against a Driver on a dedicated goroutine.
//
// # Overview
//
// Calls on a Service allocate handles immediately and append a compact
// binary command to the front frame. Flush swaps the frames: the back
// frame is decoded and dispatched to the driver while recording into the
// front frame continues. A frame is therefore executed while the next
// one is recorded.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpucmd"
//	    _ "github.com/gogpu/gpucmd/backend/native"
//	)
//
//	drv, err := gpucmd.NewDriver("")
//	svc, err := gpucmd.NewService(drv)
//	defer svc.Close()
//
//	if err := svc.Initialize(gpucmd.InitConfig{Window: hwnd, Width: 1280, Height: 720}); err != nil {
//	    return err
//	}
//	vb := svc.CreateBuffer(gpucmd.BufferDesc{Usage: gpucmd.UsageVertex, Size: 1024}, vertices)
//
//	for running {
//	    svc.Prepare(svc.DisplayPass(), clear, gpucmd.Viewport{})
//	    svc.Submit(svc.DisplayPass(), draws)
//	    svc.Commit(svc.DisplayPass())
//	    svc.Flush()
//	}
//
// # Drivers
//
// Drivers register themselves by name from an init function, like
// database/sql drivers:
//   - native: gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, software)
//   - trace: records calls and emulates resources in memory
//
// # Errors and Logging
//
// Initialize is the only operation that reports an error to the caller.
// Everything else runs long after it was recorded, so failures are
// logged through Logger and the operation is skipped. Logging is silent
// until SetLogger is called.
//
// # Architecture
//
// The module is organized into:
//   - gpucmd: data model, Driver contract, Service, configuration
//   - handle: handle allocators and handle-indexed tables
//   - bind: backend-independent state diffing for Submit
//   - internal/wire: the command byte stream
//   - backend/native, backend/trace: drivers
package gpucmd

// Version is the current version of the module.
const Version = "0.1.0"
