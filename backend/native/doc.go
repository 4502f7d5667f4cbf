// Package native implements the gpucmd driver on top of the wgpu
// hardware abstraction layer.
//
// Importing the package registers the "native" driver:
//
//	import _ "github.com/gogpu/gpucmd/backend/native"
//
// Initialize walks a fallback chain: every registered hardware backend
// (Vulkan, Metal, DX12, GL) is tried with full features, then with a
// reduced feature set, then with downlevel limits, before the CPU
// rasterizer of hal/software is used. The chain can be replaced with
// WithBackends.
//
// Render state is diffed per draw through package bind, so redundant
// pipeline, buffer and bind group changes never reach the device.
// Multisampled attachments are resolved once, when the pass is
// committed.
//
// Build with the nogpu tag to exclude the package.
package native
