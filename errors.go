package gpucmd

import "errors"

var (
	// ErrNoDevice is returned by Driver.Initialize when every device
	// creation attempt failed.
	ErrNoDevice = errors.New("gpucmd: no usable device")

	// ErrNotInitialized is returned when an operation needs an
	// initialized driver.
	ErrNotInitialized = errors.New("gpucmd: driver not initialized")

	// ErrClosed is returned after Service.Close.
	ErrClosed = errors.New("gpucmd: service closed")

	// ErrInvalidDescriptor wraps descriptor validation failures.
	ErrInvalidDescriptor = errors.New("gpucmd: invalid descriptor")

	// ErrDriverPanic wraps a panic recovered from a driver's Initialize.
	ErrDriverPanic = errors.New("gpucmd: driver panic")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("gpucmd: invalid config")
)
