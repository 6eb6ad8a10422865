// Package device abstracts the accelerator runtime behind small capability
// interfaces so the differential runner never talks to a driver API
// directly. The real backend binds the HIP runtime under the hip build tag;
// a pure in-process simulator backs the tests.
package device

import "fmt"

// Dim3 is a launch extent in work items or groups.
type Dim3 struct {
	X, Y, Z int
}

// Arg is one launch argument: a device allocation for buffer arguments, or
// the literal by-value bytes for everything else.
type Arg struct {
	Mem  Mem
	Data []byte
}

// Error wraps a runtime failure. Launch or memory faults are infrastructure
// errors, never verdicts.
type Error struct {
	Op     string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s: %s", e.Op, e.Detail)
}

// Runtime is a connection to one device.
type Runtime interface {
	// LoadModule maps a compiled code object into the device context.
	LoadModule(path string) (Module, error)
	// Alloc reserves size bytes of device memory.
	Alloc(size int) (Mem, error)
	// Synchronize blocks until all queued work has retired.
	Synchronize() error
	Close() error
}

// Module is a loaded code object.
type Module interface {
	// Function resolves a kernel by its mangled entry name.
	Function(name string) (Kernel, error)
	Unload() error
}

// Mem is a device allocation.
type Mem interface {
	Size() int
	CopyIn(host []byte) error
	CopyOut(host []byte) error
	Free() error
}

// Kernel is a launchable entry point.
type Kernel interface {
	Launch(grid, block Dim3, args []Arg) error
}
