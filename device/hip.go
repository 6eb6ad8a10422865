//go:build hip

package device

/*
#cgo LDFLAGS: -lamdhip64
#cgo CFLAGS: -D__HIP_PLATFORM_AMD__
#include <hip/hip_runtime_api.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// hipRuntime drives one HIP device. All calls run on whatever goroutine
// invokes them; the HIP runtime is thread safe for this usage.
type hipRuntime struct {
	device int
}

// OpenHIP selects device ordinal and returns a Runtime backed by the HIP
// driver API.
func OpenHIP(device int) (Runtime, error) {
	if err := hipErr("hipSetDevice", C.hipSetDevice(C.int(device))); err != nil {
		return nil, err
	}
	return &hipRuntime{device: device}, nil
}

func hipErr(op string, code C.hipError_t) error {
	if code == C.hipSuccess {
		return nil
	}
	return &Error{Op: op, Detail: fmt.Sprintf("%s (%d)", C.GoString(C.hipGetErrorString(code)), int(code))}
}

func (r *hipRuntime) LoadModule(path string) (Module, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var mod C.hipModule_t
	if err := hipErr("hipModuleLoad", C.hipModuleLoad(&mod, cpath)); err != nil {
		return nil, err
	}
	return &hipModule{mod: mod}, nil
}

func (r *hipRuntime) Alloc(size int) (Mem, error) {
	if size <= 0 {
		return nil, &Error{Op: "alloc", Detail: fmt.Sprintf("bad size %d", size)}
	}
	var ptr C.hipDeviceptr_t
	if err := hipErr("hipMalloc", C.hipMalloc((*unsafe.Pointer)(unsafe.Pointer(&ptr)), C.size_t(size))); err != nil {
		return nil, err
	}
	return &hipMem{ptr: ptr, size: size}, nil
}

func (r *hipRuntime) Synchronize() error {
	return hipErr("hipDeviceSynchronize", C.hipDeviceSynchronize())
}

func (r *hipRuntime) Close() error { return nil }

type hipModule struct {
	mod C.hipModule_t
}

func (m *hipModule) Function(name string) (Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.hipFunction_t
	if err := hipErr("hipModuleGetFunction", C.hipModuleGetFunction(&fn, m.mod, cname)); err != nil {
		return nil, err
	}
	return &hipKernel{fn: fn}, nil
}

func (m *hipModule) Unload() error {
	return hipErr("hipModuleUnload", C.hipModuleUnload(m.mod))
}

type hipMem struct {
	ptr  C.hipDeviceptr_t
	size int
}

func (m *hipMem) Size() int { return m.size }

func (m *hipMem) CopyIn(host []byte) error {
	if len(host) != m.size {
		return &Error{Op: "copy-in", Detail: fmt.Sprintf("host %d bytes, device %d", len(host), m.size)}
	}
	return hipErr("hipMemcpyHtoD", C.hipMemcpyHtoD(m.ptr, unsafe.Pointer(&host[0]), C.size_t(len(host))))
}

func (m *hipMem) CopyOut(host []byte) error {
	if len(host) != m.size {
		return &Error{Op: "copy-out", Detail: fmt.Sprintf("host %d bytes, device %d", len(host), m.size)}
	}
	return hipErr("hipMemcpyDtoH", C.hipMemcpyDtoH(unsafe.Pointer(&host[0]), m.ptr, C.size_t(len(host))))
}

func (m *hipMem) Free() error {
	return hipErr("hipFree", C.hipFree(unsafe.Pointer(m.ptr)))
}

type hipKernel struct {
	fn C.hipFunction_t
}

// Launch packs the argument values contiguously and hands the packed blob to
// hipModuleLaunchKernel via HIP_LAUNCH_PARAM_BUFFER_POINTER, matching how the
// code object's kernarg segment is laid out. Buffer arguments contribute
// their 8-byte device pointers; by-value arguments contribute their bytes at
// their natural alignment.
func (k *hipKernel) Launch(grid, block Dim3, args []Arg) error {
	var packed []byte
	for _, a := range args {
		if a.Mem != nil {
			hm, ok := a.Mem.(*hipMem)
			if !ok {
				return &Error{Op: "launch", Detail: "foreign allocation"}
			}
			packed = alignTo(packed, 8)
			var p [8]byte
			*(*C.hipDeviceptr_t)(unsafe.Pointer(&p[0])) = hm.ptr
			packed = append(packed, p[:]...)
		} else {
			packed = alignTo(packed, naturalAlign(len(a.Data)))
			packed = append(packed, a.Data...)
		}
	}
	if len(packed) == 0 {
		packed = []byte{0}
	}
	size := C.size_t(len(packed))
	config := []unsafe.Pointer{
		C.HIP_LAUNCH_PARAM_BUFFER_POINTER, unsafe.Pointer(&packed[0]),
		C.HIP_LAUNCH_PARAM_BUFFER_SIZE, unsafe.Pointer(&size),
		C.HIP_LAUNCH_PARAM_END,
	}
	return hipErr("hipModuleLaunchKernel", C.hipModuleLaunchKernel(k.fn,
		C.uint(grid.X), C.uint(grid.Y), C.uint(grid.Z),
		C.uint(block.X), C.uint(block.Y), C.uint(block.Z),
		0, nil, nil, (*unsafe.Pointer)(unsafe.Pointer(&config[0]))))
}

func alignTo(b []byte, align int) []byte {
	for len(b)%align != 0 {
		b = append(b, 0)
	}
	return b
}

func naturalAlign(size int) int {
	switch {
	case size >= 8:
		return 8
	case size >= 4:
		return 4
	case size >= 2:
		return 2
	default:
		return 1
	}
}
