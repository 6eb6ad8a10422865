package device

import (
	"fmt"
	"path/filepath"
	"sync"
)

// SimKernelFunc is an in-process kernel body. bufs holds the backing store
// of every buffer argument in launch order; scalars holds the by-value
// bytes of the remaining arguments in launch order.
type SimKernelFunc func(grid, block Dim3, bufs [][]byte, scalars [][]byte)

// SimRuntime executes registered Go functions in place of device kernels.
// It enforces the same protocol the real backend does: copies are bounds
// checked, freed memory is zeroed so use after free shows up as a mismatch,
// and launches resolve only registered entry names.
type SimRuntime struct {
	mu      sync.Mutex
	kernels map[string]map[string]SimKernelFunc // module base name -> entry -> fn
	closed  bool
}

// NewSimRuntime returns an empty simulator.
func NewSimRuntime() *SimRuntime {
	return &SimRuntime{kernels: make(map[string]map[string]SimKernelFunc)}
}

// Register binds fn as kernel entry in the module whose path has base name
// module. LoadModule matches on base name so callers can use arbitrary
// temp paths.
func (s *SimRuntime) Register(module, entry string, fn SimKernelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kernels[module] == nil {
		s.kernels[module] = make(map[string]SimKernelFunc)
	}
	s.kernels[module][entry] = fn
}

func (s *SimRuntime) LoadModule(path string) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Op: "load", Detail: "runtime closed"}
	}
	base := filepath.Base(path)
	entries, ok := s.kernels[base]
	if !ok {
		return nil, &Error{Op: "load", Detail: fmt.Sprintf("no module registered for %s", base)}
	}
	return &simModule{entries: entries}, nil
}

func (s *SimRuntime) Alloc(size int) (Mem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Op: "alloc", Detail: "runtime closed"}
	}
	if size <= 0 {
		return nil, &Error{Op: "alloc", Detail: fmt.Sprintf("bad size %d", size)}
	}
	return &simMem{data: make([]byte, size)}, nil
}

func (s *SimRuntime) Synchronize() error { return nil }

func (s *SimRuntime) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type simModule struct {
	entries  map[string]SimKernelFunc
	unloaded bool
}

func (m *simModule) Function(name string) (Kernel, error) {
	if m.unloaded {
		return nil, &Error{Op: "function", Detail: "module unloaded"}
	}
	fn, ok := m.entries[name]
	if !ok {
		return nil, &Error{Op: "function", Detail: fmt.Sprintf("no kernel %q", name)}
	}
	return &simKernel{fn: fn}, nil
}

func (m *simModule) Unload() error {
	m.unloaded = true
	return nil
}

type simMem struct {
	data  []byte
	freed bool
}

func (m *simMem) Size() int { return len(m.data) }

func (m *simMem) CopyIn(host []byte) error {
	if m.freed {
		return &Error{Op: "copy-in", Detail: "allocation freed"}
	}
	if len(host) != len(m.data) {
		return &Error{Op: "copy-in", Detail: fmt.Sprintf("host %d bytes, device %d", len(host), len(m.data))}
	}
	copy(m.data, host)
	return nil
}

func (m *simMem) CopyOut(host []byte) error {
	if m.freed {
		return &Error{Op: "copy-out", Detail: "allocation freed"}
	}
	if len(host) != len(m.data) {
		return &Error{Op: "copy-out", Detail: fmt.Sprintf("host %d bytes, device %d", len(host), len(m.data))}
	}
	copy(host, m.data)
	return nil
}

func (m *simMem) Free() error {
	if m.freed {
		return &Error{Op: "free", Detail: "double free"}
	}
	// Zero so stale reads through a leaked handle cannot masquerade as
	// matching output.
	for i := range m.data {
		m.data[i] = 0
	}
	m.freed = true
	return nil
}

type simKernel struct {
	fn SimKernelFunc
}

func (k *simKernel) Launch(grid, block Dim3, args []Arg) error {
	var bufs, scalars [][]byte
	for i, a := range args {
		if a.Mem != nil {
			sm, ok := a.Mem.(*simMem)
			if !ok {
				return &Error{Op: "launch", Detail: fmt.Sprintf("arg %d: foreign allocation", i)}
			}
			if sm.freed {
				return &Error{Op: "launch", Detail: fmt.Sprintf("arg %d: allocation freed", i)}
			}
			bufs = append(bufs, sm.data)
		} else {
			scalars = append(scalars, a.Data)
		}
	}
	k.fn(grid, block, bufs, scalars)
	return nil
}
