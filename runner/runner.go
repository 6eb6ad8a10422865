// Package runner executes two compiled variants of the same kernel against
// one materialized input set and compares every observable output buffer
// byte for byte. A mismatch is the campaign's dynamic verdict, not an
// error; errors are reserved for runtime and protocol failures.
package runner

import (
	"fmt"

	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/device"
	"github.com/xgo-dev/spillfuzz/inputspec"
)

// Mismatch is the first differing byte of one output buffer.
type Mismatch struct {
	ArgIndex int    `json:"arg_index"`
	Offset   int    `json:"offset"`
	A        byte   `json:"a"`
	B        byte   `json:"b"`
	Context  string `json:"context,omitempty"`
}

// Verdict is the outcome of one differential run.
type Verdict struct {
	Match      bool       `json:"match"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Diff loads both code objects, runs each variant against identical initial
// device state, and compares the resulting buffer contents. Device memory
// is re-initialized from the materialized bytes between the two launches so
// the second variant never observes the first one's writes.
func Diff(rt device.Runtime, binA, binB string, argspec abi.KernelArgSpec, m *inputspec.Materialized) (*Verdict, error) {
	modA, err := rt.LoadModule(binA)
	if err != nil {
		return nil, fmt.Errorf("load variant a: %w", err)
	}
	defer modA.Unload()
	modB, err := rt.LoadModule(binB)
	if err != nil {
		return nil, fmt.Errorf("load variant b: %w", err)
	}
	defer modB.Unload()

	kernA, err := modA.Function(argspec.Kernel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s in variant a: %w", argspec.Kernel, err)
	}
	kernB, err := modB.Function(argspec.Kernel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s in variant b: %w", argspec.Kernel, err)
	}

	bufs, args, err := allocate(rt, argspec, m)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, b := range bufs {
			b.mem.Free()
		}
	}()

	grid := device.Dim3{X: m.Grid[0], Y: m.Grid[1], Z: m.Grid[2]}
	block := device.Dim3{X: m.Block[0], Y: m.Block[1], Z: m.Block[2]}

	outA, err := runVariant(rt, kernA, grid, block, bufs, args)
	if err != nil {
		return nil, fmt.Errorf("variant a: %w", err)
	}
	outB, err := runVariant(rt, kernB, grid, block, bufs, args)
	if err != nil {
		return nil, fmt.Errorf("variant b: %w", err)
	}

	v := &Verdict{Match: true}
	for i, buf := range bufs {
		if off, ok := firstDiff(outA[i], outB[i]); ok {
			v.Match = false
			v.Mismatches = append(v.Mismatches, Mismatch{
				ArgIndex: buf.argIndex,
				Offset:   off,
				A:        outA[i][off],
				B:        outB[i][off],
				Context:  diffContext(outA[i], outB[i], off),
			})
		}
	}
	return v, nil
}

type diffBuf struct {
	argIndex int
	mem      device.Mem
	init     []byte
}

// allocate reserves one device buffer per buffer argument and builds the
// launch argument vector, scalars passed by value.
func allocate(rt device.Runtime, argspec abi.KernelArgSpec, m *inputspec.Materialized) ([]diffBuf, []device.Arg, error) {
	if len(m.Args) != len(argspec.Args) {
		return nil, nil, fmt.Errorf("materialized %d args, kernel has %d", len(m.Args), len(argspec.Args))
	}
	var bufs []diffBuf
	var args []device.Arg
	for i, a := range argspec.Args {
		if a.IsBuffer() {
			mem, err := rt.Alloc(len(m.Args[i].Data))
			if err != nil {
				for _, b := range bufs {
					b.mem.Free()
				}
				return nil, nil, fmt.Errorf("alloc arg %d: %w", i, err)
			}
			bufs = append(bufs, diffBuf{argIndex: i, mem: mem, init: m.Args[i].Data})
			args = append(args, device.Arg{Mem: mem})
		} else {
			args = append(args, device.Arg{Data: m.Args[i].Data})
		}
	}
	return bufs, args, nil
}

// runVariant re-initializes every buffer, launches, synchronizes, and reads
// every buffer back.
func runVariant(rt device.Runtime, kern device.Kernel, grid, block device.Dim3, bufs []diffBuf, args []device.Arg) ([][]byte, error) {
	for _, b := range bufs {
		if err := b.mem.CopyIn(b.init); err != nil {
			return nil, fmt.Errorf("init arg %d: %w", b.argIndex, err)
		}
	}
	if err := kern.Launch(grid, block, args); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	if err := rt.Synchronize(); err != nil {
		return nil, fmt.Errorf("synchronize: %w", err)
	}
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		out[i] = make([]byte, len(b.init))
		if err := b.mem.CopyOut(out[i]); err != nil {
			return nil, fmt.Errorf("read back arg %d: %w", b.argIndex, err)
		}
	}
	return out, nil
}

func firstDiff(a, b []byte) (int, bool) {
	for i := range a {
		if a[i] != b[i] {
			return i, true
		}
	}
	return 0, false
}

// diffContext renders a short hex window around the first differing byte
// for the report.
func diffContext(a, b []byte, off int) string {
	lo := off - 4
	if lo < 0 {
		lo = 0
	}
	hi := off + 4
	if hi > len(a) {
		hi = len(a)
	}
	return fmt.Sprintf("a[% x] b[% x] at +%d", a[lo:hi], b[lo:hi], lo)
}
