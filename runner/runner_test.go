package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/device"
	"github.com/xgo-dev/spillfuzz/inputspec"
)

func diffArgs() abi.KernelArgSpec {
	return abi.KernelArgSpec{
		Kernel: "k",
		Args: []abi.Arg{
			{Kind: abi.KindGlobalBuffer, Size: 8, AddrSpace: "global"},
			{Kind: abi.KindValue, Size: 4, AddrSpace: "none"},
		},
	}
}

func materialize(t *testing.T, bufSize int) *inputspec.Materialized {
	t.Helper()
	m, err := inputspec.Resolve(diffArgs(), &inputspec.Spec{}, bufSize)
	require.NoError(t, err)
	return m
}

// addOne is the well-behaved kernel both variants should agree on.
func addOne(_, _ device.Dim3, bufs [][]byte, _ [][]byte) {
	for i := range bufs[0] {
		bufs[0][i]++
	}
}

func TestDiffIdenticalVariantsMatch(t *testing.T) {
	rt := device.NewSimRuntime()
	rt.Register("a.hsaco", "k", addOne)
	rt.Register("b.hsaco", "k", addOne)

	v, err := Diff(rt, "a.hsaco", "b.hsaco", diffArgs(), materialize(t, 64))
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.Empty(t, v.Mismatches)
}

func TestDiffReportsFirstDifferingByte(t *testing.T) {
	rt := device.NewSimRuntime()
	rt.Register("a.hsaco", "k", addOne)
	rt.Register("b.hsaco", "k", func(g, b device.Dim3, bufs [][]byte, s [][]byte) {
		addOne(g, b, bufs, s)
		bufs[0][5] ^= 0xff // diverge at offset 5
	})

	v, err := Diff(rt, "a.hsaco", "b.hsaco", diffArgs(), materialize(t, 64))
	require.NoError(t, err)
	require.False(t, v.Match)
	require.Len(t, v.Mismatches, 1)
	mm := v.Mismatches[0]
	assert.Equal(t, 0, mm.ArgIndex)
	assert.Equal(t, 5, mm.Offset)
	assert.Equal(t, mm.A^0xff, mm.B)
	assert.NotEmpty(t, mm.Context)
}

func TestDiffReinitializesBetweenVariants(t *testing.T) {
	// Both kernels double the buffer. Without re-initialization the second
	// variant would observe the first one's writes and quadruple instead.
	double := func(_, _ device.Dim3, bufs [][]byte, _ [][]byte) {
		for i := range bufs[0] {
			bufs[0][i] *= 2
		}
	}
	rt := device.NewSimRuntime()
	rt.Register("a.hsaco", "k", double)
	rt.Register("b.hsaco", "k", double)

	v, err := Diff(rt, "a.hsaco", "b.hsaco", diffArgs(), materialize(t, 16))
	require.NoError(t, err)
	assert.True(t, v.Match, "identical kernels over identical initial state must match")
}

func TestDiffScalarOnlyKernelHasNoObservableOutput(t *testing.T) {
	spec := abi.KernelArgSpec{Kernel: "k", Args: []abi.Arg{{Kind: abi.KindValue, Size: 4, AddrSpace: "none"}}}
	m, err := inputspec.Resolve(spec, &inputspec.Spec{}, 4096)
	require.NoError(t, err)

	rt := device.NewSimRuntime()
	noop := func(_, _ device.Dim3, _, _ [][]byte) {}
	rt.Register("a.hsaco", "k", noop)
	rt.Register("b.hsaco", "k", noop)

	v, err := Diff(rt, "a.hsaco", "b.hsaco", spec, m)
	require.NoError(t, err)
	assert.True(t, v.Match)
}

func TestDiffMissingKernelIsError(t *testing.T) {
	rt := device.NewSimRuntime()
	rt.Register("a.hsaco", "k", addOne)
	rt.Register("b.hsaco", "other", addOne)

	_, err := Diff(rt, "a.hsaco", "b.hsaco", diffArgs(), materialize(t, 16))
	require.Error(t, err)
	var derr *device.Error
	assert.ErrorAs(t, err, &derr, "runtime failures surface as device errors, not verdicts")
}
