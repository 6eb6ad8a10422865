package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimCopyRoundTrip(t *testing.T) {
	rt := NewSimRuntime()
	mem, err := rt.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, mem.CopyIn([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	out := make([]byte, 8)
	require.NoError(t, mem.CopyOut(out))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out)

	assert.Error(t, mem.CopyIn(make([]byte, 4)), "size mismatch must be rejected")
}

func TestSimFreeZeroesAndRejectsReuse(t *testing.T) {
	rt := NewSimRuntime()
	mem, err := rt.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, mem.CopyIn([]byte{9, 9, 9, 9}))
	require.NoError(t, mem.Free())

	assert.Error(t, mem.CopyOut(make([]byte, 4)))
	assert.Error(t, mem.Free(), "double free must fail")
}

func TestSimLaunchRoutesArgs(t *testing.T) {
	rt := NewSimRuntime()
	rt.Register("k.hsaco", "scale", func(_, _ Dim3, bufs [][]byte, scalars [][]byte) {
		for i := range bufs[0] {
			bufs[0][i] *= scalars[0][0]
		}
	})

	mod, err := rt.LoadModule("/tmp/work/k.hsaco")
	require.NoError(t, err)
	kern, err := mod.Function("scale")
	require.NoError(t, err)

	mem, err := rt.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, mem.CopyIn([]byte{1, 2, 3, 4}))

	err = kern.Launch(Dim3{1, 1, 1}, Dim3{1, 1, 1}, []Arg{
		{Mem: mem},
		{Data: []byte{3}},
	})
	require.NoError(t, err)

	out := make([]byte, 4)
	require.NoError(t, mem.CopyOut(out))
	assert.Equal(t, []byte{3, 6, 9, 12}, out)
}

func TestSimUnknownModuleAndKernel(t *testing.T) {
	rt := NewSimRuntime()
	_, err := rt.LoadModule("missing.hsaco")
	var derr *Error
	require.ErrorAs(t, err, &derr)

	rt.Register("m.hsaco", "k", func(_, _ Dim3, _, _ [][]byte) {})
	mod, err := rt.LoadModule("m.hsaco")
	require.NoError(t, err)
	_, err = mod.Function("other")
	require.ErrorAs(t, err, &derr)

	require.NoError(t, mod.Unload())
	_, err = mod.Function("k")
	assert.Error(t, err, "unloaded modules resolve nothing")
}

func TestSimClosedRuntime(t *testing.T) {
	rt := NewSimRuntime()
	require.NoError(t, rt.Close())
	_, err := rt.Alloc(16)
	assert.Error(t, err)
	_, err = rt.LoadModule("x.hsaco")
	assert.Error(t, err)
}
