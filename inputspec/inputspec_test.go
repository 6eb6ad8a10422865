package inputspec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgo-dev/spillfuzz/abi"
)

func saxpyArgs() abi.KernelArgSpec {
	return abi.KernelArgSpec{
		Kernel: "saxpy",
		Args: []abi.Arg{
			{Kind: abi.KindGlobalBuffer, Size: 8, AddrSpace: "global"},
			{Kind: abi.KindGlobalBuffer, Size: 8, AddrSpace: "global"},
			{Kind: abi.KindValue, Size: 4, AddrSpace: "none"},
		},
	}
}

func TestResolveDeterministic(t *testing.T) {
	a, err := Resolve(saxpyArgs(), &Spec{}, 4096)
	require.NoError(t, err)
	b, err := Resolve(saxpyArgs(), &Spec{}, 4096)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed must yield identical bytes")

	seed := uint64(999)
	c, err := Resolve(saxpyArgs(), &Spec{Seed: &seed}, 4096)
	require.NoError(t, err)
	assert.NotEqual(t, a.Args[0].Data, c.Args[0].Data, "a different seed changes the inputs")
}

func TestResolveDefaults(t *testing.T) {
	m, err := Resolve(saxpyArgs(), nil, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultSeed), m.Seed)
	assert.Equal(t, [3]int{1, 1, 1}, m.Grid)
	assert.Equal(t, [3]int{1, 1, 1}, m.Block)
	require.Len(t, m.Args, 3)
	assert.Len(t, m.Args[0].Data, 4096)
	assert.Len(t, m.Args[1].Data, 4096)
	assert.Len(t, m.Args[2].Data, 4)
}

func TestResolveValueOverrideLittleEndian(t *testing.T) {
	spec, err := Parse([]byte("values:\n  2: 42\n"))
	require.NoError(t, err)
	m, err := Resolve(saxpyArgs(), spec, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a, 0x00, 0x00, 0x00}, m.Args[2].Data)
}

func TestResolveBufferSizeOverride(t *testing.T) {
	spec, err := Parse([]byte("buffers:\n  1: 65536\n"))
	require.NoError(t, err)
	m, err := Resolve(saxpyArgs(), spec, 4096)
	require.NoError(t, err)
	assert.Len(t, m.Args[0].Data, 4096, "unoverridden buffers keep the default size")
	assert.Len(t, m.Args[1].Data, 65536)
}

func TestResolveBufferFill(t *testing.T) {
	spec, err := Parse([]byte("buffers:\n  0:\n    size_bytes: 6\n    fill_hex: \"abcd\"\n"))
	require.NoError(t, err)
	m, err := Resolve(saxpyArgs(), spec, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab, 0xcd, 0xab, 0xcd, 0xab, 0xcd}, m.Args[0].Data)
}

func TestResolveOversizedOverrideRejected(t *testing.T) {
	spec, err := Parse([]byte("values:\n  2: 4294967296\n")) // needs 5 bytes
	require.NoError(t, err)
	_, err = Resolve(saxpyArgs(), spec, 4096)
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, 2, usage.Arg)

	spec, err = Parse([]byte("values:\n  2:\n    hex: \"0102030405\"\n"))
	require.NoError(t, err)
	_, err = Resolve(saxpyArgs(), spec, 4096)
	require.ErrorAs(t, err, &usage)
}

func TestResolveOverrideTargetMismatch(t *testing.T) {
	var usage *UsageError

	spec, err := Parse([]byte("values:\n  0: 1\n")) // arg 0 is a buffer
	require.NoError(t, err)
	_, err = Resolve(saxpyArgs(), spec, 4096)
	require.ErrorAs(t, err, &usage)

	spec, err = Parse([]byte("buffers:\n  9: 16\n")) // out of range
	require.NoError(t, err)
	_, err = Resolve(saxpyArgs(), spec, 4096)
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, 9, usage.Arg)
}

func TestParseJSONSpec(t *testing.T) {
	// JSON is a YAML subset; the same loader handles both.
	spec, err := Parse([]byte(`{"seed": 7, "launch": {"grid": [64,1,1], "block": [256,1,1]}, "values": {"2": 3}}`))
	require.NoError(t, err)
	m, err := Resolve(saxpyArgs(), spec, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.Seed)
	assert.Equal(t, [3]int{64, 1, 1}, m.Grid)
	assert.Equal(t, [3]int{256, 1, 1}, m.Block)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00}, m.Args[2].Data)
}

func TestValueBytesForm(t *testing.T) {
	spec, err := Parse([]byte("values:\n  2:\n    bytes: [1, 2]\n"))
	require.NoError(t, err)
	m, err := Resolve(saxpyArgs(), spec, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x00}, m.Args[2].Data, "short overrides zero-extend")
}

func TestFlatten(t *testing.T) {
	seed := uint64(5)
	spec := &Spec{Seed: &seed}
	m, err := Resolve(saxpyArgs(), spec, 16)
	require.NoError(t, err)
	flat := m.Flatten()
	lines := strings.Split(strings.TrimRight(flat, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "seed 5", lines[0])
	assert.Equal(t, "grid 1 1 1", lines[1])
	assert.Equal(t, "block 1 1 1", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "arg global_buffer 16 "))
	assert.True(t, strings.HasPrefix(lines[5], "arg value 4 "))
}

func TestLoadFileMissingYieldsEmptySpec(t *testing.T) {
	spec, err := LoadFile("")
	require.NoError(t, err)
	assert.Nil(t, spec.Seed)

	spec, err = LoadFile("/nonexistent/input.yaml")
	require.NoError(t, err)
	assert.Nil(t, spec.Launch)
}
