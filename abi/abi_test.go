package abi

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `
File: kernel.hsaco
Format: elf64-amdgpu
Arch: amdgcn

AMDGPU Code Object Metadata:
  ---
  amdhsa.kernels:
    - .args:
        - .address_space: global
          .name:           out
          .offset:         0
          .size:           8
          .value_kind:     global_buffer
        - .name:           n
          .offset:         8
          .size:           4
          .value_kind:     by_value
        - .name:           scale
          .offset:         12
          .size:           4
          .value_kind:     value
      .name:           saxpy
      .symbol:         saxpy.kd
  amdhsa.version:
    - 1
    - 2
  ...
`

func TestParseMetadata(t *testing.T) {
	spec, err := ParseMetadata([]byte(sampleMetadata), "")
	require.NoError(t, err)
	assert.Equal(t, "saxpy", spec.Kernel)
	require.Len(t, spec.Args, 3)
	assert.Equal(t, Arg{Kind: KindGlobalBuffer, Size: 8, AddrSpace: "global"}, spec.Args[0])
	assert.Equal(t, Arg{Kind: KindByValue, Size: 4, AddrSpace: "none"}, spec.Args[1])
	assert.Equal(t, Arg{Kind: KindValue, Size: 4, AddrSpace: "none"}, spec.Args[2])
	assert.True(t, spec.Args[0].IsBuffer())
	assert.False(t, spec.Args[1].IsBuffer())
}

func TestParseMetadataByName(t *testing.T) {
	_, err := ParseMetadata([]byte(sampleMetadata), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	spec, err := ParseMetadata([]byte(sampleMetadata), "saxpy")
	require.NoError(t, err)
	assert.Equal(t, "saxpy", spec.Kernel)
}

func TestParseMetadataHiddenArgUnsupported(t *testing.T) {
	md := strings.Replace(sampleMetadata, "global_buffer", "hidden_global_offset_x", 1)
	_, err := ParseMetadata([]byte(md), "")
	var unsup *UnsupportedError
	require.ErrorAs(t, err, &unsup)
	assert.Equal(t, "saxpy", unsup.Kernel)
	assert.Equal(t, "hidden_global_offset_x", unsup.Kind)
}

func TestParseMetadataBareDocument(t *testing.T) {
	// Output without ---/... markers still parses.
	bare := "amdhsa.kernels:\n  - .name: k\n    .args:\n      - .value_kind: value\n        .size: 4\n"
	spec, err := ParseMetadata([]byte(bare), "k")
	require.NoError(t, err)
	require.Len(t, spec.Args, 1)
	assert.Equal(t, KindValue, spec.Args[0].Kind)
}

func TestSpecFormatRoundTrip(t *testing.T) {
	spec := KernelArgSpec{
		Kernel: "saxpy",
		Args: []Arg{
			{Kind: KindGlobalBuffer, Size: 8, AddrSpace: "global"},
			{Kind: KindValue, Size: 4, AddrSpace: "none"},
		},
	}
	text := spec.Format()
	assert.Equal(t, "kernel saxpy\narg global_buffer 8 global\narg value 4 none\n", text)

	path := filepath.Join(t.TempDir(), "args.spec")
	require.NoError(t, spec.WriteFile(path))
	got, err := LoadSpec(path)
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestParseSpecRejectsMalformed(t *testing.T) {
	for _, text := range []string{
		"arg global_buffer 8 global\n",          // no kernel line
		"kernel k\narg global_buffer eight g\n", // bad size
		"kernel k\nbogus line here\n",           // unknown tag
		"kernel k extra\n",                      // malformed kernel line
	} {
		_, err := ParseSpec(strings.NewReader(text))
		assert.Error(t, err, "input %q", text)
	}
}
