package toolchain_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xgo-dev/spillfuzz"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

const tinyKernel = `define amdgpu_kernel void @k(ptr addrspace(1) %out) {
entry:
  store i32 1, ptr addrspace(1) %out
  ret void
}
`

// requireLLC resolves the toolchain and skips when no AMDGPU-capable llc is
// installed, so the suite stays green on hosts without ROCm.
func requireLLC(t *testing.T) toolchain.Tools {
	t.Helper()
	tools := toolchain.FromEnv()
	if _, err := exec.LookPath(tools.LLC); err != nil {
		t.Skipf("llc not found (%s), skipping", tools.LLC)
	}
	out, err := exec.Command(tools.LLC, "--version").Output()
	if err != nil || !bytes.Contains(out, []byte("amdgcn")) {
		t.Skip("llc has no amdgcn target, skipping")
	}
	return tools
}

func TestCompileDumpAgainstRealLLC(t *testing.T) {
	tools := requireLLC(t)
	comp := &toolchain.Subprocess{Tools: tools}

	irPath := filepath.Join(t.TempDir(), "k.ll")
	require.NoError(t, os.WriteFile(irPath, []byte(tinyKernel), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	dump, err := comp.CompileDump(ctx, irPath, toolchain.BuildOptions{StopAfter: "greedy"})
	require.NoError(t, err)

	funcs, err := spillfuzz.ParseDump(bytes.NewReader(dump))
	require.NoError(t, err)
	require.NotEmpty(t, funcs, "dump must contain at least one machine function")
	require.Equal(t, "k", funcs[0].Name)

	issues, err := spillfuzz.CheckDump(bytes.NewReader(dump))
	require.NoError(t, err)
	require.Empty(t, issues, "a trivial store kernel spills nothing")
}

func TestCompileFailureSurfacesAsExitError(t *testing.T) {
	tools := requireLLC(t)
	comp := &toolchain.Subprocess{Tools: tools}

	irPath := filepath.Join(t.TempDir(), "bad.ll")
	require.NoError(t, os.WriteFile(irPath, []byte("this is not IR\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	_, err := comp.CompileDump(ctx, irPath, toolchain.BuildOptions{StopAfter: "greedy"})
	require.Error(t, err)
	var exit *toolchain.ExitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, "compile", exit.Stage)
}
