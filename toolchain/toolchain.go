// Package toolchain wraps the external LLVM tools this fuzzer drives: llc for
// compilation, ld.lld for linking device objects into loadable binaries, and
// llvm-readobj for code-object metadata. Tool paths and target defaults are
// resolved once at startup into an explicit Tools value and threaded through;
// nothing reads the environment after that.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Tools carries resolved tool paths and target defaults.
type Tools struct {
	LLC     string
	LLD     string
	ReadObj string

	Triple string
	MCPU   string
}

// Defaults carries startup configuration that is not a tool path.
type Defaults struct {
	BufferSize int    // default device buffer size in bytes
	Kernel     string // named-kernel selection, empty means first usable
	Strict     bool   // treat compile/link failures as reportable
}

const (
	defaultTriple     = "amdgcn-amd-amdhsa"
	defaultMCPU       = "gfx90a"
	defaultBufferSize = 4096
)

// FromEnv builds Tools from the process environment: LLC, LD_LLD and
// LLVM_READOBJ override the tool names, SPILLFUZZ_MCPU the target CPU.
// Relative names are resolved against PATH, with the usual ROCm install
// locations as a fallback for llc.
func FromEnv() Tools {
	t := Tools{
		LLC:     envOr("LLC", "llc"),
		LLD:     envOr("LD_LLD", "ld.lld"),
		ReadObj: envOr("LLVM_READOBJ", "llvm-readobj"),
		Triple:  defaultTriple,
		MCPU:    envOr("SPILLFUZZ_MCPU", defaultMCPU),
	}
	t.LLC = resolveTool(t.LLC, rocmCandidates("llc"))
	t.LLD = resolveTool(t.LLD, rocmCandidates("ld.lld"))
	t.ReadObj = resolveTool(t.ReadObj, rocmCandidates("llvm-readobj"))
	return t
}

// DefaultsFromEnv reads SPILLFUZZ_BUFFER_SIZE, SPILLFUZZ_KERNEL and
// SPILLFUZZ_STRICT.
func DefaultsFromEnv() Defaults {
	d := Defaults{
		BufferSize: defaultBufferSize,
		Kernel:     os.Getenv("SPILLFUZZ_KERNEL"),
	}
	if v := os.Getenv("SPILLFUZZ_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			d.BufferSize = n
		}
	}
	if v := os.Getenv("SPILLFUZZ_STRICT"); v == "1" || v == "true" {
		d.Strict = true
	}
	return d
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// resolveTool turns a tool name into an executable path. An explicit path
// that exists wins; otherwise PATH, then the candidate install locations.
// Unresolvable tools are returned as given so the eventual exec error names
// them.
func resolveTool(name string, candidates []string) string {
	if isExecutable(name) {
		return name
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	for _, c := range candidates {
		if isExecutable(c) {
			return c
		}
	}
	return name
}

func rocmCandidates(base string) []string {
	out := []string{filepath.Join("/opt/rocm/lib/llvm/bin", base)}
	for _, pat := range []string{"/opt/rocm-*/lib/llvm/bin", "/opt/rocm-*/llvm/bin"} {
		dirs, _ := filepath.Glob(pat)
		sort.Strings(dirs)
		for _, d := range dirs {
			out = append(out, filepath.Join(d, base))
		}
	}
	return out
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}

// Result is the structured outcome of one subprocess invocation.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExitError reports a tool that ran and exited non-zero. Stage is one of
// "compile", "link" or "readobj" so callers can classify the failure.
type ExitError struct {
	Stage  string
	Result Result
}

func (e *ExitError) Error() string {
	msg := firstLine(e.Result.Stderr)
	if msg == "" {
		msg = "no diagnostic output"
	}
	return fmt.Sprintf("%s failed (exit %d): %s", e.Stage, e.Result.ExitCode, msg)
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}

// run executes one tool synchronously, capturing both output streams.
// A non-zero exit is returned as *ExitError; failing to start the process at
// all is an ordinary error.
func run(ctx context.Context, stage string, argv []string) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{
		Args:   argv,
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			res.ExitCode = ee.ExitCode()
			return res, &ExitError{Stage: stage, Result: res}
		}
		return res, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return res, nil
}
