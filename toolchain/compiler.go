package toolchain

import (
	"context"
	"fmt"
	"os"
)

// BuildOptions selects how far the pass pipeline runs and which target knobs
// are set for one compilation. Register budgets are not here: they are
// injected into the IR as function attributes by the corpus layer, matching
// how the backend consumes them.
type BuildOptions struct {
	StopAfter           string // pass-pipeline stop point, e.g. "greedy"
	VerifyMachineInstrs bool
	SpillSGPRToVGPR     *bool // nil leaves the backend default
}

// Compiler is the capability interface over the external compiler. Keeping
// it an interface means an in-process compiler API could satisfy it later
// without touching any caller; the fuzz campaign is also tested against an
// in-memory implementation.
type Compiler interface {
	// CompileDump compiles irPath up to opts.StopAfter and returns the
	// post-allocation machine dump text.
	CompileDump(ctx context.Context, irPath string, opts BuildOptions) ([]byte, error)
	// CompileObject compiles irPath to a relocatable device object at objPath.
	CompileObject(ctx context.Context, irPath, objPath string, opts BuildOptions) error
	// Link turns a device object into a loadable binary at binPath.
	Link(ctx context.Context, objPath, binPath string) error
	// ReadKernelMetadata extracts the code-object kernel metadata of a
	// loadable binary.
	ReadKernelMetadata(ctx context.Context, binPath string) ([]byte, error)
}

// Subprocess implements Compiler by invoking the resolved tools. All
// invocations are synchronous and blocking; callers bound them with ctx.
type Subprocess struct {
	Tools Tools
}

var _ Compiler = (*Subprocess)(nil)

// DumpArgs builds the llc argv for a machine-dump compilation. Exposed for
// tests; the dump itself is printed by llc on stderr.
func (s *Subprocess) DumpArgs(irPath string, opts BuildOptions) []string {
	args := []string{
		s.Tools.LLC,
		"-mtriple=" + s.Tools.Triple,
		"-mcpu=" + s.Tools.MCPU,
		"-stop-after=" + opts.StopAfter,
		"-print-after=" + opts.StopAfter,
		"-o", os.DevNull,
	}
	args = appendCommonLLCArgs(args, opts)
	return append(args, irPath)
}

func (s *Subprocess) objectArgs(irPath, objPath string, opts BuildOptions) []string {
	args := []string{
		s.Tools.LLC,
		"-mtriple=" + s.Tools.Triple,
		"-mcpu=" + s.Tools.MCPU,
		"-filetype=obj",
		"-o", objPath,
	}
	args = appendCommonLLCArgs(args, opts)
	return append(args, irPath)
}

func appendCommonLLCArgs(args []string, opts BuildOptions) []string {
	if opts.VerifyMachineInstrs {
		args = append(args, "-verify-machineinstrs")
	}
	if opts.SpillSGPRToVGPR != nil {
		v := "0"
		if *opts.SpillSGPRToVGPR {
			v = "1"
		}
		args = append(args, "-amdgpu-spill-sgpr-to-vgpr="+v)
	}
	return args
}

func (s *Subprocess) CompileDump(ctx context.Context, irPath string, opts BuildOptions) ([]byte, error) {
	if opts.StopAfter == "" {
		return nil, fmt.Errorf("compile dump: empty stop-after pass")
	}
	res, err := run(ctx, "compile", s.DumpArgs(irPath, opts))
	if err != nil {
		return nil, err
	}
	// llc prints -print-after dumps on stderr.
	return res.Stderr, nil
}

func (s *Subprocess) CompileObject(ctx context.Context, irPath, objPath string, opts BuildOptions) error {
	_, err := run(ctx, "compile", s.objectArgs(irPath, objPath, opts))
	return err
}

func (s *Subprocess) Link(ctx context.Context, objPath, binPath string) error {
	_, err := run(ctx, "link", []string{
		s.Tools.LLD, "-shared", "--no-undefined", "-o", binPath, objPath,
	})
	return err
}

func (s *Subprocess) ReadKernelMetadata(ctx context.Context, binPath string) ([]byte, error) {
	res, err := run(ctx, "readobj", []string{
		s.Tools.ReadObj, "--amdgpu-code-object-metadata", binPath,
	})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}
