// Package fuzz runs the campaign loop: select a program and configuration,
// compile both variants, check the machine dump against the spill-dominance
// oracle, and optionally execute both variants differentially on a device.
// Every iteration is journaled; findings carry enough to reproduce offline.
package fuzz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/xgo-dev/spillfuzz"
	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/corpus"
	"github.com/xgo-dev/spillfuzz/device"
	"github.com/xgo-dev/spillfuzz/inputspec"
	"github.com/xgo-dev/spillfuzz/runner"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

// Iteration outcomes recorded in the journal.
const (
	OutcomeClean          = "clean"
	OutcomeSkipped        = "skipped"
	OutcomeCompileFailure = "compile-failure"
	OutcomeStaticFinding  = "static-finding"
	OutcomeDynamicFinding = "dynamic-finding"
	OutcomeUnsupported    = "unsupported-abi"
	OutcomeDeviceError    = "device-error"
)

// Options configures a campaign.
type Options struct {
	CorpusDir  string
	OutDir     string
	Iterations int
	Seed       int64
	Limits     corpus.Limits
	Passes     []string
	// SpillSGPRToVGPR pins the backend's SGPR-to-VGPR spilling mode; nil
	// leaves the default.
	SpillSGPRToVGPR *bool
	Verify          bool
	// Strict turns compile and link failures into reported findings instead
	// of discarded iterations.
	Strict bool
	// Kernel overrides automatic kernel selection for the dynamic oracle.
	Kernel     string
	BufferSize int
}

// Stats counts iteration outcomes.
type Stats struct {
	Iterations      int
	Clean           int
	Skipped         int
	CompileFailures int
	StaticFindings  int
	DynamicFindings int
	Unsupported     int
	DeviceErrors    int
}

func (s Stats) String() string {
	return fmt.Sprintf("iterations=%d clean=%d skipped=%d compile-failures=%d static=%d dynamic=%d unsupported=%d device-errors=%d",
		s.Iterations, s.Clean, s.Skipped, s.CompileFailures, s.StaticFindings, s.DynamicFindings, s.Unsupported, s.DeviceErrors)
}

// Campaign owns one fuzz run. The device runtime is optional; without one
// only the static oracle runs.
type Campaign struct {
	opts  Options
	comp  toolchain.Compiler
	rt    device.Runtime
	rep   *Reporter
	preds []corpus.Predicate
	log   io.Writer

	Stats Stats
}

// New prepares a campaign. rt may be nil for static-only runs.
func New(opts Options, comp toolchain.Compiler, rt device.Runtime, log io.Writer) (*Campaign, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 4096
	}
	if opts.Limits == (corpus.Limits{}) {
		opts.Limits = corpus.DefaultLimits()
	}
	if len(opts.Passes) == 0 {
		opts.Passes = []string{"greedy"}
	}
	if log == nil {
		log = io.Discard
	}
	rep, err := NewReporter(opts.OutDir)
	if err != nil {
		return nil, err
	}
	return &Campaign{
		opts:  opts,
		comp:  comp,
		rt:    rt,
		rep:   rep,
		preds: corpus.DefaultPredicates(),
		log:   log,
	}, nil
}

// Close releases the journal.
func (c *Campaign) Close() error { return c.rep.Close() }

// Run executes the configured number of iterations. The loop is sequential:
// one iteration owns the whole pipeline before the next starts, so a finding
// is always attributable to exactly one program and configuration.
func (c *Campaign) Run(ctx context.Context) error {
	crp, err := corpus.Load(c.opts.CorpusDir)
	if err != nil {
		return err
	}
	mcpu := mcpuOf(c.comp)
	rng := rand.New(rand.NewSource(c.opts.Seed))
	fmt.Fprintf(c.log, "campaign: %d programs, %d iterations, seed %d\n",
		len(crp.Files), c.opts.Iterations, c.opts.Seed)

	for i := 0; i < c.opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Stats.Iterations++
		rec, err := c.runIteration(ctx, rng, crp, mcpu)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		c.count(rec.Outcome)
		if err := c.rep.Journal(rec); err != nil {
			return err
		}
		if rec.Finding != "" {
			fmt.Fprintf(c.log, "iteration %d: %s %s (%s)\n", i, rec.Outcome, rec.Finding, rec.Program)
		}
		if (i+1)%100 == 0 {
			fmt.Fprintf(c.log, "progress: %s\n", c.Stats)
		}
	}
	fmt.Fprintf(c.log, "done: %s\n", c.Stats)
	return nil
}

func (c *Campaign) count(outcome string) {
	switch outcome {
	case OutcomeClean:
		c.Stats.Clean++
	case OutcomeSkipped:
		c.Stats.Skipped++
	case OutcomeCompileFailure:
		c.Stats.CompileFailures++
	case OutcomeStaticFinding:
		c.Stats.StaticFindings++
	case OutcomeDynamicFinding:
		c.Stats.DynamicFindings++
	case OutcomeUnsupported:
		c.Stats.Unsupported++
	case OutcomeDeviceError:
		c.Stats.DeviceErrors++
	}
}

// runIteration drives one program through selection, mutation, compilation,
// the static oracle and, when a runtime is attached, the dynamic oracle.
func (c *Campaign) runIteration(ctx context.Context, rng *rand.Rand, crp *corpus.Corpus, mcpu string) (IterationRecord, error) {
	path := crp.Pick(rng)
	rec := IterationRecord{Program: path}

	program, err := crp.Read(path)
	if err != nil {
		return rec, err
	}
	if name, denied := corpus.Incompatible(c.preds, program, mcpu); denied {
		rec.Outcome = OutcomeSkipped
		rec.Detail = name
		return rec, nil
	}

	cfg := corpus.NewConfig(rng, c.opts.Limits, c.opts.Passes, c.opts.SpillSGPRToVGPR)
	rec.Config = cfg
	mutated := corpus.ApplyRegisterBudget(program, cfg.VGPR, cfg.SGPR)

	work, err := os.MkdirTemp("", "spillfuzz-iter-")
	if err != nil {
		return rec, err
	}
	defer os.RemoveAll(work)

	mutPath := filepath.Join(work, "mutated.ll")
	refPath := filepath.Join(work, "reference.ll")
	if err := os.WriteFile(mutPath, []byte(mutated), 0o644); err != nil {
		return rec, err
	}
	if err := os.WriteFile(refPath, []byte(program), 0o644); err != nil {
		return rec, err
	}

	opts := toolchain.BuildOptions{
		StopAfter:           cfg.Pass,
		VerifyMachineInstrs: c.opts.Verify,
		SpillSGPRToVGPR:     cfg.SpillSGPRToVGPR,
	}

	mutDump, err := c.comp.CompileDump(ctx, mutPath, opts)
	if err != nil {
		return c.compileOutcome(rec, mutated, cfg, err)
	}
	refDump, err := c.comp.CompileDump(ctx, refPath, opts)
	if err != nil {
		return c.compileOutcome(rec, mutated, cfg, err)
	}

	// Each dump is checked independently: a defect in the unconstrained
	// reference build is just as reportable as one provoked by the budget.
	mutIssues, err := spillfuzz.CheckDump(bytes.NewReader(mutDump))
	if err != nil {
		return rec, fmt.Errorf("parse mutated dump of %s: %w", path, err)
	}
	refIssues, err := spillfuzz.CheckDump(bytes.NewReader(refDump))
	if err != nil {
		return rec, fmt.Errorf("parse reference dump of %s: %w", path, err)
	}
	if len(mutIssues) > 0 || len(refIssues) > 0 {
		f := Finding{
			ID:              FindingID(mutated, cfg),
			Program:         path,
			Config:          cfg,
			StaticIssues:    mutIssues,
			ReferenceIssues: refIssues,
		}
		if _, err := c.rep.Report(f, mutated, map[string][]byte{"mutated.mir": mutDump, "reference.mir": refDump}); err != nil {
			return rec, err
		}
		rec.Outcome = OutcomeStaticFinding
		rec.Finding = f.ID
		rec.Detail = fmt.Sprintf("%d mutated / %d reference issues", len(mutIssues), len(refIssues))
		return rec, nil
	}

	if c.rt == nil || !corpus.HasKernel(mutated) {
		rec.Outcome = OutcomeClean
		return rec, nil
	}
	return c.runDynamic(ctx, rec, work, mutPath, refPath, mutated, cfg, opts, mutDump, refDump)
}

// compileOutcome classifies a toolchain failure. Tool exit statuses are
// discarded (or reported under strict mode); anything else, a missing tool
// for example, aborts the campaign.
func (c *Campaign) compileOutcome(rec IterationRecord, mutated string, cfg corpus.Config, err error) (IterationRecord, error) {
	var exit *toolchain.ExitError
	if !errors.As(err, &exit) {
		return rec, err
	}
	rec.Detail = exit.Error()
	if !c.opts.Strict {
		rec.Outcome = OutcomeCompileFailure
		return rec, nil
	}
	f := Finding{
		ID:      FindingID(mutated, cfg),
		Program: rec.Program,
		Config:  cfg,
		Detail:  exit.Error(),
	}
	if _, rerr := c.rep.Report(f, mutated, map[string][]byte{"stderr.log": exit.Result.Stderr}); rerr != nil {
		return rec, rerr
	}
	rec.Outcome = OutcomeCompileFailure
	rec.Finding = f.ID
	return rec, nil
}

// runDynamic builds loadable binaries for both variants and compares their
// execution over one materialized input set.
func (c *Campaign) runDynamic(ctx context.Context, rec IterationRecord, work, mutPath, refPath, mutated string,
	cfg corpus.Config, opts toolchain.BuildOptions, mutDump, refDump []byte) (IterationRecord, error) {

	binMut, err := c.buildBinary(ctx, work, "mutated", mutPath, opts)
	if err != nil {
		return c.compileOutcome(rec, mutated, cfg, err)
	}
	binRef, err := c.buildBinary(ctx, work, "reference", refPath, opts)
	if err != nil {
		return c.compileOutcome(rec, mutated, cfg, err)
	}

	md, err := c.comp.ReadKernelMetadata(ctx, binMut)
	if err != nil {
		return c.compileOutcome(rec, mutated, cfg, err)
	}
	argspec, err := abi.ParseMetadata(md, c.opts.Kernel)
	if err != nil {
		var unsup *abi.UnsupportedError
		if errors.As(err, &unsup) {
			rec.Outcome = OutcomeUnsupported
			rec.Detail = unsup.Error()
			return rec, nil
		}
		return rec, err
	}

	seed := uint64(cfg.Seed)
	m, err := inputspec.Resolve(argspec, &inputspec.Spec{Seed: &seed}, c.opts.BufferSize)
	if err != nil {
		return rec, err
	}
	verdict, err := runner.Diff(c.rt, binRef, binMut, argspec, m)
	if err != nil {
		// Runtime faults are recorded per iteration; the campaign keeps going.
		var derr *device.Error
		if errors.As(err, &derr) {
			rec.Outcome = OutcomeDeviceError
			rec.Detail = err.Error()
			return rec, nil
		}
		return rec, err
	}
	if verdict.Match {
		rec.Outcome = OutcomeClean
		return rec, nil
	}

	f := Finding{
		ID:      FindingID(mutated, cfg),
		Program: rec.Program,
		Config:  cfg,
		Verdict: verdict,
	}
	if _, err := c.rep.Report(f, mutated, map[string][]byte{"mutated.mir": mutDump, "reference.mir": refDump}); err != nil {
		return rec, err
	}
	rec.Outcome = OutcomeDynamicFinding
	rec.Finding = f.ID
	rec.Detail = fmt.Sprintf("%d mismatching buffers", len(verdict.Mismatches))
	return rec, nil
}

func (c *Campaign) buildBinary(ctx context.Context, work, name, irPath string, opts toolchain.BuildOptions) (string, error) {
	obj := filepath.Join(work, name+".o")
	bin := filepath.Join(work, name+".hsaco")
	if err := c.comp.CompileObject(ctx, irPath, obj, opts); err != nil {
		return "", err
	}
	if err := c.comp.Link(ctx, obj, bin); err != nil {
		return "", err
	}
	return bin, nil
}

// mcpuOf recovers the target CPU for filter predicates when the compiler is
// the real subprocess adapter; fake compilers filter against the default.
func mcpuOf(comp toolchain.Compiler) string {
	if s, ok := comp.(*toolchain.Subprocess); ok {
		return s.Tools.MCPU
	}
	return "gfx90a"
}
