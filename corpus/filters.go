package corpus

import (
	"regexp"
	"strings"
)

// A Predicate rejects program units the chosen target or pipeline stage
// cannot lower. Deny returns true to skip the program for this iteration;
// a skip is not a failure.
type Predicate struct {
	Name string
	Deny func(ir, mcpu string) bool
}

var (
	nonHSAShaderCCRe     = regexp.MustCompile(`\bamdgpu_(ps|vs|gs|hs|es|ls|cs)\b`)
	nonHSAShaderAttrRe   = regexp.MustCompile(`"amdgpu-shader-type"\s*=\s*"\w+"`)
	nonHSAFuncRe         = regexp.MustCompile(`\bamdgpu_cs_chain_func\b`)
	wmmaIntrinsicRe      = regexp.MustCompile(`\bllvm\.amdgcn\.wmma\.`)
	openclPrintfRe       = regexp.MustCompile(`\bllvm\.amdgcn\.printf\b`)
	flatAtomicFaddRe     = regexp.MustCompile(`\bllvm\.amdgcn\.flat\.atomic\.fadd\b`)
	r600IntrinsicRe      = regexp.MustCompile(`\bllvm\.r600\.`)
	legacyFMARe          = regexp.MustCompile(`\bllvm\.amdgcn\.fma\.legacy\b`)
	codeObjectVersionRe  = regexp.MustCompile(`\bCODE_OBJECT_VERSION\b`)
	dynamicAllocaRe      = regexp.MustCompile(`(?i)\balloca\b.*\baddrspace\(5\)`)
	smfmacIntrinsicRe    = regexp.MustCompile(`\bllvm\.amdgcn\.smfmac\.`)
	globalLDSGDSRe       = regexp.MustCompile(`@[\w\.\$]+.*addrspace\((2|3)\)`)
	nonKernelDefineRe    = regexp.MustCompile(`(?m)^define\b`)
	kernelDefineRe       = regexp.MustCompile(`(?m)^define\b.*\bamdgpu_kernel\b`)
	mfmaIntrinsicRe      = regexp.MustCompile(`\bllvm\.amdgcn\.mfma\.`)
	invalidAddrspaceRe   = regexp.MustCompile(`(?i)\binvalid addrspacecast\b`)
	gfxCallingConvRe     = regexp.MustCompile(`\bamdgpu_gfx\b`)
	fdot2IntrinsicRe     = regexp.MustCompile(`\bllvm\.amdgcn\.fdot2\.`)
	workgroupAttrTestRe  = regexp.MustCompile(`\bamdgpu-max-num-workgroups\b`)
	readRegisterBadRe    = regexp.MustCompile(`\btest_invalid_read_m0\b`)
	atomicFmaxIntrinsicRe = regexp.MustCompile(`\bllvm\.amdgcn\.(raw_ptr_buffer_atomic_fmax|raw_buffer_atomic_fmax|struct_ptr_buffer_atomic_fmax|struct_buffer_atomic_fmax|image_atomic_fmax|flat_atomic_fmax|global_atomic_fmax)\b`)
)

func mcpuAnyPrefix(mcpu string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(mcpu, p) {
			return true
		}
	}
	return false
}

// hasNonKernelDefine reports a define without the amdgpu_kernel calling
// convention somewhere in the module.
func hasNonKernelDefine(ir string) bool {
	for _, loc := range nonKernelDefineRe.FindAllStringIndex(ir, -1) {
		line := ir[loc[0]:]
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if !strings.Contains(line, "amdgpu_kernel") {
			return true
		}
	}
	return false
}

// DefaultPredicates is the deny set for the HSA compute pipeline. Each entry
// mirrors a construct the downstream tooling cannot lower for the chosen
// target, or a marker of error-path test inputs that would fail for reasons
// unrelated to spilling.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{"non-hsa-shader", func(ir, _ string) bool {
			return nonHSAShaderCCRe.MatchString(ir) ||
				nonHSAShaderAttrRe.MatchString(ir) ||
				nonHSAFuncRe.MatchString(ir)
		}},
		{"wmma-unsupported", func(ir, mcpu string) bool {
			return wmmaIntrinsicRe.MatchString(ir) && !mcpuAnyPrefix(mcpu, "gfx11", "gfx12")
		}},
		{"flat-atomic-fadd-unsupported", func(ir, mcpu string) bool {
			return flatAtomicFaddRe.MatchString(ir) && !mcpuAnyPrefix(mcpu, "gfx94", "gfx95")
		}},
		{"smfmac-unsupported", func(ir, mcpu string) bool {
			return smfmacIntrinsicRe.MatchString(ir) && !mcpuAnyPrefix(mcpu, "gfx95")
		}},
		{"mfma-unsupported", func(ir, mcpu string) bool {
			return mfmaIntrinsicRe.MatchString(ir) && !mcpuAnyPrefix(mcpu, "gfx90", "gfx94", "gfx95")
		}},
		{"opencl-printf", func(ir, _ string) bool { return openclPrintfRe.MatchString(ir) }},
		{"r600-intrinsics", func(ir, _ string) bool { return r600IntrinsicRe.MatchString(ir) }},
		{"legacy-fma", func(ir, _ string) bool { return legacyFMARe.MatchString(ir) }},
		{"code-object-version", func(ir, _ string) bool { return codeObjectVersionRe.MatchString(ir) }},
		{"dynamic-alloca", func(ir, _ string) bool { return dynamicAllocaRe.MatchString(ir) }},
		{"lds-gds-non-kernel", func(ir, _ string) bool {
			return globalLDSGDSRe.MatchString(ir) && hasNonKernelDefine(ir)
		}},
		{"invalid-addrspacecast", func(ir, _ string) bool { return invalidAddrspaceRe.MatchString(ir) }},
		{"gfx-calling-conv", func(ir, _ string) bool { return gfxCallingConvRe.MatchString(ir) }},
		{"fdot2-unsupported", func(ir, mcpu string) bool {
			return fdot2IntrinsicRe.MatchString(ir) && !mcpuAnyPrefix(mcpu, "gfx94", "gfx95")
		}},
		{"workgroup-attr-test", func(ir, _ string) bool { return workgroupAttrTestRe.MatchString(ir) }},
		{"invalid-read-register-test", func(ir, _ string) bool { return readRegisterBadRe.MatchString(ir) }},
		{"atomic-fmax-unsupported", func(ir, mcpu string) bool {
			return atomicFmaxIntrinsicRe.MatchString(ir) &&
				!mcpuAnyPrefix(mcpu, "gfx10", "gfx11", "gfx94", "gfx95")
		}},
	}
}

// Incompatible runs the predicate list and returns the name of the first
// matching deny rule.
func Incompatible(preds []Predicate, ir, mcpu string) (string, bool) {
	for _, p := range preds {
		if p.Deny(ir, mcpu) {
			return p.Name, true
		}
	}
	return "", false
}

// HasKernel reports whether the module defines at least one amdgpu_kernel;
// modules without one cannot feed the dynamic oracle but still pass through
// the static one.
func HasKernel(ir string) bool {
	return kernelDefineRe.MatchString(ir)
}
