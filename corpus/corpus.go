// Package corpus selects program units and register-pressure configurations
// for fuzz iterations. Programs are immutable textual LLVM IR modules; a
// configuration is a register budget, a pass-pipeline stop point and a seed.
// Compatibility filtering is an explicit predicate list so new reject rules
// never touch the selection loop.
package corpus

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Config is one fuzz configuration: the register budget the compilation is
// constrained to, the pass-pipeline stop point, and the seed that produced
// it. Immutable once generated.
type Config struct {
	VGPR            int    `json:"vgpr"`
	SGPR            int    `json:"sgpr"`
	Pass            string `json:"pass"`
	SpillSGPRToVGPR *bool  `json:"spill_sgpr_to_vgpr,omitempty"`
	Seed            int64  `json:"seed"`
}

func (c Config) String() string {
	return fmt.Sprintf("vgpr=%d sgpr=%d pass=%s seed=%d", c.VGPR, c.SGPR, c.Pass, c.Seed)
}

// Limits bound the register budgets a campaign draws from.
type Limits struct {
	MinVGPR, MaxVGPR int
	MinSGPR, MaxSGPR int
}

// DefaultLimits matches the budget range the backend will actually honor for
// compute kernels.
func DefaultLimits() Limits {
	return Limits{MinVGPR: 8, MaxVGPR: 128, MinSGPR: 8, MaxSGPR: 128}
}

// NewConfig draws a configuration from rng within limits. passes must be
// non-empty; the first entry is the stop point (multi-pass selection keeps
// the remaining entries for future pipeline stops).
func NewConfig(rng *rand.Rand, limits Limits, passes []string, spillSGPRToVGPR *bool) Config {
	pass := "greedy"
	if len(passes) > 0 {
		pass = passes[0]
	}
	return Config{
		VGPR:            limits.MinVGPR + rng.Intn(limits.MaxVGPR-limits.MinVGPR+1),
		SGPR:            limits.MinSGPR + rng.Intn(limits.MaxSGPR-limits.MinSGPR+1),
		Pass:            pass,
		SpillSGPRToVGPR: spillSGPRToVGPR,
		Seed:            rng.Int63(),
	}
}

// Corpus is an ordered collection of program unit paths.
type Corpus struct {
	Dir   string
	Files []string
}

// Load walks dir for .ll modules, sorted for reproducible selection.
func Load(dir string) (*Corpus, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".ll") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .ll inputs found in %s", dir)
	}
	sort.Strings(files)
	return &Corpus{Dir: dir, Files: files}, nil
}

// Pick selects one program path.
func (c *Corpus) Pick(rng *rand.Rand) string {
	return c.Files[rng.Intn(len(c.Files))]
}

// Read returns the program text. Program units are never modified in place;
// budget injection happens on a copy (see ApplyRegisterBudget).
func (c *Corpus) Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
