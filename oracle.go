package spillfuzz

import (
	"io"
	"sort"
)

// SpillIssue reports a stack-slot restore that is not guaranteed to observe a
// preceding save of the same slot on every path from the function entry.
type SpillIssue struct {
	Function string `json:"function"`
	Block    string `json:"block"`
	Slot     int    `json:"slot"`
	Reason   string `json:"reason"`
}

const reasonNoDominatingSave = "no dominating save"

// CheckFunction runs the spill-dominance check on one machine function.
//
// For every restore of a slot, some save of the same slot must lie in a block
// dominating the restore's block; a save earlier in the restore's own block
// counts as trivially dominating. Restores in unreachable blocks are not
// reported (they cannot execute), and saves in unreachable blocks do not
// count. The check is an existence check per restore, not a requirement that
// all saves dominate, and it is intentionally conservative: control flow the
// dominance model cannot see (predicated paths) may be flagged even when
// provably safe.
func CheckFunction(fn *Function) []SpillIssue {
	if len(fn.Blocks) == 0 || len(fn.Restores) == 0 {
		return nil
	}
	cfg := BuildCFG(fn)
	dom := cfg.Dominators()

	var issues []SpillIssue
	for slot, restores := range fn.Restores {
		saves := reachableSites(cfg, fn.Saves[slot])
		for _, r := range restores {
			if !cfg.Reachable[r.Block] {
				continue
			}
			if !hasDominatingSave(dom, saves, r) {
				issues = append(issues, SpillIssue{
					Function: fn.Name,
					Block:    fn.Blocks[r.Block].Label(),
					Slot:     slot,
					Reason:   reasonNoDominatingSave,
				})
			}
		}
	}
	sortIssues(issues)
	return issues
}

func hasDominatingSave(dom *DomTree, saves []SlotSite, r SlotSite) bool {
	for _, s := range saves {
		if s.Block == r.Block {
			if s.Pos < r.Pos {
				return true
			}
			continue
		}
		if dom.Dominates(s.Block, r.Block) {
			return true
		}
	}
	return false
}

func reachableSites(cfg *CFG, sites []SlotSite) []SlotSite {
	out := sites[:0:0]
	for _, s := range sites {
		if cfg.Reachable[s.Block] {
			out = append(out, s)
		}
	}
	return out
}

// CheckDump parses a machine dump and checks every function in it.
func CheckDump(r io.Reader) ([]SpillIssue, error) {
	funcs, err := ParseDump(r)
	if err != nil {
		return nil, err
	}
	var issues []SpillIssue
	for _, fn := range funcs {
		issues = append(issues, CheckFunction(fn)...)
	}
	return issues, nil
}

func sortIssues(issues []SpillIssue) {
	// Issues come out of map iteration; sorting keeps verdicts reproducible.
	sort.Slice(issues, func(i, j int) bool { return issueLess(issues[i], issues[j]) })
}

func issueLess(a, b SpillIssue) bool {
	if a.Function != b.Function {
		return a.Function < b.Function
	}
	if a.Block != b.Block {
		return a.Block < b.Block
	}
	return a.Slot < b.Slot
}
