package spillfuzz

import (
	"strings"
	"testing"
)

// mustParseOne parses a single-function dump.
func mustParseOne(t *testing.T, dump string) *Function {
	t.Helper()
	funcs, err := ParseDumpString(dump)
	if err != nil {
		t.Fatal(err)
	}
	if len(funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(funcs))
	}
	return funcs[0]
}

const diamondDump = `# Machine code for function diamond: NoVRegs
bb.0.entry:
  successors: %bb.1(0x40000000), %bb.2(0x40000000)
  S_CBRANCH_SCC1 %bb.2, implicit killed $scc
bb.1.left:
  successors: %bb.3(0x80000000)
  S_BRANCH %bb.3
bb.2.right:
  successors: %bb.3(0x80000000)
bb.3.join:
  S_ENDPGM 0
# End machine code for function diamond.
`

func TestDominatorsDiamond(t *testing.T) {
	fn := mustParseOne(t, diamondDump)
	dom := BuildCFG(fn).Dominators()

	cases := []struct {
		a, b int
		want bool
	}{
		{0, 0, true},
		{0, 1, true},
		{0, 2, true},
		{0, 3, true},
		{1, 3, false},
		{2, 3, false},
		{3, 1, false},
		{1, 2, false},
	}
	for _, c := range cases {
		if got := dom.Dominates(c.a, c.b); got != c.want {
			t.Fatalf("Dominates(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
	if got := dom.Idom(3); got != 0 {
		t.Fatalf("idom(join) = %d, want 0", got)
	}
}

func TestDominatorsLoopFixedPoint(t *testing.T) {
	// entry -> header <-> body, header -> exit. The back-edge must not change
	// the fact that header dominates body and exit.
	dump := `# Machine code for function loop: NoVRegs
bb.0.entry:
  successors: %bb.1(0x80000000)
bb.1.header:
  successors: %bb.2(0x7c000000), %bb.3(0x04000000)
  S_CBRANCH_SCC1 %bb.3, implicit killed $scc
bb.2.body:
  successors: %bb.1(0x80000000)
  S_BRANCH %bb.1
bb.3.exit:
  S_ENDPGM 0
# End machine code for function loop.
`
	fn := mustParseOne(t, dump)
	dom := BuildCFG(fn).Dominators()
	if !dom.Dominates(1, 2) || !dom.Dominates(1, 3) {
		t.Fatal("loop header must dominate body and exit")
	}
	if dom.Dominates(2, 1) || dom.Dominates(2, 3) {
		t.Fatal("loop body must not dominate header or exit")
	}
}

func TestUnreachableExcluded(t *testing.T) {
	dump := `# Machine code for function dead: NoVRegs
bb.0.entry:
  successors: %bb.2(0x80000000)
  S_BRANCH %bb.2
bb.1.orphan:
  successors: %bb.2(0x80000000)
bb.2.end:
  S_ENDPGM 0
# End machine code for function dead.
`
	fn := mustParseOne(t, dump)
	cfg := BuildCFG(fn)
	if cfg.Reachable[1] {
		t.Fatal("orphan block should be unreachable")
	}
	dom := cfg.Dominators()
	if dom.Dominates(1, 2) || dom.Dominates(0, 1) {
		t.Fatal("unreachable block takes no part in dominance")
	}
}

func TestWriteDomTree(t *testing.T) {
	fn := mustParseOne(t, diamondDump)
	var sb strings.Builder
	if err := WriteDomTree(&sb, fn); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{"diamond bb.0.entry", "bb.1.left", "bb.2.right", "bb.3.join"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dom tree output missing %q:\n%s", want, out)
		}
	}
}
