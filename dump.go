package spillfuzz

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// This file parses the textual machine dump that llc emits on stderr with
// -print-after=<pass>. The dump carries one or more machine functions, each a
// sequence of basic blocks with post-allocation instructions. Only the shape
// needed by the spill oracle is modeled: block labels, successor edges, and
// spill save/restore sites with their stack slot.

// Instr is one instruction line of a basic block, kept verbatim plus the
// extracted mnemonic.
type Instr struct {
	Op   string
	Text string
	Line int // 1-based line number in the dump
}

// Block is a basic block of a machine function.
type Block struct {
	Index  int    // N in "bb.N"
	Name   string // optional IR block name from "bb.N.name:"
	Line   int    // line number of the label
	Instrs []Instr

	// succs holds successor bb indexes from an explicit "successors:" line.
	// When hasSuccLine is false, edges are derived from branch operands and
	// fallthrough instead (see cfg.go).
	succs       []int
	hasSuccLine bool
}

// Label renders the block label as it appeared in the dump, without colon.
func (b *Block) Label() string {
	if b.Name != "" {
		return fmt.Sprintf("bb.%d.%s", b.Index, b.Name)
	}
	return fmt.Sprintf("bb.%d", b.Index)
}

// SlotSite locates a spill save or restore inside a function: the ordinal of
// its block in Function.Blocks and the instruction position within the block.
type SlotSite struct {
	Block int
	Pos   int
}

// Function is one machine function of a dump.
type Function struct {
	Name   string
	Blocks []*Block

	// Saves and Restores map a stack slot index to its sites, in textual order.
	Saves    map[int][]SlotSite
	Restores map[int][]SlotSite
}

// Grammar rules of the dump format. Each is an isolated predicate so the
// block-label and spill-mnemonic patterns stay independently testable.
var (
	funcHeaderRe = regexp.MustCompile(`^# Machine code for function ([^\s:]+):`)
	funcEndRe    = regexp.MustCompile(`^# End machine code for function `)
	blockLabelRe = regexp.MustCompile(`^\s*bb\.(\d+)(?:\.([\w.$-]+))?:`)
	succBlockRe  = regexp.MustCompile(`%bb\.(\d+)`)
	stackSlotRe  = regexp.MustCompile(`%stack\.(\d+)`)
)

func matchFuncHeader(line string) (string, bool) {
	m := funcHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func matchBlockLabel(line string) (index int, name string, ok bool) {
	m := blockLabelRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

func isSuccessorLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "successors:")
}

func isBlockMetaLine(line string) bool {
	t := strings.TrimSpace(line)
	t = strings.TrimPrefix(t, "; ")
	return strings.HasPrefix(t, "predecessors:") || strings.HasPrefix(t, "liveins:")
}

// instrOp extracts the mnemonic of an instruction line: the first token, or
// the token following "=" for instructions with results, e.g.
// "renamable $sgpr4 = SI_SPILL_S32_RESTORE %stack.0, ...".
func instrOp(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if f == "=" && i+1 < len(fields) {
			return strings.TrimRight(fields[i+1], ",")
		}
	}
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ",")
}

// isSpillSave reports whether op is a spill save mnemonic
// (SI_SPILL_<rc>_SAVE).
func isSpillSave(op string) bool {
	return strings.HasPrefix(op, "SI_SPILL_") && strings.HasSuffix(op, "_SAVE")
}

// isSpillRestore reports whether op is a spill restore mnemonic
// (SI_SPILL_<rc>_RESTORE).
func isSpillRestore(op string) bool {
	return strings.HasPrefix(op, "SI_SPILL_") && strings.HasSuffix(op, "_RESTORE")
}

// stackSlot extracts the %stack.N operand of a spill instruction.
func stackSlot(text string) (int, bool) {
	m := stackSlotRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// isBranch reports whether op transfers control to an explicit block operand.
func isBranch(op string) bool {
	return op == "S_BRANCH" || strings.HasPrefix(op, "S_CBRANCH")
}

// isBarrierTerm reports whether op ends the block without falling through.
func isBarrierTerm(op string) bool {
	switch {
	case op == "S_BRANCH":
		return true
	case strings.HasPrefix(op, "S_ENDPGM"):
		return true
	case strings.HasPrefix(op, "S_SETPC"):
		return true
	case strings.HasPrefix(op, "SI_RETURN"):
		return true
	}
	return false
}

// ParseDump reads an llc machine dump and returns its functions in order.
// Lines outside a function header/end pair are ignored, so the raw stderr of
// an llc invocation can be fed in directly.
func ParseDump(r io.Reader) ([]*Function, error) {
	var (
		funcs []*Function
		fn    *Function
		blk   *Block
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()

		if name, ok := matchFuncHeader(line); ok {
			fn = &Function{
				Name:     name,
				Saves:    map[int][]SlotSite{},
				Restores: map[int][]SlotSite{},
			}
			funcs = append(funcs, fn)
			blk = nil
			continue
		}
		if fn == nil {
			continue
		}
		if funcEndRe.MatchString(line) {
			fn = nil
			blk = nil
			continue
		}

		if idx, name, ok := matchBlockLabel(line); ok {
			blk = &Block{Index: idx, Name: name, Line: lineno}
			fn.Blocks = append(fn.Blocks, blk)
			continue
		}
		if blk == nil {
			continue // frame objects and other preamble before the first block
		}
		if isSuccessorLine(line) {
			blk.hasSuccLine = true
			for _, m := range succBlockRe.FindAllStringSubmatch(line, -1) {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: bad successor %q", lineno, m[0])
				}
				blk.succs = appendUnique(blk.succs, n)
			}
			continue
		}
		if isBlockMetaLine(line) {
			continue
		}
		text := strings.TrimSpace(line)
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "#") {
			continue
		}

		ins := Instr{Op: instrOp(text), Text: text, Line: lineno}
		pos := len(blk.Instrs)
		blk.Instrs = append(blk.Instrs, ins)
		ord := len(fn.Blocks) - 1

		if isSpillSave(ins.Op) || isSpillRestore(ins.Op) {
			slot, ok := stackSlot(text)
			if !ok {
				return nil, fmt.Errorf("line %d: spill instruction without %%stack operand: %s", lineno, text)
			}
			site := SlotSite{Block: ord, Pos: pos}
			if isSpillSave(ins.Op) {
				fn.Saves[slot] = append(fn.Saves[slot], site)
			} else {
				fn.Restores[slot] = append(fn.Restores[slot], site)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return funcs, nil
}

// ParseDumpString is ParseDump over an in-memory dump.
func ParseDumpString(s string) ([]*Function, error) {
	return ParseDump(strings.NewReader(s))
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
