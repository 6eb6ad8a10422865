package spillfuzz

// CFG is the control-flow graph of one machine function. Nodes are block
// ordinals into Function.Blocks; edges come from explicit successor lines
// when the dump carries them, otherwise from branch operands plus
// fallthrough. A CFG is never mutated after construction.
type CFG struct {
	Fn        *Function
	Succs     [][]int
	Preds     [][]int
	Reachable []bool
}

// BuildCFG derives the successor relation and reachability for fn.
// The entry block is fn.Blocks[0].
func BuildCFG(fn *Function) *CFG {
	n := len(fn.Blocks)
	c := &CFG{
		Fn:        fn,
		Succs:     make([][]int, n),
		Preds:     make([][]int, n),
		Reachable: make([]bool, n),
	}

	byIndex := make(map[int]int, n)
	for ord, b := range fn.Blocks {
		byIndex[b.Index] = ord
	}

	for ord, b := range fn.Blocks {
		var succs []int
		if b.hasSuccLine {
			for _, idx := range b.succs {
				if t, ok := byIndex[idx]; ok {
					succs = appendUnique(succs, t)
				}
			}
		} else {
			succs = derivedSuccs(b, ord, n, byIndex)
		}
		c.Succs[ord] = succs
		for _, t := range succs {
			c.Preds[t] = append(c.Preds[t], ord)
		}
	}

	if n > 0 {
		c.markReachable(0)
	}
	return c
}

// derivedSuccs computes edges for a block without an explicit successors
// line: every %bb operand of a branch instruction, plus fallthrough to the
// next block unless the last instruction is a barrier terminator.
func derivedSuccs(b *Block, ord, n int, byIndex map[int]int) []int {
	var succs []int
	for _, ins := range b.Instrs {
		if !isBranch(ins.Op) {
			continue
		}
		for _, m := range succBlockRe.FindAllStringSubmatch(ins.Text, -1) {
			idx := atoiOrZero(m[1])
			if t, ok := byIndex[idx]; ok {
				succs = appendUnique(succs, t)
			}
		}
	}
	fallthru := ord+1 < n
	if len(b.Instrs) > 0 && isBarrierTerm(b.Instrs[len(b.Instrs)-1].Op) {
		fallthru = false
	}
	if fallthru {
		succs = appendUnique(succs, ord+1)
	}
	return succs
}

func (c *CFG) markReachable(entry int) {
	stack := []int{entry}
	c.Reachable[entry] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range c.Succs[b] {
			if !c.Reachable[s] {
				c.Reachable[s] = true
				stack = append(stack, s)
			}
		}
	}
}

func atoiOrZero(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}
