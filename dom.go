package spillfuzz

import (
	"fmt"
	"io"
	"sort"

	"github.com/xlab/treeprint"
)

// DomTree holds immediate dominators for the reachable blocks of a CFG,
// computed with the iterative postorder/intersection algorithm. Loop
// back-edges are handled by iterating to a fixed point, not by a single
// forward pass.
type DomTree struct {
	cfg     *CFG
	idom    []int // idom[ord], -1 for unreachable blocks; idom[entry] = entry
	postnum []int // postorder number per block, -1 for unreachable
}

// Dominators computes the dominator tree over the reachable part of c.
func (c *CFG) Dominators() *DomTree {
	n := len(c.Fn.Blocks)
	d := &DomTree{
		cfg:     c,
		idom:    make([]int, n),
		postnum: make([]int, n),
	}
	for i := range d.idom {
		d.idom[i] = -1
		d.postnum[i] = -1
	}
	if n == 0 {
		return d
	}

	order := c.postorder(0)
	for num, b := range order {
		d.postnum[b] = num
	}

	entry := 0
	d.idom[entry] = entry
	changed := true
	for changed {
		changed = false
		// Reverse postorder, entry excluded.
		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]
			if b == entry {
				continue
			}
			newIdom := -1
			for _, p := range c.Preds[b] {
				if d.idom[p] < 0 {
					continue // pred not processed yet or unreachable
				}
				if newIdom < 0 {
					newIdom = p
				} else {
					newIdom = d.intersect(p, newIdom)
				}
			}
			if newIdom >= 0 && d.idom[b] != newIdom {
				d.idom[b] = newIdom
				changed = true
			}
		}
	}
	return d
}

// postorder returns a DFS postordering of the blocks reachable from entry.
func (c *CFG) postorder(entry int) []int {
	type frame struct {
		b, next int
	}
	seen := make([]bool, len(c.Fn.Blocks))
	order := make([]int, 0, len(c.Fn.Blocks))
	stack := []frame{{b: entry}}
	seen[entry] = true
	for len(stack) > 0 {
		tos := len(stack) - 1
		f := stack[tos]
		if f.next < len(c.Succs[f.b]) {
			stack[tos].next++
			s := c.Succs[f.b][f.next]
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		stack = stack[:tos]
		order = append(order, f.b)
	}
	return order
}

// intersect finds the closest common dominator of b and c using postorder
// numbers.
func (d *DomTree) intersect(b, c int) int {
	for b != c {
		for d.postnum[b] < d.postnum[c] {
			b = d.idom[b]
		}
		for d.postnum[c] < d.postnum[b] {
			c = d.idom[c]
		}
	}
	return b
}

// Dominates reports whether block a dominates block b (reflexively). Both are
// block ordinals; unreachable blocks dominate nothing and are dominated by
// nothing.
func (d *DomTree) Dominates(a, b int) bool {
	if d.idom[a] < 0 || d.idom[b] < 0 {
		return false
	}
	for {
		if b == a {
			return true
		}
		next := d.idom[b]
		if next == b {
			return false // reached entry
		}
		b = next
	}
}

// Idom returns the immediate dominator ordinal of b, or -1 if b is the entry
// or unreachable.
func (d *DomTree) Idom(b int) int {
	if d.idom[b] < 0 || d.idom[b] == b {
		return -1
	}
	return d.idom[b]
}

// WriteDomTree renders the dominator tree of fn, one treeprint tree rooted at
// the entry block. Unreachable blocks are listed after the tree.
func WriteDomTree(w io.Writer, fn *Function) error {
	if len(fn.Blocks) == 0 {
		_, err := fmt.Fprintf(w, "%s: <no blocks>\n", fn.Name)
		return err
	}
	cfg := BuildCFG(fn)
	dom := cfg.Dominators()

	children := make(map[int][]int)
	for b := range fn.Blocks {
		if p := dom.Idom(b); p >= 0 {
			children[p] = append(children[p], b)
		}
	}
	for _, cs := range children {
		sort.Ints(cs)
	}

	root := treeprint.NewWithRoot(fmt.Sprintf("%s %s", fn.Name, fn.Blocks[0].Label()))
	var add func(t treeprint.Tree, b int)
	add = func(t treeprint.Tree, b int) {
		for _, c := range children[b] {
			add(t.AddBranch(fn.Blocks[c].Label()), c)
		}
	}
	add(root, 0)
	if _, err := io.WriteString(w, root.String()); err != nil {
		return err
	}
	for b, blk := range fn.Blocks {
		if !cfg.Reachable[b] {
			if _, err := fmt.Fprintf(w, "unreachable: %s\n", blk.Label()); err != nil {
				return err
			}
		}
	}
	return nil
}
