package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/set"
)

// SSA reconstruction: given several definitions of the same value,
// insert phis at the join points and rewire every use to the nearest
// dominating definition.

type (
	domTree struct {
		g *ir.Graph

		blocks []ir.Node // reverse postorder, entry first
		index  map[ir.Node]int

		idom     []int
		children [][]int
	}

	ssaJob struct {
		b   int
		cur ir.Node
	}
)

// ReconstructSSA rewires all users of the given definitions to the
// nearest dominating one, inserting phi nodes where paths join. The
// inserted phis are returned.
func ReconstructSSA(ctx context.Context, g *ir.Graph, defs []ir.Node) (phis []ir.Node, err error) {
	tr := tlog.SpanFromContext(ctx)

	if len(defs) < 2 {
		return nil, nil
	}

	mode := g.Mode(defs[0])

	for _, d := range defs[1:] {
		if g.Mode(d) != mode {
			return nil, errors.New("definition mode mismatch: %v vs %v", g.Mode(d), mode)
		}
	}

	dt := newDomTree(g)

	defSet := set.NewBitmap(g.Len())
	for _, d := range defs {
		defSet.Set(int(d))
	}

	// place phis on the iterated dominance frontier of the def blocks

	df := dt.frontiers()
	phiAt := make(map[ir.Node]ir.Node)

	var queue []int
	queued := set.NewBitmap(len(dt.blocks))

	for _, d := range defs {
		b := g.BlockOf(d)

		bi, ok := dt.index[b]
		if !ok {
			continue // unreachable definition
		}

		if !queued.IsSet(bi) {
			queued.Set(bi)
			queue = append(queue, bi)
		}
	}

	for len(queue) != 0 {
		bi := queue[0]
		queue = queue[1:]

		for _, fi := range df[bi] {
			fb := dt.blocks[fi]

			if _, ok := phiAt[fb]; ok {
				continue
			}

			ins := make([]ir.Node, g.Arity(fb))
			for i := range ins {
				ins[i] = ir.None
			}

			phi := g.NewPhi(fb, mode, ins...)
			phiAt[fb] = phi
			phis = append(phis, phi)

			tr.V("ssa").Printw("insert phi", "block", fb, "phi", phi)

			if !queued.IsSet(fi) {
				queued.Set(fi)
				queue = append(queue, fi)
			}
		}
	}

	for _, p := range phis {
		defSet.Set(int(p))
	}

	// walk the dominator tree rewiring uses to the current definition

	jobs := []ssaJob{{b: 0, cur: ir.None}}

	for len(jobs) != 0 {
		j := jobs[len(jobs)-1]
		jobs = jobs[:len(jobs)-1]

		b := dt.blocks[j.b]
		cur := j.cur

		if p, ok := phiAt[b]; ok {
			cur = p
		} else {
			for _, p := range g.Phis(b) {
				if defSet.IsSet(int(p)) {
					cur = p
				}
			}
		}

		for _, n := range g.Sched(b) {
			if cur != ir.None {
				for i, in := range g.Ins(n) {
					if in != ir.None && in != cur && defSet.IsSet(int(in)) {
						g.SetIn(n, i, cur)
					}
				}
			}

			if defSet.IsSet(int(n)) {
				cur = n
			}
		}

		// keep edges are not scheduled, fix them here
		if b == g.EndBlock && cur != ir.None {
			for i, in := range g.Ins(g.End) {
				if in != ir.None && in != cur && defSet.IsSet(int(in)) {
					g.SetIn(g.End, i, cur)
				}
			}
		}

		// feed the phis of the successors from this edge
		for _, s := range g.BlockSuccs(b) {
			for k, jmp := range g.Ins(s) {
				if g.BlockOf(jmp) != b {
					continue
				}

				for _, p := range g.Phis(s) {
					if !defSet.IsSet(int(p)) {
						continue
					}

					if in := g.In(p, k); in == ir.None || in != cur && defSet.IsSet(int(in)) {
						if cur != ir.None {
							g.SetIn(p, k, cur)
						}
					}
				}
			}
		}

		for _, c := range dt.children[j.b] {
			jobs = append(jobs, ssaJob{b: c, cur: cur})
		}
	}

	return phis, nil
}

func newDomTree(g *ir.Graph) *domTree {
	dt := &domTree{
		g:      g,
		blocks: g.BlocksRPO(),
	}

	dt.index = make(map[ir.Node]int, len(dt.blocks))

	for i, b := range dt.blocks {
		dt.index[b] = i
	}

	dt.idom = make([]int, len(dt.blocks))

	for i := range dt.idom {
		dt.idom[i] = -1
	}

	dt.idom[0] = 0

	for changed := true; changed; {
		changed = false

		for i := 1; i < len(dt.blocks); i++ {
			newIdom := -1

			for _, p := range g.BlockPreds(dt.blocks[i]) {
				pi, ok := dt.index[p]
				if !ok || dt.idom[pi] == -1 {
					continue
				}

				if newIdom == -1 {
					newIdom = pi
				} else {
					newIdom = dt.intersect(pi, newIdom)
				}
			}

			if newIdom != -1 && newIdom != dt.idom[i] {
				dt.idom[i] = newIdom
				changed = true
			}
		}
	}

	dt.children = make([][]int, len(dt.blocks))

	for i := 1; i < len(dt.blocks); i++ {
		if d := dt.idom[i]; d != -1 {
			dt.children[d] = append(dt.children[d], i)
		}
	}

	return dt
}

func (dt *domTree) intersect(a, b int) int {
	for a != b {
		for a > b {
			a = dt.idom[a]
		}
		for b > a {
			b = dt.idom[b]
		}
	}

	return a
}

// frontiers computes the dominance frontier of every block.
func (dt *domTree) frontiers() [][]int {
	df := make([][]int, len(dt.blocks))

	for i, b := range dt.blocks {
		preds := dt.g.BlockPreds(b)

		if len(preds) < 2 {
			continue
		}

		for _, p := range preds {
			r, ok := dt.index[p]
			if !ok {
				continue
			}

			for r != dt.idom[i] {
				if !containsInt(df[r], i) {
					df[r] = append(df[r], i)
				}

				if r == dt.idom[r] { // entry
					break
				}

				r = dt.idom[r]
			}
		}
	}

	return df
}

func containsInt(s []int, x int) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}

	return false
}
