package opt

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/set"
)

// Removal of phi SCCs which have exactly one true predecessor. An SCC
// without any true predecessor is reported as an error.
// See "Simple and Efficient Construction of Static Single Assignment
// Form" by Braun et al.
//
// Tarjan's algorithm yields the SCCs in reverse topological order,
// which forgoes the need for a fixpoint iteration. Each SCC is checked
// for whether it is, as a whole, redundant. If it is, the mapping from
// its nodes to their unique outside predecessor is recorded for edge
// rerouting later.
//
// A non-redundant SCC may still hide smaller redundant SCCs in the
// subgraph induced by the nodes that do not connect to its outside.
// Those interior nodes are re-seeded with a larger iteration depth, so
// that the rim nodes act as SCC boundaries from then on.

type (
	sccEnv struct {
		g *ir.Graph

		info  []sccInfo
		stack []ir.Node
		next  int

		queue []scc

		repl map[ir.Node]ir.Node
	}

	sccInfo struct {
		dfn     int
		uplink  int
		depth   int
		inStack bool
	}

	scc struct {
		nodes *set.Bitmap
		depth int
	}

	sccFrame struct {
		n ir.Node
		i int // next input index
	}
)

// RemovePhiSCCs collapses every strongly connected component of phi
// nodes whose only external input is a single value.
func RemovePhiSCCs(ctx context.Context, g *ir.Graph) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "opt: remove phi sccs", "graph", g.Name)
	defer tr.Finish("err", &err)

	g.Reserve(ir.ResLink)
	defer g.Release(ir.ResLink)

	e := &sccEnv{
		g:    g,
		info: make([]sccInfo, g.Len()),
		repl: make(map[ir.Node]ir.Node),
	}

	for n := ir.Node(0); int(n) < g.Len(); n++ {
		if g.Op(n) != ir.OpPhi {
			continue
		}

		e.findSCCAt(n, 0)
	}

	for len(e.queue) != 0 {
		s := e.queue[0]
		e.queue = e.queue[1:]

		err = e.evaluate(ctx, s)
		if err != nil {
			return errors.Wrap(err, "scc")
		}
	}

	if tr.If("dump_replacements") {
		for n, r := range e.repl {
			tr.Printw("replace", "phi", n, "val", e.canonical(n), "step", r)
		}
	}

	e.rewire()

	return nil
}

// evaluate decides a single SCC from the work queue.
func (e *sccEnv) evaluate(ctx context.Context, s scc) error {
	tr := tlog.SpanFromContext(ctx)

	uniquePred := ir.None
	redundant := true

	var interior []ir.Node

	s.nodes.Range(func(i int) bool {
		n := ir.Node(i)

		// only nodes off the rim of the scc are eligible for re-seeding
		eligible := true

		for _, in := range e.g.Ins(n) {
			if in == ir.None {
				continue
			}

			// earlier sccs may have been mapped away already
			pred := e.canonical(in)

			if s.nodes.IsSet(int(pred)) {
				continue
			}

			if uniquePred != ir.None && pred != uniquePred {
				redundant = false
			}

			// keep scanning, every interior node still must be marked
			uniquePred = pred
			eligible = false
		}

		if eligible {
			interior = append(interior, n)
		}

		return true
	})

	tr.V("scc").Printw("scc", "nodes", s.nodes, "depth", s.depth, "redundant", redundant, "unique_pred", uniquePred, "interior", len(interior))

	if redundant {
		if uniquePred == ir.None {
			return errors.New("completely isolated phi cycle")
		}

		s.nodes.Range(func(i int) bool {
			e.repl[ir.Node(i)] = uniquePred

			return true
		})

		return nil
	}

	// re-seed the interior, the rim acts as a boundary now

	for _, n := range interior {
		e.info[n].depth = s.depth + 1
		e.info[n].dfn = 0
	}

	for _, n := range interior {
		e.findSCCAt(n, s.depth+1)
	}

	return nil
}

// removable tells whether n takes part in the scc search at the given
// iteration depth. Non-phis and rim nodes of earlier rounds are
// boundaries.
func (e *sccEnv) removable(n ir.Node, depth int) bool {
	if e.g.Op(n) != ir.OpPhi || e.g.HasFlag(n, ir.FlagLoopPhi) {
		return false
	}

	return e.info[n].depth >= depth
}

// findSCCAt runs one Tarjan walk rooted at n, restricted to removable
// phis. Completed SCCs of size > 1 go to the work queue.
func (e *sccEnv) findSCCAt(n ir.Node, depth int) {
	if !e.removable(n, depth) || e.info[n].dfn != 0 {
		return
	}

	frames := []sccFrame{{n: n}}
	e.open(n)

	for len(frames) != 0 {
		f := &frames[len(frames)-1]
		cur := f.n

		if f.i < e.g.Arity(cur) {
			in := e.g.In(cur, f.i)
			f.i++

			if in == ir.None {
				continue
			}

			pred := e.canonical(in)

			pi := &e.info[pred]

			if e.removable(pred, depth) && pi.dfn == 0 {
				e.open(pred)
				frames = append(frames, sccFrame{n: pred})
			} else if pi.inStack {
				if pi.dfn < e.info[cur].uplink {
					e.info[cur].uplink = pi.dfn
				}
			}

			continue
		}

		if e.info[cur].dfn == e.info[cur].uplink {
			e.popSCC(cur, depth)
		}

		frames = frames[:len(frames)-1]

		if l := len(frames); l != 0 {
			parent := frames[l-1].n

			if e.info[cur].uplink < e.info[parent].uplink {
				e.info[parent].uplink = e.info[cur].uplink
			}
		}
	}
}

func (e *sccEnv) open(n ir.Node) {
	e.next++
	e.info[n].dfn = e.next
	e.info[n].uplink = e.next
	e.info[n].inStack = true

	e.stack = append(e.stack, n)
}

func (e *sccEnv) popSCC(root ir.Node, depth int) {
	nodes := set.NewBitmap(e.g.Len())
	size := 0

	for {
		l := len(e.stack) - 1
		n := e.stack[l]
		e.stack = e.stack[:l]

		e.info[n].inStack = false
		nodes.Set(int(n))
		size++

		if n == root {
			break
		}
	}

	// trivial phis are left to the surrounding compiler
	if size <= 1 {
		return
	}

	e.queue = append(e.queue, scc{nodes: nodes, depth: depth})
}

// canonical chases the replacement map to its fixed point.
func (e *sccEnv) canonical(n ir.Node) ir.Node {
	for {
		r, ok := e.repl[n]
		if !ok {
			return n
		}

		n = r
	}
}

// rewire redirects every edge into a replaced phi to its replacement.
func (e *sccEnv) rewire() {
	g := e.g

	for n := ir.Node(0); int(n) < g.Len(); n++ {
		if g.Op(n) == ir.OpDeleted {
			continue
		}

		for i, in := range g.Ins(n) {
			if in == ir.None {
				continue
			}

			if r := e.canonical(in); r != in {
				g.SetIn(n, i, r)
			}
		}
	}
}
