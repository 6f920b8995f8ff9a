package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/tp"
)

type (
	// SpillEnv records the spill and reload decisions of the spiller
	// and materializes them into the graph afterwards. The spiller
	// itself only decides, it never mutates the graph.
	SpillEnv struct {
		g *ir.Graph

		SlotSize  int
		SlotAlign int

		reloads []reloadReq
		edges   []edgeReloadReq

		phiList []ir.Node
		phis    map[ir.Node]struct{}

		slots  map[ir.Node]*tp.Entity
		spills map[ir.Node]ir.Node // value -> memory definition of its slot
		defs   map[ir.Node][]ir.Node
	}

	reloadReq struct {
		val    ir.Node
		before ir.Node
	}

	edgeReloadReq struct {
		val   ir.Node
		block ir.Node
		pos   int
	}
)

func NewSpillEnv(g *ir.Graph) *SpillEnv {
	return &SpillEnv{
		g:         g,
		SlotSize:  8,
		SlotAlign: 8,
		phis:      make(map[ir.Node]struct{}),
		slots:     make(map[ir.Node]*tp.Entity),
		spills:    make(map[ir.Node]ir.Node),
		defs:      make(map[ir.Node][]ir.Node),
	}
}

// AddReload requests val to be reloaded immediately before the given
// instruction.
func (s *SpillEnv) AddReload(val, before ir.Node) {
	tlog.V("spill").Printw("add reload", "val", val, "before", before, "from", loc.Caller(1))

	s.reloads = append(s.reloads, reloadReq{val: val, before: before})
}

// AddReloadOnEdge requests val to be reloaded on the control edge
// into input pos of block.
func (s *SpillEnv) AddReloadOnEdge(val, block ir.Node, pos int) {
	tlog.V("spill").Printw("add reload on edge", "val", val, "block", block, "pos", pos, "from", loc.Caller(1))

	s.edges = append(s.edges, edgeReloadReq{val: val, block: block, pos: pos})
}

// SpillPhi marks a phi whose inputs get spilled to a common slot on
// every incoming edge, turning the phi into a memory phi.
func (s *SpillEnv) SpillPhi(phi ir.Node) {
	if s.g.Op(phi) != ir.OpPhi {
		panic(phi)
	}

	if _, ok := s.phis[phi]; ok {
		return
	}

	tlog.V("spill").Printw("spill phi", "phi", phi)

	s.phis[phi] = struct{}{}
	s.phiList = append(s.phiList, phi)
}

// Materialize inserts the recorded Spill and Reload nodes into the
// graph and schedule, rewires the reloaded uses, and re-establishes
// SSA for values reloaded on edges.
func (s *SpillEnv) Materialize(ctx context.Context) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "be: insert spills and reloads", "graph", s.g.Name)
	defer tr.Finish("err", &err)

	g := s.g

	for _, phi := range s.phiList {
		s.spillDef(phi)
	}

	edged := make(map[ir.Node]struct{})

	for _, r := range s.reloads {
		mem := s.spillDef(r.val)

		rl := g.NewReload(g.BlockOf(r.before), mem, s.slots[r.val], g.Mode(r.val))
		g.SetCls(rl, g.Cls(r.val))
		g.SchedMoveBefore(rl, r.before)

		for i, in := range g.Ins(r.before) {
			if in == r.val {
				g.SetIn(r.before, i, rl)
			}
		}

		s.defs[r.val] = append(s.defs[r.val], rl)

		tr.V("materialize").Printw("reload", "val", r.val, "before", r.before, "node", rl)
	}

	for _, r := range s.edges {
		pred := g.BlockOf(g.In(r.block, r.pos))

		mem := s.spillDef(r.val)

		rl := g.NewReload(pred, mem, s.slots[r.val], g.Mode(r.val))
		g.SetCls(rl, g.Cls(r.val))
		s.schedLate(rl, pred)

		s.defs[r.val] = append(s.defs[r.val], rl)
		edged[r.val] = struct{}{}

		tr.V("materialize").Printw("edge reload", "val", r.val, "block", r.block, "pos", r.pos, "node", rl)
	}

	// uses of a value reloaded on an edge are dominated by several
	// definitions now, reconstruct ssa for them
	for _, r := range s.edges {
		val := r.val

		if _, ok := edged[val]; !ok {
			continue
		}

		delete(edged, val)

		defs := append([]ir.Node{val}, s.defs[val]...)

		phis, err := ReconstructSSA(ctx, g, defs)
		if err != nil {
			return errors.Wrap(err, "ssa: val %v", val)
		}

		for _, p := range phis {
			g.SetCls(p, g.Cls(val))
		}
	}

	return nil
}

// spillDef returns the memory definition of the value's spill slot,
// creating the Spill nodes (and the memory phi for spilled phis) on
// first request.
func (s *SpillEnv) spillDef(val ir.Node) ir.Node {
	g := s.g

	if mem, ok := s.spills[val]; ok {
		return mem
	}

	ent := s.slotFor(val)

	if _, ok := s.phis[val]; ok {
		b := g.BlockOf(val)

		ins := make([]ir.Node, g.Arity(val))
		for i := range ins {
			ins[i] = ir.None
		}

		memphi := g.NewPhi(b, ir.ModeM, ins...)
		s.spills[val] = memphi

		// the phi arguments go to the phi's own slot on every edge
		for i := 0; i < g.Arity(val); i++ {
			pred := g.BlockOf(g.In(b, i))

			sp := g.NewSpill(pred, g.In(val, i), ent)
			s.schedLate(sp, pred)

			g.SetIn(memphi, i, sp)
		}

		return memphi
	}

	b := g.BlockOf(val)

	sp := g.NewSpill(b, val, ent)

	if g.IsScheduled(val) {
		g.SchedMoveAfter(sp, val)
	} else if first := g.SchedFirst(b); first != ir.None && first != sp {
		g.SchedMoveBefore(sp, first)
	}

	s.spills[val] = sp

	return sp
}

func (s *SpillEnv) slotFor(val ir.Node) *tp.Entity {
	ent, ok := s.slots[val]
	if !ok {
		ent = s.g.Frame.NewSpillSlot(s.SlotSize, s.SlotAlign)
		s.slots[val] = ent
	}

	return ent
}

// schedLate moves n to the end of block b, but before the terminator.
func (s *SpillEnv) schedLate(n, b ir.Node) {
	g := s.g

	for _, m := range g.Sched(b) {
		if m == n || !isCF(g, m) {
			continue
		}

		g.SchedMoveBefore(n, m)
		return
	}
}

func isCF(g *ir.Graph, n ir.Node) bool {
	switch g.Op(n) {
	case ir.OpJmp, ir.OpCond, ir.OpReturn:
		return true
	case ir.OpProj:
		return g.Mode(n) == ir.ModeX
	}

	return false
}
