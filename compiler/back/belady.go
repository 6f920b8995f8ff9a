package back

import (
	"context"
	"sort"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/TehMillhouse/libfirm/compiler/ir"
)

// The Belady rule: when a register must be freed, evict the value
// whose next use is farthest in the future. Values are decided per
// block against the block's schedule; the flow across block borders
// is fixed up afterwards by reloads on the control edges.

type (
	// wloc associates a value with a point in time.
	wloc struct {
		val  ir.Node
		time int
	}

	// workset models the values residing in registers at a program
	// point. Its length never exceeds the number of registers.
	workset struct {
		vals []wloc
	}

	beladyEnv struct {
		g     *ir.Graph
		cls   *RegClass
		nRegs int

		ws   *workset
		uses *Uses
		lv   *Liveness
		senv *SpillEnv

		instr   ir.Node
		instrNr int
		used    map[ir.Node]struct{}

		info map[ir.Node]*blockInfo
	}

	blockInfo struct {
		wsStart, wsEnd *workset
		processed      bool
	}
)

// SpillBelady runs the spiller for the register class of the chordal
// environment, materializing spills and reloads into the graph.
func SpillBelady(ctx context.Context, cenv *ChordalEnv) error {
	return SpillBeladyEnv(ctx, cenv, nil)
}

func SpillBeladyEnv(ctx context.Context, cenv *ChordalEnv, senv *SpillEnv) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "be: spill belady", "graph", cenv.G.Name, "cls", cenv.Cls.Name)
	defer tr.Finish("err", &err)

	g := cenv.G

	if senv == nil {
		senv = NewSpillEnv(g)

		if cenv.Cls.Bytes != 0 {
			senv.SlotSize = cenv.Cls.Bytes
			senv.SlotAlign = cenv.Cls.Bytes
		}
	}

	e := &beladyEnv{
		g:     g,
		cls:   cenv.Cls,
		nRegs: cenv.Cls.NRegs - cenv.Ignored,
		uses:  NewUses(g),
		lv:    NewLiveness(ctx, g),
		senv:  senv,
		info:  make(map[ir.Node]*blockInfo),
	}

	e.ws = newWorkset(e.nRegs)

	blocks := g.BlocksRPO()

	// decide which phis get spilled and compute the join start sets
	for _, b := range blocks {
		e.spillPhiWalker(ctx, b)
	}

	// fix high register pressure with the belady rule
	for _, b := range blocks {
		e.beladyBlock(ctx, b)
	}

	// belady was block local, fix the global flow on the edges
	for _, b := range blocks {
		e.fixBlockBorders(ctx, b)
	}

	err = senv.Materialize(ctx)
	if err != nil {
		return errors.Wrap(err, "materialize")
	}

	return nil
}

// distance to the next use, 0 for values which must stay in a
// register.
func (e *beladyEnv) distance(from ir.Node, step int, def ir.Node, skipFrom bool) int {
	if e.g.HasFlag(def, ir.FlagDontSpill) {
		return 0
	}

	return e.uses.NextUse(from, step, def, skipFrom)
}

// spillPhiWalker computes the start workset of every join block (and
// the entry block) and tells the spill environment which phis did not
// make the cut.
func (e *beladyEnv) spillPhiWalker(ctx context.Context, b ir.Node) {
	tr := tlog.SpanFromContext(ctx)
	g := e.g

	if g.Arity(b) == 1 && b != g.Entry {
		return
	}

	bi := &blockInfo{}
	e.info[b] = bi

	g.SchedRenumber(b)
	first := g.SchedFirst(b)

	h := heap.Heap[wloc]{Less: wlocLess}

	add := func(n ir.Node) {
		if !considerInRegAlloc(g, e.cls, n) {
			return
		}

		t := Infinity
		if first != ir.None {
			t = e.distance(first, 0, n, false)
		}

		h.Push(wloc{val: n, time: t})
	}

	for _, phi := range g.Phis(b) {
		add(phi)
	}

	e.lv.In(b).Range(func(i int) bool {
		add(ir.Node(i))

		return true
	})

	cnt := min(h.Len(), e.nRegs)

	ws := newWorkset(e.nRegs)

	for i := 0; i < cnt; i++ {
		ws.vals = append(ws.vals, h.Pop())
	}

	bi.wsStart = ws

	tr.V("start_workset").Printw("start workset", "block", b, "ws", ws)

	// phis beyond the best n_regs are spilled at the phi
	for h.Len() > 0 {
		l := h.Pop()

		if g.Op(l.val) != ir.OpPhi || g.BlockOf(l.val) != b {
			continue
		}

		e.senv.SpillPhi(l.val)
	}
}

// computeBlockStartInfo inherits the start workset of a block with a
// single predecessor from that predecessor's end workset, processing
// the predecessor first if needed.
func (e *beladyEnv) computeBlockStartInfo(ctx context.Context, b ir.Node) *blockInfo {
	g := e.g

	if bi, ok := e.info[b]; ok {
		return bi
	}

	bi := &blockInfo{}
	e.info[b] = bi

	pred := g.BlockOf(g.In(b, 0))

	pi := e.info[pred]
	if pi == nil || !pi.processed {
		e.beladyBlock(ctx, pred)
		pi = e.info[pred]
	}

	bi.wsStart = pi.wsEnd.clone()

	return bi
}

// beladyBlock decides for one block which values are used from
// registers and which are reloaded before their use.
func (e *beladyEnv) beladyBlock(ctx context.Context, b ir.Node) {
	tr := tlog.SpanFromContext(ctx)
	g := e.g

	bi := e.info[b]
	if bi == nil {
		bi = e.computeBlockStartInfo(ctx, b)
	}

	if bi.processed {
		return
	}

	bi.processed = true

	g.SchedRenumber(b)

	e.ws.copyFrom(bi.wsStart)
	e.used = make(map[ir.Node]struct{})
	e.instrNr = 0

	tr.V("decide").Printw("decide", "block", b, "ws_start", bi.wsStart)

	newVals := newWorkset(e.nRegs)

	sched := g.Sched(b)

	for pos := 0; pos < len(sched); pos++ {
		n := sched[pos]

		if e.ws.len() > e.nRegs {
			panic("too many values in workset")
		}

		// projs are handled with their tuple value, phis are no real
		// instructions
		if g.Op(n) == ir.OpProj || g.Op(n) == ir.OpPhi {
			continue
		}

		e.instr = n

		// make all values used by the instruction available
		newVals.clear()

		for _, in := range g.Ins(n) {
			if in != ir.None {
				e.wsAdd(newVals, in)
			}
		}

		e.displace(ctx, newVals, true)

		// make room for the values it defines
		newVals.clear()

		if g.Mode(n) == ir.ModeT {
			for j := pos + 1; j < len(sched) && g.Op(sched[j]) == ir.OpProj; j++ {
				e.wsAdd(newVals, sched[j])
			}
		} else {
			e.wsAdd(newVals, n)
		}

		e.displace(ctx, newVals, false)

		e.instrNr++
	}

	bi.wsEnd = e.ws.clone()

	tr.V("decide").Printw("decided", "block", b, "ws_end", bi.wsEnd)
}

// displace makes sure the new values can be held in registers,
// disposing as few and as late-used values as possible.
// With isUsage the new values are used, not defined, and reloads are
// recorded for those not residing in a register.
func (e *beladyEnv) displace(ctx context.Context, newVals *workset, isUsage bool) {
	tr := tlog.SpanFromContext(ctx)
	g := e.g

	toInsert := make([]ir.Node, 0, e.nRegs)

	// identify the number of needed slots and the values to reload
	for _, l := range newVals.vals {
		val := l.val

		if isUsage {
			e.used[val] = struct{}{}
		}

		if e.ws.contains(val) {
			tr.V("decide").Printw("skip", "val", val)
			continue
		}

		tr.V("decide").Printw("insert", "val", val, "usage", isUsage)
		toInsert = append(toInsert, val)

		if isUsage {
			e.senv.AddReload(val, e.instr)
		}
	}

	demand := len(toInsert)
	l := e.ws.len()
	maxAllowed := e.nRegs - demand

	// only dispose values if there is not enough room
	if l > maxAllowed {
		for i := range e.ws.vals {
			e.ws.vals[i].time = e.distance(e.instr, e.instrNr, e.ws.vals[i].val, !isUsage)
		}

		// the next-use oracle cannot distinguish dead from live-out,
		// push values with all uses behind us to the very end
		e.fixDeadValues(e.ws, e.instr)

		e.ws.sort()

		// a live-in disposed before its first use does not have to
		// start in a register at all; phis are handled by the phi
		// spill mechanism instead
		for i := maxAllowed; i < l; i++ {
			v := e.ws.vals[i].val

			if g.Op(v) == ir.OpPhi {
				continue
			}

			if _, ok := e.used[v]; !ok {
				cur := g.BlockOf(e.instr)
				e.info[cur].wsStart.remove(v)

				tr.V("decide").Printw("dispose dumb", "val", v)
			} else {
				tr.V("decide").Printw("dispose", "val", v)
			}
		}

		e.ws.vals = e.ws.vals[:maxAllowed]
	}

	for _, v := range toInsert {
		e.wsAdd(e.ws, v)
	}
}

// fixDeadValues sets the eviction priority of values whose uses are
// all scheduled before the current instruction.
func (e *beladyEnv) fixDeadValues(ws *workset, instr ir.Node) {
	g := e.g
	block := g.BlockOf(instr)

	for i := range ws.vals {
		if ws.vals[i].time == Infinity {
			continue
		}

		v := ws.vals[i].val
		fix := true

		for _, u := range g.Users(v) {
			if g.Op(u) == ir.OpDeleted {
				continue
			}

			if g.BlockOf(u) != block ||
				g.IsScheduled(u) && g.SchedPos(u) > g.SchedPos(instr) ||
				u == instr {
				fix = false
				break
			}
		}

		if fix {
			ws.vals[i].time = Infinity
		}
	}
}

// fixBlockBorders reloads on the incoming edges every start value a
// predecessor does not hold in a register at its end.
func (e *beladyEnv) fixBlockBorders(ctx context.Context, b ir.Node) {
	tr := tlog.SpanFromContext(ctx)
	g := e.g

	bi := e.info[b]
	if bi == nil {
		return
	}

	for i, jmp := range g.Ins(b) {
		pred := g.BlockOf(jmp)

		pi := e.info[pred]
		if pi == nil || pi.wsEnd == nil {
			continue
		}

		for _, l := range bi.wsStart.vals {
			v := l.val

			// a phi of this block wants its argument from the edge
			if g.Op(v) == ir.OpPhi && g.BlockOf(v) == b {
				v = g.In(v, i)

				if !considerInRegAlloc(g, e.cls, v) {
					continue
				}
			}

			// unknowns are available everywhere
			if g.Op(v) == ir.OpUnknown {
				continue
			}

			if pi.wsEnd.contains(v) {
				continue
			}

			tr.V("fix").Printw("reload on edge", "val", v, "block", b, "pred", pred)

			e.senv.AddReloadOnEdge(v, b, i)
		}
	}
}

// wsAdd inserts a value of the spilled register class into the
// workset if not already present.
func (e *beladyEnv) wsAdd(ws *workset, val ir.Node) {
	if !considerInRegAlloc(e.g, e.cls, val) {
		return
	}

	for _, l := range ws.vals {
		if l.val == val {
			return
		}
	}

	if len(ws.vals) >= e.nRegs {
		panic("workset already full")
	}

	ws.vals = append(ws.vals, wloc{val: val})
}

func newWorkset(n int) *workset {
	return &workset{vals: make([]wloc, 0, n)}
}

func (ws *workset) clone() *workset {
	r := &workset{vals: make([]wloc, len(ws.vals), cap(ws.vals))}
	copy(r.vals, ws.vals)

	return r
}

func (ws *workset) copyFrom(src *workset) {
	ws.vals = append(ws.vals[:0], src.vals...)
}

func (ws *workset) clear() {
	ws.vals = ws.vals[:0]
}

func (ws *workset) len() int {
	return len(ws.vals)
}

func (ws *workset) contains(val ir.Node) bool {
	for _, l := range ws.vals {
		if l.val == val {
			return true
		}
	}

	return false
}

func (ws *workset) remove(val ir.Node) {
	for i, l := range ws.vals {
		if l.val == val {
			ws.vals[i] = ws.vals[len(ws.vals)-1]
			ws.vals = ws.vals[:len(ws.vals)-1]
			return
		}
	}
}

func (ws *workset) sort() {
	sort.SliceStable(ws.vals, func(i, j int) bool {
		return ws.vals[i].time < ws.vals[j].time
	})
}

func wlocLess(d []wloc, i, j int) bool {
	return d[i].time < d[j].time
}

func (ws *workset) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if ws == nil {
		return e.AppendNil(b)
	}

	b = e.AppendMap(b, len(ws.vals))

	for _, l := range ws.vals {
		b = e.AppendInt(b, int(l.val))

		if l.time == Infinity {
			b = e.AppendString(b, "inf")
		} else {
			b = e.AppendInt(b, l.time)
		}
	}

	return b
}
