package back

import (
	"context"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/tp"
)

// Handling of the stack frame: assigning offsets to the frame
// entities, simulating the stack pointer displacement along the
// control flow, and re-establishing SSA for the stack pointer value.
//
// The stack grows downward. Displacements and entity offsets are
// negative relative to the stack pointer at function entry.

type (
	// SPSimFunc simulates the effect of a node on the stack pointer
	// displacement. Returning 0 signals that the stack pointer was
	// re-established from a frame pointer.
	SPSimFunc func(n ir.Node, offset int) int

	biasJob struct {
		b      ir.Node
		offset int
		wanted int
	}
)

func roundUp2(x, align int) int {
	return (x + align - 1) &^ (align - 1)
}

func roundUp2Misaligned(x, align, misalign int) int {
	return roundUp2(x+misalign, align) - misalign
}

// SortFrameEntities groups the spill slots of the frame together, in
// front of the ordinary entities with spillslotsFirst and behind them
// otherwise. Within each group the entities are in ascending nr order
// with spillslotsFirst and in descending nr order otherwise.
func SortFrameEntities(frame *tp.Frame, spillslotsFirst bool) {
	m := frame.Members

	if spillslotsFirst {
		sort.SliceStable(m, func(i, j int) bool {
			e0, e1 := m[i], m[j]

			if e0.Kind == tp.KindSpillSlot {
				if e1.Kind != tp.KindSpillSlot {
					return true
				}
			} else if e1.Kind == tp.KindSpillSlot {
				return false
			}

			return e0.Nr < e1.Nr
		})
	} else {
		sort.SliceStable(m, func(i, j int) bool {
			e0, e1 := m[i], m[j]

			if e0.Kind == tp.KindSpillSlot {
				if e1.Kind != tp.KindSpillSlot {
					return false
				}
			} else if e1.Kind == tp.KindSpillSlot {
				return true
			}

			return e1.Nr < e0.Nr
		})
	}
}

// LayoutFrameType assigns an offset to every member of the frame
// which does not have one yet, laying out into negative direction
// below begin and below any pre-assigned member.
func LayoutFrameType(frame *tp.Frame, begin, misalign int) {
	offset := begin

	for _, m := range frame.Members {
		if m.Offset != tp.OffsetUnset && m.Offset < offset {
			offset = m.Offset
		}
	}

	for _, m := range frame.Members {
		if m.Offset != tp.OffsetUnset {
			continue
		}

		var size, align int

		if m.Kind == tp.KindSpillSlot {
			size = m.Size
			align = m.Align
		} else {
			size = m.Type.Size()
			align = max(m.Align, m.Type.Align())
		}

		offset -= size
		offset = -roundUp2Misaligned(-offset, align, misalign)

		m.Offset = offset
	}

	frame.Size = -offset
	frame.State = tp.LayoutFixed
}

// SimStackPointer walks the control flow from the entry block
// simulating the stack pointer displacement, patching IncSP nodes for
// alignment and recording the displacement on MemPerm nodes.
func SimStackPointer(ctx context.Context, g *ir.Graph, misalign int, p2align uint, sim SPSimFunc) {
	tr := tlog.SpanFromContext(ctx)

	g.Reserve(ir.ResBlockVisited)
	defer g.Release(ir.ResBlockVisited)

	g.IncBlockVisited()

	jobs := []biasJob{{b: g.Entry}}

	for len(jobs) != 0 {
		j := jobs[len(jobs)-1]
		jobs = jobs[:len(jobs)-1]

		if g.BlockVisited(j.b) {
			continue
		}

		g.MarkBlockVisited(j.b)

		offset, wanted := j.offset, j.wanted

		for _, n := range g.Sched(j.b) {
			switch g.Op(n) {
			case ir.OpIncSP:
				ofs := g.IncSPOffset(n)
				align := max(g.IncSPAlign(n), p2align)

				if align > 0 {
					// fill in the real, aligned stack frame size
					if ofs > 0 {
						panic(n)
					}

					alignment := 1 << align
					aligned := -roundUp2Misaligned(-(offset + ofs), alignment, misalign)
					slack := (offset + ofs) - aligned

					if slack > 0 {
						g.SetIncSPOffset(n, ofs-slack)
						offset -= slack
					}
				} else {
					// adjust so offset corresponds with wanted bias
					delta := wanted - offset
					if delta < 0 {
						panic(n)
					}

					if delta != 0 {
						g.SetIncSPOffset(n, ofs+delta)
						offset += delta
					}
				}

				offset += ofs
				wanted += ofs

				tr.V("sp_sim").Printw("incsp", "node", n, "ofs", g.IncSPOffset(n), "offset", offset, "wanted", wanted)
			case ir.OpMemPerm:
				g.SetMemPermOffset(n, offset)
			default:
				if sim == nil {
					continue
				}

				newOffset := sim(n, offset)

				if newOffset == 0 {
					wanted = 0
				} else {
					wanted += newOffset - offset
				}

				offset = newOffset
			}
		}

		if offset > wanted {
			panic(j.b)
		}

		for _, s := range g.BlockSuccs(j.b) {
			jobs = append(jobs, biasJob{b: s, offset: offset, wanted: wanted})
		}
	}
}

// FixStackNodes re-establishes SSA for the stack pointer value after
// frame layout introduced additional definitions.
func FixStackNodes(ctx context.Context, g *ir.Graph, sp Register) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "be: fix stack nodes", "graph", g.Name, "sp", sp)
	defer tr.Finish("err", &err)

	var spNodes []ir.Node

	for n := ir.Node(0); int(n) < g.Len(); n++ {
		if g.Op(n) == ir.OpDeleted || g.Op(n) == ir.OpBlock {
			continue
		}

		if g.Mode(n) != ir.ModeT && sp.Is(g, n) {
			spNodes = append(spNodes, n)
		}
	}

	// nothing to be done if there is no such node; in fact we must
	// not continue, for endless loops the producers may have lost
	// their keeps already
	if len(spNodes) == 0 {
		return nil
	}

	phis, err := ReconstructSSA(ctx, g, spNodes)
	if err != nil {
		return errors.Wrap(err, "ssa construction")
	}

	for _, phi := range phis {
		g.SetReg(phi, sp.Cls.ID, sp.Index)
	}

	// the last stack pointer producers are often kept alive although
	// the value was re-established from the frame pointer, drop the
	// keep edges and the orphaned producers
	end := g.End

	for i := g.Arity(end) - 1; i >= 0; i-- {
		in := g.In(end, i)

		if in == ir.None || g.Mode(in) == ir.ModeT || !sp.Is(g, in) {
			continue
		}

		g.RemoveIn(end, i)

		if len(g.Users(in)) == 0 {
			tr.V("fix").Printw("kill orphaned sp producer", "node", in)

			g.Kill(in)
		}
	}

	return nil
}
