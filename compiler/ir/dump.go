package ir

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/TehMillhouse/libfirm/compiler/tp"
)

// Dump appends a plain text rendering of the graph, one block per
// paragraph, schedule order.
func (g *Graph) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "graph %s\n", g.Name)

	for _, blk := range g.Blocks() {
		if g.nodes[blk].op == OpDeleted {
			continue
		}

		b = hfmt.Appendf(b, "\nblock %d  preds %v\n", blk, g.BlockPreds(blk))

		for _, p := range g.nodes[blk].phis {
			b = g.dumpNode(b, p)
		}

		for _, n := range g.nodes[blk].sched {
			b = g.dumpNode(b, n)
		}
	}

	if g.Frame != nil && g.Frame.State == tp.LayoutFixed {
		b = hfmt.Appendf(b, "\nframe %s  size %d\n", g.Frame.Name, g.Frame.Size)

		for _, e := range g.Frame.Members {
			b = hfmt.Appendf(b, "	ent %d  kind %d  offset %d\n", e.Nr, int(e.Kind), e.Offset)
		}
	}

	return b
}

func (g *Graph) dumpNode(b []byte, n Node) []byte {
	nd := &g.nodes[n]

	b = hfmt.Appendf(b, "	%4d  %-9v in %v", n, nd.op, nd.in)

	switch nd.op {
	case OpConst:
		b = hfmt.Appendf(b, "  val %d", nd.val)
	case OpProj:
		b = hfmt.Appendf(b, "  num %d", nd.proj)
	case OpIncSP:
		b = hfmt.Appendf(b, "  ofs %d  align %d", nd.ofs, nd.align)
	case OpMemPerm:
		b = hfmt.Appendf(b, "  ofs %d", nd.ofs)
	case OpSpill, OpReload, OpFrameAddr:
		if nd.ent != nil {
			b = hfmt.Appendf(b, "  ent %d", nd.ent.Nr)
		}
	}

	if nd.reg >= 0 {
		b = hfmt.Appendf(b, "  reg %d:%d", nd.cls, nd.reg)
	}

	b = append(b, '\n')

	return b
}
