package back

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/set"
)

type (
	// Liveness holds block-level live-in and live-out sets of register
	// values. Phis of a block count as definitions of that block, their
	// inputs as uses on the incoming edges.
	Liveness struct {
		g *ir.Graph

		in, out map[ir.Node]*set.Bitmap
	}
)

func NewLiveness(ctx context.Context, g *ir.Graph) *Liveness {
	tr := tlog.SpanFromContext(ctx)

	lv := &Liveness{
		g:   g,
		in:  make(map[ir.Node]*set.Bitmap),
		out: make(map[ir.Node]*set.Bitmap),
	}

	blocks := g.BlocksRPO()

	def := make(map[ir.Node]*set.Bitmap, len(blocks))
	use := make(map[ir.Node]*set.Bitmap, len(blocks))

	for _, b := range blocks {
		d := set.NewBitmap(g.Len())
		u := set.NewBitmap(g.Len())

		for _, phi := range g.Phis(b) {
			d.Set(int(phi))
		}

		for _, n := range g.Sched(b) {
			d.Set(int(n))
		}

		for _, n := range g.Sched(b) {
			for _, in := range g.Ins(n) {
				if in == ir.None || !isValue(g, in) {
					continue
				}

				if !d.IsSet(int(in)) {
					u.Set(int(in))
				}
			}
		}

		def[b] = d
		use[b] = u
		lv.in[b] = set.NewBitmap(g.Len())
		lv.out[b] = set.NewBitmap(g.Len())
	}

	for changed := true; changed; {
		changed = false

		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]

			out := set.NewBitmap(g.Len())

			for _, s := range g.BlockSuccs(b) {
				if lv.in[s] == nil {
					continue
				}

				out.Or(*lv.in[s])

				for k, jmp := range g.Ins(s) {
					if g.BlockOf(jmp) != b {
						continue
					}

					for _, phi := range g.Phis(s) {
						arg := g.In(phi, k)

						if arg != ir.None && isValue(g, arg) {
							out.Set(int(arg))
						}
					}
				}
			}

			in := use[b].Copy()
			t := out.Copy()
			t.AndNot(*def[b])
			in.Or(t)

			if !out.Equal(lv.out[b]) || !in.Equal(lv.in[b]) {
				lv.out[b] = out
				lv.in[b] = &in
				changed = true
			}
		}
	}

	if tr.If("dump_liveness") {
		for _, b := range blocks {
			tr.Printw("liveness", "block", b, "in", lv.in[b], "out", lv.out[b])
		}
	}

	return lv
}

// In is the live-in set of b. Phis of b are not live-in.
func (lv *Liveness) In(b ir.Node) *set.Bitmap {
	return lv.in[b]
}

func (lv *Liveness) Out(b ir.Node) *set.Bitmap {
	return lv.out[b]
}

func (lv *Liveness) IsLiveIn(b, n ir.Node) bool {
	return lv.in[b].IsSet(int(n))
}

func (lv *Liveness) IsLiveOut(b, n ir.Node) bool {
	return lv.out[b].IsSet(int(n))
}

// IsLiveThrough tells whether n is live across b without being
// defined there.
func (lv *Liveness) IsLiveThrough(b, n ir.Node) bool {
	return lv.IsLiveIn(b, n) && lv.IsLiveOut(b, n)
}

func isValue(g *ir.Graph, n ir.Node) bool {
	switch g.Mode(n) {
	case ir.ModeInt, ir.ModeP:
		return true
	}

	return false
}
