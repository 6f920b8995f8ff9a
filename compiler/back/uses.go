package back

import (
	"math"

	"github.com/TehMillhouse/libfirm/compiler/ir"
)

// Infinity is the next-use distance of a value not used again in the
// block.
const Infinity = math.MaxInt

type (
	// Uses answers next-use queries against the current schedule.
	Uses struct {
		g *ir.Graph
	}
)

func NewUses(g *ir.Graph) *Uses {
	return &Uses{g: g}
}

// NextUse returns the distance in scheduled instructions from the
// given point to the next use of def within the same block, Infinity
// if there is none. The point is the schedule position of from, or
// step when from is not scheduled. With skipFrom uses at the point
// itself do not count.
func (u *Uses) NextUse(from ir.Node, step int, def ir.Node, skipFrom bool) int {
	g := u.g

	b := g.BlockOf(from)
	base := step

	if g.IsScheduled(from) {
		base = g.SchedPos(from)
	}

	best := Infinity

	for _, usr := range g.Users(def) {
		if g.Op(usr) == ir.OpDeleted || g.BlockOf(usr) != b || !g.IsScheduled(usr) {
			continue
		}

		pos := g.SchedPos(usr)

		if pos < base || skipFrom && pos == base {
			continue
		}

		if d := pos - base; d < best {
			best = d
		}
	}

	return best
}
