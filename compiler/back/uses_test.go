package back

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TehMillhouse/libfirm/compiler/ir"
)

func TestNextUse(t *testing.T) {
	g := ir.New("uses")

	blk := g.Entry

	v := g.NewConst(blk, 1)
	a := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v, v)
	b := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v, a)
	ret := g.NewReturn(blk, b)
	g.AddIn(g.EndBlock, ret)

	u := NewUses(g)

	// from the definition, skipping the definition point
	assert.Equal(t, 1, u.NextUse(v, 0, v, true))

	// at the first use
	assert.Equal(t, 0, u.NextUse(a, 0, v, false))

	// past the first use
	assert.Equal(t, 1, u.NextUse(a, 0, v, true))

	// never used again
	assert.Equal(t, Infinity, u.NextUse(ret, 0, b, true))

	// a use in a different block does not count
	jmp := g.NewJmp(blk)
	other := g.NewBlock(jmp)
	g.NewNode(other, ir.OpAdd, ir.ModeInt, v, v)

	assert.Equal(t, 1, u.NextUse(v, 0, v, true))
}
