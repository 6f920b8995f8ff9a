package back

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/tp"
)

func gpClass(n int) *RegClass {
	return &RegClass{ID: 0, Name: "gp", NRegs: n, Bytes: 8}
}

func markClass(g *ir.Graph, cls *RegClass, nodes ...ir.Node) {
	for _, n := range nodes {
		g.SetCls(n, cls.ID)
	}
}

func findOps(g *ir.Graph, op ir.Op) (r []ir.Node) {
	for n := ir.Node(0); int(n) < g.Len(); n++ {
		if g.Op(n) == op {
			r = append(r, n)
		}
	}

	return r
}

// Three values do not fit into two registers, the one whose next use
// is farthest away is spilled and reloaded before that use.
func TestBeladyEviction(t *testing.T) {
	ctx := context.Background()

	cls := gpClass(2)
	g := ir.New("evict")

	blk := g.Entry

	v1 := g.NewConst(blk, 1)
	v2 := g.NewConst(blk, 2)
	v3 := g.NewConst(blk, 3)

	a := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v1, v3)
	b := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v3, a)
	c := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v2, b)

	ret := g.NewReturn(blk, c)
	g.AddIn(g.EndBlock, ret)

	markClass(g, cls, v1, v2, v3, a, b, c)

	senv := NewSpillEnv(g)

	err := SpillBeladyEnv(ctx, &ChordalEnv{G: g, Cls: cls}, senv)
	require.NoError(t, err)

	require.Len(t, senv.reloads, 1)
	assert.Equal(t, v2, senv.reloads[0].val)
	assert.Equal(t, c, senv.reloads[0].before)
	assert.Empty(t, senv.edges)

	rl := g.In(c, 0)
	require.Equal(t, ir.OpReload, g.Op(rl))
	assert.Equal(t, ir.ModeInt, g.Mode(rl))
	assert.Equal(t, g.SchedPos(c)-1, g.SchedPos(rl))

	spills := findOps(g, ir.OpSpill)
	require.Len(t, spills, 1)
	assert.Equal(t, v2, g.In(spills[0], 0))
	assert.Equal(t, g.SchedPos(v2)+1, g.SchedPos(spills[0]))

	require.Len(t, g.Frame.Members, 1)
	assert.Equal(t, tp.KindSpillSlot, g.Frame.Members[0].Kind)
}

// A single register degenerates to keeping exactly the value at hand.
func TestBeladySingleRegister(t *testing.T) {
	ctx := context.Background()

	cls := gpClass(1)
	g := ir.New("single")

	blk := g.Entry

	v1 := g.NewConst(blk, 1)
	v2 := g.NewConst(blk, 2)
	a := g.NewNode(blk, ir.OpAdd, ir.ModeInt, v1, v1)

	ret := g.NewReturn(blk, a)
	g.AddIn(g.EndBlock, ret)

	markClass(g, cls, v1, v2, a)

	senv := NewSpillEnv(g)

	err := SpillBeladyEnv(ctx, &ChordalEnv{G: g, Cls: cls}, senv)
	require.NoError(t, err)

	require.Len(t, senv.reloads, 1)
	assert.Equal(t, v1, senv.reloads[0].val)
	assert.Equal(t, a, senv.reloads[0].before)

	rl := g.In(a, 0)
	require.Equal(t, ir.OpReload, g.Op(rl))
	assert.Equal(t, rl, g.In(a, 1))
}

// A block without instructions of the class passes the workset
// through untouched.
func TestBeladyEmptyBlock(t *testing.T) {
	ctx := context.Background()

	cls := gpClass(2)
	g := ir.New("empty")

	v1 := g.NewConst(g.Entry, 1)
	jmp := g.NewJmp(g.Entry)

	mid := g.NewBlock(jmp)
	jmp2 := g.NewJmp(mid)

	fin := g.NewBlock(jmp2)
	ret := g.NewReturn(fin, v1)
	g.AddIn(g.EndBlock, ret)

	markClass(g, cls, v1)

	senv := NewSpillEnv(g)

	err := SpillBeladyEnv(ctx, &ChordalEnv{G: g, Cls: cls}, senv)
	require.NoError(t, err)

	assert.Empty(t, senv.reloads)
	assert.Empty(t, senv.edges)
	assert.Empty(t, findOps(g, ir.OpSpill))
}

// At a join the start workset holds the values with the nearest uses,
// a phi beyond the cut is spilled at the phi: its arguments are
// stored to a common slot on every edge and a memory phi merges them.
func TestBeladyPhiSpill(t *testing.T) {
	ctx := context.Background()

	cls := gpClass(2)
	g := ir.New("phispill")

	v1 := g.NewConst(g.Entry, 1)
	v2 := g.NewConst(g.Entry, 2)
	sel := g.NewNode(g.Entry, ir.OpCmp, ir.ModeInt, v1, v2)
	cond := g.NewCond(g.Entry, sel)
	pt := g.NewProj(cond, ir.ModeX, 0)
	pf := g.NewProj(cond, ir.ModeX, 1)

	b1 := g.NewBlock(pt)
	x1 := g.NewConst(b1, 10)
	j1 := g.NewJmp(b1)

	b2 := g.NewBlock(pf)
	x2 := g.NewConst(b2, 20)
	j2 := g.NewJmp(b2)

	join := g.NewBlock(j1, j2)
	p := g.NewPhi(join, ir.ModeInt, x1, x2)

	a := g.NewNode(join, ir.OpAdd, ir.ModeInt, v1, v1)
	b := g.NewNode(join, ir.OpAdd, ir.ModeInt, v2, v2)
	c := g.NewNode(join, ir.OpAdd, ir.ModeInt, p, a)

	ret := g.NewReturn(join, c)
	g.AddIn(g.EndBlock, ret)

	markClass(g, cls, v1, v2, x1, x2, p, a, b, c)

	senv := NewSpillEnv(g)

	err := SpillBeladyEnv(ctx, &ChordalEnv{G: g, Cls: cls}, senv)
	require.NoError(t, err)

	// the phi lost the cut and was spilled at the phi
	_, spilled := senv.phis[p]
	assert.True(t, spilled, "phi not spilled")

	var memphi ir.Node = ir.None

	for _, phi := range g.Phis(join) {
		if g.Mode(phi) == ir.ModeM {
			memphi = phi
		}
	}

	require.NotEqual(t, ir.None, memphi, "no memory phi")

	require.Equal(t, 2, g.Arity(memphi))

	sp0 := g.In(memphi, 0)
	sp1 := g.In(memphi, 1)

	require.Equal(t, ir.OpSpill, g.Op(sp0))
	require.Equal(t, ir.OpSpill, g.Op(sp1))
	assert.Equal(t, b1, g.BlockOf(sp0))
	assert.Equal(t, b2, g.BlockOf(sp1))
	assert.Equal(t, x1, g.In(sp0, 0))
	assert.Equal(t, x2, g.In(sp1, 0))
	assert.Equal(t, g.Entity(sp0), g.Entity(sp1))

	// the use of the phi goes through a reload of that slot
	rl := g.In(c, 0)
	require.Equal(t, ir.OpReload, g.Op(rl))
	assert.Equal(t, memphi, g.In(rl, 0))

	// v2 was not worth a register across the branch, it comes back on
	// the edges and ssa reconstruction merges the two reloads
	require.Len(t, senv.edges, 2)
	assert.Equal(t, v2, senv.edges[0].val)
	assert.Equal(t, v2, senv.edges[1].val)

	require.Equal(t, ir.OpPhi, g.Op(g.In(b, 0)))
	assert.Equal(t, ir.ModeInt, g.Mode(g.In(b, 0)))
}

// Uses at the instruction itself keep a value in a register, the
// workset never exceeds the class size.
func TestBeladyChain(t *testing.T) {
	ctx := context.Background()

	cls := gpClass(3)
	g := ir.New("chain")

	blk := g.Entry

	vals := make([]ir.Node, 0, 8)

	v := g.NewConst(blk, 0)
	vals = append(vals, v)

	for i := 0; i < 6; i++ {
		v = g.NewNode(blk, ir.OpAdd, ir.ModeInt, v, v)
		vals = append(vals, v)
	}

	ret := g.NewReturn(blk, v)
	g.AddIn(g.EndBlock, ret)

	markClass(g, cls, vals...)

	senv := NewSpillEnv(g)

	err := SpillBeladyEnv(ctx, &ChordalEnv{G: g, Cls: cls}, senv)
	require.NoError(t, err)

	assert.Empty(t, senv.reloads)
	assert.Empty(t, senv.edges)
}
