package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TehMillhouse/libfirm/compiler/ir"
)

// loopHeader builds an entry block jumping into a header with a back
// edge, the shape every phi cycle test needs.
func loopHeader(g *ir.Graph) (header, x ir.Node) {
	x = g.NewConst(g.Entry, 1)
	jmp := g.NewJmp(g.Entry)

	header = g.NewBlock(jmp)
	back := g.NewJmp(header)
	g.AddIn(header, back)

	return header, x
}

func TestRedundantPair(t *testing.T) {
	ctx := context.Background()

	g := ir.New("redundant")
	header, x := loopHeader(g)

	p1 := g.NewPhi(header, ir.ModeInt, x, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, p1, x)
	g.SetIn(p1, 1, p2)

	ret := g.NewReturn(header, p1)
	g.AddIn(g.EndBlock, ret)

	err := RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, x, g.In(ret, 0))
	assert.Equal(t, []ir.Node{x, x}, g.Ins(p1))
	assert.Equal(t, []ir.Node{x, x}, g.Ins(p2))
}

func TestNonRedundantPair(t *testing.T) {
	ctx := context.Background()

	g := ir.New("nonredundant")
	header, x := loopHeader(g)

	y := g.NewConst(g.Entry, 2)

	p1 := g.NewPhi(header, ir.ModeInt, x, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, p1, y)
	g.SetIn(p1, 1, p2)

	ret := g.NewReturn(header, p1)
	g.AddIn(g.EndBlock, ret)

	err := RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, []ir.Node{x, p2}, g.Ins(p1))
	assert.Equal(t, []ir.Node{p1, y}, g.Ins(p2))
	assert.Equal(t, p1, g.In(ret, 0))
}

// A non-redundant SCC exposes a redundant one nested in its interior.
func TestNestedInterior(t *testing.T) {
	ctx := context.Background()

	g := ir.New("nested")
	header, x := loopHeader(g)

	y := g.NewConst(g.Entry, 2)

	a := g.NewPhi(header, ir.ModeInt, x, y, ir.None)
	b := g.NewPhi(header, ir.ModeInt, a, ir.None)
	c := g.NewPhi(header, ir.ModeInt, b, b)
	g.SetIn(a, 2, b)
	g.SetIn(b, 1, c)

	ret := g.NewReturn(header, b)
	g.AddIn(g.EndBlock, ret)

	err := RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	// b and c collapse into a, the rim of the outer scc
	assert.Equal(t, a, g.In(ret, 0))
	assert.Equal(t, []ir.Node{x, y, a}, g.Ins(a))
	assert.Equal(t, []ir.Node{a, a}, g.Ins(b))
	assert.Equal(t, []ir.Node{a, a}, g.Ins(c))
}

func TestIsolatedCycleFails(t *testing.T) {
	ctx := context.Background()

	g := ir.New("isolated")
	header, _ := loopHeader(g)

	p1 := g.NewPhi(header, ir.ModeInt, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, p1)
	g.SetIn(p1, 0, p2)

	err := RemovePhiSCCs(ctx, g)
	require.Error(t, err)
}

func TestLoopPhiKept(t *testing.T) {
	ctx := context.Background()

	g := ir.New("loopphi")
	header, x := loopHeader(g)

	p1 := g.NewPhi(header, ir.ModeInt, x, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, p1, x)
	g.SetIn(p1, 1, p2)
	g.SetFlag(p2, ir.FlagLoopPhi)

	ret := g.NewReturn(header, p1)
	g.AddIn(g.EndBlock, ret)

	err := RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, []ir.Node{x, p2}, g.Ins(p1))
	assert.Equal(t, []ir.Node{p1, x}, g.Ins(p2))
	assert.Equal(t, p1, g.In(ret, 0))
}

func TestIdempotent(t *testing.T) {
	ctx := context.Background()

	g := ir.New("idempotent")
	header, x := loopHeader(g)

	p1 := g.NewPhi(header, ir.ModeInt, x, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, p1, x)
	g.SetIn(p1, 1, p2)

	ret := g.NewReturn(header, p1)
	g.AddIn(g.EndBlock, ret)

	err := RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	var snap [][]ir.Node

	for n := ir.Node(0); int(n) < g.Len(); n++ {
		var cp []ir.Node
		cp = append(cp, g.Ins(n)...)

		snap = append(snap, cp)
	}

	err = RemovePhiSCCs(ctx, g)
	require.NoError(t, err)

	for n := ir.Node(0); int(n) < g.Len(); n++ {
		assert.Equal(t, snap[n], g.Ins(n), "node %v", n)
	}
}
