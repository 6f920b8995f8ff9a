package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersFollowEdges(t *testing.T) {
	g := New("users")

	a := g.NewConst(g.Entry, 1)
	b := g.NewConst(g.Entry, 2)
	add := g.NewNode(g.Entry, OpAdd, ModeInt, a, a)

	assert.Equal(t, []Node{add, add}, g.Users(a))
	assert.Empty(t, g.Users(b))

	g.SetIn(add, 1, b)

	assert.Equal(t, []Node{add}, g.Users(a))
	assert.Equal(t, []Node{add}, g.Users(b))
}

func TestScheduleMoves(t *testing.T) {
	g := New("sched")

	a := g.NewConst(g.Entry, 1)
	b := g.NewConst(g.Entry, 2)
	c := g.NewConst(g.Entry, 3)

	require.Equal(t, []Node{a, b, c}, g.Sched(g.Entry))

	g.SchedMoveBefore(c, a)
	assert.Equal(t, []Node{c, a, b}, g.Sched(g.Entry))
	assert.Equal(t, 0, g.SchedPos(c))
	assert.Equal(t, 2, g.SchedPos(b))

	g.SchedMoveAfter(c, b)
	assert.Equal(t, []Node{a, b, c}, g.Sched(g.Entry))

	g.SchedRemove(b)
	assert.Equal(t, []Node{a, c}, g.Sched(g.Entry))
	assert.False(t, g.IsScheduled(b))
}

func TestProjScheduledAfterTuple(t *testing.T) {
	g := New("proj")

	g.NewConst(g.Entry, 1)
	call := g.NewNode(g.Entry, OpCall, ModeT)
	g.NewConst(g.Entry, 2)

	p0 := g.NewProj(call, ModeInt, 0)
	p1 := g.NewProj(call, ModeInt, 1)

	assert.Equal(t, g.SchedPos(call)+1, g.SchedPos(p0))
	assert.Equal(t, g.SchedPos(call)+2, g.SchedPos(p1))
}

func TestBlocksRPO(t *testing.T) {
	g := New("rpo")

	sel := g.NewConst(g.Entry, 1)
	cond := g.NewCond(g.Entry, sel)
	pt := g.NewProj(cond, ModeX, 0)
	pf := g.NewProj(cond, ModeX, 1)

	b1 := g.NewBlock(pt)
	j1 := g.NewJmp(b1)

	b2 := g.NewBlock(pf)
	j2 := g.NewJmp(b2)

	join := g.NewBlock(j1, j2)
	ret := g.NewReturn(join)
	g.AddIn(g.EndBlock, ret)

	rpo := g.BlocksRPO()

	pos := make(map[Node]int)
	for i, b := range rpo {
		pos[b] = i
	}

	assert.Equal(t, g.Entry, rpo[0])
	assert.Less(t, pos[g.Entry], pos[b1])
	assert.Less(t, pos[g.Entry], pos[b2])
	assert.Less(t, pos[b1], pos[join])
	assert.Less(t, pos[b2], pos[join])
	assert.Less(t, pos[join], pos[g.EndBlock])

	assert.ElementsMatch(t, []Node{b1, b2}, g.BlockSuccs(g.Entry))
	assert.Equal(t, []Node{b1, b2}, g.BlockPreds(join))
}

func TestResources(t *testing.T) {
	g := New("res")

	g.Reserve(ResLink)
	assert.Panics(t, func() { g.Reserve(ResLink) })

	g.Reserve(ResBlockVisited)
	g.Release(ResLink)
	g.Reserve(ResLink)

	g.Release(ResLink)
	g.Release(ResBlockVisited)

	assert.Panics(t, func() { g.Release(ResLink) })
}

func TestKill(t *testing.T) {
	g := New("kill")

	a := g.NewConst(g.Entry, 1)
	add := g.NewNode(g.Entry, OpAdd, ModeInt, a, a)

	assert.Panics(t, func() { g.Kill(a) })

	g.Kill(add)

	assert.Equal(t, OpDeleted, g.Op(add))
	assert.Empty(t, g.Users(a))
	assert.False(t, g.IsScheduled(add))
}
