package ir

import (
	"github.com/TehMillhouse/libfirm/compiler/tp"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Node is a handle into the graph arena. Edges are handles, never pointers,
	// so cyclic references (phis, loops) need no special ownership treatment.
	Node int

	Op   int
	Mode int

	Flags uint8

	Resource uint8

	node struct {
		op    Op
		mode  Mode
		block Node

		in    []Node
		users []Node

		val   int64      // Const
		proj  int        // Proj output index
		ofs   int        // IncSP adjustment, MemPerm recorded sp offset
		align uint       // IncSP requested alignment (power of two exponent)
		ent   *tp.Entity // Spill, Reload, FrameAddr

		cls, reg int
		flags    Flags

		// blocks only
		sched   []Node
		phis    []Node
		visited uint

		pos int // schedule position, -1 when not scheduled
	}

	Graph struct {
		Name  string
		Frame *tp.Frame

		Entry    Node // entry block
		EndBlock Node
		End      Node // end node, inputs are keep-alive edges

		nodes []node

		res        Resource
		blockEpoch uint
	}
)

// None is the null node handle.
const None Node = -1

const (
	OpBad Op = iota
	OpBlock
	OpStart
	OpEnd
	OpPhi
	OpProj
	OpConst
	OpUnknown
	OpAdd
	OpSub
	OpMul
	OpCmp
	OpLoad
	OpStore
	OpCall
	OpJmp
	OpCond
	OpReturn
	OpIncSP
	OpMemPerm
	OpFrameAddr
	OpSpill
	OpReload
	OpDeleted
)

const (
	ModeNone Mode = iota
	ModeInt
	ModeP
	ModeM // memory
	ModeT // tuple
	ModeX // control flow
)

const (
	FlagDontSpill Flags = 1 << iota
	FlagLoopPhi
)

const (
	ResLink Resource = 1 << iota
	ResBlockVisited
)

func New(name string) *Graph {
	g := &Graph{
		Name:  name,
		Frame: tp.NewFrame(name + ".frame"),
	}

	g.Entry = g.NewBlock()
	g.EndBlock = g.NewBlock()
	g.End = g.NewNode(g.EndBlock, OpEnd, ModeX)

	return g
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) NewBlock(preds ...Node) Node {
	n := g.alloc(node{
		op:   OpBlock,
		mode: ModeNone,
		in:   preds,
		cls:  -1,
		reg:  -1,
		pos:  -1,
	})

	g.addUses(n)

	return n
}

// NewNode allocates a node and appends it to its block's schedule.
// Blocks and phis are created by NewBlock and NewPhi instead.
func (g *Graph) NewNode(block Node, op Op, mode Mode, in ...Node) Node {
	n := g.alloc(node{
		op:    op,
		mode:  mode,
		block: block,
		in:    in,
		cls:   -1,
		reg:   -1,
		pos:   -1,
	})

	g.addUses(n)
	g.schedAppend(block, n)

	return n
}

// NewPhi allocates a phi in block. Input i corresponds to control
// predecessor i of the block. Phis are not part of the schedule.
func (g *Graph) NewPhi(block Node, mode Mode, in ...Node) Node {
	n := g.alloc(node{
		op:    OpPhi,
		mode:  mode,
		block: block,
		in:    in,
		cls:   -1,
		reg:   -1,
		pos:   -1,
	})

	g.addUses(n)

	b := &g.nodes[block]
	b.phis = append(b.phis, n)

	return n
}

// NewProj projects output idx out of a tuple node. It is scheduled
// right after its predecessor.
func (g *Graph) NewProj(pred Node, mode Mode, idx int) Node {
	block := g.BlockOf(pred)

	n := g.alloc(node{
		op:    OpProj,
		mode:  mode,
		block: block,
		in:    []Node{pred},
		proj:  idx,
		cls:   -1,
		reg:   -1,
		pos:   -1,
	})

	g.addUses(n)
	g.schedAppend(block, n)

	if g.IsScheduled(pred) {
		// keep the projs together right after their tuple
		ref := pred
		s := g.nodes[block].sched

		for i := g.nodes[ref].pos + 1; i < len(s); i++ {
			m := s[i]

			if m == n || g.nodes[m].op != OpProj || g.nodes[m].in[0] != pred {
				break
			}

			ref = m
		}

		g.SchedMoveAfter(n, ref)
	}

	return n
}

func (g *Graph) NewConst(block Node, val int64) Node {
	n := g.NewNode(block, OpConst, ModeInt)
	g.nodes[n].val = val

	return n
}

func (g *Graph) NewJmp(block Node) Node {
	return g.NewNode(block, OpJmp, ModeX)
}

func (g *Graph) NewReturn(block Node, in ...Node) Node {
	return g.NewNode(block, OpReturn, ModeX, in...)
}

func (g *Graph) NewCond(block Node, sel Node) Node {
	return g.NewNode(block, OpCond, ModeT, sel)
}

func (g *Graph) NewUnknown(mode Mode) Node {
	return g.NewNode(g.Entry, OpUnknown, mode)
}

func (g *Graph) NewIncSP(block Node, sp Node, ofs int, align uint) Node {
	n := g.NewNode(block, OpIncSP, ModeP, sp)

	nd := &g.nodes[n]
	nd.ofs = ofs
	nd.align = align

	return n
}

func (g *Graph) NewMemPerm(block Node, in ...Node) Node {
	return g.NewNode(block, OpMemPerm, ModeT, in...)
}

func (g *Graph) NewFrameAddr(block Node, base Node, ent *tp.Entity) Node {
	n := g.NewNode(block, OpFrameAddr, ModeP, base)
	g.nodes[n].ent = ent

	return n
}

func (g *Graph) NewSpill(block Node, val Node, ent *tp.Entity) Node {
	n := g.NewNode(block, OpSpill, ModeM, val)
	g.nodes[n].ent = ent

	return n
}

func (g *Graph) NewReload(block Node, mem Node, ent *tp.Entity, mode Mode) Node {
	n := g.NewNode(block, OpReload, mode, mem)
	g.nodes[n].ent = ent

	return n
}

func (g *Graph) Op(n Node) Op {
	return g.nodes[n].op
}

func (g *Graph) Mode(n Node) Mode {
	return g.nodes[n].mode
}

func (g *Graph) BlockOf(n Node) Node {
	if g.nodes[n].op == OpBlock {
		return n
	}

	return g.nodes[n].block
}

func (g *Graph) Arity(n Node) int {
	return len(g.nodes[n].in)
}

func (g *Graph) In(n Node, i int) Node {
	return g.nodes[n].in[i]
}

// Ins returns the input list of n. The slice is owned by the graph.
func (g *Graph) Ins(n Node) []Node {
	return g.nodes[n].in
}

func (g *Graph) SetIn(n Node, i int, v Node) {
	old := g.nodes[n].in[i]
	if old == v {
		return
	}

	if old != None {
		g.delUse(old, n)
	}

	g.nodes[n].in[i] = v

	if v != None {
		g.nodes[v].users = append(g.nodes[v].users, n)
	}
}

func (g *Graph) AddIn(n Node, v Node) {
	g.nodes[n].in = append(g.nodes[n].in, v)

	if v != None {
		g.nodes[v].users = append(g.nodes[v].users, n)
	}
}

func (g *Graph) RemoveIn(n Node, i int) {
	old := g.nodes[n].in[i]
	if old != None {
		g.delUse(old, n)
	}

	g.nodes[n].in = append(g.nodes[n].in[:i], g.nodes[n].in[i+1:]...)
}

// Users returns the current user list of n. The slice is owned by the graph.
func (g *Graph) Users(n Node) []Node {
	return g.nodes[n].users
}

func (g *Graph) Value(n Node) int64 {
	return g.nodes[n].val
}

func (g *Graph) ProjNum(n Node) int {
	return g.nodes[n].proj
}

func (g *Graph) IncSPOffset(n Node) int {
	return g.nodes[n].ofs
}

func (g *Graph) SetIncSPOffset(n Node, ofs int) {
	g.nodes[n].ofs = ofs
}

func (g *Graph) IncSPAlign(n Node) uint {
	return g.nodes[n].align
}

func (g *Graph) MemPermOffset(n Node) int {
	return g.nodes[n].ofs
}

func (g *Graph) SetMemPermOffset(n Node, ofs int) {
	g.nodes[n].ofs = ofs
}

func (g *Graph) Entity(n Node) *tp.Entity {
	return g.nodes[n].ent
}

func (g *Graph) SetEntity(n Node, ent *tp.Entity) {
	g.nodes[n].ent = ent
}

// Cls is the register class the value wants, -1 for none.
func (g *Graph) Cls(n Node) int {
	return g.nodes[n].cls
}

func (g *Graph) SetCls(n Node, cls int) {
	g.nodes[n].cls = cls
}

// Reg is the assigned register within the class, -1 when unassigned.
func (g *Graph) Reg(n Node) (cls, reg int) {
	return g.nodes[n].cls, g.nodes[n].reg
}

func (g *Graph) SetReg(n Node, cls, reg int) {
	g.nodes[n].cls = cls
	g.nodes[n].reg = reg
}

func (g *Graph) HasFlag(n Node, f Flags) bool {
	return g.nodes[n].flags&f != 0
}

func (g *Graph) SetFlag(n Node, f Flags) {
	g.nodes[n].flags |= f
}

// KeepAlive adds a keep edge from the end node to n.
func (g *Graph) KeepAlive(n Node) {
	g.AddIn(g.End, n)
}

// Kill removes a node with no remaining users from the graph.
func (g *Graph) Kill(n Node) {
	nd := &g.nodes[n]

	if len(nd.users) != 0 {
		panic(n)
	}

	for i, in := range nd.in {
		if in != None {
			g.delUse(in, n)
		}

		nd.in[i] = None
	}

	if g.IsScheduled(n) {
		g.SchedRemove(n)
	}

	if nd.op == OpPhi {
		b := &g.nodes[nd.block]

		for i, p := range b.phis {
			if p == n {
				b.phis = append(b.phis[:i], b.phis[i+1:]...)
				break
			}
		}
	}

	nd.op = OpDeleted
	nd.in = nil
}

// Reserve locks a pass-private graph resource. Two passes must not
// hold the same resource at once.
func (g *Graph) Reserve(r Resource) {
	if g.res&r != 0 {
		panic(r)
	}

	g.res |= r
}

func (g *Graph) Release(r Resource) {
	if g.res&r == 0 {
		panic(r)
	}

	g.res &^= r
}

func (g *Graph) alloc(nd node) Node {
	n := Node(len(g.nodes))
	g.nodes = append(g.nodes, nd)

	return n
}

func (g *Graph) addUses(n Node) {
	for _, in := range g.nodes[n].in {
		if in != None {
			g.nodes[in].users = append(g.nodes[in].users, n)
		}
	}
}

func (g *Graph) delUse(def, user Node) {
	u := g.nodes[def].users

	for i, x := range u {
		if x == user {
			u[i] = u[len(u)-1]
			g.nodes[def].users = u[:len(u)-1]
			return
		}
	}
}

func (n Node) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if n == None {
		return e.AppendNil(b)
	}

	return e.AppendInt(b, int(n))
}

func (op Op) String() string {
	switch op {
	case OpBad:
		return "Bad"
	case OpBlock:
		return "Block"
	case OpStart:
		return "Start"
	case OpEnd:
		return "End"
	case OpPhi:
		return "Phi"
	case OpProj:
		return "Proj"
	case OpConst:
		return "Const"
	case OpUnknown:
		return "Unknown"
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpCmp:
		return "Cmp"
	case OpLoad:
		return "Load"
	case OpStore:
		return "Store"
	case OpCall:
		return "Call"
	case OpJmp:
		return "Jmp"
	case OpCond:
		return "Cond"
	case OpReturn:
		return "Return"
	case OpIncSP:
		return "IncSP"
	case OpMemPerm:
		return "MemPerm"
	case OpFrameAddr:
		return "FrameAddr"
	case OpSpill:
		return "Spill"
	case OpReload:
		return "Reload"
	case OpDeleted:
		return "Deleted"
	default:
		return "Op?"
	}
}
