package ir

type (
	blockJob struct {
		b Node
		i int // next successor index
	}
)

func (g *Graph) Blocks() []Node {
	var r []Node

	for n := Node(0); int(n) < len(g.nodes); n++ {
		if g.nodes[n].op == OpBlock {
			r = append(r, n)
		}
	}

	return r
}

// BlockPreds returns the control predecessor blocks, one per block input.
func (g *Graph) BlockPreds(b Node) []Node {
	in := g.nodes[b].in
	r := make([]Node, len(in))

	for i, jmp := range in {
		r[i] = g.BlockOf(jmp)
	}

	return r
}

// BlockSuccs returns the control successor blocks: the block users of
// the control nodes scheduled in b.
func (g *Graph) BlockSuccs(b Node) []Node {
	var r []Node

	for _, n := range g.nodes[b].sched {
		for _, u := range g.nodes[n].users {
			if g.nodes[u].op != OpBlock {
				continue
			}

			if !contains(r, u) {
				r = append(r, u)
			}
		}
	}

	return r
}

// BlocksRPO returns the blocks reachable from the entry in reverse
// postorder. A block with a single predecessor always comes after it.
func (g *Graph) BlocksRPO() []Node {
	seen := make(map[Node]struct{}, len(g.nodes)/8+1)
	post := make([]Node, 0, 8)

	stack := []blockJob{{b: g.Entry}}
	seen[g.Entry] = struct{}{}

	for len(stack) != 0 {
		j := &stack[len(stack)-1]

		succs := g.BlockSuccs(j.b)

		if j.i < len(succs) {
			s := succs[j.i]
			j.i++

			if _, ok := seen[s]; ok {
				continue
			}

			seen[s] = struct{}{}
			stack = append(stack, blockJob{b: s})

			continue
		}

		post = append(post, j.b)
		stack = stack[:len(stack)-1]
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

// IncBlockVisited opens a fresh block-visited epoch.
func (g *Graph) IncBlockVisited() {
	g.blockEpoch++
}

func (g *Graph) MarkBlockVisited(b Node) {
	g.nodes[b].visited = g.blockEpoch
}

func (g *Graph) BlockVisited(b Node) bool {
	return g.nodes[b].visited == g.blockEpoch
}

func contains(s []Node, x Node) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}

	return false
}
