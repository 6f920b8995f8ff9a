package back

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/TehMillhouse/libfirm/compiler/ir"
)

type (
	// RegClass is a set of interchangeable physical registers.
	RegClass struct {
		ID    int
		Name  string
		NRegs int
		Bytes int // register width, used to size spill slots
	}

	// Register names a single register within a class.
	Register struct {
		Cls   *RegClass
		Index int
		Name  string
	}

	// ChordalEnv carries what the spiller needs to know about the
	// graph and the register class it works on.
	ChordalEnv struct {
		G   *ir.Graph
		Cls *RegClass

		// Ignored is the number of registers reserved by the target
		// and not available for allocation.
		Ignored int
	}
)

func (r Register) Is(g *ir.Graph, n ir.Node) bool {
	cls, reg := g.Reg(n)

	return cls == r.Cls.ID && reg == r.Index
}

// considerInRegAlloc tells whether a value competes for registers of
// the given class.
func considerInRegAlloc(g *ir.Graph, cls *RegClass, n ir.Node) bool {
	return g.Cls(n) == cls.ID
}

func (r Register) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, r.Name)
}
