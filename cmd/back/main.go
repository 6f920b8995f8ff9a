package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/TehMillhouse/libfirm/compiler/back"
	"github.com/TehMillhouse/libfirm/compiler/ir"
	"github.com/TehMillhouse/libfirm/compiler/opt"
)

func main() {
	phiCmd := &cli.Command{
		Name:        "phi",
		Description: "run phi scc removal on a sample graph",
		Action:      phiAct,
	}

	spillCmd := &cli.Command{
		Name:        "spill",
		Description: "run the belady spiller on a sample graph",
		Action:      spillAct,
	}

	stackCmd := &cli.Command{
		Name:        "stack",
		Description: "run frame layout and stack pointer simulation on a sample graph",
		Action:      stackAct,
	}

	app := &cli.Command{
		Name:        "back",
		Description: "back drives the backend core passes over built in sample graphs",
		Commands: []*cli.Command{
			phiCmd,
			spillCmd,
			stackCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func phiAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	g := ir.New("phi_demo")

	x := g.NewConst(g.Entry, 1)
	jmp := g.NewJmp(g.Entry)

	header := g.NewBlock(jmp)
	body := g.NewJmp(header)
	g.AddIn(header, body)

	p1 := g.NewPhi(header, ir.ModeInt, x, ir.None)
	p2 := g.NewPhi(header, ir.ModeInt, x, p1)
	g.SetIn(p1, 1, p2)

	ret := g.NewReturn(header, p1)
	g.AddIn(g.EndBlock, ret)

	err = opt.RemovePhiSCCs(ctx, g)
	if err != nil {
		return errors.Wrap(err, "phi scc removal")
	}

	fmt.Printf("%s", g.Dump(nil))

	return nil
}

func spillAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cls := &back.RegClass{ID: 0, Name: "gp", NRegs: env.Int("BACK_REGS", 2), Bytes: 8}

	g := ir.New("spill_demo")

	v1 := g.NewConst(g.Entry, 1)
	v2 := g.NewConst(g.Entry, 2)
	v3 := g.NewConst(g.Entry, 3)

	a := g.NewNode(g.Entry, ir.OpAdd, ir.ModeInt, v1, v2)
	b := g.NewNode(g.Entry, ir.OpAdd, ir.ModeInt, a, v3)
	c2 := g.NewNode(g.Entry, ir.OpAdd, ir.ModeInt, b, v1)
	d := g.NewNode(g.Entry, ir.OpAdd, ir.ModeInt, c2, v2)

	ret := g.NewReturn(g.Entry, d)
	g.AddIn(g.EndBlock, ret)

	for _, n := range []ir.Node{v1, v2, v3, a, b, c2, d} {
		g.SetCls(n, cls.ID)
	}

	err = back.SpillBelady(ctx, &back.ChordalEnv{G: g, Cls: cls})
	if err != nil {
		return errors.Wrap(err, "spill")
	}

	fmt.Printf("%s", g.Dump(nil))

	return nil
}

func stackAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cls := &back.RegClass{ID: 1, Name: "sp", NRegs: 1, Bytes: 8}
	sp := back.Register{Cls: cls, Index: 0, Name: "sp"}

	g := ir.New("stack_demo")

	start := g.NewNode(g.Entry, ir.OpStart, ir.ModeP)
	g.SetReg(start, cls.ID, sp.Index)

	inc := g.NewIncSP(g.Entry, start, -20, 4)
	g.SetReg(inc, cls.ID, sp.Index)

	g.NewMemPerm(g.Entry)

	slot := g.Frame.NewSpillSlot(8, 8)
	g.Frame.NewSpillSlot(16, 16)

	g.NewFrameAddr(g.Entry, inc, slot)

	ret := g.NewReturn(g.Entry, inc)
	g.AddIn(g.EndBlock, ret)

	back.SortFrameEntities(g.Frame, true)
	back.LayoutFrameType(g.Frame, 0, 0)

	back.SimStackPointer(ctx, g, 0, 0, nil)

	err = back.FixStackNodes(ctx, g, sp)
	if err != nil {
		return errors.Wrap(err, "fix stack nodes")
	}

	fmt.Printf("%s", g.Dump(nil))

	return nil
}
