package tp

import (
	"tlog.app/go/tlog/tlwire"
)

type (
	Kind  int
	State int

	// Entity is a symbol living in a compound frame type.
	Entity struct {
		Name   string
		Kind   Kind
		Type   Type // ordinary entities only
		Size   int  // spill slots only
		Align  int
		Offset int // OffsetUnset until the frame is laid out
		Nr     int // creation order, stable under sorting
	}

	// Frame is the compound type holding locals and spill slots of a function.
	Frame struct {
		Name    string
		Members []*Entity
		Size    int
		State   State

		nr int
	}
)

const (
	KindOrdinary Kind = iota
	KindSpillSlot
)

const (
	LayoutPending State = iota
	LayoutFixed
)

// OffsetUnset marks an entity which has not been assigned a frame offset yet.
const OffsetUnset = -1 << 31

func NewFrame(name string) *Frame {
	return &Frame{
		Name:  name,
		State: LayoutPending,
	}
}

func (f *Frame) NewEntity(name string, typ Type) *Entity {
	e := &Entity{
		Name:   name,
		Kind:   KindOrdinary,
		Type:   typ,
		Align:  1,
		Offset: OffsetUnset,
		Nr:     f.nr,
	}

	f.nr++
	f.Members = append(f.Members, e)

	return e
}

func (f *Frame) NewSpillSlot(size, align int) *Entity {
	e := &Entity{
		Name:   "",
		Kind:   KindSpillSlot,
		Size:   size,
		Align:  align,
		Offset: OffsetUnset,
		Nr:     f.nr,
	}

	f.nr++
	f.Members = append(f.Members, e)

	return e
}

func (e *Entity) TlogAppend(b []byte) []byte {
	var enc tlwire.Encoder

	b = enc.AppendMap(b, 3)

	b = enc.AppendKeyInt(b, "nr", e.Nr)
	b = enc.AppendKeyInt(b, "kind", int(e.Kind))

	b = enc.AppendString(b, "offset")

	if e.Offset == OffsetUnset {
		b = enc.AppendNil(b)
	} else {
		b = enc.AppendInt(b, e.Offset)
	}

	return b
}
