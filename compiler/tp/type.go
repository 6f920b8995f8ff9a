package tp

type (
	Type interface {
		Size() int
		Align() int
	}

	Int struct {
		Bits   int16
		Signed bool
	}

	Ptr struct {
		X Type
	}

	Array struct {
		X   Type
		Len int
	}

	Struct struct {
		Fields []StructField
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}
)

func (x Int) Size() int {
	return int(x.Bits) / 8
}

func (x Int) Align() int {
	return int(x.Bits) / 8
}

func (x Ptr) Size() int {
	return 8
}

func (x Ptr) Align() int {
	return 8
}

func (x Array) Size() int {
	return x.X.Size() * x.Len
}

func (x Array) Align() int {
	return x.X.Align()
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		s += f.Type.Size()
	}

	return s
}

func (x Struct) Align() (a int) {
	a = 1

	for _, f := range x.Fields {
		if fa := f.Type.Align(); fa > a {
			a = fa
		}
	}

	return a
}
