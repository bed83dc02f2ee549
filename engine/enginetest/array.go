package enginetest

import (
	"fmt"

	"github.com/chazu/jfe/jarray"
)

// Float arrays exist only inside the fake; the decoders treat them as
// unrecognized.
const typeFloat jarray.TypeTag = 8

// Status codes the fake reports. They follow the engine's numbering.
const (
	codeDomain = 3
	codeLength = 9
	codeNonce  = 11
	codeSystem = 12
	codeSyntax = 20
	codeValue  = 21
)

type jerror struct {
	code int
	msg  string
}

func (e *jerror) Error() string { return e.msg }

func domainErr(format string, args ...any) error {
	return &jerror{codeDomain, "domain error: " + fmt.Sprintf(format, args...)}
}

func lengthErr(format string, args ...any) error {
	return &jerror{codeLength, "length error: " + fmt.Sprintf(format, args...)}
}

func syntaxErr(format string, args ...any) error {
	return &jerror{codeSyntax, "syntax error: " + fmt.Sprintf(format, args...)}
}

func valueErr(name string) error {
	return &jerror{codeValue, "value error: " + name}
}

func nonceErr(what string) error {
	return &jerror{codeNonce, "nonce error: " + what}
}

type array struct {
	typ    jarray.TypeTag
	shape  []int64
	ints   []int64
	chars  []byte
	floats []float64
	boxes  []*array
}

func (a *array) count() int64 {
	n := int64(1)
	for _, d := range a.shape {
		n *= d
	}
	return n
}

func (a *array) rank() int { return len(a.shape) }

func (a *array) numeric() bool {
	return a.typ == jarray.Integer || a.typ == typeFloat
}

func intScalar(n int64) *array {
	return &array{typ: jarray.Integer, ints: []int64{n}}
}

func intList(ns ...int64) *array {
	return &array{typ: jarray.Integer, shape: []int64{int64(len(ns))}, ints: ns}
}

func charList(s string) *array {
	return &array{typ: jarray.Literal, shape: []int64{int64(len(s))}, chars: []byte(s)}
}

func boxScalar(a *array) *array {
	return &array{typ: jarray.Box, boxes: []*array{a}}
}

func (a *array) float(i int) float64 {
	if a.typ == typeFloat {
		return a.floats[i]
	}
	return float64(a.ints[i])
}

func (a *array) toFloat() *array {
	if a.typ != jarray.Integer {
		return a
	}
	out := &array{typ: typeFloat, shape: a.shape, floats: make([]float64, len(a.ints))}
	for i, n := range a.ints {
		out.floats[i] = float64(n)
	}
	return out
}

// intArgs reads a as a list of integers, for shapes and arguments.
func (a *array) intArgs() ([]int64, error) {
	switch a.typ {
	case jarray.Integer:
		return a.ints, nil
	case typeFloat:
		out := make([]int64, len(a.floats))
		for i, f := range a.floats {
			if f != float64(int64(f)) {
				return nil, domainErr("%v is not an integer", f)
			}
			out[i] = int64(f)
		}
		return out, nil
	}
	return nil, domainErr("integer argument required")
}

func (a *array) intArg() (int64, error) {
	ns, err := a.intArgs()
	if err != nil {
		return 0, err
	}
	if len(ns) != 1 {
		return 0, lengthErr("scalar argument required")
	}
	return ns[0], nil
}

// reshape cycles the items of y into shape.
func reshape(shape []int64, y *array) (*array, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, domainErr("negative extent %d", d)
		}
		n *= d
	}
	src := y.count()
	if src == 0 && n > 0 {
		return nil, lengthErr("empty argument")
	}
	out := &array{typ: y.typ, shape: append([]int64(nil), shape...)}
	for i := int64(0); i < n; i++ {
		j := i % src
		switch y.typ {
		case jarray.Integer:
			out.ints = append(out.ints, y.ints[j])
		case typeFloat:
			out.floats = append(out.floats, y.floats[j])
		case jarray.Literal:
			out.chars = append(out.chars, y.chars[j])
		case jarray.Box:
			out.boxes = append(out.boxes, y.boxes[j])
		}
	}
	if out.typ == jarray.Integer && out.ints == nil {
		out.ints = []int64{}
	}
	return out, nil
}

func ravel(y *array) *array {
	out := *y
	out.shape = []int64{y.count()}
	return &out
}
