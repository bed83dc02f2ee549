package enginetest

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/jfe/jarray"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokVerb
	tokAssign
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isInflection(c byte) bool { return c == '.' || c == ':' }

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case strings.HasPrefix(s[i:], "NB."):
			return toks, nil
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, syntaxErr("open quote")
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case isDigit(c) || c == '_' && i+1 < len(s) && isDigit(s[i+1]):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			// m!:n foreigns start with digits.
			if j+2 < len(s) && s[j] == '!' && s[j+1] == ':' && isDigit(s[j+2]) {
				k := j + 2
				for k < len(s) && isDigit(s[k]) {
					k++
				}
				toks = append(toks, token{tokVerb, s[i:k]})
				i = k
				continue
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case isAlpha(c):
			j := i + 1
			for j < len(s) && (isAlpha(s[j]) || isDigit(s[j]) || s[j] == '_') {
				j++
			}
			if j < len(s) && isInflection(s[j]) {
				toks = append(toks, token{tokVerb, s[i : j+1]})
				i = j + 1
				continue
			}
			toks = append(toks, token{tokName, s[i:j]})
			i = j
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '=' && i+1 < len(s) && isInflection(s[i+1]):
			toks = append(toks, token{tokAssign, s[i : i+2]})
			i += 2
		default:
			j := i + 1
			for j < len(s) && isInflection(s[j]) {
				j++
			}
			if c == '+' && j < len(s) && s[j] == '/' {
				j++
			}
			toks = append(toks, token{tokVerb, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

// exec runs one sentence. display is false for assignments and empty
// sentences.
func (in *Instance) exec(sentence string) (*array, bool, error) {
	toks, err := tokenize(sentence)
	if err != nil {
		return nil, false, err
	}
	if len(toks) == 0 {
		return nil, false, nil
	}
	if len(toks) >= 2 && toks[0].kind == tokName && toks[1].kind == tokAssign {
		v, err := in.eval(toks[2:])
		if err != nil {
			return nil, false, err
		}
		in.assign(toks[0].text, v)
		return v, false, nil
	}
	v, err := in.eval(toks)
	return v, true, err
}

func (in *Instance) eval(toks []token) (*array, error) {
	if len(toks) == 0 {
		return nil, syntaxErr("missing argument")
	}
	if toks[0].kind == tokVerb {
		y, err := in.eval(toks[1:])
		if err != nil {
			return nil, err
		}
		return in.monad(toks[0].text, y)
	}
	x, rest, err := in.noun(toks)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		return x, nil
	}
	if rest[0].kind != tokVerb {
		return nil, syntaxErr("unexpected %q", rest[0].text)
	}
	y, err := in.eval(rest[1:])
	if err != nil {
		return nil, err
	}
	return dyad(rest[0].text, x, y)
}

// noun consumes the leftmost noun phrase of toks.
func (in *Instance) noun(toks []token) (*array, []token, error) {
	t := toks[0]
	switch t.kind {
	case tokNumber:
		j := 0
		for j < len(toks) && toks[j].kind == tokNumber {
			j++
		}
		a, err := numbers(toks[:j])
		return a, toks[j:], err
	case tokString:
		if len(t.text) == 1 {
			return &array{typ: jarray.Literal, chars: []byte(t.text)}, toks[1:], nil
		}
		return charList(t.text), toks[1:], nil
	case tokName:
		a, ok := in.lookup(t.text)
		if !ok {
			return nil, nil, valueErr(t.text)
		}
		return a, toks[1:], nil
	case tokLParen:
		depth := 0
		for j, u := range toks {
			switch u.kind {
			case tokLParen:
				depth++
			case tokRParen:
				depth--
				if depth == 0 {
					a, err := in.eval(toks[1:j])
					return a, toks[j+1:], err
				}
			}
		}
		return nil, nil, syntaxErr("unbalanced parentheses")
	}
	return nil, nil, syntaxErr("unexpected %q", t.text)
}

func numbers(toks []token) (*array, error) {
	float := false
	for _, t := range toks {
		if strings.Contains(t.text, ".") {
			float = true
		}
	}
	a := &array{typ: jarray.Integer}
	if float {
		a.typ = typeFloat
	}
	for _, t := range toks {
		text := strings.Replace(t.text, "_", "-", 1)
		if float {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, syntaxErr("bad number %q", t.text)
			}
			a.floats = append(a.floats, f)
			continue
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, syntaxErr("bad number %q", t.text)
		}
		a.ints = append(a.ints, n)
	}
	if len(toks) > 1 {
		a.shape = []int64{int64(len(toks))}
	}
	return a, nil
}

func (in *Instance) monad(verb string, y *array) (*array, error) {
	switch verb {
	case "i.":
		shape, err := y.intArgs()
		if err != nil {
			return nil, err
		}
		n := int64(1)
		for _, d := range shape {
			if d < 0 {
				return nil, nonceErr("negative i.")
			}
			n *= d
		}
		ints := make([]int64, n)
		for i := range ints {
			ints[i] = int64(i)
		}
		out := &array{typ: jarray.Integer, ints: ints}
		if y.rank() == 0 {
			out.shape = []int64{n}
		} else {
			out.shape = append([]int64(nil), shape...)
		}
		return out, nil
	case "*:":
		return arith(y, y, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case "-":
		return arith(intScalar(0), y, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case ">:":
		return arith(y, intScalar(1), func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	case "<:":
		return arith(y, intScalar(1), func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case "%":
		return divide(intScalar(1), y)
	case "$":
		return intList(append([]int64(nil), y.shape...)...), nil
	case "#":
		if y.rank() == 0 {
			return intScalar(1), nil
		}
		return intScalar(y.shape[0]), nil
	case "]":
		return y, nil
	case ",":
		return ravel(y), nil
	case "<":
		return boxScalar(y), nil
	case ">":
		return open(y)
	case "+/":
		return sum(y)
	case "3!:0":
		return intScalar(int64(y.typ)), nil
	case "4!:1":
		var boxes []*array
		for _, name := range in.Names() {
			boxes = append(boxes, charList(name))
		}
		return &array{typ: jarray.Box, shape: []int64{int64(len(boxes))}, boxes: boxes}, nil
	case "1!:1":
		line := in.cb.Read("")
		return charList(line), nil
	case "11!:0":
		x, err := y.intArg()
		if err != nil {
			return nil, err
		}
		return intScalar(int64(in.cb.Window(int(x)))), nil
	case "6!:3":
		x, err := y.intArg()
		if err != nil {
			return nil, err
		}
		in.lib.delay(x)
		return intScalar(0), nil
	}
	return nil, nonceErr("monad " + verb)
}

func dyad(verb string, x, y *array) (*array, error) {
	switch verb {
	case "+":
		return arith(x, y, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	case "-":
		return arith(x, y, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case "*":
		return arith(x, y, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case "%":
		return divide(x, y)
	case "$":
		shape, err := x.intArgs()
		if err != nil {
			return nil, err
		}
		return reshape(shape, y)
	case ",":
		if x.typ != y.typ || x.rank() > 1 || y.rank() > 1 {
			return nil, nonceErr("append")
		}
		out := &array{typ: x.typ, shape: []int64{x.count() + y.count()}}
		out.ints = append(append([]int64{}, x.ints...), y.ints...)
		out.floats = append(append([]float64(nil), x.floats...), y.floats...)
		out.chars = append(append([]byte(nil), x.chars...), y.chars...)
		out.boxes = append(append([]*array(nil), x.boxes...), y.boxes...)
		return out, nil
	}
	return nil, nonceErr("dyad " + verb)
}

// arith applies an elementwise scalar function with scalar extension.
func arith(x, y *array, fi func(a, b int64) int64, ff func(a, b float64) float64) (*array, error) {
	if !x.numeric() || !y.numeric() {
		return nil, domainErr("numeric arguments required")
	}
	shape, err := agree(x, y)
	if err != nil {
		return nil, err
	}
	n := int(max(x.count(), y.count()))
	xi := func(i int) int {
		if x.count() == 1 {
			return 0
		}
		return i
	}
	yi := func(i int) int {
		if y.count() == 1 {
			return 0
		}
		return i
	}
	if x.typ == jarray.Integer && y.typ == jarray.Integer {
		out := &array{typ: jarray.Integer, shape: shape, ints: make([]int64, n)}
		for i := range out.ints {
			out.ints[i] = fi(x.ints[xi(i)], y.ints[yi(i)])
		}
		return out, nil
	}
	out := &array{typ: typeFloat, shape: shape, floats: make([]float64, n)}
	for i := range out.floats {
		out.floats[i] = ff(x.float(xi(i)), y.float(yi(i)))
	}
	return out, nil
}

func divide(x, y *array) (*array, error) {
	if !x.numeric() || !y.numeric() {
		return nil, domainErr("numeric arguments required")
	}
	x = x.toFloat()
	return arith(x, y, nil, func(a, b float64) float64 {
		if b == 0 {
			if a == 0 {
				return 0
			}
			return math.Copysign(math.Inf(1), a)
		}
		return a / b
	})
}

func agree(x, y *array) ([]int64, error) {
	switch {
	case x.count() == 1 && x.rank() <= y.rank():
		return append([]int64(nil), y.shape...), nil
	case y.count() == 1 && y.rank() <= x.rank():
		return append([]int64(nil), x.shape...), nil
	}
	if len(x.shape) != len(y.shape) {
		return nil, lengthErr("shapes %v and %v", x.shape, y.shape)
	}
	for i := range x.shape {
		if x.shape[i] != y.shape[i] {
			return nil, lengthErr("shapes %v and %v", x.shape, y.shape)
		}
	}
	return append([]int64(nil), x.shape...), nil
}

func sum(y *array) (*array, error) {
	if !y.numeric() {
		return nil, domainErr("numeric argument required")
	}
	if y.rank() == 0 {
		return y, nil
	}
	items := int(y.shape[0])
	cell := &array{typ: y.typ, shape: append([]int64(nil), y.shape[1:]...)}
	width := int(cell.count())
	if y.typ == jarray.Integer {
		cell.ints = make([]int64, width)
	} else {
		cell.floats = make([]float64, width)
	}
	for i := 0; i < items; i++ {
		for j := 0; j < width; j++ {
			if y.typ == jarray.Integer {
				cell.ints[j] += y.ints[i*width+j]
			} else {
				cell.floats[j] += y.floats[i*width+j]
			}
		}
	}
	return cell, nil
}

// open unboxes a list of lists into a padded table.
func open(y *array) (*array, error) {
	if y.typ != jarray.Box {
		return y, nil
	}
	if y.rank() == 0 {
		return y.boxes[0], nil
	}
	if y.rank() != 1 {
		return nil, nonceErr("open")
	}
	if len(y.boxes) == 0 {
		return y, nil
	}
	typ := y.boxes[0].typ
	width := int64(0)
	for _, b := range y.boxes {
		if b.typ != typ || b.rank() > 1 || typ == jarray.Box {
			return nil, domainErr("open of mixed contents")
		}
		width = max(width, b.count())
	}
	out := &array{typ: typ, shape: []int64{int64(len(y.boxes)), width}}
	for _, b := range y.boxes {
		n := b.count()
		switch typ {
		case jarray.Literal:
			out.chars = append(out.chars, b.chars...)
			out.chars = append(out.chars, []byte(strings.Repeat(" ", int(width-n)))...)
		case jarray.Integer:
			out.ints = append(out.ints, b.ints...)
			out.ints = append(out.ints, make([]int64, width-n)...)
		case typeFloat:
			out.floats = append(out.floats, b.floats...)
			out.floats = append(out.floats, make([]float64, width-n)...)
		}
	}
	return out, nil
}
