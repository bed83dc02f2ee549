// Package jarray holds the host-side snapshot of a J array.
//
// Values in this package own their data. They are produced by the decoders
// from engine memory that is only borrowed for the duration of a decode
// call, so nothing here points back into the engine.
package jarray

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TypeTag is the engine's element type code.
type TypeTag int64

// Type codes the decoders understand. Other engine codes (boolean, float,
// complex, ...) are carried as Unrecognized.
const (
	Literal TypeTag = 2
	Integer TypeTag = 4
	Box     TypeTag = 32
)

// Recognized reports whether the decoders have a payload kind for t.
func (t TypeTag) Recognized() bool {
	switch t {
	case Literal, Integer, Box:
		return true
	}
	return false
}

func (t TypeTag) String() string {
	switch t {
	case 1:
		return "boolean"
	case Literal:
		return "literal"
	case Integer:
		return "integer"
	case 8:
		return "floating"
	case 16:
		return "complex"
	case Box:
		return "boxed"
	default:
		return "type(" + strconv.FormatInt(int64(t), 10) + ")"
	}
}

// Kind classifies a Payload.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindChar
	KindChars
	KindInt
	KindInts
	KindBoxed
)

var kindNames = [...]string{
	KindUnrecognized: "unrecognized",
	KindChar:         "char",
	KindChars:        "chars",
	KindInt:          "int",
	KindInts:         "ints",
	KindBoxed:        "boxed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func kindFromString(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindUnrecognized, false
}

// Payload is the element data of a Value. The concrete types are Char,
// Chars, Int, Ints, Boxed and Unrecognized.
type Payload interface {
	Kind() Kind
	// Len is the number of atoms held.
	Len() int
}

// Char is a single literal atom.
type Char byte

// Chars is a literal array in ravel order.
type Chars []byte

// Int is a single integer atom.
type Int int64

// Ints is an integer array in ravel order.
type Ints []int64

// Boxed stands for a boxed array. Children are never decoded, so a Boxed
// payload is always empty; Count still reports the number of boxes.
type Boxed []Value

// Unrecognized marks an element type the decoders do not read.
type Unrecognized struct {
	Tag TypeTag
}

func (Char) Kind() Kind         { return KindChar }
func (Chars) Kind() Kind        { return KindChars }
func (Int) Kind() Kind          { return KindInt }
func (Ints) Kind() Kind         { return KindInts }
func (Boxed) Kind() Kind        { return KindBoxed }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (Char) Len() int         { return 1 }
func (c Chars) Len() int      { return len(c) }
func (Int) Len() int          { return 1 }
func (n Ints) Len() int       { return len(n) }
func (b Boxed) Len() int      { return len(b) }
func (Unrecognized) Len() int { return 0 }

// Value is a decoded J array: rank, shape and payload.
type Value struct {
	Rank    int
	Shape   []int64
	Payload Payload
}

// Count returns the element count implied by the shape (1 for a scalar).
func (v Value) Count() int64 {
	n, err := Count(v.Shape)
	if err != nil {
		return -1
	}
	return n
}

// Type returns the engine type tag the payload was decoded from.
func (v Value) Type() TypeTag {
	switch p := v.Payload.(type) {
	case Char, Chars:
		return Literal
	case Int, Ints:
		return Integer
	case Boxed:
		return Box
	case Unrecognized:
		return p.Tag
	}
	return 0
}

// Text returns the characters of a literal value.
func (v Value) Text() (string, bool) {
	switch p := v.Payload.(type) {
	case Char:
		return string([]byte{byte(p)}), true
	case Chars:
		return string(p), true
	}
	return "", false
}

// Rows splits a rank-2 literal value into its rows with trailing blanks
// removed. Any other value yields nil.
func (v Value) Rows() []string {
	chars, ok := v.Payload.(Chars)
	if !ok || v.Rank != 2 {
		return nil
	}
	width := int(v.Shape[1])
	rows := make([]string, 0, v.Shape[0])
	for i := 0; i+width <= len(chars) && len(rows) < int(v.Shape[0]); i += width {
		rows = append(rows, strings.TrimRight(string(chars[i:i+width]), " "))
	}
	return rows
}

// Equal reports whether two values have the same rank, shape and payload.
func (v Value) Equal(o Value) bool {
	if v.Rank != o.Rank || !slices.Equal(v.Shape, o.Shape) {
		return false
	}
	return payloadEqual(v.Payload, o.Payload)
}

func payloadEqual(a, b Payload) bool {
	switch a := a.(type) {
	case Char:
		b, ok := b.(Char)
		return ok && a == b
	case Chars:
		b, ok := b.(Chars)
		return ok && bytes.Equal(a, b)
	case Int:
		b, ok := b.(Int)
		return ok && a == b
	case Ints:
		b, ok := b.(Ints)
		return ok && slices.Equal(a, b)
	case Boxed:
		b, ok := b.(Boxed)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case Unrecognized:
		b, ok := b.(Unrecognized)
		return ok && a == b
	case nil:
		return b == nil
	}
	return false
}

// String renders a compact summary such as "ints 2x3 [0 1 4 9 16 25]".
// Long payloads are elided.
func (v Value) String() string {
	const maxShown = 16

	var b strings.Builder
	if v.Payload == nil {
		return "<empty>"
	}
	b.WriteString(v.Payload.Kind().String())
	b.WriteByte(' ')
	b.WriteString(shapeString(v.Shape))

	switch p := v.Payload.(type) {
	case Char:
		fmt.Fprintf(&b, " %q", string([]byte{byte(p)}))
	case Chars:
		s := string(p)
		if len(s) > 4*maxShown {
			s = s[:4*maxShown] + "..."
		}
		fmt.Fprintf(&b, " %q", s)
	case Int:
		fmt.Fprintf(&b, " %d", int64(p))
	case Ints:
		b.WriteString(" [")
		for i, n := range p {
			if i == maxShown {
				b.WriteString(" ...")
				break
			}
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatInt(n, 10))
		}
		b.WriteByte(']')
	case Unrecognized:
		fmt.Fprintf(&b, " (%s)", p.Tag)
	}
	return b.String()
}

func shapeString(shape []int64) string {
	if len(shape) == 0 {
		return "scalar"
	}
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, "x")
}
