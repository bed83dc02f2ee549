// Package decode turns engine bindings into Go values.
//
// Value walks the by-reference descriptor of a name; Binary copies the
// by-copy record of a literal. Both read engine memory through
// jarray.Window, copy everything they return, and keep no pointer past the
// call, so their results stay valid after the engine runs again.
package decode

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tliron/commonlog"

	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/jarray"
)

var log = commonlog.GetLogger("jfe.decode")

// MaxRank bounds the rank a descriptor may report.
const MaxRank = 64

// ErrTypeMismatch is returned by Binary for a binding that is not literal.
var ErrTypeMismatch = errors.New("decode: type mismatch")

// TypeMismatchError carries the type tag Binary found.
type TypeMismatchError struct {
	Name string
	Tag  jarray.TypeTag
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("decode: %s is %s, want %s", e.Name, e.Tag, jarray.Literal)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// Describer is the part of an engine session the decoders use.
// *engine.Session implements it.
type Describer interface {
	DescribeRef(name string) (engine.Descriptor, error)
	DescribeCopy(name string) (unsafe.Pointer, error)
}

func checkRank(name string, rank int64) (int, error) {
	if rank < 0 || rank > MaxRank {
		return 0, fmt.Errorf("decode: %s: %w: rank %d", name, jarray.ErrBadExtent, rank)
	}
	return int(rank), nil
}

// Value decodes the array bound to name. Integer and literal arrays are
// decoded in full; boxed arrays are reported without their children; any
// other type comes back as jarray.Unrecognized.
func Value(src Describer, name string) (jarray.Value, error) {
	d, err := src.DescribeRef(name)
	if err != nil {
		return jarray.Value{}, err
	}
	rank, err := checkRank(name, d.Rank)
	if err != nil {
		return jarray.Value{}, err
	}

	v := jarray.Value{Rank: rank}
	if rank > 0 {
		w, err := jarray.NewWindow(d.Shape, rank*jarray.WordSize)
		if err != nil {
			return jarray.Value{}, fmt.Errorf("decode: %s shape: %w", name, err)
		}
		if v.Shape, err = w.Int64s(0, rank); err != nil {
			return jarray.Value{}, fmt.Errorf("decode: %s shape: %w", name, err)
		}
	}
	count, err := jarray.Count(v.Shape)
	if err != nil {
		return jarray.Value{}, fmt.Errorf("decode: %s: %w", name, err)
	}

	tag := jarray.TypeTag(d.Type)
	switch tag {
	case jarray.Integer:
		ints, err := readInts(d.Data, count)
		if err != nil {
			return jarray.Value{}, fmt.Errorf("decode: %s data: %w", name, err)
		}
		if rank == 0 {
			v.Payload = jarray.Int(ints[0])
		} else {
			v.Payload = jarray.Ints(ints)
		}
	case jarray.Literal:
		chars, err := readBytes(d.Data, count)
		if err != nil {
			return jarray.Value{}, fmt.Errorf("decode: %s data: %w", name, err)
		}
		if rank == 0 {
			v.Payload = jarray.Char(chars[0])
		} else {
			v.Payload = jarray.Chars(chars)
		}
	case jarray.Box:
		v.Payload = jarray.Boxed{}
	default:
		v.Payload = jarray.Unrecognized{Tag: tag}
	}

	log.Debugf("%s: %s", name, v)
	return v, nil
}

func readInts(p unsafe.Pointer, count int64) ([]int64, error) {
	n, err := jarray.ByteSize(count, jarray.WordSize)
	if err != nil {
		return nil, err
	}
	w, err := jarray.NewWindow(p, n)
	if err != nil {
		return nil, err
	}
	return w.Int64s(0, int(count))
}

func readBytes(p unsafe.Pointer, count int64) ([]byte, error) {
	n, err := jarray.ByteSize(count, 1)
	if err != nil {
		return nil, err
	}
	w, err := jarray.NewWindow(p, n)
	if err != nil {
		return nil, err
	}
	return w.Bytes(0, n)
}
