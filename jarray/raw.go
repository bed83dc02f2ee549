package jarray

import (
	"bytes"
	"fmt"
	"slices"
)

// Raw is a byte-exact capture of a literal array in the engine's binary
// representation: header words, shape and payload bytes.
type Raw struct {
	Flag    int64
	Rank    int
	Shape   []uint64
	Type    TypeTag
	Payload []byte
}

// Text returns the payload as a string.
func (r Raw) Text() string {
	return string(r.Payload)
}

// Equal reports whether two captures are identical.
func (r Raw) Equal(o Raw) bool {
	return r.Flag == o.Flag &&
		r.Rank == o.Rank &&
		r.Type == o.Type &&
		slices.Equal(r.Shape, o.Shape) &&
		bytes.Equal(r.Payload, o.Payload)
}

func (r Raw) String() string {
	shape := make([]int64, len(r.Shape))
	for i, n := range r.Shape {
		shape[i] = int64(n)
	}
	return fmt.Sprintf("raw %s %s %d bytes", r.Type, shapeString(shape), len(r.Payload))
}
