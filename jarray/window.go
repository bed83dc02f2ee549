package jarray

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// WordSize is the size in bytes of an engine integer.
const WordSize = 8

var (
	// ErrOutOfWindow is returned for a read that falls outside a Window.
	ErrOutOfWindow = errors.New("jarray: read outside window")
	// ErrBadExtent is returned when a rank, shape entry or count reported
	// by the engine cannot describe an array.
	ErrBadExtent = errors.New("jarray: bad extent")
)

// Window is a bounds-checked view over engine memory. It is built from a
// pointer and the length the engine reported, and every read copies out.
// A Window is only valid until the engine runs another sentence; it must
// not be stored.
type Window struct {
	buf []byte
}

// NewWindow returns a Window over n bytes starting at p.
func NewWindow(p unsafe.Pointer, n int) (Window, error) {
	switch {
	case n < 0:
		return Window{}, fmt.Errorf("%w: window length %d", ErrBadExtent, n)
	case n == 0:
		return Window{}, nil
	case p == nil:
		return Window{}, fmt.Errorf("%w: nil pointer for %d bytes", ErrOutOfWindow, n)
	}
	return Window{buf: unsafe.Slice((*byte)(p), n)}, nil
}

// WindowOf returns a Window over b. It is used for records that already
// live in Go memory.
func WindowOf(b []byte) Window {
	return Window{buf: b}
}

// Len returns the window size in bytes.
func (w Window) Len() int { return len(w.buf) }

func (w Window) check(off, n int) error {
	if off < 0 || n < 0 || off > len(w.buf) || n > len(w.buf)-off {
		return fmt.Errorf("%w: [%d,+%d) of %d bytes", ErrOutOfWindow, off, n, len(w.buf))
	}
	return nil
}

// Int64 reads the engine word at byte offset off, in native byte order.
func (w Window) Int64(off int) (int64, error) {
	if err := w.check(off, WordSize); err != nil {
		return 0, err
	}
	return int64(binary.NativeEndian.Uint64(w.buf[off:])), nil
}

// Int64s copies n engine words starting at byte offset off.
func (w Window) Int64s(off, n int) ([]int64, error) {
	size, err := ByteSize(int64(n), WordSize)
	if err != nil {
		return nil, err
	}
	if err := w.check(off, size); err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.NativeEndian.Uint64(w.buf[off+i*WordSize:]))
	}
	return out, nil
}

// Bytes copies n bytes starting at off.
func (w Window) Bytes(off, n int) ([]byte, error) {
	if err := w.check(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, w.buf[off:off+n])
	return out, nil
}

// Count returns the number of atoms in an array of the given shape. The
// empty shape (a scalar) holds one atom.
func Count(shape []int64) (int64, error) {
	count := int64(1)
	for i, n := range shape {
		if n < 0 {
			return 0, fmt.Errorf("%w: shape[%d] = %d", ErrBadExtent, i, n)
		}
		if n != 0 && count > math.MaxInt64/n {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrBadExtent, shape)
		}
		count *= n
	}
	return count, nil
}

// ByteSize returns count*size as an int, failing on negative or overflowing
// extents.
func ByteSize(count int64, size int) (int, error) {
	if count < 0 {
		return 0, fmt.Errorf("%w: count %d", ErrBadExtent, count)
	}
	if size > 0 && count > int64(math.MaxInt/size) {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrBadExtent, count, size)
	}
	return int(count) * size, nil
}
