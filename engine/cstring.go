package engine

import (
	"fmt"
	"strings"
)

// CString is NUL-terminated text ready to hand to the engine. The zero
// value is the empty string.
type CString struct {
	b []byte
}

// NewCString converts s, rejecting embedded NUL bytes.
func NewCString(s string) (CString, error) {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return CString{}, fmt.Errorf("%w at offset %d", ErrEmbeddedNUL, i)
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return CString{b: b}, nil
}

// MustCString is NewCString for constants. It panics on a NUL byte.
func MustCString(s string) CString {
	c, err := NewCString(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Len is the length without the terminator.
func (c CString) Len() int {
	if len(c.b) == 0 {
		return 0
	}
	return len(c.b) - 1
}

// Bytes returns the text including its terminator.
func (c CString) Bytes() []byte {
	if len(c.b) == 0 {
		return []byte{0}
	}
	return c.b
}

func (c CString) String() string {
	if len(c.b) == 0 {
		return ""
	}
	return string(c.b[:len(c.b)-1])
}
