package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad reports that the engine library could not be loaded.
	ErrLoad = errors.New("engine: load failed")
	// ErrInit reports that the engine initializer failed.
	ErrInit = errors.New("engine: init failed")
	// ErrClosed is returned by a second Close.
	ErrClosed = errors.New("engine: session closed")
	// ErrEmbeddedNUL is returned for text that cannot become a C string.
	ErrEmbeddedNUL = errors.New("engine: embedded NUL byte")
	// ErrUnbound is returned when an accessor finds no value for a name.
	ErrUnbound = errors.New("engine: name not bound to a noun")
)

// LoadError is returned by Open when the library or one of its symbols
// cannot be loaded.
type LoadError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("engine: load %s: symbol %s: %v", e.Path, e.Symbol, e.Err)
	}
	return fmt.Sprintf("engine: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// InitError is returned by Open when the engine cannot be initialized.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine: init %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() []error { return []error{ErrInit, e.Err} }

// AccessError is returned when an accessor reports a failure for a name.
type AccessError struct {
	Name   string
	Status int
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("engine: %s: not bound to a noun (status %d)", e.Name, e.Status)
}

func (e *AccessError) Unwrap() error { return ErrUnbound }
