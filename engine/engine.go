// Package engine drives an embedded J engine through its C ABI.
//
// A Session owns one engine instance. It hands sentences to the engine,
// reads back captured output, and exposes the two descriptor accessors the
// decoders are built on. The engine is single-threaded: a Session must only
// be used from one goroutine at a time.
package engine

import (
	"path/filepath"
	"runtime"
	"strings"
	"unsafe"
)

// Library is a loaded engine library. Each Init call creates an
// independent engine instance.
type Library interface {
	// Path is the file the library was loaded from.
	Path() string
	Init() (Instance, error)
	// Close releases the library. Instances must be freed first.
	Close() error
}

// Instance is one live engine, mirroring the engine's exported functions.
// Pointers returned by GetA and GetM point into engine memory and are only
// valid until the next call to Do.
type Instance interface {
	// Free releases the instance (JFree).
	Free() int
	// Do runs a sentence and returns the engine's status code (JDo).
	Do(sentence CString) int
	// GetR returns the engine's captured output (JGetR).
	GetR() string
	// SM installs the session callbacks (JSM).
	SM(cb Callbacks)
	// GetA returns the binary record of a name, nil if unbound (JGetA).
	GetA(name CString) unsafe.Pointer
	// GetM describes a name by reference (JGetM).
	GetM(name CString) (Descriptor, int)
	// SetM binds a name from a descriptor (JSetM).
	SetM(name CString, d Descriptor) int
}

// Descriptor is what the by-reference accessor reports about a name. Shape
// and Data are borrowed engine pointers.
type Descriptor struct {
	Type  int64
	Rank  int64
	Shape unsafe.Pointer
	Data  unsafe.Pointer
}

// DefaultLibraryName returns the engine library file name for the host
// platform.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "j.dll"
	case "darwin":
		return "libj.dylib"
	default:
		return "libj.so"
	}
}

// LibraryPath joins a library directory and file name. An empty dir means
// the current working directory, an empty name the platform default. The
// result always contains a separator so the loader does not search its
// own path list.
func LibraryPath(dir, name string) string {
	if dir == "" {
		dir = "."
	}
	if name == "" {
		name = DefaultLibraryName()
	}
	p := filepath.Join(dir, name)
	if !strings.ContainsRune(p, filepath.Separator) {
		p = "." + string(filepath.Separator) + p
	}
	return p
}
