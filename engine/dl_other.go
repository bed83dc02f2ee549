//go:build !cgo || !(linux || darwin)

package engine

import "errors"

// Load always fails on builds without cgo dlopen support. OpenLibrary can
// still be used with an in-process Library.
func Load(path string) (Library, error) {
	return nil, &LoadError{Path: path, Err: errors.New("built without cgo dlopen support")}
}
