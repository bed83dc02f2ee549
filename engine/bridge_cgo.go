//go:build cgo && (linux || darwin)

package engine

/*
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"
)

// The engine's callbacks only carry the instance pointer, so the owning
// session's configuration is found through this registry.
var bridges sync.Map // uintptr(jt) -> *bridge

type bridge struct {
	cb Callbacks

	// input is the last line handed to the engine by jfeInput. The engine
	// reads it after the callback returns, so it lives until the next read
	// or until the instance is freed.
	input *C.char
}

func registerBridge(jt unsafe.Pointer, cb Callbacks) {
	if old, loaded := bridges.Swap(uintptr(jt), &bridge{cb: cb}); loaded {
		old.(*bridge).release()
	}
}

func unregisterBridge(jt unsafe.Pointer) {
	if old, loaded := bridges.LoadAndDelete(uintptr(jt)); loaded {
		old.(*bridge).release()
	}
}

func lookupBridge(jt unsafe.Pointer) *bridge {
	v, ok := bridges.Load(uintptr(jt))
	if !ok {
		return nil
	}
	return v.(*bridge)
}

func (b *bridge) release() {
	if b.input != nil {
		C.free(unsafe.Pointer(b.input))
		b.input = nil
	}
}

//export jfeOutput
func jfeOutput(jt unsafe.Pointer, kind C.int, s *C.char) {
	b := lookupBridge(jt)
	if b == nil || s == nil {
		return
	}
	b.cb.Write(OutputKind(kind), C.GoString(s))
}

//export jfeWindow
func jfeWindow(jt unsafe.Pointer, x C.int, arg unsafe.Pointer, res *unsafe.Pointer) C.int {
	b := lookupBridge(jt)
	if b == nil {
		return 0
	}
	return C.int(b.cb.Window(int(x)))
}

//export jfeInput
func jfeInput(jt unsafe.Pointer, prompt *C.char) *C.char {
	b := lookupBridge(jt)
	if b == nil {
		return nil
	}
	var p string
	if prompt != nil {
		p = C.GoString(prompt)
	}
	line, err := NewCString(b.cb.Read(p))
	if err != nil {
		log.Warningf("input callback: %v", err)
	}
	b.release()
	b.input = C.CString(line.String())
	return b.input
}
