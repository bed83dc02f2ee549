//go:build cgo && (linux || darwin)

package engine

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef long long JI;

typedef void* (*jfe_init_fn)(void);
typedef int   (*jfe_free_fn)(void*);
typedef int   (*jfe_do_fn)(void*, char*);
typedef char* (*jfe_getr_fn)(void*);
typedef void  (*jfe_sm_fn)(void*, void**);
typedef void* (*jfe_geta_fn)(void*, JI, char*);
typedef int   (*jfe_getm_fn)(void*, char*, JI*, JI*, JI*, JI*);
typedef int   (*jfe_setm_fn)(void*, char*, JI*, JI*, JI*, JI*);

static void* jfe_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}
static const char* jfe_dlerror(void) {
	return dlerror();
}
// Clear dlerror, look the symbol up, and report the error if any.
static void* jfe_dlsym(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	char* e = dlerror();
	if (err) *err = e;
	return e ? NULL : p;
}
static int jfe_dlclose(void* h) {
	return dlclose(h);
}

// cgo cannot call function pointers directly; these trampolines do.
static void* jfe_init(void* fn) {
	return ((jfe_init_fn)fn)();
}
static int jfe_free(void* fn, void* jt) {
	return ((jfe_free_fn)fn)(jt);
}
static int jfe_do(void* fn, void* jt, char* s) {
	return ((jfe_do_fn)fn)(jt, s);
}
static char* jfe_getr(void* fn, void* jt) {
	return ((jfe_getr_fn)fn)(jt);
}

// JGetA answers with an array whose first word is the byte offset of its
// data; the data is the serialized record.
static void* jfe_geta(void* fn, void* jt, JI n, char* name) {
	void* a = ((jfe_geta_fn)fn)(jt, n, name);
	if (a == NULL) return NULL;
	return (char*)a + *(JI*)a;
}

// JGetM reports shape and data addresses as integers.
static int jfe_getm(void* fn, void* jt, char* name, JI* type, JI* rank, void** shape, void** data) {
	JI s = 0, d = 0;
	int rc = ((jfe_getm_fn)fn)(jt, name, type, rank, &s, &d);
	*shape = (void*)(intptr_t)s;
	*data = (void*)(intptr_t)d;
	return rc;
}

static int jfe_setm(void* fn, void* jt, char* name, JI type, JI rank, void* shape, void* data) {
	JI s = (JI)(intptr_t)shape;
	JI d = (JI)(intptr_t)data;
	return ((jfe_setm_fn)fn)(jt, name, &type, &rank, &s, &d);
}

extern void jfeOutput(void*, int, char*);
extern int jfeWindow(void*, int, void*, void**);
extern char* jfeInput(void*, char*);

static void jfe_output(void* jt, int kind, char* s) {
	jfeOutput(jt, kind, s);
}
static int jfe_wd(void* jt, int x, void* arg, void** res) {
	return jfeWindow(jt, x, arg, res);
}
static char* jfe_input(void* jt, char* prompt) {
	return jfeInput(jt, prompt);
}

// The engine copies the callback table during JSM.
static void jfe_sm(void* fn, void* jt, intptr_t kind) {
	void* cbs[5];
	cbs[0] = (void*)jfe_output;
	cbs[1] = (void*)jfe_wd;
	cbs[2] = (void*)jfe_input;
	cbs[3] = NULL;
	cbs[4] = (void*)kind;
	((jfe_sm_fn)fn)(jt, cbs);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type dlSymbols struct {
	init, free, do, getr, sm, geta, getm, setm unsafe.Pointer
}

// dlLibrary is an engine library opened with dlopen.
type dlLibrary struct {
	path string
	h    unsafe.Pointer
	sym  dlSymbols
}

func dlerr() string {
	if e := C.jfe_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

// Load opens the engine library at path and resolves its exports.
func Load(path string) (Library, error) {
	if err := unix.Access(path, unix.R_OK); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	h := C.jfe_dlopen(cs)
	if h == nil {
		return nil, &LoadError{Path: path, Err: errors.New(dlerr())}
	}

	lib := &dlLibrary{path: path, h: h}
	exports := []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"JInit", &lib.sym.init},
		{"JFree", &lib.sym.free},
		{"JDo", &lib.sym.do},
		{"JGetR", &lib.sym.getr},
		{"JSM", &lib.sym.sm},
		{"JGetA", &lib.sym.geta},
		{"JGetM", &lib.sym.getm},
		{"JSetM", &lib.sym.setm},
	}
	for _, e := range exports {
		p, err := dlsym(h, e.name)
		if err != nil {
			C.jfe_dlclose(h)
			return nil, &LoadError{Path: path, Symbol: e.name, Err: err}
		}
		*e.dst = p
	}

	log.Debugf("loaded %s", path)
	return lib, nil
}

func dlsym(h unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var cerr *C.char
	p := C.jfe_dlsym(h, cs, &cerr)
	if cerr != nil {
		return nil, errors.New(C.GoString(cerr))
	}
	if p == nil {
		return nil, fmt.Errorf("%s resolved to NULL", name)
	}
	return p, nil
}

func (l *dlLibrary) Path() string { return l.path }

func (l *dlLibrary) Init() (Instance, error) {
	jt := C.jfe_init(l.sym.init)
	if jt == nil {
		return nil, errors.New("JInit returned NULL")
	}
	return &dlInstance{lib: l, jt: jt}, nil
}

func (l *dlLibrary) Close() error {
	if l.h == nil {
		return nil
	}
	rc := C.jfe_dlclose(l.h)
	l.h = nil
	if rc != 0 {
		return fmt.Errorf("engine: dlclose %s: %s", l.path, dlerr())
	}
	return nil
}

// dlInstance is one engine created by JInit.
type dlInstance struct {
	lib *dlLibrary
	jt  unsafe.Pointer
}

func cchar(s CString) *C.char {
	return (*C.char)(unsafe.Pointer(&s.Bytes()[0]))
}

func (i *dlInstance) Free() int {
	rc := C.jfe_free(i.lib.sym.free, i.jt)
	unregisterBridge(i.jt)
	return int(rc)
}

func (i *dlInstance) Do(sentence CString) int {
	return int(C.jfe_do(i.lib.sym.do, i.jt, cchar(sentence)))
}

func (i *dlInstance) GetR() string {
	p := C.jfe_getr(i.lib.sym.getr, i.jt)
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

func (i *dlInstance) SM(cb Callbacks) {
	registerBridge(i.jt, cb)
	C.jfe_sm(i.lib.sym.sm, i.jt, C.intptr_t(cb.Kind))
}

func (i *dlInstance) GetA(name CString) unsafe.Pointer {
	return C.jfe_geta(i.lib.sym.geta, i.jt, C.JI(name.Len()), cchar(name))
}

func (i *dlInstance) GetM(name CString) (Descriptor, int) {
	var typ, rank C.JI
	var shape, data unsafe.Pointer
	rc := C.jfe_getm(i.lib.sym.getm, i.jt, cchar(name), &typ, &rank, &shape, &data)
	return Descriptor{
		Type:  int64(typ),
		Rank:  int64(rank),
		Shape: shape,
		Data:  data,
	}, int(rc)
}

func (i *dlInstance) SetM(name CString, d Descriptor) int {
	return int(C.jfe_setm(i.lib.sym.setm, i.jt, cchar(name), C.JI(d.Type), C.JI(d.Rank), d.Shape, d.Data))
}
