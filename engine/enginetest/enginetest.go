// Package enginetest provides an in-process engine.Library for tests.
//
// The fake understands a small subset of J: integer, float and literal
// nouns, assignment with =: and =., right-to-left evaluation of a handful
// of primitives, and a few foreigns (4!:1 names, 1!:1 read, 11!:0 window
// driver, 6!:3 delay, 3!:0 datatype). Its arrays live in Go memory and are
// described to callers with real pointers, so code built on the engine
// accessors runs unchanged against it.
package enginetest

import (
	"encoding/binary"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/jarray"
)

// Library is a fake engine library.
type Library struct {
	// InitErr, when set, makes Init fail.
	InitErr error
	// Delay implements 6!:3. It defaults to time.Sleep.
	Delay func(seconds int64)

	mu        sync.Mutex
	instances []*Instance
	closed    bool
}

// New returns a fake library.
func New() *Library {
	return &Library{}
}

// Open starts a session on a fresh fake library.
func Open(opts ...engine.Option) (*engine.Session, *Library, error) {
	lib := New()
	s, err := engine.OpenLibrary(lib, opts...)
	return s, lib, err
}

func (l *Library) Path() string { return "enginetest" }

func (l *Library) Init() (engine.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.InitErr != nil {
		return nil, l.InitErr
	}
	if l.closed {
		return nil, errors.New("enginetest: library closed")
	}
	in := &Instance{lib: l, vars: make(map[string]*array)}
	l.instances = append(l.instances, in)
	return in, nil
}

func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called.
func (l *Library) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Last returns the most recently created instance.
func (l *Library) Last() *Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.instances) == 0 {
		return nil
	}
	return l.instances[len(l.instances)-1]
}

func (l *Library) delay(seconds int64) {
	if l.Delay != nil {
		l.Delay(seconds)
		return
	}
	time.Sleep(time.Duration(seconds) * time.Second)
}

// Instance is one fake engine.
type Instance struct {
	lib *Library

	mu        sync.Mutex
	vars      map[string]*array
	cb        engine.Callbacks
	out       strings.Builder
	records   [][]byte
	sentences []string
	freed     bool
}

// Sentences returns every sentence run so far.
func (in *Instance) Sentences() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.sentences...)
}

// Freed reports whether Free was called.
func (in *Instance) Freed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.freed
}

// Names returns the bound names, sorted.
func (in *Instance) Names() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.names()
}

func (in *Instance) names() []string {
	names := make([]string, 0, len(in.vars))
	for name := range in.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (in *Instance) Free() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.freed = true
	in.vars = nil
	in.records = nil
	return 0
}

func (in *Instance) SM(cb engine.Callbacks) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cb = cb
}

func (in *Instance) GetR() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.out.String()
}

func (in *Instance) Do(sentence engine.CString) int {
	in.mu.Lock()
	text := sentence.String()
	in.sentences = append(in.sentences, text)
	in.out.Reset()
	// Pointers handed out by the accessors are only good until the next
	// sentence.
	in.records = nil
	in.mu.Unlock()

	// Callbacks run without the lock so they may call back into the
	// instance's read-only helpers.
	out, kind, code := in.run(text)
	if out == "" {
		return code
	}

	in.mu.Lock()
	in.out.WriteString(out)
	write := in.cb.Write
	in.mu.Unlock()
	if write != nil {
		write(kind, out)
	}
	return code
}

func (in *Instance) run(text string) (string, engine.OutputKind, int) {
	res, display, err := in.exec(text)
	if err != nil {
		var je *jerror
		if errors.As(err, &je) {
			return "|" + je.Error() + "\n", engine.OutputError, je.code
		}
		return "|" + err.Error() + "\n", engine.OutputError, codeSystem
	}
	if !display || res == nil {
		return "", engine.OutputFormatted, 0
	}
	return format(res) + "\n", engine.OutputFormatted, 0
}

func (in *Instance) lookup(name string) (*array, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	a, ok := in.vars[name]
	return a, ok
}

func (in *Instance) assign(name string, a *array) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.vars[name] = a
}

func (in *Instance) GetM(name engine.CString) (engine.Descriptor, int) {
	a, ok := in.lookup(name.String())
	if !ok {
		return engine.Descriptor{}, codeValue
	}
	d := engine.Descriptor{
		Type:  int64(a.typ),
		Rank:  int64(len(a.shape)),
		Shape: unsafe.Pointer(unsafe.SliceData(a.shape)),
	}
	switch a.typ {
	case jarray.Integer:
		d.Data = unsafe.Pointer(unsafe.SliceData(a.ints))
	case jarray.Literal:
		d.Data = unsafe.Pointer(unsafe.SliceData(a.chars))
	case typeFloat:
		d.Data = unsafe.Pointer(unsafe.SliceData(a.floats))
	case jarray.Box:
		d.Data = unsafe.Pointer(unsafe.SliceData(a.boxes))
	}
	return d, 0
}

// Serialized record flag for a 64-bit engine.
const recordFlag = 0xe3

func (in *Instance) GetA(name engine.CString) unsafe.Pointer {
	a, ok := in.lookup(name.String())
	if !ok {
		return nil
	}
	rec := record(a)
	in.mu.Lock()
	in.records = append(in.records, rec)
	in.mu.Unlock()
	return unsafe.Pointer(&rec[0])
}

// record lays out [flag][type][count][rank][shape][payload], with the
// payload padded to a whole word.
func record(a *array) []byte {
	w := func(b []byte, v int64) []byte {
		return binary.NativeEndian.AppendUint64(b, uint64(v))
	}
	count := a.count()
	var b []byte
	b = w(b, recordFlag)
	b = w(b, int64(a.typ))
	b = w(b, count)
	b = w(b, int64(len(a.shape)))
	for _, n := range a.shape {
		b = w(b, n)
	}
	switch a.typ {
	case jarray.Literal:
		b = append(b, a.chars...)
		for len(b)%jarray.WordSize != 0 {
			b = append(b, 0)
		}
	case jarray.Integer:
		for _, n := range a.ints {
			b = w(b, n)
		}
	default:
		b = append(b, make([]byte, count*jarray.WordSize)...)
	}
	return b
}

func (in *Instance) SetM(name engine.CString, d engine.Descriptor) int {
	if d.Rank < 0 || (d.Rank > 0 && d.Shape == nil) {
		return codeDomain
	}
	shape := make([]int64, d.Rank)
	if d.Rank > 0 {
		copy(shape, unsafe.Slice((*int64)(d.Shape), d.Rank))
	}
	a := &array{typ: jarray.TypeTag(d.Type), shape: shape}
	n := a.count()
	if n > 0 && d.Data == nil {
		return codeDomain
	}
	switch a.typ {
	case jarray.Integer:
		a.ints = make([]int64, n)
		if n > 0 {
			copy(a.ints, unsafe.Slice((*int64)(d.Data), n))
		}
	case jarray.Literal:
		a.chars = make([]byte, n)
		if n > 0 {
			copy(a.chars, unsafe.Slice((*byte)(d.Data), n))
		}
	default:
		return codeDomain
	}
	in.assign(name.String(), a)
	return 0
}
