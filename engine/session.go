package engine

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"github.com/tliron/commonlog"

	"github.com/chazu/jfe/jarray"
)

var log = commonlog.GetLogger("jfe.engine")

// Option configures Open.
type Option func(*options)

type options struct {
	callbacks Callbacks
}

// WithCallbacks sets the session's front-end callbacks. Without it the
// session uses DefaultCallbacks(os.Stdout).
func WithCallbacks(cb Callbacks) Option {
	return func(o *options) { o.callbacks = cb }
}

// Session owns exactly one engine instance. It is not safe for concurrent
// use, and after Close every method except Close panics.
type Session struct {
	lib    Library
	inst   Instance
	closed bool
}

// Open loads the engine library at libPath and starts an instance.
func Open(libPath string, opts ...Option) (*Session, error) {
	lib, err := Load(libPath)
	if err != nil {
		return nil, err
	}
	return OpenLibrary(lib, opts...)
}

// OpenLibrary starts an instance of an already loaded library. The session
// takes ownership of lib: it is closed when the session is, or right away
// if the instance cannot be created.
func OpenLibrary(lib Library, opts ...Option) (*Session, error) {
	o := options{callbacks: DefaultCallbacks(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	inst, err := lib.Init()
	if err == nil && inst == nil {
		err = errors.New("initializer returned no instance")
	}
	if err != nil {
		if cerr := lib.Close(); cerr != nil {
			log.Warningf("closing %s after failed init: %v", lib.Path(), cerr)
		}
		return nil, &InitError{Path: lib.Path(), Err: err}
	}
	inst.SM(o.callbacks.complete())

	log.Infof("engine session opened from %s", lib.Path())
	return &Session{lib: lib, inst: inst}, nil
}

func (s *Session) live() Instance {
	if s.closed {
		panic("engine: use of closed session")
	}
	return s.inst
}

// Library returns the path the engine was loaded from.
func (s *Session) Library() string {
	return s.lib.Path()
}

// Execute runs a sentence and returns the engine's status code unchanged.
// A non-zero code is an error inside the J program, not a failure of the
// session. The only error is a sentence containing a NUL byte.
func (s *Session) Execute(sentence string) (int, error) {
	inst := s.live()
	cs, err := NewCString(sentence)
	if err != nil {
		return 0, err
	}
	code := inst.Do(cs)
	if code != 0 {
		log.Debugf("sentence %q: status %d", sentence, code)
	}
	return code, nil
}

// CapturedOutput returns the engine's most recent output with one trailing
// line terminator removed.
func (s *Session) CapturedOutput() string {
	out := s.live().GetR()
	if strings.HasSuffix(out, "\r\n") {
		return out[:len(out)-2]
	}
	return strings.TrimSuffix(out, "\n")
}

// DescribeRef reports the type, rank, shape and data pointers of a name
// through the by-reference accessor. The pointers are borrowed until the
// next Execute.
func (s *Session) DescribeRef(name string) (Descriptor, error) {
	inst := s.live()
	cs, err := NewCString(name)
	if err != nil {
		return Descriptor{}, err
	}
	d, status := inst.GetM(cs)
	if status != 0 {
		return Descriptor{}, &AccessError{Name: name, Status: status}
	}
	return d, nil
}

// DescribeCopy returns a pointer to the binary record of a name through
// the by-copy accessor. The record is borrowed until the next Execute.
func (s *Session) DescribeCopy(name string) (unsafe.Pointer, error) {
	inst := s.live()
	cs, err := NewCString(name)
	if err != nil {
		return nil, err
	}
	p := inst.GetA(cs)
	if p == nil {
		return nil, &AccessError{Name: name, Status: -1}
	}
	return p, nil
}

// SetInts binds name to an integer array of the given shape.
func (s *Session) SetInts(name string, shape []int64, data []int64) error {
	inst := s.live()
	count, err := jarray.Count(shape)
	if err != nil {
		return err
	}
	if int64(len(data)) != count {
		return fmt.Errorf("engine: %d elements for shape %v", len(data), shape)
	}
	cs, err := NewCString(name)
	if err != nil {
		return err
	}
	d := Descriptor{
		Type:  int64(jarray.Integer),
		Rank:  int64(len(shape)),
		Shape: unsafe.Pointer(unsafe.SliceData(shape)),
		Data:  unsafe.Pointer(unsafe.SliceData(data)),
	}
	status := inst.SetM(cs, d)
	runtime.KeepAlive(shape)
	runtime.KeepAlive(data)
	if status != 0 {
		return &AccessError{Name: name, Status: status}
	}
	return nil
}

// Close frees the engine instance and releases the library. A second call
// returns ErrClosed.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if rc := s.inst.Free(); rc != 0 {
		log.Warningf("engine free returned %d", rc)
	}
	s.inst = nil
	log.Infof("engine session closed")
	return s.lib.Close()
}
