package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine"
)

var (
	// ErrPoisoned is returned by a worker whose engine was abandoned in the
	// middle of a call. Its engine state is undefined and it takes no more
	// work.
	ErrPoisoned = errors.New("engine worker poisoned")

	// ErrStopped is returned for work submitted after Stop.
	ErrStopped = errors.New("engine worker stopped")
)

// Request states. A request moves pending -> running -> done, or
// pending -> abandoned when its caller gives up before it starts, or
// running -> abandoned when the caller gives up while it runs.
const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateAbandoned
)

type workRequest struct {
	fn    func(*command.Protocol) (any, error)
	state atomic.Int32
	done  chan workResult
}

type workResult struct {
	value any
	err   error
}

// EngineWorker serializes all access to one engine session through a
// single goroutine locked to its OS thread. The engine keeps per-thread
// state, so every execute and decode pair must run here.
type EngineWorker struct {
	session  *engine.Session
	proto    *command.Protocol
	requests chan *workRequest
	quit     chan struct{}
	stopped  chan struct{}
	poisoned atomic.Bool
	stopOnce sync.Once
}

// NewEngineWorker takes ownership of session and starts the processing
// goroutine. The session is closed when the worker stops.
func NewEngineWorker(session *engine.Session, proto *command.Protocol) *EngineWorker {
	w := &EngineWorker{
		session:  session,
		proto:    proto,
		requests: make(chan *workRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *EngineWorker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.stopped)
	defer w.closeSession()

	for {
		select {
		case req := <-w.requests:
			if !req.state.CompareAndSwap(statePending, stateRunning) {
				continue
			}
			result := w.execute(req.fn)
			if req.state.CompareAndSwap(stateRunning, stateDone) {
				req.done <- result
				continue
			}
			// The caller left while the engine was busy.
			log.Warningf("%s: abandoned call returned, worker exits", w.session.Library())
			return
		case <-w.quit:
			return
		}
	}
}

func (w *EngineWorker) closeSession() {
	if err := w.session.Close(); err != nil {
		log.Warningf("closing engine session: %v", err)
	}
}

// execute runs fn against the protocol, recovering from panics.
func (w *EngineWorker) execute(fn func(*command.Protocol) (any, error)) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("engine worker: panic: %v", r)
			}
		}()
		result.value, result.err = fn(w.proto)
	}()
	return result
}

// Do runs fn on the worker goroutine and blocks until it returns. The value
// is returned even when fn also returns an error.
//
// If ctx ends before fn starts, fn is skipped and ctx.Err() is returned. If
// ctx ends while fn is running the worker is poisoned: the error wraps
// ErrPoisoned and every later call fails with it.
func (w *EngineWorker) Do(ctx context.Context, fn func(*command.Protocol) (any, error)) (any, error) {
	if w.poisoned.Load() {
		return nil, ErrPoisoned
	}
	req := &workRequest{fn: fn, done: make(chan workResult, 1)}

	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.stopped:
		if req.state.CompareAndSwap(statePending, stateAbandoned) {
			return nil, ErrStopped
		}
		res := <-req.done
		return res.value, res.err
	case <-ctx.Done():
		if req.state.CompareAndSwap(statePending, stateAbandoned) {
			return nil, ctx.Err()
		}
		if req.state.CompareAndSwap(stateRunning, stateAbandoned) {
			w.poisoned.Store(true)
			log.Errorf("%s: call abandoned mid-flight: %v", w.session.Library(), ctx.Err())
			return nil, fmt.Errorf("%w: %w", ErrPoisoned, ctx.Err())
		}
		res := <-req.done
		return res.value, res.err
	}
}

// Poisoned reports whether the worker has been abandoned mid-call.
func (w *EngineWorker) Poisoned() bool {
	return w.poisoned.Load()
}

// Stop shuts down the worker and closes its session. It waits for the
// goroutine to exit unless the worker is poisoned, in which case the
// session is closed whenever the abandoned call returns.
func (w *EngineWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	if !w.poisoned.Load() {
		<-w.stopped
	}
}

// run is Do with a typed result.
func run[T any](ctx context.Context, w *EngineWorker, fn func(*command.Protocol) (T, error)) (T, error) {
	v, err := w.Do(ctx, func(p *command.Protocol) (any, error) {
		return fn(p)
	})
	t, _ := v.(T)
	return t, err
}
