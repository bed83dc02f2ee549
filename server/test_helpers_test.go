package server

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/engine/enginetest"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Engines come from enginetest, so every test builds its own sessions. The
// factory keeps the fake libraries it opened so tests can reach into them.
// ---------------------------------------------------------------------------

type fakeFactory struct {
	mu    sync.Mutex
	libs  []*enginetest.Library
	setup func(*enginetest.Library)
}

func (f *fakeFactory) open() (*engine.Session, error) {
	lib := enginetest.New()
	if f.setup != nil {
		f.setup(lib)
	}
	f.mu.Lock()
	f.libs = append(f.libs, lib)
	f.mu.Unlock()
	return engine.OpenLibrary(lib, engine.WithCallbacks(engine.Callbacks{}))
}

func (f *fakeFactory) lib(i int) *enginetest.Library {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.libs[i]
}

// newTestServer creates a Server over fake engines and stops it when the
// test ends.
func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	srv, err := New(f.open, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, f
}

// newTestWorker starts a worker over a fresh fake engine.
func newTestWorker(t *testing.T) (*EngineWorker, *enginetest.Library) {
	t.Helper()
	s, lib, err := enginetest.Open(engine.WithCallbacks(engine.Callbacks{}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p, err := command.New(s)
	if err != nil {
		t.Fatal(err)
	}
	w := NewEngineWorker(s, p)
	t.Cleanup(w.Stop)
	return w, lib
}

// newTestClient serves srv over HTTP and returns a client for it.
func newTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return NewClient(hs.Client(), hs.URL)
}

// ---------------------------------------------------------------------------
// Request builder helpers.
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
