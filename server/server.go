// Package server serves engine sessions over Connect (HTTP/JSON) and the
// Language Server Protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/history"
)

var log = commonlog.GetLogger("jfe.server")

// Server serves a set of engine sessions. A default session is opened by
// New and answers requests that name no session.
type Server struct {
	sessions  *SessionStore
	snapshots *SnapshotStore
	mux       *http.ServeMux

	mu          sync.Mutex
	httpServer  *http.Server
	stopSweeper func()
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	history       *history.Store
	snapshotTTL   time.Duration
	sweepInterval time.Duration
	evalTimeout   time.Duration
	profile       string
	protoOpts     []command.Option
}

// WithHistory records every sentence in store. The caller closes it.
func WithHistory(store *history.Store) ServerOption {
	return func(c *serverConfig) { c.history = store }
}

// WithSnapshotTTL drops snapshots unused for ttl, checking every interval.
func WithSnapshotTTL(ttl, interval time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.snapshotTTL = ttl
		c.sweepInterval = interval
	}
}

// WithEvalTimeout bounds each evaluation. A timed-out evaluation poisons
// its session.
func WithEvalTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.evalTimeout = d }
}

// WithProfile runs the script at path in every new session.
func WithProfile(path string) ServerOption {
	return func(c *serverConfig) { c.profile = path }
}

// WithProtocolOptions configures the command protocol of every session.
func WithProtocolOptions(opts ...command.Option) ServerOption {
	return func(c *serverConfig) { c.protoOpts = append(c.protoOpts, opts...) }
}

// New creates a Server whose sessions are opened by open, and opens the
// default session.
func New(open Factory, opts ...ServerOption) (*Server, error) {
	cfg := &serverConfig{
		snapshotTTL:   10 * time.Minute,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	snapshots := NewSnapshotStore()
	sessions := NewSessionStore(open, snapshots, cfg.profile, cfg.protoOpts...)

	def, err := sessions.Create(context.Background(), "default")
	if err != nil {
		return nil, fmt.Errorf("opening default session: %w", err)
	}
	sessions.SetDefault(def.ID)

	s := &Server{
		sessions:  sessions,
		snapshots: snapshots,
		mux:       http.NewServeMux(),
	}

	evalSvc := NewEvalService(sessions, snapshots, cfg.history, cfg.evalTimeout)
	sessionSvc := NewSessionServiceImpl(sessions, cfg.history, cfg.evalTimeout)

	evalPath, evalHandler := NewEvalServiceHandler(evalSvc)
	sessionPath, sessionHandler := NewSessionServiceHandler(sessionSvc)

	s.mux.Handle(evalPath, evalHandler)
	s.mux.Handle(sessionPath, sessionHandler)

	s.stopSweeper = snapshots.StartSweeper(cfg.sweepInterval, cfg.snapshotTTL)

	return s, nil
}

// Handler returns the HTTP handler serving both services.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Snapshots returns the snapshot store.
func (s *Server) Snapshots() *SnapshotStore {
	return s.snapshots
}

// DefaultWorker returns the worker of the default session.
func (s *Server) DefaultWorker() *EngineWorker {
	session, err := s.sessions.Resolve("")
	if err != nil {
		return nil
	}
	return session.Worker
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	fmt.Printf("jfe server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, EvalServiceEvalTextProcedure)
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server and closes every session.
func (s *Server) Stop() {
	s.mu.Lock()
	hs := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hs.Shutdown(ctx); err != nil {
			log.Warningf("shutdown: %v", err)
		}
		cancel()
	}
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.CloseAll()
}
