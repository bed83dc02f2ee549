package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/script"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDefaultSession is returned when destroying the default session.
	ErrDefaultSession = errors.New("the default session cannot be destroyed")
)

// Factory opens a new engine session.
type Factory func() (*engine.Session, error)

// Session is one engine instance served to clients.
type Session struct {
	ID      string
	Name    string
	Created time.Time
	Worker  *EngineWorker

	seq uint64
}

// SessionStore manages engine sessions.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	defaultID string
	nextSeq   atomic.Uint64

	open      Factory
	protoOpts []command.Option
	profile   string
	snapshots *SnapshotStore
}

// NewSessionStore creates a session store that opens engines with open.
// A non-empty profile is a script run in every new session.
func NewSessionStore(open Factory, snapshots *SnapshotStore, profile string, protoOpts ...command.Option) *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*Session),
		open:      open,
		protoOpts: protoOpts,
		profile:   profile,
		snapshots: snapshots,
	}
}

// Create opens a new engine session with an optional name and runs the
// profile in it.
func (s *SessionStore) Create(ctx context.Context, name string) (*Session, error) {
	es, err := s.open()
	if err != nil {
		return nil, err
	}
	proto, err := command.New(es, s.protoOpts...)
	if err != nil {
		es.Close()
		return nil, err
	}

	session := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		Created: time.Now(),
		Worker:  NewEngineWorker(es, proto),
		seq:     s.nextSeq.Add(1),
	}

	if s.profile != "" {
		if err := s.runProfile(ctx, session); err != nil {
			session.Worker.Stop()
			return nil, err
		}
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("session %s created (%s)", session.ID, es.Library())
	return session, nil
}

func (s *SessionStore) runProfile(ctx context.Context, session *Session) error {
	results, err := run(ctx, session.Worker, func(p *command.Protocol) ([]script.Result, error) {
		return script.RunFile(p, s.profile)
	})
	if err != nil {
		return fmt.Errorf("profile %s: %w", s.profile, err)
	}
	if f, failed := script.Failure(results); failed {
		return fmt.Errorf("profile %s line %d: status %d: %s", s.profile, f.Line, f.Status, f.Output)
	}
	return nil
}

// SetDefault makes id the session used when a request names none.
func (s *SessionStore) SetDefault(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultID = id
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Resolve returns the session with the given ID, or the default session
// when id is empty.
func (s *SessionStore) Resolve(id string) (*Session, error) {
	s.mu.RLock()
	if id == "" {
		id = s.defaultID
	}
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return session, nil
}

// Destroy removes a session, stops its worker and releases its snapshots.
func (s *SessionStore) Destroy(id string) error {
	s.mu.Lock()
	if id == s.defaultID {
		s.mu.Unlock()
		return ErrDefaultSession
	}
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	session.Worker.Stop()
	if s.snapshots != nil {
		s.snapshots.ReleaseSession(id)
	}
	log.Infof("session %s destroyed", id)
	return nil
}

// List returns every session, oldest first.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CloseAll stops every session, the default included.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.defaultID = ""
	s.mu.Unlock()

	for _, session := range sessions {
		session.Worker.Stop()
	}
}

// DefaultID returns the ID of the default session.
func (s *SessionStore) DefaultID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultID
}
