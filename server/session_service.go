package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/history"
)

// SessionServiceImpl implements the jfe.v1.SessionService Connect handler.
type SessionServiceImpl struct {
	sessions *SessionStore
	history  *history.Store
	timeout  time.Duration
}

// NewSessionServiceImpl creates a SessionServiceImpl. hist may be nil. The
// timeout bounds calls that run on a session's engine; zero means none.
func NewSessionServiceImpl(sessions *SessionStore, hist *history.Store, timeout time.Duration) *SessionServiceImpl {
	return &SessionServiceImpl{
		sessions: sessions,
		history:  hist,
		timeout:  timeout,
	}
}

// NewSessionServiceHandler builds the HTTP handler for svc. It returns the
// path to mount it on.
func NewSessionServiceHandler(svc *SessionServiceImpl, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	createHandler := connect.NewUnaryHandler(SessionServiceCreateProcedure, svc.CreateSession, opts...)
	destroyHandler := connect.NewUnaryHandler(SessionServiceDestroyProcedure, svc.DestroySession, opts...)
	listHandler := connect.NewUnaryHandler(SessionServiceListProcedure, svc.ListSessions, opts...)
	historyHandler := connect.NewUnaryHandler(SessionServiceHistoryProcedure, svc.History, opts...)
	completeHandler := connect.NewUnaryHandler(SessionServiceCompleteProcedure, svc.Complete, opts...)

	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SessionServiceCreateProcedure:
			createHandler.ServeHTTP(w, r)
		case SessionServiceDestroyProcedure:
			destroyHandler.ServeHTTP(w, r)
		case SessionServiceListProcedure:
			listHandler.ServeHTTP(w, r)
		case SessionServiceHistoryProcedure:
			historyHandler.ServeHTTP(w, r)
		case SessionServiceCompleteProcedure:
			completeHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CreateSession opens a new engine session.
func (s *SessionServiceImpl) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[CreateSessionResponse], error) {
	session, err := s.sessions.Create(ctx, req.Msg.Name)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&CreateSessionResponse{
		SessionID: session.ID,
	}), nil
}

// DestroySession closes a session and releases its snapshots. Its history
// is kept.
func (s *SessionServiceImpl) DestroySession(
	ctx context.Context,
	req *connect.Request[DestroySessionRequest],
) (*connect.Response[DestroySessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}

	err := s.sessions.Destroy(req.Msg.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrDefaultSession):
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	case err != nil:
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&DestroySessionResponse{}), nil
}

// ListSessions describes every session.
func (s *SessionServiceImpl) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	defaultID := s.sessions.DefaultID()
	resp := &ListSessionsResponse{Sessions: []SessionInfo{}}
	for _, session := range s.sessions.List() {
		resp.Sessions = append(resp.Sessions, SessionInfo{
			ID:       session.ID,
			Name:     session.Name,
			Created:  session.Created.Unix(),
			Default:  session.ID == defaultID,
			Poisoned: session.Worker.Poisoned(),
		})
	}
	return connect.NewResponse(resp), nil
}

// History returns the latest transcript entries of a session.
func (s *SessionServiceImpl) History(
	ctx context.Context,
	req *connect.Request[HistoryRequest],
) (*connect.Response[HistoryResponse], error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("history is disabled"))
	}
	session, err := s.sessions.Resolve(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	limit := req.Msg.Limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.history.Recent(ctx, session.ID, limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return connect.NewResponse(&HistoryResponse{Entries: entries}), nil
}

// Complete returns bound names matching the given prefix.
func (s *SessionServiceImpl) Complete(
	ctx context.Context,
	req *connect.Request[CompleteRequest],
) (*connect.Response[CompleteResponse], error) {
	prefix := req.Msg.Prefix
	if prefix == "" {
		return connect.NewResponse(&CompleteResponse{Items: []string{}}), nil
	}
	session, err := s.sessions.Resolve(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	wctx, cancel := timeoutContext(ctx, s.timeout)
	defer cancel()

	names, err := run(wctx, session.Worker, func(p *command.Protocol) ([]string, error) {
		return p.Names()
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&CompleteResponse{Items: complete(names, prefix)}), nil
}

// complete filters names by prefix, case-insensitively.
func complete(names []string, prefix string) []string {
	const maxItems = 100

	items := []string{}
	lowerPrefix := strings.ToLower(prefix)
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			items = append(items, name)
		}
		if len(items) == maxItems {
			break
		}
	}
	return items
}
