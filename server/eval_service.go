package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/decode"
	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/jarray"
)

// EvalService implements the jfe.v1.EvalService Connect handler.
type EvalService struct {
	sessions  *SessionStore
	snapshots *SnapshotStore
	history   *history.Store
	timeout   time.Duration
}

// NewEvalService creates an EvalService. hist may be nil; a zero timeout
// leaves request contexts as they are.
func NewEvalService(sessions *SessionStore, snapshots *SnapshotStore, hist *history.Store, timeout time.Duration) *EvalService {
	return &EvalService{
		sessions:  sessions,
		snapshots: snapshots,
		history:   hist,
		timeout:   timeout,
	}
}

// NewEvalServiceHandler builds the HTTP handler for svc. It returns the
// path to mount it on.
func NewEvalServiceHandler(svc *EvalService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	runHandler := connect.NewUnaryHandler(EvalServiceRunProcedure, svc.Run, opts...)
	textHandler := connect.NewUnaryHandler(EvalServiceEvalTextProcedure, svc.EvalText, opts...)
	valueHandler := connect.NewUnaryHandler(EvalServiceEvalValueProcedure, svc.EvalValue, opts...)
	binaryHandler := connect.NewUnaryHandler(EvalServiceEvalBinaryProcedure, svc.EvalBinary, opts...)
	snapshotHandler := connect.NewUnaryHandler(EvalServiceSnapshotProcedure, svc.Snapshot, opts...)

	return "/" + EvalServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case EvalServiceRunProcedure:
			runHandler.ServeHTTP(w, r)
		case EvalServiceEvalTextProcedure:
			textHandler.ServeHTTP(w, r)
		case EvalServiceEvalValueProcedure:
			valueHandler.ServeHTTP(w, r)
		case EvalServiceEvalBinaryProcedure:
			binaryHandler.ServeHTTP(w, r)
		case EvalServiceSnapshotProcedure:
			snapshotHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Run executes a sentence and returns the engine status verbatim.
func (s *EvalService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	sentence := req.Msg.Sentence
	if sentence == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("sentence is required"))
	}
	session, err := s.resolve(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	resp, err := run(wctx, session.Worker, func(p *command.Protocol) (*RunResponse, error) {
		code, err := p.Run(sentence)
		if err != nil {
			return nil, err
		}
		return &RunResponse{Status: code, Output: p.Output()}, nil
	})
	if err != nil {
		return nil, connectError(err)
	}

	s.record(ctx, session.ID, sentence, resp.Status, resp.Output)
	return connect.NewResponse(resp), nil
}

// EvalText executes an expression and returns the engine's formatted output.
func (s *EvalService) EvalText(
	ctx context.Context,
	req *connect.Request[EvalRequest],
) (*connect.Response[EvalTextResponse], error) {
	expr := req.Msg.Expr
	if expr == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("expr is required"))
	}
	session, err := s.resolve(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	text, err := run(wctx, session.Worker, func(p *command.Protocol) (string, error) {
		return p.EvalText(expr)
	})

	var se *command.StatusError
	switch {
	case errors.As(err, &se):
		s.record(ctx, session.ID, expr, se.Code, text)
		return connect.NewResponse(&EvalTextResponse{
			Success:      false,
			ErrorMessage: se.Error(),
			Status:       se.Code,
			Text:         text,
		}), nil
	case err != nil:
		return nil, connectError(err)
	}

	s.record(ctx, session.ID, expr, 0, text)
	return connect.NewResponse(&EvalTextResponse{Success: true, Text: text}), nil
}

// EvalValue evaluates an expression and returns the decoded value. With
// Keep set the value is also stored as a snapshot.
func (s *EvalService) EvalValue(
	ctx context.Context,
	req *connect.Request[EvalRequest],
) (*connect.Response[EvalValueResponse], error) {
	expr := req.Msg.Expr
	if expr == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("expr is required"))
	}
	session, err := s.resolve(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	v, err := run(wctx, session.Worker, func(p *command.Protocol) (jarray.Value, error) {
		return p.EvalValue(expr)
	})

	var se *command.StatusError
	switch {
	case errors.As(err, &se):
		s.record(ctx, session.ID, expr, se.Code, se.Output)
		return connect.NewResponse(&EvalValueResponse{
			Success:      false,
			ErrorMessage: se.Error(),
			Status:       se.Code,
		}), nil
	case err != nil:
		return nil, connectError(err)
	}

	resp := &EvalValueResponse{
		Success: true,
		Value:   &v,
		Summary: v.String(),
	}
	if req.Msg.Keep {
		resp.SnapshotID = s.snapshots.Create(session.ID, expr, v)
	}
	s.record(ctx, session.ID, expr, 0, resp.Summary)
	return connect.NewResponse(resp), nil
}

// EvalBinary evaluates a literal expression and returns its by-copy
// capture.
func (s *EvalService) EvalBinary(
	ctx context.Context,
	req *connect.Request[EvalRequest],
) (*connect.Response[EvalBinaryResponse], error) {
	expr := req.Msg.Expr
	if expr == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("expr is required"))
	}
	session, err := s.resolve(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	raw, err := run(wctx, session.Worker, func(p *command.Protocol) (jarray.Raw, error) {
		return p.EvalBinary(expr)
	})

	var se *command.StatusError
	switch {
	case errors.As(err, &se):
		s.record(ctx, session.ID, expr, se.Code, se.Output)
		return connect.NewResponse(&EvalBinaryResponse{
			Success:      false,
			ErrorMessage: se.Error(),
			Status:       se.Code,
		}), nil
	case err != nil:
		return nil, connectError(err)
	}

	s.record(ctx, session.ID, expr, 0, raw.Text())
	return connect.NewResponse(&EvalBinaryResponse{Success: true, Raw: &raw}), nil
}

// Snapshot returns a stored value as JSON or canonical CBOR.
func (s *EvalService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	id := req.Msg.ID
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("id is required"))
	}
	snap, ok := s.snapshots.Lookup(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("snapshot %q not found", id))
	}

	resp := &SnapshotResponse{ID: snap.ID, Expr: snap.Expr}
	switch req.Msg.Format {
	case "", FormatJSON:
		resp.Value = &snap.Value
	case FormatCBOR:
		data, err := jarray.MarshalValue(snap.Value)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		resp.CBOR = data
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown format %q", req.Msg.Format))
	}

	if req.Msg.Release {
		s.snapshots.Release(id)
	}
	return connect.NewResponse(resp), nil
}

func (s *EvalService) resolve(id string) (*Session, error) {
	session, err := s.sessions.Resolve(id)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return session, nil
}

func (s *EvalService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return timeoutContext(ctx, s.timeout)
}

// timeoutContext bounds ctx by d. A non-positive d only adds cancellation.
func timeoutContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// record appends to the transcript. Failures are logged, not returned:
// the sentence has already run.
func (s *EvalService) record(ctx context.Context, sessionID, sentence string, status int, output string) {
	if s.history == nil {
		return
	}
	_, err := s.history.Record(ctx, history.Entry{
		Session:  sessionID,
		Sentence: sentence,
		Status:   status,
		Output:   output,
	})
	if err != nil {
		log.Warningf("history: %v", err)
	}
}

// connectError maps worker and decode errors onto Connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, ErrPoisoned), errors.Is(err, ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, engine.ErrEmbeddedNUL):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, decode.ErrTypeMismatch):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, engine.ErrUnbound):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
