package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/jarray"
	"github.com/chazu/jfe/server"
)

// frontEnd is what the REPL and the one-shot modes drive. It is either a
// local engine session or a remote jfe server.
type frontEnd interface {
	Run(ctx context.Context, sentence string) (int, string, error)
	Value(ctx context.Context, expr string) (jarray.Value, error)
	Binary(ctx context.Context, expr string) (jarray.Raw, error)
	Complete(ctx context.Context, prefix string) ([]string, error)
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// errNoHistory is returned by History when nothing is being recorded.
var errNoHistory = errors.New("history is disabled (set [history] enabled = true in jfe.toml)")

// ---------------------------------------------------------------------------
// Local session
// ---------------------------------------------------------------------------

// localFrontEnd drives a protocol in this process. The REPL is the only
// caller, so no worker is needed.
type localFrontEnd struct {
	proto   *command.Protocol
	history *history.Store
	session string
}

func (l *localFrontEnd) Run(ctx context.Context, sentence string) (int, string, error) {
	code, err := l.proto.Run(sentence)
	if err != nil {
		return 0, "", err
	}
	out := l.proto.Output()
	l.record(ctx, sentence, code, out)
	return code, out, nil
}

func (l *localFrontEnd) Value(ctx context.Context, expr string) (jarray.Value, error) {
	v, err := l.proto.EvalValue(expr)
	l.recordErr(ctx, expr, err)
	return v, err
}

func (l *localFrontEnd) Binary(ctx context.Context, expr string) (jarray.Raw, error) {
	r, err := l.proto.EvalBinary(expr)
	l.recordErr(ctx, expr, err)
	return r, err
}

func (l *localFrontEnd) Complete(_ context.Context, prefix string) ([]string, error) {
	names, err := l.proto.Names()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (l *localFrontEnd) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if l.history == nil {
		return nil, errNoHistory
	}
	return l.history.Recent(ctx, l.session, limit)
}

func (l *localFrontEnd) record(ctx context.Context, sentence string, code int, out string) {
	if l.history == nil {
		return
	}
	e := history.Entry{Session: l.session, Sentence: sentence, Status: code, Output: out}
	if _, err := l.history.Record(ctx, e); err != nil {
		log.Warningf("history: %v", err)
	}
}

func (l *localFrontEnd) recordErr(ctx context.Context, expr string, err error) {
	var se *command.StatusError
	switch {
	case err == nil:
		l.record(ctx, expr, 0, "")
	case errors.As(err, &se):
		l.record(ctx, expr, se.Code, se.Output)
	}
}

// ---------------------------------------------------------------------------
// Remote server
// ---------------------------------------------------------------------------

// remoteFrontEnd drives a session of a jfe server through its Connect API.
type remoteFrontEnd struct {
	client  *server.Client
	session string
}

func newRemoteFrontEnd(baseURL, session string) *remoteFrontEnd {
	hc := &http.Client{Timeout: 5 * time.Minute}
	return &remoteFrontEnd{
		client:  server.NewClient(hc, strings.TrimRight(baseURL, "/")),
		session: session,
	}
}

func (r *remoteFrontEnd) Run(ctx context.Context, sentence string) (int, string, error) {
	resp, err := r.client.Run(ctx, &server.RunRequest{SessionID: r.session, Sentence: sentence})
	if err != nil {
		return 0, "", err
	}
	return resp.Status, resp.Output, nil
}

func (r *remoteFrontEnd) Value(ctx context.Context, expr string) (jarray.Value, error) {
	resp, err := r.client.EvalValue(ctx, &server.EvalRequest{SessionID: r.session, Expr: expr})
	if err != nil {
		return jarray.Value{}, err
	}
	if !resp.Success {
		return jarray.Value{}, remoteStatus(expr, resp.Status, resp.ErrorMessage)
	}
	if resp.Value == nil {
		return jarray.Value{}, fmt.Errorf("server returned no value for %q", expr)
	}
	return *resp.Value, nil
}

func (r *remoteFrontEnd) Binary(ctx context.Context, expr string) (jarray.Raw, error) {
	resp, err := r.client.EvalBinary(ctx, &server.EvalRequest{SessionID: r.session, Expr: expr})
	if err != nil {
		return jarray.Raw{}, err
	}
	if !resp.Success {
		return jarray.Raw{}, remoteStatus(expr, resp.Status, resp.ErrorMessage)
	}
	if resp.Raw == nil {
		return jarray.Raw{}, fmt.Errorf("server returned no capture for %q", expr)
	}
	return *resp.Raw, nil
}

func (r *remoteFrontEnd) Complete(ctx context.Context, prefix string) ([]string, error) {
	resp, err := r.client.Complete(ctx, &server.CompleteRequest{SessionID: r.session, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (r *remoteFrontEnd) History(ctx context.Context, limit int) ([]history.Entry, error) {
	resp, err := r.client.History(ctx, &server.HistoryRequest{SessionID: r.session, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// remoteStatus turns a failure reported in a response body into an error.
// The server has already formatted the message.
func remoteStatus(expr string, code int, msg string) error {
	if msg == "" {
		return fmt.Errorf("%q: status %d", expr, code)
	}
	return errors.New(msg)
}
