package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote jfe server.
type Client struct {
	run        *connect.Client[RunRequest, RunResponse]
	evalText   *connect.Client[EvalRequest, EvalTextResponse]
	evalValue  *connect.Client[EvalRequest, EvalValueResponse]
	evalBinary *connect.Client[EvalRequest, EvalBinaryResponse]
	snapshot   *connect.Client[SnapshotRequest, SnapshotResponse]

	createSession  *connect.Client[CreateSessionRequest, CreateSessionResponse]
	destroySession *connect.Client[DestroySessionRequest, DestroySessionResponse]
	listSessions   *connect.Client[ListSessionsRequest, ListSessionsResponse]
	history        *connect.Client[HistoryRequest, HistoryResponse]
	complete       *connect.Client[CompleteRequest, CompleteResponse]
}

// NewClient returns a client for the server at baseURL, for example
// "http://localhost:8975".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		run:        connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+EvalServiceRunProcedure, opts...),
		evalText:   connect.NewClient[EvalRequest, EvalTextResponse](httpClient, baseURL+EvalServiceEvalTextProcedure, opts...),
		evalValue:  connect.NewClient[EvalRequest, EvalValueResponse](httpClient, baseURL+EvalServiceEvalValueProcedure, opts...),
		evalBinary: connect.NewClient[EvalRequest, EvalBinaryResponse](httpClient, baseURL+EvalServiceEvalBinaryProcedure, opts...),
		snapshot:   connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+EvalServiceSnapshotProcedure, opts...),

		createSession:  connect.NewClient[CreateSessionRequest, CreateSessionResponse](httpClient, baseURL+SessionServiceCreateProcedure, opts...),
		destroySession: connect.NewClient[DestroySessionRequest, DestroySessionResponse](httpClient, baseURL+SessionServiceDestroyProcedure, opts...),
		listSessions:   connect.NewClient[ListSessionsRequest, ListSessionsResponse](httpClient, baseURL+SessionServiceListProcedure, opts...),
		history:        connect.NewClient[HistoryRequest, HistoryResponse](httpClient, baseURL+SessionServiceHistoryProcedure, opts...),
		complete:       connect.NewClient[CompleteRequest, CompleteResponse](httpClient, baseURL+SessionServiceCompleteProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run executes a sentence remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	return call(ctx, c.run, req)
}

// EvalText evaluates an expression remotely and returns its output.
func (c *Client) EvalText(ctx context.Context, req *EvalRequest) (*EvalTextResponse, error) {
	return call(ctx, c.evalText, req)
}

// EvalValue evaluates an expression remotely and returns the decoded value.
func (c *Client) EvalValue(ctx context.Context, req *EvalRequest) (*EvalValueResponse, error) {
	return call(ctx, c.evalValue, req)
}

// EvalBinary evaluates a literal expression remotely.
func (c *Client) EvalBinary(ctx context.Context, req *EvalRequest) (*EvalBinaryResponse, error) {
	return call(ctx, c.evalBinary, req)
}

// Snapshot fetches a stored value.
func (c *Client) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	return call(ctx, c.snapshot, req)
}

// CreateSession opens a remote session.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	return call(ctx, c.createSession, req)
}

// DestroySession closes a remote session.
func (c *Client) DestroySession(ctx context.Context, req *DestroySessionRequest) (*DestroySessionResponse, error) {
	return call(ctx, c.destroySession, req)
}

// ListSessions describes the remote sessions.
func (c *Client) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	return call(ctx, c.listSessions, req)
}

// History fetches transcript entries.
func (c *Client) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	return call(ctx, c.history, req)
}

// Complete fetches bound names matching a prefix.
func (c *Client) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	return call(ctx, c.complete, req)
}
