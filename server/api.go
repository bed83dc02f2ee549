package server

import (
	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/jarray"
)

// Service and procedure names. Every procedure is unary.
const (
	EvalServiceName    = "jfe.v1.EvalService"
	SessionServiceName = "jfe.v1.SessionService"

	EvalServiceRunProcedure        = "/jfe.v1.EvalService/Run"
	EvalServiceEvalTextProcedure   = "/jfe.v1.EvalService/EvalText"
	EvalServiceEvalValueProcedure  = "/jfe.v1.EvalService/EvalValue"
	EvalServiceEvalBinaryProcedure = "/jfe.v1.EvalService/EvalBinary"
	EvalServiceSnapshotProcedure   = "/jfe.v1.EvalService/Snapshot"

	SessionServiceCreateProcedure   = "/jfe.v1.SessionService/Create"
	SessionServiceDestroyProcedure  = "/jfe.v1.SessionService/Destroy"
	SessionServiceListProcedure     = "/jfe.v1.SessionService/List"
	SessionServiceHistoryProcedure  = "/jfe.v1.SessionService/History"
	SessionServiceCompleteProcedure = "/jfe.v1.SessionService/Complete"
)

// RunRequest executes one sentence. An empty SessionID selects the default
// session.
type RunRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Sentence  string `json:"sentence"`
}

// RunResponse carries the engine status verbatim.
type RunResponse struct {
	Status int    `json:"status"`
	Output string `json:"output"`
}

// EvalRequest evaluates an expression.
type EvalRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Expr      string `json:"expr"`
	// Keep asks EvalValue to store the result as a snapshot.
	Keep bool `json:"keep,omitempty"`
}

// EvalTextResponse is the engine's formatted output.
type EvalTextResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	Status       int    `json:"status"`
	Text         string `json:"text"`
}

// EvalValueResponse is a decoded value.
type EvalValueResponse struct {
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Status       int           `json:"status"`
	Value        *jarray.Value `json:"value,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	SnapshotID   string        `json:"snapshot_id,omitempty"`
}

// EvalBinaryResponse is a by-copy literal capture.
type EvalBinaryResponse struct {
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Status       int         `json:"status"`
	Raw          *jarray.Raw `json:"raw,omitempty"`
}

// Snapshot formats.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// SnapshotRequest fetches a stored value. Release drops it afterwards.
type SnapshotRequest struct {
	ID      string `json:"id"`
	Format  string `json:"format,omitempty"`
	Release bool   `json:"release,omitempty"`
}

// SnapshotResponse holds the value in the requested format.
type SnapshotResponse struct {
	ID    string        `json:"id"`
	Expr  string        `json:"expr"`
	Value *jarray.Value `json:"value,omitempty"`
	CBOR  []byte        `json:"cbor,omitempty"`
}

// CreateSessionRequest opens a new engine session.
type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

// CreateSessionResponse names the new session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// DestroySessionRequest closes a session.
type DestroySessionRequest struct {
	SessionID string `json:"session_id"`
}

// DestroySessionResponse is empty.
type DestroySessionResponse struct{}

// ListSessionsRequest is empty.
type ListSessionsRequest struct{}

// SessionInfo describes one session.
type SessionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Created  int64  `json:"created"`
	Default  bool   `json:"default,omitempty"`
	Poisoned bool   `json:"poisoned,omitempty"`
}

// ListSessionsResponse lists sessions oldest first.
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// HistoryRequest fetches the latest transcript entries of a session.
type HistoryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HistoryResponse lists entries oldest first.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// CompleteRequest asks for bound names starting with Prefix.
type CompleteRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Prefix    string `json:"prefix"`
}

// CompleteResponse lists matching names in order.
type CompleteResponse struct {
	Items []string `json:"items"`
}
