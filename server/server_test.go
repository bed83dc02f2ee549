package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine/enginetest"
	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/jarray"
)

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_ReturnsStatusVerbatim(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	resp, err := c.Run(bg(), &RunRequest{Sentence: "m =: *: i. 2 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Status != 0 {
		t.Errorf("Status = %d, want 0", resp.Status)
	}

	resp, err = c.Run(bg(), &RunRequest{Sentence: "nope + 1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Status != 21 {
		t.Errorf("Status = %d, want 21", resp.Status)
	}
	if !strings.Contains(resp.Output, "value error") {
		t.Errorf("Output = %q", resp.Output)
	}
}

func TestRun_EmptySentence(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.Run(bg(), &RunRequest{})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestRun_EmbeddedNUL(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.Run(bg(), &RunRequest{Sentence: "'a\x00b'"})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

// ---------------------------------------------------------------------------
// Eval
// ---------------------------------------------------------------------------

func TestEvalValue(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	if _, err := c.Run(bg(), &RunRequest{Sentence: "m =: *: i. 2 3"}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.EvalValue(bg(), &EvalRequest{Expr: "m"})
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if !resp.Success {
		t.Fatalf("EvalValue failed: %s", resp.ErrorMessage)
	}
	want := jarray.Value{Rank: 2, Shape: []int64{2, 3}, Payload: jarray.Ints{0, 1, 4, 9, 16, 25}}
	if resp.Value == nil || !resp.Value.Equal(want) {
		t.Errorf("Value = %v, want %v", resp.Value, want)
	}
	if resp.Summary != want.String() {
		t.Errorf("Summary = %q, want %q", resp.Summary, want.String())
	}
	if resp.SnapshotID != "" {
		t.Error("no snapshot without Keep")
	}
}

func TestEvalValue_LiteralBytes(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	// Three bytes of a two-byte UTF-8 character: not valid UTF-8.
	resp, err := c.EvalValue(bg(), &EvalRequest{Expr: "3 $ '\u00e9'"})
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if !resp.Success {
		t.Fatalf("EvalValue failed: %s", resp.ErrorMessage)
	}
	want := jarray.Value{Rank: 1, Shape: []int64{3}, Payload: jarray.Chars{0xc3, 0xa9, 0xc3}}
	if resp.Value == nil || !resp.Value.Equal(want) {
		t.Errorf("Value = %v, want %v", resp.Value, want)
	}
}

func TestEvalValue_StatusInBody(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	resp, err := c.EvalValue(bg(), &EvalRequest{Expr: "1 2 + 1 2 3"})
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Status != 9 {
		t.Errorf("Status = %d, want 9", resp.Status)
	}
	if !strings.Contains(resp.ErrorMessage, "length error") {
		t.Errorf("ErrorMessage = %q", resp.ErrorMessage)
	}
}

func TestEvalText(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	resp, err := c.EvalText(bg(), &EvalRequest{Expr: "*: i. 2 3"})
	if err != nil {
		t.Fatalf("EvalText: %v", err)
	}
	if !resp.Success || resp.Text != "0  1  4\n9 16 25" {
		t.Errorf("got %+v", resp)
	}

	resp, err = c.EvalText(bg(), &EvalRequest{Expr: "undefined_x"})
	if err != nil {
		t.Fatalf("EvalText: %v", err)
	}
	if resp.Success || resp.Status != 21 || !strings.Contains(resp.Text, "value error") {
		t.Errorf("got %+v", resp)
	}
}

func TestEvalBinary(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	resp, err := c.EvalBinary(bg(), &EvalRequest{Expr: "'hello'"})
	if err != nil {
		t.Fatalf("EvalBinary: %v", err)
	}
	if resp.Raw == nil || resp.Raw.Text() != "hello" {
		t.Fatalf("got %+v", resp)
	}
	if resp.Raw.Type != jarray.Literal || resp.Raw.Rank != 1 {
		t.Errorf("Raw = %v", resp.Raw)
	}
}

func TestEvalBinary_TypeMismatch(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.EvalBinary(bg(), &EvalRequest{Expr: "i. 3"})
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("got %v, want FailedPrecondition", err)
	}
}

func TestEval_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.EvalText(bg(), &EvalRequest{SessionID: "missing", Expr: "1"})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestEval_TimeoutPoisonsSession(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := &fakeFactory{setup: func(lib *enginetest.Library) {
		lib.Delay = func(int64) { <-release }
	}}
	srv, err := New(f.open, WithEvalTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	c := newTestClient(t, srv)

	_, err = c.Run(bg(), &RunRequest{Sentence: "6!:3 ] 1"})
	if connect.CodeOf(err) != connect.CodeUnavailable {
		t.Fatalf("got %v, want Unavailable", err)
	}

	list, err := c.ListSessions(bg(), &ListSessionsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || !list.Sessions[0].Poisoned {
		t.Errorf("sessions = %+v", list.Sessions)
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestSnapshot_KeepAndFetch(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	resp, err := c.EvalValue(bg(), &EvalRequest{Expr: "i. 2 2", Keep: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SnapshotID == "" {
		t.Fatal("expected a snapshot ID")
	}

	// Rebinding the scratch name does not change the snapshot.
	if _, err := c.EvalValue(bg(), &EvalRequest{Expr: "'other'"}); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Snapshot(bg(), &SnapshotRequest{ID: resp.SnapshotID})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Value == nil || !snap.Value.Equal(*resp.Value) {
		t.Errorf("snapshot value = %v, want %v", snap.Value, resp.Value)
	}
	if snap.Expr != "i. 2 2" {
		t.Errorf("Expr = %q", snap.Expr)
	}

	snap, err = c.Snapshot(bg(), &SnapshotRequest{ID: resp.SnapshotID, Format: FormatCBOR, Release: true})
	if err != nil {
		t.Fatalf("Snapshot cbor: %v", err)
	}
	got, err := jarray.UnmarshalValue(snap.CBOR)
	if err != nil {
		t.Fatalf("UnmarshalValue: %v", err)
	}
	if !got.Equal(*resp.Value) {
		t.Errorf("cbor value = %v, want %v", got, resp.Value)
	}

	_, err = c.Snapshot(bg(), &SnapshotRequest{ID: resp.SnapshotID})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("released snapshot: got %v, want NotFound", err)
	}
}

func TestSnapshot_BadFormat(t *testing.T) {
	srv, _ := newTestServer(t)
	id := srv.Snapshots().Create("s", "1", jarray.Value{Payload: jarray.Int(1)})
	svc := NewEvalService(srv.Sessions(), srv.Snapshots(), nil, 0)

	_, err := svc.Snapshot(bg(), connectReq(&SnapshotRequest{ID: id, Format: "xml"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestSnapshotStore_Sweep(t *testing.T) {
	store := NewSnapshotStore()
	old := store.Create("s1", "1", jarray.Value{Payload: jarray.Int(1)})
	store.Create("s2", "2", jarray.Value{Payload: jarray.Int(2)})

	store.mu.Lock()
	store.snaps[old].LastUsed = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	if n := store.Sweep(time.Minute); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, ok := store.Lookup(old); ok {
		t.Error("stale snapshot should be gone")
	}
	if n := store.ReleaseSession("s2"); n != 1 {
		t.Errorf("released %d, want 1", n)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0", store.Len())
	}
}

func TestSnapshotStore_Export(t *testing.T) {
	store := NewSnapshotStore()
	v := jarray.Value{Rank: 1, Shape: []int64{3}, Payload: jarray.Chars("abc")}
	id := store.Create("s", "'abc'", v)

	data, err := store.Export(id)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := jarray.UnmarshalValue(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Errorf("got %v, want %v", got, v)
	}
	if _, err := store.Export("snap-missing"); err == nil {
		t.Error("expected error for a missing snapshot")
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateSession_Isolated(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	created, err := c.CreateSession(bg(), &CreateSessionRequest{Name: "scratchpad"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("CreateSession should return a non-empty session ID")
	}

	if _, err := c.Run(bg(), &RunRequest{SessionID: created.SessionID, Sentence: "only_here =: 1"}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.EvalText(bg(), &EvalRequest{Expr: "only_here"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("a name bound in one session should not be visible in another")
	}

	session, ok := srv.Sessions().Get(created.SessionID)
	if !ok || session.Name != "scratchpad" {
		t.Errorf("session = %+v", session)
	}
}

func TestDestroySession(t *testing.T) {
	srv, f := newTestServer(t)
	c := newTestClient(t, srv)

	created, err := c.CreateSession(bg(), &CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.EvalValue(bg(), &EvalRequest{SessionID: created.SessionID, Expr: "1", Keep: true})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.DestroySession(bg(), &DestroySessionRequest{SessionID: created.SessionID}); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if !f.lib(1).Closed() {
		t.Error("destroying a session should close its engine")
	}
	if _, ok := srv.Snapshots().Lookup(v.SnapshotID); ok {
		t.Error("destroying a session should release its snapshots")
	}

	_, err = c.DestroySession(bg(), &DestroySessionRequest{SessionID: created.SessionID})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("second destroy: got %v, want NotFound", err)
	}
}

func TestDestroySession_Default(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.DestroySession(bg(), &DestroySessionRequest{SessionID: srv.Sessions().DefaultID()})
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("got %v, want FailedPrecondition", err)
	}
	_, err = c.DestroySession(bg(), &DestroySessionRequest{})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestListSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	if _, err := c.CreateSession(bg(), &CreateSessionRequest{Name: "second"}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.ListSessions(bg(), &ListSessionsRequest{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(resp.Sessions))
	}
	if !resp.Sessions[0].Default || resp.Sessions[0].Name != "default" {
		t.Errorf("first = %+v, want the default session", resp.Sessions[0])
	}
	if resp.Sessions[1].Name != "second" || resp.Sessions[1].Default {
		t.Errorf("second = %+v", resp.Sessions[1])
	}
}

func TestComplete(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	for _, s := range []string{"alpha =: 1", "alps =: 2", "beta =: 3"} {
		if _, err := c.Run(bg(), &RunRequest{Sentence: s}); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := c.Complete(bg(), &CompleteRequest{Prefix: "al"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if strings.Join(resp.Items, " ") != "alpha alps" {
		t.Errorf("Items = %v, want [alpha alps]", resp.Items)
	}

	resp, err = c.Complete(bg(), &CompleteRequest{})
	if err != nil || len(resp.Items) != 0 {
		t.Errorf("empty prefix: got %v, %v", resp, err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFactory{setup: func(lib *enginetest.Library) {
		lib.Delay = func(int64) {
			close(started)
			<-release
		}
	}}
	srv, err := New(f.open, WithEvalTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	c := newTestClient(t, srv)

	// Hold the default engine busy outside any request deadline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.DefaultWorker().Do(bg(), func(p *command.Protocol) (any, error) {
			return p.Run("6!:3 ] 1")
		})
	}()
	<-started

	_, err = c.Complete(bg(), &CompleteRequest{Prefix: "a"})
	close(release)
	<-done
	if connect.CodeOf(err) != connect.CodeDeadlineExceeded {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}

	list, err := c.ListSessions(bg(), &ListSessionsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].Poisoned {
		t.Errorf("a completion that never ran should not poison: %+v", list.Sessions)
	}
}

func TestProfileRunsInEverySession(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile.ijs")
	if err := os.WriteFile(profile, []byte("NB. startup\ngreeting =: 'hi'\n"), 0644); err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, WithProfile(profile))
	c := newTestClient(t, srv)

	created, err := c.CreateSession(bg(), &CreateSessionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"", created.SessionID} {
		resp, err := c.EvalText(bg(), &EvalRequest{SessionID: id, Expr: "greeting"})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Text != "hi" {
			t.Errorf("session %q: Text = %q, want %q", id, resp.Text, "hi")
		}
	}
}

func TestProfileFailure(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile.ijs")
	if err := os.WriteFile(profile, []byte("a =: 1\nmissing + 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f := &fakeFactory{}
	_, err := New(f.open, WithProfile(profile))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("got %v, want a line 2 failure", err)
	}
	if !f.lib(0).Closed() {
		t.Error("a failed profile should close the engine")
	}
}

func TestProtocolOptions(t *testing.T) {
	srv, _ := newTestServer(t, WithProtocolOptions(command.WithScratch("tmp_z_")))
	c := newTestClient(t, srv)

	if _, err := c.EvalValue(bg(), &EvalRequest{Expr: "5"}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.EvalText(bg(), &EvalRequest{Expr: "tmp_z_"})
	if err != nil || resp.Text != "5" {
		t.Errorf("got %+v, %v", resp, err)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	srv, _ := newTestServer(t, WithHistory(store))
	c := newTestClient(t, srv)

	c.Run(bg(), &RunRequest{Sentence: "a =: 2"})
	c.EvalText(bg(), &EvalRequest{Expr: "a + 1"})
	c.EvalText(bg(), &EvalRequest{Expr: "b"})

	resp, err := c.History(bg(), &HistoryRequest{Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(resp.Entries))
	}
	if resp.Entries[1].Sentence != "a + 1" || resp.Entries[1].Output != "3" {
		t.Errorf("second entry = %+v", resp.Entries[1])
	}
	if resp.Entries[2].Status != 21 {
		t.Errorf("third entry status = %d, want 21", resp.Entries[2].Status)
	}
	if resp.Entries[0].Session != srv.Sessions().DefaultID() {
		t.Errorf("entry session = %q", resp.Entries[0].Session)
	}
}

func TestHistory_Disabled(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.History(bg(), &HistoryRequest{})
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("got %v, want FailedPrecondition", err)
	}
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestConnectError(t *testing.T) {
	cases := []struct {
		err  error
		want connect.Code
	}{
		{ErrPoisoned, connect.CodeUnavailable},
		{ErrStopped, connect.CodeUnavailable},
		{context.DeadlineExceeded, connect.CodeDeadlineExceeded},
		{context.Canceled, connect.CodeCanceled},
		{errors.New("other"), connect.CodeInternal},
	}
	for _, c := range cases {
		if got := connect.CodeOf(connectError(c.err)); got != c.want {
			t.Errorf("connectError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestUnknownProcedure(t *testing.T) {
	srv, _ := newTestServer(t)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	resp, err := hs.Client().Post(hs.URL+"/jfe.v1.EvalService/Missing", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
