package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/engine/enginetest"
)

func newRunner(t *testing.T) *command.Protocol {
	t.Helper()
	s, _, err := enginetest.Open(engine.WithCallbacks(engine.Callbacks{}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	p, err := command.New(s)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSplit(t *testing.T) {
	src := "NB. header\r\n\na =: 1\r\n   NB. indented comment\nb =: a + 1  NB. trailing\n\n"
	got := Split(src)
	if len(got) != 2 {
		t.Fatalf("got %d sentences: %+v", len(got), got)
	}
	if got[0].Line != 3 || got[0].Text != "a =: 1" {
		t.Errorf("first: %+v", got[0])
	}
	if got[1].Line != 5 || got[1].Text != "b =: a + 1  NB. trailing" {
		t.Errorf("second: %+v", got[1])
	}
}

func TestSplitExplicitDefinition(t *testing.T) {
	src := "double =: 3 : 0\n  NB. body comment\n\n  2 * y\n)\ndouble 4\n"
	got := Split(src)
	if len(got) != 2 {
		t.Fatalf("got %d sentences: %+v", len(got), got)
	}
	want := "double =: 3 : 0\n  NB. body comment\n\n  2 * y\n)"
	if got[0].Line != 1 || got[0].Text != want {
		t.Errorf("definition: got %+v, want line 1 %q", got[0], want)
	}
	if got[1].Line != 6 || got[1].Text != "double 4" {
		t.Errorf("use: got %+v, want line 6 %q", got[1], "double 4")
	}
}

func TestSplitDefinitionForms(t *testing.T) {
	tests := []struct {
		line  string
		opens bool
	}{
		{"f =: 3 : 0", true},
		{"f =: 4 :0", true},
		{"f =: verb : 0", true},
		{"f =: monad define", true},
		{"f =: 3 : 0  NB. doubles", true},
		{"txt =: 0 : 0", true},
		{"f =: 3 : 'y + 1'", false},
		{"a =: 10 : 0", false},
		{"s =: 'x 3 : 0'", false},
		{"b =: 1 , 0", false},
	}
	for _, tt := range tests {
		if got := opensDefinition(tt.line); got != tt.opens {
			t.Errorf("opensDefinition(%q): got %v, want %v", tt.line, got, tt.opens)
		}
	}
}

func TestSplitUnterminatedDefinition(t *testing.T) {
	got := Split("a =: 1\nf =: 3 : 0\n  y\n\n")
	if len(got) != 2 {
		t.Fatalf("got %d sentences: %+v", len(got), got)
	}
	if got[1].Line != 2 || got[1].Text != "f =: 3 : 0\n  y" {
		t.Errorf("open block: got %+v", got[1])
	}
}

// recordingRunner keeps every sentence it is handed.
type recordingRunner struct{ sent []string }

func (r *recordingRunner) Run(sentence string) (int, error) {
	r.sent = append(r.sent, sentence)
	return 0, nil
}

func (r *recordingRunner) Output() string { return "" }

func TestRunSendsDefinitionWhole(t *testing.T) {
	r := &recordingRunner{}
	results, err := Run(r, "f =: 3 : 0\n2 * y\n)\nf 4\n")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.sent) != 2 || len(results) != 2 {
		t.Fatalf("got %d sentences, want 2: %q", len(r.sent), r.sent)
	}
	if r.sent[0] != "f =: 3 : 0\n2 * y\n)" {
		t.Errorf("got %q, want the definition as one sentence", r.sent[0])
	}
	if results[1].Line != 4 {
		t.Errorf("got line %d, want 4", results[1].Line)
	}
}

func TestRun(t *testing.T) {
	p := newRunner(t)
	results, err := Run(p, "a =: i. 3\na + 10\n")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[1].Output != "10 11 12" || results[1].Line != 2 {
		t.Errorf("second result: %+v", results[1])
	}
	if _, failed := Failure(results); failed {
		t.Error("no sentence should have failed")
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	p := newRunner(t)
	results, err := Run(p, "a =: 1\nmissing + 1\nb =: 2\n")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	f, failed := Failure(results)
	if !failed || f.Line != 2 || f.Status != 21 {
		t.Errorf("failure: %+v", f)
	}
	if !strings.Contains(f.Output, "value error") {
		t.Errorf("output: %q", f.Output)
	}
	if _, err := p.EvalValue("b"); err == nil {
		t.Error("b should not be bound after the failure")
	}
}

func TestRunRejectsNUL(t *testing.T) {
	p := newRunner(t)
	results, err := Run(p, "a =: 1\n'x\x00'\n")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(results) != 1 {
		t.Errorf("got %d results before the error", len(results))
	}
}

func TestRunFile(t *testing.T) {
	p := newRunner(t)
	path := filepath.Join(t.TempDir(), "s.ijs")
	if err := os.WriteFile(path, []byte("x =: 2 2 $ 5\n+/ x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	results, err := RunFile(p, path)
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if got := results[len(results)-1].Output; got != "10 10" {
		t.Errorf("got %q", got)
	}
	if _, err := RunFile(p, path+".missing"); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w.ijs")
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func() { calls.Add(1) })
	}()

	// The watcher may not be registered yet; keep writing until it notices.
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		os.WriteFile(path, []byte("2\n"), 0644)
		os.WriteFile(filepath.Join(dir, "other.ijs"), []byte("3\n"), 0644)
		time.Sleep(50 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("change was not observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
