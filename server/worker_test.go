package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/jarray"
)

// ---------------------------------------------------------------------------
// Do
// ---------------------------------------------------------------------------

func TestWorkerDo(t *testing.T) {
	w, _ := newTestWorker(t)

	v, err := run(bg(), w, func(p *command.Protocol) (jarray.Value, error) {
		if _, err := p.Run("m =: *: i. 2 3"); err != nil {
			return jarray.Value{}, err
		}
		return p.EvalValue("m")
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := jarray.Value{Rank: 2, Shape: []int64{2, 3}, Payload: jarray.Ints{0, 1, 4, 9, 16, 25}}
	if !v.Equal(want) {
		t.Errorf("got %v, want %v", v, want)
	}
}

func TestWorkerDoReturnsValueWithError(t *testing.T) {
	w, _ := newTestWorker(t)

	text, err := run(bg(), w, func(p *command.Protocol) (string, error) {
		return p.EvalText("undefined_name")
	})
	var se *command.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *command.StatusError", err)
	}
	if text == "" {
		t.Error("output should be returned with the status error")
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w, _ := newTestWorker(t)

	_, err := w.Do(bg(), func(p *command.Protocol) (any, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}

	// The worker keeps serving after a panic.
	if _, err := w.Do(bg(), func(p *command.Protocol) (any, error) { return p.Run("1") }); err != nil {
		t.Errorf("Do after panic: %v", err)
	}
}

func TestWorkerSerializes(t *testing.T) {
	w, _ := newTestWorker(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := run(bg(), w, func(p *command.Protocol) (jarray.Value, error) {
				return p.EvalValue("i. 4")
			})
			if err != nil {
				t.Errorf("EvalValue: %v", err)
				return
			}
			if v.Count() != 4 {
				t.Errorf("got %v", v)
			}
		}()
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestWorkerPoisonedOnTimeout(t *testing.T) {
	w, lib := newTestWorker(t)
	release := make(chan struct{})
	lib.Delay = func(int64) { <-release }
	defer close(release)

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Do(ctx, func(p *command.Protocol) (any, error) {
		return p.Run("6!:3 ] 1")
	})
	if !errors.Is(err, ErrPoisoned) {
		t.Fatalf("got %v, want ErrPoisoned", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want it to wrap the context error", err)
	}
	if !w.Poisoned() {
		t.Error("worker should report poisoned")
	}

	if _, err := w.Do(bg(), func(p *command.Protocol) (any, error) { return nil, nil }); !errors.Is(err, ErrPoisoned) {
		t.Errorf("later call: got %v, want ErrPoisoned", err)
	}
}

func TestWorkerSkipsAbandonedRequest(t *testing.T) {
	w, lib := newTestWorker(t)
	release := make(chan struct{})
	started := make(chan struct{})
	lib.Delay = func(int64) {
		close(started)
		<-release
	}

	// Occupy the worker.
	first := make(chan error, 1)
	go func() {
		_, err := w.Do(bg(), func(p *command.Protocol) (any, error) {
			return p.Run("6!:3 ] 1")
		})
		first <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(bg())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := w.Do(ctx, func(p *command.Protocol) (any, error) {
			ran.Store(true)
			return nil, nil
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("queued call: got %v, want context.Canceled", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Errorf("running call: %v", err)
	}

	// A round trip after the queue drains proves the abandoned fn was skipped.
	if _, err := w.Do(bg(), func(p *command.Protocol) (any, error) { return nil, nil }); err != nil {
		t.Fatal(err)
	}
	if ran.Load() {
		t.Error("abandoned request should not run")
	}
	if w.Poisoned() {
		t.Error("abandoning a queued request should not poison the worker")
	}
}

// ---------------------------------------------------------------------------
// Stop
// ---------------------------------------------------------------------------

func TestWorkerStopClosesSession(t *testing.T) {
	w, lib := newTestWorker(t)
	w.Stop()
	if !lib.Closed() {
		t.Error("stopping the worker should close its session")
	}
	if _, err := w.Do(bg(), func(p *command.Protocol) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("got %v, want ErrStopped", err)
	}
	w.Stop()
}
