package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRequestDrainRunsPass(t *testing.T) {
	var mu sync.Mutex
	var got [][]Reason

	s, err := New(Params{Pass: func(_ context.Context, reasons []Reason) error {
		mu.Lock()
		got = append(got, reasons)
		mu.Unlock()
		return nil
	}})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if err := s.RequestDrain(context.Background(), ReasonManual); err != nil {
		t.Fatalf("request drain: %v", err)
	}
	s.Wait()

	if s.Runs() != 1 {
		t.Fatalf("expected 1 run, got %d", s.Runs())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || len(got[0]) != 1 || got[0][0] != ReasonManual {
		t.Fatalf("expected one pass with the manual reason, got %v", got)
	}
}

func TestRequestsDuringPassCoalesce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var got [][]Reason

	s, err := New(Params{Pass: func(_ context.Context, reasons []Reason) error {
		mu.Lock()
		got = append(got, reasons)
		first := len(got) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if err := s.RequestDrain(context.Background(), ReasonTimer); err != nil {
		t.Fatalf("request drain: %v", err)
	}
	<-started

	// Three triggers while the first pass is blocked must merge into one
	// follow-up pass carrying every reason.
	for _, reason := range []Reason{ReasonEnqueue, ReasonManual, ReasonEnqueue} {
		if err := s.RequestDrain(context.Background(), reason); err != nil {
			t.Fatalf("request drain %s: %v", reason, err)
		}
	}
	close(release)
	s.Wait()

	if runs := s.Runs(); runs != 2 {
		t.Fatalf("expected 2 runs, got %d", runs)
	}
	mu.Lock()
	defer mu.Unlock()
	second := got[1]
	if len(second) != 2 {
		t.Fatalf("expected the merged pass to carry 2 distinct reasons, got %v", second)
	}
	if second[0] != ReasonEnqueue || second[1] != ReasonManual {
		t.Fatalf("expected sorted merged reasons, got %v", second)
	}
}

func TestPassErrorGoesToCallback(t *testing.T) {
	passErr := errors.New("drain blew up")
	var mu sync.Mutex
	var reported []error

	s, err := New(Params{
		Pass: func(context.Context, []Reason) error { return passErr },
		OnError: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if err := s.RequestDrain(context.Background(), ReasonTimer); err != nil {
		t.Fatalf("request drain: %v", err)
	}
	s.Wait()

	mu.Lock()
	if len(reported) != 1 || !errors.Is(reported[0], passErr) {
		t.Fatalf("expected the pass error to reach the callback, got %v", reported)
	}
	mu.Unlock()
	if s.Halted() != nil {
		t.Fatal("expected scheduling to continue when a callback is set")
	}

	// Scheduling keeps working after a reported failure.
	if err := s.RequestDrain(context.Background(), ReasonManual); err != nil {
		t.Fatalf("request after failure: %v", err)
	}
	s.Wait()
	if s.Runs() != 2 {
		t.Fatalf("expected 2 runs, got %d", s.Runs())
	}
}

func TestPassErrorWithoutCallbackHalts(t *testing.T) {
	passErr := errors.New("drain blew up")
	s, err := New(Params{Pass: func(context.Context, []Reason) error { return passErr }})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if err := s.RequestDrain(context.Background(), ReasonTimer); err != nil {
		t.Fatalf("request drain: %v", err)
	}
	s.Wait()

	if !errors.Is(s.Halted(), passErr) {
		t.Fatalf("expected the scheduler to halt with the pass error, got %v", s.Halted())
	}
	if err := s.RequestDrain(context.Background(), ReasonManual); !errors.Is(err, passErr) {
		t.Fatalf("expected later requests to report the halt error, got %v", err)
	}
	if s.Runs() != 1 {
		t.Fatalf("expected no further runs after halt, got %d", s.Runs())
	}
}

func TestSingleFlight(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	s, err := New(Params{Pass: func(context.Context, []Reason) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RequestDrain(context.Background(), ReasonEnqueue)
		}()
	}
	wg.Wait()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("expected at most one pass in flight, observed %d", maxInFlight)
	}
}

func TestJoinReasons(t *testing.T) {
	joined := JoinReasons([]Reason{ReasonCameOnline, ReasonTimer})
	if joined != "came-online,timer" {
		t.Fatalf("unexpected join result: %s", joined)
	}
}
