// Package scheduler coalesces many drain trigger signals (timer, connectivity
// regained, manual button, fresh enqueue) into non-overlapping drain runs.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Reason tags why a drain pass was requested.
type Reason string

const (
	ReasonTimer      Reason = "timer"
	ReasonCameOnline Reason = "came-online"
	ReasonVisible    Reason = "visible"
	ReasonManual     Reason = "manual"
	ReasonEnqueue    Reason = "enqueue"
)

// PassFunc executes one drain pass tagged with all merged reasons.
type PassFunc func(ctx context.Context, reasons []Reason) error

// Scheduler owns its coalescing state (pending reason set, in-flight flag,
// run counter); independent schedulers never share it. At most one pass runs
// at a time per scheduler, and a reason queued during a pass is picked up by
// the next loop iteration rather than dropped.
type Scheduler struct {
	pass    PassFunc
	onError func(error)

	mu      sync.Mutex
	pending map[Reason]struct{}
	running bool
	runs    int
	haltErr error
	idle    *sync.Cond
}

// Params configure a Scheduler. OnError receives pass failures; when it is
// nil the first failure halts scheduling and is reported by later calls.
type Params struct {
	Pass    PassFunc
	OnError func(error)
}

func New(params Params) (*Scheduler, error) {
	if params.Pass == nil {
		return nil, errors.New("pass func is required")
	}
	s := &Scheduler{
		pass:    params.Pass,
		onError: params.OnError,
		pending: make(map[Reason]struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	return s, nil
}

// RequestDrain merges the reason into the pending set and starts a run loop
// if none is active. Returns the halt error once scheduling has halted.
func (s *Scheduler) RequestDrain(ctx context.Context, reason Reason) error {
	s.mu.Lock()
	if s.haltErr != nil {
		err := s.haltErr
		s.mu.Unlock()
		return err
	}
	s.pending[reason] = struct{}{}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go s.runLoop(ctx)
	return nil
}

// Runs returns the number of completed drain passes.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Halted returns the error that stopped scheduling, if any.
func (s *Scheduler) Halted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltErr
}

// Wait blocks until no run loop is active. Intended for tests and shutdown.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running {
		s.idle.Wait()
	}
}

func (s *Scheduler) runLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.haltErr != nil {
			s.running = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		reasons := make([]Reason, 0, len(s.pending))
		for reason := range s.pending {
			reasons = append(reasons, reason)
		}
		s.pending = make(map[Reason]struct{})
		s.mu.Unlock()

		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

		err := s.pass(ctx, reasons)

		s.mu.Lock()
		s.runs++
		s.mu.Unlock()

		if err != nil {
			if s.onError != nil {
				s.onError(err)
				continue
			}
			s.mu.Lock()
			s.haltErr = err
			s.running = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
	}
}

// JoinReasons renders merged reasons for logging and metrics labels.
func JoinReasons(reasons []Reason) string {
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, string(reason))
	}
	return strings.Join(parts, ",")
}
