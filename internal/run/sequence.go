package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/stategen"
)

// OnError decides what a Sequence does after a run fails.
type OnError string

const (
	// OnErrorStop returns the first run error.
	OnErrorStop OnError = "stop"
	// OnErrorSkip records the aborted run and continues with the next state.
	OnErrorSkip OnError = "skip"
)

func ParseOnError(s string) (OnError, error) {
	switch OnError(s) {
	case "", OnErrorStop:
		return OnErrorStop, nil
	case OnErrorSkip:
		return OnErrorSkip, nil
	default:
		return "", mc.ConfigError("on_error", "unknown policy %q (expected stop or skip)", s)
	}
}

// Sequence runs every state of a generator in order.
type Sequence struct {
	generator      stategen.StateGenerator
	manager        *Manager
	beforeFirstRun *Manager
	beforeEachRun  *Manager
	onError        OnError
	logger         *slog.Logger
}

type SequenceOption func(*Sequence)

// WithBeforeFirstRun equilibrates the first state with m before the first
// run. Its results are not stored.
func WithBeforeFirstRun(m *Manager) SequenceOption {
	return func(s *Sequence) { s.beforeFirstRun = m }
}

// WithBeforeEachRun equilibrates every state with m before its run. Its
// results are not stored.
func WithBeforeEachRun(m *Manager) SequenceOption {
	return func(s *Sequence) { s.beforeEachRun = m }
}

func WithOnError(p OnError) SequenceOption {
	return func(s *Sequence) { s.onError = p }
}

func WithSequenceLogger(l *slog.Logger) SequenceOption {
	return func(s *Sequence) { s.logger = l }
}

func NewSequence(generator stategen.StateGenerator, manager *Manager, opts ...SequenceOption) *Sequence {
	s := &Sequence{
		generator: generator,
		manager:   manager,
		onError:   OnErrorStop,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sequence) Manager() *Manager { return s.manager }

// Report summarizes a Sequence.Run call.
type Report struct {
	Completed []int
	Skipped   []int
	Errors    []error
}

// Resume seeds the generator with the runs already stored by the manager's
// results store, so that Run continues after them.
func (s *Sequence) Resume(ctx context.Context) (int, error) {
	store := s.manager.Store()
	if store == nil {
		return 0, mc.ConfigError("results", "resume requires a results store")
	}
	runs, err := store.ReadCompletedRuns(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.generator.Resume(runs); err != nil {
		return 0, err
	}
	n := len(s.generator.CompletedRuns())
	s.logger.Info("resuming sequence", "stored_runs", len(runs), "completed", n)
	return n, nil
}

// Run executes runs until the generator is exhausted. The rng is shared by
// every run of the sequence.
func (s *Sequence) Run(ctx context.Context, rng *rand.Rand) (Report, error) {
	var rep Report
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		state, err := s.generator.Next()
		if errors.Is(err, mc.ErrSequenceExhausted) {
			return rep, nil
		}
		if err != nil {
			return rep, err
		}
		index := len(s.generator.CompletedRuns())

		if first && s.beforeFirstRun != nil {
			if err := s.warmUp(ctx, s.beforeFirstRun, "before_first_run", index, state, rng); err != nil {
				return rep, err
			}
		}
		first = false
		if s.beforeEachRun != nil {
			if err := s.warmUp(ctx, s.beforeEachRun, "before_each_run", index, state, rng); err != nil {
				return rep, err
			}
		}

		_, run, runErr := s.manager.Run(ctx, index, state, rng)
		if runErr != nil {
			rep.Errors = append(rep.Errors, runErr)
			if s.onError != OnErrorSkip || ctx.Err() != nil || !errors.Is(runErr, mc.ErrKernel) {
				return rep, runErr
			}
			s.logger.Warn("skipping failed run", "run", index, "error", runErr)
			rep.Skipped = append(rep.Skipped, index)
		} else {
			rep.Completed = append(rep.Completed, index)
		}
		if err := s.generator.PushBack(run); err != nil {
			return rep, fmt.Errorf("run %d: %w", index, err)
		}
	}
}

func (s *Sequence) warmUp(ctx context.Context, m *Manager, key string, index int, state *mc.State, rng *rand.Rand) error {
	s.logger.Debug("equilibrating", "run", index, "fixture_set", key)
	if _, _, err := m.Run(ctx, index, state, rng); err != nil {
		var runErr *mc.RunError
		if errors.As(err, &runErr) {
			runErr.Key = key + "." + runErr.Key
			return runErr
		}
		return &mc.RunError{RunIndex: index, Key: key, Err: err}
	}
	return nil
}
