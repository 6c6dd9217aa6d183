package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
)

// GlobalCutoff stops a run regardless of the fixtures. Nil fields are
// unbounded.
type GlobalCutoff struct {
	MaxSteps     *int64   `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	MaxClocktime *float64 `yaml:"max_clocktime,omitempty" json:"max_clocktime,omitempty"`
}

type ManagerParams struct {
	GlobalCutoff GlobalCutoff `yaml:"global_cutoff"`
	// RequireAllFixtures stops a run only once every fixture is complete.
	// By default the first complete fixture stops it.
	RequireAllFixtures bool `yaml:"require_all_fixtures"`
}

// Manager drives runs of a kernel, polling its fixtures between steps.
type Manager struct {
	kernel    mc.Kernel
	fixtures  []*Fixture
	params    ManagerParams
	store     resultsio.ResultsIO
	methodLog *MethodLog
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithResultsIO makes the manager persist every run, including aborted ones.
func WithResultsIO(store resultsio.ResultsIO) Option {
	return func(m *Manager) { m.store = store }
}

func WithMethodLog(l *MethodLog) Option {
	return func(m *Manager) { m.methodLog = l }
}

func NewManager(kernel mc.Kernel, fixtures []*Fixture, params ManagerParams, opts ...Option) (*Manager, error) {
	if kernel == nil {
		return nil, mc.ConfigError("kernel", "required")
	}
	if len(fixtures) == 0 {
		return nil, mc.ConfigError("sampling_fixtures", "at least one fixture is required")
	}
	seen := make(map[string]bool)
	for _, f := range fixtures {
		if seen[f.Label()] {
			return nil, mc.ConfigError("sampling_fixtures", "duplicate fixture label %q", f.Label())
		}
		seen[f.Label()] = true
	}
	m := &Manager{
		kernel:   kernel,
		fixtures: fixtures,
		params:   params,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Fixtures() []*Fixture        { return m.fixtures }
func (m *Manager) Store() resultsio.ResultsIO { return m.store }

// Run executes one run from state, which the kernel mutates in place.
//
// On a kernel fault or cancellation the samples gathered so far are stored
// with status aborted and the error is returned as a *mc.RunError.
func (m *Manager) Run(ctx context.Context, index int, state *mc.State, rng *rand.Rand) (*resultsio.Results, mc.RunData, error) {
	run := mc.RunData{
		Index:                index,
		ID:                   uuid.NewString(),
		Conditions:           state.Conditions.Clone(),
		InitialConfiguration: state.Configuration.Clone(),
	}
	log := m.logger.With("run", index, "run_id", run.ID)
	log.Info("run started", "conditions", conditionsAttr(run.Conditions))

	if err := ctx.Err(); err != nil {
		return nil, run, &mc.RunError{RunIndex: index, Key: "context", Err: err}
	}

	start := m.now()
	var steps int64
	stepsPerPass, err := m.kernel.Begin(state)
	for _, f := range m.fixtures {
		f.Begin(stepsPerPass)
	}
	if err != nil {
		return m.abort(ctx, log, &run, state, steps, start, &mc.RunError{RunIndex: index, Key: "kernel", Kind: mc.ErrKernel, Err: err})
	}
	if m.methodLog != nil {
		m.methodLog.Begin()
	}

	var stopReason string
	for {
		for _, f := range m.fixtures {
			if err := f.SampleIfDue(state); err != nil {
				return m.abort(ctx, log, &run, state, steps, start, &mc.RunError{RunIndex: index, Key: f.Label(), Kind: mc.ErrSampling, Err: err})
			}
		}

		done, err := m.fixturesComplete()
		if err != nil {
			return m.abort(ctx, log, &run, state, steps, start, &mc.RunError{RunIndex: index, Key: "completion_check", Kind: mc.ErrConfiguration, Err: err})
		}
		if done {
			stopReason = "fixtures"
		} else if reason := m.globalCutoff(steps, start); reason != "" {
			stopReason = reason
		}
		if m.methodLog != nil {
			m.methodLog.Update(func() Status { return m.status(PhaseRunning, &run, steps, start) })
		}
		if stopReason != "" {
			break
		}

		dt, err := m.kernel.Step(ctx, state, rng)
		if err != nil {
			return m.abort(ctx, log, &run, state, steps, start, &mc.RunError{RunIndex: index, Key: "kernel", Kind: mc.ErrKernel, Err: err})
		}
		for _, f := range m.fixtures {
			f.Advance(dt)
		}
		steps++

		if err := ctx.Err(); err != nil {
			return m.abort(ctx, log, &run, state, steps, start, &mc.RunError{RunIndex: index, Key: "context", Err: err})
		}
	}

	run.FinalConfiguration = state.Configuration.Clone()
	run.Status = m.runStatus()
	run.CompletedAt = m.now().UTC()
	results := m.results()

	if m.methodLog != nil {
		m.methodLog.Write(m.status(PhaseFinished, &run, steps, start))
	}
	if err := m.write(ctx, index, results, run); err != nil {
		return results, run, err
	}
	log.Info("run finished", "status", run.Status, "steps", steps, "stop", stopReason, "elapsed", m.now().Sub(start).Round(time.Millisecond))
	return results, run, nil
}

func (m *Manager) fixturesComplete() (bool, error) {
	all := true
	some := false
	for _, f := range m.fixtures {
		done, err := f.IsComplete()
		if err != nil {
			return false, fmt.Errorf("fixture %s: %w", f.Label(), err)
		}
		all = all && done
		some = some || done
	}
	if m.params.RequireAllFixtures {
		return all, nil
	}
	return some, nil
}

func (m *Manager) globalCutoff(steps int64, start time.Time) string {
	c := m.params.GlobalCutoff
	if c.MaxSteps != nil && steps >= *c.MaxSteps {
		return "max_steps"
	}
	if c.MaxClocktime != nil && m.now().Sub(start).Seconds() >= *c.MaxClocktime {
		return "max_clocktime"
	}
	return ""
}

// runStatus is converged when every complete fixture converged, cutoff
// otherwise.
func (m *Manager) runStatus() mc.RunStatus {
	converged := false
	for _, f := range m.fixtures {
		switch f.Report().Status {
		case completion.StatusConverged:
			converged = true
		case completion.StatusCutoff:
			return mc.RunCutoff
		}
	}
	if !converged {
		return mc.RunCutoff
	}
	return mc.RunConverged
}

func (m *Manager) results() *resultsio.Results {
	res := &resultsio.Results{Fixtures: make([]resultsio.FixtureResults, 0, len(m.fixtures))}
	for _, f := range m.fixtures {
		res.Fixtures = append(res.Fixtures, f.Results())
	}
	return res
}

func (m *Manager) writeOptions() resultsio.WriteOptions {
	var opts resultsio.WriteOptions
	for _, f := range m.fixtures {
		opts.WriteObservations = opts.WriteObservations || f.Params().Output.WriteObservations
		opts.WriteTrajectory = opts.WriteTrajectory || f.Params().Output.WriteTrajectory
	}
	return opts
}

func (m *Manager) write(ctx context.Context, index int, results *resultsio.Results, run mc.RunData) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Write(ctx, index, results, run, m.writeOptions()); err != nil {
		return &mc.RunError{RunIndex: index, Key: "results", Kind: mc.ErrIO, Err: err}
	}
	return nil
}

func (m *Manager) abort(ctx context.Context, log *slog.Logger, run *mc.RunData, state *mc.State, steps int64, start time.Time, runErr *mc.RunError) (*resultsio.Results, mc.RunData, error) {
	run.FinalConfiguration = state.Configuration.Clone()
	run.Status = mc.RunAborted
	run.CompletedAt = m.now().UTC()
	run.Error = runErr.Error()
	results := m.results()
	log.Error("run aborted", "error", runErr, "steps", steps, "elapsed", m.now().Sub(start).Round(time.Millisecond))

	if m.methodLog != nil {
		m.methodLog.Write(m.status(PhaseAborted, run, steps, start))
	}
	// partial results are flushed even when ctx is already cancelled
	if err := m.write(context.WithoutCancel(ctx), run.Index, results, *run); err != nil {
		return results, *run, errors.Join(runErr, err)
	}
	return results, *run, runErr
}

func (m *Manager) status(phase Phase, run *mc.RunData, steps int64, start time.Time) Status {
	s := Status{
		Phase:      phase,
		RunIndex:   run.Index,
		RunID:      run.ID,
		Conditions: run.Conditions,
		Step:       steps,
		Clocktime:  m.now().Sub(start).Seconds(),
	}
	for i, f := range m.fixtures {
		sp := f.Sampler()
		if i == 0 {
			s.Step = sp.Step()
			s.Pass = sp.Pass()
			s.Time = sp.Time()
		}
		r := f.Report()
		s.Fixtures = append(s.Fixtures, FixtureStatus{
			Label:       f.Label(),
			Count:       sp.Count(),
			NSamples:    sp.NSamples(),
			Completion:  r.Status,
			ForcedBy:    r.ForcedBy,
			Observables: r.Observables,
		})
	}
	return s
}

func conditionsAttr(v mc.ValueMap) slog.Value {
	names, values := v.Flatten()
	attrs := make([]slog.Attr, len(names))
	for i := range names {
		attrs[i] = slog.Float64(names[i], values[i])
	}
	return slog.GroupValue(attrs...)
}
