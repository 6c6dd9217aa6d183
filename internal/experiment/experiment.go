package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/san-kum/mcrun/internal/config"
	"github.com/san-kum/mcrun/internal/kernel"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/run"
	"github.com/san-kum/mcrun/internal/stategen"
)

// Experiment is a run file assembled into a runnable sequence.
type Experiment struct {
	cfg        *config.Config
	kernel     *kernel.LatticeGas
	store      resultsio.ResultsIO
	sequence   *run.Sequence
	randSource *rand.Rand
	logger     *slog.Logger
}

type Option func(*Experiment)

func WithLogger(l *slog.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

// WithRand replaces the random source seeded from the run file.
func WithRand(r *rand.Rand) Option {
	return func(e *Experiment) { e.randSource = r }
}

// New validates cfg and builds its kernel, fixtures, results store and state
// generator. The caller must Close the experiment.
func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.randSource == nil {
		e.randSource = rand.New(rand.NewSource(cfg.Seed))
	}

	k, err := kernel.NewRegistry().Get(cfg.Kernel, cfg.KernelParams)
	if err != nil {
		return nil, err
	}
	e.kernel = k

	store, err := resultsio.Open(cfg.Results.Kind, cfg.Results.Path)
	if err != nil {
		return nil, err
	}
	e.store = store

	if err := e.setup(); err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

func (e *Experiment) setup() error {
	cfg := e.cfg
	functions := e.kernel.Functions()

	fixtures, err := buildFixtures("fixtures", cfg.Fixtures, functions)
	if err != nil {
		return err
	}
	opts := []run.Option{run.WithLogger(e.logger), run.WithResultsIO(e.store)}
	if cfg.MethodLog.Enabled {
		interval := time.Duration(cfg.MethodLog.Interval * float64(time.Second))
		opts = append(opts, run.WithMethodLog(run.NewMethodLog(cfg.StatusPath(), interval, e.logger)))
	}
	manager, err := run.NewManager(e.kernel, fixtures, cfg.Manager, opts...)
	if err != nil {
		return err
	}

	policy, err := run.ParseOnError(cfg.Sequence.OnError)
	if err != nil {
		return err
	}
	seqOpts := []run.SequenceOption{run.WithOnError(policy), run.WithSequenceLogger(e.logger)}
	if len(cfg.BeforeFirstRun) > 0 {
		m, err := e.warmUpManager("before_first_run", cfg.BeforeFirstRun, functions)
		if err != nil {
			return err
		}
		seqOpts = append(seqOpts, run.WithBeforeFirstRun(m))
	}
	if len(cfg.BeforeEachRun) > 0 {
		m, err := e.warmUpManager("before_each_run", cfg.BeforeEachRun, functions)
		if err != nil {
			return err
		}
		seqOpts = append(seqOpts, run.WithBeforeEachRun(m))
	}

	gen, err := e.generator()
	if err != nil {
		return err
	}
	e.sequence = run.NewSequence(gen, manager, seqOpts...)
	return nil
}

func buildFixtures(key string, params []config.Fixture, functions *mc.FunctionMap) ([]*run.Fixture, error) {
	fixtures := make([]*run.Fixture, 0, len(params))
	for i, p := range params {
		f, err := run.NewFixture(p.Params(), functions)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// warmUpManager builds a manager for warm-up fixtures. Warm-up runs are
// never stored.
func (e *Experiment) warmUpManager(key string, params []config.Fixture, functions *mc.FunctionMap) (*run.Manager, error) {
	fixtures, err := buildFixtures(key, params, functions)
	if err != nil {
		return nil, err
	}
	mp := run.ManagerParams{GlobalCutoff: e.cfg.Manager.GlobalCutoff}
	return run.NewManager(e.kernel, fixtures, mp, run.WithLogger(e.logger.With("phase", key)))
}

func (e *Experiment) generator() (*stategen.IncrementalConditions, error) {
	cfg := e.cfg
	initial, increment, err := cfg.Conditions()
	if err != nil {
		return nil, err
	}
	params := stategen.IncrementalParams{
		InitialConditions:   initial,
		ConditionsIncrement: increment,
		NStates:             cfg.Sequence.NStates,
		DependentRuns:       cfg.Sequence.DependentRuns,
		DependentConditions: cfg.Sequence.DependentConditions,
		Output:              cfg.Sequence.Output,
	}

	components := cfg.KernelParams.Components
	var opts []stategen.Option
	// a semigrand sequence of dependent runs carries the composition forward
	if e.kernel.Ensemble() == kernel.Canonical || !cfg.Sequence.DependentRuns {
		opts = append(opts, stategen.WithModifiers(kernel.CompositionModifier(components)))
	}
	if len(cfg.Sequence.DependentConditions) > 0 {
		opts = append(opts, stategen.WithConditionsCalculator(kernel.CompositionCalculator{Components: components}))
	}
	return stategen.NewIncrementalConditions(params, stategen.NewFixedConfigGenerator(cfg.InitialConfiguration()), opts...)
}

// Run executes the sequence from its current position.
func (e *Experiment) Run(ctx context.Context) (run.Report, error) {
	return e.sequence.Run(ctx, e.randSource)
}

// Resume positions the sequence after the runs already in the results store
// and returns how many there are.
func (e *Experiment) Resume(ctx context.Context) (int, error) {
	return e.sequence.Resume(ctx)
}

// Job wraps the experiment for run.Parallel.
func (e *Experiment) Job(name string) run.Job {
	return run.Job{Name: name, Sequence: e.sequence, RNG: e.randSource}
}

func (e *Experiment) Config() *config.Config     { return e.cfg }
func (e *Experiment) Kernel() *kernel.LatticeGas { return e.kernel }
func (e *Experiment) Store() resultsio.ResultsIO { return e.store }
func (e *Experiment) Sequence() *run.Sequence    { return e.sequence }

func (e *Experiment) Close() error {
	return e.store.Close()
}
