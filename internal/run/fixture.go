package run

import (
	"fmt"
	"slices"
	"strings"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/sampling"
)

// FixtureParams configures one sampling fixture.
type FixtureParams struct {
	Label      string                 `yaml:"label"`
	Sampling   sampling.Params        `yaml:"sampling"`
	Completion completion.Params      `yaml:"completion_check"`
	Output     resultsio.WriteOptions `yaml:"output"`
}

// Fixture bundles a sampler, a completion check and an output policy. Each
// fixture of a run keeps its own counters and samples.
type Fixture struct {
	params  FixtureParams
	sampler *sampling.StateSampler
	check   *completion.Check
}

func NewFixture(params FixtureParams, functions *mc.FunctionMap) (*Fixture, error) {
	if params.Label == "" || strings.ContainsAny(params.Label, `/\`) || strings.HasPrefix(params.Label, ".") {
		return nil, mc.ConfigError("label", "invalid fixture label %q", params.Label)
	}
	sampler, err := sampling.New(params.Sampling, functions)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", params.Label, err)
	}
	check, err := completion.New(params.Completion)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", params.Label, err)
	}
	for _, name := range params.Completion.Observables() {
		if !slices.Contains(params.Sampling.SamplerNames, name) {
			return nil, &mc.KeyError{
				Key:  name,
				Kind: mc.ErrSampling,
				Msg:  fmt.Sprintf("fixture %s requests a precision for an observable it does not sample", params.Label),
			}
		}
	}
	return &Fixture{params: params, sampler: sampler, check: check}, nil
}

func (f *Fixture) Label() string                   { return f.params.Label }
func (f *Fixture) Params() FixtureParams           { return f.params }
func (f *Fixture) Sampler() *sampling.StateSampler { return f.sampler }
func (f *Fixture) Report() completion.Report       { return f.check.Report() }

// Begin resets the fixture for a new run.
func (f *Fixture) Begin(stepsPerPass int64) {
	f.sampler.Reset(stepsPerPass)
	f.check.Reset()
}

func (f *Fixture) SampleIfDue(state *mc.State) error {
	_, err := f.sampler.SampleIfDue(state)
	return err
}

func (f *Fixture) IsComplete() (bool, error) {
	return f.check.IsComplete(f.sampler)
}

func (f *Fixture) Advance(dt float64) {
	f.sampler.IncrementStep()
	f.sampler.AdvanceTime(dt)
}

// Results returns what the fixture collected, filtered by its output policy.
func (f *Fixture) Results() resultsio.FixtureResults {
	res := resultsio.FixtureResults{
		Label:      f.params.Label,
		Completion: f.check.Report(),
		Confidence: f.params.Completion.Confidence,
	}
	if f.params.Output.WriteObservations {
		res.Observations = f.sampler.Samplers()
		res.Counts = f.sampler.Counts()
	}
	if f.params.Output.WriteTrajectory {
		res.Trajectory = f.sampler.Trajectory()
	}
	return res
}
