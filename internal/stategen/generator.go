// Package stategen generates the ordered sequence of states for a series of
// Monte Carlo runs.
package stategen

import (
	"fmt"

	"github.com/san-kum/mcrun/internal/mc"
)

// StateGenerator yields the states of a run sequence and is told about each
// completed run.
type StateGenerator interface {
	// Next returns the next state, or mc.ErrSequenceExhausted.
	Next() (*mc.State, error)
	PushBack(run mc.RunData) error
	IsComplete() bool
	CompletedRuns() []mc.RunData
	// Resume replaces the completed runs, e.g. with runs read back from
	// persisted results, so that Next continues after them.
	Resume(runs []mc.RunData) error
}

// StateModifier adjusts a generated state before it is returned.
type StateModifier func(state *mc.State) error

// ConditionsCalculator sets conditions that are computed from the
// configuration instead of being incremented.
type ConditionsCalculator interface {
	SetDependentConditions(state *mc.State, names []string) error
}

// OutputParams controls which configurations the generator keeps for
// completed runs. At least the last final configuration must be kept for
// dependent runs.
type OutputParams struct {
	SaveAllInitialStates bool `yaml:"save_all_initial_states" json:"save_all_initial_states"`
	SaveAllFinalStates   bool `yaml:"save_all_final_states" json:"save_all_final_states"`
	SaveLastFinalState   bool `yaml:"save_last_final_state" json:"save_last_final_state"`
}

func DefaultOutputParams() OutputParams {
	return OutputParams{SaveLastFinalState: true}
}

// IncrementalParams configures an IncrementalConditions generator.
type IncrementalParams struct {
	InitialConditions   mc.ValueMap
	ConditionsIncrement mc.ValueMap
	NStates             int
	DependentRuns       bool
	DependentConditions []string
	Output              OutputParams
}

// IncrementalConditions generates NStates states along a straight line in
// conditions space: state k has conditions initial + k*increment.
type IncrementalConditions struct {
	params     IncrementalParams
	configGen  ConfigGenerator
	calculator ConditionsCalculator
	modifiers  []StateModifier
	completed  []mc.RunData
}

type Option func(*IncrementalConditions)

// WithConditionsCalculator sets the calculator for DependentConditions.
func WithConditionsCalculator(c ConditionsCalculator) Option {
	return func(g *IncrementalConditions) { g.calculator = c }
}

func WithModifiers(mods ...StateModifier) Option {
	return func(g *IncrementalConditions) { g.modifiers = append(g.modifiers, mods...) }
}

func NewIncrementalConditions(params IncrementalParams, configGen ConfigGenerator, opts ...Option) (*IncrementalConditions, error) {
	if configGen == nil {
		return nil, mc.ConfigError("config_generator", "required")
	}
	if params.NStates < 0 {
		return nil, mc.ConfigError("n_states", "must be non-negative, got %d", params.NStates)
	}
	if _, err := params.InitialConditions.Incremented(params.ConditionsIncrement, 0); err != nil {
		return nil, fmt.Errorf("conditions_increment does not match initial_conditions: %w", err)
	}
	if params.DependentRuns && !params.Output.SaveLastFinalState && !params.Output.SaveAllFinalStates {
		return nil, mc.ConfigError("dependent_runs", "requires the last final state to be saved")
	}
	g := &IncrementalConditions{params: params, configGen: configGen}
	for _, opt := range opts {
		opt(g)
	}
	if len(params.DependentConditions) > 0 && g.calculator == nil {
		return nil, mc.ConfigError("dependent_conditions", "no conditions calculator for %v", params.DependentConditions)
	}
	return g, nil
}

func (g *IncrementalConditions) IsComplete() bool {
	return len(g.completed) >= g.params.NStates
}

func (g *IncrementalConditions) NStates() int { return g.params.NStates }

func (g *IncrementalConditions) Next() (*mc.State, error) {
	if g.IsComplete() {
		return nil, mc.ErrSequenceExhausted
	}
	k := len(g.completed)

	conditions, err := g.params.InitialConditions.Incremented(g.params.ConditionsIncrement, k)
	if err != nil {
		return nil, &mc.RunError{RunIndex: k, Key: "conditions", Kind: mc.ErrConfiguration, Err: err}
	}

	// an aborted run's final configuration is mid-step, so the next state
	// is generated afresh
	var config *mc.Configuration
	if g.params.DependentRuns && k > 0 && g.completed[k-1].Status != mc.RunAborted {
		last := g.completed[k-1]
		if last.FinalConfiguration == nil {
			return nil, &mc.RunError{
				RunIndex: k,
				Key:      "dependent_runs",
				Kind:     mc.ErrConfiguration,
				Err:      fmt.Errorf("run %d has no saved final configuration to chain from", last.Index),
			}
		}
		config = last.FinalConfiguration.Clone()
	} else {
		config, err = g.configGen.Generate(conditions, g.completed)
		if err != nil {
			return nil, &mc.RunError{RunIndex: k, Key: "config_generator", Kind: mc.ErrConfiguration, Err: err}
		}
	}

	state := mc.NewState(config, conditions)
	if len(g.params.DependentConditions) > 0 {
		if err := g.calculator.SetDependentConditions(state, g.params.DependentConditions); err != nil {
			return nil, &mc.RunError{RunIndex: k, Key: "dependent_conditions", Kind: mc.ErrConfiguration, Err: err}
		}
	}
	for _, mod := range g.modifiers {
		if err := mod(state); err != nil {
			return nil, &mc.RunError{RunIndex: k, Key: "modifier", Kind: mc.ErrConfiguration, Err: err}
		}
	}
	return state, nil
}

// PushBack records a completed run and prunes stored configurations
// according to the output params.
func (g *IncrementalConditions) PushBack(run mc.RunData) error {
	if want := len(g.completed); run.Index != want {
		return mc.ConfigError("run_index", "expected run %d, got %d", want, run.Index)
	}
	out := g.params.Output
	if n := len(g.completed); n > 0 && !out.SaveAllFinalStates {
		g.completed[n-1].FinalConfiguration = nil
	}
	run = run.Clone()
	if !out.SaveAllInitialStates {
		run.InitialConfiguration = nil
	}
	if !out.SaveLastFinalState && !out.SaveAllFinalStates {
		run.FinalConfiguration = nil
	}
	g.completed = append(g.completed, run)
	return nil
}

func (g *IncrementalConditions) CompletedRuns() []mc.RunData {
	return g.completed
}

func (g *IncrementalConditions) Resume(runs []mc.RunData) error {
	g.completed = g.completed[:0]
	for _, r := range runs {
		// aborted runs are repeated
		if r.Index >= g.params.NStates || r.Status == mc.RunAborted {
			break
		}
		if err := g.PushBack(r); err != nil {
			return err
		}
	}
	return nil
}
