package mc

import (
	"context"
	"math/rand"
	"slices"
	"time"
)

// Configuration is the occupation of a Monte Carlo supercell.
type Configuration struct {
	TransformationMatrix [3][3]int64 `json:"transformation_matrix_to_supercell" yaml:"transformation_matrix_to_supercell"`
	Occupation           []int       `json:"occupation" yaml:"occupation"`
}

func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	return &Configuration{
		TransformationMatrix: c.TransformationMatrix,
		Occupation:           slices.Clone(c.Occupation),
	}
}

func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.TransformationMatrix == other.TransformationMatrix &&
		slices.Equal(c.Occupation, other.Occupation)
}

// State is the object advanced by the kernel: configuration, fixed conditions
// and properties refreshed as the configuration changes.
type State struct {
	Configuration *Configuration
	Conditions    ValueMap
	Properties    ValueMap
}

// NewState returns a State owning clones of config and conditions.
func NewState(config *Configuration, conditions ValueMap) *State {
	return &State{
		Configuration: config.Clone(),
		Conditions:    conditions.Clone(),
		Properties:    NewValueMap(),
	}
}

// RunStatus is how a run finished.
type RunStatus string

const (
	RunConverged RunStatus = "converged"
	RunCutoff    RunStatus = "cutoff"
	RunAborted   RunStatus = "aborted"
)

// RunData records one completed run.
type RunData struct {
	Index                int            `json:"index"`
	ID                   string         `json:"id"`
	Conditions           ValueMap       `json:"conditions"`
	InitialConfiguration *Configuration `json:"initial_configuration,omitempty"`
	FinalConfiguration   *Configuration `json:"final_configuration,omitempty"`
	Status               RunStatus      `json:"status"`
	CompletedAt          time.Time      `json:"completed_at"`
	Error                string         `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (r RunData) Clone() RunData {
	c := r
	c.Conditions = r.Conditions.Clone()
	c.InitialConfiguration = r.InitialConfiguration.Clone()
	c.FinalConfiguration = r.FinalConfiguration.Clone()
	return c
}

// Kernel advances a State by one Monte Carlo step. Begin is called once per
// run before stepping and returns the number of steps per pass.
type Kernel interface {
	Begin(state *State) (stepsPerPass int64, err error)
	Step(ctx context.Context, state *State, rng *rand.Rand) (dt float64, err error)
}
