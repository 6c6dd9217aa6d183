package kernel

import (
	"fmt"
	"math"
	"slices"

	"github.com/san-kum/mcrun/internal/conditions"
	"github.com/san-kum/mcrun/internal/mc"
)

// Functions returns the sampling functions available for k.
func (k *LatticeGas) Functions() *mc.FunctionMap {
	components := k.params.Components
	return mc.NewFunctionMap(
		mc.StateSamplingFunction{
			Name:           "temperature",
			Description:    "Temperature (K)",
			ComponentNames: []string{"0"},
			Func: func(s *mc.State) []float64 {
				t, _ := s.Conditions.Scalar(conditions.KeyTemperature)
				return []float64{t}
			},
		},
		mc.StateSamplingFunction{
			Name:           "mol_composition",
			Description:    "Number of each component per unit cell",
			ComponentNames: components,
			Func: func(s *mc.State) []float64 {
				return MolComposition(s.Configuration, len(components))
			},
		},
		mc.StateSamplingFunction{
			Name:           PropPotentialEnergy,
			Description:    "Potential energy per unit cell (eV)",
			ComponentNames: []string{"0"},
			Func: func(s *mc.State) []float64 {
				e, _ := s.Properties.Scalar(PropPotentialEnergy)
				return []float64{e}
			},
		},
		mc.StateSamplingFunction{
			Name:           "acceptance_rate",
			Description:    "Fraction of accepted moves in the current run",
			ComponentNames: []string{"0"},
			Func: func(*mc.State) []float64 {
				return []float64{k.AcceptanceRate()}
			},
		},
	)
}

// MolComposition returns the number of each of n species per site.
func MolComposition(config *mc.Configuration, n int) []float64 {
	x := make([]float64, n)
	if len(config.Occupation) == 0 {
		return x
	}
	for _, s := range config.Occupation {
		if s >= 0 && s < n {
			x[s]++
		}
	}
	for i := range x {
		x[i] /= float64(len(config.Occupation))
	}
	return x
}

// CompositionModifier returns a state modifier that sets the occupation to
// the mol_composition in the state's conditions. Sites are filled in order.
// States already at that composition, or without a mol_composition
// condition, are left unchanged.
func CompositionModifier(components []string) func(state *mc.State) error {
	return func(state *mc.State) error {
		x, ok := state.Conditions.Vector(conditions.KeyMolComposition)
		if !ok {
			return nil
		}
		if len(x) != len(components) {
			return fmt.Errorf("%s has %d values, expected %d", conditions.KeyMolComposition, len(x), len(components))
		}
		occ := state.Configuration.Occupation
		counts := make([]int, len(x))
		total := 0
		for i, xi := range x {
			c := xi * float64(len(occ))
			counts[i] = int(math.Round(c))
			if math.Abs(c-float64(counts[i])) > 1e-6 {
				return fmt.Errorf("%s %v is not commensurate with %d sites", conditions.KeyMolComposition, x, len(occ))
			}
			total += counts[i]
		}
		if total != len(occ) {
			return fmt.Errorf("%s %v fills %d of %d sites", conditions.KeyMolComposition, x, total, len(occ))
		}
		current := make([]int, len(counts))
		for _, s := range occ {
			if s >= 0 && s < len(current) {
				current[s]++
			}
		}
		if slices.Equal(current, counts) {
			return nil
		}
		site := 0
		for s, c := range counts {
			for range c {
				occ[site] = s
				site++
			}
		}
		return nil
	}
}

// CompositionCalculator sets mol_composition conditions from the
// configuration, for dependent runs in the canonical ensemble.
type CompositionCalculator struct {
	Components []string
}

func (c CompositionCalculator) SetDependentConditions(state *mc.State, names []string) error {
	for _, name := range names {
		switch name {
		case conditions.KeyMolComposition:
			state.Conditions.Delete(name)
			if err := state.Conditions.SetVector(name, MolComposition(state.Configuration, len(c.Components))); err != nil {
				return err
			}
		default:
			return mc.ConfigError(name, "cannot be computed from the configuration")
		}
	}
	return nil
}
