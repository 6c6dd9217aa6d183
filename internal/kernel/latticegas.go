package kernel

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/mcrun/internal/conditions"
	"github.com/san-kum/mcrun/internal/mc"
)

// Boltzmann is k_B in eV/K.
const Boltzmann = 8.617333262e-5

// Property and condition names used by the lattice gas.
const (
	PropPotentialEnergy = "potential_energy"
	CondParamChemPot    = "param_chem_pot"
)

type Ensemble string

const (
	// Canonical swaps the species on two sites; composition is conserved.
	Canonical Ensemble = "canonical"
	// SemiGrand flips one site of a binary lattice gas at fixed exchange
	// chemical potential.
	SemiGrand Ensemble = "semigrand"
)

// Params configures the lattice gas Hamiltonian E = V * (number of unlike
// nearest-neighbour bonds).
type Params struct {
	Components  []string `yaml:"components" json:"components"`
	Interaction float64  `yaml:"interaction" json:"interaction"`
	Supercell   [3]int   `yaml:"supercell" json:"supercell"`
}

func DefaultParams() Params {
	return Params{
		Components:  []string{"A", "B"},
		Interaction: 0.01,
		Supercell:   [3]int{6, 6, 6},
	}
}

func (p Params) Validate() error {
	var perr mc.ParseError
	if len(p.Components) < 2 {
		perr.Add("components", "need at least two components, got %d", len(p.Components))
	}
	seen := make(map[string]bool)
	for _, c := range p.Components {
		if seen[c] {
			perr.Add("components", "duplicate component %q", c)
		}
		seen[c] = true
	}
	for i, n := range p.Supercell {
		if n <= 0 {
			perr.Add("supercell", "dimension %d must be positive, got %d", i, n)
		}
	}
	if err := perr.Err(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfiguration, err)
	}
	return nil
}

// LatticeGas is a Metropolis kernel for a lattice gas on a simple cubic
// supercell. It implements mc.Kernel.
type LatticeGas struct {
	ensemble Ensemble
	params   Params

	lattice *Lattice
	beta    float64
	mu      float64
	bonds   int

	attempts int64
	accepted int64
}

func NewLatticeGas(ensemble Ensemble, params Params) (*LatticeGas, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch ensemble {
	case Canonical:
	case SemiGrand:
		if len(params.Components) != 2 {
			return nil, mc.ConfigError("components", "semigrand kernel needs exactly two components, got %d", len(params.Components))
		}
	default:
		return nil, mc.ConfigError("ensemble", "unknown ensemble %q", ensemble)
	}
	return &LatticeGas{ensemble: ensemble, params: params}, nil
}

func (k *LatticeGas) Ensemble() Ensemble { return k.ensemble }
func (k *LatticeGas) Params() Params     { return k.params }

// Begin checks the configuration and conditions of state and computes its
// energy. One pass is one attempted move per site.
func (k *LatticeGas) Begin(state *mc.State) (int64, error) {
	lat, err := NewLattice(state.Configuration.TransformationMatrix)
	if err != nil {
		return 0, err
	}
	occ := state.Configuration.Occupation
	if len(occ) != lat.NSites() {
		return 0, fmt.Errorf("occupation has %d sites, supercell has %d", len(occ), lat.NSites())
	}
	for i, s := range occ {
		if s < 0 || s >= len(k.params.Components) {
			return 0, fmt.Errorf("site %d: occupant %d out of range for %d components", i, s, len(k.params.Components))
		}
	}

	t, ok := state.Conditions.Scalar(conditions.KeyTemperature)
	if !ok || t <= 0 {
		return 0, fmt.Errorf("conditions need a positive %s", conditions.KeyTemperature)
	}
	k.beta = 1 / (Boltzmann * t)

	k.mu = 0
	if k.ensemble == SemiGrand {
		mu, ok := state.Conditions.Values(CondParamChemPot)
		if !ok || len(mu) != 1 {
			return 0, fmt.Errorf("semigrand conditions need a one-axis %s", CondParamChemPot)
		}
		k.mu = mu[0]
	}

	k.lattice = lat
	k.bonds = lat.UnlikeBonds(occ)
	k.attempts, k.accepted = 0, 0
	k.setProperties(state)
	return int64(lat.NSites()), nil
}

func (k *LatticeGas) Step(ctx context.Context, state *mc.State, rng *rand.Rand) (float64, error) {
	if k.lattice == nil {
		return 0, fmt.Errorf("step before begin")
	}
	occ := state.Configuration.Occupation
	n := k.lattice.NSites()
	if len(occ) != n {
		return 0, fmt.Errorf("occupation has %d sites, expected %d", len(occ), n)
	}
	dt := 1 / float64(n)
	k.attempts++

	switch k.ensemble {
	case Canonical:
		i, j := rng.Intn(n), rng.Intn(n)
		a, b := occ[i], occ[j]
		if a == b {
			return dt, nil
		}
		d := k.lattice.unlikeDelta(occ, i, b)
		occ[i] = b
		d += k.lattice.unlikeDelta(occ, j, a)
		occ[j] = a
		if !k.accept(k.params.Interaction*float64(d), rng) {
			occ[i], occ[j] = a, b
			return dt, nil
		}
		k.bonds += d

	case SemiGrand:
		i := rng.Intn(n)
		a := occ[i]
		b := 1 - a
		d := k.lattice.unlikeDelta(occ, i, b)
		dPot := k.params.Interaction*float64(d) - k.mu*float64(b-a)
		if !k.accept(dPot, rng) {
			return dt, nil
		}
		occ[i] = b
		k.bonds += d
	}

	k.accepted++
	k.setProperties(state)
	return dt, nil
}

func (k *LatticeGas) accept(dE float64, rng *rand.Rand) bool {
	return dE <= 0 || rng.Float64() < math.Exp(-k.beta*dE)
}

func (k *LatticeGas) setProperties(state *mc.State) {
	state.Properties.SetScalar(PropPotentialEnergy, k.params.Interaction*float64(k.bonds)/float64(k.lattice.NSites()))
}

// AcceptanceRate is the fraction of accepted moves since Begin.
func (k *LatticeGas) AcceptanceRate() float64 {
	if k.attempts == 0 {
		return 0
	}
	return float64(k.accepted) / float64(k.attempts)
}

// Energy returns the potential energy per unit cell of config, computed from
// scratch.
func (k *LatticeGas) Energy(config *mc.Configuration) (float64, error) {
	lat, err := NewLattice(config.TransformationMatrix)
	if err != nil {
		return 0, err
	}
	if len(config.Occupation) != lat.NSites() {
		return 0, fmt.Errorf("occupation has %d sites, supercell has %d", len(config.Occupation), lat.NSites())
	}
	return k.params.Interaction * float64(lat.UnlikeBonds(config.Occupation)) / float64(lat.NSites()), nil
}
