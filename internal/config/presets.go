package config

import (
	"sort"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/conditions"
	"github.com/san-kum/mcrun/internal/kernel"
	"github.com/san-kum/mcrun/internal/sampling"
)

// Presets build complete run files for common scans.
var Presets = map[string]func() *Config{
	"heating": func() *Config {
		cfg := DefaultConfig()
		cfg.Sequence.InitialConditions = map[string]any{
			conditions.KeyTemperature:      100.0,
			conditions.KeyParamComposition: []any{0.5},
		}
		cfg.Sequence.ConditionsIncrement = map[string]any{
			conditions.KeyTemperature:      100.0,
			conditions.KeyParamComposition: []any{0.0},
		}
		cfg.Sequence.NStates = 10
		return cfg
	},
	"cooling": func() *Config {
		cfg := DefaultConfig()
		cfg.Sequence.InitialConditions = map[string]any{
			conditions.KeyTemperature:      1000.0,
			conditions.KeyParamComposition: []any{0.5},
		}
		cfg.Sequence.ConditionsIncrement = map[string]any{
			conditions.KeyTemperature:      -100.0,
			conditions.KeyParamComposition: []any{0.0},
		}
		cfg.Sequence.NStates = 10
		cfg.BeforeFirstRun = []Fixture{equilibration(20)}
		return cfg
	},
	"composition": func() *Config {
		cfg := DefaultConfig()
		cfg.Sequence.InitialConditions = map[string]any{
			conditions.KeyTemperature:      600.0,
			conditions.KeyParamComposition: []any{0.0},
		}
		cfg.Sequence.ConditionsIncrement = map[string]any{
			conditions.KeyTemperature:      0.0,
			conditions.KeyParamComposition: []any{0.125},
		}
		cfg.Sequence.NStates = 9
		cfg.Sequence.DependentRuns = false
		cfg.BeforeEachRun = []Fixture{equilibration(10)}
		return cfg
	},
	"chemical_potential": func() *Config {
		cfg := DefaultConfig()
		cfg.Kernel = "lattice_gas_semigrand"
		cfg.Sequence.InitialConditions = map[string]any{
			conditions.KeyTemperature:      600.0,
			conditions.KeyParamComposition: []any{0.0},
			kernel.CondParamChemPot:        []any{-0.1},
		}
		cfg.Sequence.ConditionsIncrement = map[string]any{
			conditions.KeyTemperature:      0.0,
			conditions.KeyParamComposition: []any{0.0},
			kernel.CondParamChemPot:        []any{0.02},
		}
		cfg.Sequence.NStates = 11
		thermo := &cfg.Fixtures[0]
		thermo.Completion.RequestedPrecision["mol_composition:B"] = completion.Precision{Abs: completion.Ptr(0.001)}
		return cfg
	},
	"quick": func() *Config {
		cfg := DefaultConfig()
		cfg.KernelParams.Supercell = [3]int{4, 4, 4}
		cfg.Sequence.NStates = 2
		cfg.Fixtures[0].Completion.RequestedPrecision = nil
		cfg.Fixtures[0].Completion.Cutoff.MaxCount = completion.Ptr[int64](100)
		cfg.MethodLog.Enabled = false
		return cfg
	},
}

// equilibration is a warm-up fixture that only counts passes.
func equilibration(passes int64) Fixture {
	f := DefaultFixture("equilibration")
	f.Sampling.SampleMode = sampling.ByPass
	f.Sampling.SamplerNames = []string{"potential_energy"}
	f.Completion.Cutoff.MaxCount = completion.Ptr(passes)
	f.Output.WriteObservations = false
	return f
}

func GetPreset(name string) *Config {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
