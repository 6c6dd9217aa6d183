package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/conditions"
	"github.com/san-kum/mcrun/internal/kernel"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/run"
	"github.com/san-kum/mcrun/internal/sampling"
	"github.com/san-kum/mcrun/internal/stategen"
)

const (
	DefaultKernel      = "lattice_gas_canonical"
	DefaultNStates     = 5
	DefaultTemperature = 300.0
	DefaultTempStep    = 100.0
	DefaultMaxCount    = 2000
	DefaultResultsPath = "results"
	DefaultLogInterval = 60.0
)

// Config is a run file: the state sequence, the fixtures sampled during each
// run, where results go and which kernel steps the state.
type Config struct {
	Kernel         string                `yaml:"kernel"`
	KernelParams   kernel.Params         `yaml:"kernel_params"`
	Seed           int64                 `yaml:"seed"`
	Composition    *conditions.Converter `yaml:"composition,omitempty"`
	Sequence       SequenceConfig        `yaml:"sequence"`
	Fixtures       []Fixture             `yaml:"fixtures"`
	BeforeFirstRun []Fixture             `yaml:"before_first_run,omitempty"`
	BeforeEachRun  []Fixture             `yaml:"before_each_run,omitempty"`
	Manager        run.ManagerParams     `yaml:"manager"`
	Results        ResultsConfig         `yaml:"results"`
	MethodLog      MethodLogConfig       `yaml:"method_log"`
	Log            LogConfig             `yaml:"log"`
}

type SequenceConfig struct {
	InitialConditions    map[string]any        `yaml:"initial_conditions"`
	ConditionsIncrement  map[string]any        `yaml:"conditions_increment"`
	NStates              int                   `yaml:"n_states"`
	DependentRuns        bool                  `yaml:"dependent_runs"`
	DependentConditions  []string              `yaml:"dependent_conditions,omitempty"`
	Output               stategen.OutputParams `yaml:"output"`
	OnError              string                `yaml:"on_error"`
	InitialConfiguration *mc.Configuration     `yaml:"initial_configuration,omitempty"`
}

// ResultsConfig selects the results store. What each run writes is set per
// fixture under output.
type ResultsConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type MethodLogConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between status rewrites, in seconds.
	Interval float64 `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Fixture is a fixture in a run file. Fields missing from the file keep
// their defaults.
type Fixture run.FixtureParams

func DefaultFixture(label string) Fixture {
	return Fixture{
		Label:      label,
		Sampling:   sampling.DefaultParams(),
		Completion: completion.DefaultParams(),
		Output:     resultsio.DefaultWriteOptions(),
	}
}

func (f *Fixture) UnmarshalYAML(node *yaml.Node) error {
	type plain Fixture
	p := plain(DefaultFixture(""))
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = Fixture(p)
	return nil
}

func (f Fixture) Params() run.FixtureParams { return run.FixtureParams(f) }

func DefaultConfig() *Config {
	thermo := DefaultFixture("thermo")
	thermo.Sampling.SamplerNames = []string{"temperature", "mol_composition", "potential_energy"}
	thermo.Completion.Cutoff.MaxCount = completion.Ptr[int64](DefaultMaxCount)
	thermo.Completion.RequestedPrecision = map[string]completion.Precision{
		"potential_energy": {Abs: completion.Ptr(0.001)},
	}

	return &Config{
		Kernel:       DefaultKernel,
		KernelParams: kernel.DefaultParams(),
		Sequence: SequenceConfig{
			InitialConditions: map[string]any{
				conditions.KeyTemperature:      DefaultTemperature,
				conditions.KeyParamComposition: []any{0.5},
			},
			ConditionsIncrement: map[string]any{
				conditions.KeyTemperature:      DefaultTempStep,
				conditions.KeyParamComposition: []any{0.0},
			},
			NStates:       DefaultNStates,
			DependentRuns: true,
			Output:        stategen.DefaultOutputParams(),
			OnError:       string(run.OnErrorStop),
		},
		Fixtures:  []Fixture{thermo},
		Results:   ResultsConfig{Kind: "json", Path: DefaultResultsPath},
		MethodLog: MethodLogConfig{Enabled: true, Interval: DefaultLogInterval},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	// yaml.v3 merges into non-nil maps; conditions must replace the defaults
	seq := cfg.Sequence
	cfg.Sequence.InitialConditions, cfg.Sequence.ConditionsIncrement = nil, nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mc.ErrConfiguration, path, err)
	}
	if cfg.Sequence.InitialConditions == nil {
		cfg.Sequence.InitialConditions = seq.InitialConditions
		if cfg.Sequence.ConditionsIncrement == nil {
			cfg.Sequence.ConditionsIncrement = seq.ConditionsIncrement
		}
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Converter returns the composition axes, defaulting to one axis per
// component after the first: origin is pure Components[0] and end member i
// is pure Components[i+1].
func (c *Config) Converter() (*conditions.Converter, error) {
	if c.Composition != nil {
		return c.Composition, nil
	}
	components := c.KernelParams.Components
	n := len(components)
	origin := make([]float64, n)
	if n > 0 {
		origin[0] = 1
	}
	var ends [][]float64
	for i := 1; i < n; i++ {
		e := make([]float64, n)
		e[i] = 1
		ends = append(ends, e)
	}
	return conditions.NewConverter(components, origin, ends...)
}

// Conditions parses the initial conditions and increment of the sequence.
func (c *Config) Conditions() (initial, increment mc.ValueMap, err error) {
	conv, err := c.Converter()
	if err != nil {
		return mc.ValueMap{}, mc.ValueMap{}, mc.ConfigError("composition", "%v", err)
	}
	var perr mc.ParseError
	initial, err = conditions.Parse(c.Sequence.InitialConditions, conv)
	perr.Merge("sequence.initial_conditions", err)

	inc := c.Sequence.ConditionsIncrement
	if len(inc) == 0 {
		// zero increment: repeat the initial conditions
		zero := make([]any, len(conv.Axes()))
		for i := range zero {
			zero[i] = 0.0
		}
		inc = map[string]any{conditions.KeyTemperature: 0.0, conditions.KeyParamComposition: zero}
	}
	increment, err = conditions.ParseIncrement(inc, conv)
	perr.Merge("sequence.conditions_increment", err)
	if err := perr.Err(); err != nil {
		return mc.ValueMap{}, mc.ValueMap{}, err
	}
	return initial, increment, nil
}

// StatusPath is where the method log rewrites the run status: inside the
// results directory, or next to the sqlite database as <name>.status.json.
func (c *Config) StatusPath() string {
	if c.Results.Kind == "sqlite" {
		base := strings.TrimSuffix(c.Results.Path, filepath.Ext(c.Results.Path))
		return base + "." + run.StatusFile
	}
	return filepath.Join(c.Results.Path, run.StatusFile)
}

// InitialConfiguration returns the configured starting configuration or an
// empty supercell of the kernel's size.
func (c *Config) InitialConfiguration() *mc.Configuration {
	if c.Sequence.InitialConfiguration != nil {
		return c.Sequence.InitialConfiguration.Clone()
	}
	return kernel.Supercell(c.KernelParams.Supercell)
}

// Validate reports every problem in the run file.
func (c *Config) Validate() error {
	var perr mc.ParseError

	if !slices.Contains(kernel.NewRegistry().List(), c.Kernel) {
		perr.Add("kernel", "unknown kernel %q", c.Kernel)
	}
	perr.Merge("kernel_params", c.KernelParams.Validate())
	if c.Composition != nil {
		if err := c.Composition.Validate(); err != nil {
			perr.Add("composition", "%v", err)
		} else if !slices.Equal(c.Composition.Components, c.KernelParams.Components) {
			perr.Add("composition.components", "%v do not match kernel components %v",
				c.Composition.Components, c.KernelParams.Components)
		}
	}

	if _, _, err := c.Conditions(); err != nil {
		perr.Merge("", err)
	}
	if c.Sequence.NStates < 0 {
		perr.Add("sequence.n_states", "must be non-negative, got %d", c.Sequence.NStates)
	}
	if c.Sequence.DependentRuns && !c.Sequence.Output.SaveLastFinalState && !c.Sequence.Output.SaveAllFinalStates {
		perr.Add("sequence.dependent_runs", "requires output.save_last_final_state")
	}
	if _, err := run.ParseOnError(c.Sequence.OnError); err != nil {
		perr.Add("sequence.on_error", "unknown policy %q", c.Sequence.OnError)
	}

	if len(c.Fixtures) == 0 {
		perr.Add("fixtures", "at least one fixture is required")
	}
	validateFixtures(&perr, "fixtures", c.Fixtures)
	validateFixtures(&perr, "before_first_run", c.BeforeFirstRun)
	validateFixtures(&perr, "before_each_run", c.BeforeEachRun)

	switch c.Results.Kind {
	case "", "json", "sqlite":
	default:
		perr.Add("results.kind", "unknown store %q (expected json or sqlite)", c.Results.Kind)
	}
	if c.Results.Path == "" {
		perr.Add("results.path", "required")
	}
	if c.MethodLog.Interval < 0 {
		perr.Add("method_log.interval", "must be non-negative, got %g", c.MethodLog.Interval)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		perr.Add("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		perr.Add("log.format", "unknown format %q", c.Log.Format)
	}

	if err := perr.Err(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfiguration, err)
	}
	return nil
}

func validateFixtures(perr *mc.ParseError, key string, fixtures []Fixture) {
	seen := make(map[string]bool)
	for i, f := range fixtures {
		prefix := fmt.Sprintf("%s[%d]", key, i)
		if f.Label == "" {
			perr.Add(prefix+".label", "required")
		} else if seen[f.Label] {
			perr.Add(prefix+".label", "duplicate label %q", f.Label)
		}
		seen[f.Label] = true
		perr.Merge(prefix+".sampling", f.Sampling.Validate())
		perr.Merge(prefix+".completion_check", f.Completion.Validate())
	}
}
