// Package completion decides when a run has gathered enough samples.
//
// A run is complete when the cutoff minimums are met and every observable
// with a requested precision has converged, or when any cutoff maximum is
// reached.
//
// Convergence is judged from the half-width h = z·σ of a two-sided
// confidence interval on the mean, z = √2·erfinv(confidence). The default
// normal estimator treats samples as independent: σ² = s²/N with the
// unbiased sample variance s². The autocorrelated estimator replaces N with
// N_eff = N(1−ρ₁)/(1+ρ₁), ρ₁ being the lag-1 autocorrelation clamped to
// [0, 1).
package completion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/mcrun/internal/mc"
)

type Estimator string

const (
	EstimatorNormal         Estimator = "normal"
	EstimatorAutocorrelated Estimator = "autocorrelated"
)

// CutoffParams bounds a run. Nil fields are unbounded. Count is the step or
// pass count selected by the sampling mode.
type CutoffParams struct {
	MinCount     *int64   `yaml:"min_count,omitempty" json:"min_count,omitempty"`
	MaxCount     *int64   `yaml:"max_count,omitempty" json:"max_count,omitempty"`
	MinSample    *int64   `yaml:"min_sample,omitempty" json:"min_sample,omitempty"`
	MaxSample    *int64   `yaml:"max_sample,omitempty" json:"max_sample,omitempty"`
	MinTime      *float64 `yaml:"min_time,omitempty" json:"min_time,omitempty"`
	MaxTime      *float64 `yaml:"max_time,omitempty" json:"max_time,omitempty"`
	MinClocktime *float64 `yaml:"min_clocktime,omitempty" json:"min_clocktime,omitempty"`
	MaxClocktime *float64 `yaml:"max_clocktime,omitempty" json:"max_clocktime,omitempty"`
}

// HasMax reports whether any maximum is set.
func (c CutoffParams) HasMax() bool {
	return c.MaxCount != nil || c.MaxSample != nil || c.MaxTime != nil || c.MaxClocktime != nil
}

// Precision is a target confidence half-width. Either bound may be set; both
// must hold when both are.
type Precision struct {
	Abs *float64 `yaml:"abs,omitempty" json:"abs,omitempty"`
	Rel *float64 `yaml:"rel,omitempty" json:"rel,omitempty"`
}

// Params configures a Check.
//
// RequestedPrecision keys are an observable name, applying to every
// component, or "name:component" with a component name or index.
type Params struct {
	Cutoff             CutoffParams         `yaml:"cutoff" json:"cutoff"`
	RequestedPrecision map[string]Precision `yaml:"requested_precision,omitempty" json:"requested_precision,omitempty"`
	Confidence         float64              `yaml:"confidence" json:"confidence"`
	CheckBegin         int                  `yaml:"check_begin" json:"check_begin"`
	CheckFrequency     int                  `yaml:"check_frequency" json:"check_frequency"`
	Estimator          Estimator            `yaml:"estimator" json:"estimator"`
	Equilibration      int                  `yaml:"equilibration" json:"equilibration"`
}

func DefaultParams() Params {
	return Params{
		Confidence:     0.95,
		CheckBegin:     10,
		CheckFrequency: 1,
		Estimator:      EstimatorNormal,
	}
}

// Validate reports every invalid parameter. A check with neither a maximum
// cutoff nor a requested precision could never finish and fails with
// mc.ErrConvergenceConfiguration.
func (p Params) Validate() error {
	var perr mc.ParseError
	if p.Confidence <= 0 || p.Confidence >= 1 {
		perr.Add("confidence", "must be in (0, 1), got %g", p.Confidence)
	}
	if p.CheckBegin < 0 {
		perr.Add("check_begin", "must be non-negative, got %d", p.CheckBegin)
	}
	if p.CheckFrequency < 1 {
		perr.Add("check_frequency", "must be at least 1, got %d", p.CheckFrequency)
	}
	if p.Equilibration < 0 {
		perr.Add("equilibration", "must be non-negative, got %d", p.Equilibration)
	}
	switch p.Estimator {
	case EstimatorNormal, EstimatorAutocorrelated:
	default:
		perr.Add("estimator", "unknown estimator %q (expected normal or autocorrelated)", p.Estimator)
	}
	for _, key := range sortedPrecisionKeys(p.RequestedPrecision) {
		prec := p.RequestedPrecision[key]
		field := "requested_precision." + key
		if prec.Abs == nil && prec.Rel == nil {
			perr.Add(field, "one of abs or rel is required")
		}
		if prec.Abs != nil && *prec.Abs <= 0 {
			perr.Add(field+".abs", "must be positive, got %g", *prec.Abs)
		}
		if prec.Rel != nil && *prec.Rel <= 0 {
			perr.Add(field+".rel", "must be positive, got %g", *prec.Rel)
		}
		if name, _ := splitKey(key); name == "" {
			perr.Add(field, "empty observable name")
		}
	}
	c := p.Cutoff
	checkRange(&perr, "cutoff.count", c.MinCount, c.MaxCount)
	checkRange(&perr, "cutoff.sample", c.MinSample, c.MaxSample)
	checkRange(&perr, "cutoff.time", c.MinTime, c.MaxTime)
	checkRange(&perr, "cutoff.clocktime", c.MinClocktime, c.MaxClocktime)
	if err := perr.Err(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfiguration, err)
	}

	if !c.HasMax() && len(p.RequestedPrecision) == 0 {
		return fmt.Errorf("%w: set a maximum cutoff or a requested precision", mc.ErrConvergenceConfiguration)
	}
	return nil
}

// Observables returns the observable names with a requested precision.
func (p Params) Observables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, key := range sortedPrecisionKeys(p.RequestedPrecision) {
		name, _ := splitKey(key)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func checkRange[T int64 | float64](perr *mc.ParseError, key string, lo, hi *T) {
	if lo != nil && *lo < 0 {
		perr.Add(key, "minimum must be non-negative, got %v", *lo)
	}
	if hi != nil && *hi < 0 {
		perr.Add(key, "maximum must be non-negative, got %v", *hi)
	}
	if lo != nil && hi != nil && *lo > *hi {
		perr.Add(key, "minimum %v exceeds maximum %v", *lo, *hi)
	}
}

func splitKey(key string) (name, component string) {
	name, component, _ = strings.Cut(key, ":")
	return name, component
}

func sortedPrecisionKeys(m map[string]Precision) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ptr returns a pointer to v, for filling optional cutoffs.
func Ptr[T any](v T) *T { return &v }

func zScore(confidence float64) float64 {
	return math.Sqrt2 * math.Erfinv(confidence)
}
