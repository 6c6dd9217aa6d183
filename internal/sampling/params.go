// Package sampling schedules and records observable samples during a run.
//
// The n-th sample (n = 0, 1, 2, ...) is due when the counter selected by
// [SampleMode] reaches
//
//	LINEAR: begin + (period / samples_per_period) * n
//	LOG:    begin + period ^ ((n + shift) / samples_per_period)
//
// Step and pass schedules are rounded to the nearest integer; time schedules
// are not.
package sampling

import (
	"fmt"
	"math"

	"github.com/san-kum/mcrun/internal/mc"
)

type SampleMode string

const (
	ByStep SampleMode = "by_step"
	ByPass SampleMode = "by_pass"
	ByTime SampleMode = "by_time"
)

type SampleMethod string

const (
	Linear SampleMethod = "linear"
	Log    SampleMethod = "log"
)

// Params configures a StateSampler.
type Params struct {
	SampleMode       SampleMode   `yaml:"sample_mode" json:"sample_mode"`
	SampleMethod     SampleMethod `yaml:"sample_method" json:"sample_method"`
	Begin            float64      `yaml:"begin" json:"begin"`
	Period           float64      `yaml:"period" json:"period"`
	SamplesPerPeriod float64      `yaml:"samples_per_period" json:"samples_per_period"`
	Shift            float64      `yaml:"shift" json:"shift"`
	SamplerNames     []string     `yaml:"sampler_names" json:"sampler_names"`
	SampleTrajectory bool         `yaml:"do_sample_trajectory" json:"do_sample_trajectory"`
}

func DefaultParams() Params {
	return Params{
		SampleMode:       ByPass,
		SampleMethod:     Linear,
		Begin:            0,
		Period:           1,
		SamplesPerPeriod: 1,
		Shift:            0,
	}
}

// Validate reports every invalid parameter.
func (p Params) Validate() error {
	var perr mc.ParseError
	switch p.SampleMode {
	case ByStep, ByPass, ByTime:
	default:
		perr.Add("sample_mode", "unknown mode %q (expected by_step, by_pass or by_time)", p.SampleMode)
	}
	switch p.SampleMethod {
	case Linear:
		if p.Period <= 0 {
			perr.Add("period", "must be positive, got %g", p.Period)
		}
	case Log:
		if p.Period <= 1 {
			perr.Add("period", "must be greater than 1 for log sampling, got %g", p.Period)
		}
	default:
		perr.Add("sample_method", "unknown method %q (expected linear or log)", p.SampleMethod)
	}
	if p.SamplesPerPeriod <= 0 {
		perr.Add("samples_per_period", "must be positive, got %g", p.SamplesPerPeriod)
	}
	if len(p.SamplerNames) == 0 {
		perr.Add("sampler_names", "at least one sampler is required")
	}
	seen := make(map[string]bool)
	for _, n := range p.SamplerNames {
		if seen[n] {
			perr.Add("sampler_names", "duplicate sampler %q", n)
		}
		seen[n] = true
	}
	if err := perr.Err(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfiguration, err)
	}
	return nil
}

// SampleAt returns the counter value at which sample n is due.
func (p Params) SampleAt(n int64) float64 {
	var v float64
	switch p.SampleMethod {
	case Log:
		v = p.Begin + math.Pow(p.Period, (float64(n)+p.Shift)/p.SamplesPerPeriod)
	default:
		v = p.Begin + (p.Period/p.SamplesPerPeriod)*float64(n)
	}
	if p.SampleMode != ByTime {
		v = math.Round(v)
	}
	return v
}
