package completion

import (
	"fmt"
	"math"
	"strconv"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/sampling"
)

// Samples is the view of a running sampler that a Check needs.
// *sampling.StateSampler satisfies it.
type Samples interface {
	Count() int64
	NSamples() int
	Time() float64
	Clocktime() float64
	Sampler(name string) (*sampling.Sampler, bool)
}

type Status string

const (
	StatusBelowMinimum Status = "below_minimum"
	StatusIncomplete   Status = "incomplete"
	StatusConverged    Status = "converged"
	StatusCutoff       Status = "cutoff"
)

const (
	ForcedByMaxCount     = "max_count"
	ForcedByMaxSample    = "max_sample"
	ForcedByMaxTime      = "max_time"
	ForcedByMaxClocktime = "max_clocktime"
)

// ObservableReport is the convergence state of one observable component.
type ObservableReport struct {
	Name      string    `json:"name"`
	Component string    `json:"component"`
	Estimate  Estimate  `json:"estimate"`
	Precision Precision `json:"precision"`
	Converged bool      `json:"converged"`
}

// Report is the latest completion decision.
type Report struct {
	Status       Status             `json:"status"`
	ForcedBy     string             `json:"forced_by,omitempty"`
	Count        int64              `json:"count"`
	NSamples     int                `json:"n_samples"`
	Time         float64            `json:"time"`
	Clocktime    float64            `json:"clocktime"`
	Evaluated    bool               `json:"evaluated"`
	EvaluatedAt  int                `json:"evaluated_at_sample"`
	AllConverged bool               `json:"all_converged"`
	Observables  []ObservableReport `json:"observables,omitempty"`
}

func (r Report) IsComplete() bool {
	return r.Status == StatusConverged || r.Status == StatusCutoff
}

func (r Report) String() string {
	switch r.Status {
	case StatusCutoff:
		return "forced by " + r.ForcedBy
	case StatusConverged:
		return fmt.Sprintf("converged after %d samples", r.NSamples)
	case StatusBelowMinimum:
		return "below minimum cutoff"
	default:
		return fmt.Sprintf("not converged after %d samples", r.NSamples)
	}
}

// Check tracks cutoffs and convergence for one sampling fixture.
type Check struct {
	params  Params
	targets []target

	lastSamples int
	report      Report
}

type target struct {
	key       string
	name      string
	component string
	precision Precision
}

// New validates params and returns a Check.
func New(params Params) (*Check, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c := &Check{params: params}
	for _, key := range sortedPrecisionKeys(params.RequestedPrecision) {
		name, comp := splitKey(key)
		c.targets = append(c.targets, target{key: key, name: name, component: comp, precision: params.RequestedPrecision[key]})
	}
	c.Reset()
	return c, nil
}

func (c *Check) Params() Params { return c.params }

// Reset clears the cached evaluation for a new run.
func (c *Check) Reset() {
	c.lastSamples = 0
	c.report = Report{Status: StatusBelowMinimum}
}

// Report returns the latest decision.
func (c *Check) Report() Report { return c.report }

// IsComplete updates the report from s and reports whether the run may stop.
func (c *Check) IsComplete(s Samples) (bool, error) {
	n := s.NSamples()
	r := &c.report
	r.Count = s.Count()
	r.NSamples = n
	r.Time = s.Time()
	r.Clocktime = s.Clocktime()
	r.ForcedBy = ""

	if n != c.lastSamples && c.due(n) {
		if err := c.evaluate(s); err != nil {
			return false, err
		}
		r.Evaluated = true
		r.EvaluatedAt = n
	}
	c.lastSamples = n

	cut := c.params.Cutoff
	switch {
	case !c.aboveMinimum(r):
		r.Status = StatusBelowMinimum
	case len(c.targets) > 0 && r.Evaluated && r.AllConverged:
		r.Status = StatusConverged
	default:
		r.Status = StatusIncomplete
	}
	if r.Status != StatusConverged {
		switch {
		case cut.MaxCount != nil && r.Count >= *cut.MaxCount:
			r.ForcedBy = ForcedByMaxCount
		case cut.MaxSample != nil && int64(n) >= *cut.MaxSample:
			r.ForcedBy = ForcedByMaxSample
		case cut.MaxTime != nil && r.Time >= *cut.MaxTime:
			r.ForcedBy = ForcedByMaxTime
		case cut.MaxClocktime != nil && r.Clocktime >= *cut.MaxClocktime:
			r.ForcedBy = ForcedByMaxClocktime
		}
		if r.ForcedBy != "" {
			r.Status = StatusCutoff
		}
	}
	return r.IsComplete(), nil
}

func (c *Check) due(n int) bool {
	if n < c.params.CheckBegin {
		return false
	}
	return (n-c.params.CheckBegin)%c.params.CheckFrequency == 0
}

func (c *Check) aboveMinimum(r *Report) bool {
	cut := c.params.Cutoff
	if cut.MinCount != nil && r.Count < *cut.MinCount {
		return false
	}
	if cut.MinSample != nil && int64(r.NSamples) < *cut.MinSample {
		return false
	}
	if cut.MinTime != nil && r.Time < *cut.MinTime {
		return false
	}
	if cut.MinClocktime != nil && r.Clocktime < *cut.MinClocktime {
		return false
	}
	return true
}

func (c *Check) evaluate(s Samples) error {
	obs := make([]ObservableReport, 0, len(c.targets))
	all := true
	for _, t := range c.targets {
		sp, ok := s.Sampler(t.name)
		if !ok {
			return &mc.KeyError{Key: t.key, Kind: mc.ErrSampling, Msg: "requested precision for an observable that is not sampled"}
		}
		comps, err := components(sp, t.component)
		if err != nil {
			return &mc.KeyError{Key: t.key, Kind: mc.ErrConfiguration, Msg: err.Error()}
		}
		for _, i := range comps {
			series := sp.Component(i)
			if eq := c.params.Equilibration; eq < len(series) {
				series = series[eq:]
			} else {
				series = nil
			}
			est := c.params.Estimator.Estimate(series, c.params.Confidence)
			conv := converged(est, t.precision)
			all = all && conv
			obs = append(obs, ObservableReport{
				Name:      t.name,
				Component: sp.ComponentNames[i],
				Estimate:  est,
				Precision: t.precision,
				Converged: conv,
			})
		}
	}
	c.report.Observables = obs
	c.report.AllConverged = all
	return nil
}

func components(sp *sampling.Sampler, comp string) ([]int, error) {
	if comp == "" {
		idx := make([]int, sp.NComponents())
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	if i := sp.ComponentIndex(comp); i >= 0 {
		return []int{i}, nil
	}
	if i, err := strconv.Atoi(comp); err == nil && i >= 0 && i < sp.NComponents() {
		return []int{i}, nil
	}
	return nil, fmt.Errorf("unknown component %q (have %v)", comp, sp.ComponentNames)
}

func converged(est Estimate, p Precision) bool {
	if est.N < 2 || math.IsInf(est.HalfWidth, 0) || math.IsNaN(est.HalfWidth) {
		return false
	}
	if p.Abs != nil && est.HalfWidth > *p.Abs {
		return false
	}
	if p.Rel != nil && est.HalfWidth > *p.Rel*math.Abs(est.Mean) {
		return false
	}
	return true
}
