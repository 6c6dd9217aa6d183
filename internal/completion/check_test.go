package completion

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/sampling"
)

type fakeSamples struct {
	count    int64
	time     float64
	clock    float64
	samplers map[string]*sampling.Sampler
}

func newFake(names ...string) *fakeSamples {
	f := &fakeSamples{samplers: make(map[string]*sampling.Sampler)}
	for _, n := range names {
		f.samplers[n] = &sampling.Sampler{ComponentNames: []string{"0"}}
	}
	return f
}

func (f *fakeSamples) add(name string, v ...float64) {
	sp := f.samplers[name]
	if len(sp.ComponentNames) != len(v) {
		sp.ComponentNames = make([]string, len(v))
		for i := range v {
			sp.ComponentNames[i] = string(rune('a' + i))
		}
	}
	sp.Values = append(sp.Values, v)
}

func (f *fakeSamples) Count() int64       { return f.count }
func (f *fakeSamples) Time() float64      { return f.time }
func (f *fakeSamples) Clocktime() float64 { return f.clock }

func (f *fakeSamples) NSamples() int {
	for _, sp := range f.samplers {
		return sp.NSamples()
	}
	return 0
}

func (f *fakeSamples) Sampler(name string) (*sampling.Sampler, bool) {
	sp, ok := f.samplers[name]
	return sp, ok
}

func alternating(i int) float64 {
	if i%2 == 0 {
		return 1
	}
	return -1
}

// halfWidth of the first n alternating ±1 samples under the normal estimator.
func alternatingHalfWidth(n int, confidence float64) float64 {
	z := math.Sqrt2 * math.Erfinv(confidence)
	if n%2 == 0 {
		return z / math.Sqrt(float64(n-1))
	}
	return z * math.Sqrt(float64(n+1)) / float64(n)
}

func TestCheck_ForcedByMaxCount(t *testing.T) {
	params := DefaultParams()
	params.Cutoff.MaxCount = Ptr[int64](100)
	c, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	f := newFake("x")
	for {
		f.add("x", alternating(int(f.count)))
		done, err := c.IsComplete(f)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
		f.count++
		if f.count > 1000 {
			t.Fatal("run never terminated")
		}
	}
	if f.count != 100 {
		t.Errorf("expected termination at count 100, got %d", f.count)
	}
	r := c.Report()
	if r.Status != StatusCutoff || r.ForcedBy != ForcedByMaxCount {
		t.Errorf("expected cutoff forced by max_count, got %+v", r)
	}
	if r.String() != "forced by max_count" {
		t.Errorf("expected report 'forced by max_count', got %q", r.String())
	}
}

func TestCheck_ConvergesAtAnalyticSampleIndex(t *testing.T) {
	const precision = 0.2
	params := DefaultParams()
	params.RequestedPrecision = map[string]Precision{"x": {Abs: Ptr(precision)}}

	want := 0
	for n := params.CheckBegin; n < 10000; n++ {
		if alternatingHalfWidth(n, params.Confidence) <= precision {
			want = n
			break
		}
	}
	if want != 98 {
		t.Fatalf("closed form gives %d, expected 98", want)
	}

	c, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f := newFake("x")
	got := 0
	for i := 0; i < 1000; i++ {
		f.add("x", alternating(i))
		done, err := c.IsComplete(f)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			got = i + 1
			break
		}
	}
	if got != want {
		t.Fatalf("expected convergence at sample %d, got %d", want, got)
	}

	r := c.Report()
	if r.Status != StatusConverged || !r.AllConverged {
		t.Errorf("expected converged report, got %+v", r)
	}
	obs := r.Observables[0]
	if math.Abs(obs.Estimate.HalfWidth-alternatingHalfWidth(want, 0.95)) > 1e-12 {
		t.Errorf("expected half-width %v, got %v", alternatingHalfWidth(want, 0.95), obs.Estimate.HalfWidth)
	}
	if math.Abs(obs.Estimate.Mean) > 1e-12 {
		t.Errorf("expected mean 0, got %v", obs.Estimate.Mean)
	}
}

func TestCheck_CheckFrequency(t *testing.T) {
	params := DefaultParams()
	params.CheckFrequency = 5
	params.RequestedPrecision = map[string]Precision{"x": {Abs: Ptr(0.2)}}
	c, _ := New(params)

	f := newFake("x")
	evaluations := 0
	got := 0
	for i := 0; i < 1000; i++ {
		f.add("x", alternating(i))
		done, _ := c.IsComplete(f)
		if r := c.Report(); r.Evaluated && r.EvaluatedAt == i+1 {
			evaluations++
			if (i+1-params.CheckBegin)%5 != 0 {
				t.Fatalf("evaluated at sample %d, off schedule", i+1)
			}
		}
		if done {
			got = i + 1
			break
		}
	}
	// converged from sample 98, first scheduled check after that is 100
	if got != 100 {
		t.Errorf("expected completion at sample 100, got %d", got)
	}
	if evaluations != 19 {
		t.Errorf("expected 19 evaluations (10, 15, ..., 100), got %d", evaluations)
	}
}

func TestCheck_MinimumCutoffs(t *testing.T) {
	params := DefaultParams()
	params.RequestedPrecision = map[string]Precision{"x": {Abs: Ptr(0.1)}}
	params.Cutoff.MinSample = Ptr[int64](50)
	c, _ := New(params)

	f := newFake("x")
	for i := 0; i < 100; i++ {
		f.add("x", 3)
		done, _ := c.IsComplete(f)
		n := i + 1
		if n < 50 {
			if done || c.Report().Status != StatusBelowMinimum {
				t.Fatalf("sample %d: expected below_minimum, got %s", n, c.Report().Status)
			}
			continue
		}
		if !done || c.Report().Status != StatusConverged {
			t.Fatalf("sample %d: expected converged, got %s", n, c.Report().Status)
		}
		break
	}
}

func TestCheck_ForcedByOtherMaximums(t *testing.T) {
	tests := []struct {
		name   string
		cutoff CutoffParams
		setup  func(f *fakeSamples)
		forced string
	}{
		{"max_sample", CutoffParams{MaxSample: Ptr[int64](1)}, func(f *fakeSamples) {}, ForcedByMaxSample},
		{"max_time", CutoffParams{MaxTime: Ptr(2.5)}, func(f *fakeSamples) { f.time = 3 }, ForcedByMaxTime},
		{"max_clocktime", CutoffParams{MaxClocktime: Ptr(1.0)}, func(f *fakeSamples) { f.clock = 1 }, ForcedByMaxClocktime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParams()
			params.Cutoff = tt.cutoff
			c, err := New(params)
			if err != nil {
				t.Fatal(err)
			}
			f := newFake("x")
			f.add("x", 1)
			tt.setup(f)
			done, _ := c.IsComplete(f)
			if !done || c.Report().ForcedBy != tt.forced {
				t.Errorf("expected forced by %s, got %+v", tt.forced, c.Report())
			}
		})
	}
}

func TestCheck_ComponentsAndRelativePrecision(t *testing.T) {
	params := DefaultParams()
	params.CheckBegin = 2
	params.RequestedPrecision = map[string]Precision{"comp:b": {Rel: Ptr(0.5)}}
	c, _ := New(params)

	f := newFake("comp")
	// a is noisy, b is nearly constant around 10
	f.add("comp", -100, 10)
	f.add("comp", 100, 10.1)
	done, err := c.IsComplete(f)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Errorf("expected component b to converge, got %+v", c.Report())
	}
	if obs := c.Report().Observables; len(obs) != 1 || obs[0].Component != "b" {
		t.Errorf("expected one report for component b, got %+v", obs)
	}

	params.RequestedPrecision = map[string]Precision{"comp:z": {Abs: Ptr(1.0)}}
	c, _ = New(params)
	if _, err := c.IsComplete(f); !errors.Is(err, mc.ErrConfiguration) {
		t.Errorf("expected unknown component error, got %v", err)
	}

	params.RequestedPrecision = map[string]Precision{"missing": {Abs: Ptr(1.0)}}
	c, _ = New(params)
	_, err = c.IsComplete(f)
	var kerr *mc.KeyError
	if !errors.Is(err, mc.ErrSampling) || !errors.As(err, &kerr) || kerr.Key != "missing" {
		t.Errorf("expected sampling error naming 'missing', got %v", err)
	}
}

func TestCheck_Equilibration(t *testing.T) {
	params := DefaultParams()
	params.CheckBegin = 0
	params.Equilibration = 5
	params.RequestedPrecision = map[string]Precision{"x": {Abs: Ptr(0.01)}}
	c, _ := New(params)

	f := newFake("x")
	for i := 0; i < 5; i++ {
		f.add("x", float64(i*100))
	}
	f.add("x", 7)
	if done, _ := c.IsComplete(f); done {
		t.Error("one post-equilibration sample must not converge")
	}
	f.add("x", 7)
	done, _ := c.IsComplete(f)
	if !done {
		t.Errorf("expected convergence once equilibration samples are dropped, got %+v", c.Report())
	}
	if m := c.Report().Observables[0].Estimate.Mean; m != 7 {
		t.Errorf("expected mean 7, got %v", m)
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		kind   error
	}{
		{"no criteria", func(p *Params) {}, mc.ErrConvergenceConfiguration},
		{"bad confidence", func(p *Params) { p.Confidence = 1; p.Cutoff.MaxCount = Ptr[int64](1) }, mc.ErrConfiguration},
		{"bad frequency", func(p *Params) { p.CheckFrequency = 0; p.Cutoff.MaxCount = Ptr[int64](1) }, mc.ErrConfiguration},
		{"empty precision", func(p *Params) { p.RequestedPrecision = map[string]Precision{"x": {}} }, mc.ErrConfiguration},
		{"negative precision", func(p *Params) { p.RequestedPrecision = map[string]Precision{"x": {Abs: Ptr(-1.0)}} }, mc.ErrConfiguration},
		{"min above max", func(p *Params) { p.Cutoff.MinCount = Ptr[int64](10); p.Cutoff.MaxCount = Ptr[int64](5) }, mc.ErrConfiguration},
		{"unknown estimator", func(p *Params) { p.Estimator = "bootstrap"; p.Cutoff.MaxSample = Ptr[int64](1) }, mc.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			if err := p.Validate(); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}

	p := DefaultParams()
	p.RequestedPrecision = map[string]Precision{"b:0": {Abs: Ptr(1.0)}, "a": {Abs: Ptr(1.0)}, "b:1": {Rel: Ptr(0.1)}}
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid params, got %v", err)
	}
	if got := p.Observables(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected observables [a b], got %v", got)
	}
}
