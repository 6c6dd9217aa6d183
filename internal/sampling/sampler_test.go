package sampling

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mcrun/internal/mc"
)

func testFunctions() *mc.FunctionMap {
	return mc.NewFunctionMap(
		mc.StateSamplingFunction{
			Name:           "n_occupied",
			ComponentNames: []string{"n"},
			Func: func(s *mc.State) []float64 {
				n := 0
				for _, o := range s.Configuration.Occupation {
					n += o
				}
				return []float64{float64(n)}
			},
		},
		mc.StateSamplingFunction{
			Name: "occupation",
			Func: func(s *mc.State) []float64 {
				out := make([]float64, len(s.Configuration.Occupation))
				for i, o := range s.Configuration.Occupation {
					out[i] = float64(o)
				}
				return out
			},
		},
	)
}

func testState() *mc.State {
	return mc.NewState(&mc.Configuration{Occupation: []int{1, 0, 1}}, mc.NewValueMap())
}

func TestSampler_LinearByPass(t *testing.T) {
	params := DefaultParams()
	params.SamplerNames = []string{"n_occupied"}
	s, err := New(params, testFunctions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Reset(4)

	state := testState()
	var passes []int64
	for step := 0; step < 4*10 && len(passes) < 5; step++ {
		sampled, err := s.SampleIfDue(state)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if sampled {
			passes = append(passes, s.Pass())
		}
		s.IncrementStep()
	}

	want := []int64{0, 1, 2, 3, 4}
	if len(passes) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(passes))
	}
	for i := range want {
		if passes[i] != want[i] {
			t.Errorf("sample %d: expected pass %d, got %d", i, want[i], passes[i])
		}
	}
}

func TestSampler_LogSpacing(t *testing.T) {
	params := Params{
		SampleMode:       ByStep,
		SampleMethod:     Log,
		Period:           10,
		SamplesPerPeriod: 1,
		SamplerNames:     []string{"n_occupied"},
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := []float64{1, 10, 100, 1000, 10000}
	for n, w := range want {
		if got := params.SampleAt(int64(n)); got != w {
			t.Errorf("SampleAt(%d): expected %v, got %v", n, w, got)
		}
	}

	s, _ := New(params, testFunctions())
	state := testState()
	var steps []int64
	for step := 0; step <= 1000; step++ {
		if sampled, _ := s.SampleIfDue(state); sampled {
			steps = append(steps, s.Step())
		}
		s.IncrementStep()
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 samples, got %v", steps)
	}
	for i := 1; i < len(steps); i++ {
		if ratio := float64(steps[i]) / float64(steps[i-1]); math.Abs(ratio-10) > 1e-9 {
			t.Errorf("expected geometric spacing, got steps %v", steps)
		}
	}
}

func TestSampler_DuplicateTriggersCollapse(t *testing.T) {
	params := Params{
		SampleMode:       ByStep,
		SampleMethod:     Linear,
		Period:           1,
		SamplesPerPeriod: 4,
		SamplerNames:     []string{"n_occupied"},
	}
	s, err := New(params, testFunctions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	state := testState()
	for step := 0; step < 5; step++ {
		for i := 0; i < 3; i++ {
			if _, err := s.SampleIfDue(state); err != nil {
				t.Fatal(err)
			}
		}
		s.IncrementStep()
	}
	if got := s.NSamples(); got != 5 {
		t.Errorf("expected one sample per step (5), got %d", got)
	}
	counts := s.Counts()
	for i, step := range counts.Step {
		if step != int64(i) {
			t.Errorf("sample %d taken at step %d", i, step)
		}
	}
}

func TestSampler_ByTime(t *testing.T) {
	params := Params{
		SampleMode:       ByTime,
		SampleMethod:     Linear,
		Period:           1,
		SamplesPerPeriod: 1,
		SamplerNames:     []string{"n_occupied"},
	}
	s, _ := New(params, testFunctions())
	state := testState()
	for i := 0; i < 10; i++ {
		if _, err := s.SampleIfDue(state); err != nil {
			t.Fatal(err)
		}
		s.IncrementStep()
		s.AdvanceTime(0.3)
	}
	// t = 0, 1.2, 2.1
	times := s.Counts().Time
	if len(times) != 3 {
		t.Fatalf("expected 3 samples, got %v", times)
	}
	if times[0] != 0 || times[1] < 1 || times[2] < 2 {
		t.Errorf("unexpected sample times %v", times)
	}
}

func TestSampler_Storage(t *testing.T) {
	params := DefaultParams()
	params.SamplerNames = []string{"n_occupied", "occupation"}
	params.SampleTrajectory = true
	s, err := New(params, testFunctions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	state := testState()
	if err := s.Sample(state); err != nil {
		t.Fatal(err)
	}
	state.Configuration.Occupation[1] = 1
	s.IncrementStep()
	if err := s.Sample(state); err != nil {
		t.Fatal(err)
	}

	n, ok := s.Sampler("n_occupied")
	if !ok {
		t.Fatal("missing n_occupied sampler")
	}
	if got := n.Component(0); got[0] != 2 || got[1] != 3 {
		t.Errorf("expected n_occupied [2 3], got %v", got)
	}
	occ, _ := s.Sampler("occupation")
	if occ.NComponents() != 3 || occ.ComponentNames[2] != "2" {
		t.Errorf("expected default component names, got %v", occ.ComponentNames)
	}
	if occ.ComponentIndex("1") != 1 || occ.ComponentIndex("x") != -1 {
		t.Error("ComponentIndex lookup failed")
	}
	traj := s.Trajectory()
	if len(traj) != 2 || traj[0].Occupation[1] != 0 || traj[1].Occupation[1] != 1 {
		t.Errorf("trajectory should hold independent copies, got %v", traj)
	}

	s.Reset(1)
	if s.NSamples() != 0 || len(s.Samplers()) != 0 || s.Step() != 0 {
		t.Error("Reset should clear samples and counters")
	}
}

func TestSampler_ComponentCountChange(t *testing.T) {
	params := DefaultParams()
	params.SamplerNames = []string{"occupation"}
	s, _ := New(params, testFunctions())
	state := testState()
	if err := s.Sample(state); err != nil {
		t.Fatal(err)
	}
	state.Configuration.Occupation = append(state.Configuration.Occupation, 1)
	err := s.Sample(state)
	var kerr *mc.KeyError
	if !errors.As(err, &kerr) || kerr.Key != "occupation" || !errors.Is(err, mc.ErrSampling) {
		t.Errorf("expected sampling error for occupation, got %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		kind   error
	}{
		{"unknown sampler", Params{SampleMode: ByPass, SampleMethod: Linear, Period: 1, SamplesPerPeriod: 1, SamplerNames: []string{"missing"}}, mc.ErrSampling},
		{"no samplers", Params{SampleMode: ByPass, SampleMethod: Linear, Period: 1, SamplesPerPeriod: 1}, mc.ErrConfiguration},
		{"bad mode", Params{SampleMode: "by_moon", SampleMethod: Linear, Period: 1, SamplesPerPeriod: 1, SamplerNames: []string{"n_occupied"}}, mc.ErrConfiguration},
		{"log period", Params{SampleMode: ByStep, SampleMethod: Log, Period: 1, SamplesPerPeriod: 1, SamplerNames: []string{"n_occupied"}}, mc.ErrConfiguration},
		{"zero samples per period", Params{SampleMode: ByStep, SampleMethod: Linear, Period: 1, SamplerNames: []string{"n_occupied"}}, mc.ErrConfiguration},
		{"duplicate sampler", Params{SampleMode: ByStep, SampleMethod: Linear, Period: 1, SamplesPerPeriod: 1, SamplerNames: []string{"n_occupied", "n_occupied"}}, mc.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.params, testFunctions()); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}
