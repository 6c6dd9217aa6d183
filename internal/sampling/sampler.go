package sampling

import (
	"fmt"
	"time"

	"github.com/san-kum/mcrun/internal/mc"
)

// Sampler holds the samples of one observable, one vector per sample.
type Sampler struct {
	ComponentNames []string    `json:"component_names"`
	Values         [][]float64 `json:"value"`
}

func (s *Sampler) NSamples() int { return len(s.Values) }

func (s *Sampler) NComponents() int { return len(s.ComponentNames) }

// Component returns the series of component i.
func (s *Sampler) Component(i int) []float64 {
	out := make([]float64, len(s.Values))
	for n, v := range s.Values {
		out[n] = v[i]
	}
	return out
}

// ComponentIndex returns the index of a component name, or -1.
func (s *Sampler) ComponentIndex(name string) int {
	for i, c := range s.ComponentNames {
		if c == name {
			return i
		}
	}
	return -1
}

// Counts records the counters at each sample.
type Counts struct {
	Step      []int64   `json:"step"`
	Pass      []int64   `json:"pass"`
	Time      []float64 `json:"time"`
	Clocktime []float64 `json:"clocktime"`
}

// StateSampler tracks step, pass and time counters, decides when samples are
// due and records them.
type StateSampler struct {
	params    Params
	functions []mc.StateSamplingFunction

	stepsPerPass int64
	step         int64
	time         float64
	start        time.Time
	now          func() time.Time

	next       int64
	hasSampled bool
	lastCount  float64

	samplers   map[string]*Sampler
	counts     Counts
	trajectory []*mc.Configuration
}

// New returns a StateSampler for params. Every sampler name must be
// registered in functions.
func New(params Params, functions *mc.FunctionMap) (*StateSampler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := functions.Require(params.SamplerNames); err != nil {
		return nil, err
	}
	s := &StateSampler{params: params, now: time.Now}
	for _, name := range params.SamplerNames {
		f, _ := functions.Get(name)
		s.functions = append(s.functions, f)
	}
	s.Reset(1)
	return s, nil
}

func (s *StateSampler) Params() Params { return s.params }

// Reset clears all counters and samples for a new run.
func (s *StateSampler) Reset(stepsPerPass int64) {
	if stepsPerPass < 1 {
		stepsPerPass = 1
	}
	s.stepsPerPass = stepsPerPass
	s.step = 0
	s.time = 0
	s.start = s.now()
	s.next = 0
	s.hasSampled = false
	s.lastCount = 0
	s.samplers = make(map[string]*Sampler, len(s.functions))
	s.counts = Counts{}
	s.trajectory = nil
}

// IncrementStep records one kernel step.
func (s *StateSampler) IncrementStep() { s.step++ }

// AdvanceTime records elapsed simulated time.
func (s *StateSampler) AdvanceTime(dt float64) { s.time += dt }

func (s *StateSampler) Step() int64 { return s.step }

func (s *StateSampler) Pass() int64 { return s.step / s.stepsPerPass }

func (s *StateSampler) Time() float64 { return s.time }

// Clocktime returns wall-clock seconds since Reset.
func (s *StateSampler) Clocktime() float64 { return s.now().Sub(s.start).Seconds() }

// Count returns the step or pass count, depending on the sample mode. Time
// mode counts passes.
func (s *StateSampler) Count() int64 {
	if s.params.SampleMode == ByStep {
		return s.step
	}
	return s.Pass()
}

func (s *StateSampler) counter() float64 {
	switch s.params.SampleMode {
	case ByStep:
		return float64(s.step)
	case ByTime:
		return s.time
	default:
		return float64(s.Pass())
	}
}

// IsDue reports whether the next scheduled sample is due at counter.
func (s *StateSampler) IsDue(counter float64) bool {
	if s.hasSampled && counter <= s.lastCount {
		return false
	}
	return counter >= s.params.SampleAt(s.next)
}

// ShouldSample reports whether a sample is due at the current counters.
func (s *StateSampler) ShouldSample() bool { return s.IsDue(s.counter()) }

// NextSampleAt returns the counter value of the next scheduled sample.
func (s *StateSampler) NextSampleAt() float64 { return s.params.SampleAt(s.next) }

// Sample evaluates every sampling function on state and records the result.
// All scheduled samples at or below the current counter are consumed.
func (s *StateSampler) Sample(state *mc.State) error {
	values := make([][]float64, len(s.functions))
	for i, f := range s.functions {
		v := f.Func(state)
		if existing, ok := s.samplers[f.Name]; ok && existing.NComponents() != len(v) {
			return &mc.KeyError{
				Key:  f.Name,
				Kind: mc.ErrSampling,
				Msg:  fmt.Sprintf("sampling function returned %d components, expected %d", len(v), existing.NComponents()),
			}
		}
		values[i] = append([]float64(nil), v...)
	}
	for i, f := range s.functions {
		sp, ok := s.samplers[f.Name]
		if !ok {
			sp = &Sampler{ComponentNames: mc.ComponentNames(f, len(values[i]))}
			s.samplers[f.Name] = sp
		}
		sp.Values = append(sp.Values, values[i])
	}

	s.counts.Step = append(s.counts.Step, s.step)
	s.counts.Pass = append(s.counts.Pass, s.Pass())
	s.counts.Time = append(s.counts.Time, s.time)
	s.counts.Clocktime = append(s.counts.Clocktime, s.Clocktime())
	if s.params.SampleTrajectory {
		s.trajectory = append(s.trajectory, state.Configuration.Clone())
	}

	c := s.counter()
	for s.params.SampleAt(s.next) <= c {
		s.next++
	}
	s.hasSampled = true
	s.lastCount = c
	return nil
}

// SampleIfDue samples state when a sample is due and reports whether it did.
func (s *StateSampler) SampleIfDue(state *mc.State) (bool, error) {
	if !s.ShouldSample() {
		return false, nil
	}
	return true, s.Sample(state)
}

func (s *StateSampler) NSamples() int { return len(s.counts.Step) }

func (s *StateSampler) Sampler(name string) (*Sampler, bool) {
	sp, ok := s.samplers[name]
	return sp, ok
}

func (s *StateSampler) Samplers() map[string]*Sampler { return s.samplers }

func (s *StateSampler) Counts() Counts { return s.counts }

func (s *StateSampler) Trajectory() []*mc.Configuration { return s.trajectory }
