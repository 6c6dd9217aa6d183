package mc

import (
	"fmt"
	"sort"
)

// StateSamplingFunction evaluates a named observable of a State.
type StateSamplingFunction struct {
	Name           string
	Description    string
	ComponentNames []string
	Func           func(state *State) []float64
}

// FunctionMap is a registry of sampling functions keyed by name.
type FunctionMap struct {
	funcs map[string]StateSamplingFunction
}

func NewFunctionMap(fns ...StateSamplingFunction) *FunctionMap {
	m := &FunctionMap{funcs: make(map[string]StateSamplingFunction)}
	for _, f := range fns {
		m.Register(f)
	}
	return m
}

// Register adds or replaces f. Functions without component names get "0",
// "1", ... when first evaluated.
func (m *FunctionMap) Register(f StateSamplingFunction) {
	m.funcs[f.Name] = f
}

// Get returns the sampling function for name.
func (m *FunctionMap) Get(name string) (StateSamplingFunction, error) {
	f, ok := m.funcs[name]
	if !ok {
		return StateSamplingFunction{}, &KeyError{Key: name, Kind: ErrSampling, Msg: "unknown sampling function"}
	}
	return f, nil
}

// Require checks that every name is registered and reports all missing names.
func (m *FunctionMap) Require(names []string) error {
	var missing ParseError
	for _, n := range names {
		if _, ok := m.funcs[n]; !ok {
			missing.Add(n, "unknown sampling function")
		}
	}
	if missing.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSampling, missing.Err())
	}
	return nil
}

func (m *FunctionMap) List() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComponentNames returns f's component names, defaulting to indices for n
// components.
func ComponentNames(f StateSamplingFunction, n int) []string {
	if len(f.ComponentNames) == n {
		return f.ComponentNames
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%d", i)
	}
	return names
}
