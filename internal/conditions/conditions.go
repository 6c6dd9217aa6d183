// Package conditions parses thermodynamic conditions input into ValueMaps.
//
// Input is a generic mapping, as decoded from YAML or JSON:
//
//	temperature: 300
//	mol_composition: {Zr: 2, Va: 1, O: 1}   # or
//	param_composition: {a: 0.5}              # or [0.5]
//
// Every problem found is collected into a single [mc.ParseError].
package conditions

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/mcrun/internal/mc"
)

const (
	KeyTemperature      = "temperature"
	KeyMolComposition   = "mol_composition"
	KeyParamComposition = "param_composition"
)

// Parse parses conditions for one run.
func Parse(input map[string]any, conv *Converter) (mc.ValueMap, error) {
	return parse(input, conv, false)
}

// ParseIncrement parses a conditions increment. mol_composition increments
// must sum to zero.
func ParseIncrement(input map[string]any, conv *Converter) (mc.ValueMap, error) {
	return parse(input, conv, true)
}

func parse(input map[string]any, conv *Converter, increment bool) (mc.ValueMap, error) {
	var perr mc.ParseError
	out := mc.NewValueMap()

	if v, ok := input[KeyTemperature]; !ok {
		perr.Add(KeyTemperature, "required")
	} else if t, ok := toFloat(v); !ok {
		perr.Add(KeyTemperature, "expected a number, got %T", v)
	} else if !increment && t <= 0 {
		perr.Add(KeyTemperature, "must be positive, got %g", t)
	} else {
		setScalar(&out, &perr, KeyTemperature, t)
	}

	_, hasMol := input[KeyMolComposition]
	_, hasParam := input[KeyParamComposition]
	switch {
	case hasMol && hasParam:
		perr.Add(KeyMolComposition, "only one of %q or %q may be given", KeyMolComposition, KeyParamComposition)
	case hasMol:
		if mol, ok := parseMol(input[KeyMolComposition], conv, increment, &perr); ok {
			setVector(&out, &perr, KeyMolComposition, mol)
		}
	case hasParam:
		if param, ok := parseParam(input[KeyParamComposition], conv, &perr); ok {
			if increment {
				setVector(&out, &perr, KeyMolComposition, conv.MolCompositionIncrement(param))
			} else {
				setVector(&out, &perr, KeyMolComposition, conv.MolComposition(param))
			}
		}
	case conv != nil:
		perr.Add(KeyMolComposition, "missing one of %q or %q", KeyMolComposition, KeyParamComposition)
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == KeyTemperature || k == KeyMolComposition || k == KeyParamComposition {
			continue
		}
		if f, ok := toFloat(input[k]); ok {
			setScalar(&out, &perr, k, f)
		} else if v, ok := toFloats(input[k]); ok {
			setVector(&out, &perr, k, v)
		} else {
			perr.Add(k, "expected a number or list of numbers, got %T", input[k])
		}
	}

	if err := perr.Err(); err != nil {
		return mc.ValueMap{}, err
	}
	return out, nil
}

func setScalar(out *mc.ValueMap, perr *mc.ParseError, key string, v float64) {
	if err := out.SetScalar(key, v); err != nil {
		perr.Add(key, "%v", err)
	}
}

func setVector(out *mc.ValueMap, perr *mc.ParseError, key string, v []float64) {
	if err := out.SetVector(key, v); err != nil {
		perr.Add(key, "%v", err)
	}
}

func parseMol(v any, conv *Converter, increment bool, perr *mc.ParseError) ([]float64, bool) {
	if conv == nil {
		perr.Add(KeyMolComposition, "no composition converter configured")
		return nil, false
	}
	m, ok := toMap(v)
	if !ok {
		perr.Add(KeyMolComposition, "expected a mapping of component name to value, got %T", v)
		return nil, false
	}
	mol := make([]float64, len(conv.Components))
	valid := true
	seen := make(map[string]bool)
	for _, name := range sortedNames(m) {
		idx := conv.ComponentIndex(name)
		if idx < 0 {
			perr.Add(KeyMolComposition+"."+name, "unknown component (expected one of %v)", conv.Components)
			valid = false
			continue
		}
		f, ok := toFloat(m[name])
		if !ok {
			perr.Add(KeyMolComposition+"."+name, "expected a number, got %T", m[name])
			valid = false
			continue
		}
		mol[idx] = f
		seen[name] = true
	}
	for _, name := range conv.Components {
		if !seen[name] {
			if _, present := m[name]; !present {
				perr.Add(KeyMolComposition+"."+name, "missing component")
			}
			valid = false
		}
	}
	if !valid {
		return nil, false
	}
	want := conv.Total()
	if increment {
		want = 0
	}
	if s := sum(mol); math.Abs(s-want) > sumTol {
		perr.Add(KeyMolComposition, "sums to %g, expected %g", s, want)
		return nil, false
	}
	return mol, true
}

func parseParam(v any, conv *Converter, perr *mc.ParseError) ([]float64, bool) {
	if conv == nil {
		perr.Add(KeyParamComposition, "no composition converter configured")
		return nil, false
	}
	axes := conv.Axes()
	if arr, ok := toFloats(v); ok {
		if len(arr) != len(axes) {
			perr.Add(KeyParamComposition, "has %d values, expected %d", len(arr), len(axes))
			return nil, false
		}
		return arr, true
	}
	m, ok := toMap(v)
	if !ok {
		perr.Add(KeyParamComposition, "expected a mapping or list, got %T", v)
		return nil, false
	}
	param := make([]float64, len(axes))
	valid := true
	for _, name := range sortedNames(m) {
		idx := -1
		for i, a := range axes {
			if a == name {
				idx = i
			}
		}
		if idx < 0 {
			perr.Add(KeyParamComposition+"."+name, "unknown composition axis (expected one of %v)", axes)
			valid = false
			continue
		}
		f, ok := toFloat(m[name])
		if !ok {
			perr.Add(KeyParamComposition+"."+name, "expected a number, got %T", m[name])
			valid = false
			continue
		}
		param[idx] = f
	}
	for _, a := range axes {
		if _, ok := m[a]; !ok {
			perr.Add(KeyParamComposition+"."+a, "missing composition axis")
			valid = false
		}
	}
	return param, valid
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func toFloats(v any) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case map[string]float64:
		m := make(map[string]any, len(x))
		for k, f := range x {
			m[k] = f
		}
		return m, true
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = e
		}
		return m, true
	}
	return nil, false
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
