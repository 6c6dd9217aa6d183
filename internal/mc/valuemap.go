package mc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// ValueMap holds named scalar and vector values. A name is either a scalar or
// a vector, never both.
type ValueMap struct {
	scalars map[string]float64
	vectors map[string][]float64
}

// NewValueMap returns an empty ValueMap.
func NewValueMap() ValueMap {
	return ValueMap{
		scalars: make(map[string]float64),
		vectors: make(map[string][]float64),
	}
}

func (m *ValueMap) init() {
	if m.scalars == nil {
		m.scalars = make(map[string]float64)
	}
	if m.vectors == nil {
		m.vectors = make(map[string][]float64)
	}
}

// SetScalar sets a scalar value. It fails if name is already a vector.
func (m *ValueMap) SetScalar(name string, v float64) error {
	m.init()
	if _, ok := m.vectors[name]; ok {
		return ConfigError(name, "already present as a vector value")
	}
	m.scalars[name] = v
	return nil
}

// SetVector sets a vector value. It fails if name is already a scalar.
func (m *ValueMap) SetVector(name string, v []float64) error {
	m.init()
	if _, ok := m.scalars[name]; ok {
		return ConfigError(name, "already present as a scalar value")
	}
	c := make([]float64, len(v))
	copy(c, v)
	m.vectors[name] = c
	return nil
}

// Scalar returns the scalar value for name.
func (m ValueMap) Scalar(name string) (float64, bool) {
	v, ok := m.scalars[name]
	return v, ok
}

// Vector returns the vector value for name. The returned slice must not be
// modified.
func (m ValueMap) Vector(name string) ([]float64, bool) {
	v, ok := m.vectors[name]
	return v, ok
}

// Values returns name as a vector, with scalars as a one-element vector.
func (m ValueMap) Values(name string) ([]float64, bool) {
	if v, ok := m.scalars[name]; ok {
		return []float64{v}, true
	}
	v, ok := m.vectors[name]
	return v, ok
}

// Has reports whether name is present as either kind.
func (m ValueMap) Has(name string) bool {
	_, s := m.scalars[name]
	_, v := m.vectors[name]
	return s || v
}

// Delete removes name.
func (m *ValueMap) Delete(name string) {
	delete(m.scalars, name)
	delete(m.vectors, name)
}

// Len returns the number of names.
func (m ValueMap) Len() int { return len(m.scalars) + len(m.vectors) }

// ScalarNames returns scalar names in sorted order.
func (m ValueMap) ScalarNames() []string { return sortedKeys(m.scalars) }

// VectorNames returns vector names in sorted order.
func (m ValueMap) VectorNames() []string { return sortedKeys(m.vectors) }

// Names returns all names in sorted order.
func (m ValueMap) Names() []string {
	names := append(m.ScalarNames(), m.VectorNames()...)
	sort.Strings(names)
	return names
}

func (m ValueMap) Clone() ValueMap {
	c := NewValueMap()
	for k, v := range m.scalars {
		c.scalars[k] = v
	}
	for k, v := range m.vectors {
		vc := make([]float64, len(v))
		copy(vc, v)
		c.vectors[k] = vc
	}
	return c
}

// Equal reports whether both maps hold the same names and values within tol.
func (m ValueMap) Equal(other ValueMap, tol float64) bool {
	if m.IsMismatched(other) {
		return false
	}
	for k, v := range m.scalars {
		if math.Abs(v-other.scalars[k]) > tol {
			return false
		}
	}
	for k, v := range m.vectors {
		ov := other.vectors[k]
		for i := range v {
			if math.Abs(v[i]-ov[i]) > tol {
				return false
			}
		}
	}
	return true
}

// IsMismatched reports whether the two maps differ in names, kinds or vector
// sizes.
func (m ValueMap) IsMismatched(other ValueMap) bool {
	if len(m.scalars) != len(other.scalars) || len(m.vectors) != len(other.vectors) {
		return true
	}
	for k := range m.scalars {
		if _, ok := other.scalars[k]; !ok {
			return true
		}
	}
	for k, v := range m.vectors {
		ov, ok := other.vectors[k]
		if !ok || len(ov) != len(v) {
			return true
		}
	}
	return false
}

// Incremented returns m + k*increment. Names absent from increment are held
// constant. Every name in increment must exist in m with the same kind and
// size.
func (m ValueMap) Incremented(increment ValueMap, k int) (ValueMap, error) {
	out := m.Clone()
	f := float64(k)
	for name, d := range increment.scalars {
		v, ok := m.scalars[name]
		if !ok {
			return ValueMap{}, ConfigError(name, "increment has no matching scalar value")
		}
		out.scalars[name] = v + f*d
	}
	for name, d := range increment.vectors {
		v, ok := m.vectors[name]
		if !ok {
			return ValueMap{}, ConfigError(name, "increment has no matching vector value")
		}
		if len(v) != len(d) {
			return ValueMap{}, ConfigError(name, "increment size %d != value size %d", len(d), len(v))
		}
		nv := out.vectors[name]
		for i := range v {
			nv[i] = v[i] + f*d[i]
		}
	}
	return out, nil
}

// Flatten returns name/value pairs with vector components suffixed by index,
// in sorted name order.
func (m ValueMap) Flatten() ([]string, []float64) {
	var keys []string
	var vals []float64
	for _, name := range m.Names() {
		if v, ok := m.scalars[name]; ok {
			keys = append(keys, name)
			vals = append(vals, v)
			continue
		}
		for i, v := range m.vectors[name] {
			keys = append(keys, fmt.Sprintf("%s(%d)", name, i))
			vals = append(vals, v)
		}
	}
	return keys, vals
}

func (m ValueMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, m.Len())
	for k, v := range m.scalars {
		out[k] = v
	}
	for k, v := range m.vectors {
		out[k] = v
	}
	return json.Marshal(out)
}

func (m *ValueMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = NewValueMap()
	for k, r := range raw {
		var s float64
		if err := json.Unmarshal(r, &s); err == nil {
			m.scalars[k] = s
			continue
		}
		var v []float64
		if err := json.Unmarshal(r, &v); err != nil {
			return fmt.Errorf("value %q: expected number or array of numbers", k)
		}
		m.vectors[k] = v
	}
	return nil
}

func (m ValueMap) MarshalYAML() (any, error) {
	out := make(map[string]any, m.Len())
	for k, v := range m.scalars {
		out[k] = v
	}
	for k, v := range m.vectors {
		out[k] = v
	}
	return out, nil
}

func (m *ValueMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of values", node.Line)
	}
	*m = NewValueMap()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			var s float64
			if err := val.Decode(&s); err != nil {
				return fmt.Errorf("line %d: value %q: %w", val.Line, key, err)
			}
			m.scalars[key] = s
		case yaml.SequenceNode:
			var v []float64
			if err := val.Decode(&v); err != nil {
				return fmt.Errorf("line %d: value %q: %w", val.Line, key, err)
			}
			m.vectors[key] = v
		default:
			return fmt.Errorf("line %d: value %q: expected number or list of numbers", val.Line, key)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
