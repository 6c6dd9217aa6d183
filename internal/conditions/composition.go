package conditions

import (
	"fmt"
	"math"
)

// Converter converts parametric composition to number of each component per
// unit cell: mol = origin + sum_i param[i] * (endMember[i] - origin).
type Converter struct {
	Components []string    `yaml:"components" json:"components"`
	Origin     []float64   `yaml:"origin" json:"origin"`
	EndMembers [][]float64 `yaml:"end_members" json:"end_members"`
}

func NewConverter(components []string, origin []float64, endMembers ...[]float64) (*Converter, error) {
	c := &Converter{Components: components, Origin: origin, EndMembers: endMembers}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Converter) Validate() error {
	n := len(c.Components)
	if n == 0 {
		return fmt.Errorf("composition: no components")
	}
	if len(c.Origin) != n {
		return fmt.Errorf("composition: origin has %d values, expected %d", len(c.Origin), n)
	}
	for i, e := range c.EndMembers {
		if len(e) != n {
			return fmt.Errorf("composition: end member %s has %d values, expected %d", AxisName(i), len(e), n)
		}
		if math.Abs(sum(e)-sum(c.Origin)) > sumTol {
			return fmt.Errorf("composition: end member %s does not sum to %g", AxisName(i), sum(c.Origin))
		}
	}
	return nil
}

// Total is the number of sites per unit cell every composition sums to.
func (c *Converter) Total() float64 { return sum(c.Origin) }

func (c *Converter) Axes() []string {
	axes := make([]string, len(c.EndMembers))
	for i := range axes {
		axes[i] = AxisName(i)
	}
	return axes
}

func (c *Converter) ComponentIndex(name string) int {
	for i, n := range c.Components {
		if n == name {
			return i
		}
	}
	return -1
}

// MolComposition converts parametric composition to mol composition.
func (c *Converter) MolComposition(param []float64) []float64 {
	mol := make([]float64, len(c.Origin))
	copy(mol, c.Origin)
	c.addAxes(mol, param)
	return mol
}

// MolCompositionIncrement converts a parametric composition change to a mol
// composition change. The result sums to zero.
func (c *Converter) MolCompositionIncrement(dparam []float64) []float64 {
	mol := make([]float64, len(c.Origin))
	c.addAxes(mol, dparam)
	return mol
}

func (c *Converter) addAxes(mol, param []float64) {
	for i, p := range param {
		if i >= len(c.EndMembers) {
			break
		}
		for j := range mol {
			mol[j] += p * (c.EndMembers[i][j] - c.Origin[j])
		}
	}
}

// AxisName returns "a", "b", ... for axis i.
func AxisName(i int) string {
	return string(rune('a' + i))
}

const sumTol = 1e-6

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}
