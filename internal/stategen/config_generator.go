package stategen

import (
	"github.com/san-kum/mcrun/internal/mc"
)

// ConfigGenerator produces the initial configuration for a run given its
// conditions and the runs completed so far.
type ConfigGenerator interface {
	Generate(conditions mc.ValueMap, completed []mc.RunData) (*mc.Configuration, error)
}

// FixedConfigGenerator always returns a copy of the same configuration.
type FixedConfigGenerator struct {
	config *mc.Configuration
}

func NewFixedConfigGenerator(config *mc.Configuration) *FixedConfigGenerator {
	return &FixedConfigGenerator{config: config.Clone()}
}

func (g *FixedConfigGenerator) Generate(mc.ValueMap, []mc.RunData) (*mc.Configuration, error) {
	if g.config == nil {
		return nil, mc.ConfigError("initial_configuration", "no fixed configuration")
	}
	return g.config.Clone(), nil
}

// ConfigGeneratorFunc adapts a function to ConfigGenerator.
type ConfigGeneratorFunc func(conditions mc.ValueMap, completed []mc.RunData) (*mc.Configuration, error)

func (f ConfigGeneratorFunc) Generate(conditions mc.ValueMap, completed []mc.RunData) (*mc.Configuration, error) {
	return f(conditions, completed)
}
