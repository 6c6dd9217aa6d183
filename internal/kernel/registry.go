package kernel

import (
	"fmt"
	"sort"
)

// Registry maps kernel names to constructors.
type Registry struct {
	kernels map[string]func(Params) (*LatticeGas, error)
}

func NewRegistry() *Registry {
	r := &Registry{kernels: make(map[string]func(Params) (*LatticeGas, error))}

	r.kernels["lattice_gas_canonical"] = func(p Params) (*LatticeGas, error) { return NewLatticeGas(Canonical, p) }
	r.kernels["lattice_gas_semigrand"] = func(p Params) (*LatticeGas, error) { return NewLatticeGas(SemiGrand, p) }

	return r
}

func (r *Registry) Get(name string, params Params) (*LatticeGas, error) {
	fn, ok := r.kernels[name]
	if !ok {
		return nil, fmt.Errorf("unknown kernel: %s", name)
	}
	return fn(params)
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
