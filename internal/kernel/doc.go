// Package kernel provides a demonstration Monte Carlo kernel: a lattice gas on
// a periodic simple cubic supercell with nearest-neighbour interactions.
//
// Two ensembles are available:
//
//   - [Canonical] swaps the occupants of two random sites, conserving
//     composition.
//   - [SemiGrand] flips the occupant of one site of a binary lattice gas at a
//     fixed exchange chemical potential, given as the param_chem_pot
//     condition.
//
// Moves are accepted with the Metropolis criterion at the temperature
// condition. The kernel also supplies sampling functions and composition
// helpers for the state generator.
package kernel
