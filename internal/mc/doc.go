// Package mc provides the core data types shared by the Monte Carlo run
// management packages.
//
//   - [ValueMap]: named scalar and vector values (conditions, properties)
//   - [Configuration]: supercell occupation, opaque to run management
//   - [State]: configuration + conditions + calculated properties
//   - [RunData]: immutable record of one completed run
//   - [Kernel]: the external stepping kernel
//   - [FunctionMap]: registry of named sampling functions
//
// # Errors
//
// Error kinds are sentinel values ([ErrConfiguration], [ErrInputParse], ...).
// Errors raised during a run are wrapped in [RunError], which carries the run
// index and the offending key and matches both its kind and its cause with
// errors.Is.
package mc
