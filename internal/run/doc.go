// Package run drives Monte Carlo runs.
//
//   - [Fixture]: a sampler, a completion check and an output policy
//   - [Manager]: steps a kernel until its fixtures are complete
//   - [MethodLog]: periodic status.json progress file
//   - [Sequence]: runs every state of a state generator in order
//   - [Parallel]: independent sequences on separate goroutines
//
// A run stops when any fixture is complete (or every fixture, with
// RequireAllFixtures) or a global cutoff is hit. A kernel fault aborts the
// run: the samples gathered so far are stored with status aborted and the
// error is returned. Cancellation is checked after every kernel step.
package run
