package mc

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds for run management.
var (
	// ErrConfiguration indicates malformed or inconsistent run parameters.
	ErrConfiguration = errors.New("mc: configuration error")

	// ErrSampling indicates a sampler name with no registered sampling function.
	ErrSampling = fmt.Errorf("%w: sampling", ErrConfiguration)

	// ErrInputParse indicates one or more invalid input values.
	ErrInputParse = errors.New("mc: input parse error")

	// ErrConvergenceConfiguration indicates that no cutoff or convergence
	// criterion can ever complete a run.
	ErrConvergenceConfiguration = errors.New("mc: no reachable completion criteria")

	// ErrKernel indicates the stepping kernel faulted mid-run.
	ErrKernel = errors.New("mc: kernel fault")

	// ErrIO indicates a persistence failure.
	ErrIO = errors.New("mc: results i/o failure")

	// ErrSequenceExhausted is returned by state generators with no states left.
	ErrSequenceExhausted = errors.New("mc: state sequence exhausted")
)

// ConfigError returns an ErrConfiguration error for key.
func ConfigError(key, format string, args ...any) error {
	return &KeyError{Key: key, Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// KeyError is an error attributed to a named key or observable.
type KeyError struct {
	Key  string
	Kind error
	Msg  string
}

func (e *KeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%v: %q: %s", e.Kind, e.Key, e.Msg)
}

func (e *KeyError) Unwrap() error { return e.Kind }

// RunError wraps an error raised while processing one run of a sequence.
type RunError struct {
	RunIndex int
	Key      string
	Kind     error
	Err      error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %d", e.RunIndex)
	if e.Key != "" {
		fmt.Fprintf(&b, " (%s)", e.Key)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	return b.String()
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FieldError is one invalid input key.
type FieldError struct {
	Key string
	Msg string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Msg)
}

// ParseError accumulates every invalid key found while parsing an input so
// that all problems are reported together.
type ParseError struct {
	Fields []FieldError
}

// Add records a field error.
func (e *ParseError) Add(key, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Key: key, Msg: fmt.Sprintf(format, args...)})
}

// Merge records every field of other under prefix.
func (e *ParseError) Merge(prefix string, other error) {
	if other == nil {
		return
	}
	var pe *ParseError
	if errors.As(other, &pe) {
		for _, f := range pe.Fields {
			key := f.Key
			if prefix != "" {
				key = prefix + "." + key
			}
			e.Fields = append(e.Fields, FieldError{Key: key, Msg: f.Msg})
		}
		return
	}
	e.Add(prefix, "%v", other)
}

// Err returns nil when no field errors were recorded.
func (e *ParseError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ParseError) Error() string {
	lines := make([]string, 0, len(e.Fields)+1)
	lines = append(lines, fmt.Sprintf("%v (%d):", ErrInputParse, len(e.Fields)))
	for _, f := range e.Fields {
		lines = append(lines, "  "+f.Error())
	}
	return strings.Join(lines, "\n")
}

func (e *ParseError) Unwrap() error { return ErrInputParse }
