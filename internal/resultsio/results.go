// Package resultsio persists run results and reads them back for resumed
// sequences.
//
// Two stores are provided:
//   - [Dir] writes JSON files under a directory, one run.<index> directory
//     per run plus a top-level summary.json.
//   - [SQLite] writes the same records to one SQLite database.
//
// Both overwrite a run's output when it is written again, so a resumed
// sequence never duplicates runs.
package resultsio

import (
	"context"
	"sort"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/sampling"
)

// FixtureResults is what one sampling fixture collected during a run.
type FixtureResults struct {
	Label        string                       `json:"label"`
	Observations map[string]*sampling.Sampler `json:"observations"`
	Counts       sampling.Counts              `json:"counts"`
	Trajectory   []*mc.Configuration          `json:"-"`
	Completion   completion.Report            `json:"completion"`
	Confidence   float64                      `json:"confidence"`
}

// Results holds every fixture of one run, in fixture order.
type Results struct {
	Fixtures []FixtureResults
}

func (r *Results) Fixture(label string) (*FixtureResults, bool) {
	for i := range r.Fixtures {
		if r.Fixtures[i].Label == label {
			return &r.Fixtures[i], true
		}
	}
	return nil, false
}

type WriteOptions struct {
	WriteTrajectory   bool `yaml:"write_trajectory" json:"write_trajectory"`
	WriteObservations bool `yaml:"write_observations" json:"write_observations"`
}

func DefaultWriteOptions() WriteOptions {
	return WriteOptions{WriteObservations: true}
}

// ResultsIO stores run output keyed by run index.
type ResultsIO interface {
	// Write stores results and run metadata for runIndex, replacing any
	// previous output for that index.
	Write(ctx context.Context, runIndex int, results *Results, run mc.RunData, opts WriteOptions) error
	// ReadCompletedRuns returns one RunData per stored run, by index.
	ReadCompletedRuns(ctx context.Context) ([]mc.RunData, error)
	// ReadResults returns the stored output of one fixture of one run.
	ReadResults(ctx context.Context, runIndex int, label string) (*FixtureResults, error)
	// Summary returns one row per run and fixture.
	Summary(ctx context.Context) ([]SummaryRow, error)
	// Namespace identifies where output goes; concurrent sequences must
	// use distinct namespaces.
	Namespace() string
	Close() error
}

// ObservableSummary is the final estimate of one observable component.
type ObservableSummary struct {
	Name      string  `json:"name"`
	Component string  `json:"component"`
	N         int     `json:"n"`
	Mean      float64 `json:"mean"`
	StdError  float64 `json:"std_error"`
	HalfWidth float64 `json:"half_width"`
	Requested bool    `json:"requested"`
	Converged bool    `json:"converged"`
}

// SummaryRow is the final state of one fixture of one run.
type SummaryRow struct {
	RunIndex    int                 `json:"run_index"`
	RunID       string              `json:"run_id"`
	RunStatus   mc.RunStatus        `json:"run_status"`
	Fixture     string              `json:"fixture"`
	Conditions  mc.ValueMap         `json:"conditions"`
	Completion  completion.Status   `json:"completion"`
	ForcedBy    string              `json:"forced_by,omitempty"`
	Count       int64               `json:"count"`
	NSamples    int                 `json:"n_samples"`
	Observables []ObservableSummary `json:"observables"`
}

// SummaryRows builds the summary rows of one run. Observables with a
// requested precision carry the estimate and verdict of the last completion
// check. Other sampled components get a normal-estimator mean over the full
// series at the fixture's confidence, when observations were kept.
func SummaryRows(runIndex int, results *Results, run mc.RunData) []SummaryRow {
	rows := make([]SummaryRow, 0, len(results.Fixtures))
	for _, f := range results.Fixtures {
		row := SummaryRow{
			RunIndex:   runIndex,
			RunID:      run.ID,
			RunStatus:  run.Status,
			Fixture:    f.Label,
			Conditions: run.Conditions,
			Completion: f.Completion.Status,
			ForcedBy:   f.Completion.ForcedBy,
			Count:      f.Completion.Count,
			NSamples:   f.Completion.NSamples,
		}
		requested := make(map[[2]string]bool)
		for _, o := range f.Completion.Observables {
			requested[[2]string{o.Name, o.Component}] = true
			row.Observables = append(row.Observables, ObservableSummary{
				Name:      o.Name,
				Component: o.Component,
				N:         o.Estimate.N,
				Mean:      o.Estimate.Mean,
				StdError:  o.Estimate.StdError,
				HalfWidth: o.Estimate.HalfWidth,
				Requested: true,
				Converged: o.Converged,
			})
		}
		conf := f.Confidence
		if conf <= 0 || conf >= 1 {
			conf = completion.DefaultParams().Confidence
		}
		for _, name := range sortedNames(f.Observations) {
			sp := f.Observations[name]
			for i, comp := range sp.ComponentNames {
				if requested[[2]string{name, comp}] {
					continue
				}
				est := completion.EstimatorNormal.Estimate(sp.Component(i), conf)
				row.Observables = append(row.Observables, ObservableSummary{
					Name:      name,
					Component: comp,
					N:         est.N,
					Mean:      est.Mean,
					StdError:  est.StdError,
					HalfWidth: est.HalfWidth,
				})
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Open returns the store for kind "json" (a directory at path) or "sqlite"
// (a database file at path).
func Open(kind, path string) (ResultsIO, error) {
	switch kind {
	case "", "json":
		d, err := NewDir(path)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, mc.ConfigError("store", "unknown results store %q (expected json or sqlite)", kind)
	}
}

func sortRows(rows []SummaryRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RunIndex != rows[j].RunIndex {
			return rows[i].RunIndex < rows[j].RunIndex
		}
		return rows[i].Fixture < rows[j].Fixture
	})
}

func sortedNames(m map[string]*sampling.Sampler) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
