package resultsio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/sampling"
)

const (
	runDataFile      = "run_data.json"
	observationsFile = "observations.json"
	trajectoryFile   = "trajectory.json"
	completionFile   = "completion.json"
	summaryFile      = "summary.json"
	runDirPrefix     = "run."
)

// Dir stores results as JSON files:
//
//	<root>/run.<i>/run_data.json
//	<root>/run.<i>/<label>/observations.json
//	<root>/run.<i>/<label>/trajectory.json
//	<root>/run.<i>/<label>/completion.json
//	<root>/summary.json
type Dir struct {
	root string
	mu   sync.Mutex
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", mc.ErrIO, root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Namespace() string {
	abs, err := filepath.Abs(d.root)
	if err != nil {
		return d.root
	}
	return abs
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) Close() error { return nil }

// RunDir returns the directory of run i.
func (d *Dir) RunDir(i int) string {
	return filepath.Join(d.root, runDirPrefix+strconv.Itoa(i))
}

type observationsDoc struct {
	Counts       sampling.Counts              `json:"counts"`
	Observations map[string]*sampling.Sampler `json:"observations"`
}

func (d *Dir) Write(ctx context.Context, runIndex int, results *Results, run mc.RunData, opts WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range results.Fixtures {
		if err := validLabel(f.Label); err != nil {
			return &mc.RunError{RunIndex: runIndex, Key: f.Label, Kind: mc.ErrConfiguration, Err: err}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tmp, err := os.MkdirTemp(d.root, fmt.Sprintf(".%s%d-*", runDirPrefix, runIndex))
	if err != nil {
		return ioError(runIndex, "create temp dir", err)
	}
	defer os.RemoveAll(tmp)

	if err := WriteJSONAtomic(filepath.Join(tmp, runDataFile), run); err != nil {
		return ioError(runIndex, runDataFile, err)
	}
	for _, f := range results.Fixtures {
		dir := filepath.Join(tmp, f.Label)
		if opts.WriteObservations && f.Observations != nil {
			doc := observationsDoc{Counts: f.Counts, Observations: f.Observations}
			if err := WriteJSONAtomic(filepath.Join(dir, observationsFile), doc); err != nil {
				return ioError(runIndex, f.Label+"/"+observationsFile, err)
			}
		}
		if opts.WriteTrajectory && len(f.Trajectory) > 0 {
			if err := WriteJSONAtomic(filepath.Join(dir, trajectoryFile), f.Trajectory); err != nil {
				return ioError(runIndex, f.Label+"/"+trajectoryFile, err)
			}
		}
		doc := completionDoc{Report: f.Completion, Confidence: f.Confidence}
		if err := WriteJSONAtomic(filepath.Join(dir, completionFile), doc); err != nil {
			return ioError(runIndex, f.Label+"/"+completionFile, err)
		}
	}

	final := d.RunDir(runIndex)
	if err := os.RemoveAll(final); err != nil {
		return ioError(runIndex, "remove previous output", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return ioError(runIndex, "rename run dir", err)
	}

	rows, err := d.readSummary()
	if err != nil {
		return ioError(runIndex, summaryFile, err)
	}
	kept := rows[:0]
	for _, r := range rows {
		if r.RunIndex != runIndex {
			kept = append(kept, r)
		}
	}
	kept = append(kept, SummaryRows(runIndex, results, run)...)
	sortRows(kept)
	if err := WriteJSONAtomic(filepath.Join(d.root, summaryFile), kept); err != nil {
		return ioError(runIndex, summaryFile, err)
	}
	return nil
}

type completionDoc struct {
	Report     completion.Report `json:"report"`
	Confidence float64           `json:"confidence"`
}

func (d *Dir) ReadCompletedRuns(ctx context.Context) ([]mc.RunData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", mc.ErrIO, d.root, err)
	}
	var runs []mc.RunData
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runDirPrefix) {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(e.Name(), runDirPrefix)); err != nil {
			continue
		}
		var run mc.RunData
		if err := readJSON(filepath.Join(d.root, e.Name(), runDataFile), &run); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", mc.ErrIO, err)
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Index < runs[j].Index })
	return runs, nil
}

func (d *Dir) ReadResults(ctx context.Context, runIndex int, label string) (*FixtureResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validLabel(label); err != nil {
		return nil, &mc.RunError{RunIndex: runIndex, Key: label, Kind: mc.ErrConfiguration, Err: err}
	}
	dir := filepath.Join(d.RunDir(runIndex), label)
	if _, err := os.Stat(dir); err != nil {
		return nil, ioError(runIndex, label, err)
	}

	res := &FixtureResults{Label: label, Observations: map[string]*sampling.Sampler{}}
	var obs observationsDoc
	switch err := readJSON(filepath.Join(dir, observationsFile), &obs); {
	case err == nil:
		res.Counts = obs.Counts
		if obs.Observations != nil {
			res.Observations = obs.Observations
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, ioError(runIndex, label+"/"+observationsFile, err)
	}
	if err := readJSON(filepath.Join(dir, trajectoryFile), &res.Trajectory); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioError(runIndex, label+"/"+trajectoryFile, err)
	}
	var comp completionDoc
	if err := readJSON(filepath.Join(dir, completionFile), &comp); err != nil {
		return nil, ioError(runIndex, label+"/"+completionFile, err)
	}
	res.Completion = comp.Report
	res.Confidence = comp.Confidence
	return res, nil
}

func (d *Dir) Summary(ctx context.Context) ([]SummaryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.readSummary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mc.ErrIO, err)
	}
	return rows, nil
}

// Labels lists the fixture labels stored for run i.
func (d *Dir) Labels(i int) ([]string, error) {
	entries, err := os.ReadDir(d.RunDir(i))
	if err != nil {
		return nil, ioError(i, "list fixtures", err)
	}
	var labels []string
	for _, e := range entries {
		if e.IsDir() {
			labels = append(labels, e.Name())
		}
	}
	return labels, nil
}

func (d *Dir) readSummary() ([]SummaryRow, error) {
	var rows []SummaryRow
	if err := readJSON(filepath.Join(d.root, summaryFile), &rows); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

func validLabel(label string) error {
	if label == "" || label == "." || label == ".." || strings.ContainsAny(label, `/\`) || strings.HasPrefix(label, ".") {
		return fmt.Errorf("invalid fixture label %q", label)
	}
	return nil
}

func ioError(runIndex int, key string, err error) error {
	return &mc.RunError{RunIndex: runIndex, Key: key, Kind: mc.ErrIO, Err: err}
}
