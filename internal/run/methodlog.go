package run

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
)

const StatusFile = "status.json"

type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
	PhaseAborted  Phase = "aborted"
)

// FixtureStatus is the progress of one fixture.
type FixtureStatus struct {
	Label       string                        `json:"label"`
	Count       int64                         `json:"count"`
	NSamples    int                           `json:"n_samples"`
	Completion  completion.Status             `json:"completion"`
	ForcedBy    string                        `json:"forced_by,omitempty"`
	Observables []completion.ObservableReport `json:"observables,omitempty"`
}

// Status is the progress record written by a MethodLog.
type Status struct {
	Phase      Phase           `json:"phase"`
	RunIndex   int             `json:"run_index"`
	RunID      string          `json:"run_id"`
	Conditions mc.ValueMap     `json:"conditions"`
	Step       int64           `json:"step"`
	Pass       int64           `json:"pass"`
	Time       float64         `json:"time"`
	Clocktime  float64         `json:"clocktime"`
	Fixtures   []FixtureStatus `json:"fixtures"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MethodLog rewrites a status file at a wall-clock interval. Write failures
// are logged and never affect the run.
type MethodLog struct {
	path     string
	interval time.Duration
	last     time.Time
	now      func() time.Time
	logger   *slog.Logger
}

func NewMethodLog(path string, interval time.Duration, logger *slog.Logger) *MethodLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MethodLog{path: path, interval: interval, now: time.Now, logger: logger}
}

func (l *MethodLog) Path() string { return l.path }

// Begin starts a new interval.
func (l *MethodLog) Begin() { l.last = l.now() }

// Due reports whether the interval has elapsed.
func (l *MethodLog) Due() bool {
	return l.now().Sub(l.last) >= l.interval
}

// Update writes the status built by fn if the interval has elapsed.
func (l *MethodLog) Update(fn func() Status) {
	if !l.Due() {
		return
	}
	l.Write(fn())
}

// Write writes status unconditionally and restarts the interval.
func (l *MethodLog) Write(status Status) {
	l.last = l.now()
	status.UpdatedAt = l.last
	if err := resultsio.WriteJSONAtomic(l.path, status); err != nil {
		l.logger.Warn("method log write failed", "path", l.path, "error", err)
	}
}

// ReadStatus reads a status file written by a MethodLog.
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mc.ErrIO, err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mc.ErrIO, path, err)
	}
	return &s, nil
}
