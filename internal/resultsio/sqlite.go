package resultsio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/sampling"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_index     INTEGER PRIMARY KEY,
	run_id        TEXT NOT NULL,
	status        TEXT NOT NULL,
	run_data      TEXT NOT NULL,
	completed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	run_index     INTEGER NOT NULL,
	fixture       TEXT NOT NULL,
	counts        TEXT,
	observations  TEXT,
	completion    TEXT NOT NULL,
	confidence    REAL NOT NULL,
	PRIMARY KEY (run_index, fixture),
	FOREIGN KEY (run_index) REFERENCES runs(run_index)
);

CREATE TABLE IF NOT EXISTS trajectory (
	run_index     INTEGER NOT NULL,
	fixture       TEXT NOT NULL,
	sample_index  INTEGER NOT NULL,
	configuration TEXT NOT NULL,
	PRIMARY KEY (run_index, fixture, sample_index),
	FOREIGN KEY (run_index) REFERENCES runs(run_index)
);

CREATE TABLE IF NOT EXISTS summary (
	run_index     INTEGER NOT NULL,
	fixture       TEXT NOT NULL,
	row_json      TEXT NOT NULL,
	PRIMARY KEY (run_index, fixture),
	FOREIGN KEY (run_index) REFERENCES runs(run_index)
);
`

// SQLite stores results in a single SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", mc.ErrIO, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pragma: %w", mc.ErrIO, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pragma fk: %w", mc.ErrIO, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", mc.ErrIO, err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Namespace() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return s.path
	}
	return abs
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Write(ctx context.Context, runIndex int, results *Results, run mc.RunData, opts WriteOptions) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return ioError(runIndex, "marshal run data", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError(runIndex, "begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"observations", "trajectory", "summary"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_index = ?", runIndex); err != nil {
			return ioError(runIndex, "clear "+table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_index, run_id, status, run_data, completed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_index) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			run_data = excluded.run_data,
			completed_at = excluded.completed_at`,
		runIndex, run.ID, string(run.Status), string(runJSON), run.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return ioError(runIndex, "upsert run", err)
	}

	for _, f := range results.Fixtures {
		var counts, observations sql.NullString
		if opts.WriteObservations && f.Observations != nil {
			c, err := json.Marshal(f.Counts)
			if err != nil {
				return ioError(runIndex, f.Label, err)
			}
			o, err := json.Marshal(f.Observations)
			if err != nil {
				return ioError(runIndex, f.Label, err)
			}
			counts = sql.NullString{String: string(c), Valid: true}
			observations = sql.NullString{String: string(o), Valid: true}
		}
		comp, err := json.Marshal(f.Completion)
		if err != nil {
			return ioError(runIndex, f.Label, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO observations (run_index, fixture, counts, observations, completion, confidence)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runIndex, f.Label, counts, observations, string(comp), f.Confidence,
		)
		if err != nil {
			return ioError(runIndex, f.Label, fmt.Errorf("insert observations: %w", err))
		}

		if opts.WriteTrajectory {
			for i, cfg := range f.Trajectory {
				data, err := json.Marshal(cfg)
				if err != nil {
					return ioError(runIndex, f.Label, err)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO trajectory (run_index, fixture, sample_index, configuration) VALUES (?, ?, ?, ?)`,
					runIndex, f.Label, i, string(data),
				); err != nil {
					return ioError(runIndex, f.Label, fmt.Errorf("insert trajectory: %w", err))
				}
			}
		}
	}

	for _, row := range SummaryRows(runIndex, results, run) {
		data, err := json.Marshal(row)
		if err != nil {
			return ioError(runIndex, row.Fixture, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary (run_index, fixture, row_json) VALUES (?, ?, ?)`,
			runIndex, row.Fixture, string(data),
		); err != nil {
			return ioError(runIndex, row.Fixture, fmt.Errorf("insert summary: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return ioError(runIndex, "commit", err)
	}
	return nil
}

func (s *SQLite) ReadCompletedRuns(ctx context.Context) ([]mc.RunData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_data FROM runs ORDER BY run_index`)
	if err != nil {
		return nil, fmt.Errorf("%w: query runs: %w", mc.ErrIO, err)
	}
	defer rows.Close()

	var runs []mc.RunData
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", mc.ErrIO, err)
		}
		var run mc.RunData
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, fmt.Errorf("%w: decode run: %w", mc.ErrIO, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", mc.ErrIO, err)
	}
	return runs, nil
}

func (s *SQLite) ReadResults(ctx context.Context, runIndex int, label string) (*FixtureResults, error) {
	var counts, observations sql.NullString
	var comp string
	res := &FixtureResults{Label: label, Observations: map[string]*sampling.Sampler{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT counts, observations, completion, confidence FROM observations WHERE run_index = ? AND fixture = ?`,
		runIndex, label,
	).Scan(&counts, &observations, &comp, &res.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ioError(runIndex, label, fmt.Errorf("no results stored"))
	}
	if err != nil {
		return nil, ioError(runIndex, label, err)
	}
	if counts.Valid {
		if err := json.Unmarshal([]byte(counts.String), &res.Counts); err != nil {
			return nil, ioError(runIndex, label, err)
		}
	}
	if observations.Valid {
		if err := json.Unmarshal([]byte(observations.String), &res.Observations); err != nil {
			return nil, ioError(runIndex, label, err)
		}
	}
	if err := json.Unmarshal([]byte(comp), &res.Completion); err != nil {
		return nil, ioError(runIndex, label, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT configuration FROM trajectory WHERE run_index = ? AND fixture = ? ORDER BY sample_index`,
		runIndex, label,
	)
	if err != nil {
		return nil, ioError(runIndex, label, err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, ioError(runIndex, label, err)
		}
		cfg := &mc.Configuration{}
		if err := json.Unmarshal([]byte(data), cfg); err != nil {
			return nil, ioError(runIndex, label, err)
		}
		res.Trajectory = append(res.Trajectory, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(runIndex, label, err)
	}
	return res, nil
}

func (s *SQLite) Summary(ctx context.Context) ([]SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT row_json FROM summary ORDER BY run_index, fixture`)
	if err != nil {
		return nil, fmt.Errorf("%w: query summary: %w", mc.ErrIO, err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scan summary: %w", mc.ErrIO, err)
		}
		var row SummaryRow
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("%w: decode summary: %w", mc.ErrIO, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", mc.ErrIO, err)
	}
	return out, nil
}
