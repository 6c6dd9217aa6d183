package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/mcrun/internal/config"
	"github.com/san-kum/mcrun/internal/experiment"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/run"
)

// Campaign is a set of independent sequences run concurrently, each from a
// run file or a preset and each writing to its own results store.
type Campaign struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Resume      bool          `yaml:"resume"`
	Runs        []CampaignRun `yaml:"runs"`
}

type CampaignRun struct {
	Name   string `yaml:"name"`
	Config string `yaml:"config,omitempty"`
	Preset string `yaml:"preset,omitempty"`
	Seed   *int64 `yaml:"seed,omitempty"`
	// Output overrides results.path. Runs from presets default to
	// results/<name>.
	Output string `yaml:"output,omitempty"`
}

// CampaignResult is the outcome of one sequence of a campaign.
type CampaignResult struct {
	Name    string
	Resumed int
	Report  run.Report
}

func LoadCampaign(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mc.ErrConfiguration, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Campaign) Validate() error {
	var perr mc.ParseError
	if len(c.Runs) == 0 {
		perr.Add("runs", "at least one run is required")
	}
	seen := make(map[string]bool)
	for i, r := range c.Runs {
		key := fmt.Sprintf("runs[%d]", i)
		switch {
		case r.Name == "":
			perr.Add(key+".name", "required")
		case seen[r.Name]:
			perr.Add(key+".name", "duplicate name %q", r.Name)
		}
		seen[r.Name] = true
		if (r.Config == "") == (r.Preset == "") {
			perr.Add(key, "exactly one of config and preset is required")
		}
		if r.Preset != "" && config.GetPreset(r.Preset) == nil {
			perr.Add(key+".preset", "unknown preset %q", r.Preset)
		}
	}
	if err := perr.Err(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfiguration, err)
	}
	return nil
}

// Configs loads the run file of every run. Relative paths are resolved
// against baseDir.
func (c *Campaign) Configs(baseDir string) ([]*config.Config, error) {
	cfgs := make([]*config.Config, 0, len(c.Runs))
	for _, r := range c.Runs {
		var cfg *config.Config
		if r.Preset != "" {
			cfg = config.GetPreset(r.Preset)
			if r.Output == "" {
				cfg.Results.Path = filepath.Join(config.DefaultResultsPath, r.Name)
			}
		} else {
			var err error
			cfg, err = config.Load(resolve(baseDir, r.Config))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", r.Name, err)
			}
		}
		if r.Output != "" {
			cfg.Results.Path = r.Output
		}
		cfg.Results.Path = resolve(baseDir, cfg.Results.Path)
		if r.Seed != nil {
			cfg.Seed = *r.Seed
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// RunCampaign runs every sequence of c concurrently. The first failure
// cancels the others.
func RunCampaign(ctx context.Context, c *Campaign, baseDir string, logger *slog.Logger) ([]CampaignResult, error) {
	cfgs, err := c.Configs(baseDir)
	if err != nil {
		return nil, err
	}

	results := make([]CampaignResult, len(cfgs))
	jobs := make([]run.Job, 0, len(cfgs))
	for i, cfg := range cfgs {
		name := c.Runs[i].Name
		exp, err := experiment.New(cfg, experiment.WithLogger(logger.With("job", name)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer exp.Close()

		results[i].Name = name
		if c.Resume {
			n, err := exp.Resume(ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			results[i].Resumed = n
		}
		jobs = append(jobs, exp.Job(name))
	}

	logger.Info("campaign started", "name", c.Name, "sequences", len(jobs))
	reports, err := run.Parallel(ctx, jobs)
	for i := range reports {
		results[i].Report = reports[i]
	}
	if err != nil {
		return results, err
	}
	logger.Info("campaign finished", "name", c.Name)
	return results, nil
}
