package automation

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/config"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
)

func writeCampaign(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.GetPreset("quick")
	cfg.Fixtures[0].Completion.Cutoff.MaxCount = completion.Ptr[int64](20)
	cfg.Results.Path = "ignored"
	require.NoError(t, config.Save(filepath.Join(dir, "b.yaml"), cfg))

	path := filepath.Join(dir, "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: smoke
runs:
  - name: a
    preset: quick
    seed: 3
    output: out/a
  - name: b
    config: b.yaml
    seed: 4
    output: out/b
`), 0644))
	return path
}

func TestRunCampaign(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadCampaign(writeCampaign(t, dir))
	require.NoError(t, err)

	results, err := RunCampaign(context.Background(), c, dir, slog.Default())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, []int{0, 1}, r.Report.Completed, r.Name)

		store, err := resultsio.Open("json", filepath.Join(dir, "out", r.Name))
		require.NoError(t, err)
		runs, err := store.ReadCompletedRuns(context.Background())
		require.NoError(t, err)
		assert.Len(t, runs, 2, r.Name)
		store.Close()
	}
	assert.NoDirExists(t, filepath.Join(dir, "ignored"))

	// resuming a finished campaign runs nothing
	c.Resume = true
	results, err = RunCampaign(context.Background(), c, dir, slog.Default())
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, 2, r.Resumed, r.Name)
		assert.Empty(t, r.Report.Completed, r.Name)
	}
}

func TestCampaign_Configs(t *testing.T) {
	dir := t.TempDir()
	c := &Campaign{Runs: []CampaignRun{{Name: "heat", Preset: "heating"}}}
	cfgs, err := c.Configs(dir)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, filepath.Join(dir, config.DefaultResultsPath, "heat"), cfgs[0].Results.Path)
}

func TestCampaign_Validate(t *testing.T) {
	c := &Campaign{Runs: []CampaignRun{
		{Name: "a", Preset: "quick"},
		{Name: "a", Preset: "quick", Config: "run.yaml"},
		{Name: "c", Preset: "nonexistent"},
		{Preset: "quick"},
	}}
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, mc.ErrConfiguration)
	for _, want := range []string{"runs[1].name", "runs[1]:", "runs[2].preset", "runs[3].name"} {
		assert.Contains(t, err.Error(), want)
	}

	assert.Error(t, (&Campaign{}).Validate())
}
