package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
)

var (
	converged = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	cutoff    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	aborted   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const maxPlots = 6

func listRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ReadCompletedRuns(context.Background())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tID\tSTATUS\tCOMPLETED\tCONDITIONS")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.Index,
			r.ID,
			r.Status,
			r.CompletedAt.Format("2006-01-02 15:04:05"),
			conditionsText(r.Conditions),
		)
	}
	return w.Flush()
}

func showSummary(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.Summary(context.Background())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFIXTURE\tCOUNT\tSAMPLES\tOBSERVABLE\tMEAN\tHALF-WIDTH\tSTATUS")
	for _, row := range rows {
		for _, o := range row.Observables {
			mark := ""
			if o.Requested && o.Converged {
				mark = "*"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%.6g\t%.3g%s\t%s\n",
				row.RunIndex, row.Fixture, row.Count, row.NSamples,
				o.Name+":"+o.Component, o.Mean, o.HalfWidth, mark, statusBadge(row))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println("\n* requested precision reached")
	return nil
}

func statusBadge(row resultsio.SummaryRow) string {
	switch {
	case row.RunStatus == mc.RunAborted:
		return aborted.Render(string(row.RunStatus))
	case row.ForcedBy != "":
		return cutoff.Render("cutoff:" + row.ForcedBy)
	default:
		return converged.Render(string(row.Completion))
	}
}

func conditionsText(v mc.ValueMap) string {
	names, values := v.Flatten()
	parts := make([]string, len(names))
	for i := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", names[i], values[i])
	}
	return strings.Join(parts, " ")
}

// readFixture loads the results of fixture label of the run given as a
// command argument. An empty label selects the run's first fixture.
func readFixture(cmd *cobra.Command, arg, label string) (*resultsio.FixtureResults, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid run index %q", arg)
	}
	store, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx := context.Background()
	if label == "" {
		rows, err := store.Summary(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.RunIndex == index {
				label = row.Fixture
				break
			}
		}
		if label == "" {
			return nil, fmt.Errorf("run %d not found", index)
		}
	}
	return store.ReadResults(ctx, index, label)
}

// series is one observable component over the samples of a fixture.
type series struct {
	name   string
	values []float64
}

// selectSeries returns the components named by key, name or
// name:component, or every component when key is empty.
func selectSeries(res *resultsio.FixtureResults, key string) ([]series, error) {
	names := make([]string, 0, len(res.Observations))
	for name := range res.Observations {
		names = append(names, name)
	}
	sort.Strings(names)

	var want, comp string
	if key != "" {
		want, comp, _ = strings.Cut(key, ":")
		if _, ok := res.Observations[want]; !ok {
			return nil, fmt.Errorf("observable %q not sampled by fixture %s (have %v)", want, res.Label, names)
		}
		names = []string{want}
	}

	var out []series
	for _, name := range names {
		s := res.Observations[name]
		for i, c := range s.ComponentNames {
			if comp != "" && c != comp {
				continue
			}
			out = append(out, series{name: name + ":" + c, values: s.Component(i)})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("component %q not found in %s", comp, want)
	}
	return out, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	res, err := readFixture(cmd, args[0], fixtureLabel)
	if err != nil {
		return err
	}
	if len(res.Observations) == 0 {
		return fmt.Errorf("fixture %s has no stored observations", res.Label)
	}
	all, err := selectSeries(res, observable)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", args[0])
	fmt.Printf("fixture: %s\n", res.Label)
	fmt.Printf("completion: %s %s\n", res.Completion.Status, res.Completion.ForcedBy)
	fmt.Printf("samples: %d\n\n", len(res.Counts.Pass))

	if len(all) > maxPlots {
		all = all[:maxPlots]
	}
	for _, s := range all {
		if len(s.values) == 0 {
			continue
		}
		graph := asciigraph.Plot(s.values,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(s.name+" vs sample"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	res, err := readFixture(cmd, args[0], fixtureLabel)
	if err != nil {
		return err
	}
	return writeCSV(os.Stdout, res)
}

// writeCSV writes one row per sample: the sample counters followed by every
// observable component.
func writeCSV(out io.Writer, res *resultsio.FixtureResults) error {
	var all []series
	if len(res.Observations) > 0 {
		var err error
		if all, err = selectSeries(res, ""); err != nil {
			return err
		}
	}

	w := csv.NewWriter(out)

	header := []string{"sample", "step", "pass", "time", "clocktime"}
	for _, s := range all {
		header = append(header, s.name)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	c := res.Counts
	for i := range c.Pass {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatInt(c.Step[i], 10),
			strconv.FormatInt(c.Pass[i], 10),
			strconv.FormatFloat(c.Time[i], 'f', 6, 64),
			strconv.FormatFloat(c.Clocktime[i], 'f', 6, 64),
		}
		for _, s := range all {
			row = append(row, strconv.FormatFloat(s.values[i], 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
