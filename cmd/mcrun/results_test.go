package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/sampling"
)

func testResults() *resultsio.FixtureResults {
	return &resultsio.FixtureResults{
		Label: "thermo",
		Observations: map[string]*sampling.Sampler{
			"potential_energy": {ComponentNames: []string{"0"}, Values: [][]float64{{-0.5}, {-0.25}}},
			"mol_composition":  {ComponentNames: []string{"A", "B"}, Values: [][]float64{{0.5, 0.5}, {0.25, 0.75}}},
		},
		Counts: sampling.Counts{
			Step:      []int64{64, 128},
			Pass:      []int64{1, 2},
			Time:      []float64{1, 2},
			Clocktime: []float64{0.01, 0.02},
		},
	}
}

func TestSelectSeries(t *testing.T) {
	res := testResults()

	all, err := selectSeries(res, "")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range all {
		names = append(names, s.name)
	}
	if got := strings.Join(names, ","); got != "mol_composition:A,mol_composition:B,potential_energy:0" {
		t.Errorf("unexpected series %s", got)
	}

	one, err := selectSeries(res, "mol_composition:B")
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].values[1] != 0.75 {
		t.Errorf("expected mol_composition:B, got %+v", one)
	}

	if _, err := selectSeries(res, "entropy"); err == nil {
		t.Error("expected error for unknown observable")
	}
	if _, err := selectSeries(res, "mol_composition:C"); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, testResults()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "sample,step,pass,time,clocktime,mol_composition:A,mol_composition:B,potential_energy:0" {
		t.Errorf("unexpected header %s", lines[0])
	}
	if lines[2] != "1,128,2,2.000000,0.020000,0.250000,0.750000,-0.250000" {
		t.Errorf("unexpected row %s", lines[2])
	}
}
