package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/san-kum/mcrun/internal/run"
)

const width = 70

// PrintStatus writes a plain-text rendering of s, for terminals without
// the full monitor.
func PrintStatus(w io.Writer, s *run.Status) {
	var b strings.Builder
	fmt.Fprintf(&b, "  run %d  %s  %s\n", s.RunIndex, shortID(s.RunID), s.Phase)
	b.WriteString("  " + strings.Repeat("-", width) + "\n")

	names, values := s.Conditions.Flatten()
	for i := range names {
		fmt.Fprintf(&b, "  %s=%.4g", names[i], values[i])
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "  step=%d pass=%d time=%.2f clocktime=%.1fs\n", s.Step, s.Pass, s.Time, s.Clocktime)

	for _, f := range s.Fixtures {
		status := string(f.Completion)
		if f.ForcedBy != "" {
			status += " (" + f.ForcedBy + ")"
		}
		fmt.Fprintf(&b, "\n  [%s] count=%d samples=%d %s\n", f.Label, f.Count, f.NSamples, status)
		for _, o := range f.Observables {
			mark := " "
			if o.Converged {
				mark = "*"
			}
			fmt.Fprintf(&b, "   %s %-28s %12.6g ± %-10.3g %s\n",
				mark, o.Name+":"+o.Component, o.Estimate.Mean, o.Estimate.HalfWidth, precisionText(o.Precision))
		}
	}
	b.WriteString("  " + strings.Repeat("-", width) + "\n")
	fmt.Fprintf(&b, "  updated %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))

	io.WriteString(w, b.String())
}
