package main

import (
	"fmt"
	"io"
	"strings"

	"qgate/internal/engine"
	"qgate/internal/errors"
	"qgate/internal/output"
	"qgate/internal/version"
)

// writeReport renders v to w. Human rendering is defined for reports; any
// other value falls back to JSON.
func writeReport(w io.Writer, v interface{}, format output.Format) error {
	switch format {
	case output.FormatJSON:
		return output.WriteJSON(w, v)
	case output.FormatYAML:
		return output.WriteYAML(w, v)
	case output.FormatHuman:
		if rep, ok := v.(*engine.Report); ok {
			_, err := io.WriteString(w, formatReportHuman(rep))
			return err
		}
		return output.WriteJSON(w, v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// formatReportHuman formats an evaluation report for a terminal
func formatReportHuman(rep *engine.Report) string {
	var b strings.Builder
	d := rep.Decision

	verdict := "ADMITTED"
	if !d.Passed {
		verdict = "REJECTED"
	}
	b.WriteString(fmt.Sprintf("qgate v%s: %s\n", version.Version, verdict))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	b.WriteString(fmt.Sprintf("Base: %s  Head: %s  Level: %d\n", shortRev(rep.BaseRev), shortRev(rep.HeadRev), rep.Level))
	b.WriteString(fmt.Sprintf("Analysis: %s, %d changed (ratio %s), %d files at head\n\n",
		rep.Analysis.Mode, rep.Analysis.Changed, output.FormatFloat(rep.Analysis.ChangeRatio), rep.Analysis.Stats.HeadFiles))

	b.WriteString("Quality:\n")
	b.WriteString(fmt.Sprintf("  Q(base):  %s / %s\n", output.FormatFloat(d.QBase), output.FormatFloat(d.QMax)))
	b.WriteString(fmt.Sprintf("  Q(head):  %s / %s\n", output.FormatFloat(d.QHead), output.FormatFloat(d.QMax)))
	b.WriteString(fmt.Sprintf("  Delta Q:  %s (epsilon %s)\n", signed(d.DeltaQ), output.FormatFloat(d.Epsilon)))
	pcq := fmt.Sprintf("  PCQ:      %s (tau %s", output.FormatFloat(d.PCQHead), output.FormatFloat(d.Tau))
	if d.Bottleneck != "" {
		pcq += ", bottleneck " + d.Bottleneck
	}
	b.WriteString(pcq + ")\n\n")

	if len(d.Constraints) > 0 {
		b.WriteString("Hard Constraints:\n")
		for _, c := range d.Constraints {
			icon := "✓"
			if !c.Passed {
				icon = "✗"
			}
			b.WriteString(fmt.Sprintf("  %s %s: %s %s = %s (limit %s)\n",
				icon, c.Name, c.Dimension, c.Metric, output.FormatFloat(c.Actual), output.FormatFloat(c.Limit)))
		}
		b.WriteString("\n")
	}

	if len(d.Violations) > 0 {
		b.WriteString("Violations:\n")
		for _, v := range d.Violations {
			b.WriteString(fmt.Sprintf("  - [%s] %s\n", v.Kind, v.Message))
		}
		b.WriteString("\n")
	}

	if len(d.Witness) > 0 {
		b.WriteString("Fix First:\n")
		for i, w := range d.Witness {
			target := w.Target
			if w.Module != "" {
				target += " (" + w.Module + ")"
			}
			b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, target))
			b.WriteString(fmt.Sprintf("     %s, est. %s Q [%s]\n", w.Action, signed(w.EstimatedDeltaQ), strings.Join(w.Criteria, ", ")))
		}
		b.WriteString("\n")
	}

	if len(d.Degraded) > 0 {
		b.WriteString(fmt.Sprintf("Degraded: %d files excluded from scoring\n", len(d.Degraded)))
		for _, p := range d.Degraded[:min(10, len(d.Degraded))] {
			b.WriteString(fmt.Sprintf("  - %s\n", p))
		}
		if len(d.Degraded) > 10 {
			b.WriteString(fmt.Sprintf("  ... and %d more\n", len(d.Degraded)-10))
		}
		b.WriteString("\n")
	}

	for _, w := range d.Warnings {
		b.WriteString(fmt.Sprintf("⚠ %s\n", w))
	}

	if rep.Meta != nil {
		status := "reproduced"
		if !rep.Meta.Reproduced {
			status = "NOT reproduced"
		}
		b.WriteString(fmt.Sprintf("Meta-check (level %d): %s\n", rep.Meta.Level, status))
	}

	b.WriteString(fmt.Sprintf("Policy: %s\n", shortRev(d.PolicyDigest)))
	return b.String()
}

// formatErrorHuman formats a failed evaluation with its suggested fixes
func formatErrorHuman(outcome errors.Outcome, gerr *errors.GateError, err error) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("qgate: %s: %v\n", outcome, err))
	if gerr.Details != nil {
		b.WriteString(fmt.Sprintf("  details: %v\n", gerr.Details))
	}
	for _, fix := range gerr.SuggestedFixes {
		if fix.Command != "" {
			b.WriteString(fmt.Sprintf("  try: %s (%s)\n", fix.Command, fix.Description))
		}
	}
	return b.String()
}

func signed(f float64) string {
	s := output.FormatFloat(f)
	if !strings.HasPrefix(s, "-") && s != "0" {
		s = "+" + s
	}
	return s
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
