// Package sensornotes renders human-readable notes for a labeling run.
package sensornotes

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// BuildRunNotes turns a run analysis into a markdown summary.
func BuildRunNotes(a *Analysis) string {
	if a == nil {
		return ""
	}

	var b strings.Builder

	title := a.SensorID
	if title == "" {
		title = "unknown sensor"
	}
	fmt.Fprintf(&b, "# Sensor run: %s\n\n", title)
	if a.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", a.Model)
	}
	if !a.StartTime.IsZero() {
		fmt.Fprintf(
			&b,
			"Recording: %s to %s (%s)\n",
			a.StartTime.Format("2006-01-02 15:04:05"),
			a.EndTime.Format("2006-01-02 15:04:05"),
			formatDuration(a.ElapsedSeconds),
		)
		fmt.Fprintf(&b, "Rows: %s at %d rows/s\n", humanize.Comma(int64(a.Rows)), a.RowsPerSecond)
	} else {
		fmt.Fprintf(&b, "Rows: %s (no absolute timestamps)\n", humanize.Comma(int64(a.Rows)))
	}
	if len(a.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(a.Channels, ", "))
	}

	if len(a.Labels) > 0 {
		b.WriteString("\n## Labels\n\n")
		b.WriteString("| Label | Rows | Windows |\n|---|---:|---:|\n")
		for _, c := range a.Labels {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", displayLabel(c.Label), humanize.Comma(int64(c.Rows)), humanize.Comma(int64(c.Windows)))
		}
	}

	b.WriteString("\n## Windows\n\n")
	fmt.Fprintf(
		&b,
		"- %s windows: %s labeled, %s unlabeled.\n",
		humanize.Comma(int64(a.Windows)),
		humanize.Comma(int64(a.LabeledWindows)),
		humanize.Comma(int64(a.UnlabeledWindows)),
	)
	if a.MissingWindows > 0 {
		fmt.Fprintf(&b, "- %s windows contain missing values and were not classified.\n", humanize.Comma(int64(a.MissingWindows)))
	}

	b.WriteString("\n## Predictions\n\n")
	switch {
	case len(a.Predictions) == 0:
		b.WriteString("- No predictions: classification needs both labeled and unlabeled windows.\n")
	default:
		for _, c := range a.Predictions {
			fmt.Fprintf(&b, "- %s: %s windows\n", displayLabel(c.Label), humanize.Comma(int64(c.Windows)))
		}
	}
	if len(a.Spans) > 0 {
		b.WriteString("\n| Begin | End | Label | Avg probability |\n|---|---|---|---:|\n")
		for _, s := range a.Spans {
			fmt.Fprintf(
				&b,
				"| %s | %s | %s | %.3f |\n",
				s.Begin.Format("2006-01-02 15:04:05"),
				s.End.Format("2006-01-02 15:04:05"),
				s.Label,
				s.AverageProbability,
			)
		}
	} else if len(a.Predictions) > 0 {
		b.WriteString("- No prediction run met the confidence and length thresholds.\n")
	}

	return strings.TrimSpace(b.String()) + "\n"
}

func displayLabel(label string) string {
	if label == "" {
		return UnlabeledName
	}
	return label
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
