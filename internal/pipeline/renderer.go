package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// maxOutlierRows caps the outlier table in Markdown; JSON keeps every row
const maxOutlierRows = 20

// Renderer writes reports as JSON, Markdown and a terminal summary
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the report as Markdown
func (r *Renderer) RenderMarkdown(report *Report, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Markdown renders the report
func (r *Renderer) Markdown(report *Report) string {
	var b strings.Builder
	c := report.Curve
	d := c.Diagnostics

	fmt.Fprintf(&b, "# ROL curve: %s / %s\n\n", report.Client, report.LOB)
	fmt.Fprintf(&b, "- Run: `%s`\n", report.RunID)
	if report.Source != "" {
		fmt.Fprintf(&b, "- Source: %s\n", report.Source)
	}
	fmt.Fprintf(&b, "- Fitted: %s\n", c.FittedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Policies: %s\n", humanize.Comma(int64(d.Policies)))
	fmt.Fprintf(&b, "- Exposure base: %s\n", c.ExposureBase)
	fmt.Fprintf(&b, "- Interpolation: %s, extrapolation: %s\n\n", c.Interpolation, c.Extrapolation)

	fmt.Fprintf(&b, "## Quality\n\n")
	fmt.Fprintf(&b, "**Index: %d/100** (confidence: %s)\n\n", report.Score.Index, report.Score.Confidence)
	for _, s := range report.Score.Signals {
		fmt.Fprintf(&b, "- %s **%s**: %s\n", severityMark(string(s.Severity)), s.Type, s.Description)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Curve\n\n")
	b.WriteString("| # | Layer | Left rate | Right rate | Band | Policies | Imputed |\n")
	b.WriteString("|---|-------|-----------|------------|------|----------|---------|\n")
	for i, s := range c.Segments {
		n := 0
		if i < len(d.Segments) {
			n = d.Segments[i].N
		}
		imputed := ""
		if s.Imputed {
			imputed = "yes"
		}
		fmt.Fprintf(&b, "| %d | %s – %s | %s | %s | ±%s | %d | %s |\n",
			i, Amount(s.Lo), Amount(s.Hi), Percent(s.LeftRate), Percent(s.RightRate), Percent(s.Band), n, imputed)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Diagnostics\n\n")
	fmt.Fprintf(&b, "- In-sample RMSE: %s\n", Percent(d.RMSE))
	fmt.Fprintf(&b, "- Pooled residual std: %s\n", Percent(d.PooledStd))
	if d.LowerBound > 0 {
		fmt.Fprintf(&b, "- Lower bound: %s (ratio %.2f)\n", Percent(d.LowerBound), d.Ratio)
	}
	fmt.Fprintf(&b, "- Escalation rounds: %d\n", d.Rounds)
	if d.Complexity != nil {
		fmt.Fprintf(&b, "- Selected complexity: %d grid points, anchor strength %g, CV error %s\n",
			d.Complexity.GridPoints, d.Complexity.AnchorStrength, Percent(d.Complexity.CVError))
	}
	for _, w := range d.Warnings {
		fmt.Fprintf(&b, "- ⚠ %s\n", w)
	}
	b.WriteString("\n")

	if report.Selection != nil {
		fmt.Fprintf(&b, "## Complexity sweep\n\n")
		b.WriteString("| Grid | Points | Anchor | CV error | Criterion | Note |\n")
		b.WriteString("|------|--------|--------|----------|-----------|------|\n")
		for _, cs := range report.Selection.Candidates {
			note := cs.Reason
			if cs.Candidate == report.Selection.Chosen.Candidate {
				note = "chosen"
			}
			fmt.Fprintf(&b, "| %s | %d | %g | %s | %.6f | %s |\n",
				cs.Grid, cs.GridPoints, cs.AnchorStrength, Percent(cs.CVError), cs.Criterion, note)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Outliers\n\n")
	if len(report.Outliers) == 0 {
		b.WriteString("No premiums flagged.\n\n")
	} else {
		b.WriteString("| Policy | Segment | Observed | Predicted | z |\n")
		b.WriteString("|--------|---------|----------|-----------|---|\n")
		for i, o := range report.Outliers {
			if i == maxOutlierRows {
				fmt.Fprintf(&b, "\n_%d more not shown._\n", len(report.Outliers)-maxOutlierRows)
				break
			}
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %.2f |\n",
				o.PolicyID, o.Segment, Money(o.Observed), Money(o.Predicted), o.Z)
		}
		b.WriteString("\n")
	}

	if v := report.Validation; v != nil {
		fmt.Fprintf(&b, "## Validation\n\n")
		fmt.Fprintf(&b, "%d rows, %d clean, error rate %.1f%%\n\n", v.Total, len(v.Clean), v.ErrorRate()*100)
		for _, rule := range v.Rules {
			if rule.Failures == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s `%s` on `%s`: %d failures\n", severityMark(passMark(rule.Pass)), rule.Rule, rule.Field, rule.Failures)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderSummary prints a short summary for the terminal
func (r *Renderer) RenderSummary(w io.Writer, report *Report) {
	c := report.Curve
	fmt.Fprintf(w, "%s/%s: index %d/100 (%s), %d segments (%d imputed), RMSE %s, %d outliers, fitted %s\n",
		report.Client, report.LOB, report.Score.Index, report.Score.Confidence,
		len(c.Segments), c.Diagnostics.Imputed(), Percent(c.Diagnostics.RMSE),
		len(report.Outliers), humanize.Time(c.FittedAt))
}

// Amount formats an exposure amount, e.g. 5M or 2.5M
func Amount(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	if math.Abs(v) < 1000 {
		return humanize.Ftoa(v)
	}
	value, prefix := humanize.ComputeSI(v)
	return humanize.Ftoa(math.Round(value*100)/100) + prefix
}

// Money formats a premium with two decimals and thousands separators
func Money(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	whole := d.Truncate(0)
	frac := d.Sub(whole).Abs().StringFixed(2)[1:] // ".xx"
	sign := ""
	if d.IsNegative() && whole.IsZero() {
		sign = "-"
	}
	return sign + humanize.Comma(whole.IntPart()) + frac
}

// Percent formats a rate as a percentage with three decimals
func Percent(rate float64) string {
	return decimal.NewFromFloat(rate).Shift(2).StringFixed(3) + "%"
}

func severityMark(s string) string {
	switch s {
	case "critical", "fail":
		return "✗"
	case "warning":
		return "⚠"
	}
	return "✓"
}

func passMark(pass bool) string {
	if pass {
		return "warning"
	}
	return "fail"
}
