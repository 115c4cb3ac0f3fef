// Package report renders a finished run as markdown and HTML.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gosens/domain/core"
	"gosens/domain/summary"
	"gosens/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Writer stores each report as <path> (markdown) and <path> with an .html
// extension. Each run overwrites the previous report.
type Writer struct {
	path string
}

var _ ports.ReportWriter = (*Writer)(nil)

// NewWriter creates a writer targeting path
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// HTMLPath is where the rendered page goes
func (w *Writer) HTMLPath() string {
	return strings.TrimSuffix(w.path, filepath.Ext(w.path)) + ".html"
}

// WriteReport renders and writes both files
func (w *Writer) WriteReport(ctx context.Context, run *ports.RunRecord, report *summary.Report, failures []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	md := Markdown(run, report, failures)
	page := HTML(md, fmt.Sprintf("Sensitivity run %s", run.ID))

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(w.path, md, 0o644); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	if err := os.WriteFile(w.HTMLPath(), page, 0o644); err != nil {
		return fmt.Errorf("failed to write html report: %w", err)
	}

	log.Printf("[Report] Wrote %s and %s", w.path, w.HTMLPath())
	return nil
}

// Markdown summarises a run: counts, per-column statistics, histograms and
// the rows the model rejected
func Markdown(run *ports.RunRecord, report *summary.Report, failures []string) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# Sensitivity run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- Started: %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Specification: `%s`\n", core.Hash(run.SpecHash).Short())
	fmt.Fprintf(&b, "- Samples: %d\n", run.Size)
	fmt.Fprintf(&b, "- Succeeded: %d\n", run.Succeeded)
	fmt.Fprintf(&b, "- Failed: %d\n", run.Failed)
	fmt.Fprintf(&b, "- Elapsed: %s\n", (time.Duration(run.ElapsedMS) * time.Millisecond).String())
	if run.Canceled {
		b.WriteString("- **Canceled before all samples were processed**\n")
	}
	if run.ExportTo != "" {
		fmt.Fprintf(&b, "- Export: `%s`\n", run.ExportTo)
	}
	b.WriteString("\n")

	if report != nil {
		writeStatsTable(&b, "Inputs", report.ByRole(summary.RoleInput))
		writeStatsTable(&b, "Outputs", report.ByRole(summary.RoleOutput))

		b.WriteString("## Histograms\n\n")
		for _, col := range report.Columns {
			prefix := "out"
			if col.Role == summary.RoleInput {
				prefix = "in"
			}
			fmt.Fprintf(&b, "### %s %s\n\n", prefix, escape(col.Name))
			if len(col.Histogram) == 0 {
				b.WriteString("No values.\n\n")
				continue
			}
			b.WriteString("| From | To | Frequency |\n|---:|---:|---:|\n")
			for _, h := range col.Histogram {
				fmt.Fprintf(&b, "| %s | %s | %d |\n", number(h.From), number(h.To), h.Freq)
			}
			b.WriteString("\n")
		}
	}

	if len(failures) > 0 {
		b.WriteString("## Malfunctioning inputs\n\n")
		for _, line := range failures {
			fmt.Fprintf(&b, "- %s\n", escape(line))
		}
		b.WriteString("\n")
	}

	return b.Bytes()
}

// HTML renders markdown as a complete page
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.Render(doc, renderer)
}

func writeStatsTable(b *bytes.Buffer, title string, cols []summary.ColumnSummary) {
	if len(cols) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	b.WriteString("| Name | Count | Mean | Std dev | Min | P5 | Median | P95 | Max |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, c := range cols {
		s := c.Stats
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s | %s | %s | %s |\n",
			escape(c.Name), s.Count, number(s.Mean), number(s.StdDev), number(s.Min),
			number(s.P5), number(s.Median), number(s.P95), number(s.Max))
	}
	b.WriteString("\n")
}

func number(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.4g", v)
}

var markdownEscaper = strings.NewReplacer("|", "\\|", "*", "\\*", "_", "\\_", "`", "\\`")

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
