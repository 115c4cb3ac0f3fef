package excel

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gosens/domain/batch"
	"gosens/domain/summary"
	"gosens/ports"

	"github.com/xuri/excelize/v2"
)

const (
	inputsSheet  = "Inputs"
	outputsSheet = "Outputs"

	// Excel rejects longer sheet names
	maxSheetName = 31
)

// Exporter writes the batches and histograms of a run to a new workbook:
// Inputs, Outputs, then one "in <variable>" or "out <output>" sheet per column.
type Exporter struct {
	path string
}

var _ ports.ResultExporter = (*Exporter)(nil)

// NewExporter creates an exporter writing to path
func NewExporter(path string) *Exporter {
	return &Exporter{path: path}
}

// Path is the file Export writes to
func (e *Exporter) Path() string {
	return e.path
}

// Export overwrites the workbook at the exporter's path
func (e *Exporter) Export(ctx context.Context, inputs *batch.Table, outcomes *batch.Outcomes, report *summary.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", inputsSheet); err != nil {
		return err
	}
	if inputs != nil {
		index := make([]int, inputs.Len())
		for i := range index {
			index[i] = i
		}
		if err := writeBatch(f, inputsSheet, inputs, index, header); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(outputsSheet); err != nil {
		return err
	}
	if outcomes != nil {
		if err := writeBatch(f, outputsSheet, &outcomes.Table, outcomes.SourceRows, header); err != nil {
			return err
		}
	}

	if report != nil {
		used := map[string]bool{strings.ToLower(inputsSheet): true, strings.ToLower(outputsSheet): true}
		for _, col := range report.Columns {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := "out "
			if col.Role == summary.RoleInput {
				prefix = "in "
			}
			sheet := uniqueSheetName(sheetName(prefix+col.Name), used)
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("create sheet %q: %w", sheet, err)
			}
			if err := writeHistogram(f, sheet, col, header); err != nil {
				return err
			}
		}
	}

	if dir := filepath.Dir(e.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := f.SaveAs(e.path); err != nil {
		return fmt.Errorf("failed to save export: %w", err)
	}

	log.Printf("[Exporter] Wrote %s (%d sheets)", e.path, len(f.GetSheetList()))
	return nil
}

// writeBatch writes a header row then one row per sample, led by its row index
func writeBatch(f *excelize.File, sheet string, t *batch.Table, index []int, style int) error {
	head := make([]interface{}, 0, len(t.Columns)+1)
	head = append(head, "row")
	for _, c := range t.Columns {
		head = append(head, c)
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(head), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	for i, values := range t.Rows {
		row := make([]interface{}, 0, len(values)+1)
		if i < len(index) {
			row = append(row, index[i])
		} else {
			row = append(row, i)
		}
		for _, v := range values {
			row = append(row, cellNumber(v))
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// writeHistogram writes the bin table in columns A:C and the statistics in E:F
func writeHistogram(f *excelize.File, sheet string, col summary.ColumnSummary, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{"from", "to", "frequency"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "C1", style); err != nil {
		return err
	}
	for i, h := range col.Histogram {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{cellNumber(h.From), cellNumber(h.To), h.Freq}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	st := col.Stats
	stats := [][]interface{}{
		{"statistic", "value"},
		{"count", st.Count},
		{"mean", st.Mean},
		{"std dev", st.StdDev},
		{"min", st.Min},
		{"p5", st.P5},
		{"median", st.Median},
		{"p95", st.P95},
		{"max", st.Max},
	}
	for i, row := range stats {
		cell, _ := excelize.CoordinatesToCellName(5, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetCellStyle(sheet, "E1", "F1", style)
}

// cellNumber keeps non-finite values out of numeric cells, which Excel cannot
// represent
func cellNumber(v float64) interface{} {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return v
}

var sheetNameReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "(", "]", ")",
)

// sheetName strips characters Excel forbids and truncates to its limit
func sheetName(name string) string {
	name = strings.Trim(sheetNameReplacer.Replace(name), "'")
	if name == "" {
		name = "sheet"
	}
	runes := []rune(name)
	if len(runes) > maxSheetName {
		runes = runes[:maxSheetName]
	}
	return string(runes)
}

// uniqueSheetName suffixes a counter while name collides, case-insensitively
// as Excel compares sheet names
func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		runes := []rune(name)
		if keep := maxSheetName - len(suffix); len(runes) > keep {
			runes = runes[:keep]
		}
		candidate = string(runes) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
