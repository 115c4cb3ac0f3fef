package excel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"gosens/ports"

	"github.com/xuri/excelize/v2"
)

// ErrUnknownName is returned when a name is neither a defined name nor a
// Sheet!Cell reference
var ErrUnknownName = errors.New("unknown workbook name")

// Workbook exposes an .xlsx model to the sampling run. Cells are addressed by
// defined name or by Sheet!A1 reference. Reads evaluate formulas against the
// current cell values, so an output reflects the inputs written before it.
type Workbook struct {
	mu    sync.Mutex
	f     *excelize.File
	path  string
	names map[string]cellRange
}

var (
	_ ports.ModelPort  = (*Workbook)(nil)
	_ ports.SpecSource = (*Workbook)(nil)
)

// OpenWorkbook opens the workbook at path
func OpenWorkbook(path string) (*Workbook, error) {
	start := time.Now()
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	wb := NewWorkbook(f, path)
	log.Printf("[Workbook] Opened %s in %.2fms (%d defined names)",
		path, float64(time.Since(start).Nanoseconds())/1e6, len(wb.names))
	return wb, nil
}

// NewWorkbook wraps an already open file. path is where Save writes; it may
// be empty for workbooks that are never saved.
func NewWorkbook(f *excelize.File, path string) *Workbook {
	wb := &Workbook{f: f, path: path, names: make(map[string]cellRange)}
	for _, dn := range f.GetDefinedName() {
		ref, err := parseReference(dn.RefersTo)
		if err != nil {
			log.Printf("[Workbook] Ignoring defined name %s: %v", dn.Name, err)
			continue
		}
		wb.names[strings.ToLower(dn.Name)] = ref
	}
	return wb
}

// Path is the file Save writes to
func (w *Workbook) Path() string {
	return w.path
}

// Get evaluates the named cell and parses it as a number
func (w *Workbook) Get(ctx context.Context, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ref, err := w.resolveCell(name)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	raw, err := w.value(ref.Sheet, ref.Col1, ref.Row1)
	w.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read %s (%s): %w", name, ref, err)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%s) holds %q", ports.ErrNonNumeric, name, ref, raw)
	}
	return v, nil
}

// Set writes a number into the named cell
func (w *Workbook) Set(ctx context.Context, name string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := w.resolveCell(name)
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(ref.Col1, ref.Row1)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.SetCellFloat(ref.Sheet, cell, value, -1, 64); err != nil {
		return fmt.Errorf("write %s (%s): %w", name, ref, err)
	}
	return nil
}

// ReadRange returns the evaluated cells of a named range row by row, trimmed
func (w *Workbook) ReadRange(ctx context.Context, name string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := w.resolve(name)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rows := make([][]string, 0, ref.Row2-ref.Row1+1)
	for r := ref.Row1; r <= ref.Row2; r++ {
		row := make([]string, 0, ref.Col2-ref.Col1+1)
		for c := ref.Col1; c <= ref.Col2; c++ {
			v, err := w.value(ref.Sheet, c, r)
			if err != nil {
				return nil, fmt.Errorf("read range %s (%s): %w", name, ref, err)
			}
			row = append(row, strings.TrimSpace(v))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Save writes the workbook back to its path
func (w *Workbook) Save() error {
	if w.path == "" {
		return errors.New("workbook has no path to save to")
	}
	return w.SaveAs(w.path)
}

// SaveAs writes the workbook to path
func (w *Workbook) SaveAs(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Close releases the underlying file
func (w *Workbook) Close() error {
	return w.f.Close()
}

func (w *Workbook) resolve(name string) (cellRange, error) {
	if ref, ok := w.names[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ref, nil
	}
	if strings.Contains(name, "!") {
		return parseReference(name)
	}
	return cellRange{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
}

func (w *Workbook) resolveCell(name string) (cellRange, error) {
	ref, err := w.resolve(name)
	if err != nil {
		return cellRange{}, err
	}
	if !ref.single() {
		return cellRange{}, fmt.Errorf("%s refers to the range %s, not a single cell", name, ref)
	}
	return ref, nil
}

// value reads a cell, evaluating its formula if it has one. Callers hold mu.
func (w *Workbook) value(sheet string, col, row int) (string, error) {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	formula, err := w.f.GetCellFormula(sheet, cell)
	if err != nil {
		return "", err
	}
	opts := excelize.Options{RawCellValue: true}
	if formula != "" {
		return w.f.CalcCellValue(sheet, cell, opts)
	}
	return w.f.GetCellValue(sheet, cell, opts)
}
