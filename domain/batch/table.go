// Package batch holds the tabular results of a sampling run.
package batch

import "fmt"

// Table is a row-major table of float64 values with named columns.
// Column names may repeat; lookups by name return the first match.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// NewTable creates a table with capacity for size rows
func NewTable(columns []string, size int) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	if size < 0 {
		size = 0
	}
	return &Table{Columns: cols, Rows: make([][]float64, 0, size)}
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Width returns the number of columns
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Append adds one row; its width must match the column count
func (t *Table) Append(row []float64) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// ColumnIndex returns the position of the first column called name, or -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColumnAt copies the values of column i
func (t *Table) ColumnAt(i int) []float64 {
	out := make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Column copies the values of the first column called name
func (t *Table) Column(name string) ([]float64, bool) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	return t.ColumnAt(i), true
}

// Row returns the values of row i keyed by column name.
// With duplicate column names the later value wins.
func (t *Table) Row(i int) map[string]float64 {
	out := make(map[string]float64, len(t.Columns))
	for c, name := range t.Columns {
		out[name] = t.Rows[i][c]
	}
	return out
}

// FromColumns builds a table from equally long column slices
func FromColumns(names []string, columns [][]float64) (*Table, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("%d names for %d columns", len(names), len(columns))
	}
	size := 0
	if len(columns) > 0 {
		size = len(columns[0])
	}
	for i, col := range columns {
		if len(col) != size {
			return nil, fmt.Errorf("column %q has %d values, expected %d", names[i], len(col), size)
		}
	}

	t := NewTable(names, size)
	for r := 0; r < size; r++ {
		row := make([]float64, len(columns))
		for c := range columns {
			row[c] = columns[c][r]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Outcomes is the output table of a run. SourceRows[k] is the input row that
// produced Rows[k]; rows whose injection failed have no entry, so Len() can be
// smaller than the input table.
type Outcomes struct {
	Table
	SourceRows []int `json:"source_rows"`
}

// NewOutcomes creates an empty outcome table
func NewOutcomes(columns []string, size int) *Outcomes {
	t := NewTable(columns, size)
	if size < 0 {
		size = 0
	}
	return &Outcomes{Table: *t, SourceRows: make([]int, 0, size)}
}

// Len returns the number of retained rows
func (o *Outcomes) Len() int {
	if o == nil {
		return 0
	}
	return len(o.Rows)
}
