package excel

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"gosens/domain/batch"
	"gosens/domain/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()

	inputs := batch.NewTable([]string{"price", "volume"}, 3)
	require.NoError(t, inputs.Append([]float64{1, 10}))
	require.NoError(t, inputs.Append([]float64{2, 20}))
	require.NoError(t, inputs.Append([]float64{3, 30}))

	outcomes := batch.NewOutcomes([]string{"profit", "profit"}, 2)
	require.NoError(t, outcomes.Append([]float64{10, 10}))
	require.NoError(t, outcomes.Append([]float64{90, 90}))
	outcomes.SourceRows = []int{0, 2}

	report, err := summary.Summarize(ctx, inputs, outcomes)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "sensitivity.xlsx")
	exp := NewExporter(path)
	require.NoError(t, exp.Export(ctx, inputs, outcomes, report))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Inputs", "Outputs", "in price", "in volume", "out profit", "out profit (2)"}, f.GetSheetList())

	rows, err := f.GetRows("Inputs")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"row", "price", "volume"}, rows[0])
	assert.Equal(t, []string{"2", "3", "30"}, rows[3])

	rows, err = f.GetRows("Outputs")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2", "90", "90"}, rows[2])

	rows, err = f.GetRows("in price")
	require.NoError(t, err)
	assert.Equal(t, []string{"from", "to", "frequency", "", "statistic", "value"}, rows[0])
	// sqrt(3) rounds up to 2 bins: leading zero row, two bins, trailing +Inf row
	last := rows[len(rows)-1]
	assert.Equal(t, "inf", last[1])

	count, err := f.GetCellValue("in price", "F2")
	require.NoError(t, err)
	assert.Equal(t, "3", count)
}

func TestExporter_EmptyRun(t *testing.T) {
	ctx := context.Background()
	inputs := batch.NewTable([]string{"price"}, 0)
	outcomes := batch.NewOutcomes([]string{"profit"}, 0)

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, NewExporter(path).Export(ctx, inputs, outcomes, nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Inputs", "Outputs"}, f.GetSheetList())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "out a_b_c", sheetName("out a/b:c"))
	assert.Equal(t, "in (x)", sheetName("in [x]"))
	assert.Equal(t, "sheet", sheetName("''"))

	long := sheetName("out " + strings.Repeat("x", 40))
	assert.Len(t, []rune(long), maxSheetName)

	used := map[string]bool{}
	a := uniqueSheetName(long, used)
	b := uniqueSheetName(long, used)
	assert.Equal(t, long, a)
	assert.True(t, strings.HasSuffix(b, " (2)"))
	assert.Len(t, []rune(b), maxSheetName)
	assert.Equal(t, "Inputs (2)", uniqueSheetName("Inputs", map[string]bool{"inputs": true}))
}

func TestCellNumber(t *testing.T) {
	assert.Equal(t, "inf", cellNumber(math.Inf(1)))
	assert.Equal(t, "-inf", cellNumber(math.Inf(-1)))
	assert.Equal(t, 1.5, cellNumber(1.5))
}
