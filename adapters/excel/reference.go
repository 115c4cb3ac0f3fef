package excel

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// cellRange is a rectangular block on one sheet, 1-based and inclusive
type cellRange struct {
	Sheet      string
	Col1, Row1 int
	Col2, Row2 int
}

func (r cellRange) single() bool {
	return r.Col1 == r.Col2 && r.Row1 == r.Row2
}

func (r cellRange) String() string {
	from, _ := excelize.CoordinatesToCellName(r.Col1, r.Row1)
	if r.single() {
		return fmt.Sprintf("%s!%s", r.Sheet, from)
	}
	to, _ := excelize.CoordinatesToCellName(r.Col2, r.Row2)
	return fmt.Sprintf("%s!%s:%s", r.Sheet, from, to)
}

// parseReference accepts the forms Excel stores in defined names:
// Sheet1!$A$1, 'My Sheet'!A1:E5, =Sheet1!B2
func parseReference(ref string) (cellRange, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "=")
	if strings.Contains(ref, ",") {
		return cellRange{}, fmt.Errorf("multi-area reference %q is not supported", ref)
	}
	bang := strings.LastIndex(ref, "!")
	if bang <= 0 {
		return cellRange{}, fmt.Errorf("reference %q has no sheet", ref)
	}

	sheet := ref[:bang]
	if len(sheet) >= 2 && strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}

	area := strings.ReplaceAll(ref[bang+1:], "$", "")
	corners := strings.Split(area, ":")
	if len(corners) > 2 {
		return cellRange{}, fmt.Errorf("reference %q is malformed", ref)
	}

	c1, r1, err := excelize.CellNameToCoordinates(corners[0])
	if err != nil {
		return cellRange{}, fmt.Errorf("reference %q: %w", ref, err)
	}
	c2, r2 := c1, r1
	if len(corners) == 2 {
		if c2, r2, err = excelize.CellNameToCoordinates(corners[1]); err != nil {
			return cellRange{}, fmt.Errorf("reference %q: %w", ref, err)
		}
	}

	return cellRange{
		Sheet: sheet,
		Col1:  min(c1, c2), Row1: min(r1, r2),
		Col2: max(c1, c2), Row2: max(r1, r2),
	}, nil
}
