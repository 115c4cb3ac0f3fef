// Package intake parses the tabular run specification into validated rows.
//
// The variable range has exactly five ordered columns: name, left, mode,
// right, kappa. The output range holds an output name in its first column.
// In both, rows whose name cell is empty are ignored.
package intake

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"gosens/domain/core"
	"gosens/domain/sampling"
	apperrors "gosens/internal/errors"
	"gosens/ports"
)

// Default range names, as laid out in the model workbook
const (
	DefaultVariableRange = "greenbox"
	DefaultOutputRange   = "bluebox"
)

var variableColumns = [5]string{"name", "left", "mode", "right", "kappa"}

// Specification is everything a run needs from the specification source
type Specification struct {
	Variables []sampling.ThreePointSpec
	Outputs   []string
	Hash      core.SpecHash
}

// Load reads and validates both ranges from src
func Load(ctx context.Context, src ports.SpecSource, variableRange, outputRange string) (*Specification, error) {
	varRows, err := src.ReadRange(ctx, variableRange)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: cannot read variable range %q: %v", core.ErrConfiguration, variableRange, err))
	}
	outRows, err := src.ReadRange(ctx, outputRange)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: cannot read output range %q: %v", core.ErrConfiguration, outputRange, err))
	}

	variables, err := ParseVariableRows(varRows)
	if err != nil {
		return nil, err
	}
	if len(variables) == 0 {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			core.NewConfigurationError(-1, variableRange, "no variables declared"))
	}

	outputs := ParseOutputRows(outRows)
	if len(outputs) == 0 {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			core.NewConfigurationError(-1, outputRange, "no outputs declared"))
	}

	log.Printf("[Intake] Loaded %d variables from %q and %d outputs from %q",
		len(variables), variableRange, len(outputs), outputRange)

	return &Specification{
		Variables: variables,
		Outputs:   outputs,
		Hash:      Fingerprint(variables, outputs),
	}, nil
}

// ParseVariableRows converts raw cells into validated three-point estimates.
// Rows with an empty name are skipped; any other malformed row fails the
// whole specification.
func ParseVariableRows(rows [][]string) ([]sampling.ThreePointSpec, error) {
	var specs []sampling.ThreePointSpec
	for i, row := range rows {
		name := cell(row, 0)
		if name == "" {
			continue
		}
		if len(row) < len(variableColumns) {
			return nil, configError(i, "row", fmt.Sprintf("expected %d columns, got %d", len(variableColumns), len(row)))
		}
		for c := len(variableColumns); c < len(row); c++ {
			if strings.TrimSpace(row[c]) != "" {
				return nil, configError(i, "row", fmt.Sprintf("unexpected value %q in column %d", row[c], c+1))
			}
		}

		var nums [4]float64
		for c := 1; c < len(variableColumns); c++ {
			raw := cell(row, c)
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, configError(i, variableColumns[c], fmt.Sprintf("%q is not a number", raw))
			}
			nums[c-1] = v
		}

		spec := sampling.ThreePointSpec{Name: name, Left: nums[0], Mode: nums[1], Right: nums[2], Kappa: nums[3]}
		if err := spec.Validate(); err != nil {
			return nil, apperrors.InvalidDistribution(fmt.Sprintf("specification row %d", i+1), err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseOutputRows returns the names in the first column, skipping empty
// cells. Duplicates are kept.
func ParseOutputRows(rows [][]string) []string {
	var names []string
	for _, row := range rows {
		if name := cell(row, 0); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Fingerprint hashes the parsed specification in declaration order
func Fingerprint(variables []sampling.ThreePointSpec, outputs []string) core.SpecHash {
	rows := make([][5]string, len(variables))
	for i, v := range variables {
		rows[i] = [5]string{v.Name, formatFloat(v.Left), formatFloat(v.Mode), formatFloat(v.Right), formatFloat(v.Kappa)}
	}
	return core.ComputeSpecHash(rows, outputs)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func configError(row int, field, reason string) error {
	return apperrors.WithCode(apperrors.CodeConfigInvalid, core.NewConfigurationError(row, field, reason))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
