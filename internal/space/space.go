// Package space implements the variable space: the ordered set of stressed
// inputs, one sampler per variable, plus a snapshot of the model's values for
// those inputs taken before any sampling.
package space

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"gosens/domain/batch"
	"gosens/domain/core"
	"gosens/domain/sampling"
	apperrors "gosens/internal/errors"
	"gosens/ports"
)

// VariableSpace is an ordered name -> sampler mapping bound to a model.
// It is read-only after construction except for the baseline snapshot.
type VariableSpace struct {
	names    []string
	samplers map[string]*sampling.Sampler
	model    ports.ModelPort
	baseline map[string]float64
}

// New builds a space from specification rows and captures the baseline.
//
// Rows with an empty name are skipped. A name that appears twice keeps the
// position of its first row and the sampler of its last row.
func New(ctx context.Context, rows []sampling.ThreePointSpec, model ports.ModelPort, src rand.Source) (*VariableSpace, error) {
	if model == nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			core.NewConfigurationError(-1, "model", "no model attached to the variable space"))
	}

	vs := &VariableSpace{
		samplers: make(map[string]*sampling.Sampler, len(rows)),
		model:    model,
	}
	for i, row := range rows {
		if row.Name == "" {
			continue
		}
		s, err := sampling.NewSampler(row, src)
		if err != nil {
			return nil, apperrors.InvalidDistribution(fmt.Sprintf("variable space row %d", i+1), err)
		}
		if _, seen := vs.samplers[row.Name]; seen {
			log.Printf("[VariableSpace] Variable %q redefined at row %d; keeping its original position", row.Name, i+1)
		} else {
			vs.names = append(vs.names, row.Name)
		}
		vs.samplers[row.Name] = s
	}

	if err := vs.CaptureBaseline(ctx); err != nil {
		return nil, err
	}
	return vs, nil
}

// Names returns the variable names in declaration order
func (vs *VariableSpace) Names() []string {
	out := make([]string, len(vs.names))
	copy(out, vs.names)
	return out
}

// Len returns the number of variables
func (vs *VariableSpace) Len() int { return len(vs.names) }

// Sampler returns the sampler of a variable
func (vs *VariableSpace) Sampler(name string) (*sampling.Sampler, bool) {
	s, ok := vs.samplers[name]
	return s, ok
}

// Model returns the model the space was built against
func (vs *VariableSpace) Model() ports.ModelPort { return vs.model }

// Draw samples size rows, each column drawn independently from its
// variable's sampler, columns in Names() order.
func (vs *VariableSpace) Draw(size int) (*batch.Table, error) {
	if size < 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("sample size must not be negative, got %d", size))
	}
	columns := make([][]float64, len(vs.names))
	for i, name := range vs.names {
		columns[i] = vs.samplers[name].Sample(size)
	}

	// built row by row so a space without variables still yields size rows
	table := batch.NewTable(vs.names, size)
	for r := 0; r < size; r++ {
		row := make([]float64, len(columns))
		for c := range columns {
			row[c] = columns[c][r]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// CaptureBaseline reads the model's current value of every variable.
// The previous snapshot is kept if any read fails. Nothing is restored.
func (vs *VariableSpace) CaptureBaseline(ctx context.Context) error {
	snapshot := make(map[string]float64, len(vs.names))
	for _, name := range vs.names {
		v, err := vs.model.Get(ctx, name)
		if err != nil {
			return apperrors.WithCode(apperrors.CodeConfigInvalid,
				fmt.Errorf("%w: variable %q cannot be read from the model: %v", core.ErrConfiguration, name, err))
		}
		snapshot[name] = v
	}
	vs.baseline = snapshot
	return nil
}

// Baseline returns a copy of the last captured snapshot
func (vs *VariableSpace) Baseline() map[string]float64 {
	out := make(map[string]float64, len(vs.baseline))
	for k, v := range vs.baseline {
		out[k] = v
	}
	return out
}

// Restore writes the baseline snapshot back into the model. It must be
// invoked explicitly; runs never call it. Every variable is attempted and
// all failures are returned together.
func (vs *VariableSpace) Restore(ctx context.Context) error {
	var errs []error
	for _, name := range vs.names {
		v, ok := vs.baseline[name]
		if !ok {
			continue
		}
		if err := vs.model.Set(ctx, name, v); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return apperrors.ExternalServiceError("model", errors.Join(errs...))
	}
	return nil
}
