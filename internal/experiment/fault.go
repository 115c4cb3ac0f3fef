package experiment

import (
	"fmt"
	"sort"
	"strings"

	"gosens/domain/core"
)

// FaultKind tells which step of a row's injection failed
type FaultKind string

const (
	// FaultWrite: the model rejected an input value
	FaultWrite FaultKind = "write"
	// FaultRead: an output could not be read
	FaultRead FaultKind = "read"
	// FaultUnexpectedValue: an output was read but is not a finite number
	FaultUnexpectedValue FaultKind = "unexpected_value"
)

// InjectionFault describes why one sampled row produced no outcome.
// It matches core.ErrInjectionFault with errors.Is.
type InjectionFault struct {
	Kind   FaultKind          `json:"kind"`
	Row    int                `json:"row"`
	Cell   string             `json:"cell"`
	Inputs map[string]float64 `json:"inputs"`
	Err    error              `json:"-"`
}

func (f *InjectionFault) Error() string {
	return fmt.Sprintf("%s fault at row %d on %s: %v", f.Kind, f.Row, f.Cell, f.Err)
}

func (f *InjectionFault) Unwrap() []error {
	if f.Err == nil {
		return []error{core.ErrInjectionFault}
	}
	return []error{core.ErrInjectionFault, f.Err}
}

// FormatInputs renders the row's input values as sorted name=value pairs
func (f *InjectionFault) FormatInputs() string {
	keys := make([]string, 0, len(f.Inputs))
	for k := range f.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, f.Inputs[k])
	}
	return strings.Join(parts, ", ")
}

// RowResult is the outcome of one sampled row: either its outputs or a fault
type RowResult struct {
	Index   int             `json:"index"`
	Outputs []float64       `json:"outputs,omitempty"`
	Fault   *InjectionFault `json:"fault,omitempty"`
}

// OK reports whether the row produced outputs
func (r RowResult) OK() bool { return r.Fault == nil }
