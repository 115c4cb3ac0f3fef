// Package memory provides in-process implementations of the ports: a
// formula-capable model for tests and demos, and a run store used when no
// database is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCell is returned for names the model does not define
var ErrUnknownCell = errors.New("unknown cell")

// Formula computes a derived cell from the current values of other cells
type Formula func(get func(name string) float64) float64

// Write records one Set call, successful or not
type Write struct {
	Name  string
	Value float64
	Err   error
}

// Model is an in-memory ModelPort standing in for a workbook in tests and
// demos; production runs drive adapters/excel.Workbook. Input cells hold
// values; derived cells are recomputed from their formula on every Get.
// Hooks let tests inject faults.
type Model struct {
	mu       sync.Mutex
	cells    map[string]float64
	formulas map[string]Formula
	writes   []Write

	// SetHook runs before a write; a non-nil error fails the write.
	SetHook func(name string, value float64) error
	// GetHook runs before a read; a non-nil error fails the read.
	GetHook func(name string) error
}

// NewModel creates a model with the given input cells
func NewModel(cells map[string]float64) *Model {
	m := &Model{
		cells:    make(map[string]float64, len(cells)),
		formulas: make(map[string]Formula),
	}
	for k, v := range cells {
		m.cells[k] = v
	}
	return m
}

// Define adds a derived cell
func (m *Model) Define(name string, f Formula) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formulas[name] = f
	return m
}

// Get returns a cell value, evaluating formulas against the current inputs
func (m *Model) Get(ctx context.Context, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetHook != nil {
		if err := m.GetHook(name); err != nil {
			return 0, err
		}
	}
	return m.valueLocked(name, 0)
}

func (m *Model) valueLocked(name string, depth int) (float64, error) {
	if v, ok := m.cells[name]; ok {
		return v, nil
	}
	f, ok := m.formulas[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCell, name)
	}
	if depth > 32 {
		return 0, fmt.Errorf("formula for %s is too deeply nested", name)
	}

	var evalErr error
	v := f(func(ref string) float64 {
		val, err := m.valueLocked(ref, depth+1)
		if err != nil && evalErr == nil {
			evalErr = err
		}
		return val
	})
	if evalErr != nil {
		return 0, fmt.Errorf("evaluate %s: %w", name, evalErr)
	}
	return v, nil
}

// Set writes an input cell. Derived cells cannot be written.
func (m *Model) Set(ctx context.Context, name string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.setLocked(name, value)
	m.writes = append(m.writes, Write{Name: name, Value: value, Err: err})
	return err
}

func (m *Model) setLocked(name string, value float64) error {
	if m.SetHook != nil {
		if err := m.SetHook(name, value); err != nil {
			return err
		}
	}
	if _, ok := m.formulas[name]; ok {
		return fmt.Errorf("cell %s is computed and cannot be written", name)
	}
	if _, ok := m.cells[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCell, name)
	}
	m.cells[name] = value
	return nil
}

// Writes returns a copy of every Set call so far
func (m *Model) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// Value returns an input cell without hooks, for assertions
func (m *Model) Value(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cells[name]
	return v, ok
}
