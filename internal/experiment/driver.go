// Package experiment drives sampled inputs through the external model and
// collects the observed outputs, one row at a time.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"gosens/domain/batch"
	"gosens/domain/core"
	"gosens/internal"
	apperrors "gosens/internal/errors"
	"gosens/internal/space"
	"gosens/ports"
)

// DefaultProgressEvery is the reporting interval used when none is given
const DefaultProgressEvery = 50

// Logger is the subset of internal.Logger the driver writes to
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

// Option configures a Driver
type Option func(*Driver)

// WithModel overrides the model inherited from the variable space
func WithModel(model ports.ModelPort) Option {
	return func(d *Driver) { d.model = model }
}

// WithLogger sets the destination of progress and fault lines
func WithLogger(logger Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithProgress registers a callback receiving every progress report
func WithProgress(fn func(Progress)) Option {
	return func(d *Driver) { d.onProgress = fn }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Result holds the batches of one run.
//
// Inputs always has one row per requested sample. Outcomes holds only the rows
// whose injection succeeded, in draw order, so its length is the sample count
// minus len(Failures). A canceled run keeps the rows completed before the
// cancellation and Rows stops at the last processed row.
type Result struct {
	RunID     core.RunID
	StartedAt time.Time
	Elapsed   time.Duration
	Inputs    *batch.Table
	Outcomes  *batch.Outcomes
	Rows      []RowResult
	Failures  []*InjectionFault
	Canceled  bool
}

// Driver runs batches against the model. It is not safe for concurrent use:
// the model has a single writer and rows are processed strictly in order.
type Driver struct {
	space      *space.VariableSpace
	outputs    []string
	model      ports.ModelPort
	logger     Logger
	onProgress func(Progress)
	now        func() time.Time
	last       *Result
}

// NewDriver binds a variable space to the list of observed outputs.
// Empty output names are skipped; duplicates are kept as separate columns.
func NewDriver(vs *space.VariableSpace, outputs []string, opts ...Option) (*Driver, error) {
	if vs == nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			core.NewConfigurationError(-1, "variable space", "driver needs a variable space"))
	}

	d := &Driver{
		space:  vs,
		model:  vs.Model(),
		logger: internal.DefaultLogger,
		now:    time.Now,
	}
	for _, name := range outputs {
		if name != "" {
			d.outputs = append(d.outputs, name)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.model == nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			core.NewConfigurationError(-1, "model", "driver needs a model"))
	}
	return d, nil
}

// Outputs returns the observed output names in declaration order
func (d *Driver) Outputs() []string {
	out := make([]string, len(d.outputs))
	copy(out, d.outputs)
	return out
}

// Space returns the variable space being sampled
func (d *Driver) Space() *space.VariableSpace { return d.space }

// Last returns the result of the most recent run, or nil
func (d *Driver) Last() *Result { return d.last }

// Inputs returns the input batch of the most recent run, or nil
func (d *Driver) Inputs() *batch.Table {
	if d.last == nil {
		return nil
	}
	return d.last.Inputs
}

// Outcomes returns the outcome batch of the most recent run, or nil
func (d *Driver) Outcomes() *batch.Outcomes {
	if d.last == nil {
		return nil
	}
	return d.last.Outcomes
}

// CheckOutputs reads every output once so a name the model cannot address
// fails as a configuration error before any row is written. A cell that
// exists but does not hold a number yet is accepted.
func (d *Driver) CheckOutputs(ctx context.Context) error {
	seen := make(map[string]bool, len(d.outputs))
	var errs []error
	for _, name := range d.outputs {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := d.model.Get(ctx, name); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ports.ErrNonNumeric) {
				continue
			}
			errs = append(errs, fmt.Errorf("output %q cannot be read: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: %w", core.ErrConfiguration, errors.Join(errs...)))
	}
	return nil
}

// Run draws size rows and pushes them through the model one at a time.
//
// For each row every input is written, then every output is read; a fault in
// either step drops the row from the outcomes, is logged with the row's
// values, and the run moves on to the next row without retrying. A progress
// report is emitted every progressEvery rows starting with row 0
// (progressEvery <= 0 selects DefaultProgressEvery).
//
// Every output is checked once before sampling (see CheckOutputs).
// Only a canceled context ends a run early; the partial result is stored and
// returned together with the context error. Each call replaces the batches
// of the previous one.
func (d *Driver) Run(ctx context.Context, size, progressEvery int) (*Result, error) {
	if size < 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("sample size must not be negative, got %d", size))
	}
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}

	if err := d.CheckOutputs(ctx); err != nil {
		return nil, err
	}

	inputs, err := d.space.Draw(size)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to draw input batch")
	}

	result := &Result{
		RunID:     core.NewRunID(),
		StartedAt: d.now(),
		Inputs:    inputs,
		Rows:      make([]RowResult, 0, size),
	}

	// preallocated for the successful case; compacted once the loop is done
	buffer := make([][]float64, size)
	sources := make([]int, size)
	count := 0

	intervalStart := result.StartedAt
	for i := 0; i < size; i++ {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}
		if i%progressEvery == 0 {
			now := d.now()
			d.report(newProgress(i, size, now.Sub(result.StartedAt), now.Sub(intervalStart)))
			intervalStart = now
		}

		outputs, fault := d.inject(ctx, i, inputs.Columns, inputs.Rows[i])
		if fault != nil && ctx.Err() != nil {
			// the fault is the cancellation itself, not the model
			result.Canceled = true
			break
		}

		row := RowResult{Index: i}
		if fault != nil {
			fault.Inputs = inputs.Row(i)
			row.Fault = fault
			result.Failures = append(result.Failures, fault)
			d.logger.Warn("[ExperimentDriver] Malfunctioning inputs at row %d (%s fault on %s: %v): %s",
				i, fault.Kind, fault.Cell, fault.Err, fault.FormatInputs())
		} else {
			row.Outputs = outputs
			buffer[count] = outputs
			sources[count] = i
			count++
		}
		result.Rows = append(result.Rows, row)
	}

	result.Outcomes = batch.NewOutcomes(d.outputs, 0)
	result.Outcomes.Rows = slices.Clip(buffer[:count])
	result.Outcomes.SourceRows = slices.Clip(sources[:count])
	result.Elapsed = d.now().Sub(result.StartedAt)
	d.last = result

	d.logger.Info("[ExperimentDriver] Run %s: %d of %d rows succeeded, %d failed, in %s",
		result.RunID, count, size, len(result.Failures), result.Elapsed.Round(time.Millisecond))

	if result.Canceled {
		return result, ctx.Err()
	}
	return result, nil
}

// inject writes one input row and reads every output
func (d *Driver) inject(ctx context.Context, index int, names []string, values []float64) ([]float64, *InjectionFault) {
	for c, name := range names {
		if err := d.model.Set(ctx, name, values[c]); err != nil {
			return nil, &InjectionFault{Kind: FaultWrite, Row: index, Cell: name, Err: err}
		}
	}

	outputs := make([]float64, len(d.outputs))
	for k, name := range d.outputs {
		v, err := d.model.Get(ctx, name)
		if err != nil {
			kind := FaultRead
			if errors.Is(err, ports.ErrNonNumeric) {
				kind = FaultUnexpectedValue
			}
			return nil, &InjectionFault{Kind: kind, Row: index, Cell: name, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &InjectionFault{Kind: FaultUnexpectedValue, Row: index, Cell: name,
				Err: fmt.Errorf("%w: got %v", ports.ErrNonNumeric, v)}
		}
		outputs[k] = v
	}
	return outputs, nil
}

func (d *Driver) report(p Progress) {
	d.logger.Info("[ExperimentDriver] %s", p)
	if d.onProgress != nil {
		d.onProgress(p)
	}
}
