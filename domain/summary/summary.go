// Package summary derives reporting tables from the batches of a run.
package summary

import (
	"context"
	"fmt"
	"runtime"

	"gosens/domain/batch"

	"golang.org/x/sync/errgroup"
)

// Role tells whether a column is a sampled input or an observed output
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// ColumnSummary is the statistics and histogram of one column
type ColumnSummary struct {
	Name      string         `json:"name"`
	Role      Role           `json:"role"`
	Stats     Stats          `json:"stats"`
	Histogram HistogramTable `json:"histogram"`
}

// Report summarises every input and output column of a run.
// Inputs come first, then outputs, each in table order.
type Report struct {
	Samples   int             `json:"samples"`
	Succeeded int             `json:"succeeded"`
	Columns   []ColumnSummary `json:"columns"`
}

// Failed is the number of rows dropped from the outcomes
func (r *Report) Failed() int {
	return r.Samples - r.Succeeded
}

// ByRole returns the summaries of one role in table order
func (r *Report) ByRole(role Role) []ColumnSummary {
	var out []ColumnSummary
	for _, c := range r.Columns {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// Summarize computes a ColumnSummary per column. Columns are independent so
// they are computed concurrently; the result order does not depend on timing.
func Summarize(ctx context.Context, inputs *batch.Table, outcomes *batch.Outcomes) (*Report, error) {
	type job struct {
		name   string
		role   Role
		values []float64
	}

	var jobs []job
	if inputs != nil {
		for i, name := range inputs.Columns {
			jobs = append(jobs, job{name: name, role: RoleInput, values: inputs.ColumnAt(i)})
		}
	}
	if outcomes != nil {
		for i, name := range outcomes.Columns {
			jobs = append(jobs, job{name: name, role: RoleOutput, values: outcomes.ColumnAt(i)})
		}
	}

	report := &Report{
		Samples:   inputs.Len(),
		Succeeded: outcomes.Len(),
		Columns:   make([]ColumnSummary, len(jobs)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := Describe(j.values)
			if err != nil {
				return fmt.Errorf("describe %s %q: %w", j.role, j.name, err)
			}
			hist, err := Histogram(j.values)
			if err != nil {
				return fmt.Errorf("histogram %s %q: %w", j.role, j.name, err)
			}
			report.Columns[i] = ColumnSummary{Name: j.name, Role: j.role, Stats: st, Histogram: hist}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
