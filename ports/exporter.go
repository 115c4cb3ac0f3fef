package ports

import (
	"context"

	"gosens/domain/batch"
	"gosens/domain/summary"
)

// ResultExporter persists the batches and histograms of a run as named sheets
type ResultExporter interface {
	Export(ctx context.Context, inputs *batch.Table, outcomes *batch.Outcomes, report *summary.Report) error
}
