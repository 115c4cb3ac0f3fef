package ports

import (
	"context"

	"gosens/domain/summary"
)

// ReportWriter publishes a human-readable summary of a finished run.
// failures holds one preformatted line per dropped row.
type ReportWriter interface {
	WriteReport(ctx context.Context, run *RunRecord, report *summary.Report, failures []string) error
}
