package ports

import (
	"context"
	"time"

	"gosens/domain/core"
)

// RunRecord summarises one completed (or canceled) run
type RunRecord struct {
	ID        core.RunID    `db:"id" json:"id"`
	SpecHash  core.SpecHash `db:"spec_hash" json:"spec_hash"`
	StartedAt time.Time     `db:"started_at" json:"started_at"`
	Size      int           `db:"size" json:"size"`
	Succeeded int           `db:"succeeded" json:"succeeded"`
	Failed    int           `db:"failed" json:"failed"`
	ElapsedMS int64         `db:"elapsed_ms" json:"elapsed_ms"`
	Canceled  bool          `db:"canceled" json:"canceled"`
	Variables []string      `db:"-" json:"variables"`
	Outputs   []string      `db:"-" json:"outputs"`
	// Baseline holds the input cell values captured before sampling began
	Baseline map[string]float64 `db:"-" json:"baseline,omitempty"`
	ExportTo string             `db:"export_path" json:"export_path,omitempty"`
}

// RunRepository stores run records
type RunRepository interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id core.RunID) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}
