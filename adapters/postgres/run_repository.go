package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gosens/domain/core"
	apperrors "gosens/internal/errors"
	"gosens/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Baseline maps a JSONB column to the captured input values
type Baseline map[string]float64

// Value implements driver.Valuer interface
func (b Baseline) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner interface
func (b *Baseline) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Baseline", value)
	}
	// unmarshalling into a reused map would merge keys
	*b = nil
	return json.Unmarshal(bytes, b)
}

// runRow is the sensitivity_runs row layout
type runRow struct {
	ID         string         `db:"id"`
	SpecHash   string         `db:"spec_hash"`
	StartedAt  time.Time      `db:"started_at"`
	Size       int            `db:"size"`
	Succeeded  int            `db:"succeeded"`
	Failed     int            `db:"failed"`
	ElapsedMS  int64          `db:"elapsed_ms"`
	Canceled   bool           `db:"canceled"`
	Variables  pq.StringArray `db:"variables"`
	Outputs    pq.StringArray `db:"outputs"`
	Baseline   Baseline       `db:"baseline"`
	ExportPath string         `db:"export_path"`
}

func (r runRow) record() *ports.RunRecord {
	return &ports.RunRecord{
		ID:        core.RunID(r.ID),
		SpecHash:  core.SpecHash(r.SpecHash),
		StartedAt: r.StartedAt,
		Size:      r.Size,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		ElapsedMS: r.ElapsedMS,
		Canceled:  r.Canceled,
		Variables: []string(r.Variables),
		Outputs:   []string(r.Outputs),
		Baseline:  map[string]float64(r.Baseline),
		ExportTo:  r.ExportPath,
	}
}

const runColumns = `id, spec_hash, started_at, size, succeeded, failed, elapsed_ms, canceled,
	variables, outputs, baseline, export_path`

// RunRepositoryImpl implements RunRepository for PostgreSQL
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db}
}

// SaveRun inserts a run record, replacing one with the same id
func (r *RunRepositoryImpl) SaveRun(ctx context.Context, run *ports.RunRecord) error {
	row := runRow{
		ID:         run.ID.String(),
		SpecHash:   string(run.SpecHash),
		StartedAt:  run.StartedAt,
		Size:       run.Size,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		ElapsedMS:  run.ElapsedMS,
		Canceled:   run.Canceled,
		Variables:  pq.StringArray(nonNil(run.Variables)),
		Outputs:    pq.StringArray(nonNil(run.Outputs)),
		Baseline:   Baseline(run.Baseline),
		ExportPath: run.ExportTo,
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sensitivity_runs (`+runColumns+`)
		VALUES (:id, :spec_hash, :started_at, :size, :succeeded, :failed, :elapsed_ms, :canceled,
			:variables, :outputs, :baseline, :export_path)
		ON CONFLICT (id) DO UPDATE SET
			spec_hash = EXCLUDED.spec_hash,
			started_at = EXCLUDED.started_at,
			size = EXCLUDED.size,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			elapsed_ms = EXCLUDED.elapsed_ms,
			canceled = EXCLUDED.canceled,
			variables = EXCLUDED.variables,
			outputs = EXCLUDED.outputs,
			baseline = EXCLUDED.baseline,
			export_path = EXCLUDED.export_path
	`, row)
	if err != nil {
		return apperrors.DatabaseError(fmt.Sprintf("save run %s", run.ID), err)
	}
	return nil
}

// GetRun retrieves a run by id
func (r *RunRepositoryImpl) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM sensitivity_runs WHERE id = $1`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return nil, apperrors.DatabaseError(fmt.Sprintf("get run %s", id), err)
	}
	return row.record(), nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all
func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM sensitivity_runs ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.DatabaseError("list runs", err)
	}

	out := make([]*ports.RunRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
