package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gosens/domain/core"
	"gosens/domain/sampling"
	"gosens/domain/summary"
	"gosens/internal"
	apperrors "gosens/internal/errors"
	"gosens/internal/experiment"
	"gosens/internal/intake"
	"gosens/internal/space"
	"gosens/ports"

	"golang.org/x/sync/semaphore"
)

// SensitivityService runs complete sensitivity analyses against one model:
// load the specification, sample, drive the model, summarise, export, record.
// The model has a single writer, so only one run or restore proceeds at a time.
type SensitivityService struct {
	model    ports.ModelPort
	source   ports.SpecSource
	runs     ports.RunRepository
	exporter ports.ResultExporter
	reports  ports.ReportWriter
	logger   *internal.Logger
	busy     *semaphore.Weighted
}

// RunRequest configures one analysis
type RunRequest struct {
	Samples       int
	ProgressEvery int
	// Seed 0 seeds from the clock
	Seed          uint64
	VariableRange string
	OutputRange   string
	// RestoreBaseline writes the captured baseline back once the run ends.
	// Otherwise the model keeps the last sampled row.
	RestoreBaseline bool
	OnProgress      func(experiment.Progress)
}

// RunOutcome is everything a finished analysis produced
type RunOutcome struct {
	Record   *ports.RunRecord             `json:"record"`
	Report   *summary.Report              `json:"report"`
	Failures []*experiment.InjectionFault `json:"failures"`
	Result   *experiment.Result           `json:"-"`
}

// VariableInfo describes one declared variable and its derived distribution
type VariableInfo struct {
	Name     string  `json:"name"`
	Left     float64 `json:"left"`
	Mode     float64 `json:"mode"`
	Right    float64 `json:"right"`
	Kappa    float64 `json:"kappa"`
	Alpha    float64 `json:"alpha"`
	Beta     float64 `json:"beta"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Baseline float64 `json:"baseline"`
}

// Inspection is the parsed specification together with the model's current values
type Inspection struct {
	SpecHash  core.SpecHash  `json:"spec_hash"`
	Variables []VariableInfo `json:"variables"`
	Outputs   []string       `json:"outputs"`
}

// NewSensitivityService creates the service. exporter and reports may be nil.
func NewSensitivityService(model ports.ModelPort, source ports.SpecSource, runs ports.RunRepository,
	exporter ports.ResultExporter, reports ports.ReportWriter, logger *internal.Logger) *SensitivityService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &SensitivityService{
		model:    model,
		source:   source,
		runs:     runs,
		exporter: exporter,
		reports:  reports,
		logger:   logger,
		busy:     semaphore.NewWeighted(1),
	}
}

// Run executes one analysis. A canceled context still yields the partial
// outcome, recorded as canceled, together with the context error.
func (s *SensitivityService) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if !s.busy.TryAcquire(1) {
		return nil, apperrors.WithCode(apperrors.CodeConflict, core.ErrRunInProgress)
	}
	defer s.busy.Release(1)

	spec, err := s.load(ctx, req.VariableRange, req.OutputRange)
	if err != nil {
		return nil, err
	}

	vs, err := space.New(ctx, spec.Variables, s.model, sampling.NewSource(req.Seed))
	if err != nil {
		return nil, err
	}
	driver, err := experiment.NewDriver(vs, spec.Outputs,
		experiment.WithLogger(s.logger), experiment.WithProgress(req.OnProgress))
	if err != nil {
		return nil, err
	}

	result, runErr := driver.Run(ctx, req.Samples, req.ProgressEvery)
	if result == nil {
		return nil, runErr
	}

	// bookkeeping below must finish even when the run was canceled
	ctx = context.WithoutCancel(ctx)

	if req.RestoreBaseline {
		if err := vs.Restore(ctx); err != nil {
			s.logger.Error("[SensitivityService] Failed to restore baseline after run %s: %v", result.RunID, err)
		}
	}

	report, err := summary.Summarize(ctx, result.Inputs, result.Outcomes)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to summarise run")
	}

	record := &ports.RunRecord{
		ID:        result.RunID,
		SpecHash:  spec.Hash,
		StartedAt: result.StartedAt,
		Size:      req.Samples,
		Succeeded: result.Outcomes.Len(),
		Failed:    len(result.Failures),
		ElapsedMS: result.Elapsed.Milliseconds(),
		Canceled:  result.Canceled,
		Variables: vs.Names(),
		Outputs:   driver.Outputs(),
		Baseline:  vs.Baseline(),
	}

	if s.exporter != nil {
		if err := s.exporter.Export(ctx, result.Inputs, result.Outcomes, report); err != nil {
			return nil, apperrors.ExternalServiceError("export", err)
		}
		if p, ok := s.exporter.(interface{ Path() string }); ok {
			record.ExportTo = p.Path()
		}
	}

	if err := s.runs.SaveRun(ctx, record); err != nil {
		return nil, apperrors.Wrap(err, "failed to record run")
	}

	if s.reports != nil {
		if err := s.reports.WriteReport(ctx, record, report, failureLines(result.Failures)); err != nil {
			s.logger.Warn("[SensitivityService] Failed to write report for run %s: %v", record.ID, err)
		}
	}

	s.logger.Info("[SensitivityService] Run %s recorded: %d samples, %d succeeded, %d failed",
		record.ID, record.Size, record.Succeeded, record.Failed)

	return &RunOutcome{
		Record:   record,
		Report:   report,
		Failures: result.Failures,
		Result:   result,
	}, runErr
}

// Inspect parses the specification and reads the current value of every
// variable without sampling
func (s *SensitivityService) Inspect(ctx context.Context, variableRange, outputRange string) (*Inspection, error) {
	spec, err := s.load(ctx, variableRange, outputRange)
	if err != nil {
		return nil, err
	}
	vs, err := space.New(ctx, spec.Variables, s.model, sampling.NewSource(0))
	if err != nil {
		return nil, err
	}

	baseline := vs.Baseline()
	info := make([]VariableInfo, 0, vs.Len())
	for _, name := range vs.Names() {
		smp, _ := vs.Sampler(name)
		v := smp.Spec()
		info = append(info, VariableInfo{
			Name:     name,
			Left:     v.Left,
			Mode:     v.Mode,
			Right:    v.Right,
			Kappa:    v.Kappa,
			Alpha:    smp.Alpha(),
			Beta:     smp.Beta(),
			Mean:     smp.Mean(),
			StdDev:   math.Sqrt(smp.Variance()),
			Baseline: baseline[name],
		})
	}

	return &Inspection{SpecHash: spec.Hash, Variables: info, Outputs: spec.Outputs}, nil
}

// Restore writes the baseline recorded with a run back into the model
func (s *SensitivityService) Restore(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	if !s.busy.TryAcquire(1) {
		return nil, apperrors.WithCode(apperrors.CodeConflict, core.ErrRunInProgress)
	}
	defer s.busy.Release(1)

	record, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(record.Baseline) == 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("run %s has no recorded baseline", id))
	}

	names := record.Variables
	if len(names) == 0 {
		for name := range record.Baseline {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var errs []error
	for _, name := range names {
		v, ok := record.Baseline[name]
		if !ok {
			continue
		}
		if err := s.model.Set(ctx, name, v); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return nil, apperrors.ExternalServiceError("model", errors.Join(errs...))
	}

	s.logger.Info("[SensitivityService] Restored %d baseline values from run %s", len(names), id)
	return record, nil
}

// GetRun returns one recorded run
func (s *SensitivityService) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	record, err := s.runs.GetRun(ctx, id)
	if err != nil {
		if core.IsNotFoundError(err) {
			return nil, apperrors.WithCode(apperrors.CodeNotFound, err)
		}
		return nil, apperrors.Wrapf(err, "failed to load run %s", id)
	}
	return record, nil
}

// ListRuns returns recorded runs, most recent first
func (s *SensitivityService) ListRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error) {
	records, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list runs")
	}
	return records, nil
}

func (s *SensitivityService) load(ctx context.Context, variableRange, outputRange string) (*intake.Specification, error) {
	if variableRange == "" {
		variableRange = intake.DefaultVariableRange
	}
	if outputRange == "" {
		outputRange = intake.DefaultOutputRange
	}
	return intake.Load(ctx, s.source, variableRange, outputRange)
}

func failureLines(faults []*experiment.InjectionFault) []string {
	lines := make([]string, 0, len(faults))
	for _, f := range faults {
		lines = append(lines, fmt.Sprintf("%s (%s)", f.Error(), f.FormatInputs()))
	}
	return lines
}
