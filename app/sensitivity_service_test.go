package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"gosens/adapters/memory"
	"gosens/domain/batch"
	"gosens/domain/core"
	"gosens/domain/summary"
	"gosens/internal"
	apperrors "gosens/internal/errors"
	"gosens/internal/experiment"
	"gosens/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeSource map[string][][]string

func (s rangeSource) ReadRange(ctx context.Context, name string) ([][]string, error) {
	rows, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("no range %s", name)
	}
	return rows, nil
}

type recordingExporter struct {
	calls    int
	inputs   *batch.Table
	outcomes *batch.Outcomes
}

func (e *recordingExporter) Export(ctx context.Context, inputs *batch.Table, outcomes *batch.Outcomes, report *summary.Report) error {
	e.calls++
	e.inputs, e.outcomes = inputs, outcomes
	return nil
}

func (e *recordingExporter) Path() string { return "runs/latest.xlsx" }

type recordingReports struct {
	runs     []*ports.RunRecord
	failures [][]string
}

func (r *recordingReports) WriteReport(ctx context.Context, run *ports.RunRecord, report *summary.Report, failures []string) error {
	r.runs = append(r.runs, run)
	r.failures = append(r.failures, failures)
	return nil
}

func profitModel() *memory.Model {
	return memory.NewModel(map[string]float64{"price": 4, "volume": 100, "cost": 50}).
		Define("profit", func(get func(string) float64) float64 {
			return get("price")*get("volume") - get("cost")
		})
}

func profitSpec() rangeSource {
	return rangeSource{
		"greenbox": {
			{"price", "1", "4", "9", "4"},
			{"", "", "", "", ""},
			{"volume", "50", "100", "150", "6"},
		},
		"bluebox": {{"profit"}, {""}},
	}
}

type fixture struct {
	model    *memory.Model
	runs     *memory.RunStore
	exporter *recordingExporter
	reports  *recordingReports
	service  *SensitivityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		model:    profitModel(),
		runs:     memory.NewRunStore(),
		exporter: &recordingExporter{},
		reports:  &recordingReports{},
	}
	logger := internal.NewLoggerTo(internal.LogLevelError, &bytes.Buffer{})
	fx.service = NewSensitivityService(fx.model, profitSpec(), fx.runs, fx.exporter, fx.reports, logger)
	return fx
}

func TestSensitivityService_Run(t *testing.T) {
	fx := newFixture(t)
	fx.model.SetHook = func(name string, value float64) error {
		if name == "price" && value > 7 {
			return errors.New("price out of contract")
		}
		return nil
	}

	outcome, err := fx.service.Run(context.Background(), RunRequest{Samples: 300, Seed: 11, ProgressEvery: 100})
	require.NoError(t, err)

	rec := outcome.Record
	assert.Equal(t, 300, rec.Size)
	assert.Equal(t, 300, rec.Succeeded+rec.Failed)
	assert.Equal(t, rec.Failed, len(outcome.Failures))
	assert.Equal(t, []string{"price", "volume"}, rec.Variables)
	assert.Equal(t, []string{"profit"}, rec.Outputs)
	assert.Equal(t, map[string]float64{"price": 4, "volume": 100}, rec.Baseline)
	assert.Equal(t, "runs/latest.xlsx", rec.ExportTo)
	assert.False(t, rec.Canceled)

	assert.Equal(t, 300, outcome.Result.Inputs.Len())
	assert.Equal(t, rec.Succeeded, outcome.Result.Outcomes.Len())
	assert.Equal(t, 300, outcome.Report.Samples)
	assert.Equal(t, rec.Succeeded, outcome.Report.Succeeded)
	for _, f := range outcome.Failures {
		assert.Equal(t, experiment.FaultWrite, f.Kind)
		assert.Greater(t, f.Inputs["price"], 7.0)
	}

	assert.Equal(t, 1, fx.exporter.calls)
	assert.Same(t, outcome.Result.Inputs, fx.exporter.inputs)
	require.Len(t, fx.reports.failures, 1)
	assert.Len(t, fx.reports.failures[0], rec.Failed)

	stored, err := fx.service.GetRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SpecHash, stored.SpecHash)

	// nothing is restored unless asked for: the model holds the last price it accepted
	var accepted float64
	for i := 0; i < outcome.Result.Inputs.Len(); i++ {
		if p := outcome.Result.Inputs.Row(i)["price"]; p <= 7 {
			accepted = p
		}
	}
	price, _ := fx.model.Value("price")
	assert.Equal(t, accepted, price)
}

func TestSensitivityService_RestoreBaselineAfterRun(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.Run(context.Background(), RunRequest{Samples: 20, Seed: 3, RestoreBaseline: true})
	require.NoError(t, err)

	price, _ := fx.model.Value("price")
	volume, _ := fx.model.Value("volume")
	assert.Equal(t, 4.0, price)
	assert.Equal(t, 100.0, volume)
}

func TestSensitivityService_RestoreRecordedRun(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	outcome, err := fx.service.Run(ctx, RunRequest{Samples: 20, Seed: 3})
	require.NoError(t, err)

	last := outcome.Result.Inputs.Row(19)
	price, _ := fx.model.Value("price")
	assert.Equal(t, last["price"], price)

	rec, err := fx.service.Restore(ctx, outcome.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.Record.ID, rec.ID)

	price, _ = fx.model.Value("price")
	volume, _ := fx.model.Value("volume")
	assert.Equal(t, 4.0, price)
	assert.Equal(t, 100.0, volume)
}

func TestSensitivityService_RestoreUnknownRun(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.Restore(context.Background(), core.NewRunID())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrRunNotFound))
}

func TestSensitivityService_RejectsConcurrentRun(t *testing.T) {
	fx := newFixture(t)
	require.True(t, fx.service.busy.TryAcquire(1))
	defer fx.service.busy.Release(1)

	_, err := fx.service.Run(context.Background(), RunRequest{Samples: 5})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrRunInProgress))

	_, err = fx.service.Restore(context.Background(), core.NewRunID())
	assert.True(t, errors.Is(err, core.ErrRunInProgress))
}

func TestSensitivityService_CanceledRunIsRecorded(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome, err := fx.service.Run(ctx, RunRequest{
		Samples:         200,
		ProgressEvery:   25,
		RestoreBaseline: true,
		OnProgress: func(p experiment.Progress) {
			if p.Completed == 50 {
				cancel()
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Record.Canceled)
	assert.Len(t, outcome.Result.Rows, 50)
	assert.Equal(t, 50, outcome.Record.Succeeded)

	runs, err := fx.service.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Canceled)

	price, _ := fx.model.Value("price")
	assert.Equal(t, 4.0, price)
}

func TestSensitivityService_InvalidSpecification(t *testing.T) {
	fx := newFixture(t)
	fx.service.source = rangeSource{
		"greenbox": {{"price", "1", "four", "9", "4"}},
		"bluebox":  {{"profit"}},
	}

	_, err := fx.service.Run(context.Background(), RunRequest{Samples: 5})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.True(t, core.IsFatal(err))
	assert.Empty(t, fx.model.Writes())
	assert.Equal(t, 0, fx.exporter.calls)
}

func TestSensitivityService_UnknownOutputIsConfigurationError(t *testing.T) {
	fx := newFixture(t)
	fx.service.source = rangeSource{
		"greenbox": profitSpec()["greenbox"],
		"bluebox":  {{"profit"}, {"no_such_cell"}},
	}

	outcome, err := fx.service.Run(context.Background(), RunRequest{Samples: 200})
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrConfiguration))
	assert.Empty(t, fx.model.Writes())
	assert.Equal(t, 0, fx.exporter.calls)

	runs, err := fx.service.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "a misconfigured run is not recorded")
}

func TestFailureLines(t *testing.T) {
	lines := failureLines([]*experiment.InjectionFault{{
		Kind: experiment.FaultWrite, Row: 3, Cell: "price",
		Inputs: map[string]float64{"volume": 120, "price": 8.5},
		Err:    errors.New("price out of contract"),
	}})
	require.Len(t, lines, 1)
	assert.Equal(t, "write fault at row 3 on price: price out of contract (price=8.5, volume=120)", lines[0])
}

func TestSensitivityService_Inspect(t *testing.T) {
	fx := newFixture(t)

	insp, err := fx.service.Inspect(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, insp.Variables, 2)
	assert.Equal(t, []string{"profit"}, insp.Outputs)
	assert.NotEmpty(t, insp.SpecHash)

	price := insp.Variables[0]
	assert.Equal(t, "price", price.Name)
	assert.InDelta(t, 1.75, price.Alpha, 1e-12)
	assert.InDelta(t, 2.25, price.Beta, 1e-12)
	assert.InDelta(t, 1+8*1.75/4, price.Mean, 1e-12)
	assert.Equal(t, 4.0, price.Baseline)
	assert.Empty(t, fx.model.Writes())
}
