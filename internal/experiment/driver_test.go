package experiment

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gosens/adapters/memory"
	"gosens/domain/core"
	"gosens/domain/sampling"
	"gosens/internal"
	apperrors "gosens/internal/errors"
	"gosens/internal/space"
	"gosens/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockModel is a testify mock of ports.ModelPort
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Get(ctx context.Context, name string) (float64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockModel) Set(ctx context.Context, name string, value float64) error {
	args := m.Called(ctx, name, value)
	return args.Error(0)
}

// fakeClock only moves when the test advances it
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var specRows = []sampling.ThreePointSpec{
	{Name: "price", Left: 1, Mode: 4, Right: 9, Kappa: 4},
	{Name: "volume", Left: 50, Mode: 100, Right: 150, Kappa: 6},
}

func newProfitModel() *memory.Model {
	return memory.NewModel(map[string]float64{"price": 4, "volume": 100}).
		Define("revenue", func(get func(string) float64) float64 { return get("price") * get("volume") }).
		Define("profit", func(get func(string) float64) float64 { return get("price")*get("volume") - 250 })
}

func newSpace(t *testing.T, model ports.ModelPort) *space.VariableSpace {
	t.Helper()
	vs, err := space.New(context.Background(), specRows, model, sampling.NewSource(11))
	require.NoError(t, err)
	return vs
}

func quietLogger() *internal.Logger {
	return internal.NewLoggerTo(internal.LogLevelError, &bytes.Buffer{})
}

func TestRun_AllRowsSucceed(t *testing.T) {
	model := newProfitModel()
	d, err := NewDriver(newSpace(t, model), []string{"revenue", "profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 100, 0)
	require.NoError(t, err)

	assert.Equal(t, 100, res.Inputs.Len())
	assert.Equal(t, 100, res.Outcomes.Len())
	assert.Equal(t, []string{"revenue", "profit"}, res.Outcomes.Columns)
	assert.Empty(t, res.Failures)
	assert.False(t, res.Canceled)
	assert.False(t, res.RunID.String() == "")

	for k, row := range res.Outcomes.Rows {
		in := res.Inputs.Rows[res.Outcomes.SourceRows[k]]
		assert.InDelta(t, in[0]*in[1], row[0], 1e-9)
		assert.InDelta(t, in[0]*in[1]-250, row[1], 1e-9)
	}
}

func TestRun_FaultyRowsAreDroppedInOrder(t *testing.T) {
	model := newProfitModel()
	vs := newSpace(t, model)

	failing := map[int]bool{0: true, 3: true, 17: true, 250: true, 499: true}
	// read 0 is the output check before sampling
	reads := -1
	model.GetHook = func(name string) error {
		row := reads
		reads++
		if failing[row] {
			return errors.New("model busy")
		}
		return nil
	}

	var logs bytes.Buffer
	d, err := NewDriver(vs, []string{"profit"}, WithLogger(internal.NewLoggerTo(internal.LogLevelInfo, &logs)))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 500, 50)
	require.NoError(t, err)

	require.Equal(t, 500, res.Inputs.Len())
	require.Equal(t, 500-len(failing), res.Outcomes.Len())
	require.Len(t, res.Failures, len(failing))
	require.Len(t, res.Rows, 500)

	prev := -1
	for k, src := range res.Outcomes.SourceRows {
		assert.Greater(t, src, prev, "source rows must be strictly increasing")
		assert.False(t, failing[src], "failed row %d leaked into outcomes", src)
		prev = src

		in := res.Inputs.Rows[src]
		assert.InDelta(t, in[0]*in[1]-250, res.Outcomes.Rows[k][0], 1e-9)
	}

	for _, f := range res.Failures {
		assert.True(t, failing[f.Row])
		assert.Equal(t, FaultRead, f.Kind)
		assert.Equal(t, "profit", f.Cell)
		assert.True(t, errors.Is(f, core.ErrInjectionFault))
		assert.Equal(t, res.Inputs.Rows[f.Row][0], f.Inputs["price"])
		assert.False(t, res.Rows[f.Row].OK())
		assert.Nil(t, res.Rows[f.Row].Outputs)
	}

	assert.Contains(t, logs.String(), "Malfunctioning inputs at row 17")
	assert.Contains(t, logs.String(), "price=")
}

func TestRun_WriteFaultSkipsReads(t *testing.T) {
	model := newProfitModel()
	vs := newSpace(t, model)

	writes := 0
	model.SetHook = func(name string, value float64) error {
		writes++
		// second row, second variable
		if writes == 4 {
			return errors.New("cell locked")
		}
		return nil
	}
	reads := 0
	model.GetHook = func(string) error { reads++; return nil }

	d, err := NewDriver(vs, []string{"profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 3, 0)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, FaultWrite, f.Kind)
	assert.Equal(t, 1, f.Row)
	assert.Equal(t, "volume", f.Cell)
	assert.Equal(t, []int{0, 2}, res.Outcomes.SourceRows)
	// one output check, then one read per row that was written
	assert.Equal(t, 3, reads, "a row that fails to write is never read")
}

func TestRun_UnexpectedValues(t *testing.T) {
	m := new(MockModel)
	m.On("Get", mock.Anything, "price").Return(4.0, nil).Once()
	m.On("Get", mock.Anything, "volume").Return(100.0, nil).Once()
	vs, err := space.New(context.Background(), specRows, m, sampling.NewSource(1))
	require.NoError(t, err)

	m.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	// the cell exists but holds text before sampling; that is not a configuration error
	m.On("Get", mock.Anything, "label").Return(0.0, ports.ErrNonNumeric).Once()
	m.On("Get", mock.Anything, "label").Return(0.0, ports.ErrNonNumeric).Once()
	m.On("Get", mock.Anything, "label").Return(math.NaN(), nil).Once()
	m.On("Get", mock.Anything, "label").Return(0.0, errors.New("com error")).Once()
	m.On("Get", mock.Anything, "label").Return(1.5, nil).Once()

	d, err := NewDriver(vs, []string{"label"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 4, 0)
	require.NoError(t, err)

	require.Len(t, res.Failures, 3)
	assert.Equal(t, FaultUnexpectedValue, res.Failures[0].Kind)
	assert.Equal(t, FaultUnexpectedValue, res.Failures[1].Kind)
	assert.True(t, errors.Is(res.Failures[1], ports.ErrNonNumeric))
	assert.Equal(t, FaultRead, res.Failures[2].Kind)

	require.Equal(t, 1, res.Outcomes.Len())
	assert.Equal(t, []float64{1.5}, res.Outcomes.Rows[0])
	assert.Equal(t, []int{3}, res.Outcomes.SourceRows)
	m.AssertExpectations(t)
}

func TestRun_WritesFollowDrawOrder(t *testing.T) {
	model := newProfitModel()
	d, err := NewDriver(newSpace(t, model), []string{"profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 20, 0)
	require.NoError(t, err)

	writes := model.Writes()
	require.Len(t, writes, 40)
	for i, row := range res.Inputs.Rows {
		assert.Equal(t, "price", writes[2*i].Name)
		assert.Equal(t, row[0], writes[2*i].Value)
		assert.Equal(t, "volume", writes[2*i+1].Name)
		assert.Equal(t, row[1], writes[2*i+1].Value)
	}

	// the model keeps the last row; nothing restores it
	last := res.Inputs.Rows[19]
	v, _ := model.Value("price")
	assert.Equal(t, last[0], v)
}

func TestRun_ProgressReports(t *testing.T) {
	model := newProfitModel()
	vs := newSpace(t, model)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	model.GetHook = func(string) error { clock.Advance(time.Second); return nil }

	var reports []Progress
	d, err := NewDriver(vs, []string{"profit"},
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithProgress(func(p Progress) { reports = append(reports, p) }))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 120, 50)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, res.Elapsed)

	require.Len(t, reports, 3)

	assert.Equal(t, 0, reports[0].Completed)
	assert.False(t, reports[0].RemainingKnown)
	assert.Contains(t, reports[0].String(), "est. unknown remaining")

	assert.Equal(t, 50, reports[1].Completed)
	assert.Equal(t, 50*time.Second, reports[1].Elapsed)
	assert.Equal(t, 50*time.Second, reports[1].LastInterval)
	assert.True(t, reports[1].RemainingKnown)
	assert.Equal(t, 70*time.Second, reports[1].Remaining)

	assert.Equal(t, 100, reports[2].Completed)
	assert.Equal(t, 50*time.Second, reports[2].LastInterval)
	assert.Equal(t, 20*time.Second, reports[2].Remaining)
	assert.Equal(t, "100 samples in 1.67mins, last batch in 50.00s, est. 0.33 mins remaining", reports[2].String())
}

func TestRun_ReplacesPreviousBatches(t *testing.T) {
	d, err := NewDriver(newSpace(t, newProfitModel()), []string{"profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Nil(t, d.Inputs())
	assert.Nil(t, d.Outcomes())

	first, err := d.Run(context.Background(), 10, 0)
	require.NoError(t, err)
	second, err := d.Run(context.Background(), 4, 0)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Same(t, second, d.Last())
	assert.Equal(t, 4, d.Inputs().Len())
	assert.Equal(t, 4, d.Outcomes().Len())
}

func TestRun_ZeroAndNegativeSize(t *testing.T) {
	var reports int
	d, err := NewDriver(newSpace(t, newProfitModel()), []string{"profit"},
		WithLogger(quietLogger()), WithProgress(func(Progress) { reports++ }))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inputs.Len())
	assert.Equal(t, []string{"price", "volume"}, res.Inputs.Columns)
	assert.Equal(t, 0, res.Outcomes.Len())
	assert.Equal(t, []string{"profit"}, res.Outcomes.Columns)
	assert.Zero(t, reports)

	_, err = d.Run(context.Background(), -1, 0)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}

func TestRun_CancellationKeepsCompletedRows(t *testing.T) {
	model := newProfitModel()
	vs := newSpace(t, model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reads := 0
	model.GetHook = func(string) error {
		reads++
		// first read is the output check
		if reads == 7 {
			cancel()
		}
		return nil
	}

	d, err := NewDriver(vs, []string{"profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(ctx, 100, 0)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.True(t, res.Canceled)
	assert.Equal(t, 100, res.Inputs.Len())
	assert.Equal(t, 6, res.Outcomes.Len())
	assert.Len(t, res.Rows, 6)
	assert.Empty(t, res.Failures)
	assert.Same(t, res, d.Last())
}

func TestNewDriver_Outputs(t *testing.T) {
	d, err := NewDriver(newSpace(t, newProfitModel()), []string{"profit", "", "profit", "revenue"})
	require.NoError(t, err)
	assert.Equal(t, []string{"profit", "profit", "revenue"}, d.Outputs())

	res, err := d.Run(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, 5, res.Outcomes.Len())
	assert.Equal(t, res.Outcomes.Rows[0][0], res.Outcomes.Rows[0][1])
}

func TestNewDriver_WithModelOverride(t *testing.T) {
	other := newProfitModel()
	d, err := NewDriver(newSpace(t, newProfitModel()), []string{"profit"}, WithModel(other), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Len(t, other.Writes(), 6)
}

func TestNewDriver_RequiresSpace(t *testing.T) {
	_, err := NewDriver(nil, []string{"profit"})
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}

func TestRun_UnknownOutputFailsBeforeSampling(t *testing.T) {
	model := newProfitModel()
	d, err := NewDriver(newSpace(t, model), []string{"profit", "no_such_cell", "no_such_cell"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), 200, 0)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Nil(t, d.Last())
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrConfiguration))
	assert.True(t, errors.Is(err, memory.ErrUnknownCell))
	assert.Contains(t, err.Error(), `output "no_such_cell"`)
	assert.Empty(t, model.Writes(), "no row may be written")
}

func TestCheckOutputs_Canceled(t *testing.T) {
	d, err := NewDriver(newSpace(t, newProfitModel()), []string{"profit"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.CheckOutputs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestInjectionFault_FormatInputs(t *testing.T) {
	f := &InjectionFault{Kind: FaultRead, Row: 2, Cell: "profit", Inputs: map[string]float64{"volume": 100, "price": 4.5}}
	assert.Equal(t, "price=4.5, volume=100", f.FormatInputs())
	assert.Equal(t, "", (&InjectionFault{}).FormatInputs())
}
