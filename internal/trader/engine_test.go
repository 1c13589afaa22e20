package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"backtest-engine-go/internal/broker"
	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/models"
	"backtest-engine-go/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStrategy is a mock implementation of the Strategy interface.
type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) Name() string { return "mock" }

func (m *MockStrategy) OnStart(ctx context.Context, sc StrategyContext) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *MockStrategy) Tick(ctx context.Context, sc StrategyContext) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *MockStrategy) OnFinish(ctx context.Context, sc StrategyContext) error {
	return m.Called(ctx, sc).Error(0)
}

// updatingStrategy records data updates on top of the mock.
type updatingStrategy struct {
	MockStrategy
	updated []string
}

func (s *updatingStrategy) UpdateData(symbol string, series *marketdata.Series) error {
	s.updated = append(s.updated, symbol)
	return series.SetColumn("double", []float64{200, 202, 204})
}

// tickFuncStrategy calls tick on every step.
type tickFuncStrategy struct {
	tick     func(sc StrategyContext) error
	ticks    int
	finished bool
}

func (s *tickFuncStrategy) Name() string { return "func" }

func (s *tickFuncStrategy) OnStart(context.Context, StrategyContext) error { return nil }

func (s *tickFuncStrategy) Tick(_ context.Context, sc StrategyContext) error {
	s.ticks++
	return s.tick(sc)
}

func (s *tickFuncStrategy) OnFinish(context.Context, StrategyContext) error {
	s.finished = true
	return nil
}

// failingModel prices every option with missing historical data.
type failingModel struct{}

func (failingModel) Kind() pricing.Kind { return pricing.KindHistorical }

func (failingModel) Price(context.Context, models.Contract, pricing.Inputs) (float64, error) {
	return 0, pricing.ErrNoData
}

func (failingModel) Chain(context.Context, models.Contract, pricing.Inputs, int) (pricing.Chain, error) {
	return pricing.Chain{}, pricing.ErrNoData
}

func minute(m int) time.Time {
	return time.Date(2024, 1, 10, 9, 30+m, 0, 0, time.UTC)
}

func esSeries() *marketdata.Series {
	return marketdata.NewSeries("ES", []marketdata.Bar{
		{Time: minute(0), Close: 100, IV: 0.2},
		{Time: minute(1), Close: 101, IV: 0.2},
		{Time: minute(2), Close: 102, IV: 0.2},
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Backtest: config.Backtest{
			Start:     "20240110T09:30",
			End:       "20240110T09:34",
			Step:      time.Minute,
			StartCash: 10000,
			Quantity:  1,
		},
		Data: []config.DataSet{{Symbol: "ES", SecType: "FUT", Expiry: "202403", Exchange: "CME", Multiplier: 50}},
	}
}

// setupEngine creates an engine over the ES test series.
func setupEngine(t *testing.T, cfg *config.Config, strategy Strategy, pm map[string]pricing.Model) (*Engine, *broker.Broker) {
	t.Helper()
	datas := map[string]*marketdata.Series{"ES": esSeries()}
	brk := broker.New(datas, pm, broker.Options{StartingCash: cfg.Backtest.StartCash}, zap.NewNop())
	return NewEngine(zap.NewNop(), cfg, brk, strategy, datas, pm), brk
}

func TestEngine_Run_StepsInclusive(t *testing.T) {
	// Arrange
	strategy := new(MockStrategy)
	engine, _ := setupEngine(t, testConfig(), strategy, nil)

	var ticks []time.Time
	strategy.On("OnStart", mock.Anything, mock.Anything).Return(nil).Once()
	strategy.On("Tick", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sc := args.Get(1).(StrategyContext)
		ticks = append(ticks, sc.Now())
		assert.Equal(t, sc.Now(), sc.Data["ES"].Now(), "cursor and broker share the step time")
	}).Return(nil)
	strategy.On("OnFinish", mock.Anything, mock.Anything).Return(nil).Once()

	// Act
	result, err := engine.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []time.Time{minute(0), minute(1), minute(2), minute(3), minute(4)}, ticks)
	assert.Equal(t, 5, result.Steps)
	assert.Equal(t, minute(0), result.Start)
	assert.Equal(t, minute(4), result.End)
	assert.Equal(t, "mock", result.Strategy)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 10000.0, result.Account.Cash)
	assert.False(t, engine.Status().Running)
	assert.Equal(t, 5, engine.Status().Steps)
	strategy.AssertExpectations(t)
}

func TestEngine_Run_SettlesOrdersInTheStepTheyArePlaced(t *testing.T) {
	// Arrange
	strategy := new(MockStrategy)
	engine, brk := setupEngine(t, testConfig(), strategy, nil)
	es := models.Future("ES", "202403", "CME", 50)

	var placed *models.Trade
	strategy.On("OnStart", mock.Anything, mock.Anything).Return(nil)
	strategy.On("Tick", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sc := args.Get(1).(StrategyContext)
		if sc.Now().Equal(minute(1)) {
			// The previous step's settlement has run and nothing is filled yet.
			assert.Empty(t, sc.Broker.Trades())
			trade, err := sc.Broker.PlaceOrder(es, models.MarketOrder(models.ActionBuy, 1))
			require.NoError(t, err)
			assert.Equal(t, models.StatusSubmitted, trade.Status)
			placed = trade
		}
		if sc.Now().Equal(minute(2)) {
			assert.Equal(t, models.StatusFilled, placed.Status)
		}
	}).Return(nil)
	strategy.On("OnFinish", mock.Anything, mock.Anything).Return(nil)

	// Act
	result, err := engine.Run(context.Background())

	// Assert
	require.NoError(t, err)
	require.NotNil(t, placed)
	require.Len(t, placed.Log, 3)
	assert.Equal(t, "Fill 1.0@101.00", placed.Log[1].Message)
	assert.Equal(t, models.StatusFilled, placed.Log[2].Status)
	assert.Equal(t, minute(1), placed.Log[2].Time)
	assert.Equal(t, 10000.0-101*50, brk.CashBalance())
	assert.Len(t, result.Account.History, 1)
	assert.Len(t, result.Account.Positions, 1)
}

func TestEngine_Run_FatalErrorsStopTheRun(t *testing.T) {
	fop := models.FuturesOption("ES", "20240119", 100, models.RightCall, "CME", 50)
	errBoom := errors.New("boom")

	testCases := []struct {
		name    string
		tick    func(sc StrategyContext) error
		wantErr error
	}{
		{
			name:    "Strategy error",
			tick:    func(StrategyContext) error { return errBoom },
			wantErr: errBoom,
		},
		{
			name: "Missing historical data",
			tick: func(sc StrategyContext) error {
				_, err := sc.Broker.PlaceOrder(fop, models.MarketOrder(models.ActionBuy, 1))
				return err
			},
			wantErr: pricing.ErrNoData,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			strategy := &tickFuncStrategy{tick: tc.tick}
			engine, _ := setupEngine(t, testConfig(), strategy, map[string]pricing.Model{"ES": failingModel{}})

			// Act
			result, err := engine.Run(context.Background())

			// Assert
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, result)
			assert.Equal(t, 1, strategy.ticks, "no step runs after a fatal error")
			assert.False(t, strategy.finished)
		})
	}
}

func TestEngine_Run_DefaultsWindowToFirstDataSet(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest.Start, cfg.Backtest.End = "", ""
	strategy := &tickFuncStrategy{tick: func(StrategyContext) error { return nil }}
	engine, _ := setupEngine(t, cfg, strategy, nil)

	result, err := engine.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, minute(0), result.Start)
	assert.Equal(t, minute(2), result.End)
	assert.Equal(t, 3, strategy.ticks)
	assert.True(t, strategy.finished)
}

func TestEngine_Run_UpdatesDataBeforeStart(t *testing.T) {
	// Arrange
	strategy := &updatingStrategy{}
	engine, _ := setupEngine(t, testConfig(), strategy, nil)
	strategy.On("OnStart", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		assert.Equal(t, []string{"ES"}, strategy.updated)
	}).Return(nil)
	strategy.On("Tick", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sc := args.Get(1).(StrategyContext)
		if v, ok := sc.Data["ES"].Get("double", 0); ok {
			c, _ := sc.Data["ES"].Get(marketdata.FieldClose, 0)
			assert.Equal(t, 2*c, v)
		}
	}).Return(nil)
	strategy.On("OnFinish", mock.Anything, mock.Anything).Return(nil)

	// Act
	_, err := engine.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"ES"}, strategy.updated, "updated once per data set")
	strategy.AssertExpectations(t)
}

func TestEngine_Run_StopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := &tickFuncStrategy{tick: func(sc StrategyContext) error {
		if sc.Now().Equal(minute(1)) {
			cancel()
		}
		return nil
	}}
	engine, _ := setupEngine(t, testConfig(), strategy, nil)

	_, err := engine.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, strategy.ticks)
	assert.False(t, strategy.finished)
}
