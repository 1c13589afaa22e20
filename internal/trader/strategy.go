package trader

import (
	"context"
	"fmt"
	"time"

	"backtest-engine-go/internal/broker"
	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/pricing"
	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the core components.
// Cursors are positioned by the engine before every Tick.
type StrategyContext struct {
	Logger  *zap.Logger
	Cfg     *config.Config
	Broker  *broker.Broker
	Data    map[string]*marketdata.Cursor
	Pricing map[string]pricing.Model
}

// Now returns the simulated time of the current step.
func (sc StrategyContext) Now() time.Time {
	return sc.Broker.Now()
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnStart is called once before the first step.
	OnStart(ctx context.Context, sc StrategyContext) error

	// Tick is called exactly once per simulated step, before settlement.
	Tick(ctx context.Context, sc StrategyContext) error

	// OnFinish is called once after the last step.
	OnFinish(ctx context.Context, sc StrategyContext) error
}

// DataUpdater is implemented by strategies that derive extra columns from a
// data series before the run starts.
type DataUpdater interface {
	UpdateData(symbol string, series *marketdata.Series) error
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "buy_and_hold":
		return &BuyAndHoldStrategy{}, nil
	case "put_writer":
		return &PutWriterStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
