package trader

import (
	"context"
	"fmt"
	"math"

	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/models"
	"backtest-engine-go/internal/pricing"
	"go.uber.org/zap"
)

// FieldTrend is the moving-average column the put writer adds to its data.
const FieldTrend = "sma"

// trendWindow is the number of bars averaged into FieldTrend.
const trendWindow = 20

// PutWriterStrategy sells one short-dated put at a target delta whenever it
// holds none, as long as the underlying trades at or above its moving average.
// Puts are held to expiry.
type PutWriterStrategy struct {
	underlying models.Contract
	open       *models.Trade
	written    int
	lastDelta  float64 // delta of the last put written, 0 without an analytic model
}

var _ DataUpdater = (*PutWriterStrategy)(nil)

// Name returns the unique name of the strategy.
func (s *PutWriterStrategy) Name() string {
	return "put_writer"
}

// UpdateData adds the trend column to every series.
func (s *PutWriterStrategy) UpdateData(_ string, series *marketdata.Series) error {
	closes, err := series.Column(marketdata.FieldClose)
	if err != nil {
		return err
	}
	return series.SetColumn(FieldTrend, movingAverage(closes, trendWindow))
}

func (s *PutWriterStrategy) OnStart(_ context.Context, sc StrategyContext) error {
	if len(sc.Cfg.Data) == 0 {
		return fmt.Errorf("no data set to trade")
	}
	c, err := contractFor(sc.Cfg.Data[0])
	if err != nil {
		return err
	}
	s.underlying = c
	sc.Logger.Info("PutWriterStrategy initialized",
		zap.String("underlying", c.Symbol),
		zap.Float64("target_delta", sc.Cfg.Backtest.TargetDelta))
	return nil
}

func (s *PutWriterStrategy) Tick(ctx context.Context, sc StrategyContext) error {
	if s.open != nil && !s.open.IsDone() {
		return nil
	}
	if s.holdsPut(sc) {
		return nil
	}
	cursor, ok := sc.Data[s.underlying.Symbol]
	if !ok || !cursor.HasBar() {
		return nil
	}
	last, _ := cursor.Get(marketdata.FieldClose, 0)
	if trend, ok := cursor.Get(FieldTrend, 0); ok && !math.IsNaN(trend) && last < trend {
		return nil
	}

	l := sc.Logger.With(zap.Time("time", sc.Now()))
	chain, err := sc.Broker.OptionsChain(ctx, s.underlying, sc.Cfg.Pricing.ChainDaysAhead)
	if err != nil {
		return fmt.Errorf("could not get options chain: %w", err)
	}
	expiry, expAt, ok := nextExpiration(chain.Expirations, sc.Now())
	if !ok || len(chain.Strikes) == 0 {
		l.Debug("No tradable expiration in chain")
		return nil
	}

	target := last
	bs, analytic := sc.Pricing[s.underlying.Symbol].(*pricing.BlackScholesModel)
	var in pricing.Inputs
	if analytic {
		if in, err = underlyingInputs(cursor); err != nil {
			return err
		}
		target = bs.StrikeForDelta(sc.Cfg.Backtest.TargetDelta, models.RightPut, expAt, in)
	}
	strike, _ := nearestStrike(chain.Strikes, target)

	put := sc.Broker.QualifyContracts(optionOn(s.underlying, expiry, strike, models.RightPut))[0]
	if analytic {
		delta, err := bs.Delta(put, in)
		if err != nil {
			return err
		}
		s.lastDelta = delta
		l = l.With(zap.Float64("delta", delta))
	}
	trade, err := sc.Broker.PlaceOrder(put, models.MarketOrder(models.ActionSell, sc.Cfg.Backtest.Quantity))
	if err != nil {
		return fmt.Errorf("could not write put %s: %w", put.Key(), err)
	}
	s.open = trade
	s.written++
	l.Info("Writing put",
		zap.String("contract", put.Key()),
		zap.Float64("underlying", last),
		zap.Float64("target_strike", target))
	return nil
}

func (s *PutWriterStrategy) OnFinish(_ context.Context, sc StrategyContext) error {
	sc.Logger.Info("PutWriterStrategy finished",
		zap.Int("puts_written", s.written),
		zap.Float64("cash", sc.Broker.CashBalance()))
	return nil
}

func (s *PutWriterStrategy) holdsPut(sc StrategyContext) bool {
	for _, p := range sc.Broker.Positions() {
		if p.Contract.Symbol == s.underlying.Symbol && p.Contract.Right == models.RightPut && p.Quantity < 0 {
			return true
		}
	}
	return false
}
