package trader

import (
	"context"
	"fmt"

	"backtest-engine-go/internal/models"
	"go.uber.org/zap"
)

// BuyAndHoldStrategy buys the first configured symbol on the first step it
// has a bar and holds it to the end of the run.
type BuyAndHoldStrategy struct {
	contract models.Contract
	entry    *models.Trade
}

// Name returns the unique name of the strategy.
func (s *BuyAndHoldStrategy) Name() string {
	return "buy_and_hold"
}

func (s *BuyAndHoldStrategy) OnStart(_ context.Context, sc StrategyContext) error {
	if len(sc.Cfg.Data) == 0 {
		return fmt.Errorf("no data set to trade")
	}
	c, err := contractFor(sc.Cfg.Data[0])
	if err != nil {
		return err
	}
	s.contract = sc.Broker.QualifyContracts(c)[0]
	sc.Logger.Info("BuyAndHoldStrategy initialized", zap.String("contract", s.contract.Key()))
	return nil
}

// Tick places one market order, and places it again if it was rejected.
func (s *BuyAndHoldStrategy) Tick(_ context.Context, sc StrategyContext) error {
	if s.entry != nil && s.entry.Status != models.StatusCancelled {
		return nil
	}
	if cursor, ok := sc.Data[s.contract.Symbol]; !ok || !cursor.HasBar() {
		return nil
	}

	trade, err := sc.Broker.PlaceOrder(s.contract, models.MarketOrder(models.ActionBuy, sc.Cfg.Backtest.Quantity))
	if err != nil {
		return fmt.Errorf("could not place entry order: %w", err)
	}
	s.entry = trade
	sc.Logger.Info("Placed entry order", zap.String("trade_id", trade.ID), zap.Time("time", sc.Now()))
	return nil
}

func (s *BuyAndHoldStrategy) OnFinish(_ context.Context, sc StrategyContext) error {
	for _, p := range sc.Broker.Positions() {
		sc.Logger.Info("Holding position",
			zap.String("contract", p.Contract.Key()),
			zap.Float64("quantity", p.Quantity),
			zap.Float64("avg_cost", p.AvgCost))
	}
	return nil
}
