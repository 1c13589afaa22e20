package trader

import (
	"backtest-engine-go/internal/models"
)

// Records converts the result into its persisted form.
func (r *Result) Records() (*models.BacktestRun, []models.TradeRecord) {
	run := &models.BacktestRun{
		RunID:         r.RunID,
		Strategy:      r.Strategy,
		StartTime:     r.Start.Unix(),
		EndTime:       r.End.Unix(),
		Step:          r.Step.String(),
		Steps:         r.Steps,
		StartingCash:  r.Account.StartingCash,
		FinalCash:     r.Account.Cash,
		RealizedPnL:   r.Account.RealizedPnL,
		OpenPositions: len(r.Account.Positions),
		WallMillis:    r.Wall.Milliseconds(),
	}

	trades := make([]models.TradeRecord, 0, len(r.Account.History))
	for _, t := range r.Account.History {
		rec := models.TradeRecord{
			RunID:       r.RunID,
			TradeID:     t.ID,
			Symbol:      t.Contract.Symbol,
			LocalSymbol: t.Contract.Key(),
			SecType:     string(t.Contract.SecType),
			Action:      string(t.Order.Action),
			OrderType:   string(t.Order.Type),
			Quantity:    t.Order.Quantity,
			LimitPrice:  t.Order.LimitPrice,
			Status:      string(t.Status),
			CashEffect:  t.CashEffect,
		}
		if n := len(t.Log); n > 0 {
			rec.Timestamp = t.Log[n-1].Time.Unix()
		}
		for _, f := range t.Fills {
			rec.FillPrice = f.Price
			rec.Fills = append(rec.Fills, models.FillRecord{
				Timestamp:  f.Time.Unix(),
				Shares:     f.Shares,
				Price:      f.Price,
				Commission: f.Commission,
			})
		}
		trades = append(trades, rec)
	}
	return run, trades
}
