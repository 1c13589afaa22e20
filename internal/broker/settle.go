package broker

import (
	"context"
	"fmt"
	"math"

	"backtest-engine-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Settle runs one settlement step at the broker's current time: positions in
// expired contracts are closed and trades on expired contracts cancelled,
// then every pending trade is executed, cancelled or left pending.
//
// An error means the account can no longer be trusted and the run must stop.
func (b *Broker) Settle(ctx context.Context) (StepReport, error) {
	report := StepReport{Time: b.now}

	if err := b.handleContractExpiry(ctx, &report); err != nil {
		return report, err
	}
	if err := b.handleOpenTrades(ctx, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (b *Broker) handleContractExpiry(ctx context.Context, report *StepReport) error {
	for _, pos := range b.ledger.Positions() {
		expired, err := pos.Contract.IsExpired(b.now)
		if err != nil {
			return err
		}
		if !expired {
			continue
		}

		// Expired contracts settle to cash; assignment is not modelled.
		action := models.ActionSell
		if pos.Quantity < 0 {
			action = models.ActionBuy
		}
		closing := models.NewTrade(uuid.NewString(), pos.Contract, models.MarketOrder(action, math.Abs(pos.Quantity)), b.now)

		price, err := b.Price(ctx, pos.Contract)
		if err != nil {
			return fmt.Errorf("failed to settle expired %s: %w", pos.Contract.Key(), err)
		}
		if err := b.execute(closing, b.cashEffect(pos.Contract, closing.Order, price), true); err != nil {
			return err
		}
		report.Expired = append(report.Expired, closing)
	}

	// Nothing on an expired contract can trade any more.
	for _, trade := range b.OpenTrades() {
		expired, err := trade.Contract.IsExpired(b.now)
		if err != nil {
			return err
		}
		if !expired {
			continue
		}
		b.removePending(trade)
		if err := b.cancel(trade, "contract expired", true); err != nil {
			return err
		}
		report.Cancelled = append(report.Cancelled, trade)
	}
	return nil
}

func (b *Broker) handleOpenTrades(ctx context.Context, report *StepReport) error {
	for _, trade := range b.OpenTrades() {
		if err := trade.Order.Validate(); err != nil {
			return fmt.Errorf("cannot settle trade %s: %w", trade.ID, err)
		}

		price, err := b.Price(ctx, trade.Contract)
		if err != nil {
			return err
		}
		cashEff := b.cashEffect(trade.Contract, trade.Order, price)

		expired, err := trade.Contract.IsExpired(b.now)
		if err != nil {
			return err
		}
		ok, err := b.admissible(trade.Contract, trade.Order, cashEff, expired)
		if err != nil {
			return err
		}

		switch {
		case ok:
			b.removePending(trade)
			if err := b.execute(trade, cashEff, false); err != nil {
				return err
			}
			report.Filled = append(report.Filled, trade)
		case trade.Order.Type == models.OrderTypeMarket || b.opts.CancelOnReject:
			b.removePending(trade)
			if err := b.cancel(trade, "rejected", false); err != nil {
				return err
			}
			report.Cancelled = append(report.Cancelled, trade)
		}
	}
	return nil
}

// admissible decides whether an order may execute with the given cash effect.
func (b *Broker) admissible(contract models.Contract, order models.Order, cashEff float64, expired bool) (bool, error) {
	solvent := b.ledger.Cash()+cashEff > 0

	switch order.Type {
	case models.OrderTypeMarket:
		return !expired && solvent, nil
	case models.OrderTypeLimit:
		limit := order.Quantity * multiplierOrOne(contract.Multiplier) * order.LimitPrice
		var inLimit bool
		if order.Action == models.ActionBuy {
			inLimit = math.Abs(cashEff) <= limit
		} else {
			inLimit = math.Abs(cashEff) >= limit
		}
		return !expired && inLimit && solvent, nil
	default:
		return false, fmt.Errorf("%w: %q", models.ErrUnsupportedOrderKind, order.Type)
	}
}

// execute fills the whole trade at one price, books the position and cash.
// Commissions and partial fills are not modelled.
func (b *Broker) execute(trade *models.Trade, cashEff float64, expiry bool) error {
	qty := trade.Order.SignedQuantity()
	avgCost := math.Abs(cashEff) / trade.Order.Quantity

	b.ledger.MergePosition(models.Position{Contract: trade.Contract, Quantity: qty, AvgCost: avgCost})
	b.ledger.ApplyCashEffect(cashEff)

	// Fill prices are quoted per unit of the underlying, not per contract.
	fill := models.Fill{
		Time:     b.now,
		Exchange: trade.Contract.Exchange,
		Shares:   qty,
		Price:    avgCost / multiplierOrOne(trade.Contract.Multiplier),
	}
	if err := trade.MarkFilled(b.now, fill, cashEff); err != nil {
		return err
	}
	b.history = append(b.history, trade)

	b.logger.Info("Trade filled",
		zap.String("trade_id", trade.ID),
		zap.String("contract", trade.Contract.Key()),
		zap.String("action", string(trade.Order.Action)),
		zap.Float64("quantity", trade.Order.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("cash_effect", cashEff),
		zap.Float64("cash", b.ledger.Cash()),
		zap.Bool("expiry", expiry),
		zap.Time("time", b.now))
	b.notify(TradeEvent{Kind: EventFilled, Time: b.now, Trade: trade, Fill: &trade.Fills[len(trade.Fills)-1], Expiry: expiry, CashBalance: b.ledger.Cash()})
	return nil
}

// cancel moves a trade that is no longer pending to Cancelled. The ledger is
// not touched.
func (b *Broker) cancel(trade *models.Trade, reason string, expiry bool) error {
	if err := trade.MarkCancelled(b.now, reason); err != nil {
		return err
	}
	b.history = append(b.history, trade)

	b.logger.Info("Trade cancelled",
		zap.String("trade_id", trade.ID),
		zap.String("contract", trade.Contract.Key()),
		zap.String("reason", reason),
		zap.Time("time", b.now))
	b.notify(TradeEvent{Kind: EventCancelled, Time: b.now, Trade: trade, Expiry: expiry, CashBalance: b.ledger.Cash()})
	return nil
}
