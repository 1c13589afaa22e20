// Package broker simulates order execution against a ledger of cash and
// positions, pricing contracts from market data and options models.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/models"
	"backtest-engine-go/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownSymbol is returned when a contract's symbol has no market data.
	ErrUnknownSymbol = errors.New("no market data for symbol")
	// ErrTimeWentBackwards is returned when the simulated clock is moved back.
	ErrTimeWentBackwards = errors.New("simulated time went backwards")
)

// Options configures a Broker.
type Options struct {
	StartingCash   float64
	CancelOnReject bool // cancel limit orders that cannot execute instead of keeping them
	AvgCostMode    AvgCostMode
}

// Account is a snapshot of the broker's account.
type Account struct {
	StartingCash float64           `json:"starting_cash"`
	Cash         float64           `json:"cash"`
	RealizedPnL  float64           `json:"realized_pnl"`
	Positions    []models.Position `json:"positions"`
	OpenTrades   []*models.Trade   `json:"open_trades"`
	History      []*models.Trade   `json:"history"`
}

// OrderState is the outcome an order would have if settled now.
type OrderState struct {
	Price        float64 `json:"price"`
	CashEffect   float64 `json:"cash_effect"`
	CashAfter    float64 `json:"cash_after"`
	WouldExecute bool    `json:"would_execute"`
}

// Broker is the simulated broker. It owns the ledger and the pending trades;
// nothing else mutates them. It is not safe for concurrent use: the engine
// calls it from a single goroutine, one step at a time.
type Broker struct {
	logger *zap.Logger
	opts   Options

	datas  map[string]*marketdata.Series
	models map[string]pricing.Model
	none   pricing.Model

	ledger    *Ledger
	pending   []*models.Trade
	history   []*models.Trade
	observers []Observer

	now time.Time
}

// New creates a broker over the given market data and per-symbol options models.
func New(datas map[string]*marketdata.Series, pricingModels map[string]pricing.Model, opts Options, logger *zap.Logger) *Broker {
	if pricingModels == nil {
		pricingModels = make(map[string]pricing.Model)
	}
	return &Broker{
		logger: logger.Named("broker"),
		opts:   opts,
		datas:  datas,
		models: pricingModels,
		none:   pricing.NewNoneModel(logger),
		ledger: NewLedger(opts.StartingCash, opts.AvgCostMode),
	}
}

// Subscribe registers an observer for trade events.
func (b *Broker) Subscribe(o Observer) {
	b.observers = append(b.observers, o)
}

// SetTime moves the broker's simulated clock to now.
func (b *Broker) SetTime(now time.Time) error {
	if now.Before(b.now) {
		return fmt.Errorf("%w: %s is before %s", ErrTimeWentBackwards, now, b.now)
	}
	b.now = now
	return nil
}

// Now returns the broker's simulated time.
func (b *Broker) Now() time.Time { return b.now }

func (b *Broker) BuyingPower() float64 { return b.ledger.Cash() }
func (b *Broker) CashBalance() float64 { return b.ledger.Cash() }
func (b *Broker) RealizedPnL() float64 { return b.ledger.RealizedPnL() }

// Positions returns the open positions.
func (b *Broker) Positions() []models.Position { return b.ledger.Positions() }

// OpenTrades returns the trades still waiting to be settled.
func (b *Broker) OpenTrades() []*models.Trade {
	out := make([]*models.Trade, len(b.pending))
	copy(out, b.pending)
	return out
}

// OpenOrders returns the orders of the open trades.
func (b *Broker) OpenOrders() []models.Order {
	out := make([]models.Order, 0, len(b.pending))
	for _, t := range b.pending {
		out = append(out, t.Order)
	}
	return out
}

// Trades returns every trade that reached a terminal state, oldest first.
func (b *Broker) Trades() []*models.Trade {
	out := make([]*models.Trade, len(b.history))
	copy(out, b.history)
	return out
}

// Account returns a snapshot of the account.
func (b *Broker) Account() Account {
	return Account{
		StartingCash: b.ledger.StartingCash(),
		Cash:         b.ledger.Cash(),
		RealizedPnL:  b.ledger.RealizedPnL(),
		Positions:    b.ledger.Positions(),
		OpenTrades:   b.OpenTrades(),
		History:      b.Trades(),
	}
}

// QualifyContracts fills in the local symbol of contracts that lack one.
func (b *Broker) QualifyContracts(contracts ...models.Contract) []models.Contract {
	out := make([]models.Contract, len(contracts))
	for i, c := range contracts {
		if c.LocalSymbol == "" {
			c.LocalSymbol = c.BuildLocalSymbol()
		}
		out[i] = c
	}
	return out
}

// PlaceOrder submits an order. It is evaluated at the next settlement.
func (b *Broker) PlaceOrder(contract models.Contract, order models.Order) (*models.Trade, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if _, ok := b.datas[contract.Symbol]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, contract.Symbol)
	}

	trade := models.NewTrade(uuid.NewString(), contract, order, b.now)
	b.pending = append(b.pending, trade)

	b.logger.Debug("Order submitted",
		zap.String("trade_id", trade.ID),
		zap.String("contract", contract.Key()),
		zap.String("action", string(order.Action)),
		zap.String("type", string(order.Type)),
		zap.Float64("quantity", order.Quantity))
	b.notify(TradeEvent{Kind: EventSubmitted, Time: b.now, Trade: trade, CashBalance: b.ledger.Cash()})
	return trade, nil
}

// CancelOrder cancels a pending trade.
func (b *Broker) CancelOrder(trade *models.Trade) error {
	if !b.removePending(trade) {
		return fmt.Errorf("trade %s is not open", trade.ID)
	}
	return b.cancel(trade, "cancelled by strategy", false)
}

// OptionsChain returns the options available on underlying from its pricing model.
func (b *Broker) OptionsChain(ctx context.Context, underlying models.Contract, daysAhead int) (pricing.Chain, error) {
	model := b.modelFor(underlying.Symbol)
	in, err := b.inputs(underlying.Symbol)
	if err != nil && model.Kind() == pricing.KindBlackScholes {
		return pricing.Chain{}, err
	}
	return model.Chain(ctx, underlying, in, daysAhead)
}

// WhatIfOrder reports what settling order now would do, without changing anything.
func (b *Broker) WhatIfOrder(ctx context.Context, contract models.Contract, order models.Order) (OrderState, error) {
	if err := order.Validate(); err != nil {
		return OrderState{}, err
	}
	price, err := b.Price(ctx, contract)
	if err != nil {
		return OrderState{}, err
	}
	cashEff := b.cashEffect(contract, order, price)
	expired, err := contract.IsExpired(b.now)
	if err != nil {
		return OrderState{}, err
	}
	ok, err := b.admissible(contract, order, cashEff, expired)
	if err != nil {
		return OrderState{}, err
	}
	return OrderState{
		Price:        price,
		CashEffect:   cashEff,
		CashAfter:    b.ledger.Cash() + cashEff,
		WouldExecute: ok,
	}, nil
}

// Price returns the current per-unit price of contract: the options model's
// price for options, the last close otherwise.
func (b *Broker) Price(ctx context.Context, contract models.Contract) (float64, error) {
	series, ok := b.datas[contract.Symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, contract.Symbol)
	}
	if !contract.IsDerivativeOption() {
		return series.AsOf(b.now, marketdata.FieldClose)
	}

	model := b.modelFor(contract.Symbol)
	if model.Kind() == pricing.KindNone {
		return model.Price(ctx, contract, pricing.Inputs{Now: b.now})
	}
	in, err := b.inputs(contract.Symbol)
	if err != nil {
		return 0, err
	}
	price, err := model.Price(ctx, contract, in)
	if err != nil {
		return 0, fmt.Errorf("failed to price %s: %w", contract.Key(), err)
	}
	return price, nil
}

func (b *Broker) inputs(symbol string) (pricing.Inputs, error) {
	in := pricing.Inputs{Now: b.now}
	series, ok := b.datas[symbol]
	if !ok {
		return in, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	bar, err := series.BarAsOf(b.now)
	if err != nil {
		return in, err
	}
	in.Underlying = bar.Close
	in.IV = bar.IV
	return in, nil
}

func (b *Broker) modelFor(symbol string) pricing.Model {
	if m, ok := b.models[symbol]; ok && m != nil {
		return m
	}
	return b.none
}

// cashEffect is the signed change in cash from trading order at price:
// negative for buys, positive for sells.
func (b *Broker) cashEffect(contract models.Contract, order models.Order, price float64) float64 {
	mult := contract.Multiplier
	if mult == 0 {
		b.logger.Warn("Contract has no multiplier, assuming 1", zap.String("contract", contract.Key()))
		mult = 1
	}
	return -order.Sign() * order.Quantity * mult * price
}

func (b *Broker) notify(ev TradeEvent) {
	for _, o := range b.observers {
		o.OnTradeEvent(ev)
	}
}

func (b *Broker) removePending(trade *models.Trade) bool {
	for i, t := range b.pending {
		if t == trade {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}

func multiplierOrOne(m float64) float64 {
	if m == 0 {
		return 1
	}
	return math.Abs(m)
}
