package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrTradeDone is returned when a transition is attempted on a terminal trade.
var ErrTradeDone = errors.New("trade already done")

// TradeStatus is a step in a trade's lifecycle.
type TradeStatus string

const (
	StatusSubmitted TradeStatus = "Submitted"
	StatusFilled    TradeStatus = "Filled"
	StatusCancelled TradeStatus = "Cancelled"
)

// TradeLogEntry is one timestamped status change of a trade.
type TradeLogEntry struct {
	Time    time.Time   `json:"time"`
	Status  TradeStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Fill is a single execution of (part of) an order.
type Fill struct {
	Time       time.Time `json:"time"`
	Exchange   string    `json:"exchange"`
	Shares     float64   `json:"shares"` // signed
	Price      float64   `json:"price"`  // per unit of the underlying, i.e. divided by the multiplier
	Commission float64   `json:"commission"`
}

// Trade binds an order to its contract and records what happened to it.
type Trade struct {
	ID       string          `json:"id"`
	Contract Contract        `json:"contract"`
	Order    Order           `json:"order"`
	Status   TradeStatus     `json:"status"`
	Log      []TradeLogEntry `json:"log"`
	Fills    []Fill          `json:"fills"`

	// CashEffect is the signed change to account cash, set when filled.
	CashEffect float64 `json:"cash_effect"`
}

// NewTrade creates a trade in the Submitted state.
func NewTrade(id string, contract Contract, order Order, now time.Time) *Trade {
	return &Trade{
		ID:       id,
		Contract: contract,
		Order:    order,
		Status:   StatusSubmitted,
		Log:      []TradeLogEntry{{Time: now, Status: StatusSubmitted}},
	}
}

// IsDone reports whether the trade reached a terminal state.
func (t *Trade) IsDone() bool {
	return t.Status == StatusFilled || t.Status == StatusCancelled
}

// FilledQuantity is the signed sum of all fills.
func (t *Trade) FilledQuantity() float64 {
	var qty float64
	for _, f := range t.Fills {
		qty += f.Shares
	}
	return qty
}

// MarkFilled appends the fill and moves the trade to Filled.
func (t *Trade) MarkFilled(now time.Time, fill Fill, cashEffect float64) error {
	if t.IsDone() {
		return fmt.Errorf("%w: %s is %s", ErrTradeDone, t.ID, t.Status)
	}
	t.Fills = append(t.Fills, fill)
	t.CashEffect = cashEffect
	t.Log = append(t.Log,
		TradeLogEntry{Time: now, Status: StatusSubmitted, Message: fmt.Sprintf("Fill %.1f@%.2f", t.Order.Quantity, fill.Price)},
		TradeLogEntry{Time: now, Status: StatusFilled},
	)
	t.Status = StatusFilled
	return nil
}

// MarkCancelled moves the trade to Cancelled.
func (t *Trade) MarkCancelled(now time.Time, reason string) error {
	if t.IsDone() {
		return fmt.Errorf("%w: %s is %s", ErrTradeDone, t.ID, t.Status)
	}
	t.Log = append(t.Log, TradeLogEntry{Time: now, Status: StatusCancelled, Message: reason})
	t.Status = StatusCancelled
	return nil
}

// TradeRecord is a persisted trade from a backtest run.
type TradeRecord struct {
	gorm.Model
	RunID       string       `gorm:"index" json:"run_id"`
	TradeID     string       `gorm:"uniqueIndex" json:"trade_id"`
	Symbol      string       `json:"symbol"`
	LocalSymbol string       `json:"local_symbol"`
	SecType     string       `json:"sec_type"`
	Action      string       `json:"action"` // "BUY" or "SELL"
	OrderType   string       `json:"order_type"`
	Quantity    float64      `json:"quantity"`
	LimitPrice  float64      `json:"limit_price,omitempty"`
	Status      string       `json:"status"`
	FillPrice   float64      `json:"fill_price,omitempty"`
	CashEffect  float64      `json:"cash_effect"`
	Timestamp   int64        `json:"timestamp"` // simulated time of the last status change, unix seconds
	Fills       []FillRecord `gorm:"foreignKey:TradeRecordID" json:"fills,omitempty"`
}

// FillRecord is a persisted fill.
type FillRecord struct {
	gorm.Model
	TradeRecordID uint    `gorm:"index" json:"trade_record_id"`
	Timestamp     int64   `json:"timestamp"`
	Shares        float64 `json:"shares"`
	Price         float64 `json:"price"`
	Commission    float64 `json:"commission"`
}
