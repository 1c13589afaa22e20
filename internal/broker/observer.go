package broker

import (
	"time"

	"backtest-engine-go/internal/models"
)

// EventKind names a trade state transition.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventFilled    EventKind = "filled"
	EventCancelled EventKind = "cancelled"
)

// TradeEvent describes one state transition of a trade.
type TradeEvent struct {
	Kind        EventKind
	Time        time.Time
	Trade       *models.Trade
	Fill        *models.Fill // set for EventFilled
	Expiry      bool         // the transition was forced by contract expiry
	CashBalance float64      // balance after the transition
}

// Observer is notified of every trade state transition.
type Observer interface {
	OnTradeEvent(ev TradeEvent)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ev TradeEvent)

func (f ObserverFunc) OnTradeEvent(ev TradeEvent) { f(ev) }

// StepReport lists the trades that reached a terminal state in one settlement.
type StepReport struct {
	Time      time.Time
	Expired   []*models.Trade // closing trades synthesized for expired positions
	Filled    []*models.Trade
	Cancelled []*models.Trade
}
