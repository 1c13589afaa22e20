package broker

import (
	"fmt"
	"math"

	"backtest-engine-go/internal/models"
)

// qtyEpsilon absorbs float noise when a position is flattened by fractional fills.
const qtyEpsilon = 1e-9

// AvgCostMode selects how a position's average cost changes when fills merge into it.
type AvgCostMode int

const (
	// AvgCostWeighted weights each side by its own quantity when a position
	// grows, keeps the cost when it shrinks, and restarts at the incoming cost
	// when it flips sign.
	AvgCostWeighted AvgCostMode = iota
	// AvgCostLegacy sums the two average costs and divides by the new long
	// quantity, otherwise keeps the old cost. Kept for comparison with results
	// produced by earlier versions of the simulator.
	AvgCostLegacy
)

// ParseAvgCostMode converts a configuration value into an AvgCostMode.
func ParseAvgCostMode(s string) (AvgCostMode, error) {
	switch s {
	case "", "weighted":
		return AvgCostWeighted, nil
	case "legacy":
		return AvgCostLegacy, nil
	default:
		return 0, fmt.Errorf("unknown average cost mode %q", s)
	}
}

// Ledger is the account's cash and position book. Cash and realized PnL only
// change through ApplyCashEffect.
type Ledger struct {
	startingCash float64
	cash         float64
	realizedPnL  float64
	mode         AvgCostMode

	positions map[string]*models.Position
	keys      []string // insertion order of positions
}

// NewLedger creates a ledger holding startingCash and no positions.
func NewLedger(startingCash float64, mode AvgCostMode) *Ledger {
	return &Ledger{
		startingCash: startingCash,
		cash:         startingCash,
		mode:         mode,
		positions:    make(map[string]*models.Position),
	}
}

func (l *Ledger) StartingCash() float64 { return l.startingCash }
func (l *Ledger) Cash() float64 { return l.cash }
func (l *Ledger) RealizedPnL() float64 { return l.realizedPnL }

// ApplyCashEffect adds a signed amount to the balance and to realized PnL.
func (l *Ledger) ApplyCashEffect(amount float64) {
	l.cash += amount
	l.realizedPnL += amount
}

// Position returns the open position in the contract with the given key.
func (l *Ledger) Position(key string) (models.Position, bool) {
	p, ok := l.positions[key]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Positions returns the open positions in the order they were opened.
func (l *Ledger) Positions() []models.Position {
	out := make([]models.Position, 0, len(l.keys))
	for _, k := range l.keys {
		out = append(out, *l.positions[k])
	}
	return out
}

// MergePosition folds a fill's position into the book. A position whose
// quantity returns to zero is removed.
func (l *Ledger) MergePosition(incoming models.Position) {
	key := incoming.Contract.Key()
	old, ok := l.positions[key]
	if !ok {
		if !isZero(incoming.Quantity) {
			p := incoming
			l.positions[key] = &p
			l.keys = append(l.keys, key)
		}
		return
	}

	newQty := old.Quantity + incoming.Quantity
	if isZero(newQty) {
		l.remove(key)
		return
	}

	old.AvgCost = l.mergedCost(*old, incoming, newQty)
	old.Quantity = newQty
}

func (l *Ledger) mergedCost(old, incoming models.Position, newQty float64) float64 {
	if l.mode == AvgCostLegacy {
		if newQty > 0 {
			return (old.AvgCost + incoming.AvgCost) / newQty
		}
		return old.AvgCost
	}

	switch {
	case sameSign(old.Quantity, incoming.Quantity):
		total := math.Abs(old.Quantity)*old.AvgCost + math.Abs(incoming.Quantity)*incoming.AvgCost
		return total / math.Abs(newQty)
	case sameSign(old.Quantity, newQty):
		return old.AvgCost
	default:
		return incoming.AvgCost
	}
}

func (l *Ledger) remove(key string) {
	delete(l.positions, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

func isZero(q float64) bool { return math.Abs(q) < qtyEpsilon }

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }
