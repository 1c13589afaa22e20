// Package pricing supplies theoretical prices for option contracts when no
// live quote exists. A Model is chosen per underlying symbol when a backtest
// is configured and does not change during the run.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backtest-engine-go/internal/models"
	"go.uber.org/zap"
)

// ErrNoData is returned when no historical quote matches a contract.
var ErrNoData = errors.New("no historical option data")

// Kind names a pricing model.
type Kind string

const (
	KindBlackScholes Kind = "black_scholes"
	KindHistorical   Kind = "historical"
	KindNone         Kind = "none"
)

// ParseKind converts a configuration value into a Kind. An empty string
// selects Black-Scholes.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindBlackScholes:
		return KindBlackScholes, nil
	case KindHistorical:
		return KindHistorical, nil
	case KindNone:
		return KindNone, nil
	default:
		return "", fmt.Errorf("unknown options model %q", s)
	}
}

// Inputs is the market state a price is computed against.
type Inputs struct {
	Now        time.Time // wall-clock time in the exchange's zone; Unix() is the real instant
	Underlying float64   // last price of the underlying
	IV         float64   // last implied volatility of the underlying
}

// Chain lists the expirations and strikes available on an underlying.
type Chain struct {
	Exchange    string    `json:"exchange"`
	Multiplier  float64   `json:"multiplier"`
	Expirations []string  `json:"expirations"` // YYYYMMDD
	Strikes     []float64 `json:"strikes"`
}

// Model prices option contracts on one underlying.
type Model interface {
	Kind() Kind

	// Price returns the per-unit price of contract, before the multiplier.
	Price(ctx context.Context, contract models.Contract, in Inputs) (float64, error)

	// Chain returns the options available on underlying within daysAhead days.
	Chain(ctx context.Context, underlying models.Contract, in Inputs, daysAhead int) (Chain, error)
}

// Params holds the analytic model's market assumptions.
type Params struct {
	RiskFreeRate  float64
	DividendYield float64
}

// New builds the model of the given kind. store is only used by the
// historical model and must be set for it.
func New(kind Kind, params Params, store QuoteStore, logger *zap.Logger) (Model, error) {
	switch kind {
	case KindBlackScholes:
		return NewBlackScholesModel(params.RiskFreeRate, params.DividendYield), nil
	case KindHistorical:
		if store == nil {
			return nil, errors.New("historical options model requires a quote store")
		}
		return NewHistoricalModel(store, logger), nil
	case KindNone:
		return NewNoneModel(logger), nil
	default:
		return nil, fmt.Errorf("unknown options model %q", kind)
	}
}
