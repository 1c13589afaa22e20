package pricing

import (
	"context"

	"backtest-engine-go/internal/models"
	"go.uber.org/zap"
)

// NoneModel marks an underlying without an options model. Pricing its options
// yields zero and a warning instead of failing the run.
type NoneModel struct {
	logger *zap.Logger
}

var _ Model = (*NoneModel)(nil)

// NewNoneModel creates a NoneModel.
func NewNoneModel(logger *zap.Logger) *NoneModel {
	return &NoneModel{logger: logger.Named("pricing")}
}

func (m *NoneModel) Kind() Kind { return KindNone }

func (m *NoneModel) Price(_ context.Context, contract models.Contract, _ Inputs) (float64, error) {
	m.logger.Warn("Attempted to get option price for a contract with no options model",
		zap.String("contract", contract.Key()))
	return 0, nil
}

func (m *NoneModel) Chain(_ context.Context, underlying models.Contract, _ Inputs, _ int) (Chain, error) {
	m.logger.Warn("Attempted to get options chain for a contract with no options model",
		zap.String("symbol", underlying.Symbol))
	return Chain{}, nil
}
