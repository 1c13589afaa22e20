package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"backtest-engine-go/internal/models"
)

const (
	chainDays       = 30
	chainStrikeStep = 5
	chainStrikeSpan = 100
)

// BlackScholesModel prices options analytically from the underlying's last
// price and implied volatility.
type BlackScholesModel struct {
	RiskFreeRate  float64
	DividendYield float64
}

var _ Model = (*BlackScholesModel)(nil)

// NewBlackScholesModel creates an analytic model.
func NewBlackScholesModel(riskFreeRate, dividendYield float64) *BlackScholesModel {
	return &BlackScholesModel{RiskFreeRate: riskFreeRate, DividendYield: dividendYield}
}

func (m *BlackScholesModel) Kind() Kind { return KindBlackScholes }

// Price returns the theoretical call or put price. Contracts at or past their
// expiration are priced with MinTimeToExpiry, which is meaningless once the
// contract has expired; expired positions are closed before that matters.
func (m *BlackScholesModel) Price(_ context.Context, contract models.Contract, in Inputs) (float64, error) {
	exp, ok, err := contract.ExpiresAt(in.Now.Location())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("contract %s has no expiry to price", contract.Key())
	}

	t := TimeToExpirationYears(exp, in.Now)
	if t <= 0 {
		t = MinTimeToExpiry
	}

	c, p := CallPutPrice(in.Underlying, contract.Strike, t, in.IV, m.RiskFreeRate, m.DividendYield)
	switch contract.Right {
	case models.RightCall:
		return c, nil
	case models.RightPut:
		return p, nil
	default:
		return 0, fmt.Errorf("contract %s has no option right", contract.Key())
	}
}

// Chain returns daily expirations for the next 30 days and strikes every 5
// points within 100 of the at-the-money strike.
func (m *BlackScholesModel) Chain(_ context.Context, underlying models.Contract, in Inputs, _ int) (Chain, error) {
	expirations := make([]string, 0, chainDays)
	for d := 0; d < chainDays; d++ {
		expirations = append(expirations, in.Now.AddDate(0, 0, d).Format("20060102"))
	}

	atm := chainStrikeStep * math.Round(in.Underlying/chainStrikeStep)
	strikes := make([]float64, 0, 2*chainStrikeSpan/chainStrikeStep)
	for k := atm - chainStrikeSpan; k < atm+chainStrikeSpan; k += chainStrikeStep {
		strikes = append(strikes, k)
	}

	return Chain{
		Exchange:    underlying.Exchange,
		Multiplier:  underlying.Multiplier,
		Expirations: expirations,
		Strikes:     strikes,
	}, nil
}

// Delta returns the delta of contract under this model.
func (m *BlackScholesModel) Delta(contract models.Contract, in Inputs) (float64, error) {
	exp, ok, err := contract.ExpiresAt(in.Now.Location())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("contract %s has no expiry", contract.Key())
	}
	t := math.Max(TimeToExpirationYears(exp, in.Now), MinTimeToExpiry)
	c, p := CallPutDelta(in.Underlying, contract.Strike, t, in.IV, m.RiskFreeRate, m.DividendYield)
	if contract.Right == models.RightPut {
		return p, nil
	}
	return c, nil
}

// StrikeForDelta returns the strike with the requested delta for an option on
// the given right expiring at exp.
func (m *BlackScholesModel) StrikeForDelta(delta float64, right models.Right, exp time.Time, in Inputs) float64 {
	t := math.Max(TimeToExpirationYears(exp, in.Now), MinTimeToExpiry)
	if right == models.RightPut {
		return StrikeForPutDelta(delta, in.Underlying, t, in.IV, m.RiskFreeRate, m.DividendYield)
	}
	return StrikeForDelta(delta, in.Underlying, t, in.IV, m.RiskFreeRate, m.DividendYield)
}
