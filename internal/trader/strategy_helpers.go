package trader

import (
	"fmt"
	"math"
	"time"

	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/models"
	"backtest-engine-go/internal/pricing"
)

// contractFor builds the contract a data set trades as.
func contractFor(ds config.DataSet) (models.Contract, error) {
	mult := ds.Multiplier
	switch models.SecType(ds.SecType) {
	case "", models.SecTypeStock:
		c := models.Stock(ds.Symbol, ds.Exchange)
		if mult != 0 {
			c.Multiplier = mult
		}
		return c, nil
	case models.SecTypeFuture:
		if mult == 0 {
			mult = 1
		}
		return models.Future(ds.Symbol, ds.Expiry, ds.Exchange, mult), nil
	default:
		return models.Contract{}, fmt.Errorf("data set %s: cannot trade sec_type %q as an underlying", ds.Symbol, ds.SecType)
	}
}

// optionOn returns the option on underlying: an equity option for stocks, a
// futures option sharing the future's multiplier otherwise.
func optionOn(underlying models.Contract, expiry string, strike float64, right models.Right) models.Contract {
	if underlying.SecType == models.SecTypeFuture {
		return models.FuturesOption(underlying.Symbol, expiry, strike, right, underlying.Exchange, underlying.Multiplier)
	}
	return models.Option(underlying.Symbol, expiry, strike, right, underlying.Exchange)
}

// nearestStrike returns the listed strike closest to target. Ties go to the
// lower strike.
func nearestStrike(strikes []float64, target float64) (float64, bool) {
	best, found := 0.0, false
	for _, k := range strikes {
		if !found || math.Abs(k-target) < math.Abs(best-target) ||
			(math.Abs(k-target) == math.Abs(best-target) && k < best) {
			best, found = k, true
		}
	}
	return best, found
}

// nextExpiration returns the earliest expiration that is still trading at now.
func nextExpiration(expirations []string, now time.Time) (string, time.Time, bool) {
	var (
		best   string
		bestAt time.Time
	)
	for _, exp := range expirations {
		at, ok, err := models.Contract{Expiry: exp}.ExpiresAt(now.Location())
		if err != nil || !ok || !at.After(now) {
			continue
		}
		if best == "" || at.Before(bestAt) {
			best, bestAt = exp, at
		}
	}
	return best, bestAt, best != ""
}

// underlyingInputs reads the pricing inputs for an option on the cursor's symbol.
func underlyingInputs(cursor *marketdata.Cursor) (pricing.Inputs, error) {
	last, err := cursor.GetLast(marketdata.FieldClose)
	if err != nil {
		return pricing.Inputs{}, err
	}
	iv, err := cursor.GetLast(marketdata.FieldIV)
	if err != nil {
		return pricing.Inputs{}, err
	}
	return pricing.Inputs{Now: cursor.Now(), Underlying: last, IV: iv}, nil
}

// movingAverage is the trailing simple moving average of values over window
// entries. Entries before a full window are NaN.
func movingAverage(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}
