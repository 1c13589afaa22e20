package pricing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DaysPerYear   = 365
	SecondsPerDay = 86400

	// MinTimeToExpiry replaces a non-positive time to expiry so the model stays defined.
	MinTimeToExpiry = 1e-12

	DefaultRiskFreeRate = 0.25
)

var stdNormal = distuv.UnitNormal

// N is the standard normal cumulative distribution function.
func N(x float64) float64 {
	return stdNormal.CDF(x)
}

// TimeToExpirationYears returns the time from now to exp in fractions of a year.
// It is negative once exp has passed.
func TimeToExpirationYears(exp, now time.Time) float64 {
	return exp.Sub(now).Seconds() / (DaysPerYear * SecondsPerDay)
}

// CallPutPrice returns the Black-Scholes call and put price of a contract with
// strike K and t years to expiry, for underlying price S, volatility sigma,
// risk-free rate r and dividend yield q.
func CallPutPrice(S, K, t, sigma, r, q float64) (call, put float64) {
	d1 := calcD1(S, K, sigma, t, r, q)
	d2 := calcD2(d1, sigma, t)

	discS := S * math.Exp(-q*t)
	discK := K * math.Exp(-r*t)

	call = discS*N(d1) - discK*N(d2)
	put = discK*N(-d2) - discS*N(-d1)
	return call, put
}

// CallPutDelta returns the call and put delta.
func CallPutDelta(S, K, t, sigma, r, q float64) (call, put float64) {
	d1 := calcD1(S, K, sigma, t, r, q)
	disc := math.Exp(-q * t)
	return disc * N(d1), disc * (N(d1) - 1)
}

// StrikeForDelta returns the strike at which a call has the given delta.
func StrikeForDelta(delta, S, t, sigma, r, q float64) float64 {
	a := t * (r - q + sigma*sigma/2)
	b := delta / math.Exp(-q*t)
	d1 := stdNormal.Quantile(b)
	return S / math.Exp(sigma*math.Sqrt(t)*d1-a)
}

// StrikeForPutDelta returns the strike at which a put has the given (negative) delta.
func StrikeForPutDelta(delta, S, t, sigma, r, q float64) float64 {
	// Put delta is the call delta shifted by -e^{-qt}.
	return StrikeForDelta(delta+math.Exp(-q*t), S, t, sigma, r, q)
}

// StdDevPriceRange returns the n-standard-deviation price band around S.
func StdDevPriceRange(S, t, sigma float64, n int, r float64) (lower, upper float64) {
	drift := r * t
	spread := float64(n) * sigma * math.Sqrt(t)
	return S * math.Exp(drift-spread), S * math.Exp(drift+spread)
}

func calcD1(S, K, sigma, t, r, q float64) float64 {
	num := math.Log(S/K) + t*(r-q+sigma*sigma/2)
	return num / (sigma * math.Sqrt(t))
}

func calcD2(d1, sigma, t float64) float64 {
	return d1 - sigma*math.Sqrt(t)
}
