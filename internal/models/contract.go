package models

import (
	"fmt"
	"strconv"
	"time"
)

// SecType is the kind of instrument a Contract describes.
type SecType string

const (
	SecTypeStock         SecType = "STK"
	SecTypeFuture        SecType = "FUT"
	SecTypeOption        SecType = "OPT"
	SecTypeFuturesOption SecType = "FOP"
)

// Right is the side of an option contract.
type Right string

const (
	RightNone Right = ""
	RightCall Right = "C"
	RightPut  Right = "P"
)

// ExpiryHour is the time of day (market close) at which a contract expires.
const ExpiryHour = 16

// Contract identifies a tradable instrument. It should not be modified once it
// has been qualified by a broker.
type Contract struct {
	Symbol      string  `json:"symbol"`
	SecType     SecType `json:"sec_type"`
	Expiry      string  `json:"expiry,omitempty"` // YYYYMMDD, or YYYYMM for futures months
	Strike      float64 `json:"strike,omitempty"`
	Right       Right   `json:"right,omitempty"`
	Multiplier  float64 `json:"multiplier"`
	Exchange    string  `json:"exchange,omitempty"`
	LocalSymbol string  `json:"local_symbol,omitempty"`
}

// Stock returns an equity contract.
func Stock(symbol, exchange string) Contract {
	return Contract{Symbol: symbol, SecType: SecTypeStock, Multiplier: 1, Exchange: exchange}
}

// Future returns a futures contract for the given contract month or date.
func Future(symbol, expiry, exchange string, multiplier float64) Contract {
	return Contract{Symbol: symbol, SecType: SecTypeFuture, Expiry: expiry, Multiplier: multiplier, Exchange: exchange}
}

// Option returns an equity option contract.
func Option(symbol, expiry string, strike float64, right Right, exchange string) Contract {
	return Contract{
		Symbol:     symbol,
		SecType:    SecTypeOption,
		Expiry:     expiry,
		Strike:     strike,
		Right:      right,
		Multiplier: 100,
		Exchange:   exchange,
	}
}

// FuturesOption returns an option on a futures contract.
func FuturesOption(symbol, expiry string, strike float64, right Right, exchange string, multiplier float64) Contract {
	return Contract{
		Symbol:     symbol,
		SecType:    SecTypeFuturesOption,
		Expiry:     expiry,
		Strike:     strike,
		Right:      right,
		Multiplier: multiplier,
		Exchange:   exchange,
	}
}

// IsDerivativeOption reports whether the contract must be priced by an options model.
func (c Contract) IsDerivativeOption() bool {
	return c.SecType == SecTypeOption || c.SecType == SecTypeFuturesOption
}

// Key is the identity used to match positions and pending trades.
func (c Contract) Key() string {
	if c.LocalSymbol != "" {
		return c.LocalSymbol
	}
	return c.BuildLocalSymbol()
}

// BuildLocalSymbol derives a local symbol from the contract's fields.
func (c Contract) BuildLocalSymbol() string {
	if c.Strike == 0 && c.Right == RightNone {
		return c.Symbol + c.Expiry
	}
	return fmt.Sprintf("%s%s%s%s", c.Symbol, c.Expiry, c.Right, strconv.FormatFloat(c.Strike, 'f', -1, 64))
}

// ExpiresAt returns the instant the contract stops trading, in loc. Contracts
// without an expiry (stocks) return the zero time and false.
func (c Contract) ExpiresAt(loc *time.Location) (time.Time, bool, error) {
	if c.Expiry == "" {
		return time.Time{}, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	switch len(c.Expiry) {
	case 8:
		d, err := time.ParseInLocation("20060102", c.Expiry, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid expiry %q for %s: %w", c.Expiry, c.Symbol, err)
		}
		return d.Add(ExpiryHour * time.Hour), true, nil
	case 6:
		// Contract month: settle at the close of the month's last calendar day.
		m, err := time.ParseInLocation("200601", c.Expiry, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid expiry %q for %s: %w", c.Expiry, c.Symbol, err)
		}
		return m.AddDate(0, 1, -1).Add(ExpiryHour * time.Hour), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("invalid expiry %q for %s", c.Expiry, c.Symbol)
	}
}

// IsExpired reports whether the contract has expired as of now.
func (c Contract) IsExpired(now time.Time) (bool, error) {
	exp, ok, err := c.ExpiresAt(now.Location())
	if err != nil || !ok {
		return false, err
	}
	return !now.Before(exp), nil
}
