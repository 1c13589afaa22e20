// Package marketdata holds the bar series a backtest runs over and the
// cursors strategies read them through.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoBar is returned when no bar exists at or before the requested time.
	ErrNoBar = errors.New("no bar at or before time")
	// ErrUnknownField is returned for a field a bar does not carry.
	ErrUnknownField = errors.New("unknown bar field")
)

// Standard bar fields.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
	FieldIV     = "iv"
)

// Bar is one interval of market data. IV is NaN when the source has none.
type Bar struct {
	Time   time.Time          `json:"date"`
	Open   float64            `json:"open"`
	High   float64            `json:"high"`
	Low    float64            `json:"low"`
	Close  float64            `json:"close"`
	Volume float64            `json:"volume"`
	IV     float64            `json:"iv"`
	Extra  map[string]float64 `json:"extra,omitempty"`
}

// Field returns a named value of the bar.
func (b Bar) Field(name string) (float64, bool) {
	switch strings.ToLower(name) {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	case FieldVolume:
		return b.Volume, true
	case FieldIV:
		return b.IV, true
	}
	v, ok := b.Extra[name]
	return v, ok
}

// Series is the time-ordered bars of one symbol. Bar times are unique and
// strictly increasing.
type Series struct {
	Symbol string
	bars   []Bar
}

// NewSeries sorts bars by time and drops duplicate timestamps, keeping the
// first occurrence.
func NewSeries(symbol string, bars []Bar) *Series {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	deduped := sorted[:0]
	for i, b := range sorted {
		if i > 0 && b.Time.Equal(deduped[len(deduped)-1].Time) {
			continue
		}
		deduped = append(deduped, b)
	}
	return &Series{Symbol: symbol, bars: deduped}
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns a copy of the bars.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Start returns the time of the first bar.
func (s *Series) Start() (time.Time, error) {
	if len(s.bars) == 0 {
		return time.Time{}, fmt.Errorf("series %s is empty", s.Symbol)
	}
	return s.bars[0].Time, nil
}

// End returns the time of the last bar.
func (s *Series) End() (time.Time, error) {
	if len(s.bars) == 0 {
		return time.Time{}, fmt.Errorf("series %s is empty", s.Symbol)
	}
	return s.bars[len(s.bars)-1].Time, nil
}

// Exists reports whether a bar has exactly time t.
func (s *Series) Exists(t time.Time) bool {
	_, ok := s.indexAt(t)
	return ok
}

// At returns field of the bar barsAgo bars before the bar at exactly t. It
// reports false when t has no bar, the offset is negative or runs off the
// start, or the field is unknown.
func (s *Series) At(t time.Time, field string, barsAgo int) (float64, bool) {
	if barsAgo < 0 {
		return 0, false
	}
	i, ok := s.indexAt(t)
	if !ok {
		return 0, false
	}
	i -= barsAgo
	if i < 0 || i >= len(s.bars) {
		return 0, false
	}
	return s.bars[i].Field(field)
}

// AsOf returns field of the most recent bar at or before t.
func (s *Series) AsOf(t time.Time, field string) (float64, error) {
	b, err := s.BarAsOf(t)
	if err != nil {
		return 0, err
	}
	v, ok := b.Field(field)
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrUnknownField, field, s.Symbol)
	}
	return v, nil
}

// BarAsOf returns the most recent bar at or before t.
func (s *Series) BarAsOf(t time.Time) (Bar, error) {
	i := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(t) })
	if i == 0 {
		return Bar{}, fmt.Errorf("%w: %s at %s", ErrNoBar, s.Symbol, t.Format(time.DateTime))
	}
	return s.bars[i-1], nil
}

// SetColumn stores values, one per bar, under name in each bar's extra fields.
func (s *Series) SetColumn(name string, values []float64) error {
	if len(values) != len(s.bars) {
		return fmt.Errorf("column %s has %d values for %d bars", name, len(values), len(s.bars))
	}
	for i := range s.bars {
		if s.bars[i].Extra == nil {
			s.bars[i].Extra = make(map[string]float64)
		}
		s.bars[i].Extra[name] = values[i]
	}
	return nil
}

// Column returns field for every bar.
func (s *Series) Column(field string) ([]float64, error) {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		v, ok := b.Field(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownField, field, s.Symbol)
		}
		out[i] = v
	}
	return out, nil
}

// InterpolateIV fills missing (NaN) implied volatility linearly between known
// values. Trailing gaps take the last known value and leading gaps stay NaN.
func (s *Series) InterpolateIV() {
	prev := -1
	for i := range s.bars {
		if math.IsNaN(s.bars[i].IV) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			lo, hi := s.bars[prev].IV, s.bars[i].IV
			span := float64(i - prev)
			for j := prev + 1; j < i; j++ {
				s.bars[j].IV = lo + (hi-lo)*float64(j-prev)/span
			}
		}
		prev = i
	}
	if prev >= 0 {
		for j := prev + 1; j < len(s.bars); j++ {
			s.bars[j].IV = s.bars[prev].IV
		}
	}
}

func (s *Series) indexAt(t time.Time) (int, bool) {
	i := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Time.Before(t) })
	if i < len(s.bars) && s.bars[i].Time.Equal(t) {
		return i, true
	}
	return 0, false
}
