package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"backtest-engine-go/internal/config"
)

// Source loads the bar series of a configured data set.
type Source interface {
	Load(ctx context.Context, ds config.DataSet) (*Series, error)
}

// FileSource loads bars from CSV files. Bar times are wall-clock times in
// Location, UTC when nil.
type FileSource struct {
	Location *time.Location
}

var _ Source = FileSource{}

func (s FileSource) Load(_ context.Context, ds config.DataSet) (*Series, error) {
	f, err := os.Open(ds.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file for %s: %w", ds.Symbol, err)
	}
	defer f.Close()

	return ReadCSV(ds.Symbol, f, s.Location)
}

// ReadCSV parses bars with a header row naming at least date, open, high, low
// and close. Other numeric columns are kept as extra fields. Dates are cut to
// their first 19 characters so zone suffixes are ignored, and read as
// wall-clock times in loc.
func ReadCSV(symbol string, r io.Reader, loc *time.Location) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header for %s: %w", symbol, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", FieldOpen, FieldHigh, FieldLow, FieldClose} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv for %s is missing column %q", symbol, required)
		}
	}

	var bars []Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d for %s: %w", line, symbol, err)
		}

		bar, err := parseRecord(record, cols, loc)
		if err != nil {
			return nil, fmt.Errorf("csv line %d for %s: %w", line, symbol, err)
		}
		bars = append(bars, bar)
	}

	series := NewSeries(symbol, bars)
	series.InterpolateIV()
	return series, nil
}

func parseRecord(record []string, cols map[string]int, loc *time.Location) (Bar, error) {
	date := record[cols["date"]]
	if len(date) > 19 {
		date = date[:19]
	}
	t, err := config.ParseTimeIn(date, loc)
	if err != nil {
		return Bar{}, err
	}

	bar := Bar{Time: t, IV: math.NaN()}
	for name, i := range cols {
		if name == "date" || i >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[i])
		if raw == "" {
			continue // left as zero, or NaN for iv
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("column %s: %w", name, err)
		}
		switch name {
		case FieldOpen:
			bar.Open = v
		case FieldHigh:
			bar.High = v
		case FieldLow:
			bar.Low = v
		case FieldClose:
			bar.Close = v
		case FieldVolume:
			bar.Volume = v
		case FieldIV:
			bar.IV = v
		default:
			if bar.Extra == nil {
				bar.Extra = make(map[string]float64)
			}
			bar.Extra[name] = v
		}
	}
	return bar, nil
}

// NewSource returns the source selected by cfg.Kind. CSV bar times are read
// in loc.
func NewSource(cfg *config.DataSource, client *RestClient, loc *time.Location) (Source, error) {
	switch cfg.Kind {
	case "", "csv":
		return FileSource{Location: loc}, nil
	case "rest":
		if client == nil {
			return nil, errors.New("rest data source requires a client")
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown data source kind %q", cfg.Kind)
	}
}

// LoadAll loads every data set, keyed by symbol.
func LoadAll(ctx context.Context, src Source, sets []config.DataSet) (map[string]*Series, error) {
	out := make(map[string]*Series, len(sets))
	for _, ds := range sets {
		s, err := src.Load(ctx, ds)
		if err != nil {
			return nil, err
		}
		if s.Len() == 0 {
			return nil, fmt.Errorf("no bars loaded for %s", ds.Symbol)
		}
		out[ds.Symbol] = s
	}
	return out, nil
}
