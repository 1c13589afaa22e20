package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"backtest-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QuoteStore is the historical options dataset.
type QuoteStore interface {
	// PriceSeries returns every quote for an expiration (YYYY-MM-DD) and
	// strike, ordered by quote time.
	PriceSeries(ctx context.Context, expireDate string, strike float64) ([]models.OptionQuote, error)

	// ChainAt returns the quotes taken exactly at quoteUnix for expirations
	// between expMin and expMax inclusive.
	ChainAt(ctx context.Context, quoteUnix int64, expMin, expMax string) ([]models.OptionQuote, error)
}

// GormQuoteStore reads option quotes from a relational table.
type GormQuoteStore struct {
	db *gorm.DB
}

var _ QuoteStore = (*GormQuoteStore)(nil)

// NewGormQuoteStore creates a QuoteStore over db.
func NewGormQuoteStore(db *gorm.DB) *GormQuoteStore {
	return &GormQuoteStore{db: db}
}

func (s *GormQuoteStore) PriceSeries(ctx context.Context, expireDate string, strike float64) ([]models.OptionQuote, error) {
	var quotes []models.OptionQuote
	err := s.db.WithContext(ctx).
		Where("expire_date = ? AND strike = ?", expireDate, strike).
		Order("quote_unix_time asc").
		Find(&quotes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query option quotes for %s %v: %w", expireDate, strike, err)
	}
	return quotes, nil
}

func (s *GormQuoteStore) ChainAt(ctx context.Context, quoteUnix int64, expMin, expMax string) ([]models.OptionQuote, error) {
	var quotes []models.OptionQuote
	err := s.db.WithContext(ctx).
		Where("quote_unix_time = ? AND expire_date >= ? AND expire_date <= ?", quoteUnix, expMin, expMax).
		Order("expire_date asc, strike asc").
		Find(&quotes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query options chain at %d: %w", quoteUnix, err)
	}
	return quotes, nil
}

type seriesKey struct {
	expireDate string
	strike     float64
	right      models.Right
}

type pricePoint struct {
	unix int64
	last float64
}

// HistoricalModel prices options from recorded quotes. The price at a given
// time is the last quote at or before it.
type HistoricalModel struct {
	store  QuoteStore
	logger *zap.Logger

	mu    sync.Mutex
	cache map[seriesKey][]pricePoint
}

var _ Model = (*HistoricalModel)(nil)

// NewHistoricalModel creates a model backed by store.
func NewHistoricalModel(store QuoteStore, logger *zap.Logger) *HistoricalModel {
	return &HistoricalModel{
		store:  store,
		logger: logger.Named("pricing"),
		cache:  make(map[seriesKey][]pricePoint),
	}
}

func (m *HistoricalModel) Kind() Kind { return KindHistorical }

func (m *HistoricalModel) Price(ctx context.Context, contract models.Contract, in Inputs) (float64, error) {
	expireDate, err := isoDate(contract.Expiry)
	if err != nil {
		return 0, err
	}

	series, err := m.series(ctx, seriesKey{expireDate: expireDate, strike: contract.Strike, right: contract.Right})
	if err != nil {
		return 0, err
	}

	now := in.Now.Unix()
	i := sort.Search(len(series), func(i int) bool { return series[i].unix > now })
	if i == 0 {
		return 0, fmt.Errorf("%w: %s has no quote at or before %s", ErrNoData, contract.Key(), in.Now.Format(time.DateTime))
	}
	return series[i-1].last, nil
}

func (m *HistoricalModel) series(ctx context.Context, key seriesKey) ([]pricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s, nil
	}

	quotes, err := m.store.PriceSeries(ctx, key.expireDate, key.strike)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: expiration %s strike %v right %s", ErrNoData, key.expireDate, key.strike, key.right)
	}

	points := make([]pricePoint, 0, len(quotes))
	for _, q := range quotes {
		points = append(points, pricePoint{unix: q.QuoteUnixTime, last: q.Last(key.right)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].unix < points[j].unix })

	m.logger.Debug("Cached historical option series",
		zap.String("expiration", key.expireDate),
		zap.Float64("strike", key.strike),
		zap.String("right", string(key.right)),
		zap.Int("quotes", len(points)))
	m.cache[key] = points
	return points, nil
}

// Chain returns the expirations and strikes quoted at exactly in.Now with an
// expiration no more than daysAhead days away.
func (m *HistoricalModel) Chain(ctx context.Context, underlying models.Contract, in Inputs, daysAhead int) (Chain, error) {
	expMin := in.Now.Format(time.DateOnly)
	expMax := in.Now.AddDate(0, 0, daysAhead).Format(time.DateOnly)

	quotes, err := m.store.ChainAt(ctx, in.Now.Unix(), expMin, expMax)
	if err != nil {
		return Chain{}, err
	}

	chain := Chain{Exchange: underlying.Exchange, Multiplier: underlying.Multiplier}
	seenExp := make(map[string]struct{})
	seenStrike := make(map[float64]struct{})
	for _, q := range quotes {
		exp := strings.ReplaceAll(q.ExpireDate, "-", "")
		if _, ok := seenExp[exp]; !ok {
			seenExp[exp] = struct{}{}
			chain.Expirations = append(chain.Expirations, exp)
		}
		if _, ok := seenStrike[q.Strike]; !ok {
			seenStrike[q.Strike] = struct{}{}
			chain.Strikes = append(chain.Strikes, q.Strike)
		}
	}
	sort.Strings(chain.Expirations)
	sort.Float64s(chain.Strikes)
	return chain, nil
}

// isoDate converts a YYYYMMDD expiry to the dataset's YYYY-MM-DD form.
func isoDate(expiry string) (string, error) {
	d, err := time.Parse("20060102", expiry)
	if err != nil {
		return "", fmt.Errorf("invalid option expiry %q: %w", expiry, err)
	}
	return d.Format(time.DateOnly), nil
}
