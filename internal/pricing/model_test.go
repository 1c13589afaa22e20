package pricing

import (
	"context"
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"backtest-engine-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockQuoteStore is a mock implementation of QuoteStore.
type MockQuoteStore struct {
	mock.Mock
}

func (m *MockQuoteStore) PriceSeries(ctx context.Context, expireDate string, strike float64) ([]models.OptionQuote, error) {
	args := m.Called(ctx, expireDate, strike)
	return args.Get(0).([]models.OptionQuote), args.Error(1)
}

func (m *MockQuoteStore) ChainAt(ctx context.Context, quoteUnix int64, expMin, expMax string) ([]models.OptionQuote, error) {
	args := m.Called(ctx, quoteUnix, expMin, expMax)
	return args.Get(0).([]models.OptionQuote), args.Error(1)
}

func setupQuoteDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OptionQuote{}))
	return db
}

func at(s string) time.Time {
	t, err := time.Parse("20060102T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseKind(t *testing.T) {
	testCases := []struct {
		in        string
		want      Kind
		expectErr bool
	}{
		{in: "", want: KindBlackScholes},
		{in: "Black_Scholes", want: KindBlackScholes},
		{in: "historical", want: KindHistorical},
		{in: " none ", want: KindNone},
		{in: "binomial", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNew_HistoricalRequiresStore(t *testing.T) {
	_, err := New(KindHistorical, Params{}, nil, zap.NewNop())
	assert.Error(t, err)

	m, err := New(KindNone, Params{}, nil, zap.NewNop())
	assert.NoError(t, err)
	assert.Equal(t, KindNone, m.Kind())
}

func TestBlackScholesModel_Price(t *testing.T) {
	m := NewBlackScholesModel(0.05, 0)
	call := models.Option("SPY", "20240119", 100, models.RightCall, "SMART")
	put := models.Option("SPY", "20240119", 100, models.RightPut, "SMART")

	t.Run("Matches closed form", func(t *testing.T) {
		now := at("20240118T16:00") // one day to the 16:00 expiry
		in := Inputs{Now: now, Underlying: 101, IV: 0.2}

		c, err := m.Price(context.Background(), call, in)
		require.NoError(t, err)
		p, err := m.Price(context.Background(), put, in)
		require.NoError(t, err)

		wantC, wantP := CallPutPrice(101, 100, 1.0/365, 0.2, 0.05, 0)
		assert.InDelta(t, wantC, c, 1e-12)
		assert.InDelta(t, wantP, p, 1e-12)
	})

	t.Run("Expired contract is floored not failed", func(t *testing.T) {
		in := Inputs{Now: at("20240122T10:00"), Underlying: 90, IV: 0.2}

		p, err := m.Price(context.Background(), put, in)
		assert.NoError(t, err)
		assert.InDelta(t, 10, p, 1e-6)
	})

	t.Run("Stock cannot be priced", func(t *testing.T) {
		_, err := m.Price(context.Background(), models.Stock("SPY", "SMART"), Inputs{Now: at("20240118T10:00")})
		assert.Error(t, err)
	})
}

func TestBlackScholesModel_Delta(t *testing.T) {
	m := NewBlackScholesModel(0.05, 0.01)
	in := Inputs{Now: at("20240112T16:00"), Underlying: 470, IV: 0.25} // seven days to expiry
	wantC, wantP := CallPutDelta(470, 475, 7.0/365, 0.25, 0.05, 0.01)

	c, err := m.Delta(models.Option("SPY", "20240119", 475, models.RightCall, "SMART"), in)
	require.NoError(t, err)
	p, err := m.Delta(models.Option("SPY", "20240119", 475, models.RightPut, "SMART"), in)
	require.NoError(t, err)

	assert.InDelta(t, wantC, c, 1e-12)
	assert.InDelta(t, wantP, p, 1e-12)
	assert.InDelta(t, math.Exp(-0.01*7.0/365), c-p, 1e-12)

	exp, _, err := models.Option("SPY", "20240119", 475, models.RightPut, "SMART").ExpiresAt(time.UTC)
	require.NoError(t, err)
	assert.InDelta(t, 475, m.StrikeForDelta(p, models.RightPut, exp, in), 1e-6)
}

func TestBlackScholesModel_Chain(t *testing.T) {
	m := NewBlackScholesModel(DefaultRiskFreeRate, 0)
	und := models.Future("ES", "20240315", "CME", 50)

	chain, err := m.Chain(context.Background(), und, Inputs{Now: at("20240110T09:30"), Underlying: 4772.4}, 1)

	require.NoError(t, err)
	assert.Len(t, chain.Expirations, 30)
	assert.Equal(t, "20240110", chain.Expirations[0])
	assert.Equal(t, "20240208", chain.Expirations[29])
	assert.Len(t, chain.Strikes, 40)
	assert.Equal(t, 4670.0, chain.Strikes[0])
	assert.Equal(t, 4865.0, chain.Strikes[len(chain.Strikes)-1])
	assert.Equal(t, 50.0, chain.Multiplier)
}

func TestNoneModel(t *testing.T) {
	m := NewNoneModel(zap.NewNop())
	opt := models.Option("XYZ", "20240119", 10, models.RightCall, "SMART")

	price, err := m.Price(context.Background(), opt, Inputs{Now: at("20240110T09:30")})
	assert.NoError(t, err)
	assert.Zero(t, price)

	chain, err := m.Chain(context.Background(), models.Stock("XYZ", "SMART"), Inputs{}, 1)
	assert.NoError(t, err)
	assert.Empty(t, chain.Expirations)
	assert.Empty(t, chain.Strikes)
}

func TestHistoricalModel_Price(t *testing.T) {
	// Arrange
	db := setupQuoteDB(t)
	t0 := at("20240110T09:30")
	db.Create(&[]models.OptionQuote{
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-19", Strike: 4800, CLast: 12.5, PLast: 40.25},
		{QuoteUnixTime: t0.Add(time.Minute).Unix(), ExpireDate: "2024-01-19", Strike: 4800, CLast: 13, PLast: 39.5},
		{QuoteUnixTime: t0.Add(2 * time.Minute).Unix(), ExpireDate: "2024-01-19", Strike: 4800, CLast: 14, PLast: 38},
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-19", Strike: 4850, CLast: 4, PLast: 80},
	})
	m := NewHistoricalModel(NewGormQuoteStore(db), zap.NewNop())
	call := models.FuturesOption("ES", "20240119", 4800, models.RightCall, "CME", 50)
	put := models.FuturesOption("ES", "20240119", 4800, models.RightPut, "CME", 50)

	testCases := []struct {
		name     string
		contract models.Contract
		now      time.Time
		want     float64
		wantErr  bool
	}{
		{name: "Exact quote time", contract: call, now: t0.Add(time.Minute), want: 13},
		{name: "Between quotes uses as-of", contract: call, now: t0.Add(90 * time.Second), want: 13},
		{name: "After last quote", contract: put, now: t0.Add(time.Hour), want: 38},
		{name: "Before first quote", contract: put, now: t0.Add(-time.Second), wantErr: true},
		{name: "Unknown strike", contract: models.FuturesOption("ES", "20240119", 4900, models.RightCall, "CME", 50), now: t0, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			got, err := m.Price(context.Background(), tc.contract, Inputs{Now: tc.now})

			// Assert
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoData)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHistoricalModel_CachesSeries(t *testing.T) {
	store := new(MockQuoteStore)
	t0 := at("20240110T09:30")
	store.On("PriceSeries", mock.Anything, "2024-01-19", 4800.0).Return([]models.OptionQuote{
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-19", Strike: 4800, CLast: 12.5},
	}, nil).Once()

	m := NewHistoricalModel(store, zap.NewNop())
	call := models.FuturesOption("ES", "20240119", 4800, models.RightCall, "CME", 50)

	for i := 0; i < 3; i++ {
		price, err := m.Price(context.Background(), call, Inputs{Now: t0.Add(time.Duration(i) * time.Minute)})
		assert.NoError(t, err)
		assert.Equal(t, 12.5, price)
	}
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "PriceSeries", 1)
}

func TestHistoricalModel_ExchangeLocalTime(t *testing.T) {
	// Arrange: one quote at 09:30 New York, stored as its real Unix time.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	open := time.Date(2024, 1, 10, 9, 30, 0, 0, ny)
	require.Equal(t, int64(1704897000), open.Unix())

	store := new(MockQuoteStore)
	store.On("PriceSeries", mock.Anything, "2024-01-19", 4800.0).Return([]models.OptionQuote{
		{QuoteUnixTime: 1704897000, ExpireDate: "2024-01-19", Strike: 4800, PLast: 38.5},
	}, nil)
	store.On("ChainAt", mock.Anything, int64(1704897000), "2024-01-10", "2024-01-11").Return([]models.OptionQuote{
		{QuoteUnixTime: 1704897000, ExpireDate: "2024-01-10", Strike: 4800},
	}, nil)
	m := NewHistoricalModel(store, zap.NewNop())
	put := models.FuturesOption("ES", "20240119", 4800, models.RightPut, "CME", 50)

	// Act
	price, err := m.Price(context.Background(), put, Inputs{Now: open})
	chain, chainErr := m.Chain(context.Background(), models.Future("ES", "202403", "CME", 50), Inputs{Now: open}, 1)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 38.5, price)
	require.NoError(t, chainErr)
	assert.Equal(t, []string{"20240110"}, chain.Expirations)

	_, err = m.Price(context.Background(), put, Inputs{Now: open.Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrNoData)
	store.AssertExpectations(t)
}

func TestHistoricalModel_Chain(t *testing.T) {
	db := setupQuoteDB(t)
	t0 := at("20240110T09:30")
	db.Create(&[]models.OptionQuote{
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-10", Strike: 4800},
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-10", Strike: 4810},
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-11", Strike: 4800},
		{QuoteUnixTime: t0.Unix(), ExpireDate: "2024-01-19", Strike: 4900},
		{QuoteUnixTime: t0.Add(time.Minute).Unix(), ExpireDate: "2024-01-10", Strike: 4700},
	})
	m := NewHistoricalModel(NewGormQuoteStore(db), zap.NewNop())

	chain, err := m.Chain(context.Background(), models.Future("ES", "202403", "CME", 50), Inputs{Now: t0}, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"20240110", "20240111"}, chain.Expirations)
	assert.Equal(t, []float64{4800, 4810}, chain.Strikes)
	assert.Equal(t, "CME", chain.Exchange)
}
