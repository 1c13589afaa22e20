package trader

import (
	"math"
	"testing"
	"time"

	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractFor(t *testing.T) {
	testCases := []struct {
		name        string
		ds          config.DataSet
		expected    models.Contract
		expectError bool
	}{
		{
			name:     "Stock defaults to multiplier 1",
			ds:       config.DataSet{Symbol: "SPY", Exchange: "SMART"},
			expected: models.Contract{Symbol: "SPY", SecType: models.SecTypeStock, Multiplier: 1, Exchange: "SMART"},
		},
		{
			name:     "Future keeps its multiplier",
			ds:       config.DataSet{Symbol: "ES", SecType: "FUT", Expiry: "202403", Exchange: "CME", Multiplier: 50},
			expected: models.Contract{Symbol: "ES", SecType: models.SecTypeFuture, Expiry: "202403", Multiplier: 50, Exchange: "CME"},
		},
		{
			name:        "Options are not underlyings",
			ds:          config.DataSet{Symbol: "SPY", SecType: "OPT"},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := contractFor(tc.ds)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, c)
		})
	}
}

func TestOptionOn(t *testing.T) {
	es := models.Future("ES", "202403", "CME", 50)
	fop := optionOn(es, "20240119", 4800, models.RightPut)
	assert.Equal(t, models.SecTypeFuturesOption, fop.SecType)
	assert.Equal(t, 50.0, fop.Multiplier)

	opt := optionOn(models.Stock("SPY", "SMART"), "20240119", 475, models.RightCall)
	assert.Equal(t, models.SecTypeOption, opt.SecType)
	assert.Equal(t, 100.0, opt.Multiplier)
	assert.Equal(t, "SMART", opt.Exchange)
}

func TestNearestStrike(t *testing.T) {
	strikes := []float64{4790, 4795, 4800, 4805}

	k, ok := nearestStrike(strikes, 4801.2)
	assert.True(t, ok)
	assert.Equal(t, 4800.0, k)

	k, _ = nearestStrike(strikes, 4797.5)
	assert.Equal(t, 4795.0, k, "ties go to the lower strike")

	k, _ = nearestStrike(strikes, 1000)
	assert.Equal(t, 4790.0, k)

	_, ok = nearestStrike(nil, 4800)
	assert.False(t, ok)
}

func TestNextExpiration(t *testing.T) {
	expirations := []string{"20240112", "20240110", "20240111"}

	exp, at, ok := nextExpiration(expirations, time.Date(2024, 1, 10, 15, 59, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, "20240110", exp)
	assert.Equal(t, time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC), at)

	exp, _, ok = nextExpiration(expirations, time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, "20240111", exp)

	_, _, ok = nextExpiration(expirations, time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestUnderlyingInputs(t *testing.T) {
	series := marketdata.NewSeries("SPY", []marketdata.Bar{
		{Time: time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC), Close: 475, IV: 0.15},
	})
	cursor := marketdata.NewCursor(series)
	cursor.SetTime(time.Date(2024, 1, 10, 9, 45, 0, 0, time.UTC))

	in, err := underlyingInputs(cursor)

	require.NoError(t, err)
	assert.Equal(t, 475.0, in.Underlying)
	assert.Equal(t, 0.15, in.IV)
	assert.Equal(t, cursor.Now(), in.Now)
}

func TestMovingAverage(t *testing.T) {
	out := movingAverage([]float64{1, 2, 3, 4, 5}, 3)

	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, []float64{2, 3, 4}, out[2:])
}
