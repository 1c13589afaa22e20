package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"backtest-engine-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RestClient loads bars from an HTTP bar service.
type RestClient struct {
	client   *resty.Client
	apiKey   string
	location *time.Location // zone of the service's bar times
	logger   *zap.Logger
	limiter  *rate.Limiter
	backoff  time.Duration // first retry delay, doubled per attempt
}

var _ Source = (*RestClient)(nil)

// NewRestClient creates a bar service client whose zone-less bar times are
// read in loc.
func NewRestClient(cfg *config.DataSource, loc *time.Location, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:   client,
		apiKey:   cfg.ApiKey,
		location: loc,
		logger:   logger.Named("bar-client"),
		limiter:  limiter,
		backoff:  time.Second,
	}
}

// barDTO is one bar as served by the bar service.
type barDTO struct {
	Date   string             `json:"date"`
	Open   float64            `json:"open"`
	High   float64            `json:"high"`
	Low    float64            `json:"low"`
	Close  float64            `json:"close"`
	Volume float64            `json:"volume"`
	IV     *float64           `json:"iv"`
	Extra  map[string]float64 `json:"extra,omitempty"`
}

// Load fetches every bar of the data set's symbol.
func (c *RestClient) Load(ctx context.Context, ds config.DataSet) (*Series, error) {
	return c.GetBars(ctx, ds.Symbol, time.Time{}, time.Time{})
}

// GetBars fetches the bars of symbol between from and to. Zero times leave
// that end of the range open.
func (c *RestClient) GetBars(ctx context.Context, symbol string, from, to time.Time) (*Series, error) {
	var dtos []barDTO

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&dtos).
		SetHeader("Accept", "application/json")
	if !from.IsZero() {
		req.SetQueryParam("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		req.SetQueryParam("to", to.Format(time.RFC3339))
	}
	if c.apiKey != "" {
		req.SetHeader("X-API-KEY", c.apiKey)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/bars", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}

	result := *resp.Result().(*[]barDTO)
	bars := make([]Bar, 0, len(result))
	for _, d := range result {
		date := d.Date
		if len(date) > 19 {
			date = date[:19]
		}
		t, err := config.ParseTimeIn(date, c.location)
		if err != nil {
			return nil, fmt.Errorf("bad bar time for %s: %w", symbol, err)
		}
		iv := math.NaN()
		if d.IV != nil {
			iv = *d.IV
		}
		bars = append(bars, Bar{
			Time: t, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close,
			Volume: d.Volume, IV: iv, Extra: d.Extra,
		})
	}

	series := NewSeries(symbol, bars)
	series.InterpolateIV()
	c.logger.Info("Loaded bars", zap.String("symbol", symbol), zap.Int("count", series.Len()))
	return series, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
