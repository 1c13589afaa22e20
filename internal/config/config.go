package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // backtest.timezone must resolve on hosts without a zone database

	"github.com/spf13/viper"
)

// TimeLayouts are the accepted formats for simulated timestamps in config.
var TimeLayouts = []string{
	"20060102T15:04:05",
	"20060102T15:04",
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"20060102",
}

// Config holds all configuration for the application.
type Config struct {
	Backtest   Backtest   `mapstructure:"backtest"`
	Pricing    Pricing    `mapstructure:"pricing"`
	Data       []DataSet  `mapstructure:"data"`
	DataSource DataSource `mapstructure:"data_source"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Backtest holds the configuration for the simulation loop and broker.
type Backtest struct {
	Start          string        `mapstructure:"start"` // empty: first bar of the first data set
	End            string        `mapstructure:"end"`   // empty: last bar of the first data set
	Step           time.Duration `mapstructure:"step"`
	StartCash      float64       `mapstructure:"start_cash"`
	Strategy       string        `mapstructure:"strategy"`
	Quantity       float64       `mapstructure:"quantity"`
	TargetDelta    float64       `mapstructure:"target_delta"`
	CancelOnReject bool          `mapstructure:"cancel_on_reject"`
	AvgCostMode    string        `mapstructure:"avg_cost_mode"` // "weighted" or "legacy"
	Timezone       string        `mapstructure:"timezone"`      // zone of the data's wall-clock times
}

// Pricing holds the options pricing assumptions.
type Pricing struct {
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	DividendYield  float64 `mapstructure:"dividend_yield"`
	ChainDaysAhead int     `mapstructure:"chain_days_ahead"`
}

// DataSet describes one tradable symbol and where its bars come from.
type DataSet struct {
	Symbol       string  `mapstructure:"symbol"`
	SecType      string  `mapstructure:"sec_type"`
	Exchange     string  `mapstructure:"exchange"`
	Expiry       string  `mapstructure:"expiry"`
	Multiplier   float64 `mapstructure:"multiplier"`
	Path         string  `mapstructure:"path"`
	OptionsModel string  `mapstructure:"options_model"` // black_scholes, historical or none
}

// DataSource holds the configuration for loading bars.
type DataSource struct {
	Kind           string        `mapstructure:"kind"` // "csv" or "rest"
	BaseURL        string        `mapstructure:"base_url"`
	ApiKey         string        `mapstructure:"apiKey"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Server holds the configuration for the status and results servers.
type Server struct {
	Port       int `mapstructure:"port"`        // results viewer
	StatusPort int `mapstructure:"status_port"` // live status of a run, 0 disables it
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backtest.step", "1m")
	v.SetDefault("backtest.start_cash", 10000)
	v.SetDefault("backtest.strategy", "buy_and_hold")
	v.SetDefault("backtest.quantity", 1)
	v.SetDefault("backtest.target_delta", -0.2)
	v.SetDefault("backtest.avg_cost_mode", "weighted")
	v.SetDefault("pricing.risk_free_rate", 0.25)
	v.SetDefault("pricing.chain_days_ahead", 1)
	v.SetDefault("data_source.kind", "csv")
	v.SetDefault("data_source.rate_limit", 20)      // requests per second
	v.SetDefault("data_source.rate_limit_burst", 5) // burst size
	v.SetDefault("data_source.timeout", "30s")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "backtest.db")
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Backtest.Step <= 0 {
		return fmt.Errorf("backtest.step must be positive, got %s", c.Backtest.Step)
	}
	if c.Backtest.StartCash <= 0 {
		return fmt.Errorf("backtest.start_cash must be positive, got %v", c.Backtest.StartCash)
	}
	if len(c.Data) == 0 {
		return fmt.Errorf("at least one data set must be configured")
	}
	seen := make(map[string]struct{}, len(c.Data))
	for _, ds := range c.Data {
		if ds.Symbol == "" {
			return fmt.Errorf("data set without a symbol")
		}
		if _, dup := seen[ds.Symbol]; dup {
			return fmt.Errorf("duplicate data set for symbol %s", ds.Symbol)
		}
		seen[ds.Symbol] = struct{}{}
	}
	switch c.Backtest.AvgCostMode {
	case "", "weighted", "legacy":
	default:
		return fmt.Errorf("unknown backtest.avg_cost_mode %q", c.Backtest.AvgCostMode)
	}
	if _, err := c.Backtest.Location(); err != nil {
		return err
	}
	if _, _, err := c.Backtest.Window(); err != nil {
		return err
	}
	return nil
}

// Location returns the zone simulated times are read in. Empty means UTC.
func (b Backtest) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid backtest.timezone %q: %w", b.Timezone, err)
	}
	return loc, nil
}

// Window parses the configured start and end in the backtest's zone. Unset
// values are zero.
func (b Backtest) Window() (start, end time.Time, err error) {
	loc, err := b.Location()
	if err != nil {
		return
	}
	if b.Start != "" {
		if start, err = ParseTimeIn(b.Start, loc); err != nil {
			return
		}
	}
	if b.End != "" {
		if end, err = ParseTimeIn(b.End, loc); err != nil {
			return
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		err = fmt.Errorf("backtest.end %s is before backtest.start %s", b.End, b.Start)
	}
	return
}

// ParseTime parses a simulated timestamp as a UTC wall-clock time.
func ParseTime(s string) (time.Time, error) {
	return ParseTimeIn(s, time.UTC)
}

// ParseTimeIn parses a zone-less simulated timestamp as a wall-clock time in
// loc, so that Unix() of the result is the real instant. A nil loc is UTC.
func ParseTimeIn(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range TimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
