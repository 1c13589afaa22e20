package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backtest-engine-go/internal/broker"
	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/database"
	"backtest-engine-go/internal/logger"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/metrics"
	"backtest-engine-go/internal/pricing"
	"backtest-engine-go/internal/trader"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "./configs", "directory holding config.yml")
	quotesPath := flag.String("import-quotes", "", "csv of historical option quotes to load before the run")
	flag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	if *quotesPath != "" {
		if err := importQuotes(db, *quotesPath, log); err != nil {
			log.Fatal("Failed to import option quotes", zap.Error(err))
		}
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, stopping the backtest...")
		cancel()
	}()

	datas, err := loadData(ctx, &cfg, log)
	if err != nil {
		log.Fatal("Failed to load market data", zap.Error(err))
	}

	pricingModels, err := buildPricingModels(&cfg, db, log)
	if err != nil {
		log.Fatal("Failed to build options models", zap.Error(err))
	}

	avgCostMode, err := broker.ParseAvgCostMode(cfg.Backtest.AvgCostMode)
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	brk := broker.New(datas, pricingModels, broker.Options{
		StartingCash:   cfg.Backtest.StartCash,
		CancelOnReject: cfg.Backtest.CancelOnReject,
		AvgCostMode:    avgCostMode,
	}, log)

	m := metrics.NewMetrics()
	brk.Subscribe(m)

	strategy, err := trader.NewStrategy(cfg.Backtest.Strategy)
	if err != nil {
		log.Fatal("Failed to create strategy", zap.Error(err))
	}
	engine := trader.NewEngine(log, &cfg, brk, strategy, datas, pricingModels)

	if cfg.Server.StatusPort > 0 {
		api := trader.NewAPIServer(engine, cfg.Server.StatusPort, m.Handler(), log)
		api.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := api.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop API server", zap.Error(err))
			}
		}()
	}

	result, err := engine.Run(ctx)
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	run, trades := result.Records()
	if err := database.SaveRun(db, run, trades); err != nil {
		log.Fatal("Failed to save backtest results", zap.Error(err))
	}
	log.Info("Backtest results saved",
		zap.String("run_id", run.RunID),
		zap.Float64("final_cash", run.FinalCash),
		zap.Int("trades", len(trades)),
		zap.Int("open_positions", run.OpenPositions))
}

func importQuotes(db *gorm.DB, path string, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := database.ImportOptionQuotes(db, f)
	if err != nil {
		return err
	}
	log.Info("Imported option quotes", zap.String("path", path), zap.Int("rows", n))
	return nil
}

func loadData(ctx context.Context, cfg *config.Config, log *zap.Logger) (map[string]*marketdata.Series, error) {
	loc, err := cfg.Backtest.Location()
	if err != nil {
		return nil, err
	}
	var client *marketdata.RestClient
	if cfg.DataSource.Kind == "rest" {
		client = marketdata.NewRestClient(&cfg.DataSource, loc, log)
	}
	src, err := marketdata.NewSource(&cfg.DataSource, client, loc)
	if err != nil {
		return nil, err
	}
	datas, err := marketdata.LoadAll(ctx, src, cfg.Data)
	if err != nil {
		return nil, err
	}
	for symbol, s := range datas {
		start, _ := s.Start()
		end, _ := s.End()
		log.Info("Loaded market data",
			zap.String("symbol", symbol),
			zap.Int("bars", s.Len()),
			zap.Time("first", start),
			zap.Time("last", end))
	}
	return datas, nil
}

func buildPricingModels(cfg *config.Config, db *gorm.DB, log *zap.Logger) (map[string]pricing.Model, error) {
	params := pricing.Params{
		RiskFreeRate:  cfg.Pricing.RiskFreeRate,
		DividendYield: cfg.Pricing.DividendYield,
	}
	store := pricing.NewGormQuoteStore(db)

	out := make(map[string]pricing.Model, len(cfg.Data))
	for _, ds := range cfg.Data {
		kind, err := pricing.ParseKind(ds.OptionsModel)
		if err != nil {
			return nil, fmt.Errorf("data set %s: %w", ds.Symbol, err)
		}
		m, err := pricing.New(kind, params, store, log)
		if err != nil {
			return nil, fmt.Errorf("data set %s: %w", ds.Symbol, err)
		}
		out[ds.Symbol] = m
	}
	return out, nil
}
