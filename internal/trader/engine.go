package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backtest-engine-go/internal/broker"
	"backtest-engine-go/internal/config"
	"backtest-engine-go/internal/marketdata"
	"backtest-engine-go/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the outcome of a completed run.
type Result struct {
	RunID    string         `json:"run_id"`
	Strategy string         `json:"strategy"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Step     time.Duration  `json:"step"`
	Steps    int            `json:"steps"`
	Account  broker.Account `json:"account"`
	Wall     time.Duration  `json:"wall"`
}

// Status is a snapshot of a run in progress.
type Status struct {
	RunID     string    `json:"run_id"`
	Strategy  string    `json:"strategy"`
	Running   bool      `json:"running"`
	Simulated time.Time `json:"simulated_time"`
	Steps     int       `json:"steps"`
	Cash      float64   `json:"cash"`
	StartedAt time.Time `json:"started_at"`
}

// Engine drives a backtest: it advances simulated time by a fixed step,
// positions every cursor and the broker, calls the strategy and settles.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	broker   *broker.Broker
	strategy Strategy
	datas    map[string]*marketdata.Series
	cursors  map[string]*marketdata.Cursor
	pricing  map[string]pricing.Model

	mu     sync.RWMutex
	status Status
}

// NewEngine creates a new backtest engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, brk *broker.Broker, strategy Strategy,
	datas map[string]*marketdata.Series, pricingModels map[string]pricing.Model) *Engine {
	cursors := make(map[string]*marketdata.Cursor, len(datas))
	for symbol, s := range datas {
		cursors[symbol] = marketdata.NewCursor(s)
	}
	return &Engine{
		logger:   logger.Named("engine"),
		cfg:      cfg,
		broker:   brk,
		strategy: strategy,
		datas:    datas,
		cursors:  cursors,
		pricing:  pricingModels,
		status:   Status{RunID: uuid.NewString(), Strategy: strategy.Name()},
	}
}

// Status returns a snapshot of the run. It is safe to call from any goroutine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run executes the backtest from start to end inclusive. Any error from the
// strategy or from settlement stops the run and is returned as is.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.updateData(); err != nil {
		return nil, err
	}
	start, end, err := e.window()
	if err != nil {
		return nil, err
	}
	step := e.cfg.Backtest.Step

	l := e.logger.With(zap.String("run_id", e.status.RunID), zap.String("strategy", e.strategy.Name()))
	l.Info("Starting backtest", zap.Time("start", start), zap.Time("end", end), zap.Duration("step", step))

	wallStart := time.Now()
	e.setStatus(func(s *Status) {
		s.Running = true
		s.StartedAt = wallStart
		s.Simulated = start
	})
	defer e.setStatus(func(s *Status) { s.Running = false })

	if err := e.setTime(start); err != nil {
		return nil, err
	}
	sc := e.strategyContext()
	if err := e.strategy.OnStart(ctx, sc); err != nil {
		return nil, fmt.Errorf("strategy %s failed to start: %w", e.strategy.Name(), err)
	}

	steps := 0
	for now := start; !now.After(end); now = now.Add(step) {
		if err := ctx.Err(); err != nil {
			l.Warn("Backtest interrupted", zap.Time("time", now), zap.Error(err))
			return nil, err
		}
		if err := e.setTime(now); err != nil {
			return nil, err
		}
		if err := e.strategy.Tick(ctx, sc); err != nil {
			return nil, fmt.Errorf("strategy tick at %s: %w", now.Format(time.DateTime), err)
		}
		if _, err := e.broker.Settle(ctx); err != nil {
			return nil, fmt.Errorf("settlement at %s: %w", now.Format(time.DateTime), err)
		}
		steps++
		e.setStatus(func(s *Status) {
			s.Simulated = now
			s.Steps = steps
			s.Cash = e.broker.CashBalance()
		})
	}

	if err := e.strategy.OnFinish(ctx, sc); err != nil {
		return nil, fmt.Errorf("strategy %s failed to finish: %w", e.strategy.Name(), err)
	}

	result := &Result{
		RunID:    e.status.RunID,
		Strategy: e.strategy.Name(),
		Start:    start,
		End:      end,
		Step:     step,
		Steps:    steps,
		Account:  e.broker.Account(),
		Wall:     time.Since(wallStart),
	}
	l.Info("Backtest finished",
		zap.Int("steps", steps),
		zap.Float64("cash", result.Account.Cash),
		zap.Float64("realized_pnl", result.Account.RealizedPnL),
		zap.Int("trades", len(result.Account.History)),
		zap.Duration("wall", result.Wall))
	return result, nil
}

// updateData lets the strategy rewrite each series once, in configuration order.
func (e *Engine) updateData() error {
	updater, ok := e.strategy.(DataUpdater)
	if !ok {
		return nil
	}
	for _, ds := range e.cfg.Data {
		series, ok := e.datas[ds.Symbol]
		if !ok {
			continue
		}
		if err := updater.UpdateData(ds.Symbol, series); err != nil {
			return fmt.Errorf("strategy failed to update data for %s: %w", ds.Symbol, err)
		}
	}
	return nil
}

// window returns the configured start and end, defaulting either one to the
// first or last bar of the first configured data set.
func (e *Engine) window() (time.Time, time.Time, error) {
	start, end, err := e.cfg.Backtest.Window()
	if err != nil {
		return start, end, err
	}
	if start.IsZero() || end.IsZero() {
		if len(e.cfg.Data) == 0 {
			return start, end, fmt.Errorf("no start or end time and no data to default them from")
		}
		series, ok := e.datas[e.cfg.Data[0].Symbol]
		if !ok {
			return start, end, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, e.cfg.Data[0].Symbol)
		}
		if start.IsZero() {
			if start, err = series.Start(); err != nil {
				return start, end, err
			}
		}
		if end.IsZero() {
			if end, err = series.End(); err != nil {
				return start, end, err
			}
		}
	}
	if e.cfg.Backtest.Step <= 0 {
		return start, end, fmt.Errorf("step must be positive, got %s", e.cfg.Backtest.Step)
	}
	return start, end, nil
}

func (e *Engine) setTime(now time.Time) error {
	for _, c := range e.cursors {
		c.SetTime(now)
	}
	return e.broker.SetTime(now)
}

func (e *Engine) strategyContext() StrategyContext {
	return StrategyContext{
		Logger:  e.logger.Named(e.strategy.Name()),
		Cfg:     e.cfg,
		Broker:  e.broker,
		Data:    e.cursors,
		Pricing: e.pricing,
	}
}

func (e *Engine) setStatus(update func(s *Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.status)
}
