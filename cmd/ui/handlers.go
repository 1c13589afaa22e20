package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"backtest-engine-go/internal/database"
	"backtest-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRunLimit = 50

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db}
}

// RunsHandler returns the most recent runs.
func (h *APIHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := database.ListRuns(h.db, limit)
	if err != nil {
		h.log.Error("Failed to get runs from database", zap.Error(err))
		http.Error(w, "Failed to get runs", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, runs)
}

// TradesHandler returns the trades of one run.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	trades, err := database.RunTrades(h.db, runID)
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.String("run_id", runID), zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, trades)
}

// StatsDetail holds statistics over a run's trades.
type StatsDetail struct {
	TotalTrades     int64   `json:"total_trades"`
	FilledTrades    int64   `json:"filled_trades"`
	CancelledTrades int64   `json:"cancelled_trades"`
	Buys            int64   `json:"buys"`
	Sells           int64   `json:"sells"`
	FillRate        float64 `json:"fill_rate"`
	NetCashFlow     float64 `json:"net_cash_flow"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Run          models.BacktestRun `json:"run"`
	ReturnPct    float64            `json:"return_pct"`
	Trades       StatsDetail        `json:"trades"`
	BySecurity   map[string]int64   `json:"by_sec_type"`
	OpenPosition bool               `json:"open_positions"`
}

// StatisticsHandler calculates and returns statistics for one run.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	var run models.BacktestRun
	if err := h.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to get run for statistics", zap.String("run_id", runID), zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	trades, err := database.RunTrades(h.db, runID)
	if err != nil {
		h.log.Error("Failed to get trades for statistics", zap.String("run_id", runID), zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, calculateStatistics(run, trades))
}

func calculateStatistics(run models.BacktestRun, trades []models.TradeRecord) StatisticsResponse {
	resp := StatisticsResponse{
		Run:          run,
		BySecurity:   make(map[string]int64),
		OpenPosition: run.OpenPositions > 0,
	}
	if run.StartingCash != 0 {
		resp.ReturnPct = (run.FinalCash - run.StartingCash) / run.StartingCash * 100
	}

	stats := &resp.Trades
	for _, t := range trades {
		stats.TotalTrades++
		switch models.TradeStatus(t.Status) {
		case models.StatusFilled:
			stats.FilledTrades++
			stats.NetCashFlow += t.CashEffect
			resp.BySecurity[t.SecType]++
			if t.Action == string(models.ActionBuy) {
				stats.Buys++
			} else {
				stats.Sells++
			}
		case models.StatusCancelled:
			stats.CancelledTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.FillRate = float64(stats.FilledTrades) / float64(stats.TotalTrades)
	}
	return resp
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
