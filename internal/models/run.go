package models

import "gorm.io/gorm"

// BacktestRun summarizes one completed backtest.
type BacktestRun struct {
	gorm.Model
	RunID         string  `gorm:"uniqueIndex" json:"run_id"`
	Strategy      string  `json:"strategy"`
	StartTime     int64   `json:"start_time"`
	EndTime       int64   `json:"end_time"`
	Step          string  `json:"step"`
	Steps         int     `json:"steps"`
	StartingCash  float64 `json:"starting_cash"`
	FinalCash     float64 `json:"final_cash"`
	RealizedPnL   float64 `json:"realized_pnl"`
	OpenPositions int     `json:"open_positions"`
	WallMillis    int64   `json:"wall_millis"`
}
