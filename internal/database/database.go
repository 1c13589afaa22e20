// Package database opens the backtest database: the historical option quotes
// read by the historical pricing model and the results of completed runs.
package database

import (
	"fmt"

	"backtest-engine-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables. Existing quotes and runs are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.OptionQuote{},
		&models.BacktestRun{},
		&models.TradeRecord{},
		&models.FillRecord{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// SaveRun stores a run with its trades and their fills in one transaction.
func SaveRun(db *gorm.DB, run *models.BacktestRun, trades []models.TradeRecord) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
		}
		if len(trades) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&trades, 100).Error; err != nil {
			return fmt.Errorf("failed to save trades of run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// ListRuns returns the most recent runs first.
func ListRuns(db *gorm.DB, limit int) ([]models.BacktestRun, error) {
	var runs []models.BacktestRun
	if err := db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// RunTrades returns the trades of a run, with fills, in execution order.
func RunTrades(db *gorm.DB, runID string) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	err := db.Preload("Fills").
		Where("run_id = ?", runID).
		Order("id asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get trades of run %s: %w", runID, err)
	}
	return trades, nil
}
