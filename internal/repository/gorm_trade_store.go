package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
)

// TradeModel is the SQLite row for a TradeRecord.
type TradeModel struct {
	TradeID          string `gorm:"primaryKey;size:64"`
	Symbol           string `gorm:"size:16;index"`
	Side             string `gorm:"size:8"`
	NotionalValue    float64
	Confidence       float64
	IdempotencyKey   string `gorm:"size:96;uniqueIndex"`
	ActiveStrategyID string `gorm:"column:active_strategy_id;size:64"`
	Votes            string `gorm:"type:text"`
	Success          bool
	OrderID          string `gorm:"size:64"`
	FilledPrice      float64
	LatencyMs        int64
	Slippage         float64
	Error            string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"index"`
	Closed           bool      `gorm:"index"`
	RealizedPnL      float64   `gorm:"column:realized_pnl"`
	ClosedAt         *time.Time
}

func (TradeModel) TableName() string { return "trades" }

// StrategyPerformanceModel is the SQLite row for a StrategyPerformance.
type StrategyPerformanceModel struct {
	StrategyID     string `gorm:"primaryKey;size:64"`
	TotalSignals   int
	CorrectSignals int
	Accuracy       float64
	LastUpdated    time.Time
}

func (StrategyPerformanceModel) TableName() string { return "strategy_performance" }

// GormTradeStore is the local SQLite ledger.
type GormTradeStore struct {
	db *gorm.DB
}

var _ drepo.TradeStore = (*GormTradeStore)(nil)

func NewSQLiteTradeStore(path string) (*GormTradeStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewGormTradeStore(db)
}

// NewGormTradeStore migrates the schema on an existing connection.
func NewGormTradeStore(db *gorm.DB) (*GormTradeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&TradeModel{}, &StrategyPerformanceModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return &GormTradeStore{db: db}, nil
}

// AppendTradeRecord ignores a repeated trade id.
func (s *GormTradeStore) AppendTradeRecord(ctx context.Context, rec models.TradeRecord) error {
	if rec.TradeID == "" {
		return fmt.Errorf("append trade: empty trade id")
	}
	m, err := toTradeModel(rec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("append trade %s: %w", rec.TradeID, err)
	}
	return nil
}

func (s *GormTradeStore) CloseTrade(ctx context.Context, tradeID string, pnl float64, closedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m TradeModel
		err := tx.Where("trade_id = ?", tradeID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeNotFound)
		}
		if err != nil {
			return fmt.Errorf("close trade %s: %w", tradeID, err)
		}
		if err := checkClosable(tradeID, m.Closed, m.Success); err != nil {
			return err
		}
		res := tx.Model(&TradeModel{}).
			Where("trade_id = ? AND closed = ?", tradeID, false).
			Updates(map[string]interface{}{"closed": true, "realized_pnl": pnl, "closed_at": closedAt})
		if res.Error != nil {
			return fmt.Errorf("close trade %s: %w", tradeID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeClosed)
		}
		return nil
	})
}

func (s *GormTradeStore) QueryClosedTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(s.db.WithContext(ctx).Where("closed = ?", true), since, limit)
}

func (s *GormTradeStore) QueryTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(s.db.WithContext(ctx), since, limit)
}

// query returns the newest limit rows, oldest first.
func (s *GormTradeStore) query(q *gorm.DB, since time.Time, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []TradeModel
	if err := q.Where("created_at >= ?", since).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	out := make([]models.TradeRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		rec, err := fromTradeModel(rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormTradeStore) UpsertStrategyPerformance(ctx context.Context, p models.StrategyPerformance) error {
	m := StrategyPerformanceModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func (s *GormTradeStore) LoadStrategyPerformance(ctx context.Context) ([]models.StrategyPerformance, error) {
	var rows []StrategyPerformanceModel
	if err := s.db.WithContext(ctx).Order("strategy_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	out := make([]models.StrategyPerformance, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.StrategyPerformance(r))
	}
	return out, nil
}

func (s *GormTradeStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toTradeModel(rec models.TradeRecord) (TradeModel, error) {
	votes, err := json.Marshal(rec.Votes)
	if err != nil {
		return TradeModel{}, fmt.Errorf("encode votes: %w", err)
	}
	m := TradeModel{
		TradeID:          rec.TradeID,
		Symbol:           rec.Symbol,
		Side:             string(rec.Side),
		NotionalValue:    rec.NotionalValue,
		Confidence:       rec.Confidence,
		IdempotencyKey:   rec.IdempotencyKey,
		ActiveStrategyID: rec.ActiveStrategyID,
		Votes:            string(votes),
		Success:          rec.Success,
		OrderID:          rec.OrderID,
		FilledPrice:      rec.FilledPrice,
		LatencyMs:        rec.LatencyMs,
		Slippage:         rec.Slippage,
		Error:            rec.Error,
		CreatedAt:        rec.CreatedAt,
		Closed:           rec.Closed,
		RealizedPnL:      rec.RealizedPnL,
	}
	if rec.Closed {
		at := rec.ClosedAt
		m.ClosedAt = &at
	}
	return m, nil
}

func fromTradeModel(m TradeModel) (models.TradeRecord, error) {
	rec := models.TradeRecord{
		TradeID:          m.TradeID,
		Symbol:           m.Symbol,
		Side:             models.Side(m.Side),
		NotionalValue:    m.NotionalValue,
		Confidence:       m.Confidence,
		IdempotencyKey:   m.IdempotencyKey,
		ActiveStrategyID: m.ActiveStrategyID,
		Success:          m.Success,
		OrderID:          m.OrderID,
		FilledPrice:      m.FilledPrice,
		LatencyMs:        m.LatencyMs,
		Slippage:         m.Slippage,
		Error:            m.Error,
		CreatedAt:        m.CreatedAt,
		Closed:           m.Closed,
		RealizedPnL:      m.RealizedPnL,
	}
	if m.ClosedAt != nil {
		rec.ClosedAt = *m.ClosedAt
	}
	if m.Votes != "" {
		if err := json.Unmarshal([]byte(m.Votes), &rec.Votes); err != nil {
			return models.TradeRecord{}, fmt.Errorf("decode votes for %s: %w", m.TradeID, err)
		}
	}
	return rec, nil
}
