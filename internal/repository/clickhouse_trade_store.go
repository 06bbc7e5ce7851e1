package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	pkgch "TradeCore/pkg/clickhouse"
	applogger "TradeCore/pkg/logger"
)

const (
	chTradesTable = "trades"
	chPerfTable   = "strategy_performance"
)

// ClickHouseSchema creates the ledger tables. Both use ReplacingMergeTree so
// a re-inserted row with a higher version supersedes the previous one; reads
// use FINAL to see the latest version only.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			trade_id         String,
			symbol           LowCardinality(String),
			side             LowCardinality(String),
			notional         Float64,
			confidence       Float64,
			idempotency_key  String,
			active_strategy  LowCardinality(String),
			votes            String,
			success          Bool,
			order_id         String,
			filled_price     Float64,
			latency_ms       Int64,
			slippage         Float64,
			error            String,
			created_at       DateTime64(3, 'UTC'),
			closed           Bool,
			realized_pnl     Float64,
			closed_at        DateTime64(3, 'UTC'),
			version          UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY trade_id`, database, chTradesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			strategy_id      String,
			total_signals    Int64,
			correct_signals  Int64,
			accuracy         Float64,
			last_updated     DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(last_updated)
		ORDER BY strategy_id`, database, chPerfTable),
	}
}

const chTradeColumns = `trade_id, symbol, side, notional, confidence, idempotency_key, active_strategy, votes,
	success, order_id, filled_price, latency_ms, slippage, error, created_at, closed, realized_pnl, closed_at`

// ClickHouseTradeStore is the analytics-grade trade ledger.
type ClickHouseTradeStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ drepo.TradeStore = (*ClickHouseTradeStore)(nil)

func NewClickHouseTradeStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseTradeStore {
	return NewClickHouseTradeStoreFromDB(ch.DB(), l)
}

func NewClickHouseTradeStoreFromDB(db *sql.DB, l *applogger.Logger) *ClickHouseTradeStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseTradeStore{db: db, l: l.With(applogger.String("component", "clickhouse_trade_store"))}
}

// AppendTradeRecord inserts version 1 of the trade. Re-appending the same
// trade id collapses on merge.
func (s *ClickHouseTradeStore) AppendTradeRecord(ctx context.Context, rec models.TradeRecord) error {
	if rec.TradeID == "" {
		return fmt.Errorf("append trade: empty trade id")
	}
	if err := s.insert(ctx, rec, 1); err != nil {
		s.l.Error("clickhouse append trade error", applogger.String("trade_id", rec.TradeID), applogger.Error(err))
		return fmt.Errorf("append trade %s: %w", rec.TradeID, err)
	}
	return nil
}

// CloseTrade writes a closed version of the row.
func (s *ClickHouseTradeStore) CloseTrade(ctx context.Context, tradeID string, pnl float64, closedAt time.Time) error {
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE trade_id = ? LIMIT 1`, chTradeColumns, chTradesTable)
	rec, err := scanTrade(s.db.QueryRowContext(ctx, q, tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeNotFound)
	}
	if err != nil {
		return fmt.Errorf("close trade %s: %w", tradeID, err)
	}
	if err := checkClosable(tradeID, rec.Closed, rec.Success); err != nil {
		return err
	}
	rec.Closed, rec.RealizedPnL, rec.ClosedAt = true, pnl, closedAt
	if err := s.insert(ctx, rec, 2); err != nil {
		return fmt.Errorf("close trade %s: %w", tradeID, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) QueryClosedTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(ctx, "closed = true AND created_at >= ?", since, limit)
}

func (s *ClickHouseTradeStore) QueryTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(ctx, "created_at >= ?", since, limit)
}

// query returns the newest limit rows, oldest first.
func (s *ClickHouseTradeStore) query(ctx context.Context, where string, since time.Time, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL WHERE %s ORDER BY created_at DESC LIMIT ?`, chTradeColumns, chTradesTable, where)
	rows, err := s.db.QueryContext(ctx, q, since.UTC(), limit)
	if err != nil {
		s.l.Error("clickhouse query trades error", applogger.Error(err))
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *ClickHouseTradeStore) UpsertStrategyPerformance(ctx context.Context, p models.StrategyPerformance) error {
	q := fmt.Sprintf(`INSERT INTO %s (strategy_id, total_signals, correct_signals, accuracy, last_updated) VALUES (?, ?, ?, ?, ?)`, chPerfTable)
	if _, err := s.db.ExecContext(ctx, q, p.StrategyID, int64(p.TotalSignals), int64(p.CorrectSignals), p.Accuracy, p.LastUpdated.UTC()); err != nil {
		return fmt.Errorf("upsert performance %s: %w", p.StrategyID, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) LoadStrategyPerformance(ctx context.Context) ([]models.StrategyPerformance, error) {
	q := fmt.Sprintf(`SELECT strategy_id, total_signals, correct_signals, accuracy, last_updated FROM %s FINAL ORDER BY strategy_id`, chPerfTable)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	defer rows.Close()

	var out []models.StrategyPerformance
	for rows.Next() {
		var p models.StrategyPerformance
		var total, correct int64
		if err := rows.Scan(&p.StrategyID, &total, &correct, &p.Accuracy, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		p.TotalSignals, p.CorrectSignals = int(total), int(correct)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close is a no-op; the connection pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseTradeStore) Close() error { return nil }

func (s *ClickHouseTradeStore) insert(ctx context.Context, rec models.TradeRecord, version uint64) error {
	votes, err := json.Marshal(rec.Votes)
	if err != nil {
		return fmt.Errorf("encode votes: %w", err)
	}
	closedAt := time.Unix(0, 0).UTC()
	if rec.Closed {
		closedAt = rec.ClosedAt.UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, chTradesTable, chTradeColumns)
	_, err = s.db.ExecContext(ctx, q,
		rec.TradeID,
		rec.Symbol,
		string(rec.Side),
		rec.NotionalValue,
		rec.Confidence,
		rec.IdempotencyKey,
		rec.ActiveStrategyID,
		string(votes),
		rec.Success,
		rec.OrderID,
		rec.FilledPrice,
		rec.LatencyMs,
		rec.Slippage,
		rec.Error,
		rec.CreatedAt.UTC(),
		rec.Closed,
		rec.RealizedPnL,
		closedAt,
		version,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (models.TradeRecord, error) {
	var (
		rec   models.TradeRecord
		side  string
		votes string
	)
	err := row.Scan(
		&rec.TradeID, &rec.Symbol, &side, &rec.NotionalValue, &rec.Confidence, &rec.IdempotencyKey,
		&rec.ActiveStrategyID, &votes, &rec.Success, &rec.OrderID, &rec.FilledPrice, &rec.LatencyMs,
		&rec.Slippage, &rec.Error, &rec.CreatedAt, &rec.Closed, &rec.RealizedPnL, &rec.ClosedAt,
	)
	if err != nil {
		return models.TradeRecord{}, err
	}
	rec.Side = models.Side(side)
	if votes != "" {
		if err := json.Unmarshal([]byte(votes), &rec.Votes); err != nil {
			return models.TradeRecord{}, fmt.Errorf("decode votes: %w", err)
		}
	}
	if !rec.Closed {
		rec.ClosedAt = time.Time{}
	}
	return rec, nil
}
