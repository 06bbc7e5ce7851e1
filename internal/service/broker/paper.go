// Package broker holds the Broker adapters: an in-process paper broker, a
// JSON bridge to an external sidecar and decorators that serve price history
// from the live feed or a cache.
package broker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

type PaperConfig struct {
	StartingCash float64
	SlippageBps  float64
	Seed         int64
	BarInterval  time.Duration
	Sectors      map[string]string
	Location     *time.Location
}

type paperPosition struct {
	qty  float64
	cost float64
}

// PaperBroker simulates fills at the last known close. Orders are
// deduplicated by idempotency key and debit or credit a cash balance.
type PaperBroker struct {
	cfg PaperConfig
	now func() time.Time
	l   *applogger.Logger

	mu        sync.Mutex
	cash      float64
	positions map[string]*paperPosition
	fills     map[string]models.ExecutionResult
	marks     map[string]float64
	dayKey    string
	dayStart  float64
}

var _ drepo.Broker = (*PaperBroker)(nil)

type PaperOption func(*PaperBroker)

func WithPaperClock(now func() time.Time) PaperOption { return func(p *PaperBroker) { p.now = now } }

func NewPaperBroker(cfg PaperConfig, l *applogger.Logger, opts ...PaperOption) *PaperBroker {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	p := &PaperBroker{
		cfg:       cfg,
		now:       time.Now,
		l:         l.With(applogger.String("component", "paper_broker")),
		cash:      cfg.StartingCash,
		positions: make(map[string]*paperPosition),
		fills:     make(map[string]models.ExecutionResult),
		marks:     make(map[string]float64),
	}
	for _, o := range opts {
		o(p)
	}
	p.dayKey = util.DayKey(p.now(), cfg.Location)
	p.dayStart = cfg.StartingCash
	return p
}

// SetPrice marks symbol at price; later fills and valuations use it.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.marks[util.NormalizeSymbol(symbol)] = price
	p.mu.Unlock()
}

func (p *PaperBroker) GetAccount(ctx context.Context) (models.PortfolioSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.PortfolioSnapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := models.PortfolioSnapshot{BuyingPower: p.cash}
	equity := p.cash
	for sym, pos := range p.positions {
		mv := pos.qty * p.markLocked(sym)
		equity += mv
		snap.OpenPositions = append(snap.OpenPositions, models.Position{
			Symbol:      sym,
			Sector:      p.cfg.Sectors[sym],
			Quantity:    pos.qty,
			MarketValue: mv,
		})
	}
	snap.Equity = equity

	if day := util.DayKey(p.now(), p.cfg.Location); day != p.dayKey {
		p.dayKey, p.dayStart = day, equity
	}
	snap.DayPnL = equity - p.dayStart
	if p.dayStart > 0 {
		snap.DayPnLPercent = snap.DayPnL / p.dayStart * 100
	}
	return snap, nil
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, symbol string, side models.Side, notional float64, key string) (models.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ExecutionResult{}, err
	}
	if key == "" {
		return models.ExecutionResult{}, errors.New("idempotency key required")
	}
	symbol = util.NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.fills[key]; ok {
		return prev, nil
	}

	mark := p.markLocked(symbol)
	slip := p.cfg.SlippageBps / 10000
	var res models.ExecutionResult
	switch side {
	case models.ActionBuy:
		fill := mark * (1 + slip)
		if notional > p.cash {
			res.Error = fmt.Sprintf("insufficient cash: need %.2f, have %.2f", notional, p.cash)
			break
		}
		pos := p.position(symbol)
		pos.qty += notional / fill
		pos.cost += notional
		p.cash -= notional
		res = models.ExecutionResult{Success: true, OrderID: uuid.NewString(), FilledPrice: fill}
	case models.ActionSell:
		fill := mark * (1 - slip)
		pos, ok := p.positions[symbol]
		if !ok || pos.qty <= 0 {
			res.Error = "no position to sell"
			break
		}
		qty := math.Min(notional/fill, pos.qty)
		if pos.qty > 0 {
			pos.cost -= pos.cost * qty / pos.qty
		}
		pos.qty -= qty
		p.cash += qty * fill
		if pos.qty <= 1e-9 {
			delete(p.positions, symbol)
		}
		res = models.ExecutionResult{Success: true, OrderID: uuid.NewString(), FilledPrice: fill}
	default:
		return models.ExecutionResult{}, fmt.Errorf("invalid side %q", side)
	}

	p.fills[key] = res
	p.l.Debug("paper order",
		applogger.String("symbol", symbol),
		applogger.String("side", string(side)),
		applogger.Float64("notional", notional),
		applogger.Bool("success", res.Success),
		applogger.Float64("cash", p.cash),
	)
	return res, nil
}

// GetPriceHistory returns a deterministic random walk per symbol ending at
// the current bar. The last close becomes the symbol's mark unless one was set.
func (p *PaperBroker) GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, nil
	}
	symbol = util.NormalizeSymbol(symbol)
	end := util.BarStart(p.now(), p.cfg.BarInterval)
	bars := SyntheticBars(symbol, p.cfg.Seed, end, p.cfg.BarInterval, window)

	p.mu.Lock()
	if _, ok := p.marks[symbol]; !ok {
		p.marks[symbol] = models.LastClose(bars)
	}
	p.mu.Unlock()
	return bars, nil
}

func (p *PaperBroker) position(symbol string) *paperPosition {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}
	return pos
}

func (p *PaperBroker) markLocked(symbol string) float64 {
	if m, ok := p.marks[symbol]; ok && m > 0 {
		return m
	}
	return 100
}

// SyntheticBars generates n bars ending at end. The same symbol, seed and
// end always produce the same series.
func SyntheticBars(symbol string, seed int64, end time.Time, interval time.Duration, n int) []models.PriceBar {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	sym := int64(h.Sum64() >> 1)
	rng := rand.New(rand.NewSource(seed ^ sym ^ end.Unix()/int64(time.Hour/time.Second)))

	price := 50 + float64(sym%200)
	start := end.Add(-time.Duration(n-1) * interval)
	bars := make([]models.PriceBar, 0, n)
	for i := 0; i < n; i++ {
		open := price
		price = math.Max(1, price*(1+rng.NormFloat64()*0.004))
		hi := math.Max(open, price) * (1 + rng.Float64()*0.002)
		lo := math.Min(open, price) * (1 - rng.Float64()*0.002)
		bars = append(bars, models.PriceBar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * interval),
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     price,
			Volume:    math.Round(1000 + rng.Float64()*9000),
		})
	}
	return bars
}
