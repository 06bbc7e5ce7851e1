// Package execution gates and routes orders: the guard decides whether an
// order may be attempted and the router submits it to the broker.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeCore/internal/domain/errs"
	drepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

// SymbolState is the per-symbol execution state.
type SymbolState string

const (
	StateEligible   SymbolState = "ELIGIBLE"
	StateInFlight   SymbolState = "IN_FLIGHT"
	StateCooledDown SymbolState = "COOLED_DOWN"
)

type GuardConfig struct {
	Enabled         bool
	MinConfidence   float64
	DailyOrderLimit int
	Cooldown        time.Duration
	Location        *time.Location
}

type symbolEntry struct {
	state SymbolState
	until time.Time
}

// Guard serializes every execution decision behind one mutex so the daily
// counter and per-symbol states move together.
type Guard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	symbols map[string]*symbolEntry
	day     string
	count   int

	counters drepo.CounterStore
	now      func() time.Time
	l        *applogger.Logger
}

type GuardOption func(*Guard)

func WithGuardClock(now func() time.Time) GuardOption { return func(g *Guard) { g.now = now } }

func NewGuard(cfg GuardConfig, counters drepo.CounterStore, l *applogger.Logger, opts ...GuardOption) *Guard {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if l == nil {
		l = applogger.NewNop()
	}
	g := &Guard{
		cfg:      cfg,
		symbols:  make(map[string]*symbolEntry),
		counters: counters,
		now:      time.Now,
		l:        l.With(applogger.String("component", "execution_guard")),
	}
	for _, o := range opts {
		o(g)
	}
	g.day = util.DayKey(g.now(), cfg.Location)
	return g
}

// Restore loads today's persisted order count so a restart cannot reset the cap.
func (g *Guard) Restore(ctx context.Context) error {
	if g.counters == nil {
		return nil
	}
	g.mu.Lock()
	g.rolloverLocked(g.now())
	day := g.day
	g.mu.Unlock()

	n, err := g.counters.Load(ctx, day)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "load daily order count", err)
	}

	g.mu.Lock()
	if g.day == day && n > g.count {
		g.count = n
	}
	g.mu.Unlock()
	g.l.Info("daily order count restored", applogger.String("day", day), applogger.Int("count", n))
	return nil
}

// Check is the read-only pre-flight. It applies the same rules as Reserve
// without changing any state.
func (g *Guard) Check(symbol string, confidence float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	return g.checkLocked(symbol, confidence, g.now())
}

// Precheck applies every rule except the confidence floor, so callers can
// bail out before fetching data for a symbol that cannot trade anyway.
func (g *Guard) Precheck(symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	return g.checkLocked(symbol, g.cfg.MinConfidence, g.now())
}

// Reservation is the right to submit exactly one order for a symbol.
type Reservation struct {
	Symbol string
	Day    string
	At     time.Time

	g    *Guard
	once sync.Once
}

// Reserve atomically checks all rules, counts the attempt against the daily
// cap and marks the symbol in flight. The caller must Complete it.
func (g *Guard) Reserve(ctx context.Context, symbol string, confidence float64) (*Reservation, error) {
	now := g.now()

	g.mu.Lock()
	g.rolloverLocked(now)
	if err := g.checkLocked(symbol, confidence, now); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.count++
	count, day := g.count, g.day
	g.symbols[symbol] = &symbolEntry{state: StateInFlight}
	g.mu.Unlock()

	g.l.Debug("execution slot reserved",
		applogger.String("symbol", symbol),
		applogger.Int("orders_today", count),
	)

	if g.counters != nil {
		if err := g.counters.Increment(ctx, day); err != nil {
			g.l.Warn("daily order count not persisted", applogger.String("day", day), applogger.Error(err))
		}
	}
	return &Reservation{Symbol: symbol, Day: day, At: now, g: g}, nil
}

// Complete releases the symbol into cooldown. Failed attempts cool down too.
// Calling it more than once has no effect.
func (r *Reservation) Complete(success bool) {
	r.once.Do(func() {
		r.g.complete(r.Symbol, success)
	})
}

func (g *Guard) complete(symbol string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.now().Add(g.cfg.Cooldown)
	e, ok := g.symbols[symbol]
	if !ok {
		e = &symbolEntry{}
		g.symbols[symbol] = e
	}
	if e.until.After(until) {
		until = e.until
	}
	e.state, e.until = StateCooledDown, until

	g.l.Debug("execution slot released",
		applogger.String("symbol", symbol),
		applogger.Bool("success", success),
		applogger.String("cooldown_until", until.Format(time.RFC3339)),
	)
}

func (g *Guard) checkLocked(symbol string, confidence float64, now time.Time) error {
	if !g.cfg.Enabled {
		return errs.New(errs.KindGuardBlocked, "execution disabled")
	}
	if confidence < g.cfg.MinConfidence {
		return errs.New(errs.KindGuardBlocked,
			fmt.Sprintf("confidence %.2f below execution minimum %.2f", confidence, g.cfg.MinConfidence))
	}
	if g.count >= g.cfg.DailyOrderLimit {
		return errs.New(errs.KindGuardBlocked,
			fmt.Sprintf("daily order limit %d reached", g.cfg.DailyOrderLimit))
	}
	switch st, until := g.stateLocked(symbol, now); st {
	case StateInFlight:
		return errs.New(errs.KindGuardBlocked, "order already in flight for "+symbol)
	case StateCooledDown:
		return errs.New(errs.KindGuardBlocked,
			fmt.Sprintf("%s cooling down for %s", symbol, until.Sub(now).Round(time.Second)))
	}
	return nil
}

func (g *Guard) stateLocked(symbol string, now time.Time) (SymbolState, time.Time) {
	e, ok := g.symbols[symbol]
	if !ok {
		return StateEligible, time.Time{}
	}
	if e.state == StateCooledDown && !now.Before(e.until) {
		delete(g.symbols, symbol)
		return StateEligible, time.Time{}
	}
	return e.state, e.until
}

func (g *Guard) rolloverLocked(now time.Time) {
	if day := util.DayKey(now, g.cfg.Location); day != g.day {
		g.l.Info("daily order count reset", applogger.String("day", day), applogger.Int("previous", g.count))
		g.day, g.count = day, 0
	}
}

// State reports the current state of symbol.
func (g *Guard) State(symbol string) SymbolState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, _ := g.stateLocked(symbol, g.now())
	return st
}

// OrdersToday is the number of reservations made on the current local day.
func (g *Guard) OrdersToday() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	return g.count
}

func (g *Guard) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Enabled
}

// SetEnabled is the kill switch. Disabling it never cancels in-flight orders.
func (g *Guard) SetEnabled(on bool) {
	g.mu.Lock()
	g.cfg.Enabled = on
	g.mu.Unlock()
	g.l.Warn("execution toggled", applogger.Bool("enabled", on))
}

func (g *Guard) Config() GuardConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// GuardUpdate carries optional runtime changes; nil fields are left alone.
type GuardUpdate struct {
	MinConfidence   *float64
	DailyOrderLimit *int
	Cooldown        *time.Duration
}

func (g *Guard) Update(u GuardUpdate) GuardConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.MinConfidence != nil {
		g.cfg.MinConfidence = *u.MinConfidence
	}
	if u.DailyOrderLimit != nil {
		g.cfg.DailyOrderLimit = *u.DailyOrderLimit
	}
	if u.Cooldown != nil {
		g.cfg.Cooldown = *u.Cooldown
	}
	return g.cfg
}

// SymbolStates lists every symbol that is not eligible.
func (g *Guard) SymbolStates() map[string]SymbolState {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	out := make(map[string]SymbolState, len(g.symbols))
	for sym := range g.symbols {
		if st, _ := g.stateLocked(sym, now); st != StateEligible {
			out[sym] = st
		}
	}
	return out
}
