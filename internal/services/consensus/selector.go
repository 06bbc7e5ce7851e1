package consensus

import (
	"sort"
	"sync"
	"time"
)

// SelectorConfig controls when the active strategy may change.
type SelectorConfig struct {
	// SwitchMargin is how far a challenger's accuracy must exceed the incumbent's.
	SwitchMargin float64
	// SustainWindow is how long the same challenger must keep that lead.
	SustainWindow time.Duration
	// MinDwell is the minimum time between two switches.
	MinDwell time.Duration
	// MinSignals is the number of graded signals a challenger needs.
	MinSignals int
}

// Switch describes one change of the active strategy.
type Switch struct {
	From, To       string
	FromAcc, ToAcc float64
	At             time.Time
}

// Selector tracks the active strategy and promotes a challenger only after a
// sustained, margin-clearing lead, never more often than MinDwell.
type Selector struct {
	mu         sync.Mutex
	cfg        SelectorConfig
	candidates []string

	active       string
	lastSwitch   time.Time
	pending      string
	pendingSince time.Time
}

// NewSelector starts with initial as the incumbent; start counts as its
// promotion time for the dwell rule.
func NewSelector(cfg SelectorConfig, candidates []string, initial string, start time.Time) *Selector {
	c := append([]string(nil), candidates...)
	sort.Strings(c)
	if initial == "" && len(c) > 0 {
		initial = c[0]
	}
	return &Selector{cfg: cfg, candidates: c, active: initial, lastSwitch: start}
}

func (s *Selector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Observe re-evaluates the incumbent against the book at now. It returns the
// switch that happened, if any.
func (s *Selector) Observe(book *PerformanceBook, now time.Time) (Switch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incAcc := book.Accuracy(s.active)
	best, bestAcc := "", -1.0
	for _, id := range s.candidates {
		if id == s.active {
			continue
		}
		p, ok := book.Get(id)
		if !ok || p.TotalSignals < s.cfg.MinSignals || p.TotalSignals == 0 {
			continue
		}
		if p.Accuracy > bestAcc {
			best, bestAcc = id, p.Accuracy
		}
	}

	if best == "" || bestAcc < incAcc+s.cfg.SwitchMargin {
		s.pending = ""
		return Switch{}, false
	}
	if s.pending != best {
		s.pending, s.pendingSince = best, now
		if s.cfg.SustainWindow > 0 {
			return Switch{}, false
		}
	}
	if now.Sub(s.pendingSince) < s.cfg.SustainWindow || now.Sub(s.lastSwitch) < s.cfg.MinDwell {
		return Switch{}, false
	}

	sw := Switch{From: s.active, To: best, FromAcc: incAcc, ToAcc: bestAcc, At: now}
	s.active, s.lastSwitch, s.pending = best, now, ""
	return sw, true
}
