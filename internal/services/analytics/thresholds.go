package analytics

import (
	"math"
	"sync"

	"TradeCore/internal/domain/models"
)

const (
	thresholdStart = 0.50
	thresholdStep  = 0.05
	thresholdSteps = 10 // 0.50 .. 0.95
	accuracyWeight = 0.7
	pnlWeight      = 0.3
	nearBestMargin = 0.02
)

type thresholdScore struct {
	threshold float64
	score     float64
	n         int
}

// OptimizeThreshold scans confidence floors and scores the trades each floor
// would have kept: 0.7*accuracy + 0.3*[average pnl > 0]. Floors keeping fewer
// than minTrades are skipped. ok is false when no floor qualifies.
func OptimizeThreshold(closed []models.TradeRecord, minTrades int) (models.ThresholdRecommendation, bool) {
	var scored []thresholdScore
	for i := 0; i < thresholdSteps; i++ {
		th := math.Round((thresholdStart+thresholdStep*float64(i))*100) / 100

		var n, wins int
		var pnl float64
		for _, t := range closed {
			if !t.Closed || !t.Success || t.Confidence < th {
				continue
			}
			n++
			pnl += t.RealizedPnL
			if t.RealizedPnL > 0 {
				wins++
			}
		}
		if n == 0 || n < minTrades {
			continue
		}
		score := accuracyWeight * float64(wins) / float64(n)
		if pnl/float64(n) > 0 {
			score += pnlWeight
		}
		scored = append(scored, thresholdScore{threshold: th, score: score, n: n})
	}
	if len(scored) == 0 {
		return models.ThresholdRecommendation{}, false
	}

	best := scored[0]
	for _, s := range scored[1:] {
		if s.score > best.score {
			best = s
		}
	}
	rec := models.ThresholdRecommendation{
		Optimal:   best.threshold,
		Lower:     best.threshold,
		Upper:     best.threshold,
		Score:     best.score,
		SampleLen: best.n,
	}
	for _, s := range scored {
		if s.score < best.score-nearBestMargin {
			continue
		}
		rec.Lower = math.Min(rec.Lower, s.threshold)
		rec.Upper = math.Max(rec.Upper, s.threshold)
	}
	return rec, true
}

// ThresholdBook holds the latest recommendation.
type ThresholdBook struct {
	mu  sync.RWMutex
	rec models.ThresholdRecommendation
	ok  bool
}

func NewThresholdBook() *ThresholdBook { return &ThresholdBook{} }

func (b *ThresholdBook) Get() (models.ThresholdRecommendation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rec, b.ok
}

func (b *ThresholdBook) Set(rec models.ThresholdRecommendation) {
	b.mu.Lock()
	b.rec, b.ok = rec, true
	b.mu.Unlock()
}
