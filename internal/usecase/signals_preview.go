package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/util"
)

// SignalsPreviewUseCase evaluates consensus for several symbols without
// touching the guard or the broker's order path.
type SignalsPreviewUseCase struct {
	broker  drepo.Broker
	engine  SignalEngine
	window  int
	timeout time.Duration
}

func NewSignalsPreviewUseCase(broker drepo.Broker, engine SignalEngine, window int) *SignalsPreviewUseCase {
	return &SignalsPreviewUseCase{broker: broker, engine: engine, window: window, timeout: 10 * time.Second}
}

type SignalsPreview struct {
	Signals   map[string]models.ConsensusSignal `json:"signals"`
	Errors    map[string]string                 `json:"errors,omitempty"`
	Timestamp time.Time                         `json:"timestamp"`
}

func (uc *SignalsPreviewUseCase) Preview(ctx context.Context, symbols []string) (*SignalsPreview, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbols required")
	}
	window := uc.window
	if lb := uc.engine.MaxLookback(); lb > window {
		window = lb
	}

	// Overall timeout
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res := &SignalsPreview{
		Signals:   make(map[string]models.ConsensusSignal, len(symbols)),
		Errors:    map[string]string{},
		Timestamp: time.Now(),
	}

	type item struct {
		symbol string
		sig    models.ConsensusSignal
		err    error
	}
	ch := make(chan item, len(symbols))
	var wg sync.WaitGroup
	for _, s := range symbols {
		s = util.NormalizeSymbol(s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bars, err := uc.broker.GetPriceHistory(ctx, s, window)
			if err != nil {
				ch <- item{symbol: s, err: err}
				return
			}
			ch <- item{symbol: s, sig: uc.engine.Evaluate(s, bars)}
		}()
	}
	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.symbol] = it.err.Error()
			continue
		}
		res.Signals[it.symbol] = it.sig
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}
