package usecase

import (
	"context"
	"fmt"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
)

const (
	TickBackendBars  = "bars"
	TickBackendKafka = "kafka"
)

// TickPublisher is the part of pkg/kafka.Producer used to fan ticks out.
type TickPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// TickMessage is the wire form of a tick on the ticks topic.
type TickMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"` // ms
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

// TickProcessor routes ticks either straight into the bar aggregator or
// onto a Kafka topic that a consumer folds into bars.
type TickProcessor struct {
	bars    *BarAggregator
	pub     TickPublisher
	topic   string
	metrics drepo.Metrics
	backend string
}

func NewTickProcessor(bars *BarAggregator, pub TickPublisher, topic string, metrics drepo.Metrics, backend string) *TickProcessor {
	return &TickProcessor{bars: bars, pub: pub, topic: topic, metrics: metrics, backend: backend}
}

// Process processes a single tick and routes it to the configured backend.
func (p *TickProcessor) Process(ctx context.Context, t models.Tick) error {
	var err error
	switch p.backend {
	case TickBackendKafka:
		if p.pub == nil {
			err = fmt.Errorf("no publisher for kafka backend")
			break
		}
		err = p.pub.Publish(ctx, p.topic, []byte(t.Symbol), TickMessage{
			Symbol: t.Symbol,
			T:      t.Timestamp.UnixMilli(),
			C:      t.Price,
			V:      t.Volume,
		})
	case TickBackendBars, "":
		err = p.bars.Process(ctx, t)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		p.metrics.RecordError("tick_process")
		return fmt.Errorf("process tick: %w", err)
	}
	if lp, ok := p.metrics.(interface{ RecordLastPrice(string, float64) }); ok {
		lp.RecordLastPrice(t.Symbol, t.Price)
	}
	return nil
}
