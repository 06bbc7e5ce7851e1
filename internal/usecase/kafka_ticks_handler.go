package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	pkgkafka "TradeCore/pkg/kafka"
	"TradeCore/pkg/util"
)

// KafkaTicksHandler consumes the ticks topic and folds ticks into bars.
type KafkaTicksHandler struct {
	topic   string
	bars    *BarAggregator
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)

func NewKafkaTicksHandler(topic string, bars *BarAggregator, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, bars: bars, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle accepts {symbol, t, c, v}; t may be in seconds or milliseconds.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m TickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	ts := time.UnixMilli(m.T)
	if m.T < 1e11 {
		ts = time.Unix(m.T, 0)
	}
	if m.Symbol == "" || m.C <= 0 {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("invalid tick for %q", m.Symbol)
	}
	return h.bars.Process(ctx, models.Tick{
		Symbol:    util.NormalizeSymbol(m.Symbol),
		Price:     m.C,
		Volume:    m.V,
		Timestamp: ts.UTC(),
	})
}
