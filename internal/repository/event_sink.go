package repository

import (
	"context"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
)

// Publisher is the part of pkg/kafka.Producer the event sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventSink publishes events keyed by symbol. Publish failures are
// logged and swallowed.
type KafkaEventSink struct {
	pub     Publisher
	topic   string
	timeout time.Duration
	l       *applogger.Logger
}

var _ drepo.EventSink = (*KafkaEventSink)(nil)

func NewKafkaEventSink(pub Publisher, topic string, l *applogger.Logger) *KafkaEventSink {
	if l == nil {
		l = applogger.NewNop()
	}
	return &KafkaEventSink{pub: pub, topic: topic, timeout: 2 * time.Second, l: l.With(applogger.String("component", "kafka_event_sink"))}
}

func (s *KafkaEventSink) Emit(ctx context.Context, e models.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	var key []byte
	if e.Symbol != "" {
		key = []byte(e.Symbol)
	}
	if err := s.pub.Publish(ctx, s.topic, key, e); err != nil {
		s.l.Warn("publish event failed",
			applogger.String("type", string(e.Type)),
			applogger.String("symbol", e.Symbol),
			applogger.Error(err),
		)
	}
}

// LogEventSink writes each event as a structured log line.
type LogEventSink struct {
	l *applogger.Logger
}

var _ drepo.EventSink = (*LogEventSink)(nil)

func NewLogEventSink(l *applogger.Logger) *LogEventSink {
	if l == nil {
		l = applogger.NewNop()
	}
	return &LogEventSink{l: l.With(applogger.String("component", "events"))}
}

func (s *LogEventSink) Emit(_ context.Context, e models.Event) {
	fields := []applogger.Field{
		applogger.String("type", string(e.Type)),
		applogger.String("symbol", e.Symbol),
	}
	if e.Reason != "" {
		fields = append(fields, applogger.String("reason", e.Reason))
	}
	if e.Confidence != 0 {
		fields = append(fields, applogger.Float64("confidence", e.Confidence))
	}
	if len(e.Data) > 0 {
		fields = append(fields, applogger.Any("data", e.Data))
	}
	switch e.Type {
	case models.EventOrderFailed, models.EventPersistenceFailed:
		s.l.Warn("event", fields...)
	default:
		s.l.Info("event", fields...)
	}
}

// MemoryEventSink keeps the most recent events for the control surface.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []models.Event
	next   int
	full   bool
}

var _ drepo.EventSink = (*MemoryEventSink)(nil)

func NewMemoryEventSink(capacity int) *MemoryEventSink {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryEventSink{events: make([]models.Event, capacity)}
}

func (s *MemoryEventSink) Emit(_ context.Context, e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = e
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to n events, newest last.
func (s *MemoryEventSink) Recent(n int) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := s.next
	if s.full {
		size = len(s.events)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.Event, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if s.full {
			idx = (s.next + i) % len(s.events)
		}
		out = append(out, s.events[idx])
	}
	return out
}

// FanoutSink forwards every event to each sink in order.
type FanoutSink []drepo.EventSink

var _ drepo.EventSink = FanoutSink(nil)

func NewFanoutSink(sinks ...drepo.EventSink) FanoutSink {
	out := make(FanoutSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f FanoutSink) Emit(ctx context.Context, e models.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, s := range f {
		s.Emit(ctx, e)
	}
}
