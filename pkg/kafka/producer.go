package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes to Kafka. Values that are not []byte or string are
// JSON encoded. It is safe for concurrent use.
type Producer struct {
	writer *kafka.Writer
	codec  string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, _ := compressionCodec(cfg.Compression)

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	producerMetricsOnce.Do(registerProducerMetrics)

	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               balancer,
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            codec,
			MaxAttempts:            cfg.MaxAttempts,
			WriteTimeout:           cfg.WriteTimeout,
			BatchTimeout:           cfg.BatchTimeout,
			Async:                  cfg.Async,
			AllowAutoTopicCreation: true,
			Completion:             observeCompletion,
		},
		codec: cfg.Compression,
	}, nil
}

// Message is one keyed record for PublishBatch.
type Message struct {
	Key   []byte
	Value interface{}
}

// Publish sends value to topic. An empty key spreads records across partitions.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage sends an unkeyed record. It satisfies logger.Publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now()
	out := make([]kafka.Message, 0, len(messages))
	var size int
	for _, m := range messages {
		v, err := encodeValue(m.Value)
		if err != nil {
			producerErrors.WithLabelValues(topic, "encode").Inc()
			return err
		}
		size += len(v)
		out = append(out, kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: now})
	}

	err := p.writer.WriteMessages(ctx, out...)
	producerLatency.WithLabelValues(topic).Observe(time.Since(now).Seconds())
	if err != nil {
		producerErrors.WithLabelValues(topic, "write").Inc()
		return fmt.Errorf("publish %d record(s) to %s: %w", len(out), topic, err)
	}
	producerBytes.WithLabelValues(topic, p.codec).Add(float64(size))
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode kafka value: %w", err)
		}
		return b, nil
	}
}

var (
	producerMetricsOnce sync.Once
	producerRecords     *prometheus.CounterVec
	producerErrors      *prometheus.CounterVec
	producerBytes       *prometheus.CounterVec
	producerLatency     *prometheus.HistogramVec
)

func registerProducerMetrics() {
	producerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecore_kafka_producer_records_total",
		Help: "Records acknowledged by Kafka, by topic.",
	}, []string{"topic"})
	producerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecore_kafka_producer_errors_total",
		Help: "Producer failures, by topic and stage.",
	}, []string{"topic", "stage"})
	producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecore_kafka_producer_bytes_total",
		Help: "Payload bytes handed to the writer.",
	}, []string{"topic", "compression"})
	producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradecore_kafka_producer_write_seconds",
		Help:    "WriteMessages latency; near zero for async writers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
}

// observeCompletion runs once per delivered batch, including async ones.
func observeCompletion(messages []kafka.Message, err error) {
	if len(messages) == 0 {
		return
	}
	topic := messages[0].Topic
	if err != nil {
		producerErrors.WithLabelValues(topic, "delivery").Inc()
		return
	}
	producerRecords.WithLabelValues(topic).Add(float64(len(messages)))
}
