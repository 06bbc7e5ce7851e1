package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "TradeCore/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerConfig tunes the readers and the worker shards behind Consumer.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Shards     int
	ShardDepth int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	FetchWait  time.Duration
	DLQTopic   string
	Logger     *applogger.Logger
	Registerer prometheus.Registerer
}

type ConsumerOption func(*ConsumerConfig)

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerWorkers sets the number of worker shards. Each partition maps
// to exactly one shard, so its messages are handled in offset order.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.Shards = n
		}
	}
}

// WithConsumerRetry sets how often a failed message is retried and the
// backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax, c.BackoffMin, c.BackoffMax = max, backoffMin, backoffMax
	}
}

// WithConsumerDLQ parks messages that exhausted their retries on topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.ShardDepth = n
		}
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// WithConsumerRegisterer exports shard depth and handling time on reg.
func WithConsumerRegisterer(reg prometheus.Registerer) ConsumerOption {
	return func(c *ConsumerConfig) { c.Registerer = reg }
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		GroupID:    "tradecore",
		Shards:     1,
		ShardDepth: 64,
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		FetchWait:  3 * time.Second,
	}
}

// fetcher is the part of kafka.Reader the consumer drives.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumerMetrics struct {
	depth   *prometheus.GaugeVec
	handled *prometheus.HistogramVec
	failed  *prometheus.CounterVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &consumerMetrics{
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_kafka_shard_depth",
			Help: "Messages waiting per consumer shard",
		}, []string{"shard"}),
		handled: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "tradecore_kafka_handle_seconds",
			Help: "Handling time per message including retries",
		}, []string{"topic"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_kafka_failed_total",
			Help: "Messages that exhausted their retries",
		}, []string{"topic"}),
	}
}

// Consumer reads the registered topics and routes every message to a shard
// chosen by topic and partition. A message is committed once it was handled
// or written to the dead-letter topic.
type Consumer struct {
	cfg      ConsumerConfig
	l        *applogger.Logger
	metrics  *consumerMetrics
	handlers map[string]MessageHandler
	readers  map[string]fetcher
	shards   []chan kafka.Message
	dlq      *kafka.Writer

	newReader func(topic string) fetcher

	ctx      context.Context
	cancel   context.CancelFunc
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer: group id is required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.NewNop()
	}
	c := &Consumer{
		cfg:      cfg,
		l:        l.With(applogger.String("component", "kafka_consumer")),
		metrics:  newConsumerMetrics(cfg.Registerer),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]fetcher),
	}
	c.newReader = func(topic string) fetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.l.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.shards = make([]chan kafka.Message, c.cfg.Shards)
	for i := range c.shards {
		c.shards[i] = make(chan kafka.Message, c.cfg.ShardDepth)
		c.workers.Add(1)
		go c.work(i)
	}
	for topic := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		c.fetchers.Add(1)
		go c.fetch(topic, r)
	}
	go func() {
		c.fetchers.Wait()
		for _, ch := range c.shards {
			close(ch)
		}
	}()

	c.l.Info("kafka consumer started", applogger.Int("shards", len(c.shards)), applogger.Int("topics", len(c.readers)))
	return nil
}

// Stop cancels in-flight retries, waits until ctx expires for the shards to
// drain and commit, then closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.l.Warn("close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("close dlq writer", applogger.Error(cerr))
			}
		}
		c.l.Info("kafka consumer stopped")
	})
	return err
}

// shardFor maps each partition of a topic to a fixed shard.
func (c *Consumer) shardFor(topic string, partition int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(len(c.shards)))
}

func (c *Consumer) fetch(topic string, r fetcher) {
	defer c.fetchers.Done()
	failures := 0
	for c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchWait)
		km, err := r.FetchMessage(ctx)
		cancel()
		switch {
		case err == nil:
			failures = 0
		case c.ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			failures++
			c.l.Warn("fetch message", applogger.String("topic", topic), applogger.Int("failures", failures), applogger.Error(err))
			if !c.sleep(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}

		if km.Topic == "" {
			km.Topic = topic
		}
		i := c.shardFor(topic, km.Partition)
		select {
		case c.shards[i] <- km:
			if c.metrics != nil {
				c.metrics.depth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(c.shards[i])))
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(shard int) {
	defer c.workers.Done()
	for km := range c.shards[shard] {
		c.handle(km)
	}
}

func (c *Consumer) handle(km kafka.Message) {
	h, ok := c.handlers[km.Topic]
	if !ok {
		return
	}
	start := time.Now()
	attempts, err := c.attempt(h, km)
	if c.ctx.Err() != nil && err != nil {
		// shutting down: leave the offset uncommitted for the next owner
		return
	}
	if c.metrics != nil {
		c.metrics.handled.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		c.l.Warn("message handling failed",
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		if c.metrics != nil {
			c.metrics.failed.WithLabelValues(km.Topic).Inc()
		}
		if !c.deadLetter(km, err) {
			return
		}
	}
	c.commit(km)
}

// attempt runs the handler up to RetryMax+1 times. A panic counts as a
// failed attempt.
func (c *Consumer) attempt(h MessageHandler, km kafka.Message) (int, error) {
	var err error
	for n := 1; ; n++ {
		err = safeHandle(c.ctx, h, km.Value)
		if err == nil || n > c.cfg.RetryMax {
			return n, err
		}
		if !c.sleep(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, n)) {
			return n, err
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, value)
}

// deadLetter reports whether the message may be committed. Without a DLQ a
// failed message is committed anyway so one bad tick cannot stall the
// partition.
func (c *Consumer) deadLetter(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return true
	}
	err := c.dlq.WriteMessages(c.ctx, kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(km.Topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.l.Error("write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	if r == nil {
		return
	}
	var err error
	for n := 1; n <= 3; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		if !c.sleep(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, n)) {
			break
		}
	}
	c.l.Warn("commit failed", applogger.String("topic", km.Topic), applogger.Int64("offset", km.Offset), applogger.Error(err))
}

// sleep waits d or until the consumer stops; false means it stopped.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// backoff doubles from lo per attempt, caps at hi and subtracts up to half
// as jitter.
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	if hi < lo {
		hi = lo
	}
	d := hi
	if attempt < 32 {
		if exp := lo << uint(attempt-1); exp > 0 && exp < hi {
			d = exp
		}
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}
