package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/handler/api"
	mid "TradeCore/internal/middleware"
	"TradeCore/internal/repository"
	"TradeCore/internal/service/broker"
	"TradeCore/internal/service/finnhub"
	"TradeCore/internal/services/analytics"
	"TradeCore/internal/services/consensus"
	"TradeCore/internal/services/execution"
	"TradeCore/internal/services/risk"
	"TradeCore/internal/services/sizing"
	"TradeCore/internal/services/strategy"
	"TradeCore/internal/usecase"
	"TradeCore/pkg/cache"
	pkgch "TradeCore/pkg/clickhouse"
	"TradeCore/pkg/config"
	xhttp "TradeCore/pkg/http"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
	"TradeCore/pkg/queue"
	"TradeCore/pkg/server"
)

const (
	eventLogCapacity = 500
	startupTimeout   = 10 * time.Second
	layeredL1TTL     = 5 * time.Second
)

// ProvideLogger builds the root logger. With Kafka enabled, error records
// are also aggregated onto kafka.errors_topic; the collector is attached
// before any component derives a child logger.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	root, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		root.AddCollector(&applogger.CollectionConfig{
			TimeInterval: 30 * time.Second,
			Topic:        cfg.Kafka.ErrorsTopic,
			Publisher:    producer,
		})
	}
	return root, nil
}

// ProvideMetrics registers the Prometheus recorder, or a no-op when metrics are off.
func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCache puts a memory L1 in front of Redis when Redis is enabled.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(layeredL1TTL)), nil
}

// ProvideClickHouseClient connects and migrates only when the ledger lives in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Store.Type != "clickhouse" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	c := cfg.ClickHouse
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(c.Host, c.Port),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
		pkgch.WithMaxExecutionTime(c.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.Migrate(ctx, repository.ClickHouseSchema(c.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideTradeStore selects the ledger backend.
func ProvideTradeStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (drepo.TradeStore, error) {
	switch cfg.Store.Type {
	case "sqlite":
		s, err := repository.NewSQLiteTradeStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite trade store: %w", err)
		}
		return s, nil
	case "clickhouse":
		return repository.NewClickHouseTradeStore(ch, l), nil
	default:
		return repository.NewMemoryTradeStore(), nil
	}
}

func ProvideCounterStore(c cache.Service) drepo.CounterStore {
	return repository.NewCacheCounterStore(c)
}

func ProvideEventLog() *repository.MemoryEventSink {
	return repository.NewMemoryEventSink(eventLogCapacity)
}

// ProvideEventSink fans events out to the in-process log, the structured
// logger and, when enabled, Kafka.
func ProvideEventSink(cfg *config.Config, producer *pkgkafka.Producer, mem *repository.MemoryEventSink, l *applogger.Logger) drepo.EventSink {
	sinks := []drepo.EventSink{mem, repository.NewLogEventSink(l)}
	if producer != nil {
		sinks = append(sinks, repository.NewKafkaEventSink(producer, cfg.Kafka.EventsTopic, l))
	}
	return repository.NewFanoutSink(sinks...)
}

func ProvideBarStore(cfg *config.Config) *repository.MemoryBarStore {
	return repository.NewMemoryBarStore(cfg.Finnhub.MaxBars)
}

// ProvidePaperBroker returns nil unless broker.type is paper.
func ProvidePaperBroker(cfg *config.Config, l *applogger.Logger) (*broker.PaperBroker, error) {
	if cfg.Broker.Type != "paper" {
		return nil, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return broker.NewPaperBroker(broker.PaperConfig{
		StartingCash: cfg.Broker.Paper.StartingCash,
		SlippageBps:  cfg.Broker.Paper.SlippageBps,
		Seed:         cfg.Broker.Paper.Seed,
		BarInterval:  cfg.Finnhub.BarInterval,
		Sectors:      cfg.Sectors,
		Location:     loc,
	}, l), nil
}

// ProvideBroker stacks the history decorators on the selected brokerage:
// cache outermost, then the live-feed bars, then the broker itself.
func ProvideBroker(cfg *config.Config, paper *broker.PaperBroker, bars *repository.MemoryBarStore, c cache.Service, l *applogger.Logger) drepo.Broker {
	var b drepo.Broker
	if paper != nil {
		b = paper
	} else {
		b = broker.NewBridgeBroker(broker.BridgeConfig{
			BaseURL:  cfg.Broker.BridgeURL,
			Timeout:  cfg.Execution.BrokerTimeout,
			Attempts: 3,
		}, l)
	}
	if cfg.Broker.UseFeedHistory {
		b = broker.NewFeedBroker(b, bars)
	}
	if cfg.Broker.HistoryCacheTTL > 0 {
		b = broker.NewCachedBroker(b, c, cfg.Broker.HistoryCacheTTL, l)
	}
	return b
}

func ProvideSizer(cfg *config.Config) (*sizing.Calculator, error) {
	s := cfg.Sizing
	return sizing.New(sizing.Config{
		BaseFraction:           s.BaseFraction,
		MaxBonus:               s.MaxBonus,
		ConfidenceFloor:        s.ConfidenceFloor,
		ConfidenceCeiling:      s.ConfidenceCeiling,
		MaxFraction:            s.MaxFraction,
		MinOrderValue:          s.MinOrderValue,
		MaxOrderValue:          s.MaxOrderValue,
		MaxBuyingPowerFraction: s.MaxBuyingPowerFraction,
		MinBuyingPower:         s.MinBuyingPower,
	})
}

func ProvideRiskEngine(cfg *config.Config, sizer *sizing.Calculator, b drepo.Broker, l *applogger.Logger) *risk.Engine {
	r := cfg.Risk
	return risk.NewEngine(risk.Config{
		MaxDailyLossPercent: r.MaxDailyLossPercent,
		MaxPositionSize:     r.MaxPositionSize,
		MaxSectorExposure:   r.MaxSectorExposure,
		MaxCorrelation:      r.MaxCorrelation,
		MinConfidenceBuy:    r.MinConfidenceBuy,
		MinConfidenceSell:   r.MinConfidenceSell,
		AllowShort:          r.AllowShort,
		LowAgreement:        r.LowAgreement,
		WarningPenalty:      r.WarningPenalty,
		Sectors:             cfg.Sectors,
		Checks: risk.Checks{
			DailyLoss:            r.Checks.DailyLoss,
			PositionSize:         r.Checks.PositionSize,
			SectorExposure:       r.Checks.SectorExposure,
			Correlation:          r.Checks.Correlation,
			Confidence:           r.Checks.Confidence,
			SellRequiresPosition: r.Checks.SellRequiresPosition,
		},
	}, sizer, risk.NewHistoryCorrelation(b, r.CorrelationWindow, l), l)
}

// ProvidePerformanceBook seeds strategy accuracies from the ledger. A
// failed load starts every strategy at neutral accuracy.
func ProvidePerformanceBook(store drepo.TradeStore, l *applogger.Logger) *consensus.PerformanceBook {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	perf, err := store.LoadStrategyPerformance(ctx)
	if err != nil {
		l.Warn("strategy performance not loaded", applogger.Error(err))
		return consensus.NewPerformanceBook()
	}
	return consensus.NewPerformanceBook(perf...)
}

func ProvideConsensusEngine(cfg *config.Config, book *consensus.PerformanceBook, events drepo.EventSink, m drepo.Metrics, l *applogger.Logger) (*consensus.Engine, error) {
	reg := strategy.DefaultRegistry()
	members := make([]consensus.Member, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := reg.Build(sc.ID, strategy.Params(sc.Params))
		if err != nil {
			return nil, err
		}
		members = append(members, consensus.Member{Strategy: s, Weight: sc.Weight})
	}
	return consensus.NewEngine(members, book, consensus.Config{
		InitialActive: cfg.Consensus.InitialActive,
		Selector: consensus.SelectorConfig{
			SwitchMargin:  cfg.Consensus.SwitchMargin,
			SustainWindow: cfg.Consensus.SustainWindow,
			MinDwell:      cfg.Consensus.MinDwell,
			MinSignals:    cfg.Consensus.MinSignals,
		},
	}, l, consensus.WithEventSink(events), consensus.WithMetrics(m))
}

func ProvideGuard(cfg *config.Config, counters drepo.CounterStore, l *applogger.Logger) (*execution.Guard, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return execution.NewGuard(execution.GuardConfig{
		Enabled:         cfg.Execution.Enabled,
		MinConfidence:   cfg.Execution.MinConfidence,
		DailyOrderLimit: cfg.Execution.DailyOrderLimit,
		Cooldown:        cfg.Execution.Cooldown,
		Location:        loc,
	}, counters, l), nil
}

func ProvideRouter(cfg *config.Config, b drepo.Broker, l *applogger.Logger) *execution.Router {
	return execution.NewRouter(b, execution.RouterConfig{
		Timeout:          cfg.Execution.BrokerTimeout,
		OrdersPerMinute:  cfg.Execution.OrdersPerMinute,
		BreakerThreshold: cfg.Execution.BreakerThreshold,
		BreakerTimeout:   cfg.Execution.BreakerTimeout,
	}, l)
}

func ProvideTradeRecorder(cfg *config.Config, store drepo.TradeStore, m drepo.Metrics, events drepo.EventSink, l *applogger.Logger) *usecase.TradeRecorder {
	return usecase.NewTradeRecorder(store, m, events, cfg.Store.RetryLimit, l)
}

// ProvideRecordQueue moves ledger writes off the decision path. Records that
// exhaust their attempts go back to the recorder's retry buffer.
func ProvideRecordQueue(cfg *config.Config, rec *usecase.TradeRecorder, l *applogger.Logger) *queue.MemoryQueue {
	q := queue.NewMemoryQueue(l, queue.QueueConfig{
		Workers:    cfg.Store.Workers,
		QueueSize:  cfg.Store.Buffer,
		RetryLimit: cfg.Store.Attempts,
		RetryDelay: cfg.Store.AttemptDelay,
	}, queue.WithDeadLetter(rec.DeadLetter))
	q.RegisterJob(rec)
	rec.Attach(q)
	return q
}

func ProvideTradingAgent(
	cfg *config.Config,
	b drepo.Broker,
	engine *consensus.Engine,
	riskEngine *risk.Engine,
	sizer *sizing.Calculator,
	guard *execution.Guard,
	router *execution.Router,
	rec *usecase.TradeRecorder,
	events drepo.EventSink,
	m drepo.Metrics,
	l *applogger.Logger,
) *usecase.TradingAgent {
	return usecase.NewTradingAgent(b, engine, riskEngine, sizer, guard, router, rec,
		usecase.AgentConfig{HistoryWindow: cfg.Scan.HistoryWindow}, l,
		usecase.WithAgentEvents(events), usecase.WithAgentMetrics(m))
}

func ProvideLearner(
	cfg *config.Config,
	store drepo.TradeStore,
	book *consensus.PerformanceBook,
	rec *usecase.TradeRecorder,
	guard *execution.Guard,
	riskEngine *risk.Engine,
	events drepo.EventSink,
	m drepo.Metrics,
	l *applogger.Logger,
) *analytics.Learner {
	return analytics.NewLearner(store, book, analytics.NewThresholdBook(), analytics.Config{
		Lookback:              cfg.Learning.Lookback,
		Limit:                 cfg.Learning.Limit,
		MinClosedTrades:       cfg.Learning.MinClosedTrades,
		MinTradesPerThreshold: cfg.Learning.MinTradesPerThreshold,
		ApplyThresholds:       cfg.Learning.ApplyThresholds,
	}, l,
		analytics.WithFlusher(rec),
		analytics.WithApplier(usecase.NewThresholdApplier(guard, riskEngine, l)),
		analytics.WithEventSink(events),
		analytics.WithMetrics(m),
	)
}

func ProvideScanCycle(cfg *config.Config, agent *usecase.TradingAgent, guard *execution.Guard, events drepo.EventSink, l *applogger.Logger) *usecase.ScanCycle {
	return usecase.NewScanCycle(agent, guard, cfg.Symbols, cfg.Scan.MaxParallel, events, l)
}

func ProvideLearningCycle(learner *analytics.Learner, events drepo.EventSink, m drepo.Metrics, l *applogger.Logger) *usecase.LearningCycle {
	return usecase.NewLearningCycle(learner, events, m, l)
}

// ProvideBarAggregator marks the paper broker with every trade print so its
// fills track the live feed.
func ProvideBarAggregator(cfg *config.Config, bars *repository.MemoryBarStore, paper *broker.PaperBroker) *usecase.BarAggregator {
	var marker usecase.PriceMarker
	if paper != nil {
		marker = paper
	}
	return usecase.NewBarAggregator(bars, cfg.Finnhub.BarInterval, marker)
}

// ProvideMarketCollector returns nil when the Finnhub feed is disabled.
func ProvideMarketCollector(cfg *config.Config, agg *usecase.BarAggregator, producer *pkgkafka.Producer, m drepo.Metrics, l *applogger.Logger) *usecase.MarketCollector {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	var pub usecase.TickPublisher
	if producer != nil {
		pub = producer
	}
	proc := usecase.NewTickProcessor(agg, pub, cfg.Kafka.TicksTopic, m, cfg.Finnhub.Backend)
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Finnhub.MaxRPS),
		mid.WithBufferSize(2000),
	)
	stream := finnhub.New(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, cfg.Finnhub.ReconnectDelay, cfg.Finnhub.PingInterval, l)
	return usecase.NewMarketCollector(stream, pipe, cfg.Symbols, m, l)
}

// ProvideKafkaConsumer reads the ticks topic back into bars. It exists only
// when ticks are routed through Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Finnhub.Backend != "kafka" {
		return nil, nil
	}
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.ConsumerGroup),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkgkafka.WithConsumerRegisterer(prometheus.DefaultRegisterer))
	}
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaTicksHandler(cfg *config.Config, agg *usecase.BarAggregator, m drepo.Metrics) pkgkafka.MessageHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, agg, m)
}

func ProvideControlHandler(
	cfg *config.Config,
	agent *usecase.TradingAgent,
	guard *execution.Guard,
	riskEngine *risk.Engine,
	sizer *sizing.Calculator,
	learner *analytics.Learner,
	store drepo.TradeStore,
	b drepo.Broker,
	engine *consensus.Engine,
	router *execution.Router,
	events *repository.MemoryEventSink,
	l *applogger.Logger,
) *api.ControlEchoHandler {
	return api.NewControlEchoHandler(l, api.ControlDeps{
		Agent:   agent,
		Guard:   guard,
		Risk:    riskEngine,
		Sizing:  sizer.Config(),
		Reports: learner,
		Trades:  store,
		Bars:    usecase.NewBarsUseCase(b),
		Preview: usecase.NewSignalsPreviewUseCase(b, engine, cfg.Scan.HistoryWindow),
		Events:  events,
		Breaker: router,
		Symbols: cfg.Symbols,
	})
}

// ProvideHTTPServer returns nil when the control surface is disabled.
func ProvideHTTPServer(cfg *config.Config, h *api.ControlEchoHandler, l *applogger.Logger) *xhttp.Server {
	if !cfg.HTTP.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithAddress("", cfg.HTTP.Port),
		xhttp.WithTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout),
		xhttp.WithRequestTimeout(cfg.HTTP.WriteTimeout),
		xhttp.WithMetrics(metricsPath, nil, nil),
		xhttp.WithLogger(l),
	)
}

// ProvideApp assembles the lifecycle and the shutdown order of shared clients.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	guard *execution.Guard,
	scan *usecase.ScanCycle,
	learning *usecase.LearningCycle,
	rec *usecase.TradeRecorder,
	q *queue.MemoryQueue,
	collector *usecase.MarketCollector,
	consumer *pkgkafka.Consumer,
	ticks pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	c cache.Service,
	store drepo.TradeStore,
	ch *pkgch.Client,
) *server.App {
	comps := server.Components{
		Config:    cfg,
		Logger:    l,
		Guard:     guard,
		Scan:      scan,
		Learning:  learning,
		Recorder:  rec,
		Queue:     q,
		Collector: collector,
		HTTP:      httpServer,
	}
	if consumer != nil {
		comps.Consumer, comps.Ticks = consumer, ticks
	}
	if producer != nil {
		comps.Closers = append(comps.Closers, server.Closer{Name: "kafka_producer", Closer: producer})
	}
	comps.Closers = append(comps.Closers,
		server.Closer{Name: "trade_store", Closer: store},
		server.Closer{Name: "cache", Closer: c},
	)
	if ch != nil {
		comps.Closers = append(comps.Closers, server.Closer{Name: "clickhouse", Closer: ch})
	}
	return server.New(comps)
}
