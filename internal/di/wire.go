//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TradeCore/pkg/config"
	"TradeCore/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideTradeStore,
		ProvideCounterStore,
		ProvideEventLog,
		ProvideEventSink,
		ProvideBarStore,

		// Brokerage
		ProvidePaperBroker,
		ProvideBroker,

		// Decision services
		ProvideSizer,
		ProvideRiskEngine,
		ProvidePerformanceBook,
		ProvideConsensusEngine,
		ProvideGuard,
		ProvideRouter,

		// Use cases
		ProvideTradeRecorder,
		ProvideRecordQueue,
		ProvideTradingAgent,
		ProvideLearner,
		ProvideScanCycle,
		ProvideLearningCycle,
		ProvideBarAggregator,
		ProvideMarketCollector,
		ProvideKafkaConsumer,
		ProvideKafkaTicksHandler,

		// Control surface
		ProvideControlHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
