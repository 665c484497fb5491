//go:build wireinject
// +build wireinject

package di

import (
	"QuoteFlow/pkg/config"
	"QuoteFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,
		ProvideQuoteMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideRedisCache,

		// Quoting core
		ProvideSignalEngine,
		ProvideQuoteManager,
		ProvideRiskManager,
		ProvideMarketMaker,

		// Repositories
		ProvideQuotePublisher,
		ProvideJournal,
		ProvideStateMirror,
		ProvideMarketStream,

		// Use cases
		ProvideJournalWriter,
		ProvideFillPolicy,
		ProvideQuoteCycle,
		ProvideEventPipeline,
		ProvideFeedCollector,
		ProvideKafkaConsumer,
		ProvideKafkaHandlers,

		// Transport
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		wire.Struct(new(server.Components), "*"),
		ProvideApp,
	)
	return &server.App{}, nil
}
