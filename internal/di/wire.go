//go:build wireinject
// +build wireinject

package di

import (
	"PatternMemory/pkg/config"
	"PatternMemory/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedis,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Memory and persistence
		ProvideMemoryStore,
		ProvideSnapshotStore,
		ProvidePersister,

		// Signal delivery
		ProvideClaimer,
		ProvideHub,
		ProvideSinks,
		ProvideEmitter,

		// Use cases
		ProvideAnalyzeUseCase,
		ProvideCandleStore,
		ProvideScheduler,
		ProvideKafkaHandlers,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
