//go:build wireinject
// +build wireinject

package di

import (
	"GridVol/pkg/config"
	"GridVol/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideRedis,

		// Repositories and collaborators
		ProvideStorage,
		ProvideRunLocker,
		ProvideResponseCache,
		ProvideRecordPublisher,
		ProvideNotifier,
		ProvideEstimator,

		// Use cases
		ProvideZoneFleet,
		ProvidePricesUseCase,
		ProvideIngestBuffer,
		ProvideKafkaConsumer,
		ProvideKafkaPricesHandler,
		ProvideJobQueue,
		ProvideScheduler,

		// HTTP
		ProvideLimiter,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
