//go:build wireinject
// +build wireinject

package di

import (
	"LiveTicks/pkg/config"
	"LiveTicks/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideClickHouseClient,
		ProvideSnapshotStore,

		// Repositories
		ProvideTickStorage,
		ProvideTickPublisher,
		ProvideDialer,

		// Use cases
		ProvideSinkPipeline,
		ProvideStreamService,

		// Transport
		ProvideHub,
		ProvideStreamHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
