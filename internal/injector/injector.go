//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/events/bus"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/service"
	"github.com/treesync/treesync/internal/server"
)

// BuildServer assembles a ready-to-start server and everything under
// it from one configuration. The returned cleanup releases the session
// store; it is safe to call after the server has been stopped.
func BuildServer(cfg *config.Config) (*server.Server, func(), error) {
	wire.Build(
		ProvideLogger,
		wire.Bind(new(log.Log), new(*log.Logger)),
		ProvideRegistry,
		ProvideResources,
		ProvideStore,
		bus.New,
		service.New,
		ProvideStaticHandler,
		server.New,
	)
	return nil, nil, nil
}
