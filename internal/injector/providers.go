// Package injector assembles the server object graph from a single
// configuration. The wiring lives in injector.go and is materialized
// by google/wire into wire_gen.go; the providers here are the nodes.
package injector

import (
	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/component"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/service"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/uidl"
	"github.com/treesync/treesync/internal/server"
)

// ProvideLogger builds the root logger at the configured level.
func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.LogLevel))
}

// ProvideRegistry builds the component registry, preloading the
// configured catalog file when one is named. Applications extend the
// registry after construction.
func ProvideRegistry(cfg *config.Config, logger *log.Logger) (*component.Registry, error) {
	registry := component.NewRegistry(logger)
	if cfg.CatalogPath == "" {
		return registry, nil
	}
	n, err := component.LoadCatalogFile(cfg.CatalogPath, registry)
	if err != nil {
		return nil, err
	}
	logger.Info("component catalog loaded",
		log.String("path", cfg.CatalogPath),
		log.Int("types", n))
	return registry, nil
}

// ProvideResources resolves inline dependency contents from the static
// directory when one is configured, falling back to an in-memory table
// that applications fill at startup.
func ProvideResources(cfg *config.Config) uidl.ResourceProvider {
	if cfg.StaticDir != "" {
		return service.NewDirResources(cfg.StaticDir)
	}
	return service.NewMemoryResources()
}

// ProvideStore opens the session checkpoint database when a path is
// configured. Without one, sessions live and die with the process.
func ProvideStore(cfg *config.Config, logger *log.Logger) (*session.Store, func(), error) {
	if cfg.StorePath == "" {
		return nil, func() {}, nil
	}
	store, err := session.OpenStore(cfg.StorePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideStaticHandler mounts the default file server for
// url-addressed dependencies.
func ProvideStaticHandler() server.StaticHandlerFactory {
	return server.DefaultStaticHandler
}
