// Package di provides dependency injection configuration for the
// lyricsd daemon.
package di

import (
	"github.com/samber/do/v2"

	"github.com/lyricsd/lyricsd/internal/di/providers"
)

// NewContainer creates and configures the DI container with all
// providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Synchronization engine
	do.Provide(injector, providers.ProvideSession)

	// Inputs
	do.Provide(injector, providers.ProvidePlayerMonitor)
	do.Provide(injector, providers.ProvideWatcher)

	// Event loop
	do.Provide(injector, providers.ProvideService)

	// Surfaces
	do.Provide(injector, providers.ProvideDBusServer)
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideMDNS)

	// Runner
	do.Provide(injector, providers.ProvideDaemon)

	return injector
}

// Bootstrap initializes the daemon. Invoking the daemon handle pulls in
// every other service transitively.
func Bootstrap(injector *do.RootScope) error {
	_, err := do.Invoke[*providers.DaemonHandle](injector)
	return err
}
