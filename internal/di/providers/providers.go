// Package providers contains dependency injection providers for the
// lyricsd daemon.
package providers

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/samber/do/v2"

	"github.com/lyricsd/lyricsd/internal/api"
	"github.com/lyricsd/lyricsd/internal/config"
	"github.com/lyricsd/lyricsd/internal/logger"
	"github.com/lyricsd/lyricsd/internal/mdns"
	"github.com/lyricsd/lyricsd/internal/player"
	"github.com/lyricsd/lyricsd/internal/server"
	"github.com/lyricsd/lyricsd/internal/service"
	"github.com/lyricsd/lyricsd/internal/syncer"
	"github.com/lyricsd/lyricsd/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

// ProvideConfig provides the daemon configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})

	log.Info("starting lyricsd",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"player", cfg.Player.Name,
	)
	return log, nil
}

// ProvideSession provides the synchronization session.
func ProvideSession(i do.Injector) (*syncer.Session, error) {
	return syncer.NewSession(), nil
}

// PlayerMonitorHandle wraps the player monitor with shutdown capability.
type PlayerMonitorHandle struct {
	*player.Monitor
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *PlayerMonitorHandle) Shutdown() error {
	h.cancel()
	return h.Monitor.Close()
}

// ProvidePlayerMonitor provides the MPRIS player monitor, already
// listening for bus signals.
func ProvidePlayerMonitor(i do.Injector) (*PlayerMonitorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	m, err := player.NewMonitor(cfg.Player.Name, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := m.Start(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("player monitor stopped")
		}
	}()

	return &PlayerMonitorHandle{Monitor: m, cancel: cancel}, nil
}

// WatcherHandle wraps the lyrics file watcher with shutdown capability.
type WatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *WatcherHandle) Shutdown() error {
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideWatcher provides the lyrics file watcher.
func ProvideWatcher(i do.Injector) (*WatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	w, err := watcher.New(log, cfg.Lyrics.SettleDelay)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("lyrics watcher stopped")
		}
	}()

	return &WatcherHandle{Watcher: w, cancel: cancel}, nil
}

// ProvideService provides the daemon's event loop service. Broadcasters
// subscribe during their own construction; Run starts in ProvideDaemon
// once everything is wired.
func ProvideService(i do.Injector) (*service.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	session := do.MustInvoke[*syncer.Session](i)
	players := do.MustInvoke[*PlayerMonitorHandle](i)
	files := do.MustInvoke[*WatcherHandle](i)

	return service.New(log, cfg, session, players.Monitor, files.Watcher), nil
}

// DBusServerHandle wraps the DBus server with shutdown capability.
type DBusServerHandle struct {
	*server.Server
}

// Shutdown implements do.Shutdownable.
func (h *DBusServerHandle) Shutdown() error {
	return h.Server.Close()
}

// ProvideDBusServer provides the DBus surface, exported and named.
func ProvideDBusServer(i do.Injector) (*DBusServerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	session := do.MustInvoke[*syncer.Session](i)
	svc := do.MustInvoke[*service.Service](i)

	srv, err := server.New(log, session)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		srv.Close()
		return nil, err
	}
	svc.Subscribe(srv)

	return &DBusServerHandle{Server: srv}, nil
}

// HTTPServerHandle wraps the optional HTTP server with shutdown
// capability. The server is nil when no listen address is configured.
type HTTPServerHandle struct {
	server *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP API when enabled.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.HTTP.Enabled() {
		log.Debug("http api disabled")
		return &HTTPServerHandle{}, nil
	}

	session := do.MustInvoke[*syncer.Session](i)
	svc := do.MustInvoke[*service.Service](i)

	srv := api.NewServer(log, cfg.HTTP, session, svc)
	errCh := srv.Start()
	go func() {
		if err, ok := <-errCh; ok {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	return &HTTPServerHandle{server: srv}, nil
}

// MDNSHandle wraps the mDNS advertisement with shutdown capability.
type MDNSHandle struct {
	service *mdns.Service
}

// Shutdown implements do.Shutdownable.
func (h *MDNSHandle) Shutdown() error {
	if h.service == nil {
		return nil
	}
	return h.service.Stop()
}

// ProvideMDNS advertises the HTTP API via mDNS when it is enabled.
// Advertisement failures are logged, not fatal: multicast is often
// unavailable in containers.
func ProvideMDNS(i do.Injector) (*MDNSHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	httpHandle := do.MustInvoke[*HTTPServerHandle](i)
	if httpHandle.server == nil {
		return &MDNSHandle{}, nil
	}

	_, portStr, err := net.SplitHostPort(cfg.HTTP.Addr)
	if err != nil {
		log.WithError(err).Warn("cannot advertise http api, unparseable addr", "addr", cfg.HTTP.Addr)
		return &MDNSHandle{}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		log.Warn("cannot advertise http api without a fixed port", "addr", cfg.HTTP.Addr)
		return &MDNSHandle{}, nil
	}

	svc := mdns.NewService(log)
	if err := svc.Start(httpHandle.server.InstanceID(), port); err != nil {
		log.WithError(err).Warn("mdns advertisement failed")
		return &MDNSHandle{}, nil
	}
	return &MDNSHandle{service: svc}, nil
}

// DaemonHandle runs the service event loop and stops it on shutdown.
type DaemonHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *DaemonHandle) Shutdown() error {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(shutdownTimeout):
	}
	return nil
}

// ProvideDaemon starts the event loop once all surfaces are wired.
func ProvideDaemon(i do.Injector) (*DaemonHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	svc := do.MustInvoke[*service.Service](i)

	// Surfaces must exist before the loop starts broadcasting.
	_ = do.MustInvoke[*DBusServerHandle](i)
	_ = do.MustInvoke[*HTTPServerHandle](i)
	_ = do.MustInvoke[*MDNSHandle](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("event loop stopped")
		}
	}()

	return &DaemonHandle{cancel: cancel, done: done}, nil
}
