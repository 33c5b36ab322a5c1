// Package mdns provides mDNS/Zeroconf advertisement of the daemon's
// HTTP API so local clients can discover it without configuration.
package mdns

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/mdns"

	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
)

const (
	// ServiceType is the mDNS service type for lyricsd instances.
	ServiceType = "_lyricsd._tcp"

	// APIVersion is the HTTP API version advertised in TXT records.
	APIVersion = "v1"
)

// Service manages mDNS advertisement for the daemon.
type Service struct {
	server *mdns.Server
	logger *logger.Logger
	mu     sync.Mutex
}

// NewService creates a new mDNS service.
func NewService(log *logger.Logger) *Service {
	return &Service{logger: log}
}

// Start begins advertising the HTTP API. It should be called after the
// HTTP server is listening. Failures are typically non-fatal, multicast
// is often unavailable in containers.
func (s *Service) Start(instanceID string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = "lyricsd"
	}

	txtRecords := []string{
		fmt.Sprintf("id=%s", instanceID),
		fmt.Sprintf("api=%s", APIVersion),
	}

	service, err := mdns.NewMDNSService(
		host,        // Instance name (hostname)
		ServiceType, // Service type
		"",          // Domain (empty = .local)
		"",          // Host (empty = use system hostname)
		port,
		nil, // IPs (nil = all interfaces)
		txtRecords,
	)
	if err != nil {
		return errors.Internal("creating mDNS service failed").WithCause(err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return errors.Unavailable("starting mDNS server failed").WithCause(err)
	}

	s.server = server
	s.logger.Info("advertising via mDNS", "type", ServiceType, "port", port)
	return nil
}

// Stop ends mDNS advertisement.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown()
	s.server = nil
	return err
}
