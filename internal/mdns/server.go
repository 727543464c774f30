// Package mdns announces the bridge on the local network via DNS-SD and
// lets clients find it again.
package mdns

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
)

const (
	ServiceType = "_btbridge._tcp"
	Domain      = "local."

	// WebSocketPath is advertised in the TXT "path" key.
	WebSocketPath = "/ws"
)

// Config holds the configuration for the mDNS advertiser
type Config struct {
	Instance  string
	Port      int
	Channel   string
	Version   string
	Interface *net.Interface
	Logger    *logger.Logger
}

type registration interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Server advertises one bridge instance.
type Server struct {
	config   Config
	logger   *logger.Logger
	register registerFunc

	mu     sync.Mutex
	active registration
}

// NewServer creates a new mDNS advertiser
func NewServer(config Config) (*Server, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", config.Port)
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	return &Server{
		config:   config,
		logger:   config.Logger.WithName("mdns"),
		register: zeroconfRegister,
	}, nil
}

// TXTRecords returns the TXT strings advertised for a bridge.
func TXTRecords(channel, version string) []string {
	return []string{
		"channel=" + channel,
		"version=" + version,
		"path=" + WebSocketPath,
	}
}

// Start registers the service. Starting twice is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil
	}

	var ifaces []net.Interface
	if s.config.Interface != nil {
		ifaces = []net.Interface{*s.config.Interface}
	}

	reg, err := s.register(s.config.Instance, ServiceType, Domain, s.config.Port,
		TXTRecords(s.config.Channel, s.config.Version), ifaces)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	s.active = reg

	s.logger.Info("mDNS advertising",
		logger.String("instance", s.config.Instance),
		logger.String("service", ServiceType),
		logger.Int("port", s.config.Port),
		logger.String("interface", s.interfaceName()),
	)
	return nil
}

// Shutdown withdraws the advertisement.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil
	}
	s.active.Shutdown()
	s.active = nil

	s.logger.Info("mDNS advertisement withdrawn")
	return nil
}

func (s *Server) interfaceName() string {
	if s.config.Interface == nil {
		return "all"
	}
	return s.config.Interface.Name
}
