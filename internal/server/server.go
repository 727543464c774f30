package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/codefionn/go-bluetooth-bridge/internal/bluetooth"
	"github.com/codefionn/go-bluetooth-bridge/internal/bridge"
	"github.com/codefionn/go-bluetooth-bridge/internal/config"
	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
	"github.com/codefionn/go-bluetooth-bridge/internal/mdns"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
	"github.com/codefionn/go-bluetooth-bridge/internal/websocket"
)

// Version is the bridge protocol version reported to clients.
var Version = "1.0.0"

const maxInvokeBody = 64 * 1024

// Platform is the Bluetooth stack as the server sees it. The bridge only
// needs bluetooth.Platform; the rest feeds /health and /api/info.
type Platform interface {
	bluetooth.Platform
	IsAvailable(ctx context.Context) bool
	PlatformVersion() string
}

// Server represents the bridge server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	platform  Platform
	bridge    *bridge.Handler
	wsHandler *websocket.Handler

	// Event system
	eventCallbacks []eventSubscription
	eventMu        sync.RWMutex

	// HTTP server
	httpServer *http.Server
	listeners  []net.Listener

	// mDNS advertiser
	mdnsServer *mdns.Server

	info models.BridgeInfoMessage
}

// eventSubscription tracks a callback with an ID for safe unsubscribe
type eventSubscription struct {
	id string
	cb models.EventCallback
}

// New creates a new bridge server instance
func New(cfg *config.Config, log *logger.Logger, platform Platform) (*Server, error) {
	if platform == nil {
		return nil, fmt.Errorf("platform is required")
	}

	s := &Server{
		config:   cfg,
		logger:   log,
		platform: platform,
		info: models.BridgeInfoMessage{
			Channel:         cfg.Bridge.Channel,
			Version:         Version,
			Methods:         models.SupportedMethods,
			PlatformVersion: platform.PlatformVersion(),
			PermissionGated: platform.RequiresConnectPermission(),
		},
	}

	s.bridge = bridge.New(platform, bridge.Options{
		ReportRenameResult: cfg.Bluetooth.ReportRenameResult,
		OnNameSet: func(adapter, name string) {
			s.EmitEvent(models.EventTypeBluetoothNameSet, models.NameSetEvent{Adapter: adapter, Name: name})
		},
		Logger: log,
	})

	s.wsHandler = websocket.NewHandler(s, log.WithName("ws"))

	return s, nil
}

// Listen binds the configured addresses. Run calls it when the caller
// has not done so already.
func (s *Server) Listen() error {
	if len(s.listeners) > 0 {
		return nil
	}

	hosts := s.config.Server.ListenAddresses
	if len(hosts) == 0 {
		hosts = []string{""}
	}

	for _, host := range hosts {
		addr := net.JoinHostPort(host, strconv.Itoa(s.config.Server.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
	}
	return nil
}

// Addrs returns the bound addresses, valid after Listen.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting Bluetooth bridge",
		logger.String("channel", s.config.Bridge.Channel),
		logger.Int("port", s.config.Server.Port),
		logger.String("listen", strings.Join(s.config.Server.ListenAddresses, ", ")),
		logger.String("platform_version", s.info.PlatformVersion),
		logger.Bool("permission_gated", s.info.PermissionGated),
	)

	if err := s.Listen(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.config.MDNS.Enabled {
		s.startMDNS()
	}

	serverErr := make(chan error, len(s.listeners))
	for _, ln := range s.listeners {
		go func(ln net.Listener) {
			s.logger.Info("HTTP server listening", logger.String("addr", ln.Addr().String()))
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}(ln)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		return s.shutdown()
	case err := <-serverErr:
		s.shutdown()
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) startMDNS() {
	port := s.config.Server.Port
	if tcp, ok := s.listeners[0].Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	mdnsServer, err := mdns.NewServer(mdns.Config{
		Instance: s.config.MDNS.Instance,
		Port:     port,
		Channel:  s.config.Bridge.Channel,
		Version:  Version,
		Logger:   s.logger,
	})
	if err != nil {
		s.logger.Warn("Failed to create mDNS advertiser", logger.ErrorField(err))
		return
	}
	if err := mdnsServer.Start(); err != nil {
		s.logger.Warn("Failed to start mDNS advertiser", logger.ErrorField(err))
		return
	}
	s.mdnsServer = mdnsServer
}

// HandleCall runs one bridge call. It is what the WebSocket transport and
// the HTTP invoke endpoint both end up in.
func (s *Server) HandleCall(ctx context.Context, call models.MethodCall) models.Result {
	return s.bridge.Handle(ctx, call)
}

// Subscribe adds an event callback
func (s *Server) Subscribe(callback models.EventCallback) func() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	id := models.GenerateMessageID()
	s.eventCallbacks = append(s.eventCallbacks, eventSubscription{id: id, cb: callback})

	// Return unsubscribe function (removes by ID)
	return func() {
		s.eventMu.Lock()
		defer s.eventMu.Unlock()

		for i := range s.eventCallbacks {
			if s.eventCallbacks[i].id == id {
				s.eventCallbacks = append(s.eventCallbacks[:i], s.eventCallbacks[i+1:]...)
				break
			}
		}
	}
}

// BridgeInfo returns what every client receives on connect
func (s *Server) BridgeInfo() models.BridgeInfoMessage {
	return s.info
}

// EmitEvent sends an event to all subscribers. Callbacks only enqueue,
// so they run inline and keep their order.
func (s *Server) EmitEvent(eventType models.EventType, data interface{}) {
	s.eventMu.RLock()
	callbacks := make([]eventSubscription, len(s.eventCallbacks))
	copy(callbacks, s.eventCallbacks)
	s.eventMu.RUnlock()

	for _, sub := range callbacks {
		sub.cb(eventType, data)
	}
}

// HTTP handlers

func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc(mdns.WebSocketPath, s.wsHandler.HandleWebSocket)

	// HTTP API endpoints. A mux subrouter answers 404 on a method
	// mismatch, so these live on the root router.
	router.HandleFunc("/api/info", s.handleInfoHTTP).Methods("GET")
	router.HandleFunc("/api/channels/{channel:.+}/invoke", s.handleInvokeHTTP).Methods("POST", "OPTIONS")

	// Health check
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	return router
}

func (s *Server) handleInfoHTTP(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleInvokeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if channel != s.config.Bridge.Channel {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown channel: %s", channel))
		return
	}

	var call models.MethodCall
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvokeBody))
	if err := decoder.Decode(&call); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid call body")
		return
	}

	result := s.HandleCall(r.Context(), call)
	if result.NotImplemented {
		s.writeJSON(w, http.StatusNotImplemented, models.InvokeNotImplemented{NotImplemented: true})
		return
	}
	s.writeJSON(w, http.StatusOK, models.InvokeResponse{Result: result.Value})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	available := s.platform.IsAvailable(r.Context())

	status := "ok"
	if !available {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":            status,
		"timestamp":         time.Now().UTC(),
		"connections":       s.wsHandler.GetConnectionCount(),
		"adapter_available": available,
	}

	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Clients hear about the shutdown before their connections close.
	s.EmitEvent(models.EventTypeServerShutdown, nil)
	s.wsHandler.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server", logger.ErrorField(err))
		}
	}

	if s.mdnsServer != nil {
		if err := s.mdnsServer.Shutdown(); err != nil {
			s.logger.Error("Failed to shutdown mDNS advertiser", logger.ErrorField(err))
		}
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		s.logger.Info("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("duration", duration),
			logger.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", logger.ErrorField(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"code":      code,
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, code, errorResponse)
	s.logger.Warn("HTTP error response",
		logger.Int("status", code),
		logger.String("message", message),
	)
}
