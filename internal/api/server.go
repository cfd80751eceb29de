// Package api provides the HTTP REST API and WebSocket server for LumiSync Core.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/lumisync-core/internal/control"
	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/config"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/logging"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceEvents is the registry's event feed.
type DeviceEvents interface {
	Subscribe(fn func(device.Event)) (unsubscribe func())
}

// SessionEvents is the session manager's event feed.
type SessionEvents interface {
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Control *control.Service
	// Devices and Sessions are optional; without them the event stream
	// stays silent.
	Devices  DeviceEvents
	Sessions SessionEvents
	Version  string
}

// Server is the HTTP API server for LumiSync Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	control  *control.Service
	devices  DeviceEvents
	sessions SessionEvents
	version  string
	started  time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control service is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		control:  deps.Control,
		devices:  deps.Devices,
		sessions: deps.Sessions,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays registry and session events to it,
// and launches the HTTP listener in a background goroutine. Binding errors
// are returned synchronously. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.started = time.Now()

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// relayEvents forwards registry and session events to the hub.
func (s *Server) relayEvents() {
	if s.devices != nil {
		s.unsubscribe = append(s.unsubscribe, s.devices.Subscribe(func(ev device.Event) {
			s.hub.Publish("device."+string(ev.Type), ev.Device.ID, ev)
		}))
	}
	if s.sessions != nil {
		s.unsubscribe = append(s.unsubscribe, s.sessions.Subscribe(func(ev session.Event) {
			s.hub.Publish("session."+string(ev.Type), ev.Session.DeviceID, ev)
		}))
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
